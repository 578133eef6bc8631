package logger

import (
	"log/slog"
	"os"

	ports "ghscope/internal/domain/ports/output"
)

type slogLogger struct {
	l *slog.Logger
}

// New builds the process logger. Dev and test environments log debug to
// stderr; everything else logs info and above.
func New(env string) ports.Logger {
	level := slog.LevelInfo
	if env == "dev" || env == "test" {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return &slogLogger{l: slog.New(handler)}
}

func (s *slogLogger) Info(msg string, args ...any)  { s.l.Info(msg, args...) }
func (s *slogLogger) Debug(msg string, args ...any) { s.l.Debug(msg, args...) }
func (s *slogLogger) Warn(msg string, args ...any)  { s.l.Warn(msg, args...) }
func (s *slogLogger) Error(msg string, args ...any) { s.l.Error(msg, args...) }

func (s *slogLogger) With(args ...any) ports.Logger {
	return &slogLogger{l: s.l.With(args...)}
}
