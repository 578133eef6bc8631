package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"ghscope/internal/application/normalize"
	"ghscope/internal/application/report"
	syncapp "ghscope/internal/application/sync"
	"ghscope/internal/cli"
	"ghscope/internal/infrastructure/config"
	"ghscope/internal/infrastructure/githubcli"
	"ghscope/internal/infrastructure/logger"
	"ghscope/internal/infrastructure/persistence/sqlite"
)

func main() {
	cfg := config.MustLoad()

	env := cfg.Env
	for _, arg := range os.Args[1:] {
		if arg == "-v" || arg == "--verbose" {
			env = "dev"
		}
	}
	log := logger.New(env)

	store, err := sqlite.Open(cfg.CachePath(), cfg.Cache.StaleAfter, log)
	if err != nil {
		log.Error("Failed to open cache", "path", cfg.CachePath(), "err", err)
		os.Exit(1)
	}
	defer store.Close()

	fetcher := githubcli.New(cfg.Fetch, log)
	normalizer := normalize.New(store, log)
	syncService := syncapp.New(store, fetcher, normalizer, cfg.Fetch.PageSize, log)
	reportService := report.New(store, syncService, fetcher, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := cli.New(cli.Deps{
		Reports: reportService,
		Store:   store,
		Fetcher: fetcher,
		Log:     log,
	})
	root.SetContext(ctx)
	cli.Execute(root)
}
