package config

import (
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env   string
	Cache Cache
	Fetch Fetch
}

type Cache struct {
	Dir        string
	StaleAfter time.Duration
}

type Fetch struct {
	Bin        string
	PageSize   int
	MaxRetries int
	Timeout    time.Duration
}

// Load reads defaults, the optional ~/.ghscope/config.yaml, and
// GHSCOPE_-prefixed environment variables, in increasing precedence.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	defaultDir := filepath.Join(home, ".ghscope")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(defaultDir)
	viper.SetEnvPrefix("GHSCOPE")
	viper.AutomaticEnv()

	viper.SetDefault("env", "prod")
	viper.SetDefault("cache.dir", defaultDir)
	viper.SetDefault("cache.stale_after", time.Hour)
	viper.SetDefault("fetch.bin", "gh")
	viper.SetDefault("fetch.page_size", 50)
	viper.SetDefault("fetch.max_retries", 3)
	viper.SetDefault("fetch.timeout", 60*time.Second)

	if err := viper.ReadInConfig(); err != nil {
		// The config file is optional for a CLI; defaults apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	return &Config{
		Env: viper.GetString("env"),
		Cache: Cache{
			Dir:        viper.GetString("cache.dir"),
			StaleAfter: viper.GetDuration("cache.stale_after"),
		},
		Fetch: Fetch{
			Bin:        viper.GetString("fetch.bin"),
			PageSize:   viper.GetInt("fetch.page_size"),
			MaxRetries: viper.GetInt("fetch.max_retries"),
			Timeout:    viper.GetDuration("fetch.timeout"),
		},
	}, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Printf("Error loading config: %s", err)
		os.Exit(1)
	}
	return cfg
}

// CachePath is the fixed per-user cache location; intentionally one file
// per user rather than per repository.
func (c *Config) CachePath() string {
	return filepath.Join(c.Cache.Dir, "cache.db")
}
