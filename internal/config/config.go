// Package config loads engine configuration from the environment, with
// an optional .env file for local development.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the full engine configuration.
type Config struct {
	App        AppConfig        `envPrefix:"APP_"`
	Indexer    IndexerConfig    `envPrefix:"INDEXER_"`
	Feed       FeedConfig       `envPrefix:"FEED_"`
	Chain      ChainConfig      `envPrefix:"CHAIN_"`
	Window     WindowConfig     `envPrefix:"WINDOW_"`
	Postgres   PostgresConfig   `envPrefix:"POSTGRES_"`
	Clickhouse ClickhouseConfig `envPrefix:"CLICKHOUSE_"`
}

// AppConfig is the process-level configuration.
type AppConfig struct {
	Name       string   `env:"NAME" envDefault:"market-state-engine"`
	ListenAddr string   `env:"LISTEN_ADDR" envDefault:":8080"`
	UseMemory  bool     `env:"USE_MEMORY" envDefault:"false"`
	Pools      []string `env:"POOLS" envSeparator:","`
}

// IndexerConfig configures the pull transport.
type IndexerConfig struct {
	Endpoint     string        `env:"ENDPOINT"`
	PullInterval time.Duration `env:"PULL_INTERVAL" envDefault:"15s"`
	PullTimeout  time.Duration `env:"PULL_TIMEOUT" envDefault:"15s"`
	PageSize     int           `env:"PAGE_SIZE" envDefault:"500"`
}

// FeedConfig configures the push transport.
type FeedConfig struct {
	Endpoint string `env:"ENDPOINT"`
}

// ChainConfig configures chain identity and the optional on-chain
// cross-check.
type ChainConfig struct {
	ID          int64  `env:"ID" envDefault:"1"`
	RPCEndpoint string `env:"RPC_ENDPOINT"`
}

// WindowConfig configures the ordering window and trade tape.
type WindowConfig struct {
	Horizon    uint64        `env:"HORIZON" envDefault:"64"`
	GapWait    time.Duration `env:"GAP_WAIT" envDefault:"2s"`
	MaxPending int           `env:"MAX_PENDING" envDefault:"1024"`
	TapeWindow time.Duration `env:"TAPE_WINDOW" envDefault:"24h"`
}

// PostgresConfig configures the reference and archive store.
type PostgresConfig struct {
	DSN string `env:"DSN"`
}

// ClickhouseConfig configures the snapshot history store.
type ClickhouseConfig struct {
	DSN           string        `env:"DSN"`
	FlushInterval time.Duration `env:"FLUSH_INTERVAL" envDefault:"5s"`
}

// Load reads configuration from the environment. A .env file in the
// working directory is applied first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
