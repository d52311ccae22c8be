// Package config parses the dashboard's runtime configuration from
// flags, with environment fallbacks for the values usually injected by
// the deployment.
package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	StoragePostgres = "postgres"
	StorageSQLite   = "sqlite"
)

var ErrInvalidStorage = errors.New("invalid storage backend")

type Config struct {
	Addr          string
	Storage       string
	Dsn           string
	DatabasePath  string
	DataFolder    string
	Debounce      time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TokensFile    string
	RunWorker     bool
	Debug         bool
}

func ParseConfig() *Config {
	cfg := Config{}

	flag.StringVar(&cfg.Addr, "addr", ":8080", "address to listen on")
	flag.StringVar(&cfg.Storage, "storage", StorageSQLite, "storage backend (postgres or sqlite)")
	flag.StringVar(&cfg.Dsn, "dsn", "", "postgres connection string [only valid with postgres storage]")
	flag.StringVar(&cfg.DatabasePath, "db-path", "salesboard.db", "sqlite database path [only valid with sqlite storage]")
	flag.StringVar(&cfg.DataFolder, "data-folder", "exports", "folder for background export snapshots")
	flag.DurationVar(&cfg.Debounce, "debounce", 100*time.Millisecond, "change notification debounce window")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", "", "redis address for the change feed and task queue [default: disabled]")
	flag.StringVar(&cfg.RedisPassword, "redis-password", "", "redis password")
	flag.IntVar(&cfg.RedisDB, "redis-db", 0, "redis database number")
	flag.StringVar(&cfg.TokensFile, "tokens", "tokens.json", "path to the token to user id mapping file")
	flag.BoolVar(&cfg.RunWorker, "worker", false, "also run the background task worker [requires redis-addr]")
	flag.BoolVar(&cfg.Debug, "debug", false, "enable debug logging")

	flag.Parse()

	if cfg.Dsn == "" {
		cfg.Dsn = os.Getenv("SALESBOARD_DSN")
	}

	if cfg.RedisAddr == "" {
		cfg.RedisAddr = os.Getenv("SALESBOARD_REDIS_ADDR")
	}

	if cfg.RedisPassword == "" {
		cfg.RedisPassword = os.Getenv("SALESBOARD_REDIS_PASSWORD")
	}

	if v := os.Getenv("SALESBOARD_REDIS_DB"); v != "" && cfg.RedisDB == 0 {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.RedisDB = db
		}
	}

	return &cfg
}

func (c *Config) Validate() error {
	switch c.Storage {
	case StoragePostgres:
		if c.Dsn == "" {
			return errors.New("postgres storage requires a dsn")
		}
	case StorageSQLite:
		if c.DatabasePath == "" {
			return errors.New("sqlite storage requires a database path")
		}
	default:
		return fmt.Errorf("%w: %s", ErrInvalidStorage, c.Storage)
	}

	if c.RunWorker && c.RedisAddr == "" {
		return errors.New("worker requires redis-addr")
	}

	return nil
}

// LoadTokens reads the token to user id map used by the static
// authenticator.
func LoadTokens(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tokens file: %w", err)
	}

	var tokens map[string]string

	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, fmt.Errorf("failed to parse tokens file: %w", err)
	}

	return tokens, nil
}
