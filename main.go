package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/salesboard/salesboard/config"
	"github.com/salesboard/salesboard/dispatch"
	"github.com/salesboard/salesboard/models"
	"github.com/salesboard/salesboard/postgres"
	"github.com/salesboard/salesboard/redis"
	"github.com/salesboard/salesboard/redis/tasks"
	"github.com/salesboard/salesboard/removal"
	"github.com/salesboard/salesboard/sqlite"
	"github.com/salesboard/salesboard/view"
	"github.com/salesboard/salesboard/web"
)

func main() {
	_ = godotenv.Load() // Load .env file if present

	cfg := config.ParseConfig()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan

		cancel()
	}()

	if err := run(ctx, cfg); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	os.Exit(0)
}

func run(ctx context.Context, cfg *config.Config) error {
	log, err := newLogger(cfg.Debug)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	store, source, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	tokens, err := config.LoadTokens(cfg.TokensFile)
	if err != nil {
		return err
	}

	d := dispatch.New(dispatch.Options{
		Debounce: cfg.Debounce,
		Logger:   log,
		OnDegraded: func(err error) {
			log.Warn("change feed degraded, updates may be stale", zap.Error(err))
		},
	})

	board := view.NewBoard(store, log)
	activity := view.NewActivityFeed(store, log)

	board.Attach(ctx, d)
	defer board.Close()

	activity.Attach(ctx, d)
	defer activity.Close()

	if err := board.Refresh(ctx); err != nil {
		return fmt.Errorf("initial board load: %w", err)
	}

	if err := activity.Refresh(ctx); err != nil {
		return fmt.Errorf("initial activity load: %w", err)
	}

	coordinator := removal.NewCoordinator(store, board.Refresh, activity.Refresh)

	srvCfg := web.Config{
		Addr:       cfg.Addr,
		Store:      store,
		Board:      board,
		Activity:   activity,
		Removal:    coordinator,
		Dispatcher: d,
		Auth:       web.StaticTokenAuthenticator(tokens),
		Logger:     log,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return d.Run(ctx, source)
	})

	if cfg.RedisAddr != "" {
		rfeed, err := redis.NewFeed(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return fmt.Errorf("redis feed: %w", err)
		}
		defer rfeed.Close()

		g.Go(func() error {
			return d.Run(ctx, rfeed)
		})

		srvCfg.Announce = func(ctx context.Context, topic dispatch.Topic) {
			if err := rfeed.Publish(ctx, topic); err != nil {
				log.Warn("change publish failed", zap.Error(err))
			}
		}

		client := redis.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer client.Close()

		srvCfg.Exporter = client

		if cfg.RunWorker {
			handler := tasks.NewExportHandler(store, cfg.DataFolder, log)

			g.Go(func() error {
				return redis.StartWorker(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, handler, log)
			})
		}
	}

	srv := web.New(srvCfg)

	g.Go(func() error {
		return srv.Start(ctx)
	})

	return g.Wait()
}

// openStore opens the configured backend and returns it together with
// its change feed.
func openStore(ctx context.Context, cfg *config.Config) (models.Store, dispatch.Source, func(), error) {
	switch cfg.Storage {
	case config.StoragePostgres:
		db, err := postgres.Open(ctx, cfg.Dsn)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open postgres: %w", err)
		}

		store, err := postgres.NewStore(db)
		if err != nil {
			_ = db.Close()
			return nil, nil, nil, fmt.Errorf("init postgres store: %w", err)
		}

		return store, postgres.NewListener(cfg.Dsn), func() { _ = db.Close() }, nil
	case config.StorageSQLite:
		store, err := sqlite.New(cfg.DatabasePath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open sqlite: %w", err)
		}

		return store, store.Feed(), func() { _ = store.Close() }, nil
	default:
		return nil, nil, nil, fmt.Errorf("%w: %s", config.ErrInvalidStorage, cfg.Storage)
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}

	return zap.NewProduction()
}
