/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the travel marketplace ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and load configuration
  2. Open the ledger store (memory, SQLite or PostgreSQL)
  3. Connect Redis when configured (route cache and change feed)
  4. Create the booking engine, scheduler and API handler
  5. Run HTTP server, scheduler and change feed until a signal arrives

COMMAND-LINE FLAGS:
  --config       YAML configuration file (optional)
  --addr         HTTP listen address, overrides HTTP_ADDR
  --store        Store driver: memory, sqlite or postgres
  --sqlite-path  SQLite database path, ":memory:" for a private database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (10s timeout)
  3. Stop the scheduler and change feed
  4. Close store and Redis connections

EXAMPLES:
  # Run with file database
  ./server --sqlite-path=./data/ledger.db

  # Run on PostgreSQL with Redis
  DATABASE_URL=postgres://... REDIS_ADDR=localhost:6379 ./server --store=postgres

ENVIRONMENT:
  See package config for every variable. A .env file is read if present.

SEE ALSO:
  - config/config.go: Configuration sources
  - api/server.go: Router configuration
  - api/scheduler.go: Confirmation scheduler
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/warp/travel-ledger/api"
	"github.com/warp/travel-ledger/booking"
	"github.com/warp/travel-ledger/cache"
	"github.com/warp/travel-ledger/config"
	"github.com/warp/travel-ledger/ledger"
	"github.com/warp/travel-ledger/ledger/store"
	"github.com/warp/travel-ledger/store/postgres"
	"github.com/warp/travel-ledger/store/sqlite"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flagSet := pflag.NewFlagSet("server", pflag.ContinueOnError)
	configPath := flagSet.String("config", "", "YAML configuration file")
	addr := flagSet.String("addr", "", "HTTP listen address")
	driver := flagSet.String("store", "", "store driver: memory, sqlite or postgres")
	sqlitePath := flagSet.String("sqlite-path", "", "SQLite database path")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if flagSet.Changed("addr") {
		cfg.HTTPAddr = *addr
	}
	if flagSet.Changed("store") {
		cfg.Store.Driver = *driver
	}
	if flagSet.Changed("sqlite-path") {
		cfg.Store.SQLitePath = *sqlitePath
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := cfg.Log.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	txStore, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore()
	logger.Info("ledger store opened", "driver", cfg.Store.Driver)

	opts := []booking.Option{
		booking.WithConfig(cfg.Booking),
		booking.WithLogger(logger),
	}

	var events *cache.OptionEvents
	if cfg.Redis.Addr != "" {
		rdb, err := cache.New(ctx, cache.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize redis: %w", err)
		}
		defer rdb.Close()

		events = cache.NewOptionEvents(rdb)
		opts = append(opts,
			booking.WithRouteCache(cache.NewRouteCache(rdb, cfg.Redis.RouteCacheTTL)),
			booking.WithChangePublisher(events))
		logger.Info("redis connected", "addr", cfg.Redis.Addr)
	}

	engine := booking.New(txStore, opts...)

	scheduler := api.NewConfirmationScheduler(engine, logger)
	scheduler.Interval = cfg.Scheduler.Interval
	scheduler.ConfirmDelay = cfg.Scheduler.ConfirmDelay
	scheduler.AutoConfirmWindow = cfg.Scheduler.AutoConfirmWindow

	handler := api.NewHandler(engine, scheduler, logger)
	admins := make([]booking.Identity, len(cfg.Admins))
	for i, a := range cfg.Admins {
		admins[i] = booking.Identity(a)
	}
	router := api.NewRouter(handler, api.RouterConfig{
		JWTSecret: []byte(cfg.JWTSecret),
		Admins:    admins,
	})

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	// HTTP server
	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	})

	// Confirmation scheduler
	g.Go(func() error {
		return scheduler.Run(gCtx)
	})

	// Change feed
	if events != nil {
		g.Go(func() error {
			err := events.Subscribe(gCtx, func(ctx context.Context, travelOptionID string) {
				logger.Debug("travel option changed", "travel_option", travelOptionID)
			})
			if err != nil && gCtx.Err() == nil {
				return fmt.Errorf("change feed: %w", err)
			}
			return nil
		})
	}

	// Graceful shutdown
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(ctx)
	})

	err = g.Wait()
	logger.Info("server stopped")
	return err
}

// openStore opens the configured ledger store and returns its closer.
func openStore(ctx context.Context, cfg config.StoreConfig) (ledger.TxStore, func(), error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return store.NewMemory(), func() {}, nil

	case config.DriverSQLite:
		s, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		return s, func() { closeQuietly(s) }, nil

	case config.DriverPostgres:
		pool, err := postgres.NewPool(ctx, postgres.Config{DSN: cfg.DatabaseURL})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize postgres: %w", err)
		}
		s, err := postgres.NewStore(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("failed to initialize postgres: %w", err)
		}
		return s, pool.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

func closeQuietly(c io.Closer) {
	if err := c.Close(); err != nil {
		slog.Warn("close failed", "error", err)
	}
}
