/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the stay engine HTTP server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, then STAY_* environment)
  2. Initialize SQLite store
  3. Connect Redis for the report cache (optional)
  4. Create API handler with dependencies
  5. Configure HTTP router
  6. Start overdue scheduler
  7. Start server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the overdue scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (STAY_SHUTDOWN_TIMEOUT)
  4. Close Redis and database connections
  5. Exit

EXAMPLES:
  # Run with file database
  STAY_DB_PATH=./data/stay.db ./server

  # Run with in-memory database and a report cache
  STAY_DB_PATH=":memory:" STAY_REDIS_ADDR=localhost:6379 ./server

SEE ALSO:
  - config/config.go: Every STAY_* variable
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/warp/stay-engine/api"
	"github.com/warp/stay-engine/config"
	"github.com/warp/stay-engine/report"
	"github.com/warp/stay-engine/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := config.NewLogger(cfg, os.Stderr)
	slog.SetDefault(logger)

	if cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	var cache *report.Cache
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer client.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := client.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis unreachable, reports will be built on every request", "addr", cfg.RedisAddr, "error", err)
		} else {
			logger.Info("report cache enabled", "addr", cfg.RedisAddr, "ttl", cfg.ReportTTL)
		}
		cancel()
		cache = report.NewCache(client, cfg.ReportTTL)
		cache.Logger = logger
	}

	reports := report.NewService(store, store, cache, logger)
	reports.FixedCostPerStay = cfg.FixedCostPerStay

	handler := api.NewHandler(store, reports, logger)
	handler.Ping = store.Ping

	router := api.NewRouter(handler, api.RouterOptions{
		Logger:         logger,
		AllowedOrigins: cfg.AllowedOrigins,
		AdminKeys:      cfg.AdminKeys,
		ViewerKeys:     cfg.ViewerKeys,
		RateLimit:      cfg.RateLimit,
		Production:     cfg.IsProduction(),
	})
	if len(cfg.AdminKeys) == 0 && len(cfg.ViewerKeys) == 0 {
		logger.Warn("no API keys configured, /api is open")
	}

	scheduler := api.NewOverdueScheduler(store, logger)
	scheduler.CheckInterval = cfg.OverdueCheckInterval
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", cfg.Addr, "env", cfg.Env, "db", cfg.DBPath)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
	}

	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
