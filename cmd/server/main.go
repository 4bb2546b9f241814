/*
main.go - Application entry point

PURPOSE:
  Starts the allocation engine HTTP server with its scheduler and outbox
  relay, and shuts them down in order on SIGINT/SIGTERM.

STARTUP SEQUENCE:
  1. Load configuration (defaults, -config file, .env, ALLOC_* env), apply flags
  2. Build the logger
  3. Wire store, notifications, publishers, relay and engine (app.Build)
  4. Start the outbox relay and the scheduler
  5. Serve HTTP

COMMAND-LINE FLAGS:
  -config  Optional YAML config file
  -port    HTTP server port (overrides server.port)
  -db      SQLite database path, or "memory" (overrides database.path)

GRACEFUL SHUTDOWN:
  1. Stop accepting new connections, drain requests (30s timeout)
  2. Stop the scheduler, waiting for a running sweep
  3. Stop the relay and flush once more
  4. Wait for queued notifications, close the database

EXAMPLES:
  ./server -db=./data/allocation.db
  ./server -db=memory -port=3000
  ALLOC_EVENTS_DRIVERS=log,redis ./server

SEE ALSO:
  - app/app.go: Wiring
  - api/server.go: Router configuration
  - config/config.go: Configuration keys
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/allocation-engine/api"
	"github.com/warp/allocation-engine/app"
	"github.com/warp/allocation-engine/config"
	"github.com/warp/allocation-engine/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	// Flags
	configPath := flag.String("config", "", "YAML config file")
	port := flag.Int("port", 0, "HTTP server port")
	dbPath := flag.String("db", "", `SQLite database path, or "memory"`)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	// Relay: wakes after every commit; the scheduler owns periodic retries
	// unless it is disabled.
	relayCtx, stopRelay := context.WithCancel(context.Background())
	relayDone := make(chan struct{})
	relayInterval := time.Duration(0)
	if !cfg.Scheduler.Enabled {
		relayInterval = cfg.Scheduler.OutboxInterval
	}
	go func() {
		defer close(relayDone)
		a.Relay.Run(relayCtx, relayInterval)
	}()

	var scheduler *api.Scheduler
	if cfg.Scheduler.Enabled {
		scheduler, err = api.NewScheduler(a.Engine, a.Relay, cfg.Scheduler, logger)
		if err != nil {
			stopRelay()
			return err
		}
		scheduler.Start()
	}

	handler := api.NewHandler(a.Engine, logger)
	handler.Outbox = a.Relay
	handler.Scenarios = api.NewScenarioLoader(a.Engine, a.Store)

	router := api.NewRouter(handler, api.RouterOptions{
		Auth:        api.TokenAuth{Secret: []byte(cfg.Auth.JWTSecret)},
		CORSOrigins: cfg.Server.CORSOrigins,
		Logger:      logger,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			logger.Error("server failed", zap.Error(err))
		}
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	if scheduler != nil {
		if err := scheduler.Stop(); err != nil {
			logger.Warn("scheduler shutdown", zap.Error(err))
		}
	}

	stopRelay()
	<-relayDone
	if _, err := a.Relay.Flush(shutdownCtx); err != nil {
		logger.Warn("final outbox flush failed", zap.Error(err))
	}

	logger.Info("server stopped")
	return nil
}
