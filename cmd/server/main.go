/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the leave engine HTTP server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, then flags)
  2. Initialize SQLite store
  3. Apply the seed document, if configured
  4. Build the event dispatcher (Kafka, or the log when no brokers are set)
  5. Create the HR service, API handler and router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides PORT)
  -db      SQLite database path (overrides DB_PATH)
           Use ":memory:" for in-memory database
  -seed    JSON seed document (overrides SEED_FILE)

ENVIRONMENT:
  PORT, DB_PATH, SEED_FILE, KAFKA_BROKERS, KAFKA_TOPIC, LOG_LEVEL,
  LOG_FORMAT, CORS_ORIGINS, SHUTDOWN_TIMEOUT. See config/config.go.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (SHUTDOWN_TIMEOUT)
  3. Flush the event publisher and close the database
  4. Exit

EXAMPLES:
  # Run with file database and a seed
  ./server -db="./data/leave.db" -seed="./seed.json"

  # Publish events to Kafka
  KAFKA_BROKERS=localhost:9092 ./server

SEE ALSO:
  - api/server.go: Router configuration
  - hr/service.go: HR Action Service
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/warp/leave-engine/api"
	"github.com/warp/leave-engine/config"
	"github.com/warp/leave-engine/dispatch"
	"github.com/warp/leave-engine/factory"
	"github.com/warp/leave-engine/hr"
	"github.com/warp/leave-engine/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Flags
	port := flag.String("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	seedFile := flag.String("seed", cfg.SeedFile, "JSON seed document")
	flag.Parse()
	cfg.Port, cfg.DBPath, cfg.SeedFile = *port, *dbPath, *seedFile

	logger := cfg.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	if cfg.SeedFile != "" {
		if err := applySeed(ctx, store, cfg.SeedFile); err != nil {
			return err
		}
		logger.Info("seed applied", "file", cfg.SeedFile)
	}

	registry, err := dispatch.NewRegistry(dispatch.DefaultTemplates())
	if err != nil {
		return fmt.Errorf("event templates: %w", err)
	}
	dispatcher, closeDispatcher := newDispatcher(cfg, registry, logger)
	defer func() {
		if err := closeDispatcher(); err != nil {
			logger.Error("close dispatcher", "error", err)
		}
	}()

	svc := hr.NewService(hr.Config{
		Store:      store,
		AuditLog:   store,
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	router := api.NewRouter(api.NewHandler(svc, logger), cfg.CORSOrigins)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", "addr", server.Addr, "db", cfg.DBPath, "kafka", cfg.KafkaEnabled())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("server stopped")
	return nil
}

func applySeed(ctx context.Context, store *sqlite.Store, path string) error {
	f := factory.NewSeedFactory()
	seed, err := f.LoadFile(path)
	if err != nil {
		return err
	}
	if err := f.Apply(ctx, store, seed, time.Now().UTC()); err != nil {
		return fmt.Errorf("apply seed: %w", err)
	}
	return nil
}

// newDispatcher returns the event dispatcher and the func that flushes it.
func newDispatcher(cfg *config.Config, registry *dispatch.Registry, logger *slog.Logger) (hr.Dispatcher, func() error) {
	if cfg.KafkaEnabled() {
		p := dispatch.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, registry, logger)
		return p, p.Close
	}
	return dispatch.NewLogDispatcher(registry, logger), func() error { return nil }
}
