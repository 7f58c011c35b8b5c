/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the leave ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and parse flags
  2. Open the ledger store (sqlite, postgres or memory)
  3. Connect the Kafka event publisher when brokers are configured
  4. Create the leave service, API handler and router
  5. Start server with graceful shutdown

CONFIGURATION:
  See config.go. Every flag has an environment variable fallback:
  -port PORT, -store STORE, -db SQLITE_PATH, -database-url DATABASE_URL,
  -auth AUTH_MODE, -jwt-secret JWT_SECRET, -kafka-brokers KAFKA_BROKERS,
  -kafka-topic KAFKA_TOPIC, -write-retries WRITE_RETRIES,
  -cors-origins CORS_ORIGINS, -demo DEMO_USERS.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close the Kafka writer and the database
  4. Exit

EXAMPLES:
  # Local development, in-memory, identity from X-User-ID
  ./server -store=memory -auth=header -demo

  # PostgreSQL with events
  DATABASE_URL=postgres://localhost/leave JWT_SECRET=... \
    ./server -store=postgres -kafka-brokers=localhost:9092

SEE ALSO:
  - api/server.go: Router configuration
  - leave/service.go: Leave operations
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/leave-ledger/api"
	"github.com/warp/leave-ledger/events/kafka"
	"github.com/warp/leave-ledger/leave"
	"github.com/warp/leave-ledger/ledger"
	"github.com/warp/leave-ledger/ledger/store"
	"github.com/warp/leave-ledger/store/postgres"
	"github.com/warp/leave-ledger/store/sqlite"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := loadDotEnv(".env"); err != nil {
		logger.Error("Failed to load environment", "error", err)
		os.Exit(1)
	}

	cfg, err := loadConfig(os.Args[1:], os.Getenv, os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(2)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx := context.Background()

	// Initialize store
	ledgerStore, users, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	logger.Info("Ledger store ready", "store", cfg.Store)

	if cfg.Demo {
		if err := seedDemoUsers(ctx, users); err != nil {
			return fmt.Errorf("failed to seed demo users: %w", err)
		}
		logger.Info("Demo users seeded", "users", len(demoUsers))
	}

	opts := []leave.Option{
		leave.WithLogger(logger),
		leave.WithWriteAttempts(cfg.WriteRetries),
	}
	if len(cfg.KafkaBrokers) > 0 {
		publisher := kafka.NewPublisher(cfg.KafkaBrokers)
		defer publisher.Close()
		opts = append(opts, leave.WithPublisher(publisher, cfg.KafkaTopic))
		logger.Info("Publishing ledger events", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}
	svc := leave.NewService(ledgerStore, users, opts...)

	var auth api.Authenticator = api.NewJWTAuthenticator(cfg.JWTSecret)
	if cfg.AuthMode == AuthHeader {
		logger.Warn("Header authentication enabled; trust X-User-ID only behind a trusted proxy")
		auth = api.HeaderAuthenticator{}
	}

	handler := api.NewHandler(svc, logger)
	router := api.NewRouter(handler, auth, cfg.CORSOrigins)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("Server stopped")
	return nil
}

// openStore returns the ledger store and user directory selected by cfg.
func openStore(ctx context.Context, cfg Config) (ledger.Store, ledger.UserStore, func(), error) {
	switch cfg.Store {
	case StoreMemory:
		mem := store.NewMemory()
		return mem, mem, func() {}, nil
	case StorePostgres:
		pg, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to initialize postgres: %w", err)
		}
		return pg, pg, closer(pg), nil
	default:
		db, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		return db, db, closer(db), nil
	}
}

func closer(c io.Closer) func() {
	return func() {
		if err := c.Close(); err != nil {
			slog.Error("Failed to close store", "error", err)
		}
	}
}
