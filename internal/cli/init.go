// Package cli provides common CLI initialization utilities shared by
// cmd/churnboard, cmd/churnboard-worker and cmd/churnreport.
package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"churnboard/internal/config"
	applog "churnboard/internal/log"
	"churnboard/internal/storage"
)

// SetupLogger initializes structured logging from LOG_LEVEL and LOG_FORMAT.
// Returns the configured logger and sets it as the default logger.
func SetupLogger() *slog.Logger {
	level, err := applog.ParseLevel(os.Getenv("LOG_LEVEL"))
	logger := applog.New(applog.Config{
		Level:     level,
		Format:    os.Getenv("LOG_FORMAT"),
		Component: applog.ComponentApp,
		Output:    os.Stdout,
	})
	applog.SetDefault(logger)
	if err != nil {
		logger.Warn("Falling back to info level", "error", err)
	}
	return logger.Logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration and validates it.
// Returns the config or exits the process on validation failure.
func LoadAndValidateConfig(logger *slog.Logger) *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

// InitUploadStore opens the upload directory, creating it when missing.
// Exits the process on failure.
func InitUploadStore(logger *slog.Logger, cfg *config.Config) *storage.UploadStore {
	store, err := storage.NewUploadStore(cfg.UploadDir, cfg.UploadExtensions)
	if err != nil {
		logger.Error("Failed to open upload directory", "error", err, "path", cfg.UploadDir)
		os.Exit(1)
	}
	return store
}

// InitCatalog opens the upload history database. Returns nil when the
// catalog is disabled, or exits the process on failure.
func InitCatalog(logger *slog.Logger, cfg *config.Config) *storage.Catalog {
	if !cfg.CatalogEnabled() {
		logger.Info("Upload history disabled", "reason", "CATALOG_DB_PATH is empty")
		return nil
	}
	catalog, err := storage.NewCatalog(cfg.CatalogDBPath)
	if err != nil {
		logger.Error("Failed to initialize catalog", "error", err, "path", cfg.CatalogDBPath)
		os.Exit(1)
	}
	return catalog
}

// GracefulShutdown sets up signal handling for graceful shutdown.
// Returns a context that will be cancelled on shutdown signals,
// and a channel that signals when shutdown is complete.
func GracefulShutdown(logger *slog.Logger, timeout time.Duration, cleanup func()) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		finished := make(chan struct{})
		go func() {
			if cleanup != nil {
				cleanup()
			}
			close(finished)
		}()

		cancel()

		select {
		case <-finished:
			logger.Info("Shutdown complete")
		case <-time.After(timeout):
			logger.Warn("Shutdown timeout reached")
		}
		close(done)
	}()

	return ctx, done
}

// WaitForShutdown blocks until the context is cancelled.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
