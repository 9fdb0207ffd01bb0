// Package cli provides common CLI initialization utilities.
// This package consolidates repeated initialization patterns across
// cmd/expensetracker, cmd/import-worker and cmd/trackerctl.
package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"expensetracker/internal/backend"
	"expensetracker/internal/config"
	"expensetracker/internal/core"
	"expensetracker/internal/gateway"
	"expensetracker/internal/log"
	"expensetracker/internal/services"
	"expensetracker/internal/storage"
)

// SetupLogger initializes structured logging at the configured level.
// Returns the configured logger and sets it as the default logger.
func SetupLogger(cfg *config.Config) *log.Logger {
	logCfg := log.DefaultConfig()
	if cfg != nil {
		logCfg.Level = cfg.SlogLevel()
	}
	logger := log.New(logCfg)
	log.SetDefault(logger)
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration and validates it.
// Returns the config or exits the process on validation failure.
func LoadAndValidateConfig() *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return cfg
}

// InitStore opens the configured storage backend.
func InitStore(ctx context.Context, logger *log.Logger, cfg *config.Config) (storage.Store, backend.CleanupFunc, error) {
	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	result, err := backend.NewFactory(logger.WithComponent(log.ComponentBackend).Logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		return nil, nil, err
	}
	return result.Store, result.Cleanup, nil
}

// NewGateway builds the aggregator client. Without credentials a disabled
// gateway is returned and bank operations fail with a configuration error.
func NewGateway(logger *log.Logger, cfg *config.Config) (services.BankGateway, error) {
	if !cfg.GatewayConfigured() {
		logger.Warn("Bank gateway not configured, bank operations are disabled")
		return services.DisabledGateway(nil), nil
	}

	httpClient := &http.Client{Timeout: cfg.GatewayTimeout}
	tokens, err := gateway.TokenSourceFor(cfg.GatewayBaseURL, gateway.Credentials{
		AccessToken: cfg.GatewayAccessToken,
		SecretID:    cfg.GatewaySecretID,
		SecretKey:   cfg.GatewaySecretKey,
	}, httpClient)
	if err != nil {
		return nil, err
	}

	client, err := gateway.New(gateway.Config{
		BaseURL:     cfg.GatewayBaseURL,
		TokenSource: tokens,
		Timeout:     cfg.GatewayTimeout,
		MaxRetries:  cfg.GatewayMaxRetries,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("Bank gateway initialized",
		"base_url", cfg.GatewayBaseURL,
		"max_retries", cfg.GatewayMaxRetries)
	return client, nil
}

// Catalog returns the category seed catalog, from CATEGORY_SEED_FILE when
// set.
func Catalog(cfg *config.Config) ([]core.Category, error) {
	if cfg.CategorySeedFile == "" {
		return services.DefaultCatalog(), nil
	}
	return services.LoadCatalog(cfg.CategorySeedFile)
}

// App bundles the services every entrypoint wires the same way.
type App struct {
	Store        storage.Store
	Gateway      services.BankGateway
	Links        *services.LinkManager
	Importer     *services.Importer
	Transactions *services.TransactionService
	Categories   *services.CategoryService

	cleanup backend.CleanupFunc
}

// NewApp opens storage, builds the gateway and services, and seeds the
// category catalog when the store is empty.
func NewApp(ctx context.Context, logger *log.Logger, cfg *config.Config) (*App, error) {
	catalog, err := Catalog(cfg)
	if err != nil {
		return nil, err
	}
	gw, err := NewGateway(logger, cfg)
	if err != nil {
		return nil, fmt.Errorf("init gateway: %w", err)
	}
	store, cleanup, err := InitStore(ctx, logger, cfg)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	app := &App{
		Store:        store,
		Gateway:      gw,
		Links:        services.NewLinkManager(store, gw, cfg.GatewayRedirectURL, logger),
		Importer:     services.NewImporter(store, gw, cfg.ImportAllAccounts, logger),
		Transactions: services.NewTransactionService(store),
		Categories:   services.NewCategoryService(store, catalog),
		cleanup:      cleanup,
	}
	if _, err := app.Categories.SeedIfEmpty(ctx); err != nil {
		_ = app.Close()
		return nil, err
	}
	return app, nil
}

// Close releases the storage backend.
func (a *App) Close() error {
	if a.cleanup == nil {
		return nil
	}
	return a.cleanup()
}

// GracefulShutdown sets up signal handling for graceful shutdown.
// Returns a context that will be cancelled on shutdown signals,
// and a channel that signals when shutdown is complete.
func GracefulShutdown(logger *log.Logger, timeout time.Duration, cleanup func(context.Context)) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()

		cancel()
		if cleanup != nil {
			cleanup(shutdownCtx)
		}

		if shutdownCtx.Err() != nil {
			logger.Warn("Shutdown timeout reached")
		} else {
			logger.Info("Shutdown complete")
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
