// Package cli provides the initialization shared by cmd/gastos and
// cmd/gastos-worker.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"gastos/internal/amqp"
	"gastos/internal/backend"
	"gastos/internal/backup"
	"gastos/internal/config"
	"gastos/internal/files"
	"gastos/internal/log"
	"gastos/internal/ports"
	"gastos/internal/services"
)

// SetupLogger builds the process logger at the given level and installs it
// as the slog default.
func SetupLogger(level string) *log.Logger {
	cfg := log.DefaultConfig()
	cfg.Level = log.ParseLevel(level)
	logger := log.New(cfg)
	log.SetDefault(logger)
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration and validates it.
func LoadAndValidateConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context, logger *log.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// App holds the wired services of one process.
type App struct {
	Config   *config.Config
	Logger   *log.Logger
	Store    ports.RecordStore
	Files    ports.FileAccess
	Expenses *services.ExpenseService
	Backups  *services.BackupService
	// Ping is nil when the store has no connection to probe.
	Ping func(ctx context.Context) error

	closers []func() error
}

// Bootstrap opens the configured record store and, when AMQP_URL is set, an
// event publisher. A broker that cannot be reached only disables events.
func Bootstrap(ctx context.Context, cfg *config.Config, logger *log.Logger) (*App, error) {
	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	res, err := backend.NewFactory(logger.WithComponent(log.ComponentBackend).Logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		return nil, err
	}

	var publisher services.EventPublisher
	var client *amqp.Client
	if cfg.AMQPURL != "" {
		client, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Warn("AMQP unavailable, backup events disabled", log.FieldError, err.Error())
		} else {
			publisher = client
		}
	}

	app, err := NewApp(cfg, logger, res, publisher)
	if err != nil {
		if res.Cleanup != nil {
			_ = res.Cleanup()
		}
		if client != nil {
			_ = client.Close()
		}
		return nil, err
	}
	if client != nil {
		app.closers = append([]func() error{client.Close}, app.closers...)
	}
	return app, nil
}

// NewApp wires the services over an already opened store. publisher may be nil.
func NewApp(cfg *config.Config, logger *log.Logger, res *backend.BackendResult, publisher services.EventPublisher) (*App, error) {
	if logger == nil {
		logger = log.Discard()
	}
	thresholds, err := cfg.Thresholds()
	if err != nil {
		return nil, fmt.Errorf("alert thresholds: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("timezone: %w", err)
	}

	fa := files.Local{}
	packager := backup.NewPackager(res.Store, fa, files.NewPhotoStore(cfg.PhotoDir, cfg.ContentRoot), backup.Options{
		CacheDir: cfg.CacheDir,
		Location: loc,
		Logger:   logger,
	})

	app := &App{
		Config:   cfg,
		Logger:   logger,
		Store:    res.Store,
		Files:    fa,
		Expenses: services.NewExpenseService(res.Store, publisher, thresholds, loc, logger),
		Backups:  services.NewBackupService(res.Store, packager, publisher, logger),
		Ping:     res.Ping,
	}
	if res.Cleanup != nil {
		app.closers = append(app.closers, res.Cleanup)
	}
	return app, nil
}

// Close releases the broker connection and the store.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
