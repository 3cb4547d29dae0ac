package database

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"recycloai/internal/config"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Open creates the manager, applies migrations and waits until the
// database reports healthy. Background monitoring is started on success.
func Open(cfg *config.Config, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	logger.Info("Starting database initialization",
		zap.String("environment", cfg.Server.Environment))

	manager, err := NewManager(&cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create database manager: %w", err)
	}

	if err := runMigrationsWithRetry(manager, cfg.Database.MigrationsPath, logger, 3); err != nil {
		manager.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), healthTimeoutForEnvironment(cfg.Server.Environment))
	defer cancel()

	if err := waitForHealth(ctx, manager, logger); err != nil {
		manager.Close()
		return nil, fmt.Errorf("database failed to become healthy: %w", err)
	}

	manager.health.StartMonitoring()

	stats := manager.Stats()
	logger.Info("Database initialized successfully",
		zap.Int("max_open_connections", stats.MaxOpenConnections),
		zap.Int("open_connections", stats.OpenConnections),
	)
	return manager, nil
}

func runMigrationsWithRetry(manager *Manager, migrationsPath string, logger *zap.Logger, maxRetries int) error {
	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		logger.Info("Running database migrations",
			zap.String("path", migrationsPath),
			zap.Int("attempt", attempt),
		)

		lastErr = manager.Migrate(migrationsPath)
		if lastErr == nil {
			return nil
		}
		if attempt < maxRetries {
			waitTime := time.Duration(attempt) * time.Second
			logger.Warn("Migration attempt failed, retrying",
				zap.Error(lastErr),
				zap.Int("attempt", attempt),
				zap.Duration("retry_in", waitTime))
			time.Sleep(waitTime)
		}
	}

	return fmt.Errorf("migrations failed after %d attempts: %w", maxRetries, lastErr)
}

func waitForHealth(ctx context.Context, manager *Manager, logger *zap.Logger) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0

	operation := func() error {
		status := manager.Health(ctx)
		if status.Status == StatusHealthy || status.Status == StatusDegraded {
			logger.Info("Database is healthy",
				zap.String("status", status.Status),
				zap.Duration("response_time", status.ResponseTime))
			return nil
		}
		return fmt.Errorf("database status %s: %v", status.Status, status.Errors)
	}

	notify := func(err error, wait time.Duration) {
		logger.Debug("Database not healthy yet, retrying", zap.Error(err), zap.Duration("backoff", wait))
	}

	return backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify)
}

func healthTimeoutForEnvironment(environment string) time.Duration {
	switch environment {
	case "production":
		return 60 * time.Second
	default:
		return 30 * time.Second
	}
}
