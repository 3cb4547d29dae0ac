package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"recycloai/internal/config"
	"recycloai/internal/metrics"
)

// Manager wraps the connection pool with query metrics, slow query logging
// and health checks.
type Manager struct {
	db      *sql.DB
	logger  *zap.Logger
	metrics *Metrics
	health  *HealthChecker
	config  *config.DatabaseConfig
	mu      sync.RWMutex
}

// NewManager opens the Postgres pool and verifies connectivity
func NewManager(cfg *config.DatabaseConfig, logger *zap.Logger) (*Manager, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	configureConnectionPool(db, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	manager := NewManagerWithDB(db, cfg, logger)

	logger.Info("Database manager initialized",
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns),
		zap.Duration("conn_max_lifetime", cfg.ConnMaxLifetime),
	)

	return manager, nil
}

// NewManagerWithDB wraps an already opened pool. Tests use it with sqlmock.
func NewManagerWithDB(db *sql.DB, cfg *config.DatabaseConfig, logger *zap.Logger) *Manager {
	if cfg == nil {
		cfg = &config.DatabaseConfig{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		db:     db,
		logger: logger,
		config: cfg,
	}
	m.metrics = NewMetrics(db, cfg.SlowQueryThreshold)
	m.health = NewHealthChecker(m, cfg.HealthCheckInterval, logger)
	return m
}

func configureConnectionPool(db *sql.DB, cfg *config.DatabaseConfig) {
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
}

// DB returns the underlying pool
func (m *Manager) DB() *sql.DB {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.db
}

// Migrate applies pending migrations. An empty path uses the migrations
// embedded in the binary; otherwise the directory is read from disk.
//
// Migrations run on a separate connection since the migrate driver closes
// the connection it is given.
func (m *Manager) Migrate(migrationsPath string) error {
	migrationDB, err := sql.Open("postgres", m.config.URL)
	if err != nil {
		return fmt.Errorf("failed to create migration connection: %w", err)
	}
	defer migrationDB.Close()

	if err := migrationDB.Ping(); err != nil {
		return fmt.Errorf("migration connection failed: %w", err)
	}

	driver, err := postgres.WithInstance(migrationDB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	var migrator *migrate.Migrate
	if migrationsPath == "" {
		sub, err := fs.Sub(embeddedMigrations, "migrations")
		if err != nil {
			return fmt.Errorf("failed to open embedded migrations: %w", err)
		}
		source, err := iofs.New(sub, ".")
		if err != nil {
			return fmt.Errorf("failed to create migration source: %w", err)
		}
		migrator, err = migrate.NewWithInstance("iofs", source, "postgres", driver)
		if err != nil {
			return fmt.Errorf("failed to create migrator: %w", err)
		}
	} else {
		migrator, err = migrate.NewWithDatabaseInstance(
			fmt.Sprintf("file://%s", migrationsPath),
			"postgres",
			driver,
		)
		if err != nil {
			return fmt.Errorf("failed to create migrator: %w", err)
		}
	}
	defer migrator.Close()

	currentVersion, dirty, err := migrator.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if dirty {
		m.logger.Warn("Database is in dirty state", zap.Uint("version", currentVersion))
		return fmt.Errorf("database is in dirty state at version %d", currentVersion)
	}

	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	newVersion, _, err := migrator.Version()
	if err != nil {
		return fmt.Errorf("failed to get new migration version: %w", err)
	}

	m.logger.Info("Migrations completed successfully",
		zap.Uint("from_version", currentVersion),
		zap.Uint("to_version", newVersion),
	)

	if err := m.db.Ping(); err != nil {
		return fmt.Errorf("main database connection lost during migration: %w", err)
	}
	return nil
}

// ExecContext executes a statement with metrics
func (m *Manager) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	start := time.Now()
	result, err := m.db.ExecContext(ctx, query, args...)
	m.observe("exec", query, time.Since(start), err)
	return result, err
}

// QueryContext executes a query with metrics
func (m *Manager) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	start := time.Now()
	rows, err := m.db.QueryContext(ctx, query, args...)
	m.observe("query", query, time.Since(start), err)
	return rows, err
}

// QueryRowContext executes a single-row query with metrics
func (m *Manager) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	start := time.Now()
	row := m.db.QueryRowContext(ctx, query, args...)
	m.observe("query_row", query, time.Since(start), row.Err())
	return row
}

// BeginTx starts a new transaction
func (m *Manager) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	start := time.Now()
	tx, err := m.db.BeginTx(ctx, opts)
	m.observe("begin_tx", "BEGIN", time.Since(start), err)
	return tx, err
}

func (m *Manager) observe(kind, query string, duration time.Duration, err error) {
	m.metrics.RecordQuery(kind, duration, err)
	metrics.DBQueryDuration.WithLabelValues(kind).Observe(duration.Seconds())

	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		m.logger.Error("Query execution failed",
			zap.String("type", kind),
			zap.Error(err),
			zap.String("query", TruncateQuery(query)),
		)
		return
	}
	if m.metrics.IsSlow(duration) {
		m.logger.Warn("Slow query detected",
			zap.String("type", kind),
			zap.Duration("duration", duration),
			zap.String("query", TruncateQuery(query)),
		)
	}
}

// Health runs the health checks now
func (m *Manager) Health(ctx context.Context) *HealthStatus {
	return m.health.Check(ctx)
}

// RecentHealth reuses a health result younger than maxAge
func (m *Manager) RecentHealth(ctx context.Context, maxAge time.Duration) *HealthStatus {
	return m.health.Recent(ctx, maxAge)
}

// Metrics returns current database metrics
func (m *Manager) Metrics() *MetricsSnapshot {
	return m.metrics.Snapshot()
}

// Stats returns pool statistics
func (m *Manager) Stats() sql.DBStats {
	return m.db.Stats()
}

// Close stops monitoring and closes the pool
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.health != nil {
		m.health.Stop()
	}

	if m.db != nil {
		m.logger.Info("Closing database connection")
		return m.db.Close()
	}
	return nil
}

// TruncateQuery shortens long statements for logging
func TruncateQuery(query string) string {
	const maxLength = 200
	if len(query) <= maxLength {
		return query
	}
	return query[:maxLength] + "..."
}
