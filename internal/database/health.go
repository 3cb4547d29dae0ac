package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Health states
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
	StatusStarting  = "starting"
	StatusShutdown  = "shutdown"
)

// HealthStatus represents the current health status of the database
type HealthStatus struct {
	Status          string                 `json:"status"`
	Timestamp       time.Time              `json:"timestamp"`
	ResponseTime    time.Duration          `json:"response_time"`
	ConnectionCount int                    `json:"connection_count"`
	Errors          []string               `json:"errors,omitempty"`
	Details         map[string]interface{} `json:"details"`
}

// criticalTables must be readable for the service to be considered healthy
var criticalTables = []string{
	"scan_records",
	"user_impact_aggregates",
	"achievement_definitions",
	"user_achievements",
}

// HealthChecker pings the database and queries the core tables, either on
// demand or periodically in the background.
type HealthChecker struct {
	manager *Manager
	logger  *zap.Logger

	mu       sync.RWMutex
	status   *HealthStatus
	isActive int32
	started  int32

	stopCh  chan struct{}
	stopped chan struct{}

	checkInterval   time.Duration
	timeoutDuration time.Duration
}

// NewHealthChecker creates a checker; StartMonitoring begins background checks
func NewHealthChecker(manager *Manager, interval time.Duration, logger *zap.Logger) *HealthChecker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &HealthChecker{
		manager:         manager,
		logger:          logger,
		isActive:        1,
		stopCh:          make(chan struct{}),
		stopped:         make(chan struct{}),
		checkInterval:   interval,
		timeoutDuration: 5 * time.Second,
	}
}

// Check runs connectivity and table checks now
func (hc *HealthChecker) Check(ctx context.Context) *HealthStatus {
	if atomic.LoadInt32(&hc.isActive) == 0 {
		return &HealthStatus{
			Status:    StatusShutdown,
			Timestamp: time.Now(),
			Errors:    []string{"health checker is shutdown"},
			Details:   make(map[string]interface{}),
		}
	}

	start := time.Now()
	status := &HealthStatus{
		Timestamp: start,
		Details:   make(map[string]interface{}),
	}

	ctx, cancel := context.WithTimeout(ctx, hc.timeoutDuration)
	defer cancel()

	warnings := 0
	if err := hc.checkConnectivity(ctx, status, &warnings); err != nil {
		status.Errors = append(status.Errors, fmt.Sprintf("connectivity: %v", err))
	} else if err := hc.checkTableAccess(ctx, status); err != nil {
		status.Errors = append(status.Errors, fmt.Sprintf("tables: %v", err))
	}

	stats := hc.manager.Stats()
	status.ConnectionCount = stats.OpenConnections
	status.Details["in_use"] = stats.InUse
	status.Details["idle"] = stats.Idle
	if stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections {
		status.Details["pool_warning"] = "connection pool exhausted"
		warnings++
	}

	status.ResponseTime = time.Since(start)
	switch {
	case len(status.Errors) > 0:
		status.Status = StatusUnhealthy
	case warnings > 0 || status.ResponseTime > time.Second:
		status.Status = StatusDegraded
	default:
		status.Status = StatusHealthy
	}

	hc.mu.Lock()
	hc.status = status
	hc.mu.Unlock()

	return status
}

func (hc *HealthChecker) checkConnectivity(ctx context.Context, status *HealthStatus, warnings *int) error {
	db := hc.manager.DB()
	if db == nil {
		return fmt.Errorf("database connection is nil")
	}

	start := time.Now()
	err := db.PingContext(ctx)
	pingDuration := time.Since(start)

	status.Details["ping_duration"] = pingDuration.String()
	status.Details["ping_success"] = err == nil
	if pingDuration > 500*time.Millisecond {
		status.Details["ping_warning"] = "slow ping response"
		*warnings++
	}

	if err != nil {
		hc.logger.Error("Database ping failed", zap.Error(err), zap.Duration("duration", pingDuration))
	}
	return err
}

func (hc *HealthChecker) checkTableAccess(ctx context.Context, status *HealthStatus) error {
	results := make(map[string]bool, len(criticalTables))
	for _, table := range criticalTables {
		var one int
		err := hc.manager.DB().QueryRowContext(ctx, fmt.Sprintf("SELECT 1 FROM %s LIMIT 1", table)).Scan(&one)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			results[table] = false
			status.Details["table_access"] = results
			hc.logger.Error("Failed to access critical table", zap.String("table", table), zap.Error(err))
			return fmt.Errorf("cannot access table %s: %w", table, err)
		}
		results[table] = true
	}
	status.Details["table_access"] = results
	return nil
}

// StartMonitoring begins periodic checks in the background
func (hc *HealthChecker) StartMonitoring() {
	if atomic.LoadInt32(&hc.isActive) == 0 || !atomic.CompareAndSwapInt32(&hc.started, 0, 1) {
		return
	}
	go hc.run()
	hc.logger.Info("Background database health monitoring started", zap.Duration("interval", hc.checkInterval))
}

func (hc *HealthChecker) run() {
	defer close(hc.stopped)

	ticker := time.NewTicker(hc.checkInterval)
	defer ticker.Stop()

	last := ""
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), hc.timeoutDuration)
			status := hc.Check(ctx)
			cancel()

			if last != "" && status.Status != last {
				hc.logger.Info("Database health status changed",
					zap.String("from", last),
					zap.String("to", status.Status),
					zap.Strings("errors", status.Errors),
				)
			}
			last = status.Status
		case <-hc.stopCh:
			return
		}
	}
}

// Stop ends background monitoring. Later checks report StatusShutdown.
func (hc *HealthChecker) Stop() {
	if !atomic.CompareAndSwapInt32(&hc.isActive, 1, 0) {
		return
	}
	close(hc.stopCh)

	if atomic.LoadInt32(&hc.started) == 0 {
		return
	}
	select {
	case <-hc.stopped:
	case <-time.After(5 * time.Second):
		hc.logger.Warn("Health checker stop timeout")
	}
}

// LastStatus returns the most recent check result
func (hc *HealthChecker) LastStatus() *HealthStatus {
	hc.mu.RLock()
	defer hc.mu.RUnlock()

	if hc.status == nil {
		return &HealthStatus{
			Status:    StatusStarting,
			Timestamp: time.Now(),
			Details:   make(map[string]interface{}),
		}
	}
	return hc.status
}

// Recent returns the last result while it is younger than maxAge, otherwise
// it checks now. The background monitor keeps the last result fresh.
func (hc *HealthChecker) Recent(ctx context.Context, maxAge time.Duration) *HealthStatus {
	last := hc.LastStatus()
	if last.Status != StatusStarting && time.Since(last.Timestamp) < maxAge {
		return last
	}
	return hc.Check(ctx)
}
