package database

import (
	"database/sql"
	"sync/atomic"
	"time"
)

// Metrics collects database call counters
type Metrics struct {
	db *sql.DB

	queryCount     int64
	queryDuration  int64 // nanoseconds
	errorCount     int64
	slowQueryCount int64

	execCount     int64
	selectCount   int64
	queryRowCount int64
	txCount       int64

	slowQueryThreshold time.Duration
}

// MetricsSnapshot provides a point-in-time view of metrics
type MetricsSnapshot struct {
	QueryCount       int64         `json:"query_count"`
	ErrorCount       int64         `json:"error_count"`
	SlowQueryCount   int64         `json:"slow_query_count"`
	ExecCount        int64         `json:"exec_count"`
	SelectCount      int64         `json:"select_count"`
	QueryRowCount    int64         `json:"query_row_count"`
	TxCount          int64         `json:"tx_count"`
	AvgQueryDuration time.Duration `json:"avg_query_duration"`
	OpenConnections  int           `json:"open_connections"`
	InUse            int           `json:"in_use"`
	Idle             int           `json:"idle"`
	Timestamp        time.Time     `json:"timestamp"`
}

// NewMetrics creates a metrics collector. A zero threshold defaults to 100ms.
func NewMetrics(db *sql.DB, slowQueryThreshold time.Duration) *Metrics {
	if slowQueryThreshold <= 0 {
		slowQueryThreshold = 100 * time.Millisecond
	}
	return &Metrics{db: db, slowQueryThreshold: slowQueryThreshold}
}

// RecordQuery records one database call
func (m *Metrics) RecordQuery(queryType string, duration time.Duration, err error) {
	atomic.AddInt64(&m.queryCount, 1)
	atomic.AddInt64(&m.queryDuration, int64(duration))

	if err != nil && err != sql.ErrNoRows {
		atomic.AddInt64(&m.errorCount, 1)
	}

	if m.IsSlow(duration) {
		atomic.AddInt64(&m.slowQueryCount, 1)
	}

	switch queryType {
	case "exec":
		atomic.AddInt64(&m.execCount, 1)
	case "query":
		atomic.AddInt64(&m.selectCount, 1)
	case "query_row":
		atomic.AddInt64(&m.queryRowCount, 1)
	case "begin_tx":
		atomic.AddInt64(&m.txCount, 1)
	}
}

// IsSlow reports whether a call took longer than the slow query threshold
func (m *Metrics) IsSlow(d time.Duration) bool {
	return d > m.slowQueryThreshold
}

// Snapshot returns the current counters
func (m *Metrics) Snapshot() *MetricsSnapshot {
	queryCount := atomic.LoadInt64(&m.queryCount)
	totalDuration := atomic.LoadInt64(&m.queryDuration)

	var avgDuration time.Duration
	if queryCount > 0 {
		avgDuration = time.Duration(totalDuration / queryCount)
	}

	snap := &MetricsSnapshot{
		QueryCount:       queryCount,
		ErrorCount:       atomic.LoadInt64(&m.errorCount),
		SlowQueryCount:   atomic.LoadInt64(&m.slowQueryCount),
		ExecCount:        atomic.LoadInt64(&m.execCount),
		SelectCount:      atomic.LoadInt64(&m.selectCount),
		QueryRowCount:    atomic.LoadInt64(&m.queryRowCount),
		TxCount:          atomic.LoadInt64(&m.txCount),
		AvgQueryDuration: avgDuration,
		Timestamp:        time.Now(),
	}
	if m.db != nil {
		stats := m.db.Stats()
		snap.OpenConnections = stats.OpenConnections
		snap.InUse = stats.InUse
		snap.Idle = stats.Idle
	}
	return snap
}
