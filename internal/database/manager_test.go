package database

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"recycloai/internal/config"
)

func newMockManager(t *testing.T, cfg *config.DatabaseConfig) (*Manager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewManagerWithDB(db, cfg, zap.NewNop()), mock
}

func expectTableChecks(mock sqlmock.Sqlmock) {
	for _, table := range criticalTables {
		mock.ExpectQuery("SELECT 1 FROM " + table).
			WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))
	}
}

func TestManager_MetricsCountCalls(t *testing.T) {
	m, mock := newMockManager(t, &config.DatabaseConfig{SlowQueryThreshold: time.Hour})
	ctx := context.Background()

	mock.ExpectExec("UPDATE user_impact_aggregates").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM scan_records").WillReturnError(errors.New("permission denied"))
	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := m.ExecContext(ctx, "UPDATE user_impact_aggregates SET version = version")
	require.NoError(t, err)
	_, err = m.ExecContext(ctx, "DELETE FROM scan_records")
	require.Error(t, err)
	tx, err := m.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	snap := m.Metrics()
	assert.Equal(t, int64(3), snap.QueryCount)
	assert.Equal(t, int64(2), snap.ExecCount)
	assert.Equal(t, int64(1), snap.TxCount)
	assert.Equal(t, int64(1), snap.ErrorCount)
	assert.Zero(t, snap.SlowQueryCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHealthChecker_RecentReusesFreshResult(t *testing.T) {
	m, mock := newMockManager(t, nil)
	ctx := context.Background()

	assert.Equal(t, StatusStarting, m.health.LastStatus().Status)

	expectTableChecks(mock)
	first := m.RecentHealth(ctx, time.Minute)
	assert.Equal(t, StatusHealthy, first.Status)
	assert.Equal(t, first, m.health.LastStatus())

	// no new expectations: a second table check would fail the mock
	second := m.RecentHealth(ctx, time.Minute)
	assert.Same(t, first, second)
	require.NoError(t, mock.ExpectationsWereMet())

	expectTableChecks(mock)
	third := m.RecentHealth(ctx, 0)
	assert.NotSame(t, first, third)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHealthChecker_TableFailureIsUnhealthy(t *testing.T) {
	m, mock := newMockManager(t, nil)

	mock.ExpectQuery("SELECT 1 FROM scan_records").WillReturnError(errors.New("relation does not exist"))

	status := m.Health(context.Background())
	assert.Equal(t, StatusUnhealthy, status.Status)
	require.Len(t, status.Errors, 1)
	assert.Contains(t, status.Errors[0], "scan_records")
}
