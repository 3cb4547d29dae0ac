package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"recycloai/internal/database"
	"recycloai/internal/models"
)

var aggregateColumns = []string{
	"user_id", "total_scans", "total_co2_saved", "total_points",
	"avg_co2_per_scan", "most_common_waste", "last_updated", "version",
}

func newMockManager(t *testing.T) (*database.Manager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return database.NewManagerWithDB(db, nil, zap.NewNop()), mock
}

func expectLock(mock sqlmock.Sqlmock, userID string, totalScans int, co2 float64, points int, mostCommon string, version int64) {
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO user_impact_aggregates").
		WithArgs(userID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM user_impact_aggregates WHERE user_id = \\$1 FOR UPDATE").
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows(aggregateColumns).
			AddRow(userID, totalScans, co2, points, 0.0, mostCommon, time.Now(), version))
}

func TestScanRepository_WithUserLock_Commits(t *testing.T) {
	mgr, mock := newMockManager(t)
	repo := NewScanRepository(mgr, zap.NewNop())
	ctx := context.Background()

	expectLock(mock, "u1", 1, 0.5, 8, "plastic", 1)
	mock.ExpectExec("UPDATE user_impact_aggregates SET total_scans").
		WithArgs("u1", 2, 0.8, 13, 0.4, sqlmock.AnyArg(), int64(2), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO scan_records").
		WithArgs("u1", "paper", "https://img/1.jpg", 0.9, 0.3, 5, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))
	mock.ExpectExec("^SAVEPOINT most_common$").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT waste_type, COUNT").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"waste_type", "count", "first_seen"}).
			AddRow("plastic", 1, int64(7)).
			AddRow("paper", 1, int64(42)))
	mock.ExpectExec("UPDATE user_impact_aggregates SET most_common_waste").
		WithArgs("u1", "plastic").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("^RELEASE SAVEPOINT most_common$").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	scan := &models.ScanRecord{
		UserID: "u1", WasteType: "paper", ImageURL: "https://img/1.jpg",
		Confidence: 0.9, CO2Saved: 0.3, PointsEarned: 5, CreatedAt: time.Now(),
	}
	err := repo.WithUserLock(ctx, "u1", func(tx ScanTx, current models.UserImpactAggregate) error {
		assert.Equal(t, 1, current.TotalScans)
		assert.Equal(t, int64(1), current.Version)

		next := current
		next.TotalScans = 2
		next.TotalCO2Saved = 0.8
		next.TotalPoints = 13
		next.AvgCO2PerScan = 0.4
		next.Version = 2
		next.LastUpdated = time.Now()
		if err := tx.SaveAggregate(ctx, &next, current.Version); err != nil {
			return err
		}
		if err := tx.InsertScan(ctx, scan); err != nil {
			return err
		}
		return tx.Guard(ctx, "most_common", func() error {
			counts, err := tx.WasteTypeCounts(ctx)
			if err != nil {
				return err
			}
			require.Len(t, counts, 2)
			return tx.SetMostCommonWaste(ctx, counts[0].WasteType)
		})
	})

	require.NoError(t, err)
	assert.Equal(t, int64(42), scan.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScanRepository_VersionConflictRollsBack(t *testing.T) {
	mgr, mock := newMockManager(t)
	repo := NewScanRepository(mgr, zap.NewNop())
	ctx := context.Background()

	expectLock(mock, "u1", 0, 0, 0, "", 0)
	mock.ExpectExec("UPDATE user_impact_aggregates SET total_scans").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.WithUserLock(ctx, "u1", func(tx ScanTx, current models.UserImpactAggregate) error {
		next := current
		next.TotalScans = 1
		next.Version = 1
		return tx.SaveAggregate(ctx, &next, 0)
	})

	assert.ErrorIs(t, err, ErrVersionConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScanRepository_InsertFailureRollsBack(t *testing.T) {
	mgr, mock := newMockManager(t)
	repo := NewScanRepository(mgr, zap.NewNop())
	ctx := context.Background()

	expectLock(mock, "u1", 0, 0, 0, "", 0)
	mock.ExpectExec("UPDATE user_impact_aggregates SET total_scans").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO scan_records").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := repo.WithUserLock(ctx, "u1", func(tx ScanTx, current models.UserImpactAggregate) error {
		next := current
		next.TotalScans = 1
		next.Version = 1
		if err := tx.SaveAggregate(ctx, &next, 0); err != nil {
			return err
		}
		return tx.InsertScan(ctx, &models.ScanRecord{UserID: "u1", WasteType: "metal", CreatedAt: time.Now()})
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScanRepository_GuardFailureKeepsTransaction(t *testing.T) {
	mgr, mock := newMockManager(t)
	repo := NewScanRepository(mgr, zap.NewNop())
	ctx := context.Background()

	expectLock(mock, "u1", 0, 0, 0, "", 0)
	mock.ExpectExec("^SAVEPOINT most_common$").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT waste_type, COUNT").WillReturnError(errors.New("statement timeout"))
	mock.ExpectExec("^ROLLBACK TO SAVEPOINT most_common$").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	var guardErr error
	err := repo.WithUserLock(ctx, "u1", func(tx ScanTx, _ models.UserImpactAggregate) error {
		guardErr = tx.Guard(ctx, "most_common", func() error {
			_, err := tx.WasteTypeCounts(ctx)
			return err
		})
		return nil
	})

	require.NoError(t, err)
	assert.Error(t, guardErr)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScanRepository_GuardRejectsBadName(t *testing.T) {
	tx := &pgScanTx{}
	err := tx.Guard(context.Background(), "x; DROP TABLE scan_records", func() error { return nil })
	assert.Error(t, err)
}

func TestScanRepository_ListByUser(t *testing.T) {
	mgr, mock := newMockManager(t)
	repo := NewScanRepository(mgr, zap.NewNop())

	now := time.Now()
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM scan_records").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(3)))
	mock.ExpectQuery("SELECT id, user_id, waste_type").
		WithArgs("u1", 2, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "waste_type", "image_url", "confidence", "co2_saved", "points_earned", "created_at"}).
			AddRow(int64(3), "u1", "metal", "u3", 0.8, 0.9, 12, now).
			AddRow(int64(2), "u1", "paper", "u2", 0.7, 0.3, 5, now.Add(-time.Minute)))

	scans, total, err := repo.ListByUser(context.Background(), "u1", models.NewPaginationParams(1, 2))
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, scans, 2)
	assert.Equal(t, "metal", scans[0].WasteType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestImpactRepository_GetAggregateNotFound(t *testing.T) {
	mgr, mock := newMockManager(t)
	repo := NewImpactRepository(mgr, zap.NewNop())

	mock.ExpectQuery("FROM user_impact_aggregates WHERE user_id = \\$1").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows(aggregateColumns))

	agg, err := repo.GetAggregate(context.Background(), "ghost")
	assert.Nil(t, agg)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestImpactRepository_Rank(t *testing.T) {
	mgr, mock := newMockManager(t)
	repo := NewImpactRepository(mgr, zap.NewNop())
	ctx := context.Background()

	mock.ExpectQuery("SELECT user_rank\\(\\$1\\)").
		WithArgs("u2").
		WillReturnRows(sqlmock.NewRows([]string{"user_rank"}).AddRow(int64(2)))
	mock.ExpectQuery("SELECT user_rank\\(\\$1\\)").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"user_rank"}).AddRow(nil))

	rank, err := repo.Rank(ctx, "u2")
	require.NoError(t, err)
	require.NotNil(t, rank)
	assert.Equal(t, 2, *rank)

	rank, err = repo.Rank(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, rank)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestImpactRepository_Leaderboard(t *testing.T) {
	mgr, mock := newMockManager(t)
	repo := NewImpactRepository(mgr, zap.NewNop())

	mock.ExpectQuery("SELECT user_rank\\(a.user_id\\) AS rank").
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"rank", "user_id", "total_points", "total_scans", "total_co2_saved"}).
			AddRow(1, "a", 100, 10, 5.0).
			AddRow(2, "b", 50, 5, 2.5).
			AddRow(2, "c", 50, 6, 2.0))

	entries, err := repo.Leaderboard(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []int{1, 2, 2}, []int{entries[0].Rank, entries[1].Rank, entries[2].Rank})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAchievementRepository_Upsert(t *testing.T) {
	mgr, mock := newMockManager(t)
	repo := NewAchievementRepository(mgr, zap.NewNop())

	earlier := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	cols := []string{"user_id", "achievement_id", "unlocked", "unlocked_at", "progress"}

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO user_achievements").
		WithArgs("u1", int64(1), true, now, 10).
		WillReturnRows(sqlmock.NewRows(cols).AddRow("u1", int64(1), true, earlier, 10))
	mock.ExpectQuery("INSERT INTO user_achievements").
		WithArgs("u1", int64(2), false, nil, 30).
		WillReturnRows(sqlmock.NewRows(cols).AddRow("u1", int64(2), false, nil, 30))
	mock.ExpectCommit()

	stored, err := repo.Upsert(context.Background(), []models.UserAchievement{
		{UserID: "u1", AchievementID: 1, Unlocked: true, UnlockedAt: &now, Progress: 10},
		{UserID: "u1", AchievementID: 2, Progress: 30},
	})
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, earlier, *stored[0].UnlockedAt, "existing unlock time is kept")
	assert.Nil(t, stored[1].UnlockedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAchievementRepository_ListDefinitions(t *testing.T) {
	mgr, mock := newMockManager(t)
	repo := NewAchievementRepository(mgr, zap.NewNop())

	mock.ExpectQuery("FROM achievement_definitions").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description", "icon", "points_threshold"}).
			AddRow(int64(1), "First Steps", "Earn your first 10 points", "sprout", 10).
			AddRow(int64(2), "Eco Starter", "Reach 50 points", "leaf", 50))

	defs, err := repo.ListDefinitions(context.Background())
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, 50, defs[1].PointsThreshold)
	assert.NoError(t, mock.ExpectationsWereMet())
}
