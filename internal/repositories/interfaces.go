// file: internal/repositories/interfaces.go
package repositories

import (
	"context"
	"errors"

	"recycloai/internal/models"
)

var (
	// ErrNotFound is returned when a requested row does not exist
	ErrNotFound = errors.New("record not found")

	// ErrVersionConflict is returned when an aggregate changed between read and write
	ErrVersionConflict = errors.New("aggregate version conflict")
)

// ===============================
// SCAN RECORDING
// ===============================

// ScanRepository owns scan records and the aggregate they roll up into
type ScanRepository interface {
	// WithUserLock runs fn in a single transaction holding the user's
	// aggregate lock. current is the user's aggregate as of lock time, zero
	// valued with Version 0 when the user has no scans yet. The transaction
	// commits when fn returns nil and rolls back otherwise.
	WithUserLock(ctx context.Context, userID string, fn func(tx ScanTx, current models.UserImpactAggregate) error) error

	// ListByUser returns a page of the user's scans, newest first, and the total count
	ListByUser(ctx context.Context, userID string, params models.PaginationParams) ([]*models.ScanRecord, int64, error)
}

// ScanTx is the unit of work handed out by WithUserLock
type ScanTx interface {
	// SaveAggregate writes agg if the stored version still equals
	// expectedVersion, otherwise it returns ErrVersionConflict.
	SaveAggregate(ctx context.Context, agg *models.UserImpactAggregate, expectedVersion int64) error

	// InsertScan stores the scan and sets its ID
	InsertScan(ctx context.Context, scan *models.ScanRecord) error

	// WasteTypeCounts returns per waste type counts of the user's scans,
	// including ones inserted in this transaction, ordered by first seen.
	WasteTypeCounts(ctx context.Context) ([]models.WasteTypeCount, error)

	// SetMostCommonWaste updates the derived most-common waste type
	SetMostCommonWaste(ctx context.Context, wasteType string) error

	// Guard runs fn so that a failure undoes only fn's writes and leaves
	// the surrounding transaction usable.
	Guard(ctx context.Context, name string, fn func() error) error
}

// ===============================
// READ MODELS
// ===============================

// ImpactRepository serves aggregate reads and rank
type ImpactRepository interface {
	GetAggregate(ctx context.Context, userID string) (*models.UserImpactAggregate, error)

	// Rank returns 1 + the number of users with strictly more points, or
	// nil when the user has no aggregate.
	Rank(ctx context.Context, userID string) (*int, error)

	// Leaderboard returns the top users by points, ties ordered by user id
	Leaderboard(ctx context.Context, limit int) ([]*models.LeaderboardEntry, error)
}

// ===============================
// ACHIEVEMENTS
// ===============================

// AchievementRepository stores definitions and per-user achievement state
type AchievementRepository interface {
	ListDefinitions(ctx context.Context) ([]models.AchievementDefinition, error)
	ListByUser(ctx context.Context, userID string) ([]models.UserAchievement, error)

	// Upsert writes rows without ever revoking an unlock or replacing an
	// existing unlock time, and returns the rows as stored.
	Upsert(ctx context.Context, rows []models.UserAchievement) ([]models.UserAchievement, error)
}
