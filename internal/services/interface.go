package services

import (
	"context"

	"recycloai/internal/models"
)

// ScanService runs the scan pipeline and owns the write side of a user's impact
type ScanService interface {
	// SubmitScan classifies and stores an image, then records the scan
	SubmitScan(ctx context.Context, req *SubmitScanRequest) (*ScanResult, error)

	// Record applies an already classified scan to the user's aggregate in
	// one atomic unit of work. It is the only writer of aggregates.
	Record(ctx context.Context, req *RecordScanRequest) (*RecordScanResult, error)

	// ListScans returns the user's scan history, newest first
	ListScans(ctx context.Context, userID string, params models.PaginationParams) (*models.PaginatedResponse[*models.ScanRecord], error)
}

// ImpactService serves a user's aggregate, rank and the leaderboard
type ImpactService interface {
	GetImpact(ctx context.Context, userID string) (*ImpactSummary, error)
	Rank(ctx context.Context, userID string) (*int, error)
	Leaderboard(ctx context.Context, limit int) ([]*models.LeaderboardEntry, error)

	// Refresh stores a committed aggregate in the cache unless a newer
	// version is already there.
	Refresh(ctx context.Context, agg *models.UserImpactAggregate)
}

// AchievementService evaluates and lists point milestones
type AchievementService interface {
	// EvaluateForUser persists the achievement state for totalPoints and
	// returns the achievements unlocked by this call.
	EvaluateForUser(ctx context.Context, userID string, totalPoints int) ([]models.AchievementStatus, error)

	// ListForUser returns every definition with the user's status
	ListForUser(ctx context.Context, userID string) ([]models.AchievementStatus, error)
}
