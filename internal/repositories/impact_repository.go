package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"recycloai/internal/database"
	"recycloai/internal/models"
)

const (
	getAggregateQuery = `
		SELECT user_id, total_scans, total_co2_saved, total_points, avg_co2_per_scan,
		       most_common_waste, last_updated, version
		FROM user_impact_aggregates
		WHERE user_id = $1`

	rankQuery = `SELECT user_rank($1)`

	leaderboardQuery = `
		SELECT user_rank(a.user_id) AS rank, a.user_id, a.total_points, a.total_scans, a.total_co2_saved
		FROM user_impact_aggregates a
		ORDER BY a.total_points DESC, a.user_id ASC
		LIMIT $1`
)

type impactRepository struct {
	*BaseRepository
}

// NewImpactRepository creates the Postgres impact read repository
func NewImpactRepository(db *database.Manager, logger *zap.Logger) ImpactRepository {
	return &impactRepository{BaseRepository: NewBaseRepository(db, logger)}
}

func (r *impactRepository) GetAggregate(ctx context.Context, userID string) (*models.UserImpactAggregate, error) {
	agg := &models.UserImpactAggregate{}
	err := r.QueryRowContext(ctx, getAggregateQuery, userID).Scan(
		&agg.UserID, &agg.TotalScans, &agg.TotalCO2Saved, &agg.TotalPoints,
		&agg.AvgCO2PerScan, &agg.MostCommonWaste, &agg.LastUpdated, &agg.Version,
	)
	if err != nil {
		if r.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get aggregate: %w", err)
	}
	return agg, nil
}

// Rank delegates to the user_rank SQL function so every caller shares one definition
func (r *impactRepository) Rank(ctx context.Context, userID string) (*int, error) {
	var rank sql.NullInt64
	if err := r.QueryRowContext(ctx, rankQuery, userID).Scan(&rank); err != nil {
		return nil, fmt.Errorf("failed to compute rank: %w", err)
	}
	if !rank.Valid {
		return nil, nil
	}
	v := int(rank.Int64)
	return &v, nil
}

func (r *impactRepository) Leaderboard(ctx context.Context, limit int) ([]*models.LeaderboardEntry, error) {
	rows, err := r.QueryContext(ctx, leaderboardQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load leaderboard: %w", err)
	}
	defer rows.Close()

	entries := make([]*models.LeaderboardEntry, 0, limit)
	for rows.Next() {
		e := &models.LeaderboardEntry{}
		if err := rows.Scan(&e.Rank, &e.UserID, &e.TotalPoints, &e.TotalScans, &e.TotalCO2Saved); err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate leaderboard: %w", err)
	}
	return entries, nil
}
