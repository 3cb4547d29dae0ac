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
	listDefinitionsQuery = `
		SELECT id, name, description, icon, points_threshold
		FROM achievement_definitions
		ORDER BY points_threshold, id`

	listUserAchievementsQuery = `
		SELECT user_id, achievement_id, unlocked, unlocked_at, progress
		FROM user_achievements
		WHERE user_id = $1
		ORDER BY achievement_id`

	// Unlocks are sticky and the first unlock time wins, so racing
	// evaluators can never revoke or re-date an achievement.
	upsertUserAchievementQuery = `
		INSERT INTO user_achievements (user_id, achievement_id, unlocked, unlocked_at, progress)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, achievement_id) DO UPDATE SET
			unlocked    = user_achievements.unlocked OR EXCLUDED.unlocked,
			unlocked_at = COALESCE(user_achievements.unlocked_at, EXCLUDED.unlocked_at),
			progress    = GREATEST(user_achievements.progress, EXCLUDED.progress)
		RETURNING user_id, achievement_id, unlocked, unlocked_at, progress`
)

type achievementRepository struct {
	*BaseRepository
}

// NewAchievementRepository creates the Postgres achievement repository
func NewAchievementRepository(db *database.Manager, logger *zap.Logger) AchievementRepository {
	return &achievementRepository{BaseRepository: NewBaseRepository(db, logger)}
}

func (r *achievementRepository) ListDefinitions(ctx context.Context) ([]models.AchievementDefinition, error) {
	rows, err := r.QueryContext(ctx, listDefinitionsQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to list achievement definitions: %w", err)
	}
	defer rows.Close()

	var defs []models.AchievementDefinition
	for rows.Next() {
		var d models.AchievementDefinition
		if err := rows.Scan(&d.ID, &d.Name, &d.Description, &d.Icon, &d.PointsThreshold); err != nil {
			return nil, fmt.Errorf("failed to scan achievement definition: %w", err)
		}
		defs = append(defs, d)
	}
	return defs, rows.Err()
}

func (r *achievementRepository) ListByUser(ctx context.Context, userID string) ([]models.UserAchievement, error) {
	rows, err := r.QueryContext(ctx, listUserAchievementsQuery, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user achievements: %w", err)
	}
	defer rows.Close()

	var out []models.UserAchievement
	for rows.Next() {
		ua, err := scanUserAchievement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ua)
	}
	return out, rows.Err()
}

func (r *achievementRepository) Upsert(ctx context.Context, rows []models.UserAchievement) ([]models.UserAchievement, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	stored := make([]models.UserAchievement, 0, len(rows))
	err := r.WithTransaction(ctx, func(tx *sql.Tx) error {
		for _, row := range rows {
			var unlockedAt interface{}
			if row.UnlockedAt != nil {
				unlockedAt = *row.UnlockedAt
			}
			res := tx.QueryRowContext(ctx, upsertUserAchievementQuery,
				row.UserID, row.AchievementID, row.Unlocked, unlockedAt, row.Progress)
			ua, err := scanUserAchievement(res)
			if err != nil {
				r.logTxError("upsert_user_achievement", upsertUserAchievementQuery, err)
				return err
			}
			stored = append(stored, ua)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUserAchievement(s rowScanner) (models.UserAchievement, error) {
	var ua models.UserAchievement
	var unlockedAt sql.NullTime
	if err := s.Scan(&ua.UserID, &ua.AchievementID, &ua.Unlocked, &unlockedAt, &ua.Progress); err != nil {
		return ua, fmt.Errorf("failed to scan user achievement: %w", err)
	}
	if unlockedAt.Valid {
		t := unlockedAt.Time
		ua.UnlockedAt = &t
	}
	return ua, nil
}
