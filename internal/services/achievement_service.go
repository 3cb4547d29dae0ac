package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"recycloai/internal/achievements"
	"recycloai/internal/metrics"
	"recycloai/internal/models"
	"recycloai/internal/repositories"
)

type achievementService struct {
	repo   repositories.AchievementRepository
	impact repositories.ImpactRepository
	logger *zap.Logger
	now    func() time.Time
}

// NewAchievementService creates the achievement service
func NewAchievementService(repo repositories.AchievementRepository, impactRepo repositories.ImpactRepository, logger *zap.Logger) AchievementService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &achievementService{repo: repo, impact: impactRepo, logger: logger, now: time.Now}
}

func (s *achievementService) EvaluateForUser(ctx context.Context, userID string, totalPoints int) ([]models.AchievementStatus, error) {
	defs, err := s.repo.ListDefinitions(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	prior := achievements.Index(rows)

	// stored timestamps come back at microsecond precision
	now := s.now().UTC().Truncate(time.Microsecond)
	next := achievements.Evaluate(userID, totalPoints, defs, prior, now)

	changed := achievements.Changed(next, prior)
	if len(changed) == 0 {
		return nil, nil
	}

	stored, err := s.repo.Upsert(ctx, changed)
	if err != nil {
		return nil, err
	}

	// A concurrent evaluation may have unlocked the same row first; only the
	// writer whose timestamp was kept reports the unlock.
	byID := make(map[int64]models.AchievementDefinition, len(defs))
	for _, d := range defs {
		byID[d.ID] = d
	}
	var unlocked []models.AchievementStatus
	for _, row := range achievements.NewlyUnlocked(stored, prior) {
		if row.UnlockedAt == nil || !row.UnlockedAt.Equal(now) {
			continue
		}
		unlocked = append(unlocked, models.AchievementStatus{
			AchievementDefinition: byID[row.AchievementID],
			Unlocked:              true,
			UnlockedAt:            row.UnlockedAt,
			Progress:              row.Progress,
		})
	}

	if len(unlocked) > 0 {
		metrics.AchievementsUnlocked.Add(float64(len(unlocked)))
		s.logger.Info("Achievements unlocked",
			zap.String("user_id", userID),
			zap.Int("count", len(unlocked)),
			zap.Int("total_points", totalPoints),
		)
	}
	return unlocked, nil
}

func (s *achievementService) ListForUser(ctx context.Context, userID string) ([]models.AchievementStatus, error) {
	if userID == "" {
		return nil, NewUnauthorizedError("authentication required")
	}

	defs, err := s.repo.ListDefinitions(ctx)
	if err != nil {
		return nil, NewInternalError("failed to load achievements", err)
	}
	rows, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, NewInternalError("failed to load achievements", err)
	}

	points := 0
	agg, err := s.impact.GetAggregate(ctx, userID)
	switch {
	case err == nil:
		points = agg.TotalPoints
	case !errors.Is(err, repositories.ErrNotFound):
		return nil, NewInternalError("failed to load impact", err)
	}

	return achievements.Status(defs, achievements.Index(rows), points), nil
}
