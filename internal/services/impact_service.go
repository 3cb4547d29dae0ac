package services

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"recycloai/internal/cache"
	"recycloai/internal/models"
	"recycloai/internal/repositories"
)

const (
	defaultLeaderboardSize = 10
	maxLeaderboardSize     = 100
	cacheLockStripes       = 64
)

type impactService struct {
	repo   repositories.ImpactRepository
	cache  cache.Cache
	ttl    time.Duration
	logger *zap.Logger

	// serializes compare-and-set of cached aggregates per user
	locks [cacheLockStripes]sync.Mutex
}

// NewImpactService creates the read side of a user's impact. c may be nil.
func NewImpactService(repo repositories.ImpactRepository, c cache.Cache, ttl time.Duration, logger *zap.Logger) ImpactService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &impactService{repo: repo, cache: c, ttl: ttl, logger: logger}
}

func impactCacheKey(userID string) string {
	return "impact:" + userID
}

// GetImpact loads the aggregate through the cache and the rank straight from
// the store, concurrently. Users without scans get a zero aggregate and no rank.
func (s *impactService) GetImpact(ctx context.Context, userID string) (*ImpactSummary, error) {
	if userID == "" {
		return nil, NewUnauthorizedError("authentication required")
	}

	var (
		agg  *models.UserImpactAggregate
		rank *int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		agg, err = s.aggregate(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		rank, err = s.repo.Rank(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, NewInternalError("failed to load impact", err)
	}

	if agg == nil {
		agg = &models.UserImpactAggregate{UserID: userID}
		rank = nil
	}
	return &ImpactSummary{Aggregate: agg, Rank: rank}, nil
}

// aggregate returns nil, nil when the user has no aggregate
func (s *impactService) aggregate(ctx context.Context, userID string) (*models.UserImpactAggregate, error) {
	key := impactCacheKey(userID)
	if s.cache != nil {
		if cached, ok := cache.GetJSON[models.UserImpactAggregate](ctx, s.cache, key); ok {
			return cached, nil
		}
	}

	agg, err := s.repo.GetAggregate(ctx, userID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	s.storeIfNewer(ctx, agg)
	return agg, nil
}

func (s *impactService) Rank(ctx context.Context, userID string) (*int, error) {
	rank, err := s.repo.Rank(ctx, userID)
	if err != nil {
		return nil, NewInternalError("failed to compute rank", err)
	}
	return rank, nil
}

func (s *impactService) Leaderboard(ctx context.Context, limit int) ([]*models.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = defaultLeaderboardSize
	}
	if limit > maxLeaderboardSize {
		limit = maxLeaderboardSize
	}
	entries, err := s.repo.Leaderboard(ctx, limit)
	if err != nil {
		return nil, NewInternalError("failed to load leaderboard", err)
	}
	if entries == nil {
		entries = []*models.LeaderboardEntry{}
	}
	return entries, nil
}

// Refresh writes a freshly committed aggregate through to the cache
func (s *impactService) Refresh(ctx context.Context, agg *models.UserImpactAggregate) {
	if s.cache == nil || agg == nil {
		return
	}
	if !s.storeIfNewer(ctx, agg) {
		// never leave an older entry behind a committed write
		if err := s.cache.Delete(ctx, impactCacheKey(agg.UserID)); err != nil {
			s.logger.Warn("Failed to drop cached aggregate", zap.String("user_id", agg.UserID), zap.Error(err))
		}
	}
}

// storeIfNewer caches agg unless the cache already holds the same or a later
// version. It reports false only when the write failed.
func (s *impactService) storeIfNewer(ctx context.Context, agg *models.UserImpactAggregate) bool {
	if s.cache == nil {
		return true
	}
	mu := s.lockFor(agg.UserID)
	mu.Lock()
	defer mu.Unlock()

	key := impactCacheKey(agg.UserID)
	if cached, ok := cache.GetJSON[models.UserImpactAggregate](ctx, s.cache, key); ok && cached.Version >= agg.Version {
		return true
	}
	if err := cache.SetJSON(ctx, s.cache, key, agg, s.ttl); err != nil {
		s.logger.Warn("Failed to cache aggregate", zap.String("user_id", agg.UserID), zap.Error(err))
		return false
	}
	return true
}

func (s *impactService) lockFor(userID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return &s.locks[h.Sum32()%cacheLockStripes]
}
