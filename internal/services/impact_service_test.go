package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"recycloai/internal/cache"
	"recycloai/internal/models"
	"recycloai/internal/repositories"
)

func TestGetImpact_RanksShareTies(t *testing.T) {
	h := newHarness(t)
	h.record(t, "alice", "battery", 1.2, 100)
	h.record(t, "bob", "paper", 0.3, 50)
	h.record(t, "carol", "paper", 0.3, 50)

	ctx := context.Background()
	for user, want := range map[string]int{"alice": 1, "bob": 2, "carol": 2} {
		summary, err := h.impact.GetImpact(ctx, user)
		require.NoError(t, err)
		require.NotNil(t, summary.Rank, user)
		assert.Equal(t, want, *summary.Rank, user)
	}

	board, err := h.impact.Leaderboard(ctx, 0)
	require.NoError(t, err)
	require.Len(t, board, 3)
	assert.Equal(t, []int{1, 2, 2}, []int{board[0].Rank, board[1].Rank, board[2].Rank})
}

func TestGetImpact_UserWithoutScans(t *testing.T) {
	h := newHarness(t)

	summary, err := h.impact.GetImpact(context.Background(), "newcomer")
	require.NoError(t, err)
	assert.Nil(t, summary.Rank)
	assert.Equal(t, "newcomer", summary.Aggregate.UserID)
	assert.Zero(t, summary.Aggregate.TotalScans)
	assert.Zero(t, summary.Aggregate.AvgCO2PerScan)
	assert.Equal(t, "", summary.Aggregate.MostCommonWaste)

	_, err = h.impact.GetImpact(context.Background(), "")
	assert.Equal(t, ErrTypeUnauthorized, GetServiceError(err).Type)
}

func TestGetImpact_CacheFollowsNewScans(t *testing.T) {
	h := newHarness(t, "paper")
	h.submit(t, "u1")

	ctx := context.Background()
	first, err := h.impact.GetImpact(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, first.Aggregate.TotalScans)

	_, cached, err := h.cache.Get(ctx, impactCacheKey("u1"))
	require.NoError(t, err)
	assert.True(t, cached)

	h.submit(t, "u1")
	second, err := h.impact.GetImpact(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, second.Aggregate.TotalScans)
}

// gatedImpactRepo holds the first aggregate read until released
type gatedImpactRepo struct {
	repositories.ImpactRepository
	once    sync.Once
	loaded  chan struct{}
	release chan struct{}
}

func (g *gatedImpactRepo) GetAggregate(ctx context.Context, userID string) (*models.UserImpactAggregate, error) {
	agg, err := g.ImpactRepository.GetAggregate(ctx, userID)
	g.once.Do(func() {
		close(g.loaded)
		<-g.release
	})
	return agg, err
}

func TestGetImpact_SlowReadDoesNotOverwriteNewerAggregate(t *testing.T) {
	h := newHarness(t, "paper")
	ctx := context.Background()
	h.submit(t, "u1")
	require.NoError(t, h.cache.Delete(ctx, impactCacheKey("u1")))

	gated := &gatedImpactRepo{ImpactRepository: h.store, loaded: make(chan struct{}), release: make(chan struct{})}
	reader := NewImpactService(gated, h.cache, time.Minute, zap.NewNop())

	done := make(chan *ImpactSummary, 1)
	go func() {
		summary, err := reader.GetImpact(ctx, "u1")
		assert.NoError(t, err)
		done <- summary
	}()

	<-gated.loaded
	h.submit(t, "u1")
	close(gated.release)

	stale := <-done
	require.NotNil(t, stale)
	assert.Equal(t, 1, stale.Aggregate.TotalScans)

	current, err := h.impact.GetImpact(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, current.Aggregate.TotalScans)
	assert.Equal(t, int64(2), current.Aggregate.Version)
}

func TestImpactService_RefreshKeepsNewestVersion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.impact.Refresh(ctx, &models.UserImpactAggregate{UserID: "u1", TotalScans: 3, Version: 3})
	h.impact.Refresh(ctx, &models.UserImpactAggregate{UserID: "u1", TotalScans: 2, Version: 2})

	cached, ok := cache.GetJSON[models.UserImpactAggregate](ctx, h.cache, impactCacheKey("u1"))
	require.True(t, ok)
	assert.Equal(t, int64(3), cached.Version)
	assert.Equal(t, 3, cached.TotalScans)
}

type brokenImpactRepo struct {
	repositories.ImpactRepository
}

func (brokenImpactRepo) GetAggregate(context.Context, string) (*models.UserImpactAggregate, error) {
	return nil, errors.New("connection refused")
}

func (brokenImpactRepo) Rank(context.Context, string) (*int, error) {
	return nil, nil
}

func TestGetImpact_StoreFailure(t *testing.T) {
	svc := NewImpactService(brokenImpactRepo{}, nil, 0, zap.NewNop())

	_, err := svc.GetImpact(context.Background(), "u1")
	require.Error(t, err)
	assert.Equal(t, ErrTypeInternal, GetServiceError(err).Type)
}

func TestLeaderboard_ClampsLimit(t *testing.T) {
	h := newHarness(t)
	for _, u := range []string{"a", "b", "c"} {
		h.record(t, u, "paper", 0.3, 5)
	}

	board, err := h.impact.Leaderboard(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, board, 2)

	board, err = h.impact.Leaderboard(context.Background(), 5000)
	require.NoError(t, err)
	assert.Len(t, board, 3)
}

func TestAchievements_ListForUser(t *testing.T) {
	h := newHarness(t, "battery")
	h.submit(t, "u1")

	svc := NewAchievementService(h.store.Achievements(), h.store, zap.NewNop())
	statuses, err := svc.ListForUser(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, statuses, len(repositories.DefaultAchievementDefinitions))

	assert.True(t, statuses[0].Unlocked)
	assert.Equal(t, 10, statuses[0].Progress)
	assert.False(t, statuses[1].Unlocked)
	assert.Equal(t, 15, statuses[1].Progress)

	fresh, err := svc.ListForUser(context.Background(), "nobody")
	require.NoError(t, err)
	for _, st := range fresh {
		assert.False(t, st.Unlocked)
		assert.Zero(t, st.Progress)
	}
}

func TestAchievements_EvaluateIsIdempotent(t *testing.T) {
	h := newHarness(t)
	svc := NewAchievementService(h.store.Achievements(), h.store, zap.NewNop())
	ctx := context.Background()

	unlocked, err := svc.EvaluateForUser(ctx, "u1", 120)
	require.NoError(t, err)
	require.Len(t, unlocked, 3)

	again, err := svc.EvaluateForUser(ctx, "u1", 120)
	require.NoError(t, err)
	assert.Empty(t, again)

	rows, err := h.store.Achievements().ListByUser(ctx, "u1")
	require.NoError(t, err)
	for _, r := range rows {
		if r.Unlocked {
			assert.Equal(t, *unlocked[0].UnlockedAt, *r.UnlockedAt)
		}
	}
}
