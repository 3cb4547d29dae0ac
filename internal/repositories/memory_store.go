package repositories

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/exp/slices"

	"recycloai/internal/models"
)

// DefaultAchievementDefinitions mirrors the rows seeded by the migrations
var DefaultAchievementDefinitions = []models.AchievementDefinition{
	{ID: 1, Name: "First Steps", Description: "Earn your first 10 points", Icon: "sprout", PointsThreshold: 10},
	{ID: 2, Name: "Eco Starter", Description: "Reach 50 points", Icon: "leaf", PointsThreshold: 50},
	{ID: 3, Name: "Recycling Regular", Description: "Reach 100 points", Icon: "recycle", PointsThreshold: 100},
	{ID: 4, Name: "Green Champion", Description: "Reach 250 points", Icon: "trophy", PointsThreshold: 250},
	{ID: 5, Name: "Planet Protector", Description: "Reach 500 points", Icon: "globe", PointsThreshold: 500},
	{ID: 6, Name: "Sustainability Legend", Description: "Reach 1000 points", Icon: "star", PointsThreshold: 1000},
}

// MemoryStore keeps scans, aggregates and achievements in process. It
// implements ScanRepository, ImpactRepository and AchievementRepository with
// the same guarantees as the Postgres implementations: writers for one user
// are serialized and a failed unit of work leaves no trace.
type MemoryStore struct {
	mu               sync.RWMutex
	nextScanID       int64
	scans            []*models.ScanRecord
	aggregates       map[string]models.UserImpactAggregate
	definitions      []models.AchievementDefinition
	userAchievements map[string]map[int64]models.UserAchievement

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewMemoryStore creates an empty store. Nil definitions seed the defaults.
func NewMemoryStore(defs []models.AchievementDefinition) *MemoryStore {
	if defs == nil {
		defs = DefaultAchievementDefinitions
	}
	sorted := slices.Clone(defs)
	slices.SortFunc(sorted, func(a, b models.AchievementDefinition) int {
		if a.PointsThreshold != b.PointsThreshold {
			return a.PointsThreshold - b.PointsThreshold
		}
		return int(a.ID - b.ID)
	})
	return &MemoryStore{
		aggregates:       make(map[string]models.UserImpactAggregate),
		definitions:      sorted,
		userAchievements: make(map[string]map[int64]models.UserAchievement),
		locks:            make(map[string]*sync.Mutex),
	}
}

func (s *MemoryStore) userLock(userID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	return l
}

// ===============================
// ScanRepository
// ===============================

func (s *MemoryStore) WithUserLock(ctx context.Context, userID string, fn func(tx ScanTx, current models.UserImpactAggregate) error) error {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	current, ok := s.aggregates[userID]
	s.mu.RUnlock()
	if !ok {
		current = models.UserImpactAggregate{UserID: userID}
	}

	tx := &memScanTx{store: s, userID: userID, agg: current, baseVersion: current.Version}
	if err := fn(tx, current); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if committed, ok := s.aggregates[userID]; ok && committed.Version != tx.baseVersion {
		return ErrVersionConflict
	}
	s.aggregates[userID] = tx.agg
	s.scans = append(s.scans, tx.pending...)
	return nil
}

func (s *MemoryStore) ListByUser(ctx context.Context, userID string, params models.PaginationParams) ([]*models.ScanRecord, int64, error) {
	s.mu.RLock()
	var mine []*models.ScanRecord
	for _, sc := range s.scans {
		if sc.UserID == userID {
			cp := *sc
			mine = append(mine, &cp)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(mine, func(a, b *models.ScanRecord) int {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if a.CreatedAt.After(b.CreatedAt) {
				return -1
			}
			return 1
		}
		return int(b.ID - a.ID)
	})

	total := int64(len(mine))
	start := params.Offset
	if start > len(mine) {
		start = len(mine)
	}
	end := start + params.Limit
	if params.Limit <= 0 || end > len(mine) {
		end = len(mine)
	}
	return append([]*models.ScanRecord{}, mine[start:end]...), total, nil
}

type memScanTx struct {
	store       *MemoryStore
	userID      string
	agg         models.UserImpactAggregate
	baseVersion int64
	saved       bool
	pending     []*models.ScanRecord
}

func (t *memScanTx) SaveAggregate(_ context.Context, agg *models.UserImpactAggregate, expectedVersion int64) error {
	if t.agg.Version != expectedVersion {
		return ErrVersionConflict
	}
	mostCommon := t.agg.MostCommonWaste
	t.agg = *agg
	t.agg.UserID = t.userID
	t.agg.MostCommonWaste = mostCommon
	t.saved = true
	return nil
}

func (t *memScanTx) InsertScan(_ context.Context, scan *models.ScanRecord) error {
	if scan.UserID != t.userID {
		return fmt.Errorf("scan belongs to %q, transaction holds %q", scan.UserID, t.userID)
	}
	scan.ID = atomic.AddInt64(&t.store.nextScanID, 1)
	cp := *scan
	t.pending = append(t.pending, &cp)
	return nil
}

func (t *memScanTx) WasteTypeCounts(_ context.Context) ([]models.WasteTypeCount, error) {
	index := make(map[string]int)
	var counts []models.WasteTypeCount
	add := func(sc *models.ScanRecord) {
		if sc.UserID != t.userID {
			return
		}
		i, ok := index[sc.WasteType]
		if !ok {
			index[sc.WasteType] = len(counts)
			counts = append(counts, models.WasteTypeCount{WasteType: sc.WasteType, FirstSeenID: sc.ID})
			i = len(counts) - 1
		}
		counts[i].Count++
		if sc.ID < counts[i].FirstSeenID {
			counts[i].FirstSeenID = sc.ID
		}
	}

	t.store.mu.RLock()
	for _, sc := range t.store.scans {
		add(sc)
	}
	t.store.mu.RUnlock()
	for _, sc := range t.pending {
		add(sc)
	}

	slices.SortFunc(counts, func(a, b models.WasteTypeCount) int {
		return int(a.FirstSeenID - b.FirstSeenID)
	})
	return counts, nil
}

func (t *memScanTx) SetMostCommonWaste(_ context.Context, wasteType string) error {
	t.agg.MostCommonWaste = wasteType
	return nil
}

func (t *memScanTx) Guard(_ context.Context, _ string, fn func() error) error {
	agg, saved, n := t.agg, t.saved, len(t.pending)
	if err := fn(); err != nil {
		t.agg, t.saved, t.pending = agg, saved, t.pending[:n]
		return err
	}
	return nil
}

// ===============================
// ImpactRepository
// ===============================

func (s *MemoryStore) GetAggregate(_ context.Context, userID string) (*models.UserImpactAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agg, ok := s.aggregates[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &agg, nil
}

func (s *MemoryStore) Rank(_ context.Context, userID string) (*int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agg, ok := s.aggregates[userID]
	if !ok {
		return nil, nil
	}
	rank := s.rankOf(agg.TotalPoints)
	return &rank, nil
}

// rankOf must be called with mu held
func (s *MemoryStore) rankOf(points int) int {
	rank := 1
	for _, other := range s.aggregates {
		if other.TotalPoints > points {
			rank++
		}
	}
	return rank
}

func (s *MemoryStore) Leaderboard(_ context.Context, limit int) ([]*models.LeaderboardEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]*models.LeaderboardEntry, 0, len(s.aggregates))
	for _, agg := range s.aggregates {
		entries = append(entries, &models.LeaderboardEntry{
			Rank:          s.rankOf(agg.TotalPoints),
			UserID:        agg.UserID,
			TotalPoints:   agg.TotalPoints,
			TotalScans:    agg.TotalScans,
			TotalCO2Saved: agg.TotalCO2Saved,
		})
	}
	slices.SortFunc(entries, func(a, b *models.LeaderboardEntry) int {
		if a.TotalPoints != b.TotalPoints {
			return b.TotalPoints - a.TotalPoints
		}
		switch {
		case a.UserID < b.UserID:
			return -1
		case a.UserID > b.UserID:
			return 1
		}
		return 0
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// ===============================
// AchievementRepository
// ===============================

func (s *MemoryStore) ListDefinitions(_ context.Context) ([]models.AchievementDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.definitions), nil
}

// listAchievements backs the AchievementRepository view; the store's own
// ListByUser belongs to ScanRepository.
func (s *MemoryStore) listAchievements(userID string) []models.UserAchievement {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := make([]models.UserAchievement, 0, len(s.userAchievements[userID]))
	for _, r := range s.userAchievements[userID] {
		rows = append(rows, r)
	}
	slices.SortFunc(rows, func(a, b models.UserAchievement) int {
		return int(a.AchievementID - b.AchievementID)
	})
	return rows
}

func (s *MemoryStore) upsertAchievements(rows []models.UserAchievement) []models.UserAchievement {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]models.UserAchievement, 0, len(rows))
	for _, row := range rows {
		byUser, ok := s.userAchievements[row.UserID]
		if !ok {
			byUser = make(map[int64]models.UserAchievement)
			s.userAchievements[row.UserID] = byUser
		}
		merged := row
		if prev, ok := byUser[row.AchievementID]; ok {
			merged.Unlocked = prev.Unlocked || row.Unlocked
			if prev.UnlockedAt != nil {
				merged.UnlockedAt = prev.UnlockedAt
			}
			if prev.Progress > merged.Progress {
				merged.Progress = prev.Progress
			}
		}
		byUser[row.AchievementID] = merged
		stored = append(stored, merged)
	}
	return stored
}

// Achievements returns the store viewed as an AchievementRepository
func (s *MemoryStore) Achievements() AchievementRepository {
	return memAchievements{s}
}

type memAchievements struct{ s *MemoryStore }

func (m memAchievements) ListDefinitions(ctx context.Context) ([]models.AchievementDefinition, error) {
	return m.s.ListDefinitions(ctx)
}

func (m memAchievements) ListByUser(_ context.Context, userID string) ([]models.UserAchievement, error) {
	return m.s.listAchievements(userID), nil
}

func (m memAchievements) Upsert(_ context.Context, rows []models.UserAchievement) ([]models.UserAchievement, error) {
	return m.s.upsertAchievements(rows), nil
}
