package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"recycloai/internal/cache"
	"recycloai/internal/classifier"
	"recycloai/internal/events"
	"recycloai/internal/metrics"
	"recycloai/internal/models"
	"recycloai/internal/repositories"
	"recycloai/internal/storage"
)

var pngImage = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)

// ===============================
// FAKES
// ===============================

type fakeClassifier struct {
	mu     sync.Mutex
	labels []string
	err    error
	calls  int
}

func (f *fakeClassifier) Classify(_ context.Context, _ string, _ []byte) (*classifier.Prediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	label := f.labels[0]
	if len(f.labels) > 1 {
		f.labels = f.labels[1:]
	}
	return &classifier.Prediction{Label: label, Confidence: 0.9}, nil
}

type fakeStorage struct {
	mu      sync.Mutex
	err     error
	next    int
	objects map[string]bool
	deleted []string
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: make(map[string]bool)}
}

func (f *fakeStorage) Upload(_ context.Context, userID, _ string, _ []byte) (*storage.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.next++
	id := fmt.Sprintf("%s/%d", userID, f.next)
	f.objects[id] = true
	return &storage.Object{URL: "https://cdn.test/" + id + ".png", PublicID: id, ContentType: "image/png"}, nil
}

func (f *fakeStorage) Delete(_ context.Context, publicID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, publicID)
	f.deleted = append(f.deleted, publicID)
	return nil
}

func (f *fakeStorage) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

// faultyScans wraps a ScanRepository to inject failures into the unit of work
type faultyScans struct {
	repositories.ScanRepository
	insertErr error
	countsErr error
	conflicts int32
}

func (f *faultyScans) WithUserLock(ctx context.Context, userID string, fn func(tx repositories.ScanTx, current models.UserImpactAggregate) error) error {
	if atomic.AddInt32(&f.conflicts, -1) >= 0 {
		return repositories.ErrVersionConflict
	}
	return f.ScanRepository.WithUserLock(ctx, userID, func(tx repositories.ScanTx, current models.UserImpactAggregate) error {
		return fn(&faultyTx{ScanTx: tx, f: f}, current)
	})
}

type faultyTx struct {
	repositories.ScanTx
	f *faultyScans
}

func (t *faultyTx) InsertScan(ctx context.Context, scan *models.ScanRecord) error {
	if t.f.insertErr != nil {
		return t.f.insertErr
	}
	return t.ScanTx.InsertScan(ctx, scan)
}

func (t *faultyTx) WasteTypeCounts(ctx context.Context) ([]models.WasteTypeCount, error) {
	if t.f.countsErr != nil {
		return nil, t.f.countsErr
	}
	return t.ScanTx.WasteTypeCounts(ctx)
}

// ===============================
// HARNESS
// ===============================

type harness struct {
	store      *repositories.MemoryStore
	scans      *faultyScans
	classifier *fakeClassifier
	storage    *fakeStorage
	cache      cache.Cache
	bus        events.EventBus
	impact     ImpactService
	svc        ScanService
}

func newHarness(t *testing.T, labels ...string) *harness {
	t.Helper()
	if len(labels) == 0 {
		labels = []string{"plastic"}
	}
	store := repositories.NewMemoryStore(nil)
	c, err := cache.NewCache(cache.DefaultConfig(), zap.NewNop())
	require.NoError(t, err)

	h := &harness{
		store:      store,
		scans:      &faultyScans{ScanRepository: store},
		classifier: &fakeClassifier{labels: labels},
		storage:    newFakeStorage(),
		cache:      c,
		bus:        events.NewEventBus(nil, zap.NewNop()),
	}
	h.impact = NewImpactService(store, c, time.Minute, zap.NewNop())
	achievementSvc := NewAchievementService(store.Achievements(), store, zap.NewNop())
	h.svc = NewScanService(h.scans, h.classifier, h.storage, achievementSvc, h.impact, h.bus, zap.NewNop(),
		ScanServiceConfig{MaxImageBytes: 1 << 20, MaxConflictRetries: 3})
	return h
}

func (h *harness) submit(t *testing.T, userID string) *ScanResult {
	t.Helper()
	res, err := h.svc.SubmitScan(context.Background(), &SubmitScanRequest{UserID: userID, Filename: "item.png", Image: pngImage})
	require.NoError(t, err)
	return res
}

func (h *harness) record(t *testing.T, userID, wasteType string, co2 float64, points int) *RecordScanResult {
	t.Helper()
	res, err := h.svc.Record(context.Background(), &RecordScanRequest{
		UserID: userID, WasteType: wasteType, Confidence: 0.8, CO2Saved: co2, PointsEarned: points,
	})
	require.NoError(t, err)
	return res
}

// ===============================
// RECORDER
// ===============================

func TestRecord_SequentialScansAccumulate(t *testing.T) {
	h := newHarness(t)
	const n = 10
	for i := 0; i < n; i++ {
		h.record(t, "u1", "metal", 0.9, 12)
	}

	agg, err := h.store.GetAggregate(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, n, agg.TotalScans)
	assert.InDelta(t, 9.0, agg.TotalCO2Saved, 1e-9)
	assert.Equal(t, 120, agg.TotalPoints)
	assert.InDelta(t, 0.9, agg.AvgCO2PerScan, 1e-9)
	assert.Equal(t, "metal", agg.MostCommonWaste)
	assert.Equal(t, int64(n), agg.Version)
}

func TestRecord_ConcurrentScansDoNotLoseUpdates(t *testing.T) {
	h := newHarness(t)
	const n = 50

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.Record(context.Background(), &RecordScanRequest{
				UserID: "u1", WasteType: "paper", CO2Saved: 0.3, PointsEarned: 5,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	agg, err := h.store.GetAggregate(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, n, agg.TotalScans)
	assert.Equal(t, n*5, agg.TotalPoints)
	assert.InDelta(t, 0.3*n, agg.TotalCO2Saved, 1e-9)

	_, total, err := h.store.ListByUser(context.Background(), "u1", models.NewPaginationParams(1, 100))
	require.NoError(t, err)
	assert.Equal(t, int64(n), total)
}

func TestRecord_InsertFailureRollsBackAggregate(t *testing.T) {
	h := newHarness(t)
	h.record(t, "u1", "glass", 0.3, 6)

	h.scans.insertErr = errors.New("disk full")
	_, err := h.svc.Record(context.Background(), &RecordScanRequest{UserID: "u1", WasteType: "metal", CO2Saved: 0.9, PointsEarned: 12})
	require.Error(t, err)
	assert.True(t, IsPersistenceError(err))
	assert.Equal(t, http.StatusInternalServerError, GetServiceError(err).GetStatusCode())

	agg, err := h.store.GetAggregate(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, agg.TotalScans)
	assert.Equal(t, 6, agg.TotalPoints)
}

func TestRecord_MostCommonFailureIsSkipped(t *testing.T) {
	h := newHarness(t)
	h.record(t, "u1", "paper", 0.3, 5)

	h.scans.countsErr = errors.New("count query failed")
	res := h.record(t, "u1", "metal", 0.9, 12)
	assert.True(t, res.MostCommonSkipped)
	assert.Equal(t, "paper", res.Aggregate.MostCommonWaste)

	agg, err := h.store.GetAggregate(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, agg.TotalScans)
	assert.Equal(t, 17, agg.TotalPoints)
	assert.Equal(t, "paper", agg.MostCommonWaste)
}

func TestRecord_RetriesVersionConflicts(t *testing.T) {
	h := newHarness(t)
	h.scans.conflicts = 2

	res := h.record(t, "u1", "paper", 0.3, 5)
	assert.Equal(t, 1, res.Aggregate.TotalScans)
}

func TestRecord_GivesUpAfterConflictRetries(t *testing.T) {
	h := newHarness(t)
	h.scans.conflicts = 10

	_, err := h.svc.Record(context.Background(), &RecordScanRequest{UserID: "u1", WasteType: "paper", CO2Saved: 0.3, PointsEarned: 5})
	require.Error(t, err)
	assert.True(t, IsPersistenceError(err))
	assert.ErrorIs(t, err, repositories.ErrVersionConflict)
	assert.Equal(t, true, GetServiceError(err).Details["retryable"])
}

func TestRecord_ValidatesInput(t *testing.T) {
	h := newHarness(t)
	cases := []*RecordScanRequest{
		{WasteType: "paper"},
		{UserID: "u1"},
		{UserID: "u1", WasteType: "paper", Confidence: 1.5},
		{UserID: "u1", WasteType: "paper", CO2Saved: -1},
		{UserID: "u1", WasteType: "paper", PointsEarned: -3},
	}
	for _, req := range cases {
		_, err := h.svc.Record(context.Background(), req)
		assert.True(t, IsValidationError(err), "%+v", req)
	}
}

// ===============================
// PIPELINE
// ===============================

func TestSubmitScan_PlasticThenTrash(t *testing.T) {
	h := newHarness(t, "Plastic", "trash")

	first := h.submit(t, "u1")
	assert.Equal(t, "plastic", first.Scan.WasteType)
	assert.Equal(t, 8, first.Impact.PointsEarned)
	assert.Equal(t, "plastic", first.Guidance.WasteType)

	second := h.submit(t, "u1")
	assert.Equal(t, "trash", second.Scan.WasteType)
	assert.Zero(t, second.Impact.PointsEarned)

	agg := second.Aggregate
	assert.Equal(t, 2, agg.TotalScans)
	assert.InDelta(t, 0.5, agg.TotalCO2Saved, 1e-9)
	assert.Equal(t, 8, agg.TotalPoints)
	assert.InDelta(t, 0.25, agg.AvgCO2PerScan, 1e-9)
	assert.Equal(t, "plastic", agg.MostCommonWaste)
	assert.Equal(t, 2, h.storage.count())
}

func TestSubmitScan_ClassificationFailureLeavesNoState(t *testing.T) {
	h := newHarness(t)
	h.classifier.err = fmt.Errorf("%w: deadline", classifier.ErrTimeout)

	_, err := h.svc.SubmitScan(context.Background(), &SubmitScanRequest{UserID: "u1", Image: pngImage})
	require.Error(t, err)
	assert.True(t, IsClassificationError(err))
	assert.Equal(t, http.StatusGatewayTimeout, GetServiceError(err).GetStatusCode())

	assert.Zero(t, h.storage.count())
	_, err = h.store.GetAggregate(context.Background(), "u1")
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}

func TestSubmitScan_RejectedImageIs422(t *testing.T) {
	h := newHarness(t)
	h.classifier.err = fmt.Errorf("%w: status 400", classifier.ErrRejected)

	_, err := h.svc.SubmitScan(context.Background(), &SubmitScanRequest{UserID: "u1", Image: pngImage})
	assert.Equal(t, http.StatusUnprocessableEntity, GetServiceError(err).GetStatusCode())
	assert.Nil(t, GetServiceError(err).Details["retryable"])
}

func TestSubmitScan_StorageFailureLeavesNoState(t *testing.T) {
	h := newHarness(t)
	h.storage.err = storage.ErrUploadFailed

	_, err := h.svc.SubmitScan(context.Background(), &SubmitScanRequest{UserID: "u1", Image: pngImage})
	require.Error(t, err)
	assert.True(t, IsStorageError(err))
	assert.Equal(t, http.StatusBadGateway, GetServiceError(err).GetStatusCode())

	_, err = h.store.GetAggregate(context.Background(), "u1")
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}

func TestSubmitScan_PersistenceFailureDiscardsUpload(t *testing.T) {
	h := newHarness(t)
	h.scans.insertErr = errors.New("constraint violation")

	_, err := h.svc.SubmitScan(context.Background(), &SubmitScanRequest{UserID: "u1", Image: pngImage})
	require.Error(t, err)
	assert.True(t, IsPersistenceError(err))
	assert.Zero(t, h.storage.count())
	assert.Len(t, h.storage.deleted, 1)
}

func TestSubmitScan_RejectsNonImages(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.SubmitScan(context.Background(), &SubmitScanRequest{UserID: "u1", Image: []byte("plain text")})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
	assert.Equal(t, http.StatusUnsupportedMediaType, GetServiceError(err).GetStatusCode())
	assert.Zero(t, h.classifier.calls)

	_, err = h.svc.SubmitScan(context.Background(), &SubmitScanRequest{Image: pngImage})
	assert.True(t, IsValidationError(err))
}

func TestSubmitScan_CancelledContextLeavesNoState(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.svc.SubmitScan(ctx, &SubmitScanRequest{UserID: "u1", Image: pngImage})
	require.Error(t, err)

	_, err = h.store.GetAggregate(context.Background(), "u1")
	assert.ErrorIs(t, err, repositories.ErrNotFound)
	assert.Zero(t, h.storage.count())
}

func TestSubmitScan_ReportsEachUnlockOnce(t *testing.T) {
	h := newHarness(t, "metal")

	first := h.submit(t, "u1")
	require.Len(t, first.NewlyUnlocked, 1)
	assert.Equal(t, "First Steps", first.NewlyUnlocked[0].Name)
	assert.NotNil(t, first.NewlyUnlocked[0].UnlockedAt)

	second := h.submit(t, "u1")
	assert.Empty(t, second.NewlyUnlocked)
	assert.NotNil(t, second.NewlyUnlocked)
}

type failingAchievements struct {
	repositories.AchievementRepository
	definitionsErr error
	upsertErr      error
}

func (f failingAchievements) ListDefinitions(ctx context.Context) ([]models.AchievementDefinition, error) {
	if f.definitionsErr != nil {
		return nil, f.definitionsErr
	}
	return f.AchievementRepository.ListDefinitions(ctx)
}

func (f failingAchievements) Upsert(ctx context.Context, rows []models.UserAchievement) ([]models.UserAchievement, error) {
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	return f.AchievementRepository.Upsert(ctx, rows)
}

func TestSubmitScan_AchievementFailureIsSwallowed(t *testing.T) {
	tests := []struct {
		name string
		repo func(repositories.AchievementRepository) repositories.AchievementRepository
	}{
		{"definitions unavailable", func(r repositories.AchievementRepository) repositories.AchievementRepository {
			return failingAchievements{AchievementRepository: r, definitionsErr: errors.New("relation does not exist")}
		}},
		{"upsert fails", func(r repositories.AchievementRepository) repositories.AchievementRepository {
			return failingAchievements{AchievementRepository: r, upsertErr: errors.New("deadlock detected")}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, "metal")
			achievementSvc := NewAchievementService(tt.repo(h.store.Achievements()), h.store, zap.NewNop())
			svc := NewScanService(h.scans, h.classifier, h.storage, achievementSvc, h.impact, h.bus, zap.NewNop(),
				ScanServiceConfig{MaxImageBytes: 1 << 20, MaxConflictRetries: 3})

			failures := testutil.ToFloat64(metrics.DerivedFailures.WithLabelValues("achievements"))

			res, err := svc.SubmitScan(context.Background(), &SubmitScanRequest{UserID: "u1", Filename: "can.png", Image: pngImage})
			require.NoError(t, err)
			require.NotNil(t, res.NewlyUnlocked)
			assert.Empty(t, res.NewlyUnlocked)
			assert.Equal(t, 12, res.Aggregate.TotalPoints)

			stored, err := h.store.GetAggregate(context.Background(), "u1")
			require.NoError(t, err)
			assert.Equal(t, 1, stored.TotalScans)
			assert.Equal(t, 12, stored.TotalPoints)

			assert.Equal(t, failures+1, testutil.ToFloat64(metrics.DerivedFailures.WithLabelValues("achievements")))
		})
	}
}

func TestSubmitScan_PublishesEvents(t *testing.T) {
	h := newHarness(t, "battery")
	got := make(chan string, 4)
	require.NoError(t, h.bus.SubscribePattern("*", events.NewEventHandlerFunc("test", func(_ context.Context, e events.Event) error {
		got <- e.GetEventType()
		return nil
	})))
	require.NoError(t, h.bus.Start(context.Background()))
	defer h.bus.Stop(context.Background())

	h.submit(t, "u1")

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case ev := <-got:
			seen[ev] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for events")
		}
	}
	assert.True(t, seen[events.EventScanRecorded])
	assert.True(t, seen[events.EventAchievementUnlocked])
}

// ===============================
// HISTORY
// ===============================

func TestListScans_NewestFirst(t *testing.T) {
	h := newHarness(t, "paper", "glass", "metal")
	for i := 0; i < 3; i++ {
		h.submit(t, "u1")
	}

	page, err := h.svc.ListScans(context.Background(), "u1", models.NewPaginationParams(1, 2))
	require.NoError(t, err)
	require.Len(t, page.Data, 2)
	assert.Equal(t, "metal", page.Data[0].WasteType)
	assert.Equal(t, "glass", page.Data[1].WasteType)
	assert.Equal(t, int64(3), page.Pagination.TotalItems)
	assert.True(t, page.Pagination.HasNext)

	empty, err := h.svc.ListScans(context.Background(), "nobody", models.NewPaginationParams(1, 20))
	require.NoError(t, err)
	assert.NotNil(t, empty.Data)
	assert.Empty(t, empty.Data)
}
