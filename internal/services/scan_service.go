package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"recycloai/internal/classifier"
	"recycloai/internal/events"
	"recycloai/internal/impact"
	"recycloai/internal/metrics"
	"recycloai/internal/models"
	"recycloai/internal/repositories"
	"recycloai/internal/storage"
	"recycloai/internal/validation"
)

// ScanServiceConfig tunes the scan pipeline
type ScanServiceConfig struct {
	MaxImageBytes      int64
	MaxConflictRetries int
}

type scanService struct {
	scans        repositories.ScanRepository
	classifier   classifier.Classifier
	storage      storage.Storage
	achievements AchievementService
	impact       ImpactService
	events       events.EventBus
	logger       *zap.Logger
	config       ScanServiceConfig
	now          func() time.Time
}

// NewScanService creates the scan pipeline. bus may be nil.
func NewScanService(
	scans repositories.ScanRepository,
	cls classifier.Classifier,
	store storage.Storage,
	achievements AchievementService,
	impactSvc ImpactService,
	bus events.EventBus,
	logger *zap.Logger,
	config ScanServiceConfig,
) ScanService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxImageBytes <= 0 {
		config.MaxImageBytes = 10 << 20
	}
	return &scanService{
		scans:        scans,
		classifier:   cls,
		storage:      store,
		achievements: achievements,
		impact:       impactSvc,
		events:       bus,
		logger:       logger,
		config:       config,
		now:          time.Now,
	}
}

// ===============================
// PIPELINE
// ===============================

func (s *scanService) SubmitScan(ctx context.Context, req *SubmitScanRequest) (*ScanResult, error) {
	if err := validation.ValidateStruct(req); err != nil {
		metrics.ScansRecorded.WithLabelValues("invalid").Inc()
		return nil, NewValidationError("invalid scan submission", err)
	}
	if _, err := storage.DetectImage(req.Image, s.config.MaxImageBytes); err != nil {
		metrics.ScansRecorded.WithLabelValues("invalid").Inc()
		return nil, imageError(err)
	}

	logger := s.logger.With(zap.String("user_id", req.UserID))

	prediction, err := s.classifier.Classify(ctx, req.Filename, req.Image)
	if err != nil {
		metrics.ScansRecorded.WithLabelValues("classification_error").Inc()
		logger.Warn("Classification failed", zap.Error(err))
		return nil, NewClassificationError(err)
	}
	label := impact.Normalize(prediction.Label)

	obj, err := s.storage.Upload(ctx, req.UserID, req.Filename, req.Image)
	if err != nil {
		metrics.ScansRecorded.WithLabelValues("storage_error").Inc()
		logger.Warn("Image upload failed", zap.Error(err))
		return nil, NewStorageError(err)
	}

	result := impact.Calculate(label)

	recorded, err := s.Record(ctx, &RecordScanRequest{
		UserID:       req.UserID,
		WasteType:    label,
		ImageURL:     obj.URL,
		Confidence:   prediction.Confidence,
		CO2Saved:     result.CO2Saved,
		PointsEarned: result.PointsEarned,
	})
	if err != nil {
		s.discardUpload(ctx, obj)
		return nil, err
	}

	// The scan is committed; nothing below may fail the request.
	derivedCtx := context.WithoutCancel(ctx)

	unlocked, err := s.achievements.EvaluateForUser(derivedCtx, req.UserID, recorded.Aggregate.TotalPoints)
	if err != nil {
		s.derivedFailure(logger, "achievements", err)
	}

	s.impact.Refresh(derivedCtx, recorded.Aggregate)
	s.publish(derivedCtx, recorded, unlocked)

	metrics.ScansRecorded.WithLabelValues("recorded").Inc()
	metrics.PointsAwarded.WithLabelValues(label).Add(float64(result.PointsEarned))
	metrics.CO2Saved.Add(result.CO2Saved)

	logger.Info("Scan recorded",
		zap.Int64("scan_id", recorded.Scan.ID),
		zap.String("waste_type", label),
		zap.Float64("confidence", prediction.Confidence),
		zap.Int("points", result.PointsEarned),
		zap.Int("total_points", recorded.Aggregate.TotalPoints),
		zap.Int("unlocked", len(unlocked)),
	)

	if unlocked == nil {
		unlocked = []models.AchievementStatus{}
	}
	return &ScanResult{
		Scan:          recorded.Scan,
		Impact:        result,
		Guidance:      impact.Guide(label),
		Aggregate:     recorded.Aggregate,
		NewlyUnlocked: unlocked,
	}, nil
}

func (s *scanService) discardUpload(ctx context.Context, obj *storage.Object) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.storage.Delete(ctx, obj.PublicID); err != nil {
		s.logger.Warn("Failed to delete orphaned upload",
			zap.String("public_id", obj.PublicID),
			zap.Error(err),
		)
	}
}

func (s *scanService) publish(ctx context.Context, recorded *RecordScanResult, unlocked []models.AchievementStatus) {
	if s.events == nil {
		return
	}
	userID := recorded.Scan.UserID

	evs := []events.Event{events.NewScanRecordedEvent(*recorded.Scan, *recorded.Aggregate)}
	for _, a := range unlocked {
		at := time.Time{}
		if a.UnlockedAt != nil {
			at = *a.UnlockedAt
		}
		evs = append(evs, events.NewAchievementUnlockedEvent(userID, a.AchievementDefinition, at))
	}

	for _, ev := range evs {
		if err := s.events.PublishAsync(ctx, ev); err != nil {
			s.derivedFailure(s.logger.With(zap.String("user_id", userID)), "publish", err)
		}
	}
}

func (s *scanService) derivedFailure(logger *zap.Logger, step string, err error) {
	metrics.DerivedFailures.WithLabelValues(step).Inc()
	logger.Warn("Derived step failed, skipping", zap.Error(NewDerivedComputationError(step, err)))
}

// ===============================
// RECORDER
// ===============================

func (s *scanService) Record(ctx context.Context, req *RecordScanRequest) (*RecordScanResult, error) {
	if err := validation.ValidateStruct(req); err != nil {
		return nil, NewValidationError("invalid scan record", err)
	}

	var result *RecordScanResult
	operation := func() error {
		r, err := s.recordOnce(ctx, req)
		if err != nil {
			if errors.Is(err, repositories.ErrVersionConflict) {
				metrics.RecordConflicts.Inc()
				return err
			}
			return backoff.Permanent(err)
		}
		result = r
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond
	retries := uint64(max(s.config.MaxConflictRetries, 0))

	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx)); err != nil {
		metrics.ScansRecorded.WithLabelValues("persistence_error").Inc()
		s.logger.Error("Failed to record scan",
			zap.String("user_id", req.UserID),
			zap.String("waste_type", req.WasteType),
			zap.Error(err),
		)
		if errors.Is(err, repositories.ErrVersionConflict) {
			return nil, NewPersistenceError("the impact record changed concurrently, please retry", err)
		}
		return nil, NewPersistenceError("failed to record scan", err)
	}
	return result, nil
}

// recordOnce is one attempt at the unit of work: aggregate update, scan
// insert and the derived most common waste type, committed together.
func (s *scanService) recordOnce(ctx context.Context, req *RecordScanRequest) (*RecordScanResult, error) {
	now := s.now().UTC().Truncate(time.Microsecond)
	in := models.Impact{CO2Saved: req.CO2Saved, PointsEarned: req.PointsEarned}

	var out *RecordScanResult
	err := s.scans.WithUserLock(ctx, req.UserID, func(tx repositories.ScanTx, current models.UserImpactAggregate) error {
		next := impact.Apply(current, in, now)
		next.UserID = req.UserID

		if err := tx.SaveAggregate(ctx, &next, current.Version); err != nil {
			return fmt.Errorf("save aggregate: %w", err)
		}

		scan := &models.ScanRecord{
			UserID:       req.UserID,
			WasteType:    req.WasteType,
			ImageURL:     req.ImageURL,
			Confidence:   req.Confidence,
			CO2Saved:     req.CO2Saved,
			PointsEarned: req.PointsEarned,
			CreatedAt:    now,
		}
		if err := tx.InsertScan(ctx, scan); err != nil {
			return fmt.Errorf("insert scan: %w", err)
		}

		skipped := false
		err := tx.Guard(ctx, "most_common", func() error {
			counts, err := tx.WasteTypeCounts(ctx)
			if err != nil {
				return err
			}
			mostCommon := impact.MostCommon(counts)
			if err := tx.SetMostCommonWaste(ctx, mostCommon); err != nil {
				return err
			}
			next.MostCommonWaste = mostCommon
			return nil
		})
		if err != nil {
			skipped = true
			s.derivedFailure(s.logger.With(zap.String("user_id", req.UserID)), "most_common", err)
		}

		out = &RecordScanResult{Scan: scan, Aggregate: &next, MostCommonSkipped: skipped}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ===============================
// HISTORY
// ===============================

func (s *scanService) ListScans(ctx context.Context, userID string, params models.PaginationParams) (*models.PaginatedResponse[*models.ScanRecord], error) {
	if userID == "" {
		return nil, NewUnauthorizedError("authentication required")
	}
	if err := validation.ValidateStruct(&params); err != nil {
		return nil, NewValidationError("invalid pagination", err)
	}

	scans, total, err := s.scans.ListByUser(ctx, userID, params)
	if err != nil {
		return nil, NewInternalError("failed to list scans", err)
	}
	if scans == nil {
		scans = []*models.ScanRecord{}
	}

	return &models.PaginatedResponse[*models.ScanRecord]{
		Data:       scans,
		Pagination: models.NewPaginationMeta(params, total),
	}, nil
}
