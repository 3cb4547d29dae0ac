package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"recycloai/internal/database"
	"recycloai/internal/models"
)

const (
	ensureAggregateQuery = `
		INSERT INTO user_impact_aggregates (user_id)
		VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING`

	lockAggregateQuery = `
		SELECT user_id, total_scans, total_co2_saved, total_points, avg_co2_per_scan,
		       most_common_waste, last_updated, version
		FROM user_impact_aggregates
		WHERE user_id = $1
		FOR UPDATE`

	saveAggregateQuery = `
		UPDATE user_impact_aggregates
		SET total_scans = $2, total_co2_saved = $3, total_points = $4,
		    avg_co2_per_scan = $5, last_updated = $6, version = $7
		WHERE user_id = $1 AND version = $8`

	insertScanQuery = `
		INSERT INTO scan_records (user_id, waste_type, image_url, confidence, co2_saved, points_earned, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	wasteTypeCountsQuery = `
		SELECT waste_type, COUNT(*) AS count, MIN(id) AS first_seen
		FROM scan_records
		WHERE user_id = $1
		GROUP BY waste_type
		ORDER BY first_seen`

	setMostCommonQuery = `
		UPDATE user_impact_aggregates
		SET most_common_waste = $2
		WHERE user_id = $1`

	countScansQuery = `SELECT COUNT(*) FROM scan_records WHERE user_id = $1`

	listScansQuery = `
		SELECT id, user_id, waste_type, image_url, confidence, co2_saved, points_earned, created_at
		FROM scan_records
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`
)

var savepointName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

type scanRepository struct {
	*BaseRepository
}

// NewScanRepository creates the Postgres scan repository
func NewScanRepository(db *database.Manager, logger *zap.Logger) ScanRepository {
	return &scanRepository{BaseRepository: NewBaseRepository(db, logger)}
}

// WithUserLock serializes writers per user: the aggregate row is created if
// missing and then locked with SELECT ... FOR UPDATE until commit.
func (r *scanRepository) WithUserLock(ctx context.Context, userID string, fn func(tx ScanTx, current models.UserImpactAggregate) error) error {
	return r.WithTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, ensureAggregateQuery, userID); err != nil {
			r.logTxError("ensure_aggregate", ensureAggregateQuery, err)
			return fmt.Errorf("failed to create aggregate row: %w", err)
		}

		var agg models.UserImpactAggregate
		err := tx.QueryRowContext(ctx, lockAggregateQuery, userID).Scan(
			&agg.UserID, &agg.TotalScans, &agg.TotalCO2Saved, &agg.TotalPoints,
			&agg.AvgCO2PerScan, &agg.MostCommonWaste, &agg.LastUpdated, &agg.Version,
		)
		if err != nil {
			r.logTxError("lock_aggregate", lockAggregateQuery, err)
			return fmt.Errorf("failed to lock aggregate: %w", err)
		}

		return fn(&pgScanTx{tx: tx, userID: userID, repo: r.BaseRepository}, agg)
	})
}

// ListByUser returns a page of the user's scans, newest first
func (r *scanRepository) ListByUser(ctx context.Context, userID string, params models.PaginationParams) ([]*models.ScanRecord, int64, error) {
	var total int64
	if err := r.QueryRowContext(ctx, countScansQuery, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count scans: %w", err)
	}
	if total == 0 {
		return []*models.ScanRecord{}, 0, nil
	}

	rows, err := r.QueryContext(ctx, listScansQuery, userID, params.Limit, params.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list scans: %w", err)
	}
	defer rows.Close()

	scans := make([]*models.ScanRecord, 0, params.Limit)
	for rows.Next() {
		s := &models.ScanRecord{}
		if err := rows.Scan(&s.ID, &s.UserID, &s.WasteType, &s.ImageURL, &s.Confidence,
			&s.CO2Saved, &s.PointsEarned, &s.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan row: %w", err)
		}
		scans = append(scans, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate scans: %w", err)
	}

	return scans, total, nil
}

type pgScanTx struct {
	tx     *sql.Tx
	userID string
	repo   *BaseRepository
}

func (t *pgScanTx) SaveAggregate(ctx context.Context, agg *models.UserImpactAggregate, expectedVersion int64) error {
	res, err := t.tx.ExecContext(ctx, saveAggregateQuery,
		t.userID, agg.TotalScans, agg.TotalCO2Saved, agg.TotalPoints,
		agg.AvgCO2PerScan, agg.LastUpdated, agg.Version, expectedVersion,
	)
	if err != nil {
		t.repo.logTxError("save_aggregate", saveAggregateQuery, err)
		return fmt.Errorf("failed to save aggregate: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return ErrVersionConflict
	}
	return nil
}

func (t *pgScanTx) InsertScan(ctx context.Context, scan *models.ScanRecord) error {
	err := t.tx.QueryRowContext(ctx, insertScanQuery,
		scan.UserID, scan.WasteType, scan.ImageURL, scan.Confidence,
		scan.CO2Saved, scan.PointsEarned, scan.CreatedAt,
	).Scan(&scan.ID)
	if err != nil {
		t.repo.logTxError("insert_scan", insertScanQuery, err)
		return fmt.Errorf("failed to insert scan: %w", err)
	}
	return nil
}

func (t *pgScanTx) WasteTypeCounts(ctx context.Context) ([]models.WasteTypeCount, error) {
	rows, err := t.tx.QueryContext(ctx, wasteTypeCountsQuery, t.userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count waste types: %w", err)
	}
	defer rows.Close()

	var counts []models.WasteTypeCount
	for rows.Next() {
		var c models.WasteTypeCount
		if err := rows.Scan(&c.WasteType, &c.Count, &c.FirstSeenID); err != nil {
			return nil, fmt.Errorf("failed to scan waste type count: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

func (t *pgScanTx) SetMostCommonWaste(ctx context.Context, wasteType string) error {
	if _, err := t.tx.ExecContext(ctx, setMostCommonQuery, t.userID, wasteType); err != nil {
		return fmt.Errorf("failed to set most common waste: %w", err)
	}
	return nil
}

// Guard wraps fn in a SAVEPOINT. On failure the savepoint is rolled back so
// the outer transaction can still commit.
func (t *pgScanTx) Guard(ctx context.Context, name string, fn func() error) error {
	if !savepointName.MatchString(name) {
		return fmt.Errorf("invalid savepoint name %q", name)
	}

	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("failed to create savepoint: %w", err)
	}

	if err := fn(); err != nil {
		if _, rbErr := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return fmt.Errorf("%v; rollback to savepoint failed: %w", err, rbErr)
		}
		return err
	}

	if _, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("failed to release savepoint: %w", err)
	}
	return nil
}
