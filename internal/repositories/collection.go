// file: internal/repositories/collection.go
package repositories

import (
	"fmt"

	"go.uber.org/zap"

	"recycloai/internal/database"
)

// Collection holds all repository instances for dependency injection
type Collection struct {
	Scans        ScanRepository
	Impact       ImpactRepository
	Achievements AchievementRepository
}

// NewCollection creates the Postgres backed repositories
func NewCollection(db *database.Manager, logger *zap.Logger) (*Collection, error) {
	if db == nil {
		return nil, fmt.Errorf("database manager is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	collection := &Collection{
		Scans:        NewScanRepository(db, logger),
		Impact:       NewImpactRepository(db, logger),
		Achievements: NewAchievementRepository(db, logger),
	}

	logger.Info("Repository collection initialized", zap.String("provider", "postgres"))
	return collection, nil
}

// NewMemoryCollection creates repositories backed by a single MemoryStore
func NewMemoryCollection(store *MemoryStore) *Collection {
	if store == nil {
		store = NewMemoryStore(nil)
	}
	return &Collection{
		Scans:        store,
		Impact:       store,
		Achievements: store.Achievements(),
	}
}
