// file: internal/services/service_collection.go
package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"recycloai/internal/cache"
	"recycloai/internal/classifier"
	"recycloai/internal/config"
	"recycloai/internal/database"
	"recycloai/internal/events"
	"recycloai/internal/repositories"
	"recycloai/internal/storage"
	"recycloai/internal/utils/appinfo"
)

// Dependencies are the infrastructure components the services are built on.
// DB, Cache and EventBus are optional.
type Dependencies struct {
	Config       *config.Config
	Repositories *repositories.Collection
	DB           *database.Manager
	Cache        cache.Cache
	EventBus     events.EventBus
	Classifier   classifier.Classifier
	Storage      storage.Storage
	Logger       *zap.Logger
}

// ServiceCollection holds all services with their dependencies
type ServiceCollection struct {
	ScanService        ScanService
	ImpactService      ImpactService
	AchievementService AchievementService

	Repositories *repositories.Collection
	Cache        cache.Cache
	EventBus     events.EventBus
	DBManager    *database.Manager
	Logger       *zap.Logger
	Config       *config.Config

	startTime time.Time
}

// ServiceHealth represents the health status of the service collection
type ServiceHealth struct {
	Status       string                   `json:"status"`
	Version      string                   `json:"version"`
	Timestamp    time.Time                `json:"timestamp"`
	Dependencies map[string]ServiceStatus `json:"dependencies"`
	Uptime       string                   `json:"uptime"`
	Issues       []string                 `json:"issues,omitempty"`
}

// ServiceStatus represents the status of one dependency
type ServiceStatus struct {
	Name         string                 `json:"name"`
	Status       string                 `json:"status"`
	ResponseTime time.Duration          `json:"response_time"`
	Error        string                 `json:"error,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty"`
}

// NewServiceCollection wires the services
func NewServiceCollection(deps Dependencies) (*ServiceCollection, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.Repositories == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.Classifier == nil || deps.Storage == nil {
		return nil, fmt.Errorf("classifier and storage are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := deps.Config

	impactSvc := NewImpactService(deps.Repositories.Impact, deps.Cache, cfg.Cache.TTL, logger.Named("impact"))
	achievementSvc := NewAchievementService(deps.Repositories.Achievements, deps.Repositories.Impact, logger.Named("achievements"))
	scanSvc := NewScanService(
		deps.Repositories.Scans,
		deps.Classifier,
		deps.Storage,
		achievementSvc,
		impactSvc,
		deps.EventBus,
		logger.Named("scans"),
		ScanServiceConfig{
			MaxImageBytes:      cfg.Server.MaxUploadBytes,
			MaxConflictRetries: cfg.Scoring.MaxConflictRetries,
		},
	)

	logger.Info("Service collection initialized")

	return &ServiceCollection{
		ScanService:        scanSvc,
		ImpactService:      impactSvc,
		AchievementService: achievementSvc,
		Repositories:       deps.Repositories,
		Cache:              deps.Cache,
		EventBus:           deps.EventBus,
		DBManager:          deps.DB,
		Logger:             logger,
		Config:             cfg,
		startTime:          time.Now(),
	}, nil
}

// HealthCheck checks the database, cache and event bus. A failing database
// makes the collection unhealthy, the others only degrade it.
func (sc *ServiceCollection) HealthCheck(ctx context.Context) *ServiceHealth {
	health := &ServiceHealth{
		Status:       "healthy",
		Version:      appinfo.Version(),
		Timestamp:    time.Now(),
		Dependencies: make(map[string]ServiceStatus),
		Uptime:       time.Since(sc.startTime).Round(time.Second).String(),
	}

	record := func(name string, critical bool, check func(context.Context) error) {
		start := time.Now()
		st := ServiceStatus{Name: name, Status: "healthy"}
		if err := check(ctx); err != nil {
			st.Status = "unhealthy"
			st.Error = err.Error()
			health.Issues = append(health.Issues, fmt.Sprintf("%s: %v", name, err))
			if critical {
				health.Status = "unhealthy"
			} else if health.Status == "healthy" {
				health.Status = "degraded"
			}
		}
		st.ResponseTime = time.Since(start)
		health.Dependencies[name] = st
	}

	if sc.DBManager != nil {
		maxAge := 30 * time.Second
		if sc.Config != nil && sc.Config.Database.HealthCheckInterval > 0 {
			maxAge = sc.Config.Database.HealthCheckInterval
		}

		var db *database.HealthStatus
		record("database", true, func(ctx context.Context) error {
			db = sc.DBManager.RecentHealth(ctx, maxAge)
			if db.Status == database.StatusUnhealthy || db.Status == database.StatusShutdown {
				return fmt.Errorf("%v", db.Errors)
			}
			return nil
		})
		if db.Status == database.StatusDegraded && health.Status == "healthy" {
			health.Status = "degraded"
		}

		dep := health.Dependencies["database"]
		dep.Details = map[string]interface{}{
			"status":      db.Status,
			"checked_at":  db.Timestamp,
			"connections": db.ConnectionCount,
			"queries":     sc.DBManager.Metrics(),
		}
		health.Dependencies["database"] = dep
	}
	if sc.Cache != nil {
		record("cache", false, sc.Cache.Health)
	}
	if sc.EventBus != nil {
		record("events", false, func(context.Context) error { return sc.EventBus.Health() })
	}
	return health
}

// Shutdown stops the event bus and closes the cache
func (sc *ServiceCollection) Shutdown(ctx context.Context) error {
	var firstErr error
	if sc.EventBus != nil {
		if err := sc.EventBus.Stop(ctx); err != nil {
			sc.Logger.Warn("Failed to stop event bus", zap.Error(err))
			firstErr = err
		}
	}
	if sc.Cache != nil {
		if err := sc.Cache.Close(); err != nil {
			sc.Logger.Warn("Failed to close cache", zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
