// Package metrics holds the prometheus collectors exported on /metrics.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "recycloai"

var (
	once sync.Once

	// ScansRecorded counts scan submissions by outcome.
	ScansRecorded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scans",
		Name:      "submitted_total",
		Help:      "Scan submissions, labeled by result (recorded, classification_error, storage_error, persistence_error, invalid).",
	}, []string{"result"})

	// PointsAwarded accumulates points handed out, labeled by waste type.
	PointsAwarded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scans",
		Name:      "points_awarded_total",
		Help:      "Points awarded by recorded scans, labeled by waste type.",
	}, []string{"waste_type"})

	// CO2Saved accumulates kilograms of CO2 attributed to recorded scans.
	CO2Saved = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scans",
		Name:      "co2_saved_kg_total",
		Help:      "Kilograms of CO2 attributed to recorded scans.",
	})

	// RecordConflicts counts optimistic version conflicts retried by the recorder.
	RecordConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scans",
		Name:      "record_conflicts_total",
		Help:      "Aggregate version conflicts retried while recording scans.",
	})

	// DerivedFailures counts non-fatal failures of derived computations.
	DerivedFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scans",
		Name:      "derived_failures_total",
		Help:      "Logged and skipped failures of derived steps, labeled by step.",
	}, []string{"step"})

	// AchievementsUnlocked counts unlock transitions.
	AchievementsUnlocked = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "achievements",
		Name:      "unlocked_total",
		Help:      "Achievement unlock transitions.",
	})

	// ClassifierDuration is the latency of calls to the inference endpoint.
	ClassifierDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "classifier",
		Name:      "request_duration_seconds",
		Help:      "Latency of classification requests, labeled by result.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
	}, []string{"result"})

	// StorageDuration is the latency of image uploads.
	StorageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "storage",
		Name:      "upload_duration_seconds",
		Help:      "Latency of scan image uploads, labeled by result.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"result"})

	// DBQueryDuration is the latency of database calls made through the manager.
	DBQueryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "db",
		Name:      "query_duration_seconds",
		Help:      "Database call latency, labeled by call type.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"type"})

	// CacheRequests counts cache lookups by result.
	CacheRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "requests_total",
		Help:      "Cache lookups, labeled by result (hit, miss, error).",
	}, []string{"result"})

	// HTTPRequests counts served HTTP requests.
	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests, labeled by route pattern, method and status code.",
	}, []string{"route", "method", "status"})

	// HTTPDuration is the latency of served HTTP requests.
	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency, labeled by route pattern and method.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"})

	// WebsocketClients is the number of connected realtime clients.
	WebsocketClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "realtime",
		Name:      "clients",
		Help:      "Currently connected websocket clients.",
	})
)

// Register registers all collectors with the default registry.
// Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			ScansRecorded,
			PointsAwarded,
			CO2Saved,
			RecordConflicts,
			DerivedFailures,
			AchievementsUnlocked,
			ClassifierDuration,
			StorageDuration,
			DBQueryDuration,
			CacheRequests,
			HTTPRequests,
			HTTPDuration,
			WebsocketClients,
		)
	})
}
