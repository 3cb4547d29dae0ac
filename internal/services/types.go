package services

import (
	"recycloai/internal/models"
)

// RecordScanRequest is a classified scan ready to be applied to the aggregate
type RecordScanRequest struct {
	UserID       string  `json:"user_id" validate:"required,max=128"`
	WasteType    string  `json:"waste_type" validate:"required,max=64"`
	ImageURL     string  `json:"image_url" validate:"omitempty,url"`
	Confidence   float64 `json:"confidence" validate:"gte=0,lte=1"`
	CO2Saved     float64 `json:"co2_saved" validate:"gte=0"`
	PointsEarned int     `json:"points_earned" validate:"gte=0"`
}

// RecordScanResult is what the recorder committed
type RecordScanResult struct {
	Scan      *models.ScanRecord          `json:"scan"`
	Aggregate *models.UserImpactAggregate `json:"aggregate"`

	// MostCommonSkipped is set when the derived most common waste type could
	// not be recomputed and the previous value was kept.
	MostCommonSkipped bool `json:"-"`
}

// SubmitScanRequest carries an uploaded image
type SubmitScanRequest struct {
	UserID   string `validate:"required,max=128"`
	Filename string `validate:"max=255"`
	Image    []byte `validate:"required"`
}

// ScanResult is returned to the client after a successful submission
type ScanResult struct {
	Scan          *models.ScanRecord          `json:"scan"`
	Impact        models.Impact               `json:"impact"`
	Guidance      models.Guidance             `json:"guidance"`
	Aggregate     *models.UserImpactAggregate `json:"aggregate"`
	NewlyUnlocked []models.AchievementStatus  `json:"newly_unlocked"`
}

// ImpactSummary is a user's aggregate with their current rank
type ImpactSummary struct {
	Aggregate *models.UserImpactAggregate `json:"aggregate"`
	Rank      *int                        `json:"rank"`
}
