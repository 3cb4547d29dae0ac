// file: internal/models/models.go
package models

import (
	"time"
)

// ===============================
// CORE ENTITIES
// ===============================

// ScanRecord is one classified waste item submitted by a user. Rows are
// immutable once written.
type ScanRecord struct {
	ID           int64     `json:"id" db:"id"`
	UserID       string    `json:"user_id" db:"user_id" validate:"required"`
	WasteType    string    `json:"waste_type" db:"waste_type" validate:"required,max=64"`
	ImageURL     string    `json:"image_url" db:"image_url"`
	Confidence   float64   `json:"confidence" db:"confidence" validate:"gte=0,lte=1"`
	CO2Saved     float64   `json:"co2_saved" db:"co2_saved" validate:"gte=0"`
	PointsEarned int       `json:"points_earned" db:"points_earned" validate:"gte=0"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// UserImpactAggregate holds the running totals of a user's scans
type UserImpactAggregate struct {
	UserID          string    `json:"user_id" db:"user_id"`
	TotalScans      int       `json:"total_scans" db:"total_scans"`
	TotalCO2Saved   float64   `json:"total_co2_saved" db:"total_co2_saved"`
	TotalPoints     int       `json:"total_points" db:"total_points"`
	AvgCO2PerScan   float64   `json:"avg_co2_per_scan" db:"avg_co2_per_scan"`
	MostCommonWaste string    `json:"most_common_waste" db:"most_common_waste"`
	LastUpdated     time.Time `json:"last_updated" db:"last_updated"`
	Version         int64     `json:"version" db:"version"`
}

// AchievementDefinition is static reference data describing a points milestone
type AchievementDefinition struct {
	ID              int64  `json:"id" db:"id"`
	Name            string `json:"name" db:"name"`
	Description     string `json:"description" db:"description"`
	Icon            string `json:"icon" db:"icon"`
	PointsThreshold int    `json:"points_threshold" db:"points_threshold" validate:"gte=0"`
}

// UserAchievement is the per-user state of one achievement
type UserAchievement struct {
	UserID        string     `json:"user_id" db:"user_id"`
	AchievementID int64      `json:"achievement_id" db:"achievement_id"`
	Unlocked      bool       `json:"unlocked" db:"unlocked"`
	UnlockedAt    *time.Time `json:"unlocked_at,omitempty" db:"unlocked_at"`
	Progress      int        `json:"progress" db:"progress"`
}

// ===============================
// DERIVED / READ MODELS
// ===============================

// Impact is the environmental value assigned to a waste label
type Impact struct {
	CO2Saved     float64 `json:"co2_saved"`
	PointsEarned int     `json:"points_earned"`
}

// Guidance describes how a waste type should be disposed of
type Guidance struct {
	WasteType    string `json:"waste_type"`
	Material     string `json:"material"`
	Category     string `json:"category"`
	Bin          string `json:"bin"`
	Recyclable   bool   `json:"recyclable"`
	Instructions string `json:"instructions"`
}

// WasteTypeCount is the number of scans a user has of one waste type.
// FirstSeenID is the id of the earliest such scan.
type WasteTypeCount struct {
	WasteType   string `json:"waste_type" db:"waste_type"`
	Count       int    `json:"count" db:"count"`
	FirstSeenID int64  `json:"-" db:"first_seen"`
}

// AchievementStatus joins a definition with the user's state for display
type AchievementStatus struct {
	AchievementDefinition
	Unlocked   bool       `json:"unlocked"`
	UnlockedAt *time.Time `json:"unlocked_at,omitempty"`
	Progress   int        `json:"progress"`
}

// LeaderboardEntry is one row of the points leaderboard
type LeaderboardEntry struct {
	Rank          int     `json:"rank" db:"rank"`
	UserID        string  `json:"user_id" db:"user_id"`
	TotalPoints   int     `json:"total_points" db:"total_points"`
	TotalScans    int     `json:"total_scans" db:"total_scans"`
	TotalCO2Saved float64 `json:"total_co2_saved" db:"total_co2_saved"`
}

// ===============================
// PAGINATION
// ===============================

// PaginationParams represents pagination parameters
type PaginationParams struct {
	Limit  int `json:"limit" validate:"min=1,max=100"`
	Offset int `json:"offset" validate:"min=0"`
}

// PaginatedResponse represents a paginated API response
type PaginatedResponse[T any] struct {
	Data       []T            `json:"data"`
	Pagination PaginationMeta `json:"pagination"`
}

// PaginationMeta contains pagination metadata
type PaginationMeta struct {
	CurrentPage  int   `json:"current_page"`
	TotalPages   int   `json:"total_pages"`
	TotalItems   int64 `json:"total_items"`
	ItemsPerPage int   `json:"items_per_page"`
	HasNext      bool  `json:"has_next"`
	HasPrev      bool  `json:"has_prev"`
}

// NewPaginationParams builds limit/offset from a 1-based page number
func NewPaginationParams(page, pageSize int) PaginationParams {
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	if page < 1 {
		page = 1
	}
	return PaginationParams{Limit: pageSize, Offset: (page - 1) * pageSize}
}

// Page returns the 1-based page number the params point at
func (p PaginationParams) Page() int {
	if p.Limit <= 0 {
		return 1
	}
	return p.Offset/p.Limit + 1
}

// NewPaginationMeta computes metadata for a page of results
func NewPaginationMeta(params PaginationParams, total int64) PaginationMeta {
	totalPages := 0
	if params.Limit > 0 {
		totalPages = int((total + int64(params.Limit) - 1) / int64(params.Limit))
	}
	page := params.Page()
	return PaginationMeta{
		CurrentPage:  page,
		TotalPages:   totalPages,
		TotalItems:   total,
		ItemsPerPage: params.Limit,
		HasNext:      page < totalPages,
		HasPrev:      page > 1,
	}
}
