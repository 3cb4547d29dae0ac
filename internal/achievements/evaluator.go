// Package achievements decides which point milestones a user has reached.
//
// Each (user, achievement) pair is a two-state machine, Locked and Unlocked.
// The only transition is Locked to Unlocked, taken the first time the user's
// total points reach the threshold. Unlocks are never revoked.
package achievements

import (
	"time"

	"recycloai/internal/models"
)

// Evaluate computes the state of every definition for a user holding
// totalPoints. prior maps achievement ids to the rows already stored for the
// user; missing entries count as locked with no progress.
//
// The result has one row per definition, in definition order. Evaluating
// twice with the same inputs yields identical rows.
func Evaluate(userID string, totalPoints int, defs []models.AchievementDefinition, prior map[int64]models.UserAchievement, now time.Time) []models.UserAchievement {
	out := make([]models.UserAchievement, 0, len(defs))
	for _, def := range defs {
		prev, seen := prior[def.ID]

		row := models.UserAchievement{
			UserID:        userID,
			AchievementID: def.ID,
			Progress:      progress(totalPoints, def.PointsThreshold),
		}

		reached := totalPoints >= def.PointsThreshold
		switch {
		case seen && prev.Unlocked:
			row.Unlocked = true
			row.UnlockedAt = prev.UnlockedAt
			row.Progress = def.PointsThreshold
		case reached:
			row.Unlocked = true
			at := now
			row.UnlockedAt = &at
		}

		out = append(out, row)
	}
	return out
}

// NewlyUnlocked returns the rows of next that are unlocked but were not in prior
func NewlyUnlocked(next []models.UserAchievement, prior map[int64]models.UserAchievement) []models.UserAchievement {
	var out []models.UserAchievement
	for _, row := range next {
		if !row.Unlocked {
			continue
		}
		if prev, ok := prior[row.AchievementID]; ok && prev.Unlocked {
			continue
		}
		out = append(out, row)
	}
	return out
}

// Changed returns the rows of next that differ from what prior already holds
func Changed(next []models.UserAchievement, prior map[int64]models.UserAchievement) []models.UserAchievement {
	var out []models.UserAchievement
	for _, row := range next {
		prev, ok := prior[row.AchievementID]
		if ok && prev.Unlocked == row.Unlocked && prev.Progress == row.Progress && sameTime(prev.UnlockedAt, row.UnlockedAt) {
			continue
		}
		out = append(out, row)
	}
	return out
}

// Index keys rows by achievement id
func Index(rows []models.UserAchievement) map[int64]models.UserAchievement {
	m := make(map[int64]models.UserAchievement, len(rows))
	for _, r := range rows {
		m[r.AchievementID] = r
	}
	return m
}

// Status joins definitions with a user's rows for display. Definitions with
// no stored row are reported locked with progress derived from totalPoints.
func Status(defs []models.AchievementDefinition, rows map[int64]models.UserAchievement, totalPoints int) []models.AchievementStatus {
	out := make([]models.AchievementStatus, 0, len(defs))
	for _, def := range defs {
		st := models.AchievementStatus{AchievementDefinition: def}
		if row, ok := rows[def.ID]; ok {
			st.Unlocked = row.Unlocked
			st.UnlockedAt = row.UnlockedAt
			st.Progress = row.Progress
		} else {
			st.Progress = progress(totalPoints, def.PointsThreshold)
		}
		out = append(out, st)
	}
	return out
}

func progress(points, threshold int) int {
	if points < 0 {
		return 0
	}
	if points < threshold {
		return points
	}
	return threshold
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
