package impact

import (
	"time"

	"recycloai/internal/models"
)

// Apply folds one scan's impact into an aggregate and returns the result.
// The input is not modified. MostCommonWaste is carried over unchanged; it is
// recomputed separately from the full scan history.
func Apply(agg models.UserImpactAggregate, in models.Impact, now time.Time) models.UserImpactAggregate {
	out := agg
	out.TotalScans = agg.TotalScans + 1
	out.TotalCO2Saved = agg.TotalCO2Saved + in.CO2Saved
	out.TotalPoints = agg.TotalPoints + in.PointsEarned
	out.AvgCO2PerScan = Average(out.TotalCO2Saved, out.TotalScans)
	out.LastUpdated = now
	out.Version = agg.Version + 1
	return out
}

// Average returns co2/scans, or 0 when there are no scans
func Average(totalCO2 float64, scans int) float64 {
	if scans <= 0 {
		return 0
	}
	return totalCO2 / float64(scans)
}

// MostCommon picks the waste type with the highest count. Ties go to the type
// seen first, i.e. the one whose earliest scan has the lowest id.
func MostCommon(counts []models.WasteTypeCount) string {
	best := -1
	for i, c := range counts {
		if c.Count <= 0 {
			continue
		}
		if best < 0 ||
			c.Count > counts[best].Count ||
			(c.Count == counts[best].Count && c.FirstSeenID < counts[best].FirstSeenID) {
			best = i
		}
	}
	if best < 0 {
		return ""
	}
	return counts[best].WasteType
}
