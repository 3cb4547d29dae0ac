package impact

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recycloai/internal/models"
)

func TestCalculate_KnownLabels(t *testing.T) {
	tests := []struct {
		label  string
		co2    float64
		points int
	}{
		{Plastic, 0.5, 8},
		{Paper, 0.3, 5},
		{Cardboard, 0.4, 6},
		{Metal, 0.9, 12},
		{Glass, 0.3, 6},
		{WhiteGlass, 0.3, 6},
		{GreenGlass, 0.3, 6},
		{BrownGlass, 0.3, 6},
		{Biological, 0.2, 4},
		{Battery, 1.2, 15},
		{Clothes, 1.0, 10},
		{Shoes, 0.8, 9},
		{Trash, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			first := Calculate(tt.label)
			second := Calculate(tt.label)

			assert.Equal(t, first, second)
			assert.InDelta(t, tt.co2, first.CO2Saved, 1e-9)
			assert.Equal(t, tt.points, first.PointsEarned)
		})
	}
}

func TestCalculate_UnknownFallsBack(t *testing.T) {
	for _, label := range []string{"", "styrofoam", "e-waste", "???"} {
		got := Calculate(label)
		assert.Equal(t, models.Impact{CO2Saved: 0.2, PointsEarned: 3}, got, "label %q", label)
		assert.False(t, IsKnown(label))
	}
}

func TestCalculate_NormalizesLabels(t *testing.T) {
	assert.Equal(t, Calculate(GreenGlass), Calculate("  Green_Glass "))
	assert.Equal(t, Calculate(WhiteGlass), Calculate("white glass"))
	assert.Equal(t, Calculate(Plastic), Calculate("PLASTIC"))
	assert.Equal(t, "brown-glass", Normalize(" Brown Glass"))
}

func TestWasteTypes_StableAndCovered(t *testing.T) {
	types := WasteTypes()
	require.Len(t, types, 13)
	assert.Equal(t, types, WasteTypes())
	for _, wt := range types {
		assert.True(t, IsKnown(wt), wt)
	}

	types[0] = "mutated"
	assert.Equal(t, Plastic, WasteTypes()[0])
}

func TestGuide(t *testing.T) {
	g := Guide("Battery")
	assert.Equal(t, "battery", g.WasteType)
	assert.Equal(t, "Hazardous Waste", g.Category)
	assert.False(t, g.Recyclable)

	unknown := Guide("Styrofoam")
	assert.Equal(t, "styrofoam", unknown.WasteType)
	assert.Equal(t, "Check local rules", unknown.Bin)

	catalog := Catalog()
	require.Len(t, catalog, len(WasteTypes()))
	for i, wt := range WasteTypes() {
		assert.Equal(t, wt, catalog[i].WasteType)
		assert.NotEmpty(t, catalog[i].Instructions)
	}
}

func TestApply_SequentialScans(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	labels := []string{Plastic, Metal, Paper, Trash, "unknown-thing", Battery}

	agg := models.UserImpactAggregate{UserID: "u1"}
	var sumCO2 float64
	var sumPoints int
	for i, label := range labels {
		in := Calculate(label)
		sumCO2 += in.CO2Saved
		sumPoints += in.PointsEarned
		agg = Apply(agg, in, now.Add(time.Duration(i)*time.Minute))
	}

	assert.Equal(t, len(labels), agg.TotalScans)
	assert.InDelta(t, sumCO2, agg.TotalCO2Saved, 1e-9)
	assert.Equal(t, sumPoints, agg.TotalPoints)
	assert.InDelta(t, sumCO2/float64(len(labels)), agg.AvgCO2PerScan, 1e-9)
	assert.InDelta(t, agg.TotalCO2Saved, agg.AvgCO2PerScan*float64(agg.TotalScans), 1e-9)
	assert.Equal(t, int64(len(labels)), agg.Version)
	assert.Equal(t, now.Add(5*time.Minute), agg.LastUpdated)
}

func TestApply_PlasticThenTrash(t *testing.T) {
	now := time.Now()
	agg := Apply(models.UserImpactAggregate{}, Calculate(Plastic), now)
	agg = Apply(agg, Calculate(Trash), now)

	assert.Equal(t, 2, agg.TotalScans)
	assert.InDelta(t, 0.5, agg.TotalCO2Saved, 1e-9)
	assert.Equal(t, 8, agg.TotalPoints)
	assert.InDelta(t, 0.25, agg.AvgCO2PerScan, 1e-9)
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	in := models.UserImpactAggregate{UserID: "u1", TotalScans: 3, MostCommonWaste: Paper}
	out := Apply(in, Calculate(Metal), time.Now())

	assert.Equal(t, 3, in.TotalScans)
	assert.Equal(t, 4, out.TotalScans)
	assert.Equal(t, Paper, out.MostCommonWaste)
}

func TestAverage_ZeroScans(t *testing.T) {
	assert.Equal(t, 0.0, Average(0, 0))
	assert.Equal(t, 0.0, Average(1.5, 0))
}

func TestMostCommon(t *testing.T) {
	tests := []struct {
		name   string
		counts []models.WasteTypeCount
		want   string
	}{
		{"empty", nil, ""},
		{"single", []models.WasteTypeCount{{WasteType: Paper, Count: 1, FirstSeenID: 4}}, Paper},
		{
			"highest count wins",
			[]models.WasteTypeCount{
				{WasteType: Paper, Count: 1, FirstSeenID: 1},
				{WasteType: Metal, Count: 3, FirstSeenID: 2},
			},
			Metal,
		},
		{
			"tie goes to first seen",
			[]models.WasteTypeCount{
				{WasteType: Metal, Count: 2, FirstSeenID: 7},
				{WasteType: Plastic, Count: 2, FirstSeenID: 3},
			},
			Plastic,
		},
		{
			"zero counts ignored",
			[]models.WasteTypeCount{{WasteType: Trash, Count: 0, FirstSeenID: 1}},
			"",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MostCommon(tt.counts))
		})
	}
}
