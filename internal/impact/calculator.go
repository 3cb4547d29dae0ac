// Package impact maps classifier labels to their environmental value and
// folds scans into a user's running aggregate. Everything here is pure.
package impact

import (
	"strings"

	"recycloai/internal/models"
)

// Known waste labels produced by the classifier
const (
	Plastic    = "plastic"
	Paper      = "paper"
	Cardboard  = "cardboard"
	Metal      = "metal"
	Glass      = "glass"
	WhiteGlass = "white-glass"
	GreenGlass = "green-glass"
	BrownGlass = "brown-glass"
	Biological = "biological"
	Battery    = "battery"
	Clothes    = "clothes"
	Shoes      = "shoes"
	Trash      = "trash"
)

// Unknown is the impact assigned to labels outside the table
var Unknown = models.Impact{CO2Saved: 0.2, PointsEarned: 3}

var table = map[string]models.Impact{
	Plastic:    {CO2Saved: 0.5, PointsEarned: 8},
	Paper:      {CO2Saved: 0.3, PointsEarned: 5},
	Cardboard:  {CO2Saved: 0.4, PointsEarned: 6},
	Metal:      {CO2Saved: 0.9, PointsEarned: 12},
	Glass:      {CO2Saved: 0.3, PointsEarned: 6},
	WhiteGlass: {CO2Saved: 0.3, PointsEarned: 6},
	GreenGlass: {CO2Saved: 0.3, PointsEarned: 6},
	BrownGlass: {CO2Saved: 0.3, PointsEarned: 6},
	Biological: {CO2Saved: 0.2, PointsEarned: 4},
	Battery:    {CO2Saved: 1.2, PointsEarned: 15},
	Clothes:    {CO2Saved: 1.0, PointsEarned: 10},
	Shoes:      {CO2Saved: 0.8, PointsEarned: 9},
	Trash:      {CO2Saved: 0, PointsEarned: 0},
}

// order is the stable listing order for catalog output
var order = []string{
	Plastic, Paper, Cardboard, Metal, Glass, WhiteGlass, GreenGlass,
	BrownGlass, Biological, Battery, Clothes, Shoes, Trash,
}

// Normalize canonicalises a raw classifier label: surrounding whitespace is
// trimmed, letters are lower-cased and underscores or spaces become dashes.
func Normalize(label string) string {
	label = strings.ToLower(strings.TrimSpace(label))
	return strings.NewReplacer("_", "-", " ", "-").Replace(label)
}

// Calculate returns the impact of a scan with the given label. Unknown labels
// never fail; they get the Unknown fallback.
func Calculate(label string) models.Impact {
	if v, ok := table[Normalize(label)]; ok {
		return v
	}
	return Unknown
}

// IsKnown reports whether the label has a dedicated table entry
func IsKnown(label string) bool {
	_, ok := table[Normalize(label)]
	return ok
}

// WasteTypes lists the known labels in a stable order
func WasteTypes() []string {
	out := make([]string, len(order))
	copy(out, order)
	return out
}
