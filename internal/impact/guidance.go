package impact

import "recycloai/internal/models"

var guidance = map[string]models.Guidance{
	Plastic: {
		Material: "Plastic", Category: "Mixed Plastics", Bin: "Blue", Recyclable: true,
		Instructions: "Rinse containers. No plastic bags. Place in blue bin.",
	},
	Paper: {
		Material: "Paper", Category: "Mixed Paper", Bin: "Blue", Recyclable: true,
		Instructions: "Keep dry. Avoid soiled or shredded paper. Place in blue bin.",
	},
	Cardboard: {
		Material: "Cardboard", Category: "Paper-based", Bin: "Blue", Recyclable: true,
		Instructions: "Flatten boxes. Keep dry. Place in blue recycling bin.",
	},
	Metal: {
		Material: "Metal", Category: "Aluminum/Steel", Bin: "Blue", Recyclable: true,
		Instructions: "Rinse containers. Place in blue bin.",
	},
	Glass: {
		Material: "Glass", Category: "Glass", Bin: "Blue", Recyclable: true,
		Instructions: "Remove lids. Rinse thoroughly. Place in blue bin.",
	},
	WhiteGlass: {
		Material: "White Glass", Category: "Glass", Bin: "White Glass", Recyclable: true,
		Instructions: "Recycle in white-glass bin. Ensure it's clean.",
	},
	GreenGlass: {
		Material: "Green Glass", Category: "Glass", Bin: "Green Glass", Recyclable: true,
		Instructions: "Recycle in green-glass bin. Clean it first.",
	},
	BrownGlass: {
		Material: "Brown Glass", Category: "Glass", Bin: "Brown Glass", Recyclable: true,
		Instructions: "Recycle in brown-glass bin. Keep it clean.",
	},
	Biological: {
		Material: "Food Waste", Category: "Organic", Bin: "Green", Recyclable: false,
		Instructions: "Place in green compost bin if available.",
	},
	Battery: {
		Material: "Battery", Category: "Hazardous Waste", Bin: "Hazardous Waste Facility", Recyclable: false,
		Instructions: "Do not place in bin. Take to battery recycling center.",
	},
	Clothes: {
		Material: "Clothing", Category: "Textiles", Bin: "Donation/Drop-off", Recyclable: true,
		Instructions: "Donate if wearable. Otherwise, check textile recycling.",
	},
	Shoes: {
		Material: "Shoes", Category: "Textiles", Bin: "Donation/Drop-off", Recyclable: true,
		Instructions: "Donate if usable. Otherwise, drop at shoe recycling bins.",
	},
	Trash: {
		Material: "Trash", Category: "General Waste", Bin: "Black", Recyclable: false,
		Instructions: "Dispose in black trash bin. Avoid mixing with recyclables.",
	},
}

// Guide returns disposal guidance for a label
func Guide(label string) models.Guidance {
	key := Normalize(label)
	g, ok := guidance[key]
	if !ok {
		return models.Guidance{
			WasteType:    key,
			Material:     "Unknown",
			Category:     "Unclassified",
			Bin:          "Check local rules",
			Instructions: "We could not match this item. Check your local council's recycling rules.",
		}
	}
	g.WasteType = key
	return g
}

// Catalog returns guidance for every known label in stable order
func Catalog() []models.Guidance {
	out := make([]models.Guidance, 0, len(order))
	for _, label := range order {
		out = append(out, Guide(label))
	}
	return out
}
