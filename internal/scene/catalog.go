package scene

import "strings"

type ID string

const (
	UrbanRooftop ID = "urban_rooftop"
	CoffeeShop   ID = "coffee_shop"
	Gym          ID = "gym"
	Beach        ID = "beach"
	Office       ID = "office"
)

type Preset struct {
	ID          ID
	Name        string
	Description string

	promptTemplate string
}

type Category string

const (
	Footwear Category = "footwear"
	Food     Category = "food"
	Devices  Category = "devices"
)

// DefaultCategory is used whenever detection cannot classify the product.
const DefaultCategory = Devices

const DefaultDisplayName = "Your Product"

type Suggestion struct {
	Scene       ID
	Label       string
	Description string
}

type categoryInfo struct {
	Name        string
	Suggestions []Suggestion
}

var presetOrder = []ID{UrbanRooftop, CoffeeShop, Gym, Beach, Office}

var presets = map[ID]Preset{
	UrbanRooftop: {
		ID:             UrbanRooftop,
		Name:           "Urban Rooftop Sunset",
		Description:    "Modern city skyline with golden hour lighting",
		promptTemplate: "Professional lifestyle photography of %s on a modern urban rooftop with city skyline in background, golden hour lighting, commercial photography style, high-end product placement, natural shadows and reflections",
	},
	CoffeeShop: {
		ID:             CoffeeShop,
		Name:           "Cozy Coffee Shop",
		Description:    "Warm, inviting café atmosphere",
		promptTemplate: "Professional lifestyle photography of %s in a cozy coffee shop setting with warm lighting, wooden textures, coffee cup nearby, commercial photography style, natural composition",
	},
	Gym: {
		ID:             Gym,
		Name:           "Modern Gym",
		Description:    "Clean, athletic environment",
		promptTemplate: "Professional lifestyle photography of %s in a modern gym setting with clean lines, bright lighting, athletic atmosphere, commercial photography style, motivational energy",
	},
	Beach: {
		ID:             Beach,
		Name:           "Beach Lifestyle",
		Description:    "Relaxed coastal vibes",
		promptTemplate: "Professional lifestyle photography of %s on a beautiful beach with natural lighting, ocean background, relaxed lifestyle, commercial photography style, natural shadows",
	},
	Office: {
		ID:             Office,
		Name:           "Modern Office",
		Description:    "Professional workspace setting",
		promptTemplate: "Professional lifestyle photography of %s in a modern office environment with clean design, natural lighting, professional atmosphere, commercial photography style, minimalist composition",
	},
}

var categoryOrder = []Category{Footwear, Food, Devices}

var categories = map[Category]categoryInfo{
	Footwear: {
		Name: "Footwear",
		Suggestions: []Suggestion{
			{Scene: UrbanRooftop, Label: "Urban Lifestyle", Description: "City streets, modern vibes"},
			{Scene: Gym, Label: "Athletic", Description: "Gym, sports, active lifestyle"},
			{Scene: CoffeeShop, Label: "Casual", Description: "Coffee shop, relaxed setting"},
		},
	},
	Food: {
		Name: "Food & Beverage",
		Suggestions: []Suggestion{
			{Scene: CoffeeShop, Label: "Café Style", Description: "Coffee shop, cozy atmosphere"},
			{Scene: Office, Label: "Professional", Description: "Office, business setting"},
			{Scene: Beach, Label: "Lifestyle", Description: "Beach, outdoor dining"},
		},
	},
	Devices: {
		Name: "Electronics & Devices",
		Suggestions: []Suggestion{
			{Scene: Office, Label: "Professional", Description: "Modern office, tech workspace"},
			{Scene: UrbanRooftop, Label: "Modern", Description: "Urban setting, sleek design"},
			{Scene: CoffeeShop, Label: "Lifestyle", Description: "Casual use, everyday scenes"},
		},
	},
}

// Catalog returns the scene presets in display order.
func Catalog() []Preset {
	out := make([]Preset, 0, len(presetOrder))
	for _, id := range presetOrder {
		out = append(out, presets[id])
	}
	return out
}

func Lookup(id ID) (Preset, bool) {
	p, ok := presets[ID(strings.TrimSpace(string(id)))]
	return p, ok
}

func Valid(id ID) bool {
	_, ok := Lookup(id)
	return ok
}

func Categories() []Category {
	return append([]Category(nil), categoryOrder...)
}

// NormalizeCategory maps a free-form detector label onto a known category.
// Unknown labels become DefaultCategory.
func NormalizeCategory(raw string) Category {
	c := Category(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := categories[c]; ok {
		return c
	}
	switch c {
	case "shoes", "shoe", "sneakers", "boots":
		return Footwear
	case "beverage", "drink", "drinks", "snack":
		return Food
	}
	return DefaultCategory
}

func CategoryName(c Category) string {
	if info, ok := categories[c]; ok {
		return info.Name
	}
	return categories[DefaultCategory].Name
}

// SuggestionsFor returns the scene suggestions for a category, falling back
// to the default category's list.
func SuggestionsFor(c Category) []Suggestion {
	info, ok := categories[c]
	if !ok {
		info = categories[DefaultCategory]
	}
	return append([]Suggestion(nil), info.Suggestions...)
}
