package scene

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogOrder(t *testing.T) {
	var ids []ID
	for _, p := range Catalog() {
		ids = append(ids, p.ID)
		assert.NotEmpty(t, p.Name)
		assert.NotEmpty(t, p.Description)
	}
	assert.Equal(t, []ID{UrbanRooftop, CoffeeShop, Gym, Beach, Office}, ids)
}

func TestLookup(t *testing.T) {
	p, ok := Lookup(" beach ")
	require.True(t, ok)
	assert.Equal(t, Beach, p.ID)

	assert.False(t, Valid("moon"))
	assert.False(t, Valid(""))
}

func TestNormalizeCategory(t *testing.T) {
	tests := map[string]Category{
		"Food":       Food,
		" footwear ": Footwear,
		"sneakers":   Footwear,
		"drink":      Food,
		"devices":    Devices,
		"furniture":  DefaultCategory,
		"":           DefaultCategory,
	}
	for raw, want := range tests {
		assert.Equal(t, want, NormalizeCategory(raw), raw)
	}
}

func TestSuggestionsFor(t *testing.T) {
	food := SuggestionsFor(Food)
	require.Len(t, food, 3)
	assert.Equal(t, CoffeeShop, food[0].Scene)

	assert.Equal(t, SuggestionsFor(DefaultCategory), SuggestionsFor("furniture"))

	// callers get their own copy
	food[0].Scene = Gym
	assert.Equal(t, CoffeeShop, SuggestionsFor(Food)[0].Scene)

	for _, c := range Categories() {
		for _, s := range SuggestionsFor(c) {
			assert.True(t, Valid(s.Scene), "%s suggests %s", c, s.Scene)
		}
	}
}

func TestCategoryName(t *testing.T) {
	assert.Equal(t, "Food & Beverage", CategoryName(Food))
	assert.Equal(t, CategoryName(DefaultCategory), CategoryName("unknown"))
}

func TestPrompt(t *testing.T) {
	for _, p := range Catalog() {
		got, err := Prompt(p.ID, "a red sneaker")
		require.NoError(t, err)
		assert.Contains(t, got, "a red sneaker")
		assert.NotContains(t, got, "%!")
	}

	got, err := Prompt(Gym, "  ")
	require.NoError(t, err)
	assert.Contains(t, got, "the product")

	_, err = Prompt("moon", "x")
	require.Error(t, err)
}

func TestEditPrompt(t *testing.T) {
	got := EditPrompt("  make it warmer ")
	assert.Contains(t, got, "Apply this edit to the image: make it warmer.")
	assert.NotEmpty(t, ExampleEdits())
}
