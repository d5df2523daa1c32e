package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"productscene/internal/remote"
	"productscene/internal/scene"
)

func TestParseIntent(t *testing.T) {
	cases := map[string]intent{
		"Reset":                {Kind: intentReset},
		"start over!":          {Kind: intentReset},
		"back":                 {Kind: intentBack},
		"Done.":                {Kind: intentExport},
		"edit":                 {Kind: intentEdit},
		"beach":                {Kind: intentScene, Scene: scene.Beach},
		"coffee shop":          {Kind: intentScene, Scene: scene.CoffeeShop},
		"Urban Rooftop Sunset": {Kind: intentScene, Scene: scene.UrbanRooftop},
		"urban":                {Kind: intentScene, Scene: scene.UrbanRooftop},
		"multi-format":         {Kind: intentMode, Mode: remote.ModeMultiFormat},
		"variations":           {Kind: intentMode, Mode: remote.ModeVariations},
		"modern":               {},
		"":                     {},
		"make the background a busy street": {},
	}

	for text, want := range cases {
		assert.Equal(t, want, parseIntent(text), text)
	}
}
