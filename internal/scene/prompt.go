package scene

import (
	"fmt"
	"strings"
)

const defaultProductDescription = "the product"

// Prompt renders the generation prompt for a preset. An empty description
// falls back to a neutral subject.
func Prompt(id ID, productDescription string) (string, error) {
	p, ok := Lookup(id)
	if !ok {
		return "", fmt.Errorf("unknown scene %q", id)
	}
	desc := strings.TrimSpace(productDescription)
	if desc == "" {
		desc = defaultProductDescription
	}
	return fmt.Sprintf(p.promptTemplate, desc), nil
}

// VariationShots lists the camera setups used for the variations mode.
var VariationShots = []struct {
	Key  string
	Hint string
}{
	{Key: "close_up", Hint: "tight close-up framing that fills the frame with the product"},
	{Key: "lifestyle", Hint: "wide lifestyle framing with natural everyday context"},
	{Key: "overhead", Hint: "top-down overhead flat-lay composition"},
	{Key: "side_angle", Hint: "three-quarter side angle with depth"},
	{Key: "environmental", Hint: "environmental shot where the setting tells the story"},
}

// FormatShots lists the aspect ratios used for the multi-format mode.
var FormatShots = []struct {
	Key         string
	AspectRatio string
}{
	{Key: "square", AspectRatio: "1:1"},
	{Key: "vertical", AspectRatio: "9:16"},
	{Key: "horizontal", AspectRatio: "16:9"},
}

func EditPrompt(instruction string) string {
	return fmt.Sprintf("Apply this edit to the image: %s. Maintain the overall composition and lighting while making the requested changes. Keep the product details accurate.", strings.TrimSpace(instruction))
}

// ExampleEdits are offered to users who do not know what to ask for.
func ExampleEdits() []string {
	return []string{
		"Add a coffee cup next to the product",
		"Make it more vintage with warm colors",
		"Add some plants in the background",
		"Change the lighting to golden hour",
		"Remove any text or labels",
		"Make it feel more luxurious",
	}
}
