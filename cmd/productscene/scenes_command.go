package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"productscene/internal/scene"
)

type sceneEntry struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Suggested   bool   `json:"suggested,omitempty"`
}

func newScenesCommand() *cobra.Command {
	var category string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "scenes",
		Short: "List scene presets",
		Long: `List the scene presets a product can be placed into.

Examples:
  productscene scenes
  productscene scenes --category food   # mark the scenes suggested for food
  productscene scenes --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			suggested := map[scene.ID]bool{}
			if category != "" {
				for _, s := range scene.SuggestionsFor(scene.NormalizeCategory(category)) {
					suggested[s.Scene] = true
				}
			}

			entries := make([]sceneEntry, 0, len(scene.Catalog()))
			for _, p := range scene.Catalog() {
				entries = append(entries, sceneEntry{
					ID:          string(p.ID),
					Name:        p.Name,
					Description: p.Description,
					Suggested:   suggested[p.ID],
				})
			}

			if asJSON {
				return writeJSON(cmd, entries)
			}

			out := cmd.OutOrStdout()
			if category != "" {
				fmt.Fprintf(out, "Category: %s\n\n", scene.CategoryName(scene.NormalizeCategory(category)))
			}
			for _, e := range entries {
				mark := " "
				if e.Suggested {
					mark = "*"
				}
				fmt.Fprintf(out, "%s %-14s %-22s %s\n", mark, e.ID, e.Name, e.Description)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "Mark the scenes suggested for this product category")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
