package handlers

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"productscene/internal/remote"
	"productscene/internal/scene"
	"productscene/internal/telegram"
	"productscene/internal/workflow"
)

const callbackPrefix = "ps"

const (
	actionDetect  = "detect"
	actionScene   = "scene"
	actionMode    = "mode"
	actionEdit    = "edit"
	actionExample = "example"
	actionExport  = "export"
	actionBack    = "back"
	actionReset   = "reset"
)

type callback struct {
	Owner  int64
	Action string
	Args   []string
}

func cb(ownerID int64, parts ...string) string {
	return fmt.Sprintf("%s:%d:%s", callbackPrefix, ownerID, strings.Join(parts, ":"))
}

func parseCallback(data string) (callback, bool) {
	parts := strings.Split(strings.TrimSpace(data), ":")
	if len(parts) < 3 || parts[0] != callbackPrefix {
		return callback{}, false
	}
	owner, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || parts[2] == "" {
		return callback{}, false
	}
	return callback{Owner: owner, Action: parts[2], Args: parts[3:]}, true
}

func (c callback) arg(i int) string {
	if i < len(c.Args) {
		return c.Args[i]
	}
	return ""
}

var modeLabels = map[remote.Mode]string{
	remote.ModeSingle:      "🖼 Single",
	remote.ModeMultiFormat: "📐 Multi-format",
	remote.ModeVariations:  "🎲 Variations",
}

// cardText describes where the session is and what the user can do next.
func cardText(st workflow.State) string {
	var b strings.Builder
	b.WriteString("📸 ProductScene\n\n")

	if st.Product != nil {
		b.WriteString(fmt.Sprintf("Product: %s (%s)\n", st.Product.DisplayName, scene.CategoryName(st.Product.Category)))
	}
	if p, ok := scene.Lookup(st.Scene); ok && st.Stage >= workflow.StageGenerate {
		b.WriteString("Scene: " + p.Name + "\n")
	}
	if st.Artifact != nil && st.Stage >= workflow.StageGenerated {
		b.WriteString(fmt.Sprintf("Mode: %s\n", modeName(st.Artifact.Mode)))
	}
	if n := len(st.History); n > 0 && st.Stage >= workflow.StageEdit {
		b.WriteString(fmt.Sprintf("Edits: %d\n", n))
	}
	if b.Len() > len("📸 ProductScene\n\n") {
		b.WriteString("\n")
	}

	switch st.Stage {
	case workflow.StageUpload:
		b.WriteString("📷 Send a product photo to begin.")
	case workflow.StageDetect:
		if st.Product != nil {
			b.WriteString("🔍 Product analyzed. Pick a scene or run detection again.")
		} else {
			b.WriteString("🔍 Photo uploaded. Run detection to get scene suggestions.")
		}
	case workflow.StageSceneSelect:
		if st.Product != nil && st.Product.Fallback {
			b.WriteString("⚠️ Could not recognise the product, using default suggestions.\n")
		}
		b.WriteString("🎬 Choose a scene. ⭐ marks the recommended ones.")
		for _, s := range st.Suggestions {
			if s.Description != "" {
				b.WriteString(fmt.Sprintf("\n⭐ %s: %s", s.Label, s.Description))
			}
		}
	case workflow.StageGenerate:
		b.WriteString("🎨 Choose how to generate:\n")
		b.WriteString("Single: one lifestyle shot\n")
		b.WriteString("Multi-format: square, vertical and horizontal\n")
		b.WriteString("Variations: several takes on the scene")
	case workflow.StageGenerated:
		b.WriteString("✅ Your scene is ready. Edit it, export it or go back to generate again.")
	case workflow.StageEdit:
		b.WriteString("✏️ Send an edit instruction as a message, or tap an example.")
		for i, h := range st.History {
			b.WriteString(fmt.Sprintf("\n%d) %s", i+1, truncateLine(h.RequestText, 60)))
		}
	case workflow.StageExport:
		b.WriteString(fmt.Sprintf("📦 Exported %d formats:", st.Exports.Len()))
		for _, f := range st.Exports {
			b.WriteString("\n• " + formatLabel(f.Key))
		}
	}

	return strings.TrimSpace(b.String())
}

func cardKeyboard(ownerID int64, st workflow.State) telegram.Keyboard {
	var rows [][]tgbotapi.InlineKeyboardButton

	switch st.Stage {
	case workflow.StageUpload:
		return tgbotapi.NewInlineKeyboardMarkup()
	case workflow.StageDetect:
		rows = append(rows, []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData("🔍 Detect product", cb(ownerID, actionDetect)),
		})
		if st.Product != nil {
			rows = append(rows, sceneRows(ownerID, st.Suggestions)...)
		}
	case workflow.StageSceneSelect:
		rows = append(rows, sceneRows(ownerID, st.Suggestions)...)
	case workflow.StageGenerate:
		var row []tgbotapi.InlineKeyboardButton
		for _, m := range remote.Modes() {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(modeLabels[m], cb(ownerID, actionMode, string(m))))
		}
		rows = append(rows, row)
	case workflow.StageGenerated:
		rows = append(rows, []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData("✏️ Edit", cb(ownerID, actionEdit)),
			tgbotapi.NewInlineKeyboardButtonData("📦 Export", cb(ownerID, actionExport)),
		})
	case workflow.StageEdit:
		for i, e := range scene.ExampleEdits() {
			rows = append(rows, []tgbotapi.InlineKeyboardButton{
				tgbotapi.NewInlineKeyboardButtonData("💡 "+e, cb(ownerID, actionExample, strconv.Itoa(i))),
			})
		}
		rows = append(rows, []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData("📦 Export", cb(ownerID, actionExport)),
		})
	case workflow.StageExport:
		rows = append(rows, []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData("🔁 Export again", cb(ownerID, actionExport)),
		})
	}

	rows = append(rows, []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonData("⬅ Back", cb(ownerID, actionBack)),
		tgbotapi.NewInlineKeyboardButtonData("🔄 Start over", cb(ownerID, actionReset)),
	})
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// sceneRows lists suggested scenes first, then the rest of the catalog.
func sceneRows(ownerID int64, suggestions []scene.Suggestion) [][]tgbotapi.InlineKeyboardButton {
	suggested := make(map[scene.ID]bool, len(suggestions))
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton

	add := func(id scene.ID, label string) {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(label, cb(ownerID, actionScene, string(id))))
		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}

	for _, s := range suggestions {
		if suggested[s.Scene] || !scene.Valid(s.Scene) {
			continue
		}
		suggested[s.Scene] = true
		label := s.Label
		if label == "" {
			p, _ := scene.Lookup(s.Scene)
			label = p.Name
		}
		add(s.Scene, "⭐ "+label)
	}
	for _, p := range scene.Catalog() {
		if !suggested[p.ID] {
			add(p.ID, p.Name)
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return rows
}

// insightCaption renders the consultant's assessment under a generated image.
func insightCaption(st workflow.State) string {
	var b strings.Builder
	if p, ok := scene.Lookup(st.Scene); ok {
		b.WriteString("✅ " + p.Name)
	} else {
		b.WriteString("✅ Ready")
	}

	if st.Artifact == nil || st.Artifact.Insight == nil {
		return b.String()
	}
	in := st.Artifact.Insight

	if in.QualityScore > 0 {
		b.WriteString(fmt.Sprintf("\n\nQuality: %d/100 (%s)", in.QualityScore, in.QualityLabel()))
	}
	if len(in.Strengths) > 0 {
		b.WriteString("\nStrengths: " + strings.Join(in.Strengths, ", "))
	}
	if len(in.Improvements) > 0 {
		b.WriteString("\nTry: " + strings.Join(in.Improvements, ", "))
	}
	var names []string
	for _, id := range in.RecommendedScenes {
		if p, ok := scene.Lookup(scene.ID(id)); ok {
			names = append(names, p.Name)
		}
	}
	if len(names) > 0 {
		b.WriteString("\nAlso works in: " + strings.Join(names, ", "))
	}
	if in.TargetAudience != "" {
		b.WriteString("\nAudience: " + in.TargetAudience)
	}
	return b.String()
}

// userError maps a workflow failure to chat copy. Abandoned results yield
// an empty string and are not reported.
func userError(err error) string {
	switch {
	case err == nil, errors.Is(err, workflow.ErrAbandoned):
		return ""
	case errors.Is(err, workflow.ErrBusy):
		return "⏳ Still working on your previous request, please wait."
	case errors.Is(err, workflow.ErrUnknownScene):
		return "❌ That scene is not available. Pick one from the list."
	case errors.Is(err, workflow.ErrValidation):
		return "⚠️ " + capitalize(workflow.Message(err)) + "."
	case errors.Is(err, workflow.ErrEmptyResult):
		return "❌ The service returned no image. Try another mode or scene."
	case errors.Is(err, workflow.ErrRemoteFailure):
		return "❌ " + capitalize(workflow.Message(err))
	default:
		return "❌ Something went wrong. Please try again."
	}
}

func modeName(m remote.Mode) string {
	switch m {
	case remote.ModeSingle:
		return "Single"
	case remote.ModeMultiFormat:
		return "Multi-format"
	case remote.ModeVariations:
		return "Variations"
	}
	return string(m)
}

func formatLabel(key string) string {
	words := strings.Fields(strings.ReplaceAll(key, "_", " "))
	for i, w := range words {
		words[i] = capitalize(w)
	}
	return strings.Join(words, " ")
}

func capitalize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	r := []rune(s)
	return strings.ToUpper(string(r[0])) + string(r[1:])
}

func truncateLine(s string, max int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if max <= 0 || len(runes) <= max {
		return s
	}
	return strings.TrimSpace(string(runes[:max])) + "…"
}
