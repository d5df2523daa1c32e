package handlers

import (
	"strings"

	"productscene/internal/remote"
	"productscene/internal/scene"
)

type intentKind int

const (
	intentNone intentKind = iota
	intentReset
	intentBack
	intentExport
	intentEdit
	intentScene
	intentMode
)

type intent struct {
	Kind  intentKind
	Scene scene.ID
	Mode  remote.Mode
}

var (
	resetWords  = []string{"reset", "start over", "restart", "new photo", "qaytadan"}
	backWords   = []string{"back", "go back", "orqaga"}
	exportWords = []string{"export", "download", "done", "finish", "yuklab"}
	editWords   = []string{"edit", "tahrir"}
)

// parseIntent recognises short navigation replies typed instead of tapped.
// Anything longer than a few words is left alone so edit instructions are
// never mistaken for commands.
func parseIntent(text string) intent {
	t := strings.ToLower(strings.TrimSpace(text))
	t = strings.Trim(t, ".!?")
	if t == "" || len(strings.Fields(t)) > 3 {
		return intent{}
	}

	switch {
	case matchesAny(t, resetWords):
		return intent{Kind: intentReset}
	case matchesAny(t, backWords):
		return intent{Kind: intentBack}
	case matchesAny(t, exportWords):
		return intent{Kind: intentExport}
	case matchesAny(t, editWords):
		return intent{Kind: intentEdit}
	}

	if id, ok := sceneFromText(t); ok {
		return intent{Kind: intentScene, Scene: id}
	}
	if m, err := remote.ParseMode(t); err == nil && t != "" {
		return intent{Kind: intentMode, Mode: m}
	}
	return intent{}
}

func matchesAny(t string, words []string) bool {
	for _, w := range words {
		if t == w {
			return true
		}
	}
	return false
}

// sceneFromText accepts a catalog id, a display name, or the first word of
// a display name when no other scene starts with it.
func sceneFromText(t string) (scene.ID, bool) {
	norm := strings.ReplaceAll(t, " ", "_")
	if scene.Valid(scene.ID(norm)) {
		return scene.ID(norm), true
	}

	var byWord []scene.ID
	for _, p := range scene.Catalog() {
		name := strings.ToLower(p.Name)
		if t == name {
			return p.ID, true
		}
		if strings.Fields(name)[0] == t {
			byWord = append(byWord, p.ID)
		}
	}
	if len(byWord) == 1 {
		return byWord[0], true
	}
	return "", false
}
