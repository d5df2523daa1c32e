package workflow

import (
	"time"

	"productscene/internal/remote"
	"productscene/internal/scene"
)

type Stage int

const (
	StageUpload Stage = iota
	StageDetect
	StageSceneSelect
	StageGenerate
	StageGenerated
	StageEdit
	StageExport
)

var stageNames = [...]string{
	StageUpload:      "upload",
	StageDetect:      "detect",
	StageSceneSelect: "scene_select",
	StageGenerate:    "generate",
	StageGenerated:   "generated",
	StageEdit:        "edit",
	StageExport:      "export",
}

func (s Stage) String() string {
	if s < StageUpload || s > StageExport {
		return "unknown"
	}
	return stageNames[s]
}

func Stages() []Stage {
	return []Stage{StageUpload, StageDetect, StageSceneSelect, StageGenerate, StageGenerated, StageEdit, StageExport}
}

// previous is the canonical back-edge, ignoring edit history.
func (s Stage) previous() Stage {
	if s <= StageUpload {
		return StageUpload
	}
	return s - 1
}

// UploadedAsset is never modified after creation. A re-upload produces a new
// value with the same ID and a fresh Ref.
type UploadedAsset struct {
	ID         string
	Ref        string
	Filename   string
	MimeType   string
	Data       []byte
	UploadedAt time.Time
}

type DetectedProduct struct {
	Category    scene.Category
	DisplayName string
	// AssetID binds the detection to the upload it was made for.
	AssetID  string
	Fallback bool
}

type GeneratedArtifact struct {
	Ref     string
	Mode    remote.Mode
	SceneID scene.ID
	// Refs holds every reference the generation returned, in service order.
	Refs      remote.RefMap
	Insight   *remote.Insight
	CreatedAt time.Time
}

type EditEntry struct {
	RequestText string
	ResultRef   string
}

// State is the whole session. Values returned by the Controller are deep
// copies and may be read freely.
type State struct {
	Stage       Stage
	Asset       *UploadedAsset
	Product     *DetectedProduct
	Suggestions []scene.Suggestion
	Scene       scene.ID
	Artifact    *GeneratedArtifact
	History     []EditEntry
	Exports     remote.RefMap

	// Pending names the operation in flight, empty when idle.
	Pending string
}

func (s State) Clone() State {
	out := s
	if s.Asset != nil {
		a := *s.Asset
		a.Data = append([]byte(nil), s.Asset.Data...)
		out.Asset = &a
	}
	if s.Product != nil {
		p := *s.Product
		out.Product = &p
	}
	if s.Artifact != nil {
		g := *s.Artifact
		g.Refs = s.Artifact.Refs.Clone()
		if s.Artifact.Insight != nil {
			in := *s.Artifact.Insight
			in.Strengths = append([]string(nil), in.Strengths...)
			in.Improvements = append([]string(nil), in.Improvements...)
			in.RecommendedScenes = append([]string(nil), in.RecommendedScenes...)
			g.Insight = &in
		}
		out.Artifact = &g
	}
	out.Suggestions = append([]scene.Suggestion(nil), s.Suggestions...)
	out.History = append([]EditEntry(nil), s.History...)
	out.Exports = s.Exports.Clone()
	return out
}

func (s State) detectedForCurrentAsset() bool {
	return s.Asset != nil && s.Product != nil && s.Product.AssetID == s.Asset.ID
}
