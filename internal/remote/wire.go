package remote

import (
	"encoding/json"
	"strings"
)

// Wire shapes of the ProductScene HTTP API. The same structs are used by the
// client and by cmd/web so both sides agree on field names.

// Status is embedded in every response. Success is authoritative: a body
// without "success": true is a failure whatever else it carries.
type Status struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

func (s Status) ok() bool          { return s.Success }
func (s Status) errorText() string { return strings.TrimSpace(s.Error) }

type UploadResponse struct {
	Status
	Filename string `json:"filename,omitempty"`
}

type DetectBody struct {
	Filename string `json:"filename"`
}

type DetectResponse struct {
	Status
	ProductType string `json:"product_type,omitempty"`
	ProductName string `json:"product_name,omitempty"`
}

type GenerateBody struct {
	Filename           string `json:"filename"`
	ScenePreset        string `json:"scene_preset"`
	ProductDescription string `json:"product_description"`
	UseAIConsultant    bool   `json:"use_ai_consultant"`
}

type GenerateResponse struct {
	Status
	OutputFilename string          `json:"output_filename,omitempty"`
	FormatFiles    RefMap          `json:"format_files,omitempty"`
	VariationFiles RefMap          `json:"variation_files,omitempty"`
	Insights       *InsightPayload `json:"photography_insights,omitempty"`
}

type RecommendBody struct {
	Filename           string `json:"filename"`
	ProductDescription string `json:"product_description"`
}

type RecommendationPayload struct {
	Scene  string  `json:"scene"`
	Reason string  `json:"reason,omitempty"`
	Score  float64 `json:"score,omitempty"`
}

type RecommendResponse struct {
	Status
	Recommendations []RecommendationPayload `json:"recommendations,omitempty"`
}

type EditBody struct {
	OutputFilename string `json:"output_filename"`
	EditRequest    string `json:"edit_request"`
}

type EditResponse struct {
	Status
	OutputFilename string `json:"output_filename,omitempty"`
}

type ExportBody struct {
	OutputFilename string `json:"output_filename"`
	ProductName    string `json:"product_name"`
}

type ExportResponse struct {
	Status
	ExportedFiles RefMap `json:"exported_files,omitempty"`
}

type InsightPayload struct {
	OptimalScenes     []OptimalScene     `json:"optimal_scenes,omitempty"`
	CompositionRules  string             `json:"composition_rules,omitempty"`
	BrandPositioning  string             `json:"brand_positioning,omitempty"`
	TargetAudience    string             `json:"target_audience,omitempty"`
	QualityAssessment *QualityAssessment `json:"quality_assessment,omitempty"`
}

type QualityAssessment struct {
	OverallQuality         string   `json:"overall_quality,omitempty"`
	QualityScore           int      `json:"quality_score,omitempty"`
	Strengths              []string `json:"strengths,omitempty"`
	ImprovementSuggestions []string `json:"improvement_suggestions,omitempty"`
}

// OptimalScene accepts either a bare scene id or an object with a "scene"
// (or "name") field.
type OptimalScene struct {
	Scene  string `json:"scene"`
	Reason string `json:"reason,omitempty"`
}

func (o *OptimalScene) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		o.Scene = s
		return nil
	}
	var obj struct {
		Scene  string `json:"scene"`
		Name   string `json:"name"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	o.Scene = obj.Scene
	if o.Scene == "" {
		o.Scene = obj.Name
	}
	o.Reason = obj.Reason
	return nil
}

func (p *InsightPayload) toInsight() *Insight {
	if p == nil {
		return nil
	}
	in := &Insight{
		CompositionRules: p.CompositionRules,
		BrandPositioning: p.BrandPositioning,
		TargetAudience:   p.TargetAudience,
	}
	for _, s := range p.OptimalScenes {
		if strings.TrimSpace(s.Scene) != "" {
			in.RecommendedScenes = append(in.RecommendedScenes, s.Scene)
		}
	}
	if qa := p.QualityAssessment; qa != nil {
		in.QualityScore = qa.QualityScore
		in.OverallQuality = qa.OverallQuality
		in.Strengths = append([]string(nil), qa.Strengths...)
		in.Improvements = append([]string(nil), qa.ImprovementSuggestions...)
	}
	return in
}

// InsightToPayload is the inverse used by the service side.
func InsightToPayload(in *Insight) *InsightPayload {
	if in == nil {
		return nil
	}
	p := &InsightPayload{
		CompositionRules: in.CompositionRules,
		BrandPositioning: in.BrandPositioning,
		TargetAudience:   in.TargetAudience,
		QualityAssessment: &QualityAssessment{
			OverallQuality:         in.OverallQuality,
			QualityScore:           in.QualityScore,
			Strengths:              in.Strengths,
			ImprovementSuggestions: in.Improvements,
		},
	}
	for _, s := range in.RecommendedScenes {
		p.OptimalScenes = append(p.OptimalScenes, OptimalScene{Scene: s})
	}
	return p
}

// GeneratePath maps a mode onto its endpoint.
func GeneratePath(mode Mode) string {
	switch mode {
	case ModeMultiFormat:
		return "/api/generate_multi_format"
	case ModeVariations:
		return "/api/generate_variations"
	default:
		return "/api/generate_scene"
	}
}

const ImagePathPrefix = "/api/image/"
