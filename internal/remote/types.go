package remote

import (
	"context"
	"fmt"
	"strings"
)

// Operations is the complete set of calls the workflow may make against the
// image service. Implementations never retry.
type Operations interface {
	Upload(ctx context.Context, req UploadRequest) (UploadResult, error)
	DetectProduct(ctx context.Context, req DetectRequest) (Detection, error)
	GenerateScene(ctx context.Context, req GenerateRequest) (Generation, error)
	GetRecommendations(ctx context.Context, req RecommendRequest) (Recommendations, error)
	ApplyEdit(ctx context.Context, req EditRequest) (EditResult, error)
	ExportFormats(ctx context.Context, req ExportRequest) (ExportResult, error)
}

// ImageFetcher resolves an asset reference to image bytes.
type ImageFetcher interface {
	FetchImage(ctx context.Context, ref string) (Image, error)
}

const (
	OpUpload          = "upload"
	OpDetectProduct   = "detectProduct"
	OpGenerateScene   = "generateScene"
	OpRecommendations = "getRecommendations"
	OpApplyEdit       = "applyEdit"
	OpExportFormats   = "exportFormats"
	OpFetchImage      = "fetchImage"
)

type Mode string

const (
	ModeSingle      Mode = "single"
	ModeMultiFormat Mode = "multi-format"
	ModeVariations  Mode = "variations"
)

func Modes() []Mode {
	return []Mode{ModeSingle, ModeMultiFormat, ModeVariations}
}

func ParseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "single":
		return ModeSingle, nil
	case "multi-format", "multi_format", "multi":
		return ModeMultiFormat, nil
	case "variations", "variation":
		return ModeVariations, nil
	}
	return "", fmt.Errorf("unknown generation mode %q", raw)
}

func (m Mode) Valid() bool {
	switch m {
	case ModeSingle, ModeMultiFormat, ModeVariations:
		return true
	}
	return false
}

type Image struct {
	Data     []byte
	MimeType string
}

type UploadRequest struct {
	Filename string
	MimeType string
	Data     []byte
}

type UploadResult struct {
	AssetRef string
}

type DetectRequest struct {
	AssetRef string
}

type Detection struct {
	Category    string
	DisplayName string
}

type GenerateRequest struct {
	AssetRef           string
	SceneID            string
	ProductDescription string
	Mode               Mode
	UseConsultant      bool
}

// Generation carries whichever result shape the mode produces: PrimaryRef
// for single, Formats for multi-format, Variations for variations.
type Generation struct {
	PrimaryRef string
	Formats    RefMap
	Variations RefMap
	Insight    *Insight
}

type RecommendRequest struct {
	AssetRef           string
	ProductDescription string
}

type Recommendation struct {
	SceneID string
	Reason  string
	Score   float64
}

type Recommendations struct {
	Items []Recommendation
}

type EditRequest struct {
	CurrentFilename string
	InstructionText string
}

type EditResult struct {
	NewRef string
}

type ExportRequest struct {
	CurrentFilename string
	ProductName     string
}

type ExportResult struct {
	Formats RefMap
}

// Insight is the photography consultant's assessment of a generated image.
type Insight struct {
	QualityScore      int
	OverallQuality    string
	Strengths         []string
	Improvements      []string
	RecommendedScenes []string
	CompositionRules  string
	BrandPositioning  string
	TargetAudience    string
}

func (i Insight) QualityLabel() string {
	switch {
	case i.QualityScore >= 90:
		return "Excellent"
	case i.QualityScore >= 80:
		return "Good"
	case i.QualityScore >= 70:
		return "Fair"
	default:
		return "Needs Work"
	}
}
