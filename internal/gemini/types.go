package gemini

type ImageInput struct {
	Data     []byte
	MimeType string
}

type Image struct {
	Data     []byte
	MimeType string
}

type Response struct {
	Text   string
	Images []Image
}

// Classification is the vision model's guess about the product in a photo.
type Classification struct {
	Category    string `json:"category"`
	ProductName string `json:"product_name"`
}

type SceneRecommendation struct {
	Scene  string  `json:"scene"`
	Reason string  `json:"reason"`
	Score  float64 `json:"score"`
}

// Assessment is the photography consultant's review of a generated image.
type Assessment struct {
	QualityScore      int      `json:"quality_score"`
	OverallQuality    string   `json:"overall_quality"`
	Strengths         []string `json:"strengths"`
	Improvements      []string `json:"improvement_suggestions"`
	RecommendedScenes []string `json:"recommended_scenes"`
	CompositionRules  string   `json:"composition_rules"`
	BrandPositioning  string   `json:"brand_positioning"`
	TargetAudience    string   `json:"target_audience"`
}
