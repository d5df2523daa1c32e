package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

const (
	modelText  = "gemini-2.5-flash"
	modelImage = "gemini-2.5-flash-image"
)

const systemInstruction = `You are a senior commercial product photographer and art director.
You place products into realistic lifestyle scenes without altering the product itself.
Keep logos, colors, materials and proportions of the product exactly as photographed.`

const classifyPrompt = `Analyze this product image.
Respond with JSON only: {"category": "...", "product_name": "..."}.
category must be one of: footwear, food, devices, other.
product_name is a short human readable name for the product (at most 5 words).`

const assessPrompt = `Review this generated marketing photo of %s.
Respond with JSON only using these keys:
"quality_score" (integer 0-100), "overall_quality" (one short sentence),
"strengths" (list of strings), "improvement_suggestions" (list of strings),
"recommended_scenes" (list drawn from: %s), "composition_rules", "brand_positioning", "target_audience".`

const recommendPrompt = `Suggest the best lifestyle scenes for photographing %s.
Choose only from these scene ids: %s.
Respond with JSON only: {"recommendations": [{"scene": "...", "reason": "...", "score": 0.0}]}, best first.`

type Options struct {
	APIKey     string
	BaseURL    string
	APIVersion string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type Client struct {
	apiKey     string
	baseURL    string
	apiVersion string
	httpClient *http.Client
	logger     *slog.Logger
}

func New(opts Options) *Client {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}

	apiVersion := strings.TrimSpace(opts.APIVersion)
	if apiVersion == "" {
		apiVersion = "v1beta"
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{
		apiKey:     opts.APIKey,
		baseURL:    baseURL,
		apiVersion: apiVersion,
		httpClient: opts.HTTPClient,
		logger:     logger,
	}
}

// ClassifyProduct asks the vision model what the photographed product is.
func (c *Client) ClassifyProduct(ctx context.Context, img ImageInput) (Classification, error) {
	var out Classification
	if err := c.askJSON(ctx, classifyPrompt, []ImageInput{img}, &out); err != nil {
		return Classification{}, fmt.Errorf("classify product: %w", err)
	}
	out.Category = strings.ToLower(strings.TrimSpace(out.Category))
	out.ProductName = strings.TrimSpace(out.ProductName)
	return out, nil
}

func (c *Client) RecommendScenes(ctx context.Context, img ImageInput, productDescription string, sceneIDs []string) ([]SceneRecommendation, error) {
	var out struct {
		Recommendations []SceneRecommendation `json:"recommendations"`
	}
	prompt := fmt.Sprintf(recommendPrompt, subject(productDescription), strings.Join(sceneIDs, ", "))
	if err := c.askJSON(ctx, prompt, []ImageInput{img}, &out); err != nil {
		return nil, fmt.Errorf("recommend scenes: %w", err)
	}
	return out.Recommendations, nil
}

func (c *Client) Assess(ctx context.Context, img ImageInput, productDescription string, sceneIDs []string) (Assessment, error) {
	var out Assessment
	prompt := fmt.Sprintf(assessPrompt, subject(productDescription), strings.Join(sceneIDs, ", "))
	if err := c.askJSON(ctx, prompt, []ImageInput{img}, &out); err != nil {
		return Assessment{}, fmt.Errorf("assess image: %w", err)
	}
	return out, nil
}

// GenerateImage renders prompt against the input images and returns the
// first image the model produced.
func (c *Client) GenerateImage(ctx context.Context, prompt string, images []ImageInput, aspectRatio string) (Image, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return Image{}, errors.New("prompt is empty")
	}

	req := generateContentRequest{
		Contents:          []content{{Role: "user", Parts: buildParts(prompt+"\n\nReturn the result as an image only.", images)}},
		SystemInstruction: &content{Role: "user", Parts: []part{{Text: systemInstruction}}},
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"IMAGE", "TEXT"},
		},
	}
	if aspectRatio != "" {
		req.GenerationConfig.ImageConfig = &imageConfig{AspectRatio: aspectRatio}
	}

	resp, err := c.generateContent(ctx, modelImage, req)
	if err != nil && req.GenerationConfig.ImageConfig != nil && isUnknownFieldError(err, "imageConfig") {
		c.logger.Warn("imageConfig rejected, retrying without aspect ratio", "aspect_ratio", aspectRatio)
		req.GenerationConfig.ImageConfig = nil
		resp, err = c.generateContent(ctx, modelImage, req)
	}
	if err != nil {
		return Image{}, err
	}
	if len(resp.Images) == 0 {
		text := strings.TrimSpace(resp.Text)
		if text == "" {
			text = "no image in response"
		}
		return Image{}, fmt.Errorf("model returned no image: %s", truncate(text, 200))
	}
	return resp.Images[0], nil
}

func (c *Client) askJSON(ctx context.Context, prompt string, images []ImageInput, out any) error {
	req := generateContentRequest{
		Contents:          []content{{Role: "user", Parts: buildParts(prompt, images)}},
		SystemInstruction: &content{Role: "user", Parts: []part{{Text: systemInstruction}}},
		GenerationConfig: generationConfig{
			Temperature:      0.2,
			ResponseMimeType: "application/json",
		},
	}

	resp, err := c.generateContent(ctx, modelText, req)
	if err != nil && isUnknownFieldError(err, "responseMimeType") {
		req.GenerationConfig.ResponseMimeType = ""
		resp, err = c.generateContent(ctx, modelText, req)
	}
	if err != nil {
		return err
	}

	raw := stripCodeFence(resp.Text)
	if raw == "" {
		return errors.New("empty model answer")
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("decode model answer: %w", err)
	}
	return nil
}

func buildParts(text string, images []ImageInput) []part {
	parts := []part{{Text: text}}
	for _, img := range images {
		if len(img.Data) == 0 {
			continue
		}
		mimeType := img.MimeType
		if mimeType == "" {
			mimeType = "image/jpeg"
		}
		parts = append(parts, part{InlineData: &blob{
			Data:     base64.StdEncoding.EncodeToString(img.Data),
			MimeType: mimeType,
		}})
	}
	return parts
}

func (c *Client) generateContent(ctx context.Context, model string, payload generateContentRequest) (Response, error) {
	if c.httpClient == nil {
		return Response{}, errors.New("http client is nil")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/models/%s:generateContent", c.baseURL, c.apiVersion, model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("request: %w", err)
	}
	defer httpResp.Body.Close()

	rawBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode >= 400 {
		return Response{}, fmt.Errorf("gemini API %s: %s", httpResp.Status, strings.TrimSpace(string(rawBody)))
	}

	var decoded generateContentResponse
	if err := json.Unmarshal(rawBody, &decoded); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	if decoded.PromptFeedback != nil && decoded.PromptFeedback.BlockReason != "" {
		return Response{}, fmt.Errorf("prompt blocked: %s", decoded.PromptFeedback.BlockReason)
	}

	text, images := extractParts(decoded)
	c.logger.Debug("gemini response", "model", model, "text_len", len(text), "images", len(images))
	return Response{Text: text, Images: images}, nil
}

func extractParts(resp generateContentResponse) (string, []Image) {
	if len(resp.Candidates) == 0 {
		return "", nil
	}

	var textBuilder strings.Builder
	var images []Image

	for _, p := range resp.Candidates[0].Content.Parts {
		if p.Text != "" {
			textBuilder.WriteString(p.Text)
		}
		if p.InlineData == nil || p.InlineData.Data == "" {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
		if err != nil {
			continue
		}
		mimeType := p.InlineData.MimeType
		if mimeType == "" {
			mimeType = http.DetectContentType(data)
		}
		images = append(images, Image{Data: data, MimeType: mimeType})
	}

	return textBuilder.String(), images
}

type generateContentRequest struct {
	Contents          []content        `json:"contents"`
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
	GenerationConfig  generationConfig `json:"generationConfig,omitempty"`
}

type generationConfig struct {
	Temperature        float64      `json:"temperature,omitempty"`
	ResponseModalities []string     `json:"responseModalities,omitempty"`
	ResponseMimeType   string       `json:"responseMimeType,omitempty"`
	ImageConfig        *imageConfig `json:"imageConfig,omitempty"`
}

type imageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string `json:"text,omitempty"`
	InlineData *blob  `json:"inlineData,omitempty"`
}

type blob struct {
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
}

type generateContentResponse struct {
	Candidates     []candidate     `json:"candidates"`
	PromptFeedback *promptFeedback `json:"promptFeedback,omitempty"`
}

type candidate struct {
	Content content `json:"content"`
}

type promptFeedback struct {
	BlockReason string `json:"blockReason"`
}

func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[i+1:]
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

func subject(productDescription string) string {
	if d := strings.TrimSpace(productDescription); d != "" {
		return d
	}
	return "the product"
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "…"
}

func isUnknownFieldError(err error, field string) bool {
	message := err.Error()
	return strings.Contains(message, "Unknown name") && strings.Contains(message, field)
}
