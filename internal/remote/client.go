package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path"
	"strings"
)

const (
	// DefaultMaxImageBytes caps a fetched image when Options leaves it zero.
	DefaultMaxImageBytes = 64 << 20
	maxJSONBytes         = 1 << 20
)

var errResponseTooLarge = errors.New("response too large")

type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
	// MaxImageBytes caps image bodies returned by FetchImage.
	MaxImageBytes int64
}

// Client talks to a ProductScene service over its JSON API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	maxImage   int64
}

var (
	_ Operations   = (*Client)(nil)
	_ ImageFetcher = (*Client)(nil)
)

type responder interface {
	ok() bool
	errorText() string
}

func New(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("remote base url is empty")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if opts.HTTPClient == nil {
		return nil, errors.New("http client is nil")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	maxImage := opts.MaxImageBytes
	if maxImage <= 0 {
		maxImage = DefaultMaxImageBytes
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: opts.HTTPClient,
		logger:     logger,
		maxImage:   maxImage,
	}, nil
}

func (c *Client) Upload(ctx context.Context, req UploadRequest) (UploadResult, error) {
	if len(req.Data) == 0 {
		return UploadResult{}, Failed(OpUpload, "image is empty")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	filename := path.Base(strings.TrimSpace(req.Filename))
	if filename == "" || filename == "." || filename == "/" {
		filename = "product.jpg"
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="product_image"; filename=%q`, filename))
	if req.MimeType != "" {
		header.Set("Content-Type", req.MimeType)
	}
	part, err := mw.CreatePart(header)
	if err != nil {
		return UploadResult{}, Failed(OpUpload, "build multipart body: "+err.Error())
	}
	if _, err := part.Write(req.Data); err != nil {
		return UploadResult{}, Failed(OpUpload, "build multipart body: "+err.Error())
	}
	if err := mw.Close(); err != nil {
		return UploadResult{}, Failed(OpUpload, "build multipart body: "+err.Error())
	}

	var resp UploadResponse
	if err := c.do(ctx, OpUpload, "/api/upload", mw.FormDataContentType(), &body, &resp); err != nil {
		return UploadResult{}, err
	}
	if strings.TrimSpace(resp.Filename) == "" {
		return UploadResult{}, Failed(OpUpload, "service returned no asset reference")
	}
	return UploadResult{AssetRef: resp.Filename}, nil
}

func (c *Client) DetectProduct(ctx context.Context, req DetectRequest) (Detection, error) {
	var resp DetectResponse
	if err := c.postJSON(ctx, OpDetectProduct, "/api/detect_product", DetectBody{Filename: req.AssetRef}, &resp); err != nil {
		return Detection{}, err
	}
	return Detection{Category: resp.ProductType, DisplayName: resp.ProductName}, nil
}

func (c *Client) GenerateScene(ctx context.Context, req GenerateRequest) (Generation, error) {
	if !req.Mode.Valid() {
		return Generation{}, Failed(OpGenerateScene, fmt.Sprintf("unsupported mode %q", req.Mode))
	}

	body := GenerateBody{
		Filename:           req.AssetRef,
		ScenePreset:        req.SceneID,
		ProductDescription: req.ProductDescription,
		UseAIConsultant:    req.UseConsultant,
	}

	var resp GenerateResponse
	if err := c.postJSON(ctx, OpGenerateScene, GeneratePath(req.Mode), body, &resp); err != nil {
		return Generation{}, err
	}
	return Generation{
		PrimaryRef: resp.OutputFilename,
		Formats:    resp.FormatFiles,
		Variations: resp.VariationFiles,
		Insight:    resp.Insights.toInsight(),
	}, nil
}

func (c *Client) GetRecommendations(ctx context.Context, req RecommendRequest) (Recommendations, error) {
	var resp RecommendResponse
	body := RecommendBody{Filename: req.AssetRef, ProductDescription: req.ProductDescription}
	if err := c.postJSON(ctx, OpRecommendations, "/api/get_recommendations", body, &resp); err != nil {
		return Recommendations{}, err
	}

	out := Recommendations{Items: make([]Recommendation, 0, len(resp.Recommendations))}
	for _, r := range resp.Recommendations {
		out.Items = append(out.Items, Recommendation{SceneID: r.Scene, Reason: r.Reason, Score: r.Score})
	}
	return out, nil
}

func (c *Client) ApplyEdit(ctx context.Context, req EditRequest) (EditResult, error) {
	var resp EditResponse
	body := EditBody{OutputFilename: req.CurrentFilename, EditRequest: req.InstructionText}
	if err := c.postJSON(ctx, OpApplyEdit, "/api/conversational_edit", body, &resp); err != nil {
		return EditResult{}, err
	}
	if strings.TrimSpace(resp.OutputFilename) == "" {
		return EditResult{}, Failed(OpApplyEdit, "service returned no edited image")
	}
	return EditResult{NewRef: resp.OutputFilename}, nil
}

func (c *Client) ExportFormats(ctx context.Context, req ExportRequest) (ExportResult, error) {
	var resp ExportResponse
	body := ExportBody{OutputFilename: req.CurrentFilename, ProductName: req.ProductName}
	if err := c.postJSON(ctx, OpExportFormats, "/api/export_formats", body, &resp); err != nil {
		return ExportResult{}, err
	}
	return ExportResult{Formats: resp.ExportedFiles}, nil
}

// ImageURL is the stable retrieval path for a reference.
func (c *Client) ImageURL(ref string) string {
	return c.baseURL + ImagePathPrefix + url.PathEscape(ref)
}

func (c *Client) FetchImage(ctx context.Context, ref string) (Image, error) {
	if strings.TrimSpace(ref) == "" {
		return Image{}, Failed(OpFetchImage, "empty reference")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.ImageURL(ref), nil)
	if err != nil {
		return Image{}, Failed(OpFetchImage, "create request: "+err.Error())
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Image{}, transportFailure(OpFetchImage, err)
	}
	defer httpResp.Body.Close()

	data, err := readLimited(httpResp.Body, c.maxImage)
	if errors.Is(err, errResponseTooLarge) {
		return Image{}, &Failure{Op: OpFetchImage, Status: httpResp.StatusCode, Message: fmt.Sprintf("image is larger than %d bytes", c.maxImage), Err: err}
	}
	if err != nil {
		return Image{}, transportFailure(OpFetchImage, fmt.Errorf("read response: %w", err))
	}
	if httpResp.StatusCode >= 400 {
		return Image{}, &Failure{
			Op:      OpFetchImage,
			Status:  httpResp.StatusCode,
			Message: fmt.Sprintf("%s: %s", httpResp.Status, strings.TrimSpace(string(data))),
		}
	}

	mimeType := strings.TrimSpace(httpResp.Header.Get("content-type"))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	return Image{Data: data, MimeType: mimeType}, nil
}

func (c *Client) postJSON(ctx context.Context, op, endpoint string, payload any, out responder) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return Failed(op, "marshal request: "+err.Error())
	}
	return c.do(ctx, op, endpoint, "application/json", bytes.NewReader(body), out)
}

func (c *Client) do(ctx context.Context, op, endpoint, contentType string, body io.Reader, out responder) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, body)
	if err != nil {
		return Failed(op, "create request: "+err.Error())
	}
	httpReq.Header.Set("content-type", contentType)
	httpReq.Header.Set("accept", "application/json")

	c.logger.Debug("remote call", "op", op, "endpoint", endpoint)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return transportFailure(op, err)
	}
	defer httpResp.Body.Close()

	rawBody, err := readLimited(httpResp.Body, maxJSONBytes)
	if errors.Is(err, errResponseTooLarge) {
		return &Failure{Op: op, Status: httpResp.StatusCode, Message: fmt.Sprintf("response is larger than %d bytes", maxJSONBytes), Err: err}
	}
	if err != nil {
		return transportFailure(op, fmt.Errorf("read response: %w", err))
	}

	decodeErr := json.Unmarshal(rawBody, out)

	if httpResp.StatusCode >= 400 {
		msg := ""
		if decodeErr == nil {
			msg = out.errorText()
		}
		if msg == "" {
			msg = strings.TrimSpace(string(rawBody))
		}
		return &Failure{
			Op:      op,
			Status:  httpResp.StatusCode,
			Message: fmt.Sprintf("%s: %s", httpResp.Status, msg),
		}
	}
	if decodeErr != nil {
		return &Failure{Op: op, Status: httpResp.StatusCode, Message: "decode response: " + decodeErr.Error(), Err: decodeErr}
	}
	if !out.ok() {
		msg := out.errorText()
		if msg == "" {
			msg = "service did not report success"
		}
		return &Failure{Op: op, Status: httpResp.StatusCode, Message: msg}
	}
	return nil
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errResponseTooLarge
	}
	return data, nil
}
