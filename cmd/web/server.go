package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"productscene/internal/assets"
	"productscene/internal/remote"
	"productscene/internal/scene"
)

type server struct {
	ops            remote.Operations
	images         remote.ImageFetcher
	logger         *slog.Logger
	maxUpload      int64
	requestTimeout time.Duration
}

type sceneInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type scenesResponse struct {
	remote.Status
	Scenes       []sceneInfo `json:"scenes"`
	ExampleEdits []string    `json:"example_edits"`
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/upload", s.handleUpload)
	mux.HandleFunc("POST /api/detect_product", s.handleDetect)
	mux.HandleFunc("POST /api/generate_scene", s.handleGenerate(remote.ModeSingle))
	mux.HandleFunc("POST /api/generate_multi_format", s.handleGenerate(remote.ModeMultiFormat))
	mux.HandleFunc("POST /api/generate_variations", s.handleGenerate(remote.ModeVariations))
	mux.HandleFunc("POST /api/get_recommendations", s.handleRecommendations)
	mux.HandleFunc("POST /api/conversational_edit", s.handleEdit)
	mux.HandleFunc("POST /api/export_formats", s.handleExport)
	mux.HandleFunc("GET "+remote.ImagePathPrefix+"{ref}", s.handleImage)
	mux.HandleFunc("GET /api/scenes", s.handleScenes)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, remote.Status{Success: true, Message: "ok"})
	})
	return withLogging(mux, s.logger)
}

func (s *server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+(1<<20))
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("product_image")
	if err != nil {
		writeFailure(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeFailure(w, http.StatusBadRequest, "failed to read image")
		return
	}
	if int64(len(data)) > s.maxUpload {
		writeFailure(w, http.StatusRequestEntityTooLarge, "file is too large")
		return
	}

	mimeType := strings.TrimSpace(header.Header.Get("Content-Type"))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}

	ctx, cancel := s.opContext(r)
	defer cancel()

	res, err := s.ops.Upload(ctx, remote.UploadRequest{Filename: header.Filename, MimeType: mimeType, Data: data})
	if err != nil {
		s.writeOpError(w, r, remote.OpUpload, err)
		return
	}
	writeJSON(w, http.StatusOK, remote.UploadResponse{Status: ok(), Filename: res.AssetRef})
}

func (s *server) handleDetect(w http.ResponseWriter, r *http.Request) {
	var body remote.DetectBody
	if !decodeBody(w, r, &body) {
		return
	}

	ctx, cancel := s.opContext(r)
	defer cancel()

	det, err := s.ops.DetectProduct(ctx, remote.DetectRequest{AssetRef: body.Filename})
	if err != nil {
		s.writeOpError(w, r, remote.OpDetectProduct, err)
		return
	}
	writeJSON(w, http.StatusOK, remote.DetectResponse{Status: ok(), ProductType: det.Category, ProductName: det.DisplayName})
}

func (s *server) handleGenerate(mode remote.Mode) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body remote.GenerateBody
		if !decodeBody(w, r, &body) {
			return
		}
		if strings.TrimSpace(body.Filename) == "" || strings.TrimSpace(body.ScenePreset) == "" {
			writeFailure(w, http.StatusBadRequest, "Missing filename or scene preset")
			return
		}
		if !scene.Valid(scene.ID(body.ScenePreset)) {
			writeFailure(w, http.StatusBadRequest, "Invalid scene preset")
			return
		}

		ctx, cancel := s.opContext(r)
		defer cancel()

		gen, err := s.ops.GenerateScene(ctx, remote.GenerateRequest{
			AssetRef:           body.Filename,
			SceneID:            body.ScenePreset,
			ProductDescription: body.ProductDescription,
			Mode:               mode,
			UseConsultant:      body.UseAIConsultant,
		})
		if err != nil {
			s.writeOpError(w, r, remote.OpGenerateScene, err)
			return
		}
		writeJSON(w, http.StatusOK, remote.GenerateResponse{
			Status:         ok(),
			OutputFilename: gen.PrimaryRef,
			FormatFiles:    gen.Formats,
			VariationFiles: gen.Variations,
			Insights:       remote.InsightToPayload(gen.Insight),
		})
	}
}

func (s *server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	var body remote.RecommendBody
	if !decodeBody(w, r, &body) {
		return
	}

	ctx, cancel := s.opContext(r)
	defer cancel()

	recs, err := s.ops.GetRecommendations(ctx, remote.RecommendRequest{AssetRef: body.Filename, ProductDescription: body.ProductDescription})
	if err != nil {
		s.writeOpError(w, r, remote.OpRecommendations, err)
		return
	}

	resp := remote.RecommendResponse{Status: ok()}
	for _, rec := range recs.Items {
		resp.Recommendations = append(resp.Recommendations, remote.RecommendationPayload{Scene: rec.SceneID, Reason: rec.Reason, Score: rec.Score})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleEdit(w http.ResponseWriter, r *http.Request) {
	var body remote.EditBody
	if !decodeBody(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.OutputFilename) == "" || strings.TrimSpace(body.EditRequest) == "" {
		writeFailure(w, http.StatusBadRequest, "Missing filename or edit request")
		return
	}

	ctx, cancel := s.opContext(r)
	defer cancel()

	res, err := s.ops.ApplyEdit(ctx, remote.EditRequest{CurrentFilename: body.OutputFilename, InstructionText: body.EditRequest})
	if err != nil {
		s.writeOpError(w, r, remote.OpApplyEdit, err)
		return
	}
	writeJSON(w, http.StatusOK, remote.EditResponse{Status: ok(), OutputFilename: res.NewRef})
}

func (s *server) handleExport(w http.ResponseWriter, r *http.Request) {
	var body remote.ExportBody
	if !decodeBody(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.OutputFilename) == "" {
		writeFailure(w, http.StatusBadRequest, "Missing filename")
		return
	}

	ctx, cancel := s.opContext(r)
	defer cancel()

	res, err := s.ops.ExportFormats(ctx, remote.ExportRequest{CurrentFilename: body.OutputFilename, ProductName: body.ProductName})
	if err != nil {
		s.writeOpError(w, r, remote.OpExportFormats, err)
		return
	}
	writeJSON(w, http.StatusOK, remote.ExportResponse{Status: ok(), ExportedFiles: res.Formats})
}

func (s *server) handleImage(w http.ResponseWriter, r *http.Request) {
	img, err := s.images.FetchImage(r.Context(), r.PathValue("ref"))
	if err != nil {
		s.writeOpError(w, r, remote.OpFetchImage, err)
		return
	}
	w.Header().Set("content-type", img.MimeType)
	w.Header().Set("cache-control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img.Data)
}

func (s *server) handleScenes(w http.ResponseWriter, r *http.Request) {
	resp := scenesResponse{Status: ok(), ExampleEdits: scene.ExampleEdits()}
	for _, p := range scene.Catalog() {
		resp.Scenes = append(resp.Scenes, sceneInfo{ID: string(p.ID), Name: p.Name, Description: p.Description})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) opContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.requestTimeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), s.requestTimeout)
}

func (s *server) writeOpError(w http.ResponseWriter, r *http.Request, op string, err error) {
	f := remote.AsFailure(op, err)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, assets.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, assets.ErrInvalidRef):
		status = http.StatusBadRequest
	case f.Status >= 400:
		status = f.Status
	case f.Err == nil && !f.Transport:
		// rejected input, nothing broke
		status = http.StatusBadRequest
	}
	s.logger.Error("operation failed", "op", op, "status", status, "request_id", w.Header().Get("x-request-id"), "path", r.URL.Path, "err", err)
	writeFailure(w, status, f.Message)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func ok() remote.Status {
	return remote.Status{Success: true}
}

func writeFailure(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, remote.Status{Success: false, Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func withLogging(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get("x-request-id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("x-request-id", requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("http", "method", r.Method, "path", r.URL.Path, "status", rec.status, "request_id", requestID, "dur_ms", time.Since(start).Milliseconds())
	})
}
