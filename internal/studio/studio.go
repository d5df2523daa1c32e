package studio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"productscene/internal/assets"
	"productscene/internal/gemini"
	"productscene/internal/remote"
	"productscene/internal/scene"
)

// Model is the subset of the Gemini client the studio needs.
type Model interface {
	ClassifyProduct(ctx context.Context, img gemini.ImageInput) (gemini.Classification, error)
	RecommendScenes(ctx context.Context, img gemini.ImageInput, productDescription string, sceneIDs []string) ([]gemini.SceneRecommendation, error)
	Assess(ctx context.Context, img gemini.ImageInput, productDescription string, sceneIDs []string) (gemini.Assessment, error)
	GenerateImage(ctx context.Context, prompt string, images []gemini.ImageInput, aspectRatio string) (gemini.Image, error)
}

type Options struct {
	Model  Model
	Assets *assets.Store
	Logger *slog.Logger
	// Parallel caps concurrent model calls within one multi-image generation.
	Parallel int
}

// Studio runs every ProductScene operation in-process on top of Gemini and
// a local asset store.
type Studio struct {
	model    Model
	assets   *assets.Store
	logger   *slog.Logger
	parallel int
}

var (
	_ remote.Operations   = (*Studio)(nil)
	_ remote.ImageFetcher = (*Studio)(nil)
)

func New(opts Options) (*Studio, error) {
	if opts.Model == nil {
		return nil, errors.New("model is nil")
	}
	if opts.Assets == nil {
		return nil, errors.New("asset store is nil")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	parallel := opts.Parallel
	if parallel <= 0 {
		parallel = 3
	}

	return &Studio{
		model:    opts.Model,
		assets:   opts.Assets,
		logger:   logger,
		parallel: parallel,
	}, nil
}

func (s *Studio) Upload(ctx context.Context, req remote.UploadRequest) (remote.UploadResult, error) {
	if len(req.Data) == 0 {
		return remote.UploadResult{}, remote.Failed(remote.OpUpload, "No file uploaded")
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(req.Data)); err != nil {
		return remote.UploadResult{}, remote.Failed(remote.OpUpload, "Invalid file type")
	}

	ref, err := s.assets.Save(req.Filename, req.Data, req.MimeType)
	if err != nil {
		return remote.UploadResult{}, failure(remote.OpUpload, "could not store upload", err)
	}
	s.logger.Info("product uploaded", "ref", ref, "bytes", len(req.Data))
	return remote.UploadResult{AssetRef: ref}, nil
}

func (s *Studio) DetectProduct(ctx context.Context, req remote.DetectRequest) (remote.Detection, error) {
	src, err := s.load(remote.OpDetectProduct, req.AssetRef)
	if err != nil {
		return remote.Detection{}, err
	}

	c, err := s.model.ClassifyProduct(ctx, src)
	if err != nil {
		return remote.Detection{}, failure(remote.OpDetectProduct, "product detection failed", err)
	}

	name := c.ProductName
	if name == "" {
		name = scene.DefaultDisplayName
	}
	return remote.Detection{
		Category:    string(scene.NormalizeCategory(c.Category)),
		DisplayName: name,
	}, nil
}

func (s *Studio) GetRecommendations(ctx context.Context, req remote.RecommendRequest) (remote.Recommendations, error) {
	src, err := s.load(remote.OpRecommendations, req.AssetRef)
	if err != nil {
		return remote.Recommendations{}, err
	}

	recs, err := s.model.RecommendScenes(ctx, src, req.ProductDescription, catalogIDs())
	if err != nil {
		return remote.Recommendations{}, failure(remote.OpRecommendations, "scene recommendations failed", err)
	}

	out := remote.Recommendations{}
	for _, r := range recs {
		id := scene.ID(strings.ToLower(strings.TrimSpace(r.Scene)))
		if !scene.Valid(id) {
			continue
		}
		out.Items = append(out.Items, remote.Recommendation{SceneID: string(id), Reason: r.Reason, Score: r.Score})
	}
	return out, nil
}

type shot struct {
	key         string
	prompt      string
	aspectRatio string
}

func (s *Studio) GenerateScene(ctx context.Context, req remote.GenerateRequest) (remote.Generation, error) {
	if !req.Mode.Valid() {
		return remote.Generation{}, remote.Failed(remote.OpGenerateScene, fmt.Sprintf("unknown generation mode %q", req.Mode))
	}
	base, err := scene.Prompt(scene.ID(req.SceneID), req.ProductDescription)
	if err != nil {
		return remote.Generation{}, remote.Failed(remote.OpGenerateScene, "Invalid scene preset")
	}
	src, err := s.load(remote.OpGenerateScene, req.AssetRef)
	if err != nil {
		return remote.Generation{}, err
	}

	var shots []shot
	switch req.Mode {
	case remote.ModeMultiFormat:
		for _, f := range scene.FormatShots {
			shots = append(shots, shot{key: f.Key, prompt: base, aspectRatio: f.AspectRatio})
		}
	case remote.ModeVariations:
		for _, v := range scene.VariationShots {
			shots = append(shots, shot{key: v.Key, prompt: base + ", " + v.Hint})
		}
	default:
		shots = []shot{{key: string(remote.ModeSingle), prompt: base}}
	}

	refs, err := s.render(ctx, req.SceneID, src, shots)
	if err != nil {
		return remote.Generation{}, err
	}

	gen := remote.Generation{}
	switch req.Mode {
	case remote.ModeMultiFormat:
		gen.Formats = refs
	case remote.ModeVariations:
		gen.Variations = refs
	default:
		gen.PrimaryRef = refs[0].Ref
	}

	if req.UseConsultant {
		gen.Insight = s.assess(ctx, refs[0].Ref, req.ProductDescription)
	}
	return gen, nil
}

// render generates every shot, in parallel up to the studio limit, and keeps
// the shot order. Individual failures are dropped; the call fails only when
// nothing was produced.
func (s *Studio) render(ctx context.Context, sceneID string, src gemini.ImageInput, shots []shot) (remote.RefMap, error) {
	results := make([]string, len(shots))
	var (
		mu       sync.Mutex
		firstErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallel)
	for i, sh := range shots {
		g.Go(func() error {
			img, err := s.model.GenerateImage(gctx, sh.prompt, []gemini.ImageInput{src}, sh.aspectRatio)
			if err == nil {
				results[i], err = s.assets.Save(sceneID+"_"+sh.key, img.Data, img.MimeType)
			}
			if err != nil {
				s.logger.Warn("shot generation failed", "scene", sceneID, "shot", sh.key, "err", err)
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	var refs remote.RefMap
	for i, sh := range shots {
		if results[i] != "" {
			refs = append(refs, remote.NamedRef{Key: sh.key, Ref: results[i]})
		}
	}
	if refs.Len() == 0 {
		if firstErr == nil {
			firstErr = errors.New("no image produced")
		}
		return nil, failure(remote.OpGenerateScene, "scene generation failed", firstErr)
	}
	return refs, nil
}

func (s *Studio) assess(ctx context.Context, ref, productDescription string) *remote.Insight {
	img, err := s.load(remote.OpGenerateScene, ref)
	if err != nil {
		return nil
	}
	a, err := s.model.Assess(ctx, img, productDescription, catalogIDs())
	if err != nil {
		s.logger.Warn("photography assessment failed", "ref", ref, "err", err)
		return nil
	}

	in := &remote.Insight{
		QualityScore:     min(max(a.QualityScore, 0), 100),
		OverallQuality:   a.OverallQuality,
		Strengths:        a.Strengths,
		Improvements:     a.Improvements,
		CompositionRules: a.CompositionRules,
		BrandPositioning: a.BrandPositioning,
		TargetAudience:   a.TargetAudience,
	}
	for _, id := range a.RecommendedScenes {
		if scene.Valid(scene.ID(id)) {
			in.RecommendedScenes = append(in.RecommendedScenes, id)
		}
	}
	return in
}

func (s *Studio) ApplyEdit(ctx context.Context, req remote.EditRequest) (remote.EditResult, error) {
	instruction := strings.TrimSpace(req.InstructionText)
	if instruction == "" {
		return remote.EditResult{}, remote.Failed(remote.OpApplyEdit, "Missing filename or edit request")
	}
	src, err := s.load(remote.OpApplyEdit, req.CurrentFilename)
	if err != nil {
		return remote.EditResult{}, err
	}

	img, err := s.model.GenerateImage(ctx, scene.EditPrompt(instruction), []gemini.ImageInput{src}, "")
	if err != nil {
		return remote.EditResult{}, failure(remote.OpApplyEdit, "Failed to apply edit", err)
	}
	ref, err := s.assets.Save("edited", img.Data, img.MimeType)
	if err != nil {
		return remote.EditResult{}, failure(remote.OpApplyEdit, "could not store edit", err)
	}
	return remote.EditResult{NewRef: ref}, nil
}

func (s *Studio) ExportFormats(ctx context.Context, req remote.ExportRequest) (remote.ExportResult, error) {
	src, err := s.load(remote.OpExportFormats, req.CurrentFilename)
	if err != nil {
		return remote.ExportResult{}, err
	}

	decoded, _, err := image.Decode(bytes.NewReader(src.Data))
	if err != nil {
		return remote.ExportResult{}, failure(remote.OpExportFormats, "image could not be decoded", err)
	}

	name := strings.TrimSpace(req.ProductName)
	if name == "" {
		name = "product"
	}

	var out remote.RefMap
	for _, f := range ExportFormats {
		if err := ctx.Err(); err != nil {
			return remote.ExportResult{}, failure(remote.OpExportFormats, "export cancelled", err)
		}
		data, err := encodePNG(f.Render(decoded))
		if err != nil {
			return remote.ExportResult{}, failure(remote.OpExportFormats, "encode "+f.Key, err)
		}
		ref, err := s.assets.Save(name+"_"+f.Key, data, "image/png")
		if err != nil {
			return remote.ExportResult{}, failure(remote.OpExportFormats, "store "+f.Key, err)
		}
		out = append(out, remote.NamedRef{Key: f.Key, Ref: ref})
	}
	return remote.ExportResult{Formats: out}, nil
}

func (s *Studio) FetchImage(ctx context.Context, ref string) (remote.Image, error) {
	a, err := s.assets.Load(ref)
	if err != nil {
		return remote.Image{}, failure(remote.OpFetchImage, "Image not found", err)
	}
	return remote.Image{Data: a.Data, MimeType: a.MimeType}, nil
}

func (s *Studio) load(op, ref string) (gemini.ImageInput, error) {
	if strings.TrimSpace(ref) == "" {
		return gemini.ImageInput{}, remote.Failed(op, "Missing filename")
	}
	a, err := s.assets.Load(ref)
	if errors.Is(err, assets.ErrNotFound) || errors.Is(err, assets.ErrInvalidRef) {
		return gemini.ImageInput{}, failure(op, "File not found", err)
	}
	if err != nil {
		return gemini.ImageInput{}, failure(op, "could not read image", err)
	}
	return gemini.ImageInput{Data: a.Data, MimeType: a.MimeType}, nil
}

func failure(op, msg string, err error) *remote.Failure {
	if err != nil {
		msg = msg + ": " + err.Error()
	}
	return &remote.Failure{Op: op, Message: msg, Err: err}
}

func catalogIDs() []string {
	var ids []string
	for _, p := range scene.Catalog() {
		ids = append(ids, string(p.ID))
	}
	return ids
}
