package studio

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"productscene/internal/assets"
	"productscene/internal/gemini"
	"productscene/internal/remote"
)

func encodeTestPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, h/2, color.RGBA{G: 180, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type fakeModel struct {
	t *testing.T

	mu      sync.Mutex
	aspects []string
	prompts []string

	failAspect string
	failAll    bool
	assessment gemini.Assessment
}

func (m *fakeModel) ClassifyProduct(context.Context, gemini.ImageInput) (gemini.Classification, error) {
	return gemini.Classification{Category: "sneakers", ProductName: ""}, nil
}

func (m *fakeModel) RecommendScenes(context.Context, gemini.ImageInput, string, []string) ([]gemini.SceneRecommendation, error) {
	return []gemini.SceneRecommendation{{Scene: "Gym", Reason: "energy"}, {Scene: "mars"}}, nil
}

func (m *fakeModel) Assess(context.Context, gemini.ImageInput, string, []string) (gemini.Assessment, error) {
	return m.assessment, nil
}

func (m *fakeModel) GenerateImage(_ context.Context, prompt string, images []gemini.ImageInput, aspectRatio string) (gemini.Image, error) {
	m.mu.Lock()
	m.aspects = append(m.aspects, aspectRatio)
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()

	if m.failAll || (m.failAspect != "" && aspectRatio == m.failAspect) {
		return gemini.Image{}, errors.New("model overloaded")
	}
	if len(images) != 1 || len(images[0].Data) == 0 {
		return gemini.Image{}, errors.New("missing source image")
	}
	return gemini.Image{Data: encodeTestPNG(m.t, 8, 8), MimeType: "image/png"}, nil
}

func newTestStudio(t *testing.T, m *fakeModel) *Studio {
	t.Helper()
	m.t = t
	store, err := assets.New(assets.Options{Dir: t.TempDir()})
	require.NoError(t, err)
	s, err := New(Options{Model: m, Assets: store})
	require.NoError(t, err)
	return s
}

func upload(t *testing.T, s *Studio, w, h int) string {
	t.Helper()
	res, err := s.Upload(context.Background(), remote.UploadRequest{Filename: "shoe.png", Data: encodeTestPNG(t, w, h)})
	require.NoError(t, err)
	return res.AssetRef
}

func TestUploadRejectsNonImage(t *testing.T) {
	s := newTestStudio(t, &fakeModel{})
	_, err := s.Upload(context.Background(), remote.UploadRequest{Filename: "a.txt", Data: []byte("hello")})

	var f *remote.Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, "Invalid file type", f.Message)
}

func TestDetectNormalizesCategory(t *testing.T) {
	s := newTestStudio(t, &fakeModel{})
	ref := upload(t, s, 4, 4)

	det, err := s.DetectProduct(context.Background(), remote.DetectRequest{AssetRef: ref})
	require.NoError(t, err)
	assert.Equal(t, remote.Detection{Category: "footwear", DisplayName: "Your Product"}, det)
}

func TestRecommendationsKeepCatalogScenes(t *testing.T) {
	s := newTestStudio(t, &fakeModel{})
	ref := upload(t, s, 4, 4)

	recs, err := s.GetRecommendations(context.Background(), remote.RecommendRequest{AssetRef: ref})
	require.NoError(t, err)
	assert.Equal(t, []remote.Recommendation{{SceneID: "gym", Reason: "energy"}}, recs.Items)
}

func TestGenerateMultiFormatKeepsShotOrder(t *testing.T) {
	m := &fakeModel{failAspect: "9:16"}
	s := newTestStudio(t, m)
	ref := upload(t, s, 4, 4)

	gen, err := s.GenerateScene(context.Background(), remote.GenerateRequest{
		AssetRef: ref, SceneID: "beach", ProductDescription: "Trail Runner", Mode: remote.ModeMultiFormat,
	})
	require.NoError(t, err)

	require.Equal(t, 2, gen.Formats.Len())
	assert.Equal(t, "square", gen.Formats[0].Key)
	assert.Equal(t, "horizontal", gen.Formats[1].Key)
	assert.Empty(t, gen.PrimaryRef)
	assert.Nil(t, gen.Insight)
	assert.ElementsMatch(t, []string{"1:1", "9:16", "16:9"}, m.aspects)
	assert.Contains(t, m.prompts[0], "Trail Runner on a beautiful beach")

	img, err := s.FetchImage(context.Background(), gen.Formats[0].Ref)
	require.NoError(t, err)
	assert.Equal(t, "image/png", img.MimeType)
}

func TestGenerateVariationsAllFailing(t *testing.T) {
	s := newTestStudio(t, &fakeModel{failAll: true})
	ref := upload(t, s, 4, 4)

	_, err := s.GenerateScene(context.Background(), remote.GenerateRequest{
		AssetRef: ref, SceneID: "gym", Mode: remote.ModeVariations,
	})
	var f *remote.Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, remote.OpGenerateScene, f.Op)
	assert.Contains(t, f.Message, "model overloaded")
}

func TestGenerateSingleWithConsultant(t *testing.T) {
	m := &fakeModel{assessment: gemini.Assessment{
		QualityScore:      140,
		Strengths:         []string{"lighting"},
		RecommendedScenes: []string{"office", "moon"},
	}}
	s := newTestStudio(t, m)
	ref := upload(t, s, 4, 4)

	gen, err := s.GenerateScene(context.Background(), remote.GenerateRequest{
		AssetRef: ref, SceneID: "office", Mode: remote.ModeSingle, UseConsultant: true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, gen.PrimaryRef)
	require.NotNil(t, gen.Insight)
	assert.Equal(t, 100, gen.Insight.QualityScore)
	assert.Equal(t, "Excellent", gen.Insight.QualityLabel())
	assert.Equal(t, []string{"office"}, gen.Insight.RecommendedScenes)
}

func TestGenerateUnknownScene(t *testing.T) {
	s := newTestStudio(t, &fakeModel{})
	ref := upload(t, s, 4, 4)

	_, err := s.GenerateScene(context.Background(), remote.GenerateRequest{AssetRef: ref, SceneID: "moon", Mode: remote.ModeSingle})
	require.Error(t, err)
}

func TestApplyEdit(t *testing.T) {
	m := &fakeModel{}
	s := newTestStudio(t, m)
	ref := upload(t, s, 4, 4)

	res, err := s.ApplyEdit(context.Background(), remote.EditRequest{CurrentFilename: ref, InstructionText: "Add a coffee cup"})
	require.NoError(t, err)
	assert.NotEqual(t, ref, res.NewRef)
	assert.Contains(t, m.prompts[0], "Apply this edit to the image: Add a coffee cup.")

	_, err = s.ApplyEdit(context.Background(), remote.EditRequest{CurrentFilename: "missing.png", InstructionText: "x"})
	require.Error(t, err)
}

func TestExportFormatsSizes(t *testing.T) {
	s := newTestStudio(t, &fakeModel{})
	ref := upload(t, s, 2000, 1000)

	res, err := s.ExportFormats(context.Background(), remote.ExportRequest{CurrentFilename: ref, ProductName: "trail_runner"})
	require.NoError(t, err)

	keys := make([]string, 0, res.Formats.Len())
	for _, f := range res.Formats {
		keys = append(keys, f.Key)
	}
	assert.Equal(t, []string{"instagram_square", "instagram_story", "hero_banner", "original"}, keys)

	want := map[string]image.Point{
		"instagram_square": {X: 1080, Y: 540},
		"instagram_story":  {X: 1080, Y: 1920},
		"hero_banner":      {X: 1920, Y: 1080},
		"original":         {X: 2000, Y: 1000},
	}
	for _, f := range res.Formats {
		img, err := s.FetchImage(context.Background(), f.Ref)
		require.NoError(t, err)
		cfg, err := png.DecodeConfig(bytes.NewReader(img.Data))
		require.NoError(t, err)
		assert.Equal(t, want[f.Key], image.Point{X: cfg.Width, Y: cfg.Height}, f.Key)
		assert.Contains(t, f.Ref, "trail_runner_"+f.Key)
	}
}

func TestFetchMissingImage(t *testing.T) {
	s := newTestStudio(t, &fakeModel{})
	_, err := s.FetchImage(context.Background(), "nothing.png")

	var f *remote.Failure
	require.ErrorAs(t, err, &f)
	assert.ErrorIs(t, err, assets.ErrNotFound)
}

func TestFitWithinNeverEnlarges(t *testing.T) {
	small := image.NewRGBA(image.Rect(0, 0, 300, 200))
	out := ExportFormats[0].Render(small)
	assert.Equal(t, small.Bounds(), out.Bounds())
}
