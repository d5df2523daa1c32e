package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := New(Options{BaseURL: srv.URL + "/", HTTPClient: srv.Client()})
	require.NoError(t, err)
	return c
}

func TestUploadSendsMultipartImage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/upload", r.URL.Path)
		file, header, err := r.FormFile("product_image")
		require.NoError(t, err)
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "shoe.png", header.Filename)
		assert.Equal(t, []byte("png-bytes"), data)
		_, _ = io.WriteString(w, `{"success":true,"filename":"product_1.png"}`)
	})

	res, err := c.Upload(context.Background(), UploadRequest{Filename: "shoe.png", MimeType: "image/png", Data: []byte("png-bytes")})
	require.NoError(t, err)
	assert.Equal(t, "product_1.png", res.AssetRef)
}

func TestMissingSuccessIsFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"product_type":"food","product_name":"Bagel"}`)
	})

	_, err := c.DetectProduct(context.Background(), DetectRequest{AssetRef: "a"})
	require.Error(t, err)

	var f *Failure
	require.True(t, errors.As(err, &f))
	assert.Equal(t, OpDetectProduct, f.Op)
	assert.False(t, f.Transport)
}

func TestServiceErrorMessageIsSurfaced(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":"model overloaded"}`)
	})

	_, err := c.ApplyEdit(context.Background(), EditRequest{CurrentFilename: "scene_1.png", InstructionText: "add a cup"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model overloaded")

	var f *Failure
	require.True(t, errors.As(err, &f))
	assert.Equal(t, http.StatusInternalServerError, f.Status)
}

func TestGenerateRoutesByModeAndKeepsOrder(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate_multi_format", r.URL.Path)

		var body GenerateBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "product_1.png", body.Filename)
		assert.Equal(t, "gym", body.ScenePreset)
		assert.True(t, body.UseAIConsultant)

		_, _ = io.WriteString(w, `{
			"success": true,
			"format_files": {"vertical": "v.png", "square": "s.png", "horizontal": "h.png"},
			"photography_insights": {
				"optimal_scenes": ["gym", {"name": "beach"}],
				"quality_assessment": {"quality_score": 84, "strengths": ["lighting"]}
			}
		}`)
	})

	gen, err := c.GenerateScene(context.Background(), GenerateRequest{
		AssetRef:      "product_1.png",
		SceneID:       "gym",
		Mode:          ModeMultiFormat,
		UseConsultant: true,
	})
	require.NoError(t, err)

	first, ok := gen.Formats.First()
	require.True(t, ok)
	assert.Equal(t, NamedRef{Key: "vertical", Ref: "v.png"}, first)
	assert.Equal(t, 3, gen.Formats.Len())

	require.NotNil(t, gen.Insight)
	assert.Equal(t, 84, gen.Insight.QualityScore)
	assert.Equal(t, "Good", gen.Insight.QualityLabel())
	assert.Equal(t, []string{"gym", "beach"}, gen.Insight.RecommendedScenes)
}

func TestTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c, err := New(Options{BaseURL: base, HTTPClient: http.DefaultClient})
	require.NoError(t, err)

	_, err = c.ExportFormats(context.Background(), ExportRequest{CurrentFilename: "x.png"})
	var f *Failure
	require.True(t, errors.As(err, &f))
	assert.True(t, f.Transport)
}

func TestFetchImage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/image/scene_1.png", r.URL.Path)
		w.Header().Set("content-type", "image/png; charset=binary")
		_, _ = w.Write([]byte("img"))
	})

	img, err := c.FetchImage(context.Background(), "scene_1.png")
	require.NoError(t, err)
	assert.Equal(t, "image/png", img.MimeType)
	assert.Equal(t, []byte("img"), img.Data)
}

func TestRefMapRoundTripKeepsOrder(t *testing.T) {
	var m RefMap
	require.NoError(t, json.Unmarshal([]byte(`{"b":"2","a":"1"}`), &m))
	assert.Equal(t, RefMap{{Key: "b", Ref: "2"}, {Key: "a", Ref: "1"}}, m)

	out, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"b":"2","a":"1"}`, string(out))
	assert.Equal(t, `{"b":"2","a":"1"}`, string(out))

	var empty RefMap
	require.NoError(t, json.Unmarshal([]byte(`{}`), &empty))
	_, ok := empty.First()
	assert.False(t, ok)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("multi")
	require.NoError(t, err)
	assert.Equal(t, ModeMultiFormat, m)

	_, err = ParseMode("panorama")
	assert.Error(t, err)
}

func TestOversizedResponsesAreRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			_, _ = w.Write(bytes.Repeat([]byte{0xff}, 2048))
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"pad":"`))
		_, _ = w.Write(bytes.Repeat([]byte("x"), maxJSONBytes))
		_, _ = w.Write([]byte(`"}`))
	}))
	t.Cleanup(srv.Close)

	c, err := New(Options{BaseURL: srv.URL, HTTPClient: srv.Client(), MaxImageBytes: 1024})
	require.NoError(t, err)

	_, err = c.FetchImage(context.Background(), "huge.png")
	var f *Failure
	require.True(t, errors.As(err, &f))
	assert.False(t, f.Transport)
	assert.Contains(t, f.Message, "larger than 1024 bytes")

	_, err = c.DetectProduct(context.Background(), DetectRequest{AssetRef: "x.png"})
	require.True(t, errors.As(err, &f))
	assert.ErrorIs(t, err, errResponseTooLarge)
}
