package gemini

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textAnswer(text string) string {
	b, _ := json.Marshal(map[string]any{
		"candidates": []any{map[string]any{
			"content": map[string]any{"parts": []any{map[string]any{"text": text}}},
		}},
	})
	return string(b)
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Options{APIKey: "k", BaseURL: srv.URL, HTTPClient: srv.Client()})
}

func TestClassifyProductParsesFencedJSON(t *testing.T) {
	var gotPath, gotKey string
	var gotReq generateContentRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_, _ = io.WriteString(w, textAnswer("```json\n{\"category\": \" Footwear \", \"product_name\": \"Trail Runner\"}\n```"))
	})

	out, err := c.ClassifyProduct(t.Context(), ImageInput{Data: []byte{1, 2, 3}, MimeType: "image/png"})
	require.NoError(t, err)
	assert.Equal(t, Classification{Category: "footwear", ProductName: "Trail Runner"}, out)

	assert.Equal(t, "/v1beta/models/gemini-2.5-flash:generateContent", gotPath)
	assert.Equal(t, "k", gotKey)
	require.Len(t, gotReq.Contents, 1)
	require.Len(t, gotReq.Contents[0].Parts, 2)
	assert.Equal(t, "image/png", gotReq.Contents[0].Parts[1].InlineData.MimeType)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{1, 2, 3}), gotReq.Contents[0].Parts[1].InlineData.Data)
	assert.Equal(t, "application/json", gotReq.GenerationConfig.ResponseMimeType)
}

func TestGenerateImageReturnsFirstImage(t *testing.T) {
	var gotReq generateContentRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []any{map[string]any{"content": map[string]any{"parts": []any{
				map[string]any{"text": "here you go"},
				map[string]any{"inlineData": map[string]any{"mimeType": "image/png", "data": base64.StdEncoding.EncodeToString([]byte("png-bytes"))}},
			}}}},
		})
	})

	img, err := c.GenerateImage(t.Context(), "a shoe on a rooftop", []ImageInput{{Data: []byte("src")}}, "9:16")
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), img.Data)
	assert.Equal(t, "image/png", img.MimeType)
	require.NotNil(t, gotReq.GenerationConfig.ImageConfig)
	assert.Equal(t, "9:16", gotReq.GenerationConfig.ImageConfig.AspectRatio)
}

func TestGenerateImageRetriesWithoutImageConfig(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(string(body), "imageConfig") {
			http.Error(w, `Invalid JSON payload received. Unknown name "imageConfig"`, http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []any{map[string]any{"content": map[string]any{"parts": []any{
				map[string]any{"inlineData": map[string]any{"mimeType": "image/jpeg", "data": base64.StdEncoding.EncodeToString([]byte("jpg"))}},
			}}}},
		})
	})

	img, err := c.GenerateImage(t.Context(), "prompt", nil, "1:1")
	require.NoError(t, err)
	assert.Equal(t, []byte("jpg"), img.Data)
	assert.Equal(t, 2, calls)
}

func TestGenerateImageWithoutImageIsError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, textAnswer("I cannot do that"))
	})

	_, err := c.GenerateImage(t.Context(), "prompt", nil, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "I cannot do that")
}

func TestAPIErrorIncludesBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	})

	_, err := c.Assess(t.Context(), ImageInput{Data: []byte{1}}, "shoe", []string{"gym"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestRecommendScenes(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "gym, beach")
		_, _ = io.WriteString(w, textAnswer(`{"recommendations":[{"scene":"beach","reason":"sunlit","score":0.8}]}`))
	})

	recs, err := c.RecommendScenes(t.Context(), ImageInput{Data: []byte{1}}, "", []string{"gym", "beach"})
	require.NoError(t, err)
	assert.Equal(t, []SceneRecommendation{{Scene: "beach", Reason: "sunlit", Score: 0.8}}, recs)
}

func TestBlockedPrompt(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"promptFeedback":{"blockReason":"SAFETY"}}`)
	})

	_, err := c.ClassifyProduct(t.Context(), ImageInput{Data: []byte{1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SAFETY")
}
