package telegram

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitByBytes(t *testing.T) {
	assert.Equal(t, []string{"short"}, splitByBytes("short", 10))

	parts := splitByBytes(strings.Repeat("ab", 5), 4)
	assert.Equal(t, []string{"abab", "abab", "ab"}, parts)

	// multi-byte runes are never cut in half
	parts = splitByBytes("ўўў", 4)
	assert.Equal(t, []string{"ўў", "ў"}, parts)
}

func TestTruncateByBytes(t *testing.T) {
	assert.Equal(t, "abc", truncateByBytes("abc", 0))
	assert.Equal(t, "ab", truncateByBytes("abc", 2))
	assert.Equal(t, "ў", truncateByBytes("ўў", 3))
}

func TestDetectMimeType(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n0000")
	assert.Equal(t, "image/png", detectMimeType("image/png; charset=binary", nil))
	assert.Equal(t, "image/png", detectMimeType("application/octet-stream", png))
	assert.Equal(t, "image/jpeg", detectMimeType("", []byte{0x00, 0x01, 0x02, 0x03}))
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "image.png", fileName("image", "image/png"))
	assert.Equal(t, "image.jpg", fileName("image", "application/x-unknown"))
}
