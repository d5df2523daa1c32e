package workflow

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"path"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// File is a user-picked image waiting to be uploaded.
type File struct {
	Name     string
	MimeType string
	Data     []byte
}

const DefaultMaxUploadBytes = 10 << 20

var allowedImageTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"image/bmp":  ".bmp",
}

// checkImage sniffs the content (the declared type is only a hint) and makes
// sure the header decodes. It returns the effective MIME type.
func checkImage(f File, maxBytes int64) (string, error) {
	if len(f.Data) == 0 {
		return "", fmt.Errorf("file is empty")
	}
	if maxBytes > 0 && int64(len(f.Data)) > maxBytes {
		return "", fmt.Errorf("file is %d bytes, limit is %d", len(f.Data), maxBytes)
	}

	sniffed := http.DetectContentType(f.Data)
	if i := strings.IndexByte(sniffed, ';'); i >= 0 {
		sniffed = strings.TrimSpace(sniffed[:i])
	}
	if _, ok := allowedImageTypes[sniffed]; !ok {
		declared := strings.ToLower(strings.TrimSpace(f.MimeType))
		return "", fmt.Errorf("file is not a supported image (detected %s, declared %q)", sniffed, declared)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(f.Data))
	if err != nil {
		return "", fmt.Errorf("image header is unreadable: %v", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return "", fmt.Errorf("image has no pixels")
	}
	return sniffed, nil
}

func uploadFilename(name, mimeType string) string {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if base == "" || base == "." || base == "/" {
		base = "product"
	}
	if path.Ext(base) == "" {
		base += allowedImageTypes[mimeType]
	}
	return base
}

// RefFilename extracts the service-side filename from a reference, which may
// be a bare name or a retrieval URL.
func RefFilename(ref string) string {
	ref = strings.TrimSpace(ref)
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref = ref[:i]
	}
	ref = strings.TrimRight(ref, "/")
	if i := strings.LastIndexByte(ref, '/'); i >= 0 {
		ref = ref[i+1:]
	}
	return ref
}

func productSlug(displayName string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(displayName)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		case !lastUnderscore && b.Len() > 0:
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "product"
	}
	if len(out) > 40 {
		out = strings.Trim(out[:40], "_")
	}
	return out
}
