package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound   = errors.New("asset not found")
	ErrInvalidRef = errors.New("invalid asset reference")
)

type Asset struct {
	Ref      string
	Data     []byte
	MimeType string
}

type Options struct {
	Dir    string
	Logger *slog.Logger
}

// Store keeps images as flat files under one directory. A ref is the file
// name and never contains a path separator.
type Store struct {
	dir    string
	logger *slog.Logger
}

func New(opts Options) (*Store, error) {
	dir := strings.TrimSpace(opts.Dir)
	if dir == "" {
		return nil, errors.New("asset dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create asset dir: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Store{dir: dir, logger: logger}, nil
}

// Save stores data under a fresh ref. prefix is slugged into the name so
// refs stay readable; ext falls back to the sniffed type.
func (s *Store) Save(prefix string, data []byte, mimeType string) (string, error) {
	if len(data) == 0 {
		return "", errors.New("asset is empty")
	}
	if mimeType == "" {
		mimeType = sniff(data)
	}

	ext := ".png"
	if exts, _ := mime.ExtensionsByType(mimeType); len(exts) > 0 {
		ext = preferredExt(exts)
	}

	name := slug(strings.TrimSuffix(prefix, filepath.Ext(prefix)))
	ref := fmt.Sprintf("%s_%s%s", name, strings.ReplaceAll(uuid.NewString(), "-", "")[:12], ext)
	if err := s.write(ref, data); err != nil {
		return "", err
	}
	s.logger.Debug("asset saved", "ref", ref, "bytes", len(data))
	return ref, nil
}

// Load reads an asset and marks it as used, so Prune only removes assets
// nobody has read or written for maxAge.
func (s *Store) Load(ref string) (Asset, error) {
	clean, err := Clean(ref)
	if err != nil {
		return Asset{}, err
	}

	path := filepath.Join(s.dir, clean)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Asset{}, fmt.Errorf("%w: %s", ErrNotFound, clean)
	}
	if err != nil {
		return Asset{}, fmt.Errorf("read asset %s: %w", clean, err)
	}
	now := time.Now()
	if err := os.Chtimes(path, now, now); err != nil {
		s.logger.Warn("asset touch failed", "ref", clean, "err", err)
	}

	mimeType := mime.TypeByExtension(filepath.Ext(clean))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	if mimeType == "" {
		mimeType = sniff(data)
	}
	return Asset{Ref: clean, Data: data, MimeType: mimeType}, nil
}

// Prune removes assets not saved or loaded for longer than maxAge.
func (s *Store) Prune(maxAge time.Duration, now time.Time) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("list assets: %w", err)
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) <= maxAge {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("asset prune failed", "ref", e.Name(), "err", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// RunPruner prunes every interval until ctx is done.
func (s *Store) RunPruner(ctx context.Context, interval, maxAge time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := s.Prune(maxAge, now)
			if err != nil {
				s.logger.Warn("asset prune failed", "err", err)
				continue
			}
			if n > 0 {
				s.logger.Info("assets pruned", "removed", n)
			}
		}
	}
}

func (s *Store) write(ref string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp asset: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write asset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close asset: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, ref)); err != nil {
		return fmt.Errorf("store asset: %w", err)
	}
	return nil
}

// Clean validates a ref coming from outside and strips any retrieval prefix.
func Clean(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref = ref[:i]
	}
	if i := strings.LastIndexAny(ref, `/\`); i >= 0 {
		ref = ref[i+1:]
	}
	if ref == "" || ref == "." || ref == ".." || strings.HasPrefix(ref, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return ref, nil
}

func sniff(data []byte) string {
	mimeType := http.DetectContentType(data)
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	return mimeType
}

func preferredExt(exts []string) string {
	for _, e := range exts {
		switch e {
		case ".png", ".jpg", ".jpeg", ".webp", ".gif", ".bmp":
			return e
		}
	}
	return exts[0]
}

func slug(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == '-' || r == ' ' || r == '.':
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "asset"
	}
	if len(out) > 48 {
		out = out[:48]
	}
	return out
}
