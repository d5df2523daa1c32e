package backend

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"productscene/internal/assets"
	"productscene/internal/config"
	"productscene/internal/gemini"
	"productscene/internal/remote"
	"productscene/internal/studio"
)

// Service is everything a front end needs from the image service.
type Service interface {
	remote.Operations
	remote.ImageFetcher
}

// Backend is either a remote ProductScene service or the in-process studio.
type Backend struct {
	Service
	// Assets is set only for the in-process studio.
	Assets *assets.Store
	Remote bool
}

// Open picks the remote service when BACKEND_URL is set and builds the
// in-process studio otherwise.
func Open(cfg config.Config, httpClient *http.Client, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if !cfg.LocalBackend() {
		client, err := remote.New(remote.Options{
			BaseURL:    cfg.BackendURL,
			HTTPClient: httpClient,
			Logger:     logger,

			// results come back re-encoded as PNG and can outgrow the upload
			MaxImageBytes: 4 * cfg.MaxUploadBytes,
		})
		if err != nil {
			return nil, err
		}
		return &Backend{Service: client, Remote: true}, nil
	}

	gem := gemini.New(gemini.Options{
		APIKey:     cfg.GeminiAPIKey,
		BaseURL:    cfg.GeminiBaseURL,
		APIVersion: cfg.GeminiAPIVersion,
		HTTPClient: httpClient,
		Logger:     logger,
	})

	store, err := assets.New(assets.Options{Dir: cfg.AssetDir, Logger: logger})
	if err != nil {
		return nil, err
	}

	st, err := studio.New(studio.Options{
		Model:    gem,
		Assets:   store,
		Logger:   logger,
		Parallel: cfg.MaxConcurrent,
	})
	if err != nil {
		return nil, err
	}
	return &Backend{Service: st, Assets: store}, nil
}

// RunMaintenance prunes local assets older than maxAge until ctx is done.
// It returns at once for a remote backend.
func (b *Backend) RunMaintenance(ctx context.Context, maxAge time.Duration) {
	if b.Assets == nil {
		return
	}
	b.Assets.RunPruner(ctx, 10*time.Minute, maxAge)
}
