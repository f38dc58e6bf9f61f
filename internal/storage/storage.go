package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/petar554/podshot/internal/config"
	"github.com/rs/zerolog"
)

// SnippetStore abstracts snippet storage backends.
type SnippetStore interface {
	// Save stores snippet data. key format: {YYYY-MM-DD}/{uuid}.flac
	Save(ctx context.Context, key string, data []byte, contentType string) error

	// LocalPath returns the local filesystem path if the file exists on disk.
	// Returns "" if not available locally.
	LocalPath(key string) string

	// URL returns the link handed to clients: a /snippets path for local
	// backends, a presigned URL for S3.
	URL(ctx context.Context, key string) (string, error)

	// Open returns a reader for the snippet.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists checks if a snippet exists in any backend.
	Exists(ctx context.Context, key string) bool

	// Type returns "local", "s3", or "tiered".
	Type() string
}

// Options configure New.
type Options struct {
	Dir       string        // local snippet directory
	PublicURL string        // prefix for local snippet links
	Retention time.Duration // local files older than this are pruned; 0 keeps all
}

// New creates a SnippetStore based on config. Returns the store and optional
// background services (pruner, uploader, reconciler) that the caller must
// Start/Stop. Returns an error if S3 is configured but unreachable.
func New(cfg config.S3Config, opts Options, log zerolog.Logger) (SnippetStore, []BackgroundService, error) {
	if !cfg.Enabled() {
		local := NewLocalStore(opts.Dir, opts.PublicURL)
		var services []BackgroundService
		if opts.Retention > 0 {
			services = append(services, NewCachePruner(opts.Dir, opts.Retention, nil, log))
		}
		return local, services, nil
	}

	s3store, err := NewS3Store(cfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("S3 init failed: %w", err)
	}

	// Startup validation: verify credentials and bucket access
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s3store.HeadBucket(ctx); err != nil {
		return nil, nil, fmt.Errorf("S3 startup check failed (bucket=%q endpoint=%q): %w",
			cfg.Bucket, cfg.Endpoint, err)
	}
	log.Info().Str("bucket", cfg.Bucket).Str("endpoint", cfg.Endpoint).Msg("S3 connection verified")

	if !cfg.LocalCache {
		return s3store, nil, nil
	}

	// Tiered mode: local primary + async S3 backup
	local := NewLocalStore(opts.Dir, opts.PublicURL)
	uploader := NewAsyncUploader(s3store, 64, 2, log)
	tiered := NewTieredStore(s3store, local, uploader, log)

	services := []BackgroundService{uploader, NewUploadReconciler(opts.Dir, s3store, log)}
	if opts.Retention > 0 {
		services = append(services, NewCachePruner(opts.Dir, opts.Retention, s3store, log))
	}
	return tiered, services, nil
}

// BackgroundService is a stoppable background goroutine.
type BackgroundService interface {
	Start()
	Stop()
}

// NewKey returns a fresh snippet key under today's date directory.
func NewKey(now time.Time, ext string) string {
	return path.Join(now.UTC().Format("2006-01-02"), uuid.NewString()+ext)
}

// ValidKey rejects keys that could escape the snippet directory.
func ValidKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return false
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return false
		}
	}
	return true
}

// ContentTypeFromExt returns the MIME type for an audio file extension.
func ContentTypeFromExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".flac":
		return "audio/flac"
	case ".m4a":
		return "audio/mp4"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".ogg", ".opus":
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}
