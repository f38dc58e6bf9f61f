package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type s3Store interface {
	s3Saver
	Exists(ctx context.Context, key string) bool
}

// UploadReconciler scans the local snippet directory for files missing from
// S3 and re-uploads them. Handles dropped async uploads and crash recovery.
type UploadReconciler struct {
	dir      string
	s3       s3Store
	delay    time.Duration
	interval time.Duration
	window   time.Duration
	log      zerolog.Logger
	stop     chan struct{}
	stopOnce sync.Once
}

// NewUploadReconciler creates a reconciler that checks for missing S3 uploads.
func NewUploadReconciler(dir string, s3 *S3Store, log zerolog.Logger) *UploadReconciler {
	return newUploadReconciler(dir, s3, log)
}

func newUploadReconciler(dir string, s3 s3Store, log zerolog.Logger) *UploadReconciler {
	return &UploadReconciler{
		dir:      dir,
		s3:       s3,
		delay:    2 * time.Minute,
		interval: 5 * time.Minute,
		window:   48 * time.Hour,
		log:      log.With().Str("component", "upload-reconciler").Logger(),
		stop:     make(chan struct{}),
	}
}

func (r *UploadReconciler) Start() { go r.loop() }
func (r *UploadReconciler) Stop()  { r.stopOnce.Do(func() { close(r.stop) }) }

func (r *UploadReconciler) loop() {
	// Delay first run to let startup uploads settle
	select {
	case <-time.After(r.delay):
	case <-r.stop:
		return
	}

	r.reconcile()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.reconcile()
		case <-r.stop:
			return
		}
	}
}

func (r *UploadReconciler) reconcile() (uploaded, failed int) {
	var checked int
	cutoff := time.Now().Add(-r.window)

	dateDirs, _ := os.ReadDir(r.dir)
	for _, dateDir := range dateDirs {
		if !dateDir.IsDir() {
			continue
		}
		dirDate, err := time.Parse("2006-01-02", dateDir.Name())
		if err != nil || dirDate.Before(cutoff.Truncate(24*time.Hour)) {
			continue
		}

		datePath := filepath.Join(r.dir, dateDir.Name())
		files, _ := os.ReadDir(datePath)
		for _, f := range files {
			if f.IsDir() || isTempFile(f.Name()) {
				continue
			}
			checked++
			key := dateDir.Name() + "/" + f.Name()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			exists := r.s3.Exists(ctx, key)
			cancel()
			if exists {
				continue
			}

			data, readErr := os.ReadFile(filepath.Join(datePath, f.Name()))
			if readErr != nil {
				continue
			}

			ct := ContentTypeFromExt(filepath.Ext(f.Name()))
			ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
			if saveErr := r.s3.Save(ctx, key, data, ct); saveErr != nil {
				r.log.Warn().Err(saveErr).Str("key", key).Msg("reconcile upload failed")
				failed++
			} else {
				uploaded++
			}
			cancel()
		}
	}

	if uploaded > 0 || failed > 0 {
		r.log.Info().
			Int("uploaded", uploaded).
			Int("failed", failed).
			Int("checked", checked).
			Msg("reconcile complete")
	}
	return uploaded, failed
}

func isTempFile(name string) bool {
	return strings.HasPrefix(name, ".snippet-") && strings.HasSuffix(name, ".tmp")
}
