package storage

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type existser interface {
	Exists(ctx context.Context, key string) bool
}

// CachePruner deletes local snippets older than the retention period.
// When an S3 backup is configured the file must exist there first, so a
// pending upload is never lost.
type CachePruner struct {
	dir       string
	retention time.Duration
	interval  time.Duration
	s3        existser
	log       zerolog.Logger
	stop      chan struct{}
	stopOnce  sync.Once
	now       func() time.Time
}

// NewCachePruner creates a pruner. s3 may be nil for local-only storage.
func NewCachePruner(dir string, retention time.Duration, s3 *S3Store, log zerolog.Logger) *CachePruner {
	var ex existser
	if s3 != nil {
		ex = s3
	}
	return newCachePruner(dir, retention, ex, log)
}

func newCachePruner(dir string, retention time.Duration, s3 existser, log zerolog.Logger) *CachePruner {
	interval := retention / 4
	if interval > time.Hour || interval <= 0 {
		interval = time.Hour
	}
	if interval < time.Minute {
		interval = time.Minute
	}
	return &CachePruner{
		dir:       dir,
		retention: retention,
		interval:  interval,
		s3:        s3,
		log:       log.With().Str("component", "snippet-pruner").Logger(),
		stop:      make(chan struct{}),
		now:       time.Now,
	}
}

func (p *CachePruner) Start() {
	go p.loop()
}

func (p *CachePruner) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

func (p *CachePruner) loop() {
	// Run once on startup to clear any backlog from downtime
	p.prune()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.prune()
		case <-p.stop:
			return
		}
	}
}

func (p *CachePruner) prune() (pruned int) {
	if p.retention == 0 {
		return 0
	}

	cutoff := p.now().Add(-p.retention)
	var prunedBytes int64
	var skippedNotInS3 int

	filepath.WalkDir(p.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			return nil
		}
		rel, relErr := filepath.Rel(p.dir, path)
		if relErr != nil {
			return nil
		}
		key := filepath.ToSlash(rel)

		if p.s3 != nil && !isTempFile(d.Name()) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			inS3 := p.s3.Exists(ctx, key)
			cancel()
			if !inS3 {
				skippedNotInS3++
				p.log.Warn().Str("key", key).Msg("skipping prune: file not in S3")
				return nil
			}
		}
		if err := os.Remove(path); err == nil {
			pruned++
			prunedBytes += info.Size()
		}
		return nil
	})

	p.removeEmptyDirs()

	if pruned > 0 || skippedNotInS3 > 0 {
		p.log.Info().
			Int("pruned", pruned).
			Str("freed", humanizeBytes(prunedBytes)).
			Int("skipped_not_in_s3", skippedNotInS3).
			Msg("snippet prune complete")
	}
	return pruned
}

func (p *CachePruner) removeEmptyDirs() {
	entries, _ := os.ReadDir(p.dir)
	for _, dateDir := range entries {
		if !dateDir.IsDir() {
			continue
		}
		datePath := filepath.Join(p.dir, dateDir.Name())
		remaining, _ := os.ReadDir(datePath)
		if len(remaining) == 0 {
			os.Remove(datePath)
		}
	}
}

func humanizeBytes(b int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case b >= GB:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
