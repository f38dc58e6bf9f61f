package template

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/petar554/podshot/internal/region"
	"github.com/rs/zerolog"
)

// Builtin returns the known player layouts scored by the heuristic path,
// in tie-break order.
func Builtin() []Template {
	return []Template{
		{
			Name:     "spotify",
			Features: Features{IsDarkBackground: true, HasPlayerControls: true},
			Regions: map[string]region.Box{
				region.EpisodeName: {Top: 0.60, Left: 0.06, Width: 0.76, Height: 0.045},
				region.PodcastName: {Top: 0.645, Left: 0.06, Width: 0.76, Height: 0.035},
				region.Timestamp:   {Top: 0.715, Left: 0.04, Width: 0.92, Height: 0.03},
				region.PlaybackBar: {Top: 0.58, Left: 0.0, Width: 1.0, Height: 0.20},
			},
		},
		{
			Name:     "apple_podcasts",
			Features: Features{IsDarkBackground: false, HasPlayerControls: true},
			Regions: map[string]region.Box{
				region.EpisodeName: {Top: 0.56, Left: 0.08, Width: 0.84, Height: 0.05},
				region.PodcastName: {Top: 0.61, Left: 0.08, Width: 0.84, Height: 0.035},
				region.Timestamp:   {Top: 0.68, Left: 0.06, Width: 0.88, Height: 0.03},
				region.PlaybackBar: {Top: 0.55, Left: 0.0, Width: 1.0, Height: 0.20},
			},
		},
		{
			Name:     "pocket_casts",
			Features: Features{IsDarkBackground: true, HasPlayerControls: false},
			Regions: map[string]region.Box{
				region.EpisodeName: {Top: 0.50, Left: 0.05, Width: 0.90, Height: 0.05},
				region.PodcastName: {Top: 0.55, Left: 0.05, Width: 0.90, Height: 0.04},
				region.Timestamp:   {Top: 0.63, Left: 0.05, Width: 0.90, Height: 0.03},
			},
		},
		{
			Name:     "overcast",
			Features: Features{IsDarkBackground: false, HasPlayerControls: false},
			Regions: map[string]region.Box{
				region.EpisodeName: {Top: 0.52, Left: 0.05, Width: 0.90, Height: 0.05},
				region.PodcastName: {Top: 0.57, Left: 0.05, Width: 0.90, Height: 0.04},
				region.Timestamp:   {Top: 0.66, Left: 0.05, Width: 0.90, Height: 0.03},
			},
		},
	}
}

// catalogEntry is the on-disk form of a catalog template.
type catalogEntry struct {
	Name     string                `json:"name"`
	Hash     string                `json:"hash,omitempty"`
	Features Features              `json:"features"`
	Regions  map[string]region.Box `json:"regions"`
}

// Catalog is the set of known layouts scored by the matcher. It starts as
// Builtin and can be replaced from a JSON file, optionally reloaded when
// the file changes.
type Catalog struct {
	mu        sync.RWMutex
	templates []Template
	path      string
	log       zerolog.Logger

	// onReload is called after every successful load with the new entries.
	onReload func([]Template)
}

// NewCatalog creates a catalog seeded with the built-in layouts.
func NewCatalog(log zerolog.Logger) *Catalog {
	return &Catalog{
		templates: Builtin(),
		log:       log.With().Str("component", "template-catalog").Logger(),
	}
}

// Templates returns a snapshot of the catalog in tie-break order.
func (c *Catalog) Templates() []Template {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Template, len(c.templates))
	for i, t := range c.templates {
		out[i] = t.Clone()
	}
	return out
}

// CatalogSize is the number of layouts currently loaded.
func (c *Catalog) CatalogSize() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.templates)
}

// OnReload registers a callback run after each successful file load.
func (c *Catalog) OnReload(fn func([]Template)) {
	c.mu.Lock()
	c.onReload = fn
	c.mu.Unlock()
}

// LoadFile replaces the catalog with the entries in path. On any error
// the current catalog is kept.
func (c *Catalog) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read catalog: %w", err)
	}
	var entries []catalogEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse catalog %s: %w", path, err)
	}
	templates := make([]Template, 0, len(entries))
	for i, e := range entries {
		n := NewTemplate{Name: e.Name, Hash: e.Hash, Features: e.Features, Regions: e.Regions}
		if err := n.Validate(); err != nil {
			return fmt.Errorf("catalog entry %d: %w", i, err)
		}
		templates = append(templates, Template{Name: e.Name, Hash: e.Hash, Features: e.Features, Regions: e.Regions})
	}

	c.mu.Lock()
	c.templates = templates
	c.path = path
	fn := c.onReload
	c.mu.Unlock()

	c.log.Info().Str("path", path).Int("templates", len(templates)).Msg("template catalog loaded")
	if fn != nil {
		fn(templates)
	}
	return nil
}

// Watch reloads the catalog file whenever it is written or replaced, until
// ctx is cancelled. The parent directory is watched so editors that save
// via rename are picked up.
func (c *Catalog) Watch(ctx context.Context) error {
	c.mu.RLock()
	path := c.path
	c.mu.RUnlock()
	if path == "" {
		return fmt.Errorf("catalog watch: no file loaded")
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return err
	}

	go func() {
		defer w.Close()
		var debounce *time.Timer
		for {
			select {
			case <-ctx.Done():
				if debounce != nil {
					debounce.Stop()
				}
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				// Coalesce the Create+Write bursts editors produce.
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(250*time.Millisecond, func() {
					if err := c.LoadFile(path); err != nil {
						c.log.Warn().Err(err).Msg("template catalog reload failed, keeping previous")
					}
				})
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				c.log.Warn().Err(err).Msg("template catalog watcher error")
			}
		}
	}()

	c.log.Info().Str("path", path).Msg("watching template catalog")
	return nil
}

// Seed inserts every catalog template that carries a content hash into
// store, so screenshots of those exact layouts take the exact path.
func Seed(ctx context.Context, store Store, templates []Template) (int, error) {
	seeded := 0
	for _, t := range templates {
		if t.Hash == "" {
			continue
		}
		if _, err := store.Insert(ctx, NewTemplate{Name: t.Name, Hash: t.Hash, Features: t.Features, Regions: t.Regions}); err != nil {
			return seeded, fmt.Errorf("seed %q: %w", t.Name, err)
		}
		seeded++
	}
	return seeded, nil
}
