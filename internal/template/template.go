// Package template holds player layout templates, the store contract they
// persist through, and the matcher that picks a layout for a screenshot.
package template

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/petar554/podshot/internal/imaging"
	"github.com/petar554/podshot/internal/region"
)

// AutoPrefix names templates synthesized from unseen screenshots.
const AutoPrefix = "auto_template_"

// ErrInvalidTemplate wraps every insert-time validation failure.
var ErrInvalidTemplate = errors.New("invalid template")

// Features is the free-form layout metadata persisted with a template. The
// matcher scores on IsDarkBackground, HasPlayerControls and PerceptualHash.
type Features struct {
	Width             int     `json:"width,omitempty"`
	Height            int     `json:"height,omitempty"`
	AspectRatio       float64 `json:"aspectRatio,omitempty"`
	IsDarkBackground  bool    `json:"isDarkBackground"`
	HasPlayerControls bool    `json:"hasPlayerControls"`
	PerceptualHash    string  `json:"perceptualHash,omitempty"`
}

// FeaturesFrom copies the persistable subset of screenshot features.
func FeaturesFrom(f imaging.Features) Features {
	return Features{
		Width:             f.Width,
		Height:            f.Height,
		AspectRatio:       f.AspectRatio,
		IsDarkBackground:  f.IsDark,
		HasPlayerControls: f.HasControls,
		PerceptualHash:    f.PerceptualHash,
	}
}

// Template is a named player layout.
type Template struct {
	ID        int64                 `json:"id"`
	Name      string                `json:"name"`
	Hash      string                `json:"hash,omitempty"`
	Features  Features              `json:"features"`
	Regions   map[string]region.Box `json:"regions"`
	CreatedAt time.Time             `json:"createdAt,omitempty"`
}

// IsAuto reports whether t was synthesized rather than seeded.
func (t Template) IsAuto() bool {
	return strings.HasPrefix(t.Name, AutoPrefix)
}

// Clone returns a copy of t that shares no maps with it.
func (t Template) Clone() Template {
	c := t
	c.Regions = make(map[string]region.Box, len(t.Regions))
	for k, v := range t.Regions {
		c.Regions[k] = v
	}
	return c
}

// NewTemplate is the insert payload for a Store.
type NewTemplate struct {
	Name     string
	Hash     string
	Features Features
	Regions  map[string]region.Box
}

// Validate rejects templates without a name or with bad region geometry.
func (n NewTemplate) Validate() error {
	if strings.TrimSpace(n.Name) == "" {
		return fmt.Errorf("%w: name required", ErrInvalidTemplate)
	}
	if err := region.ValidateAll(n.Regions); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTemplate, err)
	}
	return nil
}

// Summary is a list row: a template without its region boxes.
type Summary struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Hash        string    `json:"hash,omitempty"`
	RegionCount int       `json:"regionCount"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Summarize converts templates into list rows.
func Summarize(ts []Template) []Summary {
	out := make([]Summary, len(ts))
	for i, t := range ts {
		out[i] = Summary{ID: t.ID, Name: t.Name, Hash: t.Hash, RegionCount: len(t.Regions), CreatedAt: t.CreatedAt}
	}
	return out
}

// Store persists templates. Implementations must be safe for concurrent
// use. Insert is idempotent on a non-empty Hash: inserting a hash that
// already exists returns the existing template untouched.
type Store interface {
	FindByHash(ctx context.Context, hash string) (*Template, error)
	Get(ctx context.Context, id int64) (*Template, error)
	Insert(ctx context.Context, t NewTemplate) (*Template, error)
	List(ctx context.Context) ([]Template, error)
}

// DefaultRegions covers the band where a playback bar usually sits.
func DefaultRegions() map[string]region.Box {
	return map[string]region.Box{
		region.PlaybackBar: {Top: 0.75, Left: 0.0, Width: 1.0, Height: 0.15},
	}
}

// DefaultTemplate is the last-resort layout guess.
func DefaultTemplate() Template {
	return Template{Name: "default", Regions: DefaultRegions()}
}

// AutoName returns the name for a template synthesized at t.
func AutoName(t time.Time) string {
	return fmt.Sprintf("%s%d", AutoPrefix, t.UnixMilli())
}
