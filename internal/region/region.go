// Package region converts layout-relative bounding boxes into pixel
// rectangles and crops the matching sub-images out of a screenshot.
package region

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"math"
	"sort"
)

// Well-known region names.
const (
	PodcastName = "podcastName"
	EpisodeName = "episodeName"
	Timestamp   = "timestamp"
	PlaybackBar = "playbackBar"
)

// tolerance absorbs float noise in boxes like top=0.8, height=0.2.
const tolerance = 1e-9

// ErrInvalidBox is wrapped by every geometry validation failure.
var ErrInvalidBox = errors.New("invalid region box")

// Box is a bounding box in fractions of image width (left, width) and
// height (top, height).
type Box struct {
	Top    float64 `json:"top"`
	Left   float64 `json:"left"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Validate rejects boxes with components outside [0,1] or that extend past
// the right or bottom edge of the image.
func (b Box) Validate() error {
	if err := b.validateComponents(); err != nil {
		return err
	}
	if b.Left+b.Width > 1+tolerance {
		return fmt.Errorf("%w: left+width=%v exceeds 1", ErrInvalidBox, b.Left+b.Width)
	}
	if b.Top+b.Height > 1+tolerance {
		return fmt.Errorf("%w: top+height=%v exceeds 1", ErrInvalidBox, b.Top+b.Height)
	}
	return nil
}

func (b Box) validateComponents() error {
	for _, v := range []struct {
		name string
		val  float64
	}{{"top", b.Top}, {"left", b.Left}, {"width", b.Width}, {"height", b.Height}} {
		if math.IsNaN(v.val) || v.val < 0 || v.val > 1 {
			return fmt.Errorf("%w: %s=%v outside [0,1]", ErrInvalidBox, v.name, v.val)
		}
	}
	return nil
}

// ValidateAll validates every box in regions, reporting the first failure
// by region name in sorted order.
func ValidateAll(regions map[string]Box) error {
	for _, name := range sortedNames(regions) {
		if err := regions[name].Validate(); err != nil {
			return fmt.Errorf("region %q: %w", name, err)
		}
	}
	return nil
}

// Rect converts b into an absolute rectangle for a w×h image. Each term is
// floored independently, so the result can be empty for thin boxes.
func Rect(b Box, w, h int) image.Rectangle {
	x := int(math.Floor(b.Left * float64(w)))
	y := int(math.Floor(b.Top * float64(h)))
	rw := int(math.Floor(b.Width * float64(w)))
	rh := int(math.Floor(b.Height * float64(h)))
	return image.Rect(x, y, x+rw, y+rh)
}

// Crop is one extracted region.
type Crop struct {
	Name  string
	Image image.Image
	Rect  image.Rectangle
}

// Skipped records a region left out of an extraction and why.
type Skipped struct {
	Name   string
	Reason string
}

// Extract crops every region out of img. Regions with components outside
// [0,1] or a degenerate rectangle are skipped individually; rectangles
// running past the image bounds (float rounding at 100%, or overflowing
// boxes that slipped past Validate) are clamped. The caller always gets
// whatever could be cropped.
func Extract(img image.Image, regions map[string]Box) (map[string]Crop, []Skipped) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	crops := make(map[string]Crop, len(regions))
	var skipped []Skipped

	for _, name := range sortedNames(regions) {
		box := regions[name]
		if err := box.validateComponents(); err != nil {
			skipped = append(skipped, Skipped{Name: name, Reason: err.Error()})
			continue
		}
		r := Rect(box, w, h)
		if r.Dx() <= 0 || r.Dy() <= 0 {
			skipped = append(skipped, Skipped{Name: name, Reason: fmt.Sprintf("degenerate rectangle %v", r)})
			continue
		}
		// Rect is relative to the origin; images from SubImage or some
		// decoders start elsewhere.
		r = r.Add(bounds.Min).Intersect(bounds)
		if r.Empty() {
			skipped = append(skipped, Skipped{Name: name, Reason: "rectangle outside image"})
			continue
		}
		crops[name] = Crop{Name: name, Image: crop(img, r), Rect: r.Sub(bounds.Min)}
	}
	return crops, skipped
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

func crop(img image.Image, r image.Rectangle) image.Image {
	if si, ok := img.(subImager); ok {
		return si.SubImage(r)
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst
}

func sortedNames(regions map[string]Box) []string {
	names := make([]string, 0, len(regions))
	for n := range regions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
