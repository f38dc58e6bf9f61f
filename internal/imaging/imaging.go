// Package imaging decodes screenshots and derives the lightweight visual
// features used for template matching: a perceptual hash, an exact-content
// digest, and coarse brightness signals.
package imaging

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"io"
	"math"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	// hashGrid is the side of the greyscale grid behind the average hash.
	hashGrid = 8
	// digestGrid is the side of the greyscale grid fed to SHA-256.
	digestGrid = 32
	// featureGrid is the side of the downsample used for brightness stats.
	featureGrid = 64

	// darkThreshold is the mean luma below which a screenshot is dark.
	darkThreshold = 128.0
	// bottomBand is the fraction of image height scanned for player controls.
	bottomBand = 0.20
	// controlsStdDev is the bottom-band luma standard deviation above which
	// the band is assumed to contain buttons or a seek bar.
	controlsStdDev = 24.0
)

// ErrEmptyImage is returned when an image has no pixels.
var ErrEmptyImage = errors.New("image has zero width or height")

// Features are the per-screenshot signals the matcher scores on.
type Features struct {
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	AspectRatio    float64 `json:"aspectRatio"`
	Brightness     float64 `json:"brightness"`
	IsDark         bool    `json:"isDarkBackground"`
	BottomStdDev   float64 `json:"bottomStdDev"`
	HasControls    bool    `json:"hasPlayerControls"`
	PerceptualHash string  `json:"perceptualHash"`
	ContentHash    string  `json:"contentHash"`
}

// Decode reads a PNG, JPEG or WebP image and reports its format name.
func Decode(r io.Reader) (image.Image, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, "", ErrEmptyImage
	}
	return img, format, nil
}

// MIMEType maps a decoder format name to its MIME type.
func MIMEType(format string) string {
	switch format {
	case "png":
		return "image/png"
	case "webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

// Analyze computes all matcher features for img.
func Analyze(img image.Image) (Features, error) {
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return Features{}, ErrEmptyImage
	}

	f := Features{
		Width:       b.Dx(),
		Height:      b.Dy(),
		AspectRatio: float64(b.Dx()) / float64(b.Dy()),
	}

	small := Grey(img, featureGrid, featureGrid)
	f.Brightness = mean(small.Pix)
	f.IsDark = f.Brightness < darkThreshold

	bandStart := featureGrid - int(math.Ceil(featureGrid*bottomBand))
	band := small.Pix[bandStart*small.Stride:]
	f.BottomStdDev = math.Sqrt(variance(band))
	f.HasControls = f.BottomStdDev > controlsStdDev

	f.PerceptualHash = AverageHash(img)
	f.ContentHash = ContentHash(img)
	return f, nil
}

// Grey resizes img to w×h and converts it to 8-bit greyscale.
func Grey(img image.Image, w, h int) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// AverageHash returns a 64-bit average hash as 16 hex characters: the image
// is reduced to an 8×8 greyscale grid and each cell becomes one bit, set
// when the cell is at least as bright as the grid mean.
func AverageHash(img image.Image) string {
	g := Grey(img, hashGrid, hashGrid)
	avg := mean(g.Pix)
	var bits uint64
	for i, p := range g.Pix {
		if float64(p) >= avg {
			bits |= 1 << uint(63-i)
		}
	}
	return fmt.Sprintf("%016x", bits)
}

// ContentHash is the SHA-256 of the raw 32×32 greyscale buffer. Identical
// layouts rendered at any resolution collapse to the same digest, which is
// what the template store keys on.
func ContentHash(img image.Image) string {
	g := Grey(img, digestGrid, digestGrid)
	sum := sha256.Sum256(g.Pix)
	return hex.EncodeToString(sum[:])
}

// HammingDistance counts differing bits between two average hashes.
// Returns -1 when either hash is malformed.
func HammingDistance(a, b string) int {
	var x, y uint64
	if _, err := fmt.Sscanf(a, "%x", &x); err != nil || len(a) != 16 {
		return -1
	}
	if _, err := fmt.Sscanf(b, "%x", &y); err != nil || len(b) != 16 {
		return -1
	}
	d := 0
	for v := x ^ y; v != 0; v &= v - 1 {
		d++
	}
	return d
}

// EncodePNG serializes img for handing to an external engine.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func mean(px []uint8) float64 {
	if len(px) == 0 {
		return 0
	}
	var sum float64
	for _, p := range px {
		sum += float64(p)
	}
	return sum / float64(len(px))
}

func variance(px []uint8) float64 {
	if len(px) == 0 {
		return 0
	}
	m := mean(px)
	var acc float64
	for _, p := range px {
		d := float64(p) - m
		acc += d * d
	}
	return acc / float64(len(px))
}
