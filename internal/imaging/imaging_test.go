package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// darkPlayer draws a black screen whose bottom fifth has alternating
// white and black vertical bars, a crude stand-in for transport controls.
func darkPlayer(w, h int) *image.RGBA {
	img := solid(w, h, color.Black)
	for y := h * 4 / 5; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x/(w/16))%2 == 0 {
				img.Set(x, y, color.White)
			}
		}
	}
	return img
}

func TestAnalyze_DarkWithControls(t *testing.T) {
	f, err := Analyze(darkPlayer(320, 640))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !f.IsDark {
		t.Errorf("IsDark = false, brightness %.1f", f.Brightness)
	}
	if !f.HasControls {
		t.Errorf("HasControls = false, bottom stddev %.1f", f.BottomStdDev)
	}
	if f.Width != 320 || f.Height != 640 {
		t.Errorf("size = %dx%d, want 320x640", f.Width, f.Height)
	}
	if f.AspectRatio != 0.5 {
		t.Errorf("AspectRatio = %v, want 0.5", f.AspectRatio)
	}
}

func TestAnalyze_LightPlain(t *testing.T) {
	f, err := Analyze(solid(200, 400, color.White))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if f.IsDark {
		t.Error("IsDark = true for white image")
	}
	if f.HasControls {
		t.Error("HasControls = true for flat image")
	}
}

func TestAnalyze_Empty(t *testing.T) {
	if _, err := Analyze(image.NewRGBA(image.Rect(0, 0, 0, 0))); err != ErrEmptyImage {
		t.Errorf("err = %v, want ErrEmptyImage", err)
	}
}

func TestContentHash_Deterministic(t *testing.T) {
	a := ContentHash(darkPlayer(320, 640))
	b := ContentHash(darkPlayer(320, 640))
	if a != b {
		t.Errorf("hash differs for identical images: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("hash length = %d, want 64", len(a))
	}
	if c := ContentHash(solid(320, 640, color.White)); c == a {
		t.Error("different images produced the same content hash")
	}
}

func TestAverageHash(t *testing.T) {
	h := AverageHash(darkPlayer(320, 640))
	if len(h) != 16 {
		t.Fatalf("hash length = %d, want 16", len(h))
	}
	if d := HammingDistance(h, h); d != 0 {
		t.Errorf("self distance = %d, want 0", d)
	}
	if d := HammingDistance(h, "zz"); d != -1 {
		t.Errorf("malformed distance = %d, want -1", d)
	}
	if d := HammingDistance("0000000000000000", "000000000000000f"); d != 4 {
		t.Errorf("distance = %d, want 4", d)
	}
}

func TestDecode_PNGRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, darkPlayer(64, 64)); err != nil {
		t.Fatal(err)
	}
	img, format, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if format != "png" {
		t.Errorf("format = %q, want png", format)
	}
	if img.Bounds().Dx() != 64 {
		t.Errorf("width = %d, want 64", img.Bounds().Dx())
	}
	if MIMEType(format) != "image/png" {
		t.Errorf("MIMEType = %q", MIMEType(format))
	}
}

func TestDecode_Garbage(t *testing.T) {
	if _, _, err := Decode(bytes.NewReader([]byte("not an image"))); err == nil {
		t.Error("expected error for garbage input")
	}
}
