package region

import (
	"errors"
	"image"
	"testing"
)

func TestRect(t *testing.T) {
	r := Rect(Box{Top: 0.5, Left: 0.25, Width: 0.5, Height: 0.1}, 1000, 2000)
	want := image.Rect(250, 1000, 750, 1200)
	if r != want {
		t.Errorf("Rect = %v, want %v", r, want)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		box     Box
		wantErr bool
	}{
		{"full_image", Box{0, 0, 1, 1}, false},
		{"bottom_band", Box{Top: 0.8, Left: 0, Width: 1, Height: 0.2}, false},
		{"negative_top", Box{Top: -0.1, Width: 0.5, Height: 0.5}, true},
		{"width_over_one", Box{Width: 1.5, Height: 0.5}, true},
		{"overflows_right", Box{Left: 0.6, Width: 0.5, Height: 0.1}, true},
		{"overflows_bottom", Box{Top: 0.9, Width: 1, Height: 0.2}, true},
		{"zero_width_is_geometry_valid", Box{Top: 0.1, Width: 0, Height: 0.1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.box.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidBox) {
				t.Errorf("err %v does not wrap ErrInvalidBox", err)
			}
		})
	}
}

func TestExtract_ClampsToBounds(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 500, 1000))
	crops, skipped := Extract(img, map[string]Box{
		PlaybackBar: {Top: 0.9, Left: 0, Width: 1, Height: 0.2},
	})
	if len(skipped) != 0 {
		t.Fatalf("skipped = %v, want none", skipped)
	}
	c, ok := crops[PlaybackBar]
	if !ok {
		t.Fatal("region missing")
	}
	if c.Rect.Max.Y > 1000 {
		t.Errorf("y+h = %d, exceeds 1000", c.Rect.Max.Y)
	}
	if c.Rect != image.Rect(0, 900, 500, 1000) {
		t.Errorf("rect = %v, want (0,900)-(500,1000)", c.Rect)
	}
	if c.Image.Bounds().Dy() != 100 {
		t.Errorf("crop height = %d, want 100", c.Image.Bounds().Dy())
	}
}

func TestExtract_OutOfRangeComponentSkipped(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 1000))
	crops, skipped := Extract(img, map[string]Box{
		"negative": {Top: -0.5, Left: 0, Width: 1, Height: 0.2},
		Timestamp:  {Top: 0.5, Left: 0, Width: 1, Height: 0.1},
	})
	if _, ok := crops[Timestamp]; !ok {
		t.Error("valid region missing from output")
	}
	if len(skipped) != 1 || skipped[0].Name != "negative" {
		t.Errorf("skipped = %v, want negative", skipped)
	}
}

func TestExtract_DegenerateSkipped(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 400, 800))
	crops, skipped := Extract(img, map[string]Box{
		PodcastName: {Top: 0.1, Left: 0.1, Width: 0, Height: 0.1},
		EpisodeName: {Top: 0.2, Left: 0.1, Width: 0.8, Height: 0.1},
		Timestamp:   {Top: 0.3, Left: 0.1, Width: 0.8, Height: 0.0001},
	})
	if _, ok := crops[PodcastName]; ok {
		t.Error("zero-width region should be omitted")
	}
	if _, ok := crops[Timestamp]; ok {
		t.Error("sub-pixel region should be omitted")
	}
	ep, ok := crops[EpisodeName]
	if !ok {
		t.Fatal("valid region missing")
	}
	if ep.Rect != image.Rect(40, 160, 360, 240) {
		t.Errorf("episode rect = %v", ep.Rect)
	}
	if len(skipped) != 2 {
		t.Errorf("skipped = %d entries, want 2", len(skipped))
	}
}

func TestExtract_OffsetImage(t *testing.T) {
	base := image.NewRGBA(image.Rect(0, 0, 200, 200))
	sub := base.SubImage(image.Rect(100, 100, 200, 200))
	crops, _ := Extract(sub, map[string]Box{"all": {0, 0, 1, 1}})
	c := crops["all"]
	if c.Rect != image.Rect(0, 0, 100, 100) {
		t.Errorf("rect = %v, want origin-relative", c.Rect)
	}
	if c.Image.Bounds() != image.Rect(100, 100, 200, 200) {
		t.Errorf("crop bounds = %v", c.Image.Bounds())
	}
}

func TestValidateAll(t *testing.T) {
	err := ValidateAll(map[string]Box{
		"ok":  {0, 0, 1, 1},
		"bad": {Top: 2},
	})
	if !errors.Is(err, ErrInvalidBox) {
		t.Errorf("err = %v, want ErrInvalidBox", err)
	}
}
