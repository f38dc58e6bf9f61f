package database

import (
	"errors"
	"testing"
	"time"

	"github.com/petar554/podshot/internal/region"
)

func TestAssembleTemplates(t *testing.T) {
	hash := "abc"
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	trs := []templateRow{
		{ID: 2, Name: "spotify", Hash: &hash, Features: []byte(`{"isDarkBackground":true,"hasPlayerControls":true}`), CreatedAt: created},
		{ID: 5, Name: "auto_template_1", Features: []byte(`{}`), CreatedAt: created},
	}
	regions := []regionRow{
		{TemplateID: 2, Name: region.Timestamp, Box: region.Box{Top: 0.7, Left: 0.1, Width: 0.8, Height: 0.05}},
		{TemplateID: 2, Name: region.PodcastName, Box: region.Box{Top: 0.6, Left: 0.1, Width: 0.8, Height: 0.05}},
	}

	got, err := assembleTemplates(trs, regions)
	if err != nil {
		t.Fatalf("assembleTemplates: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Name != "spotify" || got[0].Hash != "abc" {
		t.Errorf("first = %+v", got[0])
	}
	if len(got[0].Regions) != 2 {
		t.Errorf("spotify regions = %d, want 2", len(got[0].Regions))
	}
	if !got[0].Features.IsDarkBackground || !got[0].Features.HasPlayerControls {
		t.Errorf("features not decoded: %+v", got[0].Features)
	}
	if got[1].Hash != "" {
		t.Errorf("null hash = %q, want empty", got[1].Hash)
	}
	if got[1].Regions == nil || len(got[1].Regions) != 0 {
		t.Errorf("template with zero regions should have an empty map, got %v", got[1].Regions)
	}
}

func TestAssembleTemplates_BadFeatures(t *testing.T) {
	_, err := assembleTemplates([]templateRow{{ID: 1, Name: "x", Features: []byte(`{`)}}, nil)
	if err == nil {
		t.Error("expected error for malformed features JSON")
	}
}

func TestNullableHash(t *testing.T) {
	if nullableHash("") != nil {
		t.Error("empty hash should map to NULL")
	}
	if h := nullableHash("x"); h == nil || *h != "x" {
		t.Errorf("nullableHash(x) = %v", h)
	}
}

func TestStoreError(t *testing.T) {
	inner := errors.New("conn reset")
	err := error(&StoreError{Op: "find", Err: inner})
	if !errors.Is(err, inner) {
		t.Error("StoreError should unwrap to the driver error")
	}
	var se *StoreError
	if !errors.As(err, &se) || !se.Temporary() {
		t.Error("StoreError should be temporary")
	}
	if err.Error() != "template store find: conn reset" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestMigrationError(t *testing.T) {
	e := &MigrationError{
		failed:  migrations[0],
		pending: migrations,
		err:     errors.New("permission denied"),
	}
	if !errors.Is(e, e.err) {
		t.Error("MigrationError should unwrap")
	}
	if msg := e.Error(); len(msg) == 0 {
		t.Error("empty message")
	}
}
