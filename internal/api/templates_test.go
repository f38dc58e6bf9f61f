package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/petar554/podshot/internal/region"
	"github.com/petar554/podshot/internal/template"
	"github.com/rs/zerolog"
)

func newTemplatesRouter(store template.Store) http.Handler {
	r := chi.NewRouter()
	NewTemplatesHandler(store, template.NewCatalog(zerolog.Nop())).Routes(r)
	return r
}

func seedTemplate(t *testing.T, store template.Store, name, hash string) *template.Template {
	t.Helper()
	tpl, err := store.Insert(context.Background(), template.NewTemplate{
		Name:    name,
		Hash:    hash,
		Regions: map[string]region.Box{region.Timestamp: {Top: 0.8, Left: 0.1, Width: 0.3, Height: 0.05}},
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return tpl
}

func TestTemplates_List(t *testing.T) {
	store := template.NewMemoryStore()
	for i := 0; i < 3; i++ {
		seedTemplate(t, store, fmt.Sprintf("player-%d", i), fmt.Sprintf("hash-%d", i))
	}
	h := newTemplatesRouter(store)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/templates?limit=2&offset=1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp templateListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 3 {
		t.Errorf("total = %d, want 3", resp.Total)
	}
	if len(resp.Templates) != 2 || resp.Templates[0].Name != "player-1" {
		t.Errorf("templates = %+v", resp.Templates)
	}
	if resp.Templates[0].RegionCount != 1 {
		t.Errorf("regionCount = %d, want 1", resp.Templates[0].RegionCount)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/templates?limit=0", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit: status = %d, want 400", rec.Code)
	}
}

func TestTemplates_Get(t *testing.T) {
	store := template.NewMemoryStore()
	tpl := seedTemplate(t, store, "spotify", "abc")
	h := newTemplatesRouter(store)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", fmt.Sprintf("/templates/%d", tpl.ID), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got template.Template
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Name != "spotify" || len(got.Regions) != 1 {
		t.Errorf("got %+v", got)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/templates/999", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing: status = %d, want 404", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/templates/abc", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad id: status = %d, want 400", rec.Code)
	}
}

func TestTemplates_Create(t *testing.T) {
	store := template.NewMemoryStore()
	h := newTemplatesRouter(store)

	post := func(body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/templates", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		h.ServeHTTP(rec, req)
		return rec
	}

	valid := `{"name":"overcast","hash":"h1","regions":{"podcastName":{"top":0.6,"left":0.05,"width":0.9,"height":0.05}}}`

	rec := post(valid)
	if rec.Code != http.StatusCreated {
		t.Fatalf("first insert: status = %d, want 201; body = %s", rec.Code, rec.Body.String())
	}
	var first template.Template
	json.Unmarshal(rec.Body.Bytes(), &first)

	rec = post(valid)
	if rec.Code != http.StatusOK {
		t.Fatalf("repeat insert: status = %d, want 200", rec.Code)
	}
	var second template.Template
	json.Unmarshal(rec.Body.Bytes(), &second)
	if first.ID != second.ID {
		t.Errorf("repeat insert returned id %d, want %d", second.ID, first.ID)
	}

	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{bad`},
		{"no name", `{"regions":{}}`},
		{"overflowing box", `{"name":"x","regions":{"timestamp":{"top":0.1,"left":0.5,"width":0.6,"height":0.1}}}`},
		{"negative top", `{"name":"x","regions":{"timestamp":{"top":-0.1,"left":0.1,"width":0.2,"height":0.1}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := post(tt.body); rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}

	// Degenerate boxes are stored; extraction skips them.
	if rec := post(`{"name":"thin","regions":{"timestamp":{"top":0.1,"left":0.1,"width":0,"height":0.1}}}`); rec.Code != http.StatusCreated {
		t.Errorf("zero-width box: status = %d, want 201", rec.Code)
	}
}

func TestTemplates_Catalog(t *testing.T) {
	h := newTemplatesRouter(template.NewMemoryStore())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/templates/catalog", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Templates []template.Template `json:"templates"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Templates) != len(template.Builtin()) {
		t.Errorf("catalog size = %d, want %d", len(resp.Templates), len(template.Builtin()))
	}
}
