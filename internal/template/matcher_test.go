package template

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/petar554/podshot/internal/imaging"
	"github.com/petar554/podshot/internal/region"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticCatalog []Template

func (c staticCatalog) Templates() []Template { return c }

type failingStore struct{ *MemoryStore }

func (failingStore) FindByHash(context.Context, string) (*Template, error) {
	return nil, errors.New("connection refused")
}

func (failingStore) List(context.Context) ([]Template, error) {
	return nil, errors.New("connection refused")
}

func TestMatch_ExactHitSkipsScoring(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, err := store.Insert(ctx, NewTemplate{Name: "spotify", Hash: "hash-1", Regions: DefaultRegions()})
	require.NoError(t, err)

	calls := 0
	scorer := ScorerFunc(func(imaging.Features, Template) float64 {
		calls++
		return 100
	})
	m := NewMatcher(store, staticCatalog(Builtin()), scorer, zerolog.Nop())

	got := m.Match(ctx, &imaging.Features{ContentHash: "hash-1"})
	assert.Equal(t, MethodExact, got.Method)
	assert.Equal(t, "spotify", got.DetectionMethod())
	assert.False(t, got.StoreMissed)
	assert.Zero(t, calls, "scorer must not run on an exact hit")
}

func TestMatch_HeuristicPicksHighestScore(t *testing.T) {
	m := NewMatcher(NewMemoryStore(), staticCatalog(Builtin()), nil, zerolog.Nop())

	got := m.Match(context.Background(), &imaging.Features{ContentHash: "unseen", IsDark: false, HasControls: true})
	assert.Equal(t, MethodHeuristic, got.Method)
	assert.Equal(t, "apple_podcasts", got.Template.Name)
	assert.Equal(t, 20.0, got.Score)
	assert.True(t, got.StoreMissed)
	assert.Equal(t, "heuristic:apple_podcasts", got.DetectionMethod())
}

func TestMatch_TieGoesToFirstListed(t *testing.T) {
	catalog := staticCatalog{
		{Name: "first", Features: Features{IsDarkBackground: true}},
		{Name: "second", Features: Features{IsDarkBackground: true}},
	}
	m := NewMatcher(nil, catalog, nil, zerolog.Nop())
	for i := 0; i < 10; i++ {
		got := m.Match(context.Background(), &imaging.Features{IsDark: true})
		require.Equal(t, "first", got.Template.Name)
	}
}

func TestMatch_DefaultWhenNoCandidates(t *testing.T) {
	m := NewMatcher(NewMemoryStore(), nil, nil, zerolog.Nop())
	got := m.Match(context.Background(), &imaging.Features{ContentHash: "x"})
	assert.Equal(t, MethodDefault, got.Method)
	assert.True(t, got.StoreMissed)
	assert.Equal(t, DefaultRegions(), got.Template.Regions)
}

func TestMatch_DefaultWhenFeaturesMissing(t *testing.T) {
	m := NewMatcher(NewMemoryStore(), staticCatalog(Builtin()), nil, zerolog.Nop())
	got := m.Match(context.Background(), nil)
	assert.Equal(t, MethodDefault, got.Method)
	assert.False(t, got.StoreMissed)
	box := got.Template.Regions[region.PlaybackBar]
	assert.Equal(t, 0.75, box.Top)
	assert.Equal(t, 1.0, box.Width)
}

func TestMatch_StoreErrorDegradesToCatalog(t *testing.T) {
	m := NewMatcher(failingStore{NewMemoryStore()}, staticCatalog(Builtin()), nil, zerolog.Nop())
	got := m.Match(context.Background(), &imaging.Features{ContentHash: "x", IsDark: true, HasControls: true})
	assert.Equal(t, MethodHeuristic, got.Method)
	assert.Equal(t, "spotify", got.Template.Name)
	assert.False(t, got.StoreMissed)
}

func TestMatch_SeededStoreTemplatesScoredAfterCatalog(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, err := store.Insert(ctx, NewTemplate{Name: AutoPrefix + "1", Hash: "a", Features: Features{PerceptualHash: "ffffffffffffffff"}})
	require.NoError(t, err)
	_, err = store.Insert(ctx, NewTemplate{Name: "castbox", Hash: "b", Features: Features{PerceptualHash: "ffffffffffffffff"}})
	require.NoError(t, err)

	m := NewMatcher(store, staticCatalog(Builtin()), nil, zerolog.Nop())
	got := m.Match(ctx, &imaging.Features{ContentHash: "c", PerceptualHash: "fffffffffffffff0"})
	assert.Equal(t, "castbox", got.Template.Name, "near-identical perceptual hash should add a feature point")
	assert.Equal(t, 30.0, got.Score)
}

func TestFeatureScorer(t *testing.T) {
	s := FeatureScorer{Weight: 10, HashDistance: 2}
	tpl := Template{Features: Features{IsDarkBackground: true, HasPlayerControls: true, PerceptualHash: "0000000000000000"}}
	assert.Equal(t, 30.0, s.Score(imaging.Features{IsDark: true, HasControls: true, PerceptualHash: "0000000000000003"}, tpl))
	assert.Equal(t, 20.0, s.Score(imaging.Features{IsDark: true, HasControls: true, PerceptualHash: "000000000000000f"}, tpl))
	assert.Equal(t, 0.0, s.Score(imaging.Features{IsDark: false, HasControls: false}, tpl))
}

func TestCatalog_LoadFileAndSeed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"name": "castro", "hash": "h-castro", "features": {"isDarkBackground": true},
		 "regions": {"timestamp": {"top": 0.7, "left": 0.1, "width": 0.8, "height": 0.05}}},
		{"name": "generic", "features": {}, "regions": {}}
	]`), 0o644))

	c := NewCatalog(zerolog.Nop())
	var reloaded []Template
	c.OnReload(func(ts []Template) { reloaded = ts })
	require.NoError(t, c.LoadFile(path))

	ts := c.Templates()
	require.Len(t, ts, 2)
	assert.Equal(t, "castro", ts[0].Name)
	assert.Len(t, reloaded, 2)

	store := NewMemoryStore()
	n, err := Seed(context.Background(), store, ts)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got, err := store.FindByHash(context.Background(), "h-castro")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "castro", got.Name)
}

func TestCatalog_InvalidFileKeepsPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"name":"x","regions":{"a":{"top":2}}}]`), 0o644))

	c := NewCatalog(zerolog.Nop())
	require.Error(t, c.LoadFile(path))
	assert.Len(t, c.Templates(), len(Builtin()))
}

func TestBuiltinRegionsValid(t *testing.T) {
	for _, tpl := range Builtin() {
		require.NoError(t, region.ValidateAll(tpl.Regions), tpl.Name)
	}
	require.NoError(t, region.ValidateAll(DefaultRegions()))
}

func TestMatch_BuiltinsNeverFallBackToDefault(t *testing.T) {
	m := NewMatcher(NewMemoryStore(), NewCatalog(zerolog.Nop()), nil, zerolog.Nop())
	for _, dark := range []bool{false, true} {
		for _, controls := range []bool{false, true} {
			got := m.Match(context.Background(), &imaging.Features{ContentHash: "x", IsDark: dark, HasControls: controls})
			assert.Equal(t, MethodHeuristic, got.Method, "dark=%v controls=%v", dark, controls)
			assert.Positive(t, got.Score)
		}
	}
}

func TestMatch_EmptyCatalogFileReachesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte("[]"), 0o644))
	c := NewCatalog(zerolog.Nop())
	require.NoError(t, c.LoadFile(path))
	require.Zero(t, c.CatalogSize())

	m := NewMatcher(NewMemoryStore(), c, nil, zerolog.Nop())
	got := m.Match(context.Background(), &imaging.Features{ContentHash: "x", IsDark: true, HasControls: true})
	assert.Equal(t, MethodDefault, got.Method)
	assert.True(t, got.StoreMissed)
}
