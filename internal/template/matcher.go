package template

import (
	"context"

	"github.com/petar554/podshot/internal/imaging"
	"github.com/rs/zerolog"
)

// Method records which matcher path produced a template.
type Method string

const (
	MethodExact     Method = "exact"
	MethodHeuristic Method = "heuristic"
	MethodDefault   Method = "default"
)

// Match is the matcher's answer: the layout to crop with and why.
type Match struct {
	Template Template
	Method   Method
	Score    float64
	// StoreMissed is set when the store was consulted and had no entry for
	// the screenshot's hash.
	StoreMissed bool
}

// DetectionMethod is the label reported to clients: the template name on
// an exact hit, otherwise the path and the chosen template.
func (m Match) DetectionMethod() string {
	switch m.Method {
	case MethodExact:
		return m.Template.Name
	case MethodHeuristic:
		return "heuristic:" + m.Template.Name
	default:
		return string(MethodDefault)
	}
}

// Scorer rates how well a screenshot's features fit a template.
type Scorer interface {
	Score(f imaging.Features, t Template) float64
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(f imaging.Features, t Template) float64

func (fn ScorerFunc) Score(f imaging.Features, t Template) float64 { return fn(f, t) }

// FeatureScorer awards Weight points per agreeing coarse feature: dark vs
// light background, presence of player controls, and (when the template
// recorded one) a perceptual hash within HashDistance bits.
type FeatureScorer struct {
	Weight       float64
	HashDistance int
}

// DefaultScorer is the scorer used when none is configured.
var DefaultScorer = FeatureScorer{Weight: 10, HashDistance: 6}

func (s FeatureScorer) Score(f imaging.Features, t Template) float64 {
	var score float64
	if f.IsDark == t.Features.IsDarkBackground {
		score += s.Weight
	}
	if f.HasControls == t.Features.HasPlayerControls {
		score += s.Weight
	}
	if t.Features.PerceptualHash != "" && f.PerceptualHash != "" {
		if d := imaging.HammingDistance(f.PerceptualHash, t.Features.PerceptualHash); d >= 0 && d <= s.HashDistance {
			score += s.Weight
		}
	}
	return score
}

// CatalogSource supplies the built-in layouts in tie-break order.
type CatalogSource interface {
	Templates() []Template
}

// Matcher picks a layout for a screenshot.
type Matcher struct {
	store   Store
	catalog CatalogSource
	scorer  Scorer
	log     zerolog.Logger
}

// NewMatcher creates a matcher. store and catalog may be nil; scorer nil
// means DefaultScorer.
func NewMatcher(store Store, catalog CatalogSource, scorer Scorer, log zerolog.Logger) *Matcher {
	if scorer == nil {
		scorer = DefaultScorer
	}
	return &Matcher{
		store:   store,
		catalog: catalog,
		scorer:  scorer,
		log:     log.With().Str("component", "template-matcher").Logger(),
	}
}

// Match returns the best layout for features. A nil features value means
// extraction failed and yields the default template. Store errors are
// logged and degrade to the heuristic path instead of failing the request.
func (m *Matcher) Match(ctx context.Context, f *imaging.Features) Match {
	if f == nil {
		return Match{Template: DefaultTemplate(), Method: MethodDefault}
	}

	storeMissed := false
	if m.store != nil && f.ContentHash != "" {
		t, err := m.store.FindByHash(ctx, f.ContentHash)
		switch {
		case err != nil:
			m.log.Warn().Err(err).Str("hash", f.ContentHash).Msg("template lookup failed, scoring heuristically")
		case t != nil:
			m.log.Debug().Str("template", t.Name).Msg("exact template hit")
			return Match{Template: *t, Method: MethodExact}
		default:
			storeMissed = true
		}
	}

	candidates := m.candidates(ctx)
	best, bestScore := -1, 0.0
	for i, t := range candidates {
		s := m.scorer.Score(*f, t)
		// Strictly greater: the first listed template wins ties.
		if s > bestScore {
			best, bestScore = i, s
		}
	}
	if best < 0 {
		return Match{Template: DefaultTemplate(), Method: MethodDefault, StoreMissed: storeMissed}
	}

	m.log.Debug().
		Str("template", candidates[best].Name).
		Float64("score", bestScore).
		Int("candidates", len(candidates)).
		Msg("heuristic template match")
	return Match{Template: candidates[best], Method: MethodHeuristic, Score: bestScore, StoreMissed: storeMissed}
}

// candidates lists the catalog first, then seeded (non-auto) templates
// from the store that are not already in the catalog.
func (m *Matcher) candidates(ctx context.Context) []Template {
	var out []Template
	seen := make(map[string]bool)
	if m.catalog != nil {
		for _, t := range m.catalog.Templates() {
			out = append(out, t)
			seen[t.Name] = true
		}
	}
	if m.store == nil {
		return out
	}
	stored, err := m.store.List(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("template list failed, scoring catalog only")
		return out
	}
	for _, t := range stored {
		if t.IsAuto() || seen[t.Name] {
			continue
		}
		out = append(out, t)
		seen[t.Name] = true
	}
	return out
}
