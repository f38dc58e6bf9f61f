// Package vision asks a multimodal model for the show, episode and
// timestamp when OCR leaves gaps.
package vision

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/petar554/podshot/internal/ocr"
	"github.com/rs/zerolog"
)

// Fields is shared with the OCR stage so results can be reconciled.
type Fields = ocr.Fields

// Model is a multimodal text generator.
type Model interface {
	Generate(ctx context.Context, prompt string, image []byte, mimeType string) (string, error)
}

// Prompt is the extraction instruction sent with every screenshot.
const Prompt = `This is a screenshot from a podcast player app.
Extract exactly these three fields:
1. "podcast": the name of the podcast show
2. "episode": the title of the episode
3. "timestamp": the current playback position shown on screen (for example 12:34 or 1:02:03)

Respond with ONLY a JSON object with exactly these keys:
{"podcast": "...", "episode": "...", "timestamp": "..."}

If you cannot find a field, use an empty string "" for it.
Never guess and never write placeholder text such as "unknown" or "N/A".`

var (
	// Per-key fallback for blocks that are not valid JSON.
	keyRes = map[string]*regexp.Regexp{
		"podcast":   regexp.MustCompile(`"podcast"\s*:\s*"([^"]*)"`),
		"episode":   regexp.MustCompile(`"episode"\s*:\s*"([^"]*)"`),
		"timestamp": regexp.MustCompile(`"timestamp"\s*:\s*"([^"]*)"`),
	}
)

var placeholders = map[string]bool{
	"unknown":       true,
	"n/a":           true,
	"na":            true,
	"none":          true,
	"null":          true,
	"not available": true,
	"not found":     true,
	"-":             true,
	"...":           true,
}

// Resolver turns a Model reply into Fields.
type Resolver struct {
	model   Model
	timeout time.Duration
	log     zerolog.Logger
}

// NewResolver creates a Resolver. A nil model disables the fallback:
// Resolve then always returns empty fields.
func NewResolver(model Model, timeout time.Duration, log zerolog.Logger) *Resolver {
	return &Resolver{model: model, timeout: timeout, log: log}
}

// Enabled reports whether a model is configured.
func (r *Resolver) Enabled() bool { return r != nil && r.model != nil }

// Resolve never fails: inference errors and unparseable replies yield
// empty Fields.
func (r *Resolver) Resolve(ctx context.Context, image []byte, mimeType string) Fields {
	if !r.Enabled() {
		return Fields{}
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := r.model.Generate(ctx, Prompt, image, mimeType)
	if err != nil {
		r.log.Warn().Err(err).Dur("took", time.Since(start)).Msg("vision call failed")
		return Fields{}
	}
	r.log.Debug().Dur("took", time.Since(start)).Int("chars", len(text)).Msg("vision reply received")

	f, ok := Parse(text)
	if !ok {
		r.log.Warn().Str("reply", truncate(text, 200)).Msg("no JSON object in vision reply")
	}
	return f
}

// Parse extracts Fields from a model reply. The reply may wrap the JSON in
// prose or code fences. ok is false when no usable block was found.
func Parse(text string) (Fields, bool) {
	block := findBlock(text)
	if block == "" {
		return Fields{}, false
	}

	var raw struct {
		Podcast   string `json:"podcast"`
		Episode   string `json:"episode"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal([]byte(block), &raw); err == nil {
		return clean(Fields{Podcast: raw.Podcast, Episode: raw.Episode, Timestamp: raw.Timestamp}), true
	}

	// Malformed JSON: pull each key independently.
	f := Fields{
		Podcast:   matchKey(block, "podcast"),
		Episode:   matchKey(block, "episode"),
		Timestamp: matchKey(block, "timestamp"),
	}
	return clean(f), true
}

// findBlock returns the first balanced {...} span holding all three keys.
// Braces inside quoted strings do not count toward nesting.
func findBlock(text string) string {
	for start := strings.IndexByte(text, '{'); start >= 0; {
		if end := closingBrace(text, start); end > 0 {
			b := text[start : end+1]
			if strings.Contains(b, `"podcast"`) && strings.Contains(b, `"episode"`) && strings.Contains(b, `"timestamp"`) {
				return b
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return ""
}

func closingBrace(text string, start int) int {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func matchKey(block, key string) string {
	m := keyRes[key].FindStringSubmatch(block)
	if m == nil {
		return ""
	}
	return m[1]
}

func clean(f Fields) Fields {
	f.Podcast = blankPlaceholder(f.Podcast)
	f.Episode = blankPlaceholder(f.Episode)
	f.Timestamp = blankPlaceholder(f.Timestamp)
	return f
}

func blankPlaceholder(s string) string {
	s = strings.TrimSpace(s)
	if placeholders[strings.ToLower(s)] {
		return ""
	}
	return s
}

// Reconcile merges two readings field by field: the primary value wins
// whenever it is non-empty.
func Reconcile(primary, fallback Fields) Fields {
	return Fields{
		Podcast:   firstNonEmpty(primary.Podcast, fallback.Podcast),
		Episode:   firstNonEmpty(primary.Episode, fallback.Episode),
		Timestamp: firstNonEmpty(primary.Timestamp, fallback.Timestamp),
	}
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return a
	}
	return b
}
