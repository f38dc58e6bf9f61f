package ocr

import (
	"context"
	"image"
	"sort"
	"time"

	"github.com/petar554/podshot/internal/imaging"
	"github.com/petar554/podshot/internal/region"
	"github.com/petar554/podshot/internal/timestamp"
	"github.com/rs/zerolog"
)

// Recognizer maps region crops to Fields.
type Recognizer struct {
	engine  Engine
	lang    string
	timeout time.Duration
	log     zerolog.Logger
}

// NewRecognizer creates a Recognizer. timeout bounds each engine call;
// zero means no per-call bound beyond ctx.
func NewRecognizer(engine Engine, lang string, timeout time.Duration, log zerolog.Logger) *Recognizer {
	return &Recognizer{engine: engine, lang: lang, timeout: timeout, log: log}
}

// profileFor picks the recognition profile for a region name.
func (r *Recognizer) profileFor(name string) Profile {
	if name == region.Timestamp {
		return TimestampProfile(r.lang)
	}
	return TextProfile(r.lang)
}

// RecognizeFields runs OCR over every crop and assembles Fields.
// Engine failures are soft: the region reads as empty and the rest of the
// batch continues. When no crop yields any text, full is read instead.
func (r *Recognizer) RecognizeFields(ctx context.Context, crops map[string]region.Crop, full image.Image) Fields {
	texts := make(map[string]string, len(crops))
	for _, name := range cropNames(crops) {
		if ctx.Err() != nil {
			break
		}
		texts[name] = r.read(ctx, name, crops[name].Image, r.profileFor(name))
	}

	f := fieldsFromTexts(texts)

	if !anyText(texts) && full != nil && ctx.Err() == nil {
		r.log.Debug().Msg("no text from regions, reading full image")
		fullText := r.read(ctx, "full", full, FullImageProfile(r.lang))
		f = splitLines(fullText)
		f.Timestamp = timestamp.Find(fullText)
	}
	return f
}

// fieldsFromTexts assembles Fields from per-region OCR output.
func fieldsFromTexts(texts map[string]string) Fields {
	f := Fields{
		Podcast: joinLines(texts[region.PodcastName]),
		Episode: joinLines(texts[region.EpisodeName]),
	}

	// Only a generic playback bar: guess names by line position.
	_, hasPodcast := texts[region.PodcastName]
	_, hasEpisode := texts[region.EpisodeName]
	if !hasPodcast && !hasEpisode {
		f = splitLines(texts[region.PlaybackBar])
	}

	// Timestamp crops are a hint; any region may carry the time.
	for _, name := range []string{region.Timestamp, region.PlaybackBar, region.EpisodeName, region.PodcastName} {
		if ts := timestamp.Find(texts[name]); ts != "" {
			f.Timestamp = ts
			break
		}
	}
	if f.Timestamp == "" {
		for _, name := range sortedKeys(texts) {
			if ts := timestamp.Find(texts[name]); ts != "" {
				f.Timestamp = ts
				break
			}
		}
	}
	return f
}

// splitLines applies the positional heuristic for unlabeled text: the
// first title-like line is the episode, the second the show. Lines that
// are only a time or a progress readout are ignored.
func splitLines(text string) Fields {
	var titles []string
	for _, l := range lines(text) {
		if isTimeLine(l) {
			continue
		}
		titles = append(titles, l)
	}
	var f Fields
	if len(titles) > 0 {
		f.Episode = titles[0]
	}
	if len(titles) > 1 {
		f.Podcast = titles[1]
	}
	return f
}

// isTimeLine reports whether a line holds nothing but digits, separators
// and spaces, as in "12:03  -45:10".
func isTimeLine(l string) bool {
	for _, c := range l {
		switch {
		case c >= '0' && c <= '9', c == ':', c == '-', c == ' ', c == '/', c == '.':
		default:
			return false
		}
	}
	return true
}

func (r *Recognizer) read(ctx context.Context, name string, img image.Image, p Profile) string {
	data, err := imaging.EncodePNG(img)
	if err != nil {
		r.log.Warn().Err(err).Str("region", name).Msg("encode region failed")
		return ""
	}

	callCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := r.engine.Recognize(callCtx, data, p)
	if err != nil {
		r.log.Warn().Err(err).Str("region", name).Msg("ocr failed, treating region as empty")
		return ""
	}
	r.log.Debug().
		Str("region", name).
		Int("psm", p.PageSegMode).
		Int("chars", len(text)).
		Dur("took", time.Since(start)).
		Msg("region recognized")
	return text
}

func anyText(texts map[string]string) bool {
	for _, t := range texts {
		if t != "" {
			return true
		}
	}
	return false
}

func cropNames(crops map[string]region.Crop) []string {
	names := make([]string, 0, len(crops))
	for n := range crops {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
