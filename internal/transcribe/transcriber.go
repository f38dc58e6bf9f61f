package transcribe

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Unavailable is returned in place of a transcript when the provider fails
// or hears nothing.
const Unavailable = "Could not transcribe audio."

// ErrNoResults means the provider answered without any transcript.
var ErrNoResults = errors.New("transcription returned no results")

// Transcriber wraps a Provider with a timeout and soft failure.
type Transcriber struct {
	provider   Provider
	timeout    time.Duration
	sampleRate int
	log        zerolog.Logger
}

// NewTranscriber creates a Transcriber. A nil provider makes every call
// return Unavailable.
func NewTranscriber(provider Provider, sampleRate int, timeout time.Duration, log zerolog.Logger) *Transcriber {
	return &Transcriber{provider: provider, timeout: timeout, sampleRate: sampleRate, log: log}
}

// Provider returns the wrapped provider, or nil.
func (t *Transcriber) Provider() Provider { return t.provider }

// Transcribe returns the transcript of audioPath, or Unavailable. The
// error is informational; callers may ignore it.
func (t *Transcriber) Transcribe(ctx context.Context, audioPath, language string) (string, error) {
	if t.provider == nil {
		return Unavailable, errors.New("no transcription provider configured")
	}
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := t.provider.Transcribe(ctx, audioPath, TranscribeOpts{Language: language, SampleRate: t.sampleRate})
	if err == nil && (resp == nil || strings.TrimSpace(resp.Text) == "") {
		err = ErrNoResults
	}
	if err != nil {
		t.log.Warn().Err(err).
			Str("provider", t.provider.Name()).
			Dur("took", time.Since(start)).
			Msg("transcription failed")
		return Unavailable, err
	}

	t.log.Debug().
		Str("provider", t.provider.Name()).
		Str("model", t.provider.Model()).
		Int("chars", len(resp.Text)).
		Dur("took", time.Since(start)).
		Msg("snippet transcribed")
	return resp.Text, nil
}
