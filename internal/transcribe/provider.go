// Package transcribe turns snippet audio into text through a
// speech-to-text provider.
package transcribe

import "context"

// Provider is the interface for speech-to-text backends.
type Provider interface {
	Transcribe(ctx context.Context, audioPath string, opts TranscribeOpts) (*Response, error)
	Name() string  // "google", "whisper"
	Model() string // model identifier for logs
}

// TranscribeOpts are per-request options. Zero-value fields are left to
// the provider's defaults.
type TranscribeOpts struct {
	Language   string // BCP-47 tag, e.g. "en-US"
	SampleRate int    // Hz; 0 = provider default
	Prompt     string // domain vocabulary hint, when the provider supports it
}

// Response is the common transcription result from any provider.
type Response struct {
	Text     string
	Language string
	Duration float64 // audio duration in seconds, when reported
	Words    []Word  // nil if provider doesn't return word timestamps
}

// Word is a timestamped word from any STT provider.
type Word struct {
	Word  string
	Start float64 // seconds
	End   float64 // seconds
}
