// Package events publishes pipeline outcomes to MQTT for downstream
// consumers.
package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// Event types.
const (
	TypeCompleted = "completed"
	TypeFailed    = "failed"
)

// Event summarizes one pipeline run.
type Event struct {
	Type            string    `json:"type"`
	RequestID       string    `json:"request_id,omitempty"`
	Time            time.Time `json:"time"`
	DurationMs      int64     `json:"duration_ms"`
	GuessedTitle    string    `json:"guessed_title,omitempty"`
	EpisodeName     string    `json:"episode_name,omitempty"`
	Timestamp       string    `json:"timestamp,omitempty"`
	FeedURL         string    `json:"feed_url,omitempty"`
	AudioURL        string    `json:"audio_url,omitempty"`
	SnippetURL      string    `json:"snippet_url,omitempty"`
	DetectionMethod string    `json:"detection_method,omitempty"`
	Transcribed     bool      `json:"transcribed"`
	Stage           string    `json:"stage,omitempty"`
	Error           string    `json:"error,omitempty"`
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Topic returns the topic an event is published on: {base}/{type}.
func Topic(base string, e Event) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		base = "podshot/results"
	}
	return base + "/" + e.Type
}

func encode(e Event) ([]byte, error) {
	return json.Marshal(e)
}
