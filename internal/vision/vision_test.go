package vision

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		want   Fields
		wantOK bool
	}{
		{
			name:   "plain json",
			text:   `{"podcast": "Hardcore History", "episode": "Kings of Kings", "timestamp": "1:02:03"}`,
			want:   Fields{Podcast: "Hardcore History", Episode: "Kings of Kings", Timestamp: "1:02:03"},
			wantOK: true,
		},
		{
			name:   "wrapped in prose and fences",
			text:   "Sure! Here you go:\n```json\n{\"timestamp\": \"12:01\", \"episode\": \"\", \"podcast\": \"Radiolab\"}\n```\nHope it helps.",
			want:   Fields{Podcast: "Radiolab", Timestamp: "12:01"},
			wantOK: true,
		},
		{
			name:   "malformed json falls back per key",
			text:   `{"podcast": "The Daily", "episode": "Ep 5", "timestamp": "3:10",}`,
			want:   Fields{Podcast: "The Daily", Episode: "Ep 5", Timestamp: "3:10"},
			wantOK: true,
		},
		{
			name:   "braces inside string values",
			text:   `Here you go: {"podcast": "The {Weekly} Show", "episode": "Ep 1", "timestamp": "12:34"}`,
			want:   Fields{Podcast: "The {Weekly} Show", Episode: "Ep 1", Timestamp: "12:34"},
			wantOK: true,
		},
		{
			name:   "stray brace before the object",
			text:   "Note: { ignore this.\n{\"podcast\": \"Serial\", \"episode\": \"S1\", \"timestamp\": \"0:45\"}",
			want:   Fields{Podcast: "Serial", Episode: "S1", Timestamp: "0:45"},
			wantOK: true,
		},
		{
			name:   "unterminated object",
			text:   `{"podcast": "Serial", "episode": 12, "timestamp": "0:45"`,
			want:   Fields{},
			wantOK: false,
		},
		{
			name:   "per-key recovery with a non-string value",
			text:   `{"podcast": "Serial", "episode": 12, "timestamp": "0:45" oops}`,
			want:   Fields{Podcast: "Serial", Timestamp: "0:45"},
			wantOK: true,
		},
		{
			name:   "placeholders blanked",
			text:   `{"podcast": "Unknown", "episode": "N/A", "timestamp": "  "}`,
			want:   Fields{},
			wantOK: true,
		},
		{
			name:   "block missing a key is ignored",
			text:   `{"podcast": "x", "episode": "y"}`,
			wantOK: false,
		},
		{
			name:   "no block",
			text:   "I cannot read this image.",
			wantOK: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Parse(tt.text)
			if ok != tt.wantOK {
				t.Errorf("ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("Parse = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestReconcile(t *testing.T) {
	primary := Fields{Podcast: "", Episode: "X", Timestamp: "1:00"}
	fallback := Fields{Podcast: "Y", Episode: "Z", Timestamp: ""}

	got := Reconcile(primary, fallback)
	want := Fields{Podcast: "Y", Episode: "X", Timestamp: "1:00"}
	if got != want {
		t.Errorf("Reconcile = %+v, want %+v", got, want)
	}
}

type stubModel struct {
	reply  string
	err    error
	prompt string
	calls  int
}

func (s *stubModel) Generate(_ context.Context, prompt string, _ []byte, _ string) (string, error) {
	s.calls++
	s.prompt = prompt
	return s.reply, s.err
}

func TestResolver(t *testing.T) {
	m := &stubModel{reply: `{"podcast":"P","episode":"E","timestamp":"1:00"}`}
	r := NewResolver(m, time.Second, zerolog.Nop())

	got := r.Resolve(context.Background(), []byte{1}, "image/png")
	if got != (Fields{Podcast: "P", Episode: "E", Timestamp: "1:00"}) {
		t.Errorf("Resolve = %+v", got)
	}
	for _, key := range []string{`"podcast"`, `"episode"`, `"timestamp"`, "empty string"} {
		if !strings.Contains(m.prompt, key) {
			t.Errorf("prompt missing %s", key)
		}
	}
}

func TestResolver_SoftFailure(t *testing.T) {
	r := NewResolver(&stubModel{err: errors.New("deadline exceeded")}, 0, zerolog.Nop())
	if got := r.Resolve(context.Background(), []byte{1}, "image/png"); got != (Fields{}) {
		t.Errorf("Resolve on error = %+v, want empty", got)
	}

	var disabled *Resolver
	if disabled.Enabled() {
		t.Error("nil resolver should be disabled")
	}
	if got := NewResolver(nil, 0, zerolog.Nop()).Resolve(context.Background(), nil, ""); got != (Fields{}) {
		t.Errorf("disabled Resolve = %+v", got)
	}
}

func TestGeminiClient_Generate(t *testing.T) {
	var gotReq geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if r.URL.Path != "/models/gemini-test:generateContent" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "secret" {
			t.Errorf("key = %q", r.URL.Query().Get("key"))
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"{\"podcast\":"},{"text":"\"A\"}"}]},"finishReason":"STOP"}]}`))
	}))
	defer srv.Close()

	c := NewGeminiClient(srv.URL, "secret", "gemini-test", 5*time.Second)
	text, err := c.Generate(context.Background(), "describe", []byte("png-bytes"), "image/png")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != `{"podcast":"A"}` {
		t.Errorf("text = %q", text)
	}

	parts := gotReq.Contents[0].Parts
	if len(parts) != 2 || parts[0].Text != "describe" || parts[1].InlineData == nil {
		t.Fatalf("parts = %+v", parts)
	}
	if parts[1].InlineData.MimeType != "image/png" {
		t.Errorf("mime = %q", parts[1].InlineData.MimeType)
	}
	if parts[1].InlineData.Data != base64.StdEncoding.EncodeToString([]byte("png-bytes")) {
		t.Error("image not base64-encoded inline")
	}
}

func TestGeminiClient_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("key") {
		case "quota":
			http.Error(w, `{"error":"quota"}`, http.StatusTooManyRequests)
		default:
			w.Write([]byte(`{"candidates":[]}`))
		}
	}))
	defer srv.Close()

	if _, err := NewGeminiClient(srv.URL, "", "", time.Second).Generate(context.Background(), "p", []byte{1}, "image/png"); err == nil {
		t.Error("expected error without api key")
	}
	if _, err := NewGeminiClient(srv.URL, "quota", "", time.Second).Generate(context.Background(), "p", []byte{1}, "image/png"); err == nil || !strings.Contains(err.Error(), "429") {
		t.Errorf("expected status error, got %v", err)
	}
	if _, err := NewGeminiClient(srv.URL, "k", "", time.Second).Generate(context.Background(), "p", []byte{1}, "image/png"); err == nil {
		t.Error("expected error with no candidates")
	}
}
