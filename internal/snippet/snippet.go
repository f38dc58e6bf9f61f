// Package snippet downloads episode audio and cuts a short speech-ready
// clip around a timestamp.
package snippet

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Output format expected by the speech recognizer.
const (
	SampleRate = 16000
	Channels   = 1
	Codec      = "flac"
	Ext        = ".flac"
)

// Window is the slice of audio to keep.
type Window struct {
	Start    time.Duration
	Duration time.Duration
}

// WindowAt starts lead before ts, clamped at zero.
func WindowAt(ts, lead, duration time.Duration) Window {
	start := ts - lead
	if start < 0 {
		start = 0
	}
	return Window{Start: start, Duration: duration}
}

// String renders the window as "start-end" in seconds.
func (w Window) String() string {
	return fmt.Sprintf("%s-%s", seconds(w.Start), seconds(w.Start+w.Duration))
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}

var (
	ffmpegOnce  sync.Once
	ffmpegFound bool
)

// CheckFFmpeg reports whether ffmpeg is in PATH. The result is cached.
func CheckFFmpeg(path string) bool {
	ffmpegOnce.Do(func() {
		if path == "" {
			path = "ffmpeg"
		}
		_, err := exec.LookPath(path)
		ffmpegFound = err == nil
	})
	return ffmpegFound
}

// runFunc runs an external command and returns its combined output.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Options configure an Extractor.
type Options struct {
	FFmpegPath string
	Lead       time.Duration
	Duration   time.Duration
	TempDir    string
	// MaxBytes caps the downloaded file size; zero means no cap.
	MaxBytes int64
}

// Extractor downloads source audio and transcodes the snippet window.
type Extractor struct {
	client *http.Client
	opts   Options
	run    runFunc
	log    zerolog.Logger
}

// NewExtractor creates an Extractor. client may be nil.
func NewExtractor(client *http.Client, opts Options, log zerolog.Logger) *Extractor {
	if client == nil {
		client = &http.Client{}
	}
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.Duration <= 0 {
		opts.Duration = 10 * time.Second
	}
	if opts.Lead < 0 {
		opts.Lead = 0
	}
	return &Extractor{client: client, opts: opts, run: runCommand, log: log}
}

// Duration is the configured snippet length.
func (e *Extractor) Duration() time.Duration { return e.opts.Duration }

// Download streams audioURL into a temp file. The caller must call
// cleanup, which is safe to call on every path.
func (e *Extractor) Download(ctx context.Context, audioURL string) (path string, cleanup func(), err error) {
	noop := func() {}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return "", noop, fmt.Errorf("create request: %w", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return "", noop, fmt.Errorf("download audio: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", noop, fmt.Errorf("download audio: status %d", resp.StatusCode)
	}

	f, err := os.CreateTemp(e.opts.TempDir, "podshot-audio-*"+sourceExt(audioURL))
	if err != nil {
		return "", noop, fmt.Errorf("create temp file: %w", err)
	}
	path = f.Name()
	cleanup = func() { os.Remove(path) }

	var body io.Reader = resp.Body
	if e.opts.MaxBytes > 0 {
		body = io.LimitReader(resp.Body, e.opts.MaxBytes+1)
	}
	n, err := io.Copy(f, body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		cleanup()
		return "", noop, fmt.Errorf("download audio: %w", err)
	}
	if e.opts.MaxBytes > 0 && n > e.opts.MaxBytes {
		cleanup()
		return "", noop, fmt.Errorf("download audio: larger than %d bytes", e.opts.MaxBytes)
	}

	e.log.Debug().Str("path", path).Int64("bytes", n).Msg("audio downloaded")
	return path, cleanup, nil
}

// Cut transcodes the window around ts from src into dst as mono 16 kHz
// FLAC.
func (e *Extractor) Cut(ctx context.Context, src string, ts time.Duration, dst string) (Window, error) {
	w := WindowAt(ts, e.opts.Lead, e.opts.Duration)
	out, err := e.run(ctx, e.opts.FFmpegPath, ffmpegArgs(src, dst, w)...)
	if err != nil {
		os.Remove(dst)
		if ctx.Err() != nil {
			return w, fmt.Errorf("ffmpeg: %w", ctx.Err())
		}
		return w, fmt.Errorf("ffmpeg command failed: %w: %s", err, lastLine(out))
	}
	if fi, err := os.Stat(dst); err != nil || fi.Size() == 0 {
		os.Remove(dst)
		return w, fmt.Errorf("ffmpeg produced no output for window %s", w)
	}
	return w, nil
}

// Extract downloads audioURL, cuts the window around ts into dst and
// removes the downloaded file whether or not the cut succeeded.
func (e *Extractor) Extract(ctx context.Context, audioURL string, ts time.Duration, dst string) (Window, error) {
	src, cleanup, err := e.Download(ctx, audioURL)
	defer cleanup()
	if err != nil {
		return Window{}, err
	}
	return e.Cut(ctx, src, ts, dst)
}

func ffmpegArgs(src, dst string, w Window) []string {
	return []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-ss", seconds(w.Start),
		"-t", seconds(w.Duration),
		"-i", src,
		"-vn",
		"-ac", strconv.Itoa(Channels),
		"-ar", strconv.Itoa(SampleRate),
		"-c:a", Codec,
		dst,
	}
}

// sourceExt keeps the remote extension so ffmpeg can sniff the container.
func sourceExt(u string) string {
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	slash := strings.LastIndex(u, "/")
	dot := strings.LastIndex(u, ".")
	if dot <= slash || len(u)-dot > 6 {
		return ""
	}
	return strings.ToLower(u[dot:])
}

func lastLine(out []byte) string {
	s := strings.TrimSpace(string(out))
	if i := strings.LastIndex(s, "\n"); i >= 0 {
		return s[i+1:]
	}
	return s
}
