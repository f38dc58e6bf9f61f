// Package pipeline runs a screenshot through layout matching, field
// recognition, catalog lookup, snippet extraction and transcription.
package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/petar554/podshot/internal/catalog"
	"github.com/petar554/podshot/internal/events"
	"github.com/petar554/podshot/internal/imaging"
	"github.com/petar554/podshot/internal/metrics"
	"github.com/petar554/podshot/internal/ocr"
	"github.com/petar554/podshot/internal/region"
	"github.com/petar554/podshot/internal/snippet"
	"github.com/petar554/podshot/internal/storage"
	"github.com/petar554/podshot/internal/template"
	"github.com/petar554/podshot/internal/timestamp"
	"github.com/petar554/podshot/internal/transcribe"
	"github.com/petar554/podshot/internal/vision"
	"github.com/rs/zerolog"
)

// TemplateMatcher picks the layout for a screenshot.
type TemplateMatcher interface {
	Match(ctx context.Context, f *imaging.Features) template.Match
}

// FieldRecognizer reads fields out of cropped regions.
type FieldRecognizer interface {
	RecognizeFields(ctx context.Context, crops map[string]region.Crop, full image.Image) ocr.Fields
}

// VisionResolver fills fields from the whole screenshot. Resolve never
// fails; an unusable reply is empty Fields.
type VisionResolver interface {
	Enabled() bool
	Resolve(ctx context.Context, image []byte, mimeType string) ocr.Fields
}

// CatalogResolver maps a show to its feed and the feed to an audio URL.
type CatalogResolver interface {
	ResolveFeed(ctx context.Context, show, episode string) (term, feedURL string, err error)
	ResolveAudio(ctx context.Context, feedURL string) (*catalog.Resolution, error)
}

// SnippetExtractor downloads source audio and cuts the snippet window.
type SnippetExtractor interface {
	Download(ctx context.Context, audioURL string) (path string, cleanup func(), err error)
	Cut(ctx context.Context, src string, ts time.Duration, dst string) (snippet.Window, error)
	Duration() time.Duration
}

// Transcriber converts a snippet to text. On failure it returns a sentinel
// transcript together with the error.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, language string) (string, error)
}

// Deps are the collaborators of a Pipeline. Vision, Templates and Events
// may be nil.
type Deps struct {
	Matcher     TemplateMatcher
	Recognizer  FieldRecognizer
	Vision      VisionResolver
	Catalog     CatalogResolver
	Extractor   SnippetExtractor
	Transcriber Transcriber
	Snippets    storage.SnippetStore
	// Templates receives layouts synthesized for unrecognized screenshots.
	Templates template.Store
	Events    events.Publisher
}

// Options tune a Pipeline.
type Options struct {
	TempDir         string
	DownloadTimeout time.Duration
	ExtractTimeout  time.Duration
	RequestTimeout  time.Duration
}

// Input is one screenshot submission.
type Input struct {
	Image     []byte
	Filename  string
	RequestID string
}

// Result is the success payload.
type Result struct {
	Success         bool    `json:"success"`
	GuessedTitle    string  `json:"guessedTitle"`
	EpisodeName     string  `json:"episodeName"`
	Timestamp       string  `json:"timestamp"`
	TimestampKnown  bool    `json:"timestampKnown"`
	FeedURL         string  `json:"feedUrl"`
	AudioURL        string  `json:"audioUrl"`
	SnippetURL      string  `json:"snippetUrl"`
	Transcription   string  `json:"transcription"`
	SnippetDuration string  `json:"snippetDuration"`
	SnippetInfo     string  `json:"snippetInfo"`
	DetectionMethod string  `json:"detectionMethod"`
	States          []State `json:"-"`
}

// Pipeline is safe for concurrent use; each Run owns its own temp files.
type Pipeline struct {
	deps     Deps
	opts     Options
	log      zerolog.Logger
	now      func() time.Time
	inFlight atomic.Int64
	wg       sync.WaitGroup
}

// New creates a Pipeline.
func New(deps Deps, opts Options, log zerolog.Logger) *Pipeline {
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	return &Pipeline{
		deps: deps,
		opts: opts,
		log:  log.With().Str("component", "pipeline").Logger(),
		now:  time.Now,
	}
}

// InFlight returns the number of runs in progress.
func (p *Pipeline) InFlight() int { return int(p.inFlight.Load()) }

// Shutdown waits for pending event publications.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run carries the per-request state of one pipeline run.
type run struct {
	in       Input
	log      zerolog.Logger
	trace    trace
	start    time.Time
	img      image.Image
	format   string
	features *imaging.Features
	match    template.Match
	crops    map[string]region.Crop
	fields   ocr.Fields
	vision   bool
	seconds  int
	term     string
	res      *catalog.Resolution
	result   Result
}

// Run processes one screenshot. Errors are *ValidationError,
// *ExtractionError or *StageError.
func (p *Pipeline) Run(ctx context.Context, in Input) (*Result, error) {
	p.inFlight.Add(1)
	defer p.inFlight.Add(-1)

	if p.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.RequestTimeout)
		defer cancel()
	}

	r := &run{
		in:    in,
		start: p.now(),
		log:   p.log.With().Str("request_id", in.RequestID).Str("file", in.Filename).Logger(),
	}
	r.trace.enter(StateReceived)

	err := p.execute(ctx, r)
	if err != nil {
		stage := FailedStage(err)
		r.log.Error().Err(err).Str("stage", stage).Str("after", string(r.trace.current())).Msg("pipeline failed")
		r.trace.enter(StateFailed)
		metrics.PipelineRunsTotal.WithLabelValues("failed", stage).Inc()
		p.publish(r, events.Event{Type: events.TypeFailed, Stage: stage, Error: err.Error()})
		return nil, err
	}

	r.trace.enter(StateCompleted)
	r.result.Success = true
	r.result.States = append([]State(nil), r.trace.states...)
	metrics.PipelineRunsTotal.WithLabelValues("completed", "").Inc()
	r.log.Info().
		Str("show", r.result.GuessedTitle).
		Str("timestamp", r.result.Timestamp).
		Str("method", r.result.DetectionMethod).
		Dur("took", p.now().Sub(r.start)).
		Msg("pipeline completed")
	p.publish(r, events.Event{
		Type:            events.TypeCompleted,
		GuessedTitle:    r.result.GuessedTitle,
		EpisodeName:     r.result.EpisodeName,
		Timestamp:       r.result.Timestamp,
		FeedURL:         r.result.FeedURL,
		AudioURL:        r.result.AudioURL,
		SnippetURL:      r.result.SnippetURL,
		DetectionMethod: r.result.DetectionMethod,
		Transcribed:     r.result.Transcription != "" && r.result.Transcription != transcribe.Unavailable,
	})
	res := r.result
	return &res, nil
}

func (p *Pipeline) execute(ctx context.Context, r *run) error {
	if len(r.in.Image) == 0 {
		return &ValidationError{Err: ErrNoScreenshot}
	}

	p.matchTemplate(ctx, r)
	p.extractRegions(r)
	if err := p.recognize(ctx, r); err != nil {
		return err
	}
	p.resolveTimestamp(r)

	if err := p.resolveCatalog(ctx, r); err != nil {
		return err
	}
	return p.produceSnippet(ctx, r)
}

// matchTemplate decodes the screenshot and picks a layout. An image that
// cannot be decoded still runs: default layout, no crops, vision only.
func (p *Pipeline) matchTemplate(ctx context.Context, r *run) {
	defer metrics.StageTimer(StageTemplateMatch)()

	img, format, err := imaging.Decode(bytes.NewReader(r.in.Image))
	if err != nil {
		r.log.Warn().Err(err).Msg("screenshot decode failed, using default layout")
	} else if f, err := imaging.Analyze(img); err != nil {
		r.log.Warn().Err(err).Msg("feature extraction failed, using default layout")
		r.img, r.format = img, format
	} else {
		r.img, r.format, r.features = img, format, &f
	}

	r.match = p.deps.Matcher.Match(ctx, r.features)
	metrics.TemplateMatchesTotal.WithLabelValues(string(r.match.Method)).Inc()
	r.log.Debug().
		Str("template", r.match.Template.Name).
		Str("method", string(r.match.Method)).
		Float64("score", r.match.Score).
		Msg("template matched")
	r.trace.enter(StateTemplateMatched)

	if r.match.Method == template.MethodDefault && r.match.StoreMissed {
		p.rememberLayout(ctx, r)
	}
}

// rememberLayout stores an auto template keyed by the screenshot hash so
// the next identical screenshot is an exact hit. Failure is logged only.
func (p *Pipeline) rememberLayout(ctx context.Context, r *run) {
	if p.deps.Templates == nil || r.features == nil {
		return
	}
	t, err := p.deps.Templates.Insert(ctx, template.NewTemplate{
		Name:     template.AutoName(p.now()),
		Hash:     r.features.ContentHash,
		Features: template.FeaturesFrom(*r.features),
		Regions:  r.match.Template.Regions,
	})
	if err != nil {
		r.log.Warn().Err(err).Msg("failed to store auto template")
		return
	}
	r.log.Info().Str("template", t.Name).Int64("id", t.ID).Msg("stored auto template")
}

// extractRegions crops each region of the layout. Degenerate boxes are
// skipped and logged.
func (p *Pipeline) extractRegions(r *run) {
	defer metrics.StageTimer(StageRegions)()

	if r.img != nil {
		crops, skipped := region.Extract(r.img, r.match.Template.Regions)
		for _, s := range skipped {
			r.log.Warn().Str("region", s.Name).Str("reason", s.Reason).Msg("region skipped")
		}
		r.crops = crops
	}
	r.trace.enter(StateRegionsExtracted)
}

// recognize runs OCR, falls back to vision for missing fields and fails
// when no show name survives.
func (p *Pipeline) recognize(ctx context.Context, r *run) error {
	stop := metrics.StageTimer(StageOCR)
	r.fields = p.deps.Recognizer.RecognizeFields(ctx, r.crops, r.img)
	stop()
	// OCR soft-fails to empty fields; a dead context is reported as such.
	if err := ctx.Err(); err != nil {
		return r.fail(StageOCR, err)
	}
	r.trace.enter(StateFieldsRecognized)

	if !r.fields.Complete() {
		r.trace.enter(StateFieldsIncomplete)
		if p.deps.Vision != nil && p.deps.Vision.Enabled() {
			stop := metrics.StageTimer(StageVision)
			fallback := p.deps.Vision.Resolve(ctx, r.in.Image, p.mimeType(r))
			stop()
			if err := ctx.Err(); err != nil {
				return r.fail(StageVision, err)
			}

			merged := vision.Reconcile(r.fields, fallback)
			r.vision = merged != r.fields
			if r.vision {
				metrics.VisionFallbackTotal.WithLabelValues("filled").Inc()
			} else {
				metrics.VisionFallbackTotal.WithLabelValues("empty").Inc()
			}
			r.fields = merged
		}
		r.trace.enter(StateVisionFallbackApplied)
	}

	r.log.Debug().
		Str("podcast", r.fields.Podcast).
		Str("episode", r.fields.Episode).
		Str("timestamp", r.fields.Timestamp).
		Bool("vision", r.vision).
		Msg("fields recognized")

	if r.fields.Podcast == "" {
		return &ExtractionError{Reason: "no valid show name"}
	}
	return nil
}

func (p *Pipeline) mimeType(r *run) string {
	if r.format != "" {
		return imaging.MIMEType(r.format)
	}
	return http.DetectContentType(r.in.Image)
}

func (p *Pipeline) resolveTimestamp(r *run) {
	r.seconds = timestamp.Parse(r.fields.Timestamp)
	r.result.GuessedTitle = r.fields.Podcast
	r.result.EpisodeName = r.fields.Episode
	r.result.Timestamp = timestamp.Format(r.seconds)
	r.result.TimestampKnown = timestamp.Known(r.fields.Timestamp)
	r.result.DetectionMethod = r.match.DetectionMethod()
	if r.vision {
		r.result.DetectionMethod += "+vision"
	}
	r.trace.enter(StateTimestampResolved)
}

func (p *Pipeline) resolveCatalog(ctx context.Context, r *run) error {
	stop := metrics.StageTimer(StageCatalog)
	term, feedURL, err := p.deps.Catalog.ResolveFeed(ctx, r.fields.Podcast, r.fields.Episode)
	stop()
	if err != nil {
		return r.fail(StageCatalog, err)
	}
	r.term = term
	r.result.FeedURL = feedURL
	r.log.Debug().Str("term", term).Str("feed", feedURL).Msg("feed resolved")

	stop = metrics.StageTimer(StageFeed)
	res, err := p.deps.Catalog.ResolveAudio(ctx, feedURL)
	stop()
	if err != nil {
		return r.fail(StageFeed, err)
	}
	r.res = res
	r.result.AudioURL = res.AudioURL
	r.trace.enter(StateFeedResolved)
	return nil
}

// produceSnippet downloads the episode, cuts and stores the snippet, then
// transcribes it. Temp files are removed on every return path.
func (p *Pipeline) produceSnippet(ctx context.Context, r *run) error {
	stop := metrics.StageTimer(StageDownload)
	dctx, cancel := withTimeout(ctx, p.opts.DownloadTimeout)
	src, cleanup, err := p.deps.Extractor.Download(dctx, r.res.AudioURL)
	cancel()
	stop()
	if cleanup != nil {
		defer cleanup()
	}
	if err != nil {
		return r.fail(StageDownload, err)
	}
	r.trace.enter(StateAudioDownloaded)

	key := storage.NewKey(p.now(), snippet.Ext)
	tmp, err := os.CreateTemp(p.opts.TempDir, "podshot-snippet-*"+snippet.Ext)
	if err != nil {
		return r.fail(StageExtract, fmt.Errorf("create snippet file: %w", err))
	}
	dst := tmp.Name()
	tmp.Close()
	defer os.Remove(dst)

	stop = metrics.StageTimer(StageExtract)
	ectx, cancel := withTimeout(ctx, p.opts.ExtractTimeout)
	window, err := p.deps.Extractor.Cut(ectx, src, time.Duration(r.seconds)*time.Second, dst)
	cancel()
	stop()
	if err != nil {
		return r.fail(StageExtract, err)
	}

	data, err := os.ReadFile(dst)
	if err != nil {
		return r.fail(StageStore, fmt.Errorf("read snippet: %w", err))
	}
	if err := p.deps.Snippets.Save(ctx, key, data, storage.ContentTypeFromExt(snippet.Ext)); err != nil {
		return r.fail(StageStore, err)
	}
	url, err := p.deps.Snippets.URL(ctx, key)
	if err != nil {
		return r.fail(StageStore, err)
	}
	r.result.SnippetURL = url
	r.result.SnippetDuration = durationLabel(p.deps.Extractor.Duration())
	r.result.SnippetInfo = snippetInfo(window)
	r.trace.enter(StateSnippetExtracted)

	stop = metrics.StageTimer(StageTranscribe)
	text, err := p.deps.Transcriber.Transcribe(ctx, dst, r.res.Language)
	stop()
	if err != nil {
		metrics.TranscriptionFailuresTotal.Inc()
		r.log.Warn().Err(err).Msg("continuing without transcript")
	}
	r.result.Transcription = text
	r.trace.enter(StateTranscribed)
	return nil
}

func (r *run) fail(stage string, err error) error {
	return &StageError{Stage: stage, State: r.trace.current(), Err: err}
}

// publish sends e in the background; Shutdown waits for it.
func (p *Pipeline) publish(r *run, e events.Event) {
	e.RequestID = r.in.RequestID
	e.Time = p.now()
	e.DurationMs = p.now().Sub(r.start).Milliseconds()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := p.deps.Events.Publish(ctx, e); err != nil {
			p.log.Warn().Err(err).Str("type", e.Type).Msg("event publish failed")
			return
		}
		if _, nop := p.deps.Events.(events.Nop); !nop {
			metrics.EventsPublishedTotal.Inc()
		}
	}()
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func durationLabel(d time.Duration) string {
	s := int(d.Round(time.Second) / time.Second)
	if s == 1 {
		return "1 second"
	}
	return fmt.Sprintf("%d seconds", s)
}

func snippetInfo(w snippet.Window) string {
	start := int(w.Start / time.Second)
	end := int((w.Start + w.Duration) / time.Second)
	return fmt.Sprintf("Snippet from %s to %s (%ss)", timestamp.Format(start), timestamp.Format(end), w.String())
}
