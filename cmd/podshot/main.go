package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/petar554/podshot"
	"github.com/petar554/podshot/internal/api"
	"github.com/petar554/podshot/internal/catalog"
	"github.com/petar554/podshot/internal/config"
	"github.com/petar554/podshot/internal/database"
	"github.com/petar554/podshot/internal/events"
	"github.com/petar554/podshot/internal/metrics"
	"github.com/petar554/podshot/internal/ocr"
	"github.com/petar554/podshot/internal/pipeline"
	"github.com/petar554/podshot/internal/snippet"
	"github.com/petar554/podshot/internal/storage"
	"github.com/petar554/podshot/internal/template"
	"github.com/petar554/podshot/internal/transcribe"
	"github.com/petar554/podshot/internal/vision"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

var version = "dev"

func main() {
	startTime := time.Now()

	var overrides config.Overrides
	flag.StringVar(&overrides.EnvFile, "env-file", "", "path to .env file (default .env)")
	flag.StringVar(&overrides.HTTPAddr, "listen", "", "HTTP listen address (overrides HTTP_ADDR)")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
	flag.StringVar(&overrides.DatabaseURL, "database-url", "", "PostgreSQL URL (overrides DATABASE_URL)")
	flag.StringVar(&overrides.SnippetDir, "snippet-dir", "", "snippet directory (overrides SNIPPET_DIR)")
	flag.StringVar(&overrides.CatalogFile, "catalog", "", "template catalog file (overrides TEMPLATE_CATALOG_FILE)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	// Config
	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Str("env", cfg.AppEnv).Msg("podshot starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, dir := range []string{cfg.UploadDir, cfg.SnippetDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatal().Err(err).Str("dir", dir).Msg("failed to create directory")
		}
	}

	// Template store: PostgreSQL when configured, otherwise in memory
	var (
		store  template.Store
		db     *database.DB
		pinger api.Pinger
		pool   *pgxpool.Pool
	)
	if cfg.DatabaseURL != "" {
		dbLog := log.With().Str("component", "database").Logger()
		db, err = database.Connect(ctx, cfg.DatabaseURL, dbLog)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()
		if err := db.InitSchema(ctx, podshot.SchemaSQL); err != nil {
			log.Fatal().Err(err).Msg("failed to initialize schema")
		}
		if err := db.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to run migrations")
		}
		store = database.NewTemplateStore(db)
		pinger = db
		pool = db.Pool
	} else {
		log.Warn().Msg("DATABASE_URL not set, templates are kept in memory")
		store = template.NewMemoryStore()
	}

	// Template catalog
	tplCatalog := template.NewCatalog(log)
	if cfg.TemplateCatalogFile != "" {
		if err := tplCatalog.LoadFile(cfg.TemplateCatalogFile); err != nil {
			log.Fatal().Err(err).Str("path", cfg.TemplateCatalogFile).Msg("failed to load template catalog")
		}
		tplCatalog.OnReload(func(ts []template.Template) {
			if n, err := template.Seed(ctx, store, ts); err != nil {
				log.Warn().Err(err).Msg("template seeding after reload failed")
			} else if n > 0 {
				log.Info().Int("seeded", n).Msg("templates seeded after reload")
			}
		})
		if err := tplCatalog.Watch(ctx); err != nil {
			log.Warn().Err(err).Msg("template catalog hot reload disabled")
		}
	}
	if n, err := template.Seed(ctx, store, tplCatalog.Templates()); err != nil {
		log.Warn().Err(err).Msg("template seeding failed")
	} else if n > 0 {
		log.Info().Int("seeded", n).Msg("templates seeded")
	}
	matcher := template.NewMatcher(store, tplCatalog, nil, log)

	// OCR
	tesseract := ocr.NewTesseract(cfg.TesseractPath)
	tesseractFound := tesseract.Check()
	if !tesseractFound {
		log.Warn().Str("path", cfg.TesseractPath).Msg("tesseract not found, OCR will return empty fields")
	}
	recognizer := ocr.NewRecognizer(tesseract, cfg.TesseractLang, cfg.Timeouts.OCR,
		log.With().Str("component", "ocr").Logger())

	// Vision fallback
	var model vision.Model
	if cfg.GeminiAPIKey != "" {
		model = vision.NewGeminiClient(cfg.GeminiURL, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.Timeouts.Vision)
		log.Info().Str("model", cfg.GeminiModel).Msg("vision fallback enabled")
	} else {
		log.Info().Msg("GEMINI_API_KEY not set, vision fallback disabled")
	}
	visionResolver := vision.NewResolver(model, cfg.Timeouts.Vision,
		log.With().Str("component", "vision").Logger())

	// Catalog
	httpClient := &http.Client{}
	resolver := catalog.NewResolver(
		catalog.NewITunesClient(cfg.ITunesSearchURL, cfg.ITunesSearchLimit, cfg.Timeouts.Catalog),
		catalog.NewGofeedFetcher(httpClient, "podshot/"+version),
		catalog.Options{
			DefaultLanguage: cfg.DefaultLanguage,
			SearchTimeout:   cfg.Timeouts.Catalog,
			FeedTimeout:     cfg.Timeouts.Feed,
		},
		log.With().Str("component", "catalog").Logger(),
	)

	// Snippet extraction
	ffmpegFound := snippet.CheckFFmpeg(cfg.FFmpegPath)
	if !ffmpegFound {
		log.Warn().Str("path", cfg.FFmpegPath).Msg("ffmpeg not found, snippet extraction will fail")
	}
	extractor := snippet.NewExtractor(httpClient, snippet.Options{
		FFmpegPath: cfg.FFmpegPath,
		Lead:       cfg.SnippetLead,
		Duration:   cfg.SnippetDuration,
		TempDir:    cfg.UploadDir,
		MaxBytes:   int64(cfg.MaxAudioMB) << 20,
	}, log.With().Str("component", "snippet").Logger())

	// Transcription
	var provider transcribe.Provider
	switch cfg.STTProvider {
	case "google":
		if cfg.GoogleSTTAPIKey != "" {
			provider = transcribe.NewGoogleClient(cfg.GoogleSTTURL, cfg.GoogleSTTAPIKey, cfg.GoogleSTTModel, cfg.Timeouts.Transcribe)
		}
	case "whisper":
		if cfg.WhisperURL != "" {
			provider = transcribe.NewWhisperClient(cfg.WhisperURL, cfg.WhisperModel, cfg.WhisperAPIKey, cfg.Timeouts.Transcribe)
		}
	}
	transcriptionStatus := ""
	if provider != nil {
		transcriptionStatus = provider.Name()
		log.Info().Str("provider", provider.Name()).Str("model", provider.Model()).Msg("transcription enabled")
	} else {
		log.Warn().Str("provider", cfg.STTProvider).Msg("transcription not configured, snippets will carry the fallback text")
	}
	transcriber := transcribe.NewTranscriber(provider, snippet.SampleRate, cfg.Timeouts.Transcribe,
		log.With().Str("component", "transcribe").Logger())

	// Snippet storage
	storeLog := log.With().Str("component", "storage").Logger()
	snippets, services, err := storage.New(cfg.S3, storage.Options{
		Dir:       cfg.SnippetDir,
		PublicURL: cfg.PublicURL,
		Retention: cfg.SnippetRetention,
	}, storeLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize snippet storage")
	}
	for _, svc := range services {
		svc.Start()
	}
	log.Info().Str("type", snippets.Type()).Msg("snippet storage ready")

	// MQTT events
	var publisher events.Publisher = events.Nop{}
	var mqttConn api.ConnStatus
	if cfg.MQTTBrokerURL != "" {
		mqtt, err := events.Connect(events.Options{
			BrokerURL: cfg.MQTTBrokerURL,
			ClientID:  cfg.MQTTClientID,
			Topic:     cfg.MQTTTopic,
			Username:  cfg.MQTTUsername,
			Password:  cfg.MQTTPassword,
			Log:       log.With().Str("component", "mqtt").Logger(),
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to mqtt broker")
		}
		defer mqtt.Close()
		publisher = mqtt
		mqttConn = mqtt
	}

	// Pipeline
	pipe := pipeline.New(pipeline.Deps{
		Matcher:     matcher,
		Recognizer:  recognizer,
		Vision:      visionResolver,
		Catalog:     resolver,
		Extractor:   extractor,
		Transcriber: transcriber,
		Snippets:    snippets,
		Templates:   store,
		Events:      publisher,
	}, pipeline.Options{
		TempDir:         cfg.UploadDir,
		DownloadTimeout: cfg.Timeouts.Download,
		ExtractTimeout:  cfg.Timeouts.Extract,
		RequestTimeout:  cfg.Timeouts.Request,
	}, log)

	prometheus.MustRegister(metrics.NewCollector(pool, pipe, tplCatalog))

	// HTTP Server
	httpLog := log.With().Str("component", "http").Logger()
	srv := api.NewServer(api.ServerOptions{
		Config:    cfg,
		Processor: pipe,
		Templates: store,
		Catalog:   tplCatalog,
		Snippets:  snippets,
		Health: api.HealthDeps{
			Database:      pinger,
			MQTT:          mqttConn,
			Tools:         map[string]bool{"tesseract": tesseractFound, "ffmpeg": ffmpegFound},
			Vision:        visionResolver.Enabled(),
			Transcription: transcriptionStatus,
			SnippetStore:  snippets.Type(),
		},
		Version:   version,
		StartTime: startTime,
		Log:       httpLog,
	})

	// Start HTTP server in background
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Graceful shutdown with 10s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
	if err := pipe.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("pending events dropped")
	}
	for i := len(services) - 1; i >= 0; i-- {
		services[i].Stop()
	}

	log.Info().Msg("podshot stopped")
}
