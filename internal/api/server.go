package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/petar554/podshot/internal/config"
	"github.com/petar554/podshot/internal/metrics"
	"github.com/petar554/podshot/internal/storage"
	"github.com/petar554/podshot/internal/template"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

// ServerOptions are the collaborators the HTTP surface needs.
type ServerOptions struct {
	Config    *config.Config
	Processor ScreenshotProcessor
	Templates template.Store
	Catalog   template.CatalogSource
	Snippets  storage.SnippetStore
	Health    HealthDeps
	Version   string
	StartTime time.Time
	Log       zerolog.Logger
}

func NewServer(opts ServerOptions) *Server {
	cfg := opts.Config
	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(opts.Log))
	r.Use(CORSWithOrigins(cfg.CORSOrigins))
	r.Use(metrics.InstrumentHandler)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("PodShot backend is running..."))
	})
	r.Handle("/metrics", promhttp.Handler())

	screenshots := NewScreenshotHandler(opts.Processor, cfg.MaxUploadMB, cfg.IsDevelopment(), opts.Log)
	screenshots.Routes(r)
	if opts.Snippets != nil {
		NewSnippetsHandler(opts.Snippets).Routes(r)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Health endpoint, no auth
		health := NewHealthHandler(opts.Health, opts.Version, opts.StartTime)
		r.Get("/health", health.ServeHTTP)
		screenshots.Routes(r)

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(BearerAuth(cfg.AuthToken))
			NewTemplatesHandler(opts.Templates, opts.Catalog).Routes(r)
		})
	})

	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: opts.Log,
	}
}

// Handler returns the router, for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
