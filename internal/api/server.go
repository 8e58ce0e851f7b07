package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/vision2struct/internal/config"
	"github.com/JakeFAU/vision2struct/internal/metrics"
	"github.com/JakeFAU/vision2struct/internal/progress"
	"github.com/JakeFAU/vision2struct/internal/scrape"
	"github.com/JakeFAU/vision2struct/internal/store"
)

// Enqueuer accepts queue items; dispatcher.Dispatcher satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, item scrape.QueueItem) error
}

// Canceler stops running or queued jobs; worker.Registry satisfies it.
type Canceler interface {
	Cancel(jobID string) bool
}

// ReadyCheck reports whether a downstream dependency is usable.
type ReadyCheck func(ctx context.Context) error

// Dependencies are the collaborators the handlers use.
type Dependencies struct {
	JobStore scrape.JobStore
	Queue    Enqueuer
	IDGen    scrape.IDGenerator
	Clock    scrape.Clock
	// Progress receives the queued and cancellation events.
	Progress progress.Emitter
	// Broker feeds the SSE endpoint.
	Broker   *progress.Broker
	Canceler Canceler
	// Runs is optional; /runs is only mounted when it is set.
	Runs       store.ProgressRepository
	ReadyCheck ReadyCheck
}

// Server wires HTTP handlers to the dispatcher and stores.
type Server struct {
	router chi.Router
	deps   Dependencies
	cfg    config.Config
	logger *zap.Logger
}

const enqueueTimeout = 5 * time.Second

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Dependencies, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Progress == nil {
		deps.Progress = progress.EmitterFunc(func(progress.Event) {})
	}
	s := &Server{deps: deps, cfg: cfg, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}

		// Streams stay open for the whole job and must not be buffered.
		r.Get("/progress", s.streamProgress)
		r.Get("/progress/{job_id}", s.streamProgress)

		r.Group(func(r chi.Router) {
			if cfg.Server.RequestTimeout > 0 {
				r.Use(timeoutMiddleware(cfg.Server.RequestTimeout))
			}
			r.Post("/scrape", s.submitScrape)
			r.Route("/jobs/{job_id}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Get("/images", s.listImages)
				r.Post("/cancel", s.cancelJob)
			})
			if deps.Runs != nil {
				runs := NewProgressHandler(deps.Runs, logger.Named("runs"))
				r.Get("/runs", runs.ListJobs)
				r.Get("/runs/{job_id}", runs.GetJob)
			}
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.ReadyCheck != nil {
		if err := s.deps.ReadyCheck(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
