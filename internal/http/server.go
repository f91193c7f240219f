// Package http exposes a dashboard session as a JSON API with a websocket
// snapshot stream.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"budgetviz/internal/core"
	"budgetviz/internal/dashboard"
	"budgetviz/internal/drilldown"
	applog "budgetviz/internal/log"
	"budgetviz/internal/middleware/ratelimit"
	"budgetviz/internal/middleware/security"
	"budgetviz/internal/middleware/trace"
	"budgetviz/internal/upstream"
)

// Dashboard is the session the API drives.
type Dashboard interface {
	Snapshot() dashboard.Snapshot
	UpdateFilters(ctx context.Context, patch core.FilterPatch) (core.FilterCriteria, error)
	Upload(ctx context.Context, req upstream.UploadRequest) (core.DatasetMetadata, error)
	Select(ctx context.Context, category, timePeriod string) (drilldown.Snapshot, error)
	ClearSelection() drilldown.Snapshot
	Refresh() error
}

// ReportExporter writes the current aggregate somewhere and returns a reference to it.
type ReportExporter interface {
	Export(ctx context.Context) (string, error)
}

type Options struct {
	Addr              string
	MaxUploadBytes    int64
	RequestsPerMinute int
	ExportTimeout     time.Duration
	// Exporter is nil when Sheets export is not configured.
	Exporter ReportExporter
	// Ready reports dependency health for /readyz.
	Ready func(ctx context.Context) error
}

const defaultMaxUploadBytes = 32 << 20

type Server struct {
	http.Server
	dash     Dashboard
	opts     Options
	hub      *Hub
	limiter  *ratelimit.Limiter
	detector *security.Detector
	tracer   *trace.Middleware
	logger   *slog.Logger

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(dash Dashboard, opts Options, logger *applog.Logger) *Server {
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	if opts.ExportTimeout <= 0 {
		opts.ExportTimeout = 30 * time.Second
	}
	httpLogger := logger.WithComponent(applog.ComponentHTTP)

	s := &Server{
		dash:     dash,
		opts:     opts,
		hub:      NewHub(dash.Snapshot, logger.Slog()),
		limiter:  ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RequestsPerMinute}),
		detector: security.NewDetector(logger.Slog()),
		logger:   httpLogger.Slog(),
	}
	s.tracer = trace.NewMiddleware(s.detector.ExtractClientIP, logger.Slog())

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(s.detector.Middleware)
	r.Use(s.tracer.Middleware)
	r.Use(applog.Middleware(httpLogger))
	r.Use(applog.RequestIDMiddleware(trace.FromRequest))
	r.Use(security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware)

	r.Get("/healthz", handleHealth)
	r.Get("/readyz", s.handleReady)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.limiter.Middleware(s.detector.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded, please try again later")
		}))
		r.Get("/state", s.handleState)
		r.Patch("/filters", s.handleUpdateFilters)
		r.Post("/upload", s.handleUpload)
		r.Post("/selection", s.handleSelect)
		r.Delete("/selection", s.handleClearSelection)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/export", s.handleExport)
		r.Get("/stream", s.hub.ServeHTTP)
	})

	s.Server = http.Server{
		Addr:              opts.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Stream is the websocket hub; subscribe it to the session to push snapshots.
func (s *Server) Stream() *Hub {
	return s.hub
}

// Shutdown closes stream clients, stops the limiter and drains the server.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.hub.Close()
		s.limiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.opts.Ready(ctx); err != nil {
			s.logger.WarnContext(ctx, "Readiness check failed", applog.FieldError, err)
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
