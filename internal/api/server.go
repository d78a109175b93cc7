// SPDX-License-Identifier: MIT

// Package api is the wire protocol seam: an HTTP surface renderers
// browse and stream from. The UPnP discovery handshake itself is
// assumed available and lives outside this process.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/trelleck/mediatree/internal/config"
	"github.com/trelleck/mediatree/internal/log"
	"github.com/trelleck/mediatree/internal/renderer"
	"github.com/trelleck/mediatree/internal/sessions"
	"github.com/trelleck/mediatree/internal/tree"
	"github.com/trelleck/mediatree/internal/updateclock"
)

// Detector resolves a request to a renderer profile. Satisfied by
// renderer.Detector; the daemon wraps it so profile edits hot-reload.
type Detector interface {
	Detect(userAgent, remoteAddr string) *renderer.Renderer
}

// Deps are the collaborators the HTTP surface serves from.
type Deps struct {
	Tree     *tree.Tree
	Detector Detector
	Clock    *updateclock.Clock
	Sessions *sessions.Tracker
}

// Server handles content-directory and media requests.
type Server struct {
	cfg    config.HTTPConfig
	deps   Deps
	logger zerolog.Logger
}

// New creates the server.
func New(cfg config.HTTPConfig, deps Deps) *Server {
	return &Server{cfg: cfg, deps: deps, logger: log.WithComponent("api")}
}

// Handler builds the routed handler with the middleware stack.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(s.accessLog)
	if s.cfg.RateLimit > 0 {
		window := s.cfg.RateWindow
		if window <= 0 {
			window = time.Minute
		}
		r.Use(httprate.LimitByIP(s.cfg.RateLimit, window))
	}

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/ctl", func(r chi.Router) {
		r.Get("/browse/{id}", s.handleBrowse)
		r.Get("/meta/{id}", s.handleMeta)
	})
	r.Route("/media/{id}", func(r chi.Router) {
		r.Get("/stream", s.handleStream)
		r.Get("/stream/*", s.handleStream)
		r.Get("/image", s.handleImage)
	})

	return otelhttp.NewHandler(r, "mediatree.api")
}

// requestID assigns every request a correlation id, honouring one sent
// by the client.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(log.ContextWithRequestID(r.Context(), id)))
	})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger := log.WithContext(r.Context(), s.logger)
		logger.Info().
			Str("method", r.Method).
			Str("url", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Int64(log.FieldDuration, time.Since(start).Milliseconds()).
			Str("user_agent", r.UserAgent()).
			Msg("request")
	})
}
