// Package api exposes the job pipeline over HTTP.
//
// Implemented routes:
//
//	POST   /v1/jobs
//	GET    /v1/jobs
//	GET    /v1/jobs/{jobID}
//	DELETE /v1/jobs/{jobID}
//	POST   /v1/jobs/{jobID}/cancel
//	GET    /v1/jobs/{jobID}/stream   (server-sent events)
//	GET    /v1/jobs/{jobID}/ws       (websocket)
//	GET    /v1/stats                 (bearer secret)
//	POST   /v1/cron/sweep            (bearer secret)
//	GET    /healthz
//
// Callers identify themselves with the X-User-ID or X-Session-ID header.
// A job created by an identified caller is invisible to everyone else.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/aagnone3/toolqueue/engine"
	"github.com/aagnone3/toolqueue/scope"
	"github.com/aagnone3/toolqueue/stream"
)

// Owner headers. The user header wins when both are present.
const (
	HeaderUserID    = "X-User-ID"
	HeaderSessionID = "X-Session-ID"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	maxBodyBytes     = 1 << 20
)

// API serves the HTTP surface of an Engine.
type API struct {
	eng        *engine.Engine
	logger     *slog.Logger
	cronSecret string
	keepAlive  time.Duration
}

// Option configures an API.
type Option func(*API)

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// WithCronSecret sets the bearer token required by the operator endpoints,
// POST /v1/cron/sweep and GET /v1/stats. Without it both reject every
// request.
func WithCronSecret(secret string) Option {
	return func(a *API) { a.cronSecret = secret }
}

// WithKeepAlive sets the idle interval between stream keep-alives.
func WithKeepAlive(d time.Duration) Option {
	return func(a *API) { a.keepAlive = d }
}

// New creates an API over eng.
func New(eng *engine.Engine, opts ...Option) *API {
	a := &API{
		eng:       eng,
		logger:    eng.Logger(),
		keepAlive: stream.DefaultKeepAlive,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(a.logRequests)
	r.Use(middleware.Recoverer)
	a.RegisterRoutes(r)
	return r
}

// RegisterRoutes mounts every route on r.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", a.healthz)

	r.Route("/v1", func(r chi.Router) {
		r.With(a.captureOwner).Route("/jobs", func(r chi.Router) {
			r.Post("/", a.submitJob)
			r.Get("/", a.listJobs)
			r.Route("/{jobID}", func(r chi.Router) {
				r.Get("/", a.getJob)
				r.Delete("/", a.deleteJob)
				r.Post("/cancel", a.cancelJob)
				r.Get("/stream", a.streamSSE)
				r.Get("/ws", a.streamWebSocket)
			})
		})
		r.With(a.requireCronSecret).Get("/stats", a.stats)
		r.With(a.requireCronSecret).Post("/cron/sweep", a.sweep)
	})
}

// captureOwner stores the caller identity on the request context so that
// submissions record it and reads can be checked against it.
func (a *API) captureOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := scope.Owner{
			UserID:    r.Header.Get(HeaderUserID),
			SessionID: r.Header.Get(HeaderSessionID),
		}
		next.ServeHTTP(w, r.WithContext(scope.WithOwner(r.Context(), owner)))
	})
}

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		a.logger.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
