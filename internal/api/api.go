// Package api exposes the chat pipeline, chart validation, direct data
// queries and usage analytics over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/aixgo-dev/sentichat/internal/orchestration"
	"github.com/aixgo-dev/sentichat/pkg/activity"
	"github.com/aixgo-dev/sentichat/pkg/chart"
	"github.com/aixgo-dev/sentichat/pkg/dataset"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// DefaultMaxQueryLength is the longest accepted message, in characters.
const DefaultMaxQueryLength = 2000

// Pipeline handles one chat message.
type Pipeline interface {
	Handle(ctx context.Context, req orchestration.Request) (*orchestration.Result, error)
}

// Analytics is the activity store behind the analytics endpoints.
type Analytics interface {
	SafeRecord(r activity.Record)
	Snapshot() activity.Report
}

// API holds the handlers and their collaborators.
type API struct {
	pipeline       Pipeline
	data           dataset.Store
	analytics      Analytics
	renderer       chart.Renderer
	maxQueryLength int
	corsOrigins    []string
	requestTimeout time.Duration
	now            func() time.Time
	logger         logrus.FieldLogger
}

// Option configures the API
type Option func(*API)

// WithRenderer enables images on /api/generate-chart.
func WithRenderer(r chart.Renderer) Option {
	return func(a *API) {
		a.renderer = r
	}
}

// WithMaxQueryLength sets the longest accepted message.
func WithMaxQueryLength(n int) Option {
	return func(a *API) {
		a.maxQueryLength = n
	}
}

// WithCORSOrigins sets the allowed origins. "*" allows any origin.
func WithCORSOrigins(origins []string) Option {
	return func(a *API) {
		a.corsOrigins = origins
	}
}

// WithRequestTimeout bounds each request.
func WithRequestTimeout(d time.Duration) Option {
	return func(a *API) {
		a.requestTimeout = d
	}
}

// WithClock sets the clock used for export file names.
func WithClock(now func() time.Time) Option {
	return func(a *API) {
		a.now = now
	}
}

// WithLogger sets the logger
func WithLogger(l logrus.FieldLogger) Option {
	return func(a *API) {
		a.logger = l
	}
}

// New creates the API.
func New(pipeline Pipeline, data dataset.Store, analytics Analytics, opts ...Option) *API {
	a := &API{
		pipeline:       pipeline,
		data:           data,
		analytics:      analytics,
		maxQueryLength: DefaultMaxQueryLength,
		corsOrigins:    []string{"*"},
		requestTimeout: 60 * time.Second,
		now:            time.Now,
		logger:         logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Router returns the HTTP handler with middleware and routes.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(Instrument(a.logger))
	r.Use(chiMiddleware.Recoverer)
	r.Use(CORS(a.corsOrigins))
	if a.requestTimeout > 0 {
		r.Use(chiMiddleware.Timeout(a.requestTimeout))
	}

	a.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers the /api routes on r.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", a.Health)
		r.Post("/chat", a.Chat)
		r.Post("/generate-chart", a.GenerateChart)
		r.Post("/query-data", a.QueryData)
		r.Get("/analytics", a.Analytics)
		r.Get("/analytics/export", a.ExportAnalytics)
	})
}

// NewHTTPServer wraps handler in a server with the timeouts used by serve.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
