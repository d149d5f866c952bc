// Package api exposes the footfall service over HTTP under /api.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"procodus.dev/footfall/internal/footfall"
	"procodus.dev/footfall/pkg/metrics"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds the dependencies of the HTTP router.
type Config struct {
	Logger  *slog.Logger
	Service *footfall.Service
	// Observers serves the websocket endpoint at /ws. Optional.
	Observers http.Handler
	// Store is pinged by the health endpoint. Optional.
	Store   Pinger
	Metrics *metrics.HTTPMetrics // Optional metrics
	// IngestMetrics counts readings received over HTTP. Optional.
	IngestMetrics *metrics.ServiceMetrics
	// MetricsHandler serves /metrics. Optional.
	MetricsHandler http.Handler
	Clock          footfall.Clock
	// Environment "development" exposes internal error text in 500 bodies.
	Environment string
	CORSOrigins []string
	// RateLimitRequests per RateLimitWindow per client IP. Zero selects the
	// defaults; negative disables limiting.
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

type handler struct {
	logger      *slog.Logger
	service     *footfall.Service
	store       Pinger
	ingest      *metrics.ServiceMetrics
	clock       footfall.Clock
	startedAt   time.Time
	environment string
}

// NewRouter builds the HTTP handler of the service.
func NewRouter(cfg *Config) (http.Handler, error) {
	if cfg == nil {
		return nil, errors.New("api config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Service == nil {
		return nil, errors.New("service cannot be nil")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = footfall.SystemClock{}
	}

	h := &handler{
		logger:      cfg.Logger.With("component", "api"),
		service:     cfg.Service,
		store:       cfg.Store,
		ingest:      cfg.IngestMetrics,
		clock:       clock,
		startedAt:   clock.Now(),
		environment: cfg.Environment,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(h.accessLog)
	r.Use(h.recoverer)
	r.Use(instrument(cfg.Metrics))
	r.Use(corsMiddleware(cfg.CORSOrigins))
	r.Use(h.rateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

	r.NotFound(h.routeNotFound)
	r.MethodNotAllowed(h.routeNotFound)

	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}
	if cfg.Observers != nil {
		r.Method(http.MethodGet, "/ws", cfg.Observers)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.health)

		r.Route("/sensor-data", func(r chi.Router) {
			r.Post("/", h.postReading)
			r.Get("/", h.listReadings)
			r.Get("/{sensorID}", h.readingsBySensor)
		})

		r.Route("/analytics", func(r chi.Router) {
			r.Get("/", h.analytics)
			r.Get("/realtime", h.realtime)
			r.Get("/summary", h.summary)
		})

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", h.listDevices)
			r.Post("/", h.registerDevice)
			r.Get("/status/summary", h.statusSummary)
			r.Get("/{sensorID}", h.getDevice)
			r.Put("/{sensorID}/status", h.setStatus)
		})
	})

	return r, nil
}

func (h *handler) routeNotFound(w http.ResponseWriter, _ *http.Request) {
	h.writeMessage(w, http.StatusNotFound, "Route not found")
}
