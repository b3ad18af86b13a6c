// Package httpapi serves the plugin over HTTP: expression execution, the
// application pages, augment-vis links, sample data loading and health probes.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/expressions"
	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/observability"
	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/plugin"
)

const (
	tracerName = "adplugin/http"

	// DefaultMaxBodyBytes caps expression request bodies when Deps.MaxBodyBytes is zero.
	DefaultMaxBodyBytes = 8 << 20
)

// Deps holds the router dependencies.
type Deps struct {
	// Registry executes expression functions. Required.
	Registry *expressions.Registry

	// Applications serves /app/{appID}. Required.
	Applications *plugin.Applications

	// Services gate readiness and back the links routes. Required.
	Services *plugin.Services

	// MetricsHandler serves /metrics. Nil leaves the route unregistered.
	MetricsHandler http.Handler

	// MaxBodyBytes caps request bodies. Zero uses DefaultMaxBodyBytes.
	MaxBodyBytes int64

	// Logger is optional. Nil uses slog default.
	Logger *slog.Logger

	// Metrics is optional. Nil disables RED metrics.
	Metrics *observability.REDMetrics

	// Tracer is optional. Nil uses the global tracer provider.
	Tracer trace.Tracer

	// Now anchors relative time ranges. Nil uses time.Now.
	Now func() time.Time
}

type handler struct {
	registry *expressions.Registry
	apps     *plugin.Applications
	services *plugin.Services
	maxBody  int64
	logger   *slog.Logger
	now      func() time.Time
}

// NewRouter builds the HTTP API.
func NewRouter(deps Deps) http.Handler {
	h := &handler{
		registry: deps.Registry,
		apps:     deps.Applications,
		services: deps.Services,
		maxBody:  deps.MaxBodyBytes,
		logger:   deps.Logger,
		now:      deps.Now,
	}

	if h.maxBody <= 0 {
		h.maxBody = DefaultMaxBodyBytes
	}

	if h.logger == nil {
		h.logger = slog.Default()
	}

	if h.now == nil {
		h.now = time.Now
	}

	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(observability.HTTPMiddleware(tracer, deps.Metrics))

	r.Method(http.MethodGet, "/healthz", observability.HealthHandler())
	r.Method(http.MethodGet, "/readyz", observability.ReadyHandler(h.clientReady, h.loaderReady))

	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/expressions", h.listFunctions)
		r.Post("/expressions/{name}", h.executeFunction)
		r.Post("/sample-data", h.loadSampleData)

		r.Route("/augment-vis", func(r chi.Router) {
			r.Get("/", h.listLinks)
			r.Post("/", h.createLink)
			r.Get("/{id}", h.getLink)
			r.Delete("/{id}", h.deleteLink)
		})
	})

	r.Get("/app/{appID}", h.mountApp)
	r.Get("/app/{appID}/*", h.mountApp)

	return r
}

func (h *handler) clientReady(context.Context) error {
	_, err := h.services.Client()

	return err
}

func (h *handler) loaderReady(context.Context) error {
	_, err := h.services.SavedObjectLoader()

	return err
}
