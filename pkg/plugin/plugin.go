// Package plugin wires the anomaly detection plugin into its host: the
// application entry, the overlay expression function and the services both
// depend on.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/adclient"
	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/expressions"
	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/observability"
	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/overlay"
	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/savedobjects"
)

// Application identity.
const (
	AppID    = "anomaly-detection-dashboards"
	AppTitle = "Anomaly Detection"
	AppOrder = 5000
)

// OpenSearchCategory is the navigation group of OpenSearch plugins.
var OpenSearchCategory = Category{ID: "opensearch", Label: "OpenSearch Plugins", Order: 2000}

// ErrMissingDependency indicates a lifecycle call without a required host capability.
var ErrMissingDependency = errors.New("plugin: missing dependency")

// CoreSetup is what the host offers during setup.
type CoreSetup struct {
	Applications *Applications
	// HTTP is the client used to reach the anomaly detection API.
	HTTP overlay.Fetcher
}

// SetupDeps are the plugins this one depends on during setup.
type SetupDeps struct {
	Expressions *expressions.Registry
}

// CoreStart is what the host offers once started.
type CoreStart struct {
	Search adclient.Doer
}

// StartDeps are the plugins this one depends on once started.
type StartDeps struct {
	VisAugmenter *savedobjects.Loader
}

// Deps holds optional observability dependencies.
type Deps struct {
	Logger  *slog.Logger
	Metrics *observability.REDMetrics
	Counts  *observability.OverlayMetrics
	Tracer  trace.Tracer
}

// Plugin is the anomaly detection plugin.
type Plugin struct {
	services *Services
	deps     Deps
	logger   *slog.Logger
}

// New creates the plugin. Nothing is registered until Setup.
func New(deps Deps) *Plugin {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Plugin{services: &Services{}, deps: deps, logger: logger}
}

// Services exposes the capabilities set during Setup and Start.
func (p *Plugin) Services() *Services {
	return p.services
}

// Setup registers the application and the overlay function and stores the
// client. A failed Setup leaves nothing registered.
func (p *Plugin) Setup(core CoreSetup, deps SetupDeps) error {
	if core.Applications == nil || core.HTTP == nil {
		return fmt.Errorf("%w: core applications and http client", ErrMissingDependency)
	}

	if deps.Expressions == nil {
		return fmt.Errorf("%w: expressions registry", ErrMissingDependency)
	}

	err := core.Applications.Register(App{
		ID:       AppID,
		Title:    AppTitle,
		Category: OpenSearchCategory,
		Order:    AppOrder,
		Load:     p.loadDashboard,
	})
	if err != nil {
		return fmt.Errorf("register application: %w", err)
	}

	fn := overlay.NewFunction(overlay.FunctionDeps{
		Fetcher: servicesFetcher{services: p.services},
		Logger:  p.logger,
		Metrics: p.deps.Metrics,
		Counts:  p.deps.Counts,
		Tracer:  p.deps.Tracer,
	})

	err = deps.Expressions.Register(fn.Definition())
	if err != nil {
		core.Applications.Unregister(AppID)

		return fmt.Errorf("register %s: %w", overlay.FunctionName, err)
	}

	p.services.SetClient(core.HTTP)

	p.logger.Debug("plugin set up", "app", AppID, "function", overlay.FunctionName)

	return nil
}

// Start stores the search transport and the augment-vis loader.
func (p *Plugin) Start(core CoreStart, deps StartDeps) error {
	if core.Search == nil || deps.VisAugmenter == nil {
		return fmt.Errorf("%w: search and vis augmenter", ErrMissingDependency)
	}

	p.services.SetSearch(core.Search)
	p.services.SetSavedObjectLoader(deps.VisAugmenter)

	return nil
}

func (p *Plugin) loadDashboard(_ context.Context) (Page, error) {
	p.logger.Debug("loading application page", "app", AppID)

	return &dashboardPage{services: p.services}, nil
}
