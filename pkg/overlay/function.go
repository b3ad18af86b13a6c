package overlay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/adclient"
	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/datatable"
	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/observability"
	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/timerange"
)

// FunctionName is the expression function name registered with the pipeline.
const FunctionName = "overlay_anomalies"

// VisDataType is the pipeline type tag of [VisData].
const VisDataType = "vis_data"

const (
	tracerName = "adplugin/overlay"
	spanName   = "overlay.run"
)

// ErrInvalidSearchContext indicates the serialized context argument is not valid JSON.
var ErrInvalidSearchContext = errors.New("overlay: invalid search context")

// Fetcher retrieves the anomalous results of one detector. [adclient.Client] implements it.
type Fetcher interface {
	Fetch(ctx context.Context, detectorID string, startMs, endMs int64) ([]adclient.Record, error)
}

// VisData is the value flowing in and out of the function: a chart table,
// its configuration and the declared x-axis and series columns.
type VisData struct {
	Type    string            `json:"type"              yaml:"type"`
	Table   *datatable.Table  `json:"table"             yaml:"table"`
	Config  VisConfig         `json:"config"            yaml:"config"`
	Binding datatable.Binding `json:"binding,omitzero"  yaml:"binding,omitempty"`
}

// Arguments are the function arguments as declared to the registry.
type Arguments struct {
	DetectorID string `json:"detectorId"`
	// Context is an optional serialized [SearchContext].
	Context string `json:"context,omitempty"`
}

// SearchContext is the query state a visualization carries along.
type SearchContext struct {
	Query     any                  `json:"query,omitempty"`
	Filters   []any                `json:"filters,omitempty"`
	TimeRange *timerange.TimeRange `json:"timeRange,omitempty"`
}

// ParseSearchContext decodes a serialized context. An empty string yields a zero context.
func ParseSearchContext(raw string) (SearchContext, error) {
	var sc SearchContext

	if raw == "" {
		return sc, nil
	}

	err := json.Unmarshal([]byte(raw), &sc)
	if err != nil {
		return SearchContext{}, fmt.Errorf("%w: %w", ErrInvalidSearchContext, err)
	}

	return sc, nil
}

// ExecutionContext is what the pipeline runtime knows about the current render.
type ExecutionContext struct {
	TimeRange *timerange.TimeRange
	// Now anchors relative expressions. Zero means time.Now.
	Now time.Time
}

// FunctionDeps holds injectable dependencies of [Function].
type FunctionDeps struct {
	// Fetcher is required.
	Fetcher Fetcher

	// Logger is optional. Nil uses slog default.
	Logger *slog.Logger

	// Metrics is optional. Nil disables RED metrics.
	Metrics *observability.REDMetrics

	// Counts is optional. Nil disables anomaly counters.
	Counts *observability.OverlayMetrics

	// Tracer is optional. Nil uses the global tracer provider.
	Tracer trace.Tracer
}

// Function is the overlay pipeline entry. It keeps no per-call state and is
// safe for concurrent use when its Fetcher is.
type Function struct {
	fetcher Fetcher
	logger  *slog.Logger
	metrics *observability.REDMetrics
	counts  *observability.OverlayMetrics
	tracer  trace.Tracer
}

// NewFunction creates the pipeline entry.
func NewFunction(deps FunctionDeps) *Function {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	return &Function{
		fetcher: deps.Fetcher,
		logger:  logger,
		metrics: deps.Metrics,
		counts:  deps.Counts,
		tracer:  tracer,
	}
}

// Run overlays the detector's anomalies on input. When the detector id is
// empty or no time range resolves, input is returned unchanged and nothing is
// fetched. Fetch and config errors are returned as is.
func (f *Function) Run(ctx context.Context, input VisData, args Arguments, exec ExecutionContext) (VisData, error) {
	if args.DetectorID == "" {
		f.logger.DebugContext(ctx, "anomaly overlay skipped", "reason", "no detector id")

		return input, nil
	}

	sc, err := ParseSearchContext(args.Context)
	if err != nil {
		return VisData{}, err
	}

	bounds, reason := f.resolveBounds(sc, exec)
	if reason != "" {
		f.logger.DebugContext(ctx, "anomaly overlay skipped", "reason", reason)

		return input, nil
	}

	start := time.Now()

	if f.metrics != nil {
		done := f.metrics.TrackInflight(ctx, FunctionName)
		defer done()
	}

	ctx, span := f.tracer.Start(ctx, spanName,
		trace.WithAttributes(attribute.String("detector_id", args.DetectorID)))
	defer span.End()

	out, fetched, matched, err := f.augment(ctx, input, args.DetectorID, bounds)

	status := observability.StatusOK
	if err != nil {
		status = observability.StatusError

		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	if f.metrics != nil {
		f.metrics.RecordRequest(ctx, FunctionName, status, time.Since(start))
	}

	if err != nil {
		return VisData{}, err
	}

	span.SetAttributes(
		attribute.Int("anomalies", fetched),
		attribute.Int("matched", matched),
	)

	f.counts.RecordOverlay(ctx, fetched, matched)

	f.logger.InfoContext(ctx, "anomalies overlaid",
		"detector_id", args.DetectorID, "anomalies", fetched, "matched", matched)

	return out, nil
}

// resolveBounds picks the context time range over the execution one. A
// non-empty reason means no bounds are available.
func (f *Function) resolveBounds(sc SearchContext, exec ExecutionContext) (timerange.Bounds, string) {
	tr := exec.TimeRange
	if sc.TimeRange != nil {
		tr = sc.TimeRange
	}

	if tr == nil {
		return timerange.Bounds{}, "no time range"
	}

	now := exec.Now
	if now.IsZero() {
		now = time.Now()
	}

	bounds, err := timerange.Resolve(*tr, now)
	if err != nil {
		return timerange.Bounds{}, "unresolved time range: " + err.Error()
	}

	return bounds, ""
}

func (f *Function) augment(
	ctx context.Context, input VisData, detectorID string, bounds timerange.Bounds,
) (out VisData, fetched, matched int, err error) {
	anomalies, err := f.fetcher.Fetch(ctx, detectorID, bounds.MinMillis(), bounds.MaxMillis())
	if err != nil {
		return VisData{}, 0, 0, fmt.Errorf("fetch anomalies: %w", err)
	}

	table, matched, err := Merge(input.Table, anomalies, input.Binding)
	if err != nil {
		return VisData{}, len(anomalies), 0, fmt.Errorf("merge anomalies: %w", err)
	}

	config, err := PatchDimensions(input.Config, table)
	if err != nil {
		return VisData{}, len(anomalies), matched, fmt.Errorf("patch dimensions: %w", err)
	}

	typ := input.Type
	if typ == "" {
		typ = VisDataType
	}

	return VisData{Type: typ, Table: table, Config: config, Binding: input.Binding}, len(anomalies), matched, nil
}
