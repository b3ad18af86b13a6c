package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricAnomaliesTotal = "adplugin.overlay.anomalies.total"
	metricOverlaysTotal  = "adplugin.overlay.runs.total"

	attrOutcome = "outcome"

	outcomeMatched = "matched"
	outcomeDropped = "dropped"
)

// OverlayMetrics counts anomalies placed on charts and those falling outside
// every bucket.
type OverlayMetrics struct {
	anomaliesTotal metric.Int64Counter
	runsTotal      metric.Int64Counter
}

// NewOverlayMetrics creates the overlay instruments from mt.
func NewOverlayMetrics(mt metric.Meter) (*OverlayMetrics, error) {
	anomalies, err := mt.Int64Counter(metricAnomaliesTotal,
		metric.WithDescription("Fetched anomalies by outcome (matched to a bucket or dropped)"),
		metric.WithUnit("{anomaly}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricAnomaliesTotal, err)
	}

	runs, err := mt.Int64Counter(metricOverlaysTotal,
		metric.WithDescription("Completed overlay runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricOverlaysTotal, err)
	}

	return &OverlayMetrics{anomaliesTotal: anomalies, runsTotal: runs}, nil
}

// RecordOverlay records one completed overlay. Safe on a nil receiver.
func (om *OverlayMetrics) RecordOverlay(ctx context.Context, fetched, matched int) {
	if om == nil {
		return
	}

	om.runsTotal.Add(ctx, 1)
	om.anomaliesTotal.Add(ctx, int64(matched),
		metric.WithAttributes(attribute.String(attrOutcome, outcomeMatched)))
	om.anomaliesTotal.Add(ctx, int64(max(fetched-matched, 0)),
		metric.WithAttributes(attribute.String(attrOutcome, outcomeDropped)))
}
