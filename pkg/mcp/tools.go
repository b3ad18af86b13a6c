package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/overlay"
	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/timerange"
)

// Tool name constants.
const (
	ToolNameOverlay = "overlay_anomalies"
	ToolNameLinks   = "augment_vis_links"
)

// Input size limits.
const (
	// MaxVisDataBytes is the maximum encoded size of vis_data (8 MB).
	MaxVisDataBytes = 8 << 20
)

// Sentinel errors for tool input validation.
var (
	// ErrEmptyVisData indicates the vis_data parameter is missing.
	ErrEmptyVisData = errors.New("vis_data parameter is required")
	// ErrVisDataTooLarge indicates vis_data exceeds the size limit.
	ErrVisDataTooLarge = errors.New("vis_data exceeds maximum size")
	// ErrHalfTimeRange indicates only one of time_from and time_to was given.
	ErrHalfTimeRange = errors.New("time_from and time_to must be given together")
	// ErrEmptyVisID indicates the vis_id parameter is empty.
	ErrEmptyVisID = errors.New("vis_id parameter is required and must not be empty")
)

// Input types (auto-generate JSON schemas via struct tags).

// OverlayInput is the input schema for the overlay_anomalies tool.
type OverlayInput struct {
	Context    string         `json:"context,omitempty"   jsonschema:"optional serialized search context; its timeRange wins over time_from/time_to"`
	DetectorID string         `json:"detector_id"         jsonschema:"anomaly detector id; empty returns vis_data unchanged"`
	TimeFrom   string         `json:"time_from,omitempty" jsonschema:"range start, e.g. now-24h or 2024-03-01T00:00:00Z"`
	TimeTo     string         `json:"time_to,omitempty"   jsonschema:"range end, e.g. now"`
	VisData    map[string]any `json:"vis_data,omitempty"  jsonschema:"chart data: {type, table:{columns, rows}, config:{dimensions}, binding}"`
}

// LinksInput is the input schema for the augment_vis_links tool.
type LinksInput struct {
	VisID string `json:"vis_id" jsonschema:"visualization id"`
}

// Output type (used as structured output for generic AddTool).

// ToolOutput is a generic wrapper for tool results.
type ToolOutput struct {
	Data any `json:"data"`
}

// Result helpers.

// errorResult builds a CallToolResult with isError set.
func errorResult(err error) (*mcpsdk.CallToolResult, ToolOutput, error) {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: err.Error()},
		},
		IsError: true,
	}, ToolOutput{}, nil
}

// jsonResult builds a CallToolResult with JSON-encoded content.
func jsonResult(value any) (*mcpsdk.CallToolResult, ToolOutput, error) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return errorResult(fmt.Errorf("encode result: %w", err))
	}

	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: string(data)},
		},
	}, ToolOutput{Data: value}, nil
}

func (s *Server) handleOverlay(
	ctx context.Context, _ *mcpsdk.CallToolRequest, input OverlayInput,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	data, err := decodeVisData(input.VisData)
	if err != nil {
		return errorResult(err)
	}

	exec := overlay.ExecutionContext{Now: s.now()}

	switch {
	case input.TimeFrom != "" && input.TimeTo != "":
		exec.TimeRange = &timerange.TimeRange{From: input.TimeFrom, To: input.TimeTo}
	case input.TimeFrom != "" || input.TimeTo != "":
		return errorResult(ErrHalfTimeRange)
	}

	out, err := s.function.Run(ctx, data, overlay.Arguments{DetectorID: input.DetectorID, Context: input.Context}, exec)
	if err != nil {
		return errorResult(err)
	}

	return jsonResult(out)
}

func (s *Server) handleLinks(
	_ context.Context, _ *mcpsdk.CallToolRequest, input LinksInput,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if input.VisID == "" {
		return errorResult(ErrEmptyVisID)
	}

	links, err := s.loader.FindByVis(input.VisID)
	if err != nil {
		return errorResult(err)
	}

	return jsonResult(links)
}

// decodeVisData converts the schemaless tool argument into [overlay.VisData].
func decodeVisData(raw map[string]any) (overlay.VisData, error) {
	if len(raw) == 0 {
		return overlay.VisData{}, ErrEmptyVisData
	}

	encoded, err := json.Marshal(raw)
	if err != nil {
		return overlay.VisData{}, fmt.Errorf("encode vis_data: %w", err)
	}

	if len(encoded) > MaxVisDataBytes {
		return overlay.VisData{}, fmt.Errorf("%w: %d bytes (max %d)", ErrVisDataTooLarge, len(encoded), MaxVisDataBytes)
	}

	var data overlay.VisData

	err = json.Unmarshal(encoded, &data)
	if err != nil {
		return overlay.VisData{}, fmt.Errorf("decode vis_data: %w", err)
	}

	return data, nil
}
