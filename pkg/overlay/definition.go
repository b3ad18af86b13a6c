package overlay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/expressions"
)

const (
	argDetectorID = "detectorId"
	argContext    = "context"
)

// ErrInvalidVisData indicates an input that does not decode as [VisData].
var ErrInvalidVisData = errors.New("overlay: decode vis_data")

// Definition describes f to an expression registry.
func (f *Function) Definition() expressions.Definition {
	return expressions.Definition{
		Name:       FunctionName,
		Type:       VisDataType,
		InputTypes: []string{VisDataType},
		Help:       "Overlays a detector's anomalies on a line chart.",
		Args: []expressions.ArgumentOption{
			{
				Name:    argDetectorID,
				Type:    expressions.StringArgument,
				Default: "",
				Help:    "Anomaly detector whose results are overlaid.",
			},
			{
				Name:    argContext,
				Type:    expressions.StringArgument,
				Default: "",
				Help:    "Serialized search context; its time range overrides the render's.",
			},
		},
		Fn: f.handle,
	}
}

func (f *Function) handle(
	ctx context.Context, input json.RawMessage, args map[string]any, exec expressions.Execution,
) (any, error) {
	var data VisData

	err := json.Unmarshal(input, &data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidVisData, err)
	}

	// ParseArguments guarantees both are strings.
	detectorID, _ := args[argDetectorID].(string)
	rawContext, _ := args[argContext].(string)

	if detectorID != "" {
		err = expressions.ValidateContext(rawContext)
		if err != nil {
			return nil, err
		}
	}

	return f.Run(ctx, data, Arguments{DetectorID: detectorID, Context: rawContext},
		ExecutionContext{TimeRange: exec.TimeRange, Now: exec.Now})
}
