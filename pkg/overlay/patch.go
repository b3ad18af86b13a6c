package overlay

import (
	"errors"
	"fmt"

	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/datatable"
)

// Sentinel errors for chart configuration access.
var (
	// ErrMissingDimensions indicates the config has no dimensions.y list.
	ErrMissingDimensions = errors.New("overlay: config has no dimensions.y")
	// ErrMalformedDimension indicates a dimension entry that is not an object with an accessor.
	ErrMalformedDimension = errors.New("overlay: malformed dimension")
)

const (
	keyDimensions = "dimensions"
	keyY          = "y"
	keyAccessor   = "accessor"
	keyFormat     = "format"
	keyLabel      = "label"
	keyParams     = "params"
)

// VisConfig is the chart configuration handed over by the host. Keys other
// than dimensions are passed through untouched.
type VisConfig map[string]any

// Dimension maps a table column, by zero-based index, to a plotted series.
type Dimension struct {
	Accessor int            `json:"accessor" yaml:"accessor"`
	Format   map[string]any `json:"format"   yaml:"format"`
	Label    string         `json:"label"    yaml:"label"`
	Params   map[string]any `json:"params"   yaml:"params"`
}

func (d Dimension) toMap() map[string]any {
	format := d.Format
	if format == nil {
		format = map[string]any{}
	}

	params := d.Params
	if params == nil {
		params = map[string]any{}
	}

	return map[string]any{
		keyAccessor: d.Accessor,
		keyFormat:   format,
		keyLabel:    d.Label,
		keyParams:   params,
	}
}

// Clone deep-copies the config.
func (c VisConfig) Clone() VisConfig {
	return VisConfig(datatable.CloneMap(c))
}

func (c VisConfig) yList() ([]any, error) {
	dims, ok := c[keyDimensions].(map[string]any)
	if !ok {
		return nil, ErrMissingDimensions
	}

	y, ok := dims[keyY].([]any)
	if !ok {
		return nil, ErrMissingDimensions
	}

	return y, nil
}

// YDimensions decodes the y dimensions in order.
func (c VisConfig) YDimensions() ([]Dimension, error) {
	y, err := c.yList()
	if err != nil {
		return nil, err
	}

	out := make([]Dimension, 0, len(y))

	for i, raw := range y {
		entry, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: y[%d] is %T", ErrMalformedDimension, i, raw)
		}

		accessor, ok := datatable.Number(entry[keyAccessor])
		if !ok {
			return nil, fmt.Errorf("%w: y[%d] has no numeric accessor", ErrMalformedDimension, i)
		}

		dim := Dimension{Accessor: int(accessor)}
		dim.Label, _ = entry[keyLabel].(string)
		dim.Format, _ = entry[keyFormat].(map[string]any)
		dim.Params, _ = entry[keyParams].(map[string]any)

		out = append(out, dim)
	}

	return out, nil
}

// PatchDimensions returns a copy of config declaring the last column of the
// augmented table as one more y dimension labelled "Anomaly".
func PatchDimensions(config VisConfig, augmented *datatable.Table) (VisConfig, error) {
	if augmented == nil {
		return nil, datatable.ErrNilTable
	}

	out := config.Clone()

	y, err := out.yList()
	if err != nil {
		return nil, err
	}

	dim := Dimension{Accessor: len(augmented.Columns) - 1, Label: ColumnName}

	dims, _ := out[keyDimensions].(map[string]any)
	dims[keyY] = append(y, dim.toMap())

	return out, nil
}
