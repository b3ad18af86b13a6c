// Package datatable models the tabular chart data exchanged with the visualization pipeline.
//
// A Table is an ordered list of column descriptors plus rows keyed by column id.
// Rows are expected to be sorted ascending by the x-axis column, one row per bucket.
package datatable

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
)

// TypeName is the pipeline type tag of a Table.
const TypeName = "opensearch_dashboards_datatable"

// Sentinel errors for table lookups.
var (
	// ErrNilTable indicates a nil table was supplied.
	ErrNilTable = errors.New("datatable: nil table")
	// ErrUnknownColumn indicates a declared column id is not present in the table.
	ErrUnknownColumn = errors.New("datatable: unknown column")
	// ErrNoSeriesColumn indicates the table has no column that can serve as the primary series.
	ErrNoSeriesColumn = errors.New("datatable: no primary series column")
)

// Column describes one table column.
type Column struct {
	ID   string         `json:"id"             yaml:"id"`
	Name string         `json:"name"           yaml:"name"`
	Meta map[string]any `json:"meta,omitempty" yaml:"meta,omitempty"`
}

// Row maps column ids to cell values. A missing key means the cell is empty.
type Row map[string]any

// Table is the pipeline datatable.
type Table struct {
	Type    string   `json:"type"    yaml:"type"`
	Columns []Column `json:"columns" yaml:"columns"`
	Rows    []Row    `json:"rows"    yaml:"rows"`
}

// New creates a typed table from columns and rows. The slices are used as given.
func New(columns []Column, rows []Row) *Table {
	return &Table{
		Type:    TypeName,
		Columns: columns,
		Rows:    rows,
	}
}

// Clone returns a structurally independent copy of the table.
// Nested maps and slices inside cells and column metadata are copied as well.
func (t *Table) Clone() *Table {
	if t == nil {
		return nil
	}

	out := &Table{Type: t.Type}

	if t.Columns != nil {
		out.Columns = make([]Column, len(t.Columns))
		for i, col := range t.Columns {
			out.Columns[i] = Column{
				ID:   col.ID,
				Name: col.Name,
				Meta: copyMap(col.Meta),
			}
		}
	}

	if t.Rows != nil {
		out.Rows = make([]Row, len(t.Rows))
		for i, row := range t.Rows {
			out.Rows[i] = Row(copyMap(row))
		}
	}

	return out
}

// ColumnIndex returns the position of the column with the given id, or -1.
func (t *Table) ColumnIndex(id string) int {
	for i, col := range t.Columns {
		if col.ID == id {
			return i
		}
	}

	return -1
}

// HasColumn reports whether the table declares a column with the given id.
func (t *Table) HasColumn(id string) bool {
	return t.ColumnIndex(id) >= 0
}

// AppendColumn adds a column descriptor at the end of the column list.
func (t *Table) AppendColumn(col Column) {
	t.Columns = append(t.Columns, col)
}

// Binding declares which columns carry the x-axis timestamps and the primary series values.
type Binding struct {
	XColumn      string `json:"x_column,omitempty"      yaml:"x_column,omitempty"`
	SeriesColumn string `json:"series_column,omitempty" yaml:"series_column,omitempty"`
}

// Resolve fills undeclared ids from column positions (first column is the x-axis,
// second is the primary series) and checks that both ids exist in the table.
func (b Binding) Resolve(t *Table) (Binding, error) {
	if t == nil {
		return Binding{}, ErrNilTable
	}

	resolved := b

	if resolved.XColumn == "" {
		if len(t.Columns) == 0 {
			return Binding{}, fmt.Errorf("%w: table has no columns", ErrUnknownColumn)
		}

		resolved.XColumn = t.Columns[0].ID
	}

	if resolved.SeriesColumn == "" {
		if len(t.Columns) < 2 {
			return Binding{}, ErrNoSeriesColumn
		}

		resolved.SeriesColumn = t.Columns[1].ID
	}

	if !t.HasColumn(resolved.XColumn) {
		return Binding{}, fmt.Errorf("%w: x-axis %q", ErrUnknownColumn, resolved.XColumn)
	}

	if !t.HasColumn(resolved.SeriesColumn) {
		return Binding{}, fmt.Errorf("%w: series %q", ErrUnknownColumn, resolved.SeriesColumn)
	}

	return resolved, nil
}

// Number converts a cell value to float64. It accepts the numeric types a decoded
// or hand-built table may carry.
func Number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()

		return f, err == nil
	default:
		return 0, false
	}
}

// CloneMap deep-copies a JSON-like object with the same rules as [Table.Clone].
func CloneMap(src map[string]any) map[string]any {
	return copyMap(src)
}

func copyMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}

	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = copyValue(v)
	}

	return dst
}

func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return copyMap(val)
	case Row:
		return Row(copyMap(val))
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = copyValue(item)
		}

		return out
	case []string:
		return append([]string(nil), val...)
	case []float64:
		return append([]float64(nil), val...)
	case map[string]string:
		return maps.Clone(val)
	default:
		return v
	}
}
