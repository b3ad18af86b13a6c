// Package render draws augmented vis data as an ECharts line chart on a
// standalone HTML page.
package render

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/datatable"
	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/overlay"
)

// ErrAccessorOutOfRange indicates a y dimension pointing past the table's columns.
var ErrAccessorOutOfRange = errors.New("render: dimension accessor out of range")

const (
	chartWidth  = "100%"
	chartHeight = "500px"
	lineWidth   = 2
	markerSize  = 10
	emptyCell   = "-"
	labelLayout = "2006-01-02 15:04:05"
	dataZoomEnd = 100
)

var seriesColors = []string{
	"#0369a1", // sky-700.
	"#4d7c0f", // lime-700.
	"#7c3aed", // violet-600.
	"#c2410c", // orange-700.
	"#0891b2", // cyan-600.
}

const anomalyColor = "#dc2626" // red-600.

// BuildChart draws one series per y dimension of data. The anomaly column is
// drawn as markers only; empty cells leave gaps.
func BuildChart(data overlay.VisData) (*charts.Line, error) {
	if data.Table == nil {
		return nil, datatable.ErrNilTable
	}

	binding, err := data.Binding.Resolve(data.Table)
	if err != nil {
		return nil, fmt.Errorf("resolve binding: %w", err)
	}

	dims, err := data.Config.YDimensions()
	if err != nil {
		return nil, fmt.Errorf("read dimensions: %w", err)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: chartWidth, Height: chartHeight}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "0"}),
		charts.WithDataZoomOpts(
			opts.DataZoom{Type: "slider", Start: 0, End: dataZoomEnd},
			opts.DataZoom{Type: "inside"},
		),
		charts.WithGridOpts(opts.Grid{Top: "40", Bottom: "15%", Left: "5%", Right: "5%", ContainLabel: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: columnName(data.Table, binding.XColumn)}),
	)

	line.SetXAxis(xLabels(data.Table.Rows, binding.XColumn))

	colorIdx := 0

	for _, dim := range dims {
		if dim.Accessor < 0 || dim.Accessor >= len(data.Table.Columns) {
			return nil, fmt.Errorf("%w: %d", ErrAccessorOutOfRange, dim.Accessor)
		}

		col := data.Table.Columns[dim.Accessor]

		name := dim.Label
		if name == "" {
			name = col.Name
		}

		if col.ID == overlay.ColumnID {
			line.AddSeries(name, seriesData(data.Table.Rows, col.ID, "circle"),
				charts.WithItemStyleOpts(opts.ItemStyle{Color: anomalyColor}),
				charts.WithLineStyleOpts(opts.LineStyle{Width: 0, Opacity: opts.Float(0)}),
			)

			continue
		}

		line.AddSeries(name, seriesData(data.Table.Rows, col.ID, ""),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: seriesColors[colorIdx%len(seriesColors)]}),
			charts.WithLineStyleOpts(opts.LineStyle{Width: lineWidth}),
		)

		colorIdx++
	}

	return line, nil
}

func columnName(t *datatable.Table, id string) string {
	if i := t.ColumnIndex(id); i >= 0 && t.Columns[i].Name != "" {
		return t.Columns[i].Name
	}

	return id
}

// xLabels formats epoch-millisecond cells as UTC timestamps and anything else verbatim.
func xLabels(rows []datatable.Row, xColumn string) []string {
	labels := make([]string, len(rows))

	for i, row := range rows {
		cell, ok := row[xColumn]
		if !ok {
			labels[i] = emptyCell

			continue
		}

		if ms, isNum := datatable.Number(cell); isNum {
			labels[i] = time.UnixMilli(int64(ms)).UTC().Format(labelLayout)

			continue
		}

		labels[i] = fmt.Sprint(cell)
	}

	return labels
}

func seriesData(rows []datatable.Row, column, symbol string) []opts.LineData {
	data := make([]opts.LineData, len(rows))

	for i, row := range rows {
		v, isNum := datatable.Number(row[column])
		if !isNum {
			data[i] = opts.LineData{Value: emptyCell}

			continue
		}

		point := opts.LineData{Value: v}
		if symbol != "" {
			point.Symbol = symbol
			point.SymbolSize = markerSize
		}

		data[i] = point
	}

	return data
}
