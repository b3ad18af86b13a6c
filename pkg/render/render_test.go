package render_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/adclient"
	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/datatable"
	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/overlay"
	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/render"
)

const configJSON = `{
  "type": "line",
  "dimensions": {
    "x": {"accessor": 0, "format": {"id": "date"}, "params": {}, "label": "timestamp"},
    "y": [{"accessor": 1, "format": {"id": "number"}, "params": {}, "label": "Count"}]
  }
}`

func augmented(t *testing.T) overlay.VisData {
	t.Helper()

	var cfg overlay.VisConfig

	require.NoError(t, json.Unmarshal([]byte(configJSON), &cfg))

	table := datatable.New(
		[]datatable.Column{{ID: "t", Name: "timestamp"}, {ID: "v", Name: "Count"}},
		[]datatable.Row{
			{"t": int64(1700000000000), "v": 10},
			{"t": int64(1700000060000), "v": 20},
			{"t": int64(1700000120000), "v": 30},
		},
	)

	out, _, err := overlay.Merge(table,
		[]adclient.Record{{StartTime: 1700000070000, EndTime: 1700000090000}}, datatable.Binding{})
	require.NoError(t, err)

	patched, err := overlay.PatchDimensions(cfg, out)
	require.NoError(t, err)

	return overlay.VisData{Type: overlay.VisDataType, Table: out, Config: patched}
}

func TestBuildChart_SeriesPerDimension(t *testing.T) {
	t.Parallel()

	line, err := render.BuildChart(augmented(t))
	require.NoError(t, err)
	require.Len(t, line.MultiSeries, 2)

	assert.Equal(t, "Count", line.MultiSeries[0].Name)
	assert.Equal(t, "Anomaly", line.MultiSeries[1].Name)

	markers, ok := line.MultiSeries[1].Data.([]opts.LineData)
	require.True(t, ok)
	require.Len(t, markers, 3)
	assert.Equal(t, "-", markers[0].Value)
	assert.InDelta(t, 20.0, markers[1].Value, 0)
	assert.Equal(t, "circle", markers[1].Symbol)
	assert.Equal(t, "-", markers[2].Value)
}

func TestBuildChart_Errors(t *testing.T) {
	t.Parallel()

	_, err := render.BuildChart(overlay.VisData{})
	require.ErrorIs(t, err, datatable.ErrNilTable)

	data := augmented(t)
	data.Table.Columns = data.Table.Columns[:2]

	_, err = render.BuildChart(data)
	require.ErrorIs(t, err, render.ErrAccessorOutOfRange)

	data = augmented(t)
	data.Config = overlay.VisConfig{}

	_, err = render.BuildChart(data)
	require.ErrorIs(t, err, overlay.ErrMissingDimensions)
}

func TestOverlayPage_Render(t *testing.T) {
	t.Parallel()

	page, err := render.OverlayPage("det-<1>", augmented(t))
	require.NoError(t, err)

	var buf bytes.Buffer

	require.NoError(t, page.Render(&buf))

	html := buf.String()
	assert.Contains(t, html, "<!DOCTYPE html>")
	assert.Contains(t, html, "Anomalies of det-&lt;1&gt;")
	assert.Contains(t, html, `class="echart-box"`)
	assert.Contains(t, html, "echarts.init")
	assert.Contains(t, html, "Anomalous buckets")
	assert.Contains(t, html, "How to interpret:")
	assert.NotContains(t, html, `class="container"`)
}

func TestPage_RenderWithoutChart(t *testing.T) {
	t.Parallel()

	page := &render.Page{Title: "Detectors", Body: "<table><tr><td>x</td></tr></table>"}

	var buf bytes.Buffer

	require.NoError(t, page.Render(&buf))
	assert.Contains(t, buf.String(), "<table><tr><td>x</td></tr></table>")
	assert.NotContains(t, buf.String(), "How to interpret")
}
