package commands

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/config"
	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/datatable"
	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/observability"
	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/overlay"
)

func sampleConfig() *config.Config {
	return &config.Config{
		Logging: config.LoggingConfig{Level: "warn", Format: config.LogFormatText},
		Observability: config.ObservabilityConfig{
			Environment:  "staging",
			OTLPEndpoint: "collector:4317",
			OTLPHeaders:  "authorization=Bearer abc",
			Prometheus:   true,
			SampleRatio:  0.25,
		},
	}
}

func TestObservabilityConfig_MapsFileSettings(t *testing.T) {
	t.Parallel()

	oc := observabilityConfig(sampleConfig(), observability.ModeServe, &GlobalOptions{})

	assert.Equal(t, observability.ModeServe, oc.Mode)
	assert.Equal(t, "staging", oc.Environment)
	assert.Equal(t, "collector:4317", oc.OTLPEndpoint)
	assert.Equal(t, map[string]string{"authorization": "Bearer abc"}, oc.OTLPHeaders)
	assert.True(t, oc.Prometheus)
	assert.InDelta(t, 0.25, oc.SampleRatio, 0)
	assert.Equal(t, slog.LevelWarn, oc.LogLevel)
	assert.False(t, oc.LogJSON)
}

func TestObservabilityConfig_ModeOverrides(t *testing.T) {
	t.Parallel()

	cli := observabilityConfig(sampleConfig(), observability.ModeCLI, &GlobalOptions{Verbose: true})
	assert.False(t, cli.Prometheus)
	assert.Equal(t, slog.LevelDebug, cli.LogLevel)

	mcpCfg := observabilityConfig(sampleConfig(), observability.ModeMCP, &GlobalOptions{Quiet: true})
	assert.True(t, mcpCfg.LogJSON)
	assert.False(t, mcpCfg.Prometheus)
	assert.Equal(t, slog.LevelError, mcpCfg.LogLevel)
}

func augmentedVisData() overlay.VisData {
	return overlay.VisData{
		Type: overlay.VisDataType,
		Table: datatable.New(
			[]datatable.Column{{ID: "t", Name: "timestamp"}, {ID: "v", Name: "Count"}, {ID: overlay.ColumnID, Name: overlay.ColumnName}},
			[]datatable.Row{
				{"t": float64(1700000000000), "v": 10, overlay.ColumnID: 10},
				{"t": float64(1700000300000), "v": 20},
			},
		),
		Config: overlay.VisConfig{"type": "line"},
	}
}

func TestWriteVisData_Table(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	require.NoError(t, writeVisData(&buf, FormatTable, augmentedVisData()))

	out := buf.String()
	assert.Contains(t, out, "ANOMALY")
	assert.Contains(t, out, "1700000000000")
	assert.NotContains(t, out, "e+12")
	assert.Contains(t, out, missingCell)
}

func TestWriteVisData_YAML(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	require.NoError(t, writeVisData(&buf, FormatYAML, augmentedVisData()))

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, overlay.VisDataType, decoded["type"])
}

func TestWriteVisData_Errors(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	require.ErrorIs(t, writeVisData(&buf, "xml", augmentedVisData()), ErrUnknownFormat)
	require.ErrorIs(t, writeVisData(&buf, FormatTable, overlay.VisData{}), datatable.ErrNilTable)
}

func TestOverlayOptions_Arguments(t *testing.T) {
	t.Parallel()

	empty := &overlayOptions{}
	assert.Empty(t, empty.arguments())
	assert.Nil(t, empty.execution(testTime()).TimeRange)

	full := &overlayOptions{detectorID: "det-1", context: `{}`, from: "now-1h", to: "now"}
	assert.Equal(t, map[string]any{"detectorId": "det-1", "context": `{}`}, full.arguments())

	exec := full.execution(testTime())
	require.NotNil(t, exec.TimeRange)
	assert.Equal(t, "now-1h", exec.TimeRange.From)
	assert.Equal(t, testTime(), exec.Now)
}

func TestStatusPrinter_Quiet(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	statusPrinter{w: &buf, quiet: true}.summary(augmentedVisData())
	assert.Empty(t, buf.String())

	statusPrinter{w: &buf}.summary(augmentedVisData())
	assert.Contains(t, buf.String(), "1 of 2 buckets anomalous")
}

func testTime() time.Time {
	return time.Date(2024, 3, 13, 10, 30, 0, 0, time.UTC)
}
