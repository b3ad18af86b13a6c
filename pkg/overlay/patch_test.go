package overlay_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/adclient"
	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/datatable"
	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/overlay"
)

const lineConfigJSON = `{
  "type": "line",
  "addTooltip": true,
  "dimensions": {
    "x": {"accessor": 0, "format": {"id": "date"}, "params": {"interval": "PT1M"}, "label": "timestamp"},
    "y": [{"accessor": 1, "format": {"id": "number"}, "params": {}, "label": "Count"}]
  }
}`

func lineConfig(t *testing.T) overlay.VisConfig {
	t.Helper()

	var cfg overlay.VisConfig

	require.NoError(t, json.Unmarshal([]byte(lineConfigJSON), &cfg))

	return cfg
}

func TestPatchDimensions_AppendsAnomalyDimension(t *testing.T) {
	t.Parallel()

	augmented, _, err := overlay.Merge(threeBuckets(), []adclient.Record{anomalyAt(40, 60)}, datatable.Binding{})
	require.NoError(t, err)

	cfg := lineConfig(t)

	before, err := cfg.YDimensions()
	require.NoError(t, err)

	patched, err := overlay.PatchDimensions(cfg, augmented)
	require.NoError(t, err)

	after, err := patched.YDimensions()
	require.NoError(t, err)
	require.Len(t, after, len(before)+1)

	added := after[len(after)-1]
	assert.Equal(t, len(augmented.Columns)-1, added.Accessor)
	assert.Equal(t, "Anomaly", added.Label)
	assert.Empty(t, added.Format)
	assert.Empty(t, added.Params)

	assert.Equal(t, before[0], after[0])
	assert.Equal(t, "line", patched["type"])
}

func TestPatchDimensions_LeavesInputUntouched(t *testing.T) {
	t.Parallel()

	cfg := lineConfig(t)
	snapshot := lineConfig(t)

	_, err := overlay.PatchDimensions(cfg, datatable.New([]datatable.Column{{ID: "t"}, {ID: "v"}, {ID: "ad"}}, nil))
	require.NoError(t, err)

	assert.Equal(t, snapshot, cfg)
}

func TestPatchDimensions_MissingY(t *testing.T) {
	t.Parallel()

	table := datatable.New([]datatable.Column{{ID: "t"}}, nil)

	_, err := overlay.PatchDimensions(overlay.VisConfig{}, table)
	require.ErrorIs(t, err, overlay.ErrMissingDimensions)

	_, err = overlay.PatchDimensions(overlay.VisConfig{"dimensions": map[string]any{"x": map[string]any{}}}, table)
	require.ErrorIs(t, err, overlay.ErrMissingDimensions)

	_, err = overlay.PatchDimensions(lineConfig(t), nil)
	require.ErrorIs(t, err, datatable.ErrNilTable)
}

func TestYDimensions_Malformed(t *testing.T) {
	t.Parallel()

	cfg := overlay.VisConfig{"dimensions": map[string]any{"y": []any{"oops"}}}

	_, err := cfg.YDimensions()
	require.ErrorIs(t, err, overlay.ErrMalformedDimension)

	cfg = overlay.VisConfig{"dimensions": map[string]any{"y": []any{map[string]any{"label": "x"}}}}

	_, err = cfg.YDimensions()
	require.ErrorIs(t, err, overlay.ErrMalformedDimension)
}
