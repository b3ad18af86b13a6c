package adclient_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/adclient"
)

func decodeQuery(t *testing.T, opts adclient.QueryOptions) map[string]any {
	t.Helper()

	data, err := json.Marshal(adclient.BuildSummaryQuery(opts))
	require.NoError(t, err)

	var out map[string]any

	require.NoError(t, json.Unmarshal(data, &out))

	return out
}

func boolClause(t *testing.T, query map[string]any) map[string]any {
	t.Helper()

	q, ok := query["query"].(map[string]any)
	require.True(t, ok)

	b, ok := q["bool"].(map[string]any)
	require.True(t, ok)

	return b
}

func TestBuildSummaryQuery_RealTime(t *testing.T) {
	t.Parallel()

	query := decodeQuery(t, adclient.QueryOptions{DetectorID: testDetectorID, StartTime: testStart, EndTime: testEnd})

	assert.InDelta(t, 10000.0, query["size"], 0)
	assert.Equal(t, []any{map[string]any{"data_end_time": "desc"}}, query["sort"])

	b := boolClause(t, query)

	filters, ok := b["filter"].([]any)
	require.True(t, ok)
	require.Len(t, filters, 3)

	rangeFilter := filters[0].(map[string]any)["range"].(map[string]any)["data_end_time"].(map[string]any)
	assert.InDelta(t, float64(testStart), rangeFilter["gte"], 0)
	assert.InDelta(t, float64(testEnd), rangeFilter["lte"], 0)
	assert.Equal(t, "epoch_millis", rangeFilter["format"])

	term := filters[2].(map[string]any)["term"].(map[string]any)["detector_id"].(map[string]any)
	assert.Equal(t, testDetectorID, term["value"])

	assert.Contains(t, b, "must_not")
	assert.NotContains(t, b, "must")

	aggs, ok := query["aggs"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, aggs, 5)
}

func TestBuildSummaryQuery_Historical(t *testing.T) {
	t.Parallel()

	b := boolClause(t, decodeQuery(t, adclient.QueryOptions{DetectorID: testDetectorID, Historical: true}))
	assert.Contains(t, b, "must")
	assert.NotContains(t, b, "must_not")

	withTask := boolClause(t, decodeQuery(t, adclient.QueryOptions{
		DetectorID: testDetectorID, Historical: true, TaskID: "task-1",
	}))

	filters, ok := withTask["filter"].([]any)
	require.True(t, ok)
	require.Len(t, filters, 4)
	assert.Equal(t, map[string]any{"term": map[string]any{"task_id": "task-1"}}, filters[3])
}
