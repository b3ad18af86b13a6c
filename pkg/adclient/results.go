package adclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ErrMalformedResponse indicates the search response could not be decoded.
var ErrMalformedResponse = errors.New("adclient: malformed search response")

// EntityValue is one categorical field value of a high-cardinality detector result.
type EntityValue struct {
	Name  string `json:"name"  yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// Record is one anomalous detector result window.
type Record struct {
	DetectorID   string        `json:"detector_id"       yaml:"detector_id"`
	StartTime    int64         `json:"start_time"        yaml:"start_time"`
	EndTime      int64         `json:"end_time"          yaml:"end_time"`
	AnomalyGrade float64       `json:"anomaly_grade"     yaml:"anomaly_grade"`
	Confidence   float64       `json:"confidence"        yaml:"confidence"`
	Entity       []EntityValue `json:"entity,omitempty"  yaml:"entity,omitempty"`
}

// PlotTime is the instant the anomaly is drawn at: the midpoint of its window.
func (r Record) PlotTime() float64 {
	return float64(r.StartTime) + float64(r.EndTime-r.StartTime)/2
}

// Summary holds the aggregations returned alongside the hits.
type Summary struct {
	MaxAnomalyGrade float64 `json:"max_anomaly_grade" yaml:"max_anomaly_grade"`
	AvgAnomalyGrade float64 `json:"avg_anomaly_grade" yaml:"avg_anomaly_grade"`
	MinConfidence   float64 `json:"min_confidence"    yaml:"min_confidence"`
	MaxConfidence   float64 `json:"max_confidence"    yaml:"max_confidence"`
	LastDataEndTime int64   `json:"last_data_end"     yaml:"last_data_end"`
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Source resultSource `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
	Aggregations map[string]metricAgg `json:"aggregations"`
}

type metricAgg struct {
	Value *float64 `json:"value"`
}

type resultSource struct {
	DetectorID    string          `json:"detector_id"`
	DataStartTime json.RawMessage `json:"data_start_time"`
	DataEndTime   json.RawMessage `json:"data_end_time"`
	AnomalyGrade  json.RawMessage `json:"anomaly_grade"`
	Confidence    json.RawMessage `json:"confidence"`
	Entity        []EntityValue   `json:"entity"`
}

// ParseResults decodes a results search response. Hits without numeric start and
// end times, or with an end before the start, are skipped. Hit order is preserved.
func ParseResults(body []byte) ([]Record, Summary, error) {
	var resp searchResponse

	err := json.Unmarshal(body, &resp)
	if err != nil {
		return nil, Summary{}, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	records := make([]Record, 0, len(resp.Hits.Hits))

	for _, hit := range resp.Hits.Hits {
		record, ok := toRecord(hit.Source)
		if !ok {
			continue
		}

		records = append(records, record)
	}

	return records, toSummary(resp.Aggregations), nil
}

func toRecord(src resultSource) (Record, bool) {
	start, ok := epochMillis(src.DataStartTime)
	if !ok {
		return Record{}, false
	}

	end, ok := epochMillis(src.DataEndTime)
	if !ok || end < start {
		return Record{}, false
	}

	return Record{
		DetectorID:   src.DetectorID,
		StartTime:    start,
		EndTime:      end,
		AnomalyGrade: float(src.AnomalyGrade),
		Confidence:   float(src.Confidence),
		Entity:       src.Entity,
	}, true
}

// number decodes a raw JSON value that must be a bare number. Strings, nulls
// and absent fields are rejected.
func number(raw json.RawMessage) (json.Number, bool) {
	if len(raw) == 0 || raw[0] == '"' {
		return "", false
	}

	var n json.Number

	err := json.Unmarshal(raw, &n)
	if err != nil || n == "" {
		return "", false
	}

	return n, true
}

func epochMillis(raw json.RawMessage) (int64, bool) {
	n, ok := number(raw)
	if !ok {
		return 0, false
	}

	if v, err := n.Int64(); err == nil {
		return v, true
	}

	f, err := n.Float64()
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}

	return int64(f), true
}

func float(raw json.RawMessage) float64 {
	n, ok := number(raw)
	if !ok {
		return 0
	}

	f, err := n.Float64()
	if err != nil {
		return 0
	}

	return f
}

func toSummary(aggs map[string]metricAgg) Summary {
	value := func(name string) float64 {
		agg, ok := aggs[name]
		if !ok || agg.Value == nil {
			return 0
		}

		return *agg.Value
	}

	return Summary{
		MaxAnomalyGrade: value(aggMaxAnomalyGrade),
		AvgAnomalyGrade: value(aggAvgAnomalyGrade),
		MinConfidence:   value(aggMinConfidence),
		MaxConfidence:   value(aggMaxConfidence),
		LastDataEndTime: int64(value(aggMaxDataEndTime)),
	}
}
