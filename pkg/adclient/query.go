package adclient

// Result document fields in the anomaly detection results index.
const (
	fieldDetectorID     = "detector_id"
	fieldDataStartTime  = "data_start_time"
	fieldDataEndTime    = "data_end_time"
	fieldAnomalyGrade   = "anomaly_grade"
	fieldConfidence     = "confidence"
	fieldTaskID         = "task_id"
	fieldEntity         = "entity"
	epochMillisFormat   = "epoch_millis"
	sortDescending      = "desc"
	aggMaxAnomalyGrade  = "max_anomaly_grade"
	aggAvgAnomalyGrade  = "avg_anomaly_grade"
	aggMinConfidence    = "min_confidence"
	aggMaxConfidence    = "max_confidence"
	aggMaxDataEndTime   = "max_data_end_time"
	defaultMaxAnomalies = 10000
)

// QueryOptions selects which anomaly results a summary query returns.
type QueryOptions struct {
	DetectorID string
	StartTime  int64
	EndTime    int64

	// Size caps the number of hits. Zero uses the AD plugin maximum.
	Size int

	// Historical selects results of historical analysis tasks instead of real-time results.
	Historical bool

	// TaskID narrows historical results to one task. Ignored for real-time results.
	TaskID string
}

type object = map[string]any

// BuildSummaryQuery returns the search body selecting anomalous results (grade > 0)
// of one detector whose data window ends inside [StartTime, EndTime], newest first.
func BuildSummaryQuery(opts QueryOptions) map[string]any {
	size := opts.Size
	if size <= 0 {
		size = defaultMaxAnomalies
	}

	filters := []any{
		object{"range": object{fieldDataEndTime: object{
			"gte":    opts.StartTime,
			"lte":    opts.EndTime,
			"format": epochMillisFormat,
		}}},
		object{"range": object{fieldAnomalyGrade: object{"gt": 0}}},
		object{"term": object{fieldDetectorID: object{"value": opts.DetectorID}}},
	}

	boolQuery := object{"filter": filters}

	switch {
	case opts.Historical && opts.TaskID != "":
		boolQuery["filter"] = append(filters, object{"term": object{fieldTaskID: opts.TaskID}})
	case opts.Historical:
		boolQuery["must"] = []any{object{"exists": object{"field": fieldTaskID}}}
	default:
		boolQuery["must_not"] = []any{object{"exists": object{"field": fieldTaskID}}}
	}

	return object{
		"size":  size,
		"query": object{"bool": boolQuery},
		"sort":  []any{object{fieldDataEndTime: sortDescending}},
		"aggs": object{
			aggMaxAnomalyGrade: object{"max": object{"field": fieldAnomalyGrade}},
			aggAvgAnomalyGrade: object{"avg": object{"field": fieldAnomalyGrade}},
			aggMinConfidence:   object{"min": object{"field": fieldConfidence}},
			aggMaxConfidence:   object{"max": object{"field": fieldConfidence}},
			aggMaxDataEndTime:  object{"max": object{"field": fieldDataEndTime}},
		},
	}
}
