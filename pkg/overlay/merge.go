// Package overlay folds anomaly detection results into chart data: it merges
// anomalies into a time-bucketed table and declares the new column as a series.
package overlay

import (
	"slices"

	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/adclient"
	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/datatable"
)

// Anomaly column descriptor appended by [Merge].
const (
	ColumnID   = "ad"
	ColumnName = "Anomaly"
)

// Merge returns a copy of table with an anomaly column appended. For every
// anomaly whose plot time falls in a bucket [row[i].x, row[i+1].x), row i gets
// the primary series value in the anomaly column. The last row has no upper
// bound and never matches; neither does an anomaly before the first row.
//
// The input table is never modified. Matched reports how many anomalies were
// assigned to a bucket.
func Merge(table *datatable.Table, anomalies []adclient.Record, binding datatable.Binding) (*datatable.Table, int, error) {
	resolved, err := binding.Resolve(table)
	if err != nil {
		return nil, 0, err
	}

	out := table.Clone()
	out.AppendColumn(datatable.Column{ID: ColumnID, Name: ColumnName})

	matched := assignBuckets(out.Rows, sortByPlotTime(anomalies), resolved)

	return out, matched, nil
}

// sortByPlotTime returns the anomalies oldest first. The input is left untouched.
func sortByPlotTime(anomalies []adclient.Record) []adclient.Record {
	sorted := slices.Clone(anomalies)

	slices.SortStableFunc(sorted, func(a, b adclient.Record) int {
		switch pa, pb := a.PlotTime(), b.PlotTime(); {
		case pa < pb:
			return -1
		case pa > pb:
			return 1
		default:
			return 0
		}
	})

	return sorted
}

// assignBuckets walks rows with a single cursor shared by all anomalies, so
// anomalies must arrive in ascending plot time order. An anomaly earlier than
// the cursor's bucket is lost.
func assignBuckets(rows []datatable.Row, anomalies []adclient.Record, binding datatable.Binding) int {
	last := len(rows) - 1
	cursor := 0
	matched := 0

	for _, anomaly := range anomalies {
		at := anomaly.PlotTime()

		for cursor < last {
			if inBucket(rows[cursor], rows[cursor+1], binding.XColumn, at) {
				rows[cursor][ColumnID] = rows[cursor][binding.SeriesColumn]
				matched++

				break
			}

			cursor++
		}
	}

	return matched
}

func inBucket(row, next datatable.Row, xColumn string, at float64) bool {
	lo, ok := datatable.Number(row[xColumn])
	if !ok {
		return false
	}

	hi, ok := datatable.Number(next[xColumn])
	if !ok {
		return false
	}

	return at >= lo && at < hi
}
