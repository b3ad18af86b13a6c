package sampledata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/pierrec/lz4/v4"

	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/adclient"
)

// DefaultIndex is the sample index name.
const DefaultIndex = "opensearch_dashboards_sample_data_ecommerce_http_responses"

// DefaultBatchSize is the number of documents per bulk request.
const DefaultBatchSize = 5000

// ErrBulkFailures indicates the cluster rejected some bulk items.
var ErrBulkFailures = errors.New("sampledata: bulk request had item failures")

// WriteLZ4 writes the NDJSON stream inside an LZ4 frame.
func (g *Generator) WriteLZ4(w io.Writer) (int, error) {
	zw := lz4.NewWriter(w)

	n, err := g.WriteNDJSON(zw)
	if err != nil {
		_ = zw.Close()

		return n, err
	}

	err = zw.Close()
	if err != nil {
		return n, fmt.Errorf("lz4 close: %w", err)
	}

	return n, nil
}

// Indexer bulk-loads generated documents into an index.
type Indexer struct {
	Doer      adclient.Doer
	Index     string
	BatchSize int
	Logger    *slog.Logger
}

type bulkResponse struct {
	Errors bool                         `json:"errors"`
	Items  []map[string]bulkItemOutcome `json:"items"`
}

type bulkItemOutcome struct {
	Status int             `json:"status"`
	Error  json.RawMessage `json:"error,omitempty"`
}

// Load indexes every document of g and returns how many were sent.
func (ix *Indexer) Load(ctx context.Context, g *Generator) (int, error) {
	index := ix.Index
	if index == "" {
		index = DefaultIndex
	}

	batchSize := ix.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	logger := ix.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var (
		buf     bytes.Buffer
		pending int
		sent    int
	)

	action := []byte(`{"index":{}}` + "\n")
	path := "/" + index + "/_bulk"

	flush := func() error {
		if pending == 0 {
			return nil
		}

		err := ix.send(ctx, path, buf.Bytes())
		if err != nil {
			return err
		}

		sent += pending
		logger.DebugContext(ctx, "bulk batch indexed", "index", index, "docs", pending, "total", sent)

		buf.Reset()

		pending = 0

		return nil
	}

	err := g.Each(func(doc Doc) error {
		line, encErr := json.Marshal(doc)
		if encErr != nil {
			return fmt.Errorf("encode doc: %w", encErr)
		}

		buf.Write(action)
		buf.Write(line)
		buf.WriteByte('\n')

		pending++

		if pending < batchSize {
			return nil
		}

		return flush()
	})
	if err != nil {
		return sent, err
	}

	err = flush()
	if err != nil {
		return sent, err
	}

	return sent, nil
}

func (ix *Indexer) send(ctx context.Context, path string, body []byte) error {
	resp, err := ix.Doer.Post(ctx, path, body)
	if err != nil {
		return fmt.Errorf("bulk index: %w", err)
	}

	var parsed bulkResponse

	err = json.Unmarshal(resp, &parsed)
	if err != nil {
		return fmt.Errorf("decode bulk response: %w", err)
	}

	if !parsed.Errors {
		return nil
	}

	failed := 0

	var first json.RawMessage

	for _, item := range parsed.Items {
		for _, outcome := range item {
			if outcome.Error != nil {
				failed++

				if first == nil {
					first = outcome.Error
				}
			}
		}
	}

	return fmt.Errorf("%w: %d of %d, first: %s", ErrBulkFailures, failed, len(parsed.Items), first)
}
