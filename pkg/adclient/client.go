// Package adclient fetches anomaly detection results from an OpenSearch cluster.
package adclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
)

// ResultsSearchPath is the AD plugin route searching detector results.
const ResultsSearchPath = "/_plugins/_anomaly_detection/detectors/results/_search"

const (
	contentTypeJSON  = "application/json"
	maxErrorBodySize = 4096
)

// Sentinel errors.
var (
	// ErrEmptyDetectorID indicates a fetch without a detector id.
	ErrEmptyDetectorID = errors.New("adclient: detector id is required")
	// ErrNoAddresses indicates a cluster configuration without node addresses.
	ErrNoAddresses = errors.New("adclient: at least one cluster address is required")
)

// StatusError reports a non-2xx response from the cluster.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("adclient: cluster responded %d: %s", e.StatusCode, e.Body)
}

// Doer posts a JSON body to a cluster path and returns the response body.
// Implementations must be safe for concurrent use.
type Doer interface {
	Post(ctx context.Context, path string, body []byte) ([]byte, error)
}

// ClusterConfig describes how to reach the OpenSearch cluster.
type ClusterConfig struct {
	Addresses          []string
	Username           string
	Password           string
	InsecureSkipVerify bool
	Timeout            time.Duration
}

// NewOpenSearchClient builds an opensearch-go client. Retries are disabled;
// a failed request surfaces to the caller as is.
func NewOpenSearchClient(cfg ClusterConfig) (*opensearch.Client, error) {
	if len(cfg.Addresses) == 0 {
		return nil, ErrNoAddresses
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for self-signed dev clusters
	}

	if cfg.Timeout > 0 {
		transport.ResponseHeaderTimeout = cfg.Timeout
	}

	client, err := opensearch.NewClient(opensearch.Config{
		Addresses:    cfg.Addresses,
		Username:     cfg.Username,
		Password:     cfg.Password,
		Transport:    transport,
		DisableRetry: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create opensearch client: %w", err)
	}

	return client, nil
}

// OpenSearchDoer adapts an opensearch-go client to [Doer].
type OpenSearchDoer struct {
	client *opensearch.Client
}

// NewOpenSearchDoer wraps the given client.
func NewOpenSearchDoer(client *opensearch.Client) *OpenSearchDoer {
	return &OpenSearchDoer{client: client}
}

// Post implements [Doer].
func (d *OpenSearchDoer) Post(ctx context.Context, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", contentTypeJSON)

	resp, err := d.client.Perform(req)
	if err != nil {
		return nil, fmt.Errorf("perform %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		if len(data) > maxErrorBodySize {
			data = data[:maxErrorBodySize]
		}

		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	return data, nil
}

// Options tune a [Client].
type Options struct {
	// ResultsPath overrides [ResultsSearchPath].
	ResultsPath string

	// MaxAnomalies caps the hits per fetch. Zero uses the AD plugin maximum.
	MaxAnomalies int

	// Historical reads results of historical analysis instead of real-time ones.
	Historical bool

	// Logger is optional. Nil uses slog default.
	Logger *slog.Logger
}

// Client is the anomaly fetcher. It holds no per-call state.
type Client struct {
	doer   Doer
	opts   Options
	logger *slog.Logger
}

// NewClient creates a fetcher over the given transport.
func NewClient(doer Doer, opts Options) *Client {
	if opts.ResultsPath == "" {
		opts.ResultsPath = ResultsSearchPath
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{doer: doer, opts: opts, logger: logger}
}

// Fetch returns the anomalous results of a detector whose windows end within
// [startMs, endMs], in the order the cluster returned them (newest first).
func (c *Client) Fetch(ctx context.Context, detectorID string, startMs, endMs int64) ([]Record, error) {
	records, _, err := c.FetchWithSummary(ctx, detectorID, startMs, endMs)

	return records, err
}

// FetchWithSummary is [Client.Fetch] plus the summary aggregations.
func (c *Client) FetchWithSummary(ctx context.Context, detectorID string, startMs, endMs int64) ([]Record, Summary, error) {
	if detectorID == "" {
		return nil, Summary{}, ErrEmptyDetectorID
	}

	query := BuildSummaryQuery(QueryOptions{
		DetectorID: detectorID,
		StartTime:  startMs,
		EndTime:    endMs,
		Size:       c.opts.MaxAnomalies,
		Historical: c.opts.Historical,
	})

	body, err := json.Marshal(query)
	if err != nil {
		return nil, Summary{}, fmt.Errorf("encode query: %w", err)
	}

	c.logger.DebugContext(ctx, "searching anomaly results",
		"detector_id", detectorID, "start", startMs, "end", endMs, "path", c.opts.ResultsPath)

	respBody, err := c.doer.Post(ctx, c.opts.ResultsPath, body)
	if err != nil {
		return nil, Summary{}, fmt.Errorf("search anomaly results: %w", err)
	}

	records, summary, err := ParseResults(respBody)
	if err != nil {
		return nil, Summary{}, err
	}

	return records, summary, nil
}
