// Package sampledata generates the HTTP response sample index used to try
// anomaly detection: per-minute status code counts for a grid of client IPs
// and endpoints, with occasional bursts of 4xx and 5xx responses.
package sampledata

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"strconv"
)

// Defaults mirror four weeks of one-minute ticks for 10 IPs and 5 endpoints.
const (
	DefaultDocs       = 40320
	DefaultIntervalMs = 60000
	DefaultIPCount    = 10
	DefaultStartTs    = 100000
)

// ErrInvalidGenerator indicates a generator with nothing to emit.
var ErrInvalidGenerator = errors.New("sampledata: generator needs docs, an interval, ips and endpoints")

// DefaultEndpoints are the request paths of the sample index.
var DefaultEndpoints = []string{
	"/example/endpoint1",
	"/example/endpoint2",
	"/example/endpoint3",
	"/example/endpoint4",
	"/example/endpoint5",
}

// codes are the status codes drawn from. Indices 0-8 are the normal codes,
// 9-11 client errors and 12-14 server errors.
var codes = [...]int{100, 101, 102, 200, 201, 202, 300, 301, 302, 400, 403, 404, 500, 501, 502}

const (
	safeCodes       = 9
	clientErrorBase = 9
	serverErrorBase = 12
	codesPerClass   = 3

	// burstOdds is the per-tick chance denominator of starting a burst, per entity.
	burstOdds        = 4000
	burstMinLength   = 4
	burstExtraLength = 4
	// repeatOdds gives a 4 in 5 chance that a burst code recurs on a tick.
	repeatOdds = 5

	clientErrorTrigger = 4
	serverErrorTrigger = 5
)

// Doc is one sample document.
type Doc struct {
	Timestamp  int64  `json:"timestamp"`
	IP         string `json:"ip"`
	Endpoint   string `json:"endpoint"`
	StatusCode string `json:"status_code"`
	HTTP1xx    int    `json:"http_1xx"`
	HTTP2xx    int    `json:"http_2xx"`
	HTTP3xx    int    `json:"http_3xx"`
	HTTP4xx    int    `json:"http_4xx"`
	HTTP5xx    int    `json:"http_5xx"`
}

func newDoc(ts int64, ip, endpoint string, code int) Doc {
	doc := Doc{Timestamp: ts, IP: ip, Endpoint: endpoint, StatusCode: strconv.Itoa(code)}

	switch code / 100 {
	case 1:
		doc.HTTP1xx = 1
	case 2:
		doc.HTTP2xx = 1
	case 3:
		doc.HTTP3xx = 1
	case 4:
		doc.HTTP4xx = 1
	case 5:
		doc.HTTP5xx = 1
	}

	return doc
}

// Generator emits Docs ticks, each with one document per IP and endpoint pair.
type Generator struct {
	Docs       int
	IntervalMs int64
	IPs        []string
	Endpoints  []string
	StartTs    int64
	Rand       *rand.Rand
}

// NewGenerator returns a generator with the default shape and random IPs.
func NewGenerator(r *rand.Rand) *Generator {
	return &Generator{
		Docs:       DefaultDocs,
		IntervalMs: DefaultIntervalMs,
		IPs:        RandomIPs(r, DefaultIPCount),
		Endpoints:  DefaultEndpoints,
		StartTs:    DefaultStartTs,
		Rand:       r,
	}
}

// RandomIPs returns n dotted-quad addresses.
func RandomIPs(r *rand.Rand, n int) []string {
	ips := make([]string, n)

	for i := range ips {
		ips[i] = fmt.Sprintf("%d.%d.%d.%d", r.IntN(256), r.IntN(256), r.IntN(256), r.IntN(256))
	}

	return ips
}

// series is the burst state of one IP and endpoint pair.
type series struct {
	clientLeft, serverLeft int
	clientCode, serverCode int
}

// next draws the status code of the series for one tick.
func (s *series) next(r *rand.Rand, entities int) int {
	roll := r.IntN(burstOdds*entities + 1)
	safe := codes[r.IntN(safeCodes)]

	switch roll {
	case clientErrorTrigger:
		s.clientLeft = burstMinLength + r.IntN(burstExtraLength)
		s.clientCode = codes[clientErrorBase+r.IntN(codesPerClass)]
	case serverErrorTrigger:
		s.serverLeft = burstMinLength + r.IntN(burstExtraLength)
		s.serverCode = codes[serverErrorBase+r.IntN(codesPerClass)]
	}

	if s.clientLeft == 0 && s.serverLeft == 0 {
		return safe
	}

	code := safe

	if s.clientLeft > 0 {
		if r.IntN(repeatOdds) != 0 {
			code = s.clientCode
		}

		s.clientLeft--
	}

	if s.serverLeft > 0 {
		if r.IntN(repeatOdds) != 0 {
			code = s.serverCode
		} else {
			code = safe
		}

		s.serverLeft--
	}

	return code
}

// Each calls emit for every document in timestamp order and stops at the first error.
func (g *Generator) Each(emit func(Doc) error) error {
	if g.Docs <= 0 || g.IntervalMs <= 0 || len(g.IPs) == 0 || len(g.Endpoints) == 0 {
		return ErrInvalidGenerator
	}

	r := g.Rand
	if r == nil {
		r = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())) //nolint:gosec // sample data.
	}

	entities := len(g.IPs) * len(g.Endpoints)
	state := make([]series, entities)
	ts := g.StartTs

	for range g.Docs {
		for i, ip := range g.IPs {
			for j, endpoint := range g.Endpoints {
				code := state[i*len(g.Endpoints)+j].next(r, entities)

				err := emit(newDoc(ts, ip, endpoint, code))
				if err != nil {
					return err
				}
			}
		}

		ts += g.IntervalMs
	}

	return nil
}

// WriteNDJSON writes every document as one JSON line and returns the count.
func (g *Generator) WriteNDJSON(w io.Writer) (int, error) {
	enc := json.NewEncoder(w)
	n := 0

	err := g.Each(func(doc Doc) error {
		encErr := enc.Encode(doc)
		if encErr != nil {
			return fmt.Errorf("encode doc %d: %w", n, encErr)
		}

		n++

		return nil
	})

	return n, err
}
