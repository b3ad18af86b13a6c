package httpapi

import (
	"fmt"
	"math/rand/v2"
	"net/http"

	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/sampledata"
)

// SampleDataRequest is the optional body of POST /api/sample-data.
type SampleDataRequest struct {
	// Docs is the number of ticks, at most sampledata.DefaultDocs. Zero uses
	// the default.
	Docs int `json:"docs,omitempty"`
	// Seed makes the data reproducible. Zero seeds from the clock.
	Seed  uint64 `json:"seed,omitempty"`
	Index string `json:"index,omitempty"`
}

// SampleDataResponse reports a finished load.
type SampleDataResponse struct {
	Index   string `json:"index"`
	Indexed int    `json:"indexed"`
}

func (h *handler) loadSampleData(w http.ResponseWriter, r *http.Request) {
	var req SampleDataRequest

	if r.ContentLength != 0 {
		err := h.decode(w, r, &req)
		if err != nil {
			h.writeError(w, r, err)

			return
		}
	}

	if req.Docs > sampledata.DefaultDocs {
		h.writeError(w, r, fmt.Errorf("%w: docs above %d", ErrBadRequestBody, sampledata.DefaultDocs))

		return
	}

	search, err := h.services.Search()
	if err != nil {
		h.writeError(w, r, err)

		return
	}

	seed := req.Seed
	if seed == 0 {
		seed = uint64(h.now().UnixNano()) //nolint:gosec // clock as seed
	}

	g := sampledata.NewGenerator(rand.New(rand.NewPCG(seed, seed))) //nolint:gosec // sample data
	if req.Docs != 0 {
		g.Docs = req.Docs
	}

	index := req.Index
	if index == "" {
		index = sampledata.DefaultIndex
	}

	ix := &sampledata.Indexer{Doer: search, Index: index, Logger: h.logger}

	n, err := ix.Load(r.Context(), g)
	if err != nil {
		h.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, SampleDataResponse{Index: index, Indexed: n})
}
