package sampledata_test

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math/rand/v2"
	"strconv"
	"testing"

	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/sampledata"
)

func seeded() *rand.Rand {
	return rand.New(rand.NewPCG(1, 2))
}

func smallGenerator() *sampledata.Generator {
	return &sampledata.Generator{
		Docs:       3,
		IntervalMs: 60000,
		IPs:        []string{"10.0.0.1", "10.0.0.2"},
		Endpoints:  []string{"/a", "/b"},
		StartTs:    100000,
		Rand:       seeded(),
	}
}

func decodeAll(t *testing.T, r io.Reader) []sampledata.Doc {
	t.Helper()

	var docs []sampledata.Doc

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		var doc sampledata.Doc

		require.NoError(t, json.Unmarshal(scanner.Bytes(), &doc))

		docs = append(docs, doc)
	}

	require.NoError(t, scanner.Err())

	return docs
}

func TestGenerator_LayoutAndTimestamps(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	n, err := smallGenerator().WriteNDJSON(&buf)
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	docs := decodeAll(t, &buf)
	require.Len(t, docs, 12)

	assert.Equal(t, int64(100000), docs[0].Timestamp)
	assert.Equal(t, "10.0.0.1", docs[0].IP)
	assert.Equal(t, "/a", docs[0].Endpoint)
	assert.Equal(t, "/b", docs[1].Endpoint)
	assert.Equal(t, "10.0.0.2", docs[2].IP)
	assert.Equal(t, int64(160000), docs[4].Timestamp)
	assert.Equal(t, int64(220000), docs[11].Timestamp)
}

func TestGenerator_OneHotStatusClass(t *testing.T) {
	t.Parallel()

	g := smallGenerator()
	g.Docs = 500

	err := g.Each(func(doc sampledata.Doc) error {
		code, convErr := strconv.Atoi(doc.StatusCode)
		require.NoError(t, convErr)

		classes := []int{doc.HTTP1xx, doc.HTTP2xx, doc.HTTP3xx, doc.HTTP4xx, doc.HTTP5xx}
		sum := 0

		for _, c := range classes {
			sum += c
		}

		assert.Equal(t, 1, sum)
		assert.Equal(t, 1, classes[code/100-1], doc.StatusCode)

		return nil
	})
	require.NoError(t, err)
}

func TestGenerator_ProducesErrorBursts(t *testing.T) {
	t.Parallel()

	g := &sampledata.Generator{
		Docs:       200000,
		IntervalMs: 1,
		IPs:        []string{"10.0.0.1"},
		Endpoints:  []string{"/a"},
		Rand:       seeded(),
	}

	var errorsSeen, longestRun, run int

	err := g.Each(func(doc sampledata.Doc) error {
		if doc.HTTP4xx+doc.HTTP5xx == 1 {
			errorsSeen++
			run++
			longestRun = max(longestRun, run)
		} else {
			run = 0
		}

		return nil
	})
	require.NoError(t, err)

	assert.Positive(t, errorsSeen)
	assert.Less(t, errorsSeen, 2000)
	assert.GreaterOrEqual(t, longestRun, 2)
}

func TestGenerator_Deterministic(t *testing.T) {
	t.Parallel()

	var first, second bytes.Buffer

	_, err := smallGenerator().WriteNDJSON(&first)
	require.NoError(t, err)

	_, err = smallGenerator().WriteNDJSON(&second)
	require.NoError(t, err)

	assert.Equal(t, first.String(), second.String())
}

func TestGenerator_Invalid(t *testing.T) {
	t.Parallel()

	for _, g := range []*sampledata.Generator{
		{},
		{Docs: 1, IntervalMs: 1, Endpoints: []string{"/a"}},
		{Docs: 1, IntervalMs: 0, IPs: []string{"x"}, Endpoints: []string{"/a"}},
	} {
		_, err := g.WriteNDJSON(io.Discard)
		require.ErrorIs(t, err, sampledata.ErrInvalidGenerator)
	}
}

func TestGenerator_StopsOnEmitError(t *testing.T) {
	t.Parallel()

	errStop := errors.New("stop")
	calls := 0

	err := smallGenerator().Each(func(sampledata.Doc) error {
		calls++

		if calls == 2 {
			return errStop
		}

		return nil
	})
	require.ErrorIs(t, err, errStop)
	assert.Equal(t, 2, calls)
}

func TestNewGenerator_Defaults(t *testing.T) {
	t.Parallel()

	g := sampledata.NewGenerator(seeded())

	assert.Equal(t, 40320, g.Docs)
	assert.Equal(t, int64(60000), g.IntervalMs)
	assert.Len(t, g.IPs, 10)
	assert.Len(t, g.Endpoints, 5)
	assert.Regexp(t, `^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}$`, g.IPs[0])
}

func TestGenerator_WriteLZ4(t *testing.T) {
	t.Parallel()

	var packed, plain bytes.Buffer

	n, err := smallGenerator().WriteLZ4(&packed)
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	_, err = smallGenerator().WriteNDJSON(&plain)
	require.NoError(t, err)

	unpacked, err := io.ReadAll(lz4.NewReader(&packed))
	require.NoError(t, err)
	assert.Equal(t, plain.String(), string(unpacked))
}
