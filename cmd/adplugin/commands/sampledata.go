package commands

import (
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/observability"
	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/sampledata"
)

const (
	sampleCmdUse   = "sample-data"
	sampleCmdShort = "Generate or index the HTTP response sample data"
	sampleCmdLong  = `Generate per-minute HTTP status code counts for random client IPs and
the sample endpoints, with occasional bursts of 4xx and 5xx responses.

Documents are written as NDJSON to --output (stdout by default), LZ4 framed
with --lz4, or bulk indexed into the configured cluster with --index.`
)

// ErrOutputAndIndex is returned when both an output and an index are requested.
var ErrOutputAndIndex = errors.New("--output and --index are mutually exclusive")

type sampleOptions struct {
	docs       int
	ips        int
	intervalMs int64
	seed       uint64
	output     string
	lz4        bool
	index      string
	batchSize  int
}

// NewSampleDataCommand creates the sample-data subcommand.
func NewSampleDataCommand(global *GlobalOptions) *cobra.Command {
	opts := &sampleOptions{}

	cmd := &cobra.Command{
		Use:   sampleCmdUse,
		Short: sampleCmdShort,
		Long:  sampleCmdLong,
		Args:  cobra.NoArgs,
		RunE: func(cobraCmd *cobra.Command, _ []string) error {
			if opts.output != "" && opts.index != "" {
				return ErrOutputAndIndex
			}

			g := opts.generator()
			status := statusPrinter{w: cobraCmd.ErrOrStderr(), quiet: global.Quiet}

			if opts.index != "" {
				return indexSampleData(cobraCmd, global, opts, g, status)
			}

			n, err := writeSampleData(cobraCmd.OutOrStdout(), opts, g)
			if err != nil {
				return err
			}

			status.ok("Wrote %s documents\n", humanize.Comma(int64(n)))

			return nil
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&opts.docs, "docs", sampledata.DefaultDocs, "ticks to generate")
	flags.IntVar(&opts.ips, "ips", sampledata.DefaultIPCount, "number of client IPs")
	flags.Int64Var(&opts.intervalMs, "interval-ms", sampledata.DefaultIntervalMs, "milliseconds between ticks")
	flags.Uint64Var(&opts.seed, "seed", 0, "random seed (0 picks one)")
	flags.StringVarP(&opts.output, "output", "o", "", "output file (default stdout)")
	flags.BoolVar(&opts.lz4, "lz4", false, "LZ4 frame the output")
	flags.StringVar(&opts.index, "index", "", "bulk index into this index instead of writing")
	flags.IntVar(&opts.batchSize, "batch-size", sampledata.DefaultBatchSize, "documents per bulk request")

	return cmd
}

func (o *sampleOptions) generator() *sampledata.Generator {
	seed := o.seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano()) //nolint:gosec // clock as seed
	}

	r := rand.New(rand.NewPCG(seed, seed))

	g := sampledata.NewGenerator(r)
	g.Docs = o.docs
	g.IntervalMs = o.intervalMs
	g.IPs = sampledata.RandomIPs(r, o.ips)

	return g
}

func writeSampleData(stdout io.Writer, opts *sampleOptions, g *sampledata.Generator) (int, error) {
	w := stdout

	if opts.output != "" {
		f, err := os.OpenFile(opts.output, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerm)
		if err != nil {
			return 0, fmt.Errorf("create %s: %w", opts.output, err)
		}
		defer f.Close()

		w = f
	}

	if opts.lz4 {
		return g.WriteLZ4(w)
	}

	return g.WriteNDJSON(w)
}

func indexSampleData(
	cobraCmd *cobra.Command, global *GlobalOptions, opts *sampleOptions, g *sampledata.Generator, status statusPrinter,
) error {
	rt, err := newRuntime(global, observability.ModeCLI)
	if err != nil {
		return err
	}
	defer rt.close()

	ix := &sampledata.Indexer{
		Doer:      rt.doer,
		Index:     opts.index,
		BatchSize: opts.batchSize,
		Logger:    rt.logger,
	}

	n, err := ix.Load(cobraCmd.Context(), g)
	if err != nil {
		return err
	}

	status.ok("Indexed %s documents into %s\n", humanize.Comma(int64(n)), opts.index)

	return nil
}
