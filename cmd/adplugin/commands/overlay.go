package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/datatable"
	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/expressions"
	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/observability"
	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/overlay"
	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/render"
	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/savedobjects"
	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/timerange"
)

const (
	overlayCmdUse   = "overlay"
	overlayCmdShort = "Merge a detector's anomalies into vis_data"
	overlayCmdLong  = `Read vis_data from a file (or stdin with "-"), fetch the detector's
anomalous results for the time range and write the augmented vis_data.

The anomaly column "ad" repeats the primary series value at each bucket holding
an anomaly's midpoint and is empty elsewhere. A context timeRange wins over --from/--to.`

	stdinName = "-"
	filePerm  = 0o600

	// Output formats.
	FormatJSON  = "json"
	FormatYAML  = "yaml"
	FormatTable = "table"

	missingCell = "-"
)

// Overlay command errors.
var (
	ErrNoInput         = errors.New("input is required (use --input)")
	ErrHalfTimeRange   = errors.New("--from and --to must be given together")
	ErrUnknownFormat   = errors.New("unknown output format")
	ErrSaveNeedsVis    = errors.New("--save requires --vis-id and --detector")
	ErrUnexpectedValue = errors.New("overlay returned an unexpected value")
)

type overlayOptions struct {
	input      string
	detectorID string
	from       string
	to         string
	context    string
	format     string
	html       string
	save       bool
	visID      string
	title      string
}

// NewOverlayCommand creates the overlay subcommand.
func NewOverlayCommand(global *GlobalOptions) *cobra.Command {
	opts := &overlayOptions{}

	cmd := &cobra.Command{
		Use:   overlayCmdUse,
		Short: overlayCmdShort,
		Long:  overlayCmdLong,
		Args:  cobra.NoArgs,
		RunE: func(cobraCmd *cobra.Command, _ []string) error {
			err := opts.validate()
			if err != nil {
				return err
			}

			return runOverlay(cobraCmd, global, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.input, "input", "i", "", `vis_data JSON file, "-" for stdin`)
	flags.StringVarP(&opts.detectorID, "detector", "d", "", "anomaly detector id")
	flags.StringVar(&opts.from, "from", "", "range start, e.g. now-24h")
	flags.StringVar(&opts.to, "to", "", "range end, e.g. now")
	flags.StringVar(&opts.context, "context", "", "serialized search context JSON")
	flags.StringVarP(&opts.format, "format", "f", FormatJSON, "output format: json, yaml or table")
	flags.StringVar(&opts.html, "html", "", "also write an HTML chart to this path")
	flags.BoolVar(&opts.save, "save", false, "link the detector to --vis-id")
	flags.StringVar(&opts.visID, "vis-id", "", "visualization id for --save")
	flags.StringVar(&opts.title, "title", "", "link title for --save")

	return cmd
}

func (o *overlayOptions) validate() error {
	if o.input == "" {
		return ErrNoInput
	}

	if (o.from == "") != (o.to == "") {
		return ErrHalfTimeRange
	}

	switch o.format {
	case FormatJSON, FormatYAML, FormatTable:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, o.format)
	}

	if o.save && (o.visID == "" || o.detectorID == "") {
		return ErrSaveNeedsVis
	}

	return nil
}

func (o *overlayOptions) arguments() map[string]any {
	args := map[string]any{}

	if o.detectorID != "" {
		args["detectorId"] = o.detectorID
	}

	if o.context != "" {
		args["context"] = o.context
	}

	return args
}

func (o *overlayOptions) execution(now time.Time) expressions.Execution {
	exec := expressions.Execution{Now: now}

	if o.from != "" {
		exec.TimeRange = &timerange.TimeRange{From: o.from, To: o.to}
	}

	return exec
}

func runOverlay(cobraCmd *cobra.Command, global *GlobalOptions, opts *overlayOptions) error {
	input, err := readInput(cobraCmd.InOrStdin(), opts.input)
	if err != nil {
		return err
	}

	rt, err := newRuntime(global, observability.ModeCLI)
	if err != nil {
		return err
	}
	defer rt.close()

	h, err := rt.startPlugin()
	if err != nil {
		return err
	}

	data, err := executeOverlay(cobraCmd.Context(), h.registry, input, opts)
	if err != nil {
		return err
	}

	err = writeVisData(cobraCmd.OutOrStdout(), opts.format, data)
	if err != nil {
		return err
	}

	status := statusPrinter{w: cobraCmd.ErrOrStderr(), quiet: global.Quiet}
	status.summary(data)

	if opts.html != "" {
		err = writeHTML(opts.html, opts.detectorID, data)
		if err != nil {
			return err
		}

		status.ok("Chart written to %s\n", opts.html)
	}

	if opts.save {
		link, saveErr := h.loader.Save(savedobjects.AugmentVis{
			VisID:      opts.visID,
			DetectorID: opts.detectorID,
			Title:      opts.title,
		})
		if saveErr != nil {
			return saveErr
		}

		status.ok("Linked detector %s to visualization %s (%s)\n", link.DetectorID, link.VisID, link.ID)
	}

	return nil
}

func executeOverlay(
	ctx context.Context, reg *expressions.Registry, input json.RawMessage, opts *overlayOptions,
) (overlay.VisData, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	got, err := reg.Execute(ctx, overlay.FunctionName, input, opts.arguments(), opts.execution(time.Now()))
	if err != nil {
		return overlay.VisData{}, err
	}

	data, ok := got.(overlay.VisData)
	if !ok {
		return overlay.VisData{}, fmt.Errorf("%w: %T", ErrUnexpectedValue, got)
	}

	return data, nil
}

func readInput(stdin io.Reader, name string) (json.RawMessage, error) {
	if name == stdinName {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}

		return data, nil
	}

	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}

	return data, nil
}

// writeVisData prints data in the chosen format.
func writeVisData(w io.Writer, format string, data overlay.VisData) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		return enc.Encode(data)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		defer enc.Close()

		return enc.Encode(data)
	case FormatTable:
		return writeTable(w, data.Table)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

func writeTable(w io.Writer, t *datatable.Table) error {
	if t == nil {
		return datatable.ErrNilTable
	}

	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)

	header := make(table.Row, len(t.Columns))
	for i, col := range t.Columns {
		header[i] = columnLabel(col)
	}

	tbl.AppendHeader(header)

	for _, row := range t.Rows {
		cells := make(table.Row, len(t.Columns))

		for i, col := range t.Columns {
			value, ok := row[col.ID]
			if !ok {
				cells[i] = missingCell

				continue
			}

			cells[i] = cellText(value)
		}

		tbl.AppendRow(cells)
	}

	tbl.Render()

	return nil
}

// cellText prints whole floats without an exponent; epoch milliseconds
// decoded from JSON would otherwise read 1.7e+12.
func cellText(value any) any {
	f, ok := value.(float64)
	if !ok {
		return value
	}

	return strconv.FormatFloat(f, 'f', -1, 64)
}

func columnLabel(col datatable.Column) string {
	if col.Name != "" {
		return col.Name
	}

	return col.ID
}

func writeHTML(path, detectorID string, data overlay.VisData) error {
	page, err := render.OverlayPage(detectorID, data)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerm)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	err = page.Render(f)
	if err != nil {
		_ = f.Close()

		return err
	}

	return f.Close()
}

// statusPrinter writes colored progress lines to stderr.
type statusPrinter struct {
	w     io.Writer
	quiet bool
}

func (s statusPrinter) ok(format string, args ...any) {
	if s.quiet {
		return
	}

	color.New(color.FgGreen).Fprintf(s.w, format, args...)
}

func (s statusPrinter) warn(format string, args ...any) {
	if s.quiet {
		return
	}

	color.New(color.FgYellow).Fprintf(s.w, format, args...)
}

func (s statusPrinter) summary(data overlay.VisData) {
	if data.Table == nil {
		return
	}

	flagged := 0

	for _, row := range data.Table.Rows {
		if _, ok := row[overlay.ColumnID]; ok {
			flagged++
		}
	}

	if flagged == 0 {
		s.warn("No anomalous buckets in %d rows\n", len(data.Table.Rows))

		return
	}

	s.ok("%d of %d buckets anomalous\n", flagged, len(data.Table.Rows))
}
