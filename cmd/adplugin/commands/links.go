package commands

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/config"
	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/observability"
	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/savedobjects"
)

const (
	linksCmdUse   = "links"
	linksCmdShort = "Manage detector to visualization links"
	linkIDArgs    = 1
)

// ErrNoVisID is returned when a links subcommand lacks --vis-id.
var ErrNoVisID = errors.New("visualization id is required (use --vis-id)")

// NewLinksCommand creates the links command group.
func NewLinksCommand(global *GlobalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   linksCmdUse,
		Short: linksCmdShort,
	}

	cmd.AddCommand(newLinksListCommand(global))
	cmd.AddCommand(newLinksAddCommand(global))
	cmd.AddCommand(newLinksDeleteCommand(global))

	return cmd
}

func newLinksListCommand(global *GlobalOptions) *cobra.Command {
	var visID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the detectors linked to a visualization",
		Args:  cobra.NoArgs,
		RunE: func(cobraCmd *cobra.Command, _ []string) error {
			if visID == "" {
				return ErrNoVisID
			}

			loader, err := openLoader(global, cobraCmd.ErrOrStderr())
			if err != nil {
				return err
			}

			links, err := loader.FindByVis(visID)
			if err != nil {
				return err
			}

			writeLinks(cobraCmd.OutOrStdout(), links, time.Now())

			return nil
		},
	}

	cmd.Flags().StringVar(&visID, "vis-id", "", "visualization id")

	return cmd
}

func newLinksAddCommand(global *GlobalOptions) *cobra.Command {
	var link savedobjects.AugmentVis

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Link a detector to a visualization",
		Args:  cobra.NoArgs,
		RunE: func(cobraCmd *cobra.Command, _ []string) error {
			loader, err := openLoader(global, cobraCmd.ErrOrStderr())
			if err != nil {
				return err
			}

			saved, err := loader.Save(link)
			if err != nil {
				return err
			}

			fmt.Fprintln(cobraCmd.OutOrStdout(), saved.ID)

			return nil
		},
	}

	cmd.Flags().StringVar(&link.VisID, "vis-id", "", "visualization id")
	cmd.Flags().StringVarP(&link.DetectorID, "detector", "d", "", "anomaly detector id")
	cmd.Flags().StringVar(&link.Title, "title", "", "optional link title")

	return cmd
}

func newLinksDeleteCommand(global *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove a link",
		Args:  cobra.ExactArgs(linkIDArgs),
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			loader, err := openLoader(global, cobraCmd.ErrOrStderr())
			if err != nil {
				return err
			}

			err = loader.Delete(args[0])
			if err != nil {
				return err
			}

			statusPrinter{w: cobraCmd.ErrOrStderr(), quiet: global.Quiet}.ok("Deleted %s\n", args[0])

			return nil
		},
	}
}

// openLoader opens the saved object store without reaching the cluster.
func openLoader(global *GlobalOptions, logOut io.Writer) (*savedobjects.Loader, error) {
	cfg, err := config.LoadConfig(global.ConfigPath)
	if err != nil {
		return nil, err
	}

	maxSize, err := cfg.SavedObjects.MaxFileBytes()
	if err != nil {
		return nil, err
	}

	logger := observability.NewLogger(logOut, observabilityConfig(cfg, observability.ModeCLI, global))

	return savedobjects.NewLoader(cfg.SavedObjects.Directory, cfg.SavedObjects.Codec, maxSize, logger)
}

func writeLinks(w io.Writer, links []savedobjects.AugmentVis, now time.Time) {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.AppendHeader(table.Row{"ID", "Detector", "Title", "Linked"})

	for _, link := range links {
		tbl.AppendRow(table.Row{link.ID, link.DetectorID, link.Title, humanize.RelTime(link.CreatedAt, now, "ago", "from now")})
	}

	tbl.AppendFooter(table.Row{"", "", "Total", len(links)})
	tbl.Render()
}
