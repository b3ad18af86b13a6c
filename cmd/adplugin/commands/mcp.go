package commands

import (
	"github.com/spf13/cobra"

	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/mcp"
	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/observability"
	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/overlay"
)

// NewMCPCommand creates the MCP server command.
func NewMCPCommand(global *GlobalOptions) *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start MCP server for AI agent integration",
		Long: `Start a Model Context Protocol (MCP) server on stdio transport.

The MCP server exposes the anomaly overlay as tools that AI agents can
discover and invoke:
  - overlay_anomalies: Merge a detector's anomalies into vis_data
  - augment_vis_links: List the detectors linked to a visualization`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cobraCmd *cobra.Command, _ []string) error {
			opts := *global
			opts.Verbose = opts.Verbose || debug

			rt, err := newRuntime(&opts, observability.ModeMCP)
			if err != nil {
				return err
			}
			defer rt.close()

			loader, err := rt.loader()
			if err != nil {
				return err
			}

			fn := overlay.NewFunction(overlay.FunctionDeps{
				Fetcher: rt.fetcher,
				Logger:  rt.logger,
				Metrics: rt.red,
				Counts:  rt.counts,
				Tracer:  rt.providers.Tracer,
			})

			srv := mcp.NewServer(mcp.ServerDeps{
				Function: fn,
				Loader:   loader,
				Logger:   rt.logger,
				Metrics:  rt.red,
				Tracer:   rt.providers.Tracer,
			})

			return srv.Run(cobraCmd.Context())
		},
	}

	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging to stderr")

	return cmd
}
