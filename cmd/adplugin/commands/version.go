package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/version"
)

// NewVersionCommand creates the version subcommand.
func NewVersionCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cobraCmd *cobra.Command, _ []string) error {
			info := version.Get()
			w := cobraCmd.OutOrStdout()

			switch format {
			case "text":
				fmt.Fprintln(w, info.String())

				return nil
			case FormatJSON:
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")

				return enc.Encode(info)
			case FormatYAML:
				return yaml.NewEncoder(w).Encode(info)
			default:
				return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
			}
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text, json or yaml")

	return cmd
}
