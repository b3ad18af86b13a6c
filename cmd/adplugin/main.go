// Package main provides the entry point for the adplugin CLI tool.
package main

import (
	"fmt"
	"os"

	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/cmd/adplugin/commands"
)

func main() {
	err := commands.NewRootCommand().Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
