// Package commands implements the adplugin subcommands.
package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/adclient"
	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/cache"
	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/config"
	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/expressions"
	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/observability"
	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/overlay"
	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/plugin"
	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/savedobjects"
	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/version"
)

const (
	rootCmdUse   = "adplugin"
	rootCmdShort = "Anomaly detection overlay for OpenSearch visualizations"
	rootCmdLong  = `adplugin overlays anomaly detection results on line chart data.

Commands:
  overlay      Merge a detector's anomalies into vis_data
  links        Manage detector to visualization links
  serve        Serve the expression and application HTTP API
  mcp          Start the MCP server on stdio
  sample-data  Generate or index the HTTP response sample data
  version      Show version information`

	configFlag  = "config"
	verboseFlag = "verbose"
	quietFlag   = "quiet"
)

// GlobalOptions are the persistent root flags.
type GlobalOptions struct {
	ConfigPath string
	Verbose    bool
	Quiet      bool
}

// NewRootCommand builds the adplugin command tree.
func NewRootCommand() *cobra.Command {
	opts := &GlobalOptions{}

	rootCmd := &cobra.Command{
		Use:           rootCmdUse,
		Short:         rootCmdShort,
		Long:          rootCmdLong,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.ConfigPath, configFlag, "c", "", "config file (default adplugin.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&opts.Verbose, verboseFlag, "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&opts.Quiet, quietFlag, "q", false, "suppress output")

	rootCmd.AddCommand(NewOverlayCommand(opts))
	rootCmd.AddCommand(NewLinksCommand(opts))
	rootCmd.AddCommand(NewServeCommand(opts))
	rootCmd.AddCommand(NewMCPCommand(opts))
	rootCmd.AddCommand(NewSampleDataCommand(opts))
	rootCmd.AddCommand(NewVersionCommand())

	return rootCmd
}

// observabilityConfig maps file configuration and root flags to the
// observability setup of one mode.
func observabilityConfig(cfg *config.Config, mode observability.AppMode, opts *GlobalOptions) observability.Config {
	oc := observability.DefaultConfig()
	oc.ServiceVersion = version.Version
	oc.Environment = cfg.Observability.Environment
	oc.Mode = mode
	oc.OTLPEndpoint = cfg.Observability.OTLPEndpoint
	oc.OTLPHeaders = observability.ParseOTLPHeaders(cfg.Observability.OTLPHeaders)
	oc.OTLPInsecure = cfg.Observability.OTLPInsecure
	oc.DebugTrace = cfg.Observability.DebugTrace
	oc.SampleRatio = cfg.Observability.SampleRatio
	oc.LogLevel = cfg.Logging.SlogLevel()
	oc.LogJSON = cfg.Logging.Format == config.LogFormatJSON

	// Only the server has a /metrics route to scrape.
	oc.Prometheus = mode == observability.ModeServe && cfg.Observability.Prometheus

	// Stdout carries the protocol; logs must stay machine readable.
	if mode == observability.ModeMCP {
		oc.LogJSON = true
	}

	switch {
	case opts.Verbose:
		oc.LogLevel = slog.LevelDebug
	case opts.Quiet:
		oc.LogLevel = slog.LevelError
	}

	return oc
}

// runtime is everything a command needs to reach the cluster and the
// saved object store.
type runtime struct {
	cfg       *config.Config
	providers observability.Providers
	logger    *slog.Logger
	red       *observability.REDMetrics
	counts    *observability.OverlayMetrics
	doer      adclient.Doer
	client    *adclient.Client
	fetcher   overlay.Fetcher
}

func newRuntime(opts *GlobalOptions, mode observability.AppMode) (*runtime, error) {
	cfg, err := config.LoadConfig(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	providers, err := observability.Init(observabilityConfig(cfg, mode, opts))
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}

	rt := &runtime{cfg: cfg, providers: providers, logger: providers.Logger}

	rt.red, err = observability.NewREDMetrics(providers.Meter)
	if err != nil {
		rt.close()

		return nil, err
	}

	rt.counts, err = observability.NewOverlayMetrics(providers.Meter)
	if err != nil {
		rt.close()

		return nil, err
	}

	osClient, err := adclient.NewOpenSearchClient(adclient.ClusterConfig{
		Addresses:          cfg.OpenSearch.Addresses,
		Username:           cfg.OpenSearch.Username,
		Password:           cfg.OpenSearch.Password,
		InsecureSkipVerify: cfg.OpenSearch.InsecureSkipVerify,
		Timeout:            cfg.OpenSearch.Timeout,
	})
	if err != nil {
		rt.close()

		return nil, err
	}

	rt.doer = adclient.NewOpenSearchDoer(osClient)
	rt.client = adclient.NewClient(rt.doer, adclient.Options{
		ResultsPath:  cfg.OpenSearch.ResultsPath,
		MaxAnomalies: cfg.Overlay.MaxAnomalies,
		Historical:   cfg.Overlay.Historical,
		Logger:       rt.logger,
	})

	rt.fetcher = rt.client
	if cfg.Overlay.CacheSize > 0 {
		rt.fetcher = cache.NewFetcher(rt.client, cache.NewResultCache(cfg.Overlay.CacheSize, cfg.Overlay.CacheTTL), rt.logger)
	}

	return rt, nil
}

func (rt *runtime) close() {
	err := rt.providers.Shutdown(context.Background())
	if err != nil {
		rt.logger.Warn("observability shutdown failed", "error", err)
	}
}

func (rt *runtime) loader() (*savedobjects.Loader, error) {
	maxSize, err := rt.cfg.SavedObjects.MaxFileBytes()
	if err != nil {
		return nil, err
	}

	return savedobjects.NewLoader(rt.cfg.SavedObjects.Directory, rt.cfg.SavedObjects.Codec, maxSize, rt.logger)
}

// host is the plugin set up and started against the runtime.
type host struct {
	plugin   *plugin.Plugin
	registry *expressions.Registry
	apps     *plugin.Applications
	loader   *savedobjects.Loader
}

func (rt *runtime) startPlugin() (*host, error) {
	loader, err := rt.loader()
	if err != nil {
		return nil, err
	}

	h := &host{
		plugin: plugin.New(plugin.Deps{
			Logger:  rt.logger,
			Metrics: rt.red,
			Counts:  rt.counts,
			Tracer:  rt.providers.Tracer,
		}),
		registry: expressions.NewRegistry(),
		apps:     plugin.NewApplications(),
		loader:   loader,
	}

	err = h.plugin.Setup(plugin.CoreSetup{Applications: h.apps, HTTP: rt.fetcher}, plugin.SetupDeps{Expressions: h.registry})
	if err != nil {
		return nil, err
	}

	err = h.plugin.Start(plugin.CoreStart{Search: rt.doer}, plugin.StartDeps{VisAugmenter: loader})
	if err != nil {
		return nil, err
	}

	return h, nil
}
