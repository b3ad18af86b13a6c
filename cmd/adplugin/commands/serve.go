package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/httpapi"
	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/observability"
)

const (
	serveCmdUse   = "serve"
	serveCmdShort = "Serve the expression and application HTTP API"
	serveCmdLong  = `Start the HTTP server.

Routes:
  POST /api/expressions/{name}   Execute an expression function
  GET  /api/expressions          List expression functions
  /api/augment-vis               Manage detector to visualization links
  GET  /app/{appID}              Render an application page
  GET  /healthz, /readyz         Liveness and readiness
  GET  /metrics                  Prometheus scrape (observability.prometheus)`

	shutdownTimeout = 10 * time.Second
)

// NewServeCommand creates the serve subcommand.
func NewServeCommand(global *GlobalOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   serveCmdUse,
		Short: serveCmdShort,
		Long:  serveCmdLong,
		Args:  cobra.NoArgs,
		RunE: func(cobraCmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cobraCmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServe(ctx, global, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.host:server.port)")

	return cmd
}

func runServe(ctx context.Context, global *GlobalOptions, addr string) error {
	rt, err := newRuntime(global, observability.ModeServe)
	if err != nil {
		return err
	}
	defer rt.close()

	h, err := rt.startPlugin()
	if err != nil {
		return err
	}

	maxBody, err := rt.cfg.Server.MaxBodyBytes()
	if err != nil {
		return err
	}

	if addr == "" {
		addr = rt.cfg.Server.Addr()
	}

	srv := &http.Server{
		Addr: addr,
		Handler: httpapi.NewRouter(httpapi.Deps{
			Registry:       h.registry,
			Applications:   h.apps,
			Services:       h.plugin.Services(),
			MetricsHandler: rt.providers.MetricsHandler,
			MaxBodyBytes:   maxBody,
			Logger:         rt.logger,
			Metrics:        rt.red,
			Tracer:         rt.providers.Tracer,
		}),
		ReadTimeout:  rt.cfg.Server.ReadTimeout,
		WriteTimeout: rt.cfg.Server.WriteTimeout,
		IdleTimeout:  rt.cfg.Server.IdleTimeout,
	}

	return serveUntilDone(ctx, srv, rt)
}

func serveUntilDone(ctx context.Context, srv *http.Server, rt *runtime) error {
	errCh := make(chan error, 1)

	go func() {
		rt.logger.Info("server listening", "addr", srv.Addr)

		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("listen %s: %w", srv.Addr, err)
	case <-ctx.Done():
	}

	rt.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	return nil
}
