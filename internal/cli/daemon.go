package cli

import (
	"context"
	"fmt"

	"github.com/nholik/smso/internal/api"
	"github.com/nholik/smso/internal/logging"
	"github.com/nholik/smso/internal/runner"
	"github.com/nholik/smso/internal/server"
	"github.com/spf13/cobra"
)

func newMonitorCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Run health passes and roll failing services back",
		Long:  `Probe every registered service on SMSO_MONITOR_INTERVAL. A failing service is restarted from its stable snapshot when one exists.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if !once {
					return a.runDaemon(ctx, false)
				}
				pass, err := a.monitor.RunPass(ctx)
				if outputFlags.json {
					if encodeErr := writeJSON(cmd.OutOrStdout(), pass.Records); encodeErr != nil {
						return encodeErr
					}
				} else {
					for _, r := range pass.Records {
						fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", r.Service, r.Action, r.Result)
					}
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Run a single pass and exit")
	addOutputFlags(cmd.Flags())
	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the health monitor with the dashboard API, health and metrics endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return a.runDaemon(ctx, true)
			})
		},
	}
}

// runDaemon schedules monitor passes until ctx ends, with the HTTP servers alongside.
func (a *app) runDaemon(ctx context.Context, withAPI bool) error {
	a.logger.Info().
		Str("channel", a.cfg.Channel).
		Str("registry", a.cfg.Registry).
		Dur("monitor_interval", a.cfg.MonitorInterval).
		Bool("api", withAPI && a.cfg.APIPort > 0).
		Msg("smso starting")

	endpoints := server.Endpoints{
		Interval:    a.cfg.MonitorInterval,
		Tracker:     a.tracker,
		Metrics:     a.metrics,
		HealthPort:  a.cfg.HealthPort,
		MetricsPort: a.cfg.MetricsPort,
	}
	if withAPI {
		endpoints.API = api.NewRouter(a.dashboard, logging.Component(a.logger, "api"), a.cfg.APICORSOrigins)
		endpoints.APIPort = a.cfg.APIPort
	}
	server.Start(ctx, logging.Component(a.logger, "server"), endpoints)

	r := runner.New(logging.Component(a.logger, "runner"), a.cfg.MonitorInterval,
		runner.WithPasser(a.monitor),
		runner.WithTracker(a.tracker),
	)
	return r.Run(ctx)
}
