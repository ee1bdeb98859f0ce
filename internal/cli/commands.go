package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/nholik/smso/internal/deploy"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var outputFlags struct {
	json bool
}

func addOutputFlags(flags *pflag.FlagSet) {
	flags.BoolVar(&outputFlags.json, "json", false, "Print the full result as JSON")
}

// commandContext cancels on SIGINT or SIGTERM.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// withApp builds the components and runs fn with a signal-aware context.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return fn(ctx, a)
}

func printResult(w io.Writer, result deploy.Result) error {
	if outputFlags.json {
		if err := writeJSON(w, result); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(w, result.Message)
		for _, warning := range result.Warnings {
			fmt.Fprintf(w, "warning: %s\n", warning)
		}
	}
	if !result.OK() {
		return errOperationFailed
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newDeployCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy <service>",
		Short: "Deploy one registered service",
		Long:  `Stop and remove the current container, pull and run the registered image, verify it started and passes its health check, then commit a stable snapshot.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return printResult(cmd.OutOrStdout(), a.dashboard.Deploy(ctx, args[0]))
			})
		},
	}
	addOutputFlags(cmd.Flags())
	return cmd
}

func newDeployAllCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy-all",
		Short: "Deploy every registered service in order",
		Long:  `Deploy services in registry order. The first failure stops the batch; later services are not attempted.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				batch := a.dashboard.DeployAll(ctx)
				w := cmd.OutOrStdout()
				if outputFlags.json {
					if err := writeJSON(w, batch); err != nil {
						return err
					}
				} else {
					for _, result := range batch.Results {
						fmt.Fprintln(w, result.Message)
					}
					fmt.Fprintln(w, batch.Message)
				}
				if batch.Kind != deploy.KindOK {
					return errOperationFailed
				}
				return nil
			})
		},
	}
	addOutputFlags(cmd.Flags())
	return cmd
}

func newStopCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop <service>",
		Short: "Stop and remove one service container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return printResult(cmd.OutOrStdout(), a.dashboard.Stop(ctx, args[0]))
			})
		},
	}
	addOutputFlags(cmd.Flags())
	return cmd
}

func newStopAllCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop-all",
		Short: "Stop every container on the target",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return printResult(cmd.OutOrStdout(), a.dashboard.StopAll(ctx))
			})
		},
	}
	addOutputFlags(cmd.Flags())
	return cmd
}

func newRollbackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollback <service>",
		Short: "Run a service from its stable snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return printResult(cmd.OutOrStdout(), a.dashboard.Rollback(ctx, args[0]))
			})
		},
	}
	addOutputFlags(cmd.Flags())
	return cmd
}

func newStatusCmd() *cobra.Command {
	var inspect bool
	cmd := &cobra.Command{
		Use:   "status [service]",
		Short: "Show one service's state, or the container table",
		Long:  `With a service name, print "running|<startedAt>" or "not_running|NA". Without one, print the target's container table.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				w := cmd.OutOrStdout()
				if len(args) == 0 {
					table, err := a.dashboard.GetStatusTable(ctx)
					if err != nil {
						return err
					}
					fmt.Fprint(w, table)
					return nil
				}
				if inspect {
					fmt.Fprintln(w, a.query.Inspect(ctx, args[0]).Encode())
					return nil
				}
				fmt.Fprintln(w, a.dashboard.GetSingleStatus(ctx, args[0]))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&inspect, "inspect", false, "Use the full container state and report unhealthy containers")
	return cmd
}

func newUptimeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uptime <service>",
		Short: "Show how long a service has been running",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				fmt.Fprintln(cmd.OutOrStdout(), a.dashboard.GetContainerUptime(ctx, args[0]))
				return nil
			})
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version <service>",
		Short: "Show the image a service runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				fmt.Fprintln(cmd.OutOrStdout(), a.dashboard.GetServiceVersion(ctx, args[0]))
				return nil
			})
		},
	}
}

func newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the deployment log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				records, err := a.dashboard.GetDeploymentHistory(ctx)
				if err != nil {
					return err
				}
				if limit > 0 && len(records) > limit {
					records = records[len(records)-limit:]
				}

				w := cmd.OutOrStdout()
				if outputFlags.json {
					return writeJSON(w, records)
				}
				if len(records) == 0 {
					fmt.Fprintln(w, "No deployments yet")
					return nil
				}
				fmt.Fprintf(w, "%-19s  %-8s  %-20s  %s\n", "TIME", "STATUS", "SERVICE", "DETAIL")
				for _, r := range records {
					detail := r.Image
					if r.Reason != "" {
						detail = r.Reason
					}
					fmt.Fprintf(w, "%-19s  %-8s  %-20s  %s\n", r.Timestamp, r.Status, r.Service, detail)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Show only the most recent entries (0 shows all)")
	addOutputFlags(cmd.Flags())
	return cmd
}
