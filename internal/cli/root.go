// Package cli implements the smso command line.
package cli

import (
	"errors"
	"os"
	"strings"

	"github.com/nholik/smso/internal/config"
	"github.com/nholik/smso/internal/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// errOperationFailed marks a command whose operation reported a failure result. The message
// has already been printed.
var errOperationFailed = errors.New("operation failed")

var rootFlags struct {
	registry string
	logLevel string
	channel  string
}

var (
	cfg    config.Config
	logger zerolog.Logger
)

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "smso",
		Short:         "Deploy and supervise container services on a remote host",
		Long:          `smso deploys named container services to one remote host over an asynchronous command channel, keeps a stable snapshot of each healthy deploy, and rolls services back when their health checks fail.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.LoadWithOverrides(func(c *config.Config) {
				applyOverrides(cmd.Flags(), c)
			})
			if err != nil {
				return err
			}
			cfg = loaded
			logger = logging.NewWithLevel(cfg.LogLevel)
			return nil
		},
	}
	cmd.CompletionOptions.DisableDefaultCmd = true

	flags := cmd.PersistentFlags()
	flags.StringVar(&rootFlags.registry, "registry", "", "Service registry path or URL (overrides SMSO_REGISTRY)")
	flags.StringVar(&rootFlags.logLevel, "log-level", "", "Log level (overrides SMSO_LOG_LEVEL)")
	flags.StringVar(&rootFlags.channel, "channel", "", "Command channel: ssm or local (overrides SMSO_CHANNEL)")

	cmd.AddCommand(
		newDeployCmd(),
		newDeployAllCmd(),
		newStopCmd(),
		newStopAllCmd(),
		newRollbackCmd(),
		newStatusCmd(),
		newUptimeCmd(),
		newVersionCmd(),
		newHistoryCmd(),
		newMonitorCmd(),
		newServeCmd(),
	)
	return cmd
}

// applyOverrides copies explicitly set flags over environment configuration.
func applyOverrides(flags *pflag.FlagSet, c *config.Config) {
	if flags.Changed("registry") {
		c.Registry = rootFlags.registry
	}
	if flags.Changed("log-level") {
		c.LogLevel = rootFlags.logLevel
	}
	if flags.Changed("channel") {
		c.Channel = strings.ToLower(rootFlags.channel)
	}
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errOperationFailed) {
			logging.New().Error().Err(err).Msg("smso failed")
		}
		os.Exit(1)
	}
}
