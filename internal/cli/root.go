// Package cli is the capwatch command tree.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/raysh454/capwatch/internal/app"
	"github.com/raysh454/capwatch/internal/logging"
)

// options is the state shared by every command.
type options struct {
	cfgFile string
	verbose bool

	cfg    *app.Config
	logger logging.Logger
	logOut io.Writer
}

// NewRootCmd builds the command tree. Each call returns an independent tree.
func NewRootCmd() *cobra.Command {
	opts := &options{logOut: os.Stderr}

	root := &cobra.Command{
		Use:   "capwatch",
		Short: "Run capability scans and watch their results",
		Long: `capwatch submits capability scans to the job backend and follows them
until they finish, either by polling the job status or by subscribing to
its result stream, depending on the capability.

Configuration is read from capwatch.yaml (working directory or
~/.config/capwatch) and CAPWATCH_* environment variables.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Skip config loading for commands that don't need it
			if cmd.Name() == "help" || cmd.Name() == "capabilities" {
				return nil
			}
			return opts.load()
		},
	}

	root.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file path")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "verbose output")
	root.Version = "0.1.0-dev"

	root.AddCommand(
		newScanCmd(opts),
		newCapabilitiesCmd(),
		newHistoryCmd(opts),
		newDemoBackendCmd(opts),
	)
	return root
}

func (o *options) load() error {
	cfg, err := app.LoadConfig(o.cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	if o.verbose {
		level = logging.LevelDebug
	}
	o.cfg = cfg
	o.logger = logging.NewLogger(o.logOut, "capwatch", level)
	return nil
}

// Execute runs the root command against os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}
