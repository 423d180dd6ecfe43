package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/raysh454/capwatch/internal/app"
	"github.com/raysh454/capwatch/internal/archive"
	"github.com/raysh454/capwatch/internal/demoserver"
	"github.com/raysh454/capwatch/internal/model"
	"github.com/raysh454/capwatch/internal/ui"
)

func newCapabilitiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "capabilities",
		Short: "List the capabilities and how their results are delivered",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ui.PrintCapabilities(model.Capabilities())
			return nil
		},
	}
}

func newHistoryCmd(opts *options) *cobra.Command {
	var (
		target string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show finished scans recorded locally",
		Long: `Display past scans from the local history, newest first.

Use --target to restrict the list to one target and --limit to cap the
number of rows shown (default: 10).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.cfg.ArchivePath == "" {
				return fmt.Errorf("scan history is disabled (archive_path is empty)")
			}
			path, err := app.ExpandPath(opts.cfg.ArchivePath)
			if err != nil {
				return err
			}
			store, err := archive.Open(path)
			if err != nil {
				return fmt.Errorf("opening scan history: %w", err)
			}
			defer store.Close()

			recs, err := store.List(target)
			if err != nil {
				return fmt.Errorf("listing scans: %w", err)
			}
			if limit > 0 && len(recs) > limit {
				recs = recs[:limit]
			}
			ui.PrintHistory(target, recs)
			return nil
		},
	}

	cmd.Flags().StringVarP(&target, "target", "t", "", "only show scans of this target")
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum number of scans to display")
	return cmd
}

func newDemoBackendCmd(opts *options) *cobra.Command {
	cfg := demoserver.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "demo-backend",
		Short: "Serve a simulated capability job backend for local use",
		Long: `Start a self-contained backend that accepts capability jobs and simulates
their execution, serving both the polling and the streaming contract.

Point capwatch at it with backend.base_url (default http://localhost:8090).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Logger = opts.logger
			s, err := demoserver.NewServer(cfg)
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd)
			defer stop()
			return demoserver.Run(ctx, s)
		},
	}

	cmd.Flags().StringVar(&cfg.ListenAddr, "addr", cfg.ListenAddr, "listen address")
	cmd.Flags().StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	cmd.Flags().DurationVar(&cfg.StepDelay, "step-delay", cfg.StepDelay, "simulated delay between job updates")
	cmd.Flags().IntVar(&cfg.Steps, "steps", cfg.Steps, "findings produced per job")
	cmd.Flags().StringSliceVar(&cfg.FailTargets, "fail-target", cfg.FailTargets, "targets whose jobs fail")
	cmd.Flags().StringVar(&cfg.APIToken, "token", "", "require this bearer token")
	return cmd
}
