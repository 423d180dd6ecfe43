package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/raysh454/capwatch/internal/app"
	"github.com/raysh454/capwatch/internal/model"
	"github.com/raysh454/capwatch/internal/ui"
)

// ErrScanUnsuccessful is returned when a scan ends with an error message.
var ErrScanUnsuccessful = errors.New("scan did not complete successfully")

// liveOutput reports whether scan draws an animated spinner.
var liveOutput = ui.StdoutIsTerminal

func newScanCmd(opts *options) *cobra.Command {
	var (
		capability string
		target     string
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run a capability scan and wait for its findings",
		Long: `Submit a scan for one capability against a target and follow it until it
completes, fails or times out. Findings are printed most severe first and
the finished scan is recorded in the local history.

Interrupting the command stops listening locally; the backend job keeps
running.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := model.Capability(capability)
			if !c.Valid() {
				return fmt.Errorf("%w: %q (see 'capwatch capabilities')", model.ErrUnknownCapability, capability)
			}

			spinner := ui.StartProgress("Starting scan...", liveOutput())
			progress := func(st app.State) {
				if st.Scanning() {
					spinner.Update(ui.ProgressText(st.Job, st.Progress, len(st.Findings)))
				}
			}

			application, err := app.NewApplication(opts.cfg, opts.logger, app.WithObserver(progress))
			if err != nil {
				spinner.Fail("Failed to start scan")
				return err
			}
			defer application.Shutdown(context.Background())
			if err := application.Start(); err != nil {
				spinner.Fail("Failed to start scan")
				return err
			}

			ctx, stop := signalContext(cmd)
			defer stop()

			job, err := application.Coordinator.Submit(ctx, c, target)
			if err != nil {
				spinner.Fail(app.MsgStartFailed)
				return err
			}
			spinner.Update(ui.ProgressText(job, 0, 0))

			st, err := application.Coordinator.Wait(ctx)
			if err != nil {
				application.Coordinator.Dispose()
				spinner.Warning("Stopped watching scan " + job.ID + "; the backend job keeps running")
				return nil
			}
			application.Record(st)

			if st.Error != "" {
				spinner.Fail(st.Error)
				if len(st.Findings) > 0 {
					ui.PrintFindings(st.Findings)
				}
				return ErrScanUnsuccessful
			}
			spinner.Success(fmt.Sprintf("Scan %s completed", job.ID))
			pterm.Println()
			ui.PrintFindings(st.Findings)
			return nil
		},
	}

	cmd.Flags().StringVarP(&capability, "capability", "c", "", "capability to run (required)")
	cmd.Flags().StringVarP(&target, "target", "t", "", "domain, URL or keywords to scan (required)")
	_ = cmd.MarkFlagRequired("capability")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}
