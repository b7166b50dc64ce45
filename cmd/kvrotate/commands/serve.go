package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/systmms/kvrotate/internal/config"
	"github.com/systmms/kvrotate/internal/scheduler"
	"github.com/systmms/kvrotate/internal/server"
	"github.com/systmms/kvrotate/pkg/rotation"
	"golang.org/x/sync/errgroup"
)

// NewServeCommand creates the serve command
func NewServeCommand(cfg *config.Config) *cobra.Command {
	var noSchedule bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve on-demand requests and run the scheduled sweep",
		Long: `Start the HTTP endpoint for on-demand list, check, rotate and create
requests, expose metrics, and run the sweep on rotation.schedule (UTC).

The process stops on SIGINT or SIGTERM after in-flight requests finish.`,
		Example: `  # Endpoint and daily sweep
  kvrotate serve --config /etc/kvrotate/kvrotate.yaml

  # Endpoint only
  kvrotate serve --no-schedule`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			e, err := newEngine(cfg)
			if err != nil {
				return err
			}
			e.start(ctx)
			defer e.stop()

			srv := server.New(e.def.Server, e.handler, e.client.Name(), e.def.Rotation.ThresholdDays, e.logger)

			var sched *scheduler.Scheduler
			if !noSchedule {
				sched, err = scheduler.New(e.def.Rotation.Schedule, e.scheduledSweep, e.logger,
					scheduler.WithRunOnStart(e.def.Rotation.RunOnStart))
				if err != nil {
					return err
				}
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.Start(gctx) })
			if sched != nil {
				g.Go(func() error { return sched.Run(gctx) })
			}
			return g.Wait()
		},
	}

	cmd.Flags().BoolVar(&noSchedule, "no-schedule", false, "Do not run the scheduled sweep")

	return cmd
}

// scheduledSweep is the scheduler job. Per-certificate problems are reported
// through the audit log and observers; only a sweep that could not start is
// an error.
func (e *engine) scheduledSweep(ctx context.Context) error {
	_, err := e.runSweep(ctx, rotation.TriggerScheduled, false)
	return err
}
