package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/systmms/kvrotate/internal/config"
	"github.com/systmms/kvrotate/pkg/rotation"
)

// NewSweepCommand creates the sweep command
func NewSweepCommand(cfg *config.Config) *cobra.Command {
	var (
		dryRun bool
		format string
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Evaluate every certificate once and rotate those that are due",
		Long: `Run a single sweep over the vault, the same pass the scheduler runs daily.

Certificates expiring within rotation.threshold_days are renewed under their
existing policy. A failure on one certificate is recorded and the sweep moves
on. The command exits non-zero when any certificate failed or timed out.`,
		Example: `  # Rotate everything that is due
  kvrotate sweep

  # Show what would be rotated
  kvrotate sweep --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}

			e, err := newEngine(cfg)
			if err != nil {
				return err
			}
			e.start(cmd.Context())
			defer e.stop()

			summary, err := e.runSweep(cmd.Context(), rotation.TriggerManual, dryRun)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			done, err := encode(out, format, summary)
			if err != nil {
				return err
			}
			if !done {
				printSummary(out, summary)
			}

			if problems := summary.Counts.Problems(); problems > 0 {
				return fmt.Errorf("%d of %d certificates failed or timed out", problems, summary.Counts.Total)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Evaluate only; do not submit renewals")
	cmd.Flags().StringVar(&format, "format", formatTable, "Output format: table, json, yaml")

	return cmd
}
