package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/systmms/kvrotate/internal/config"
	"github.com/systmms/kvrotate/pkg/rotation"
)

// NewListCommand creates the list command
func NewListCommand(cfg *config.Config) *cobra.Command {
	return newStatusCommand(cfg, rotation.ActionList, "list", "List certificates with their expiry status")
}

// NewCheckCommand creates the check command
func NewCheckCommand(cfg *config.Config) *cobra.Command {
	return newStatusCommand(cfg, rotation.ActionCheck, "check", "Group certificates into expired, expiring soon and ok")
}

func newStatusCommand(cfg *config.Config, action rotation.Action, use, short string) *cobra.Command {
	var (
		days   int
		format string
	)

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Example: fmt.Sprintf(`  # Use the configured threshold
  kvrotate %[1]s

  # Treat anything expiring within 60 days as due
  kvrotate %[1]s --days 60 --format json`, use),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}

			e, err := newEngine(cfg)
			if err != nil {
				return err
			}

			threshold := e.def.Rotation.ThresholdDays
			if cmd.Flags().Changed("days") {
				threshold = days
			}

			var req rotation.Request
			if action == rotation.ActionCheck {
				req, err = rotation.NewCheckRequest(threshold)
			} else {
				req, err = rotation.NewListRequest(threshold)
			}
			if err != nil {
				return err
			}

			resp, err := e.handler.Handle(cmd.Context(), req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if done, err := encode(out, format, resp); done || err != nil {
				return err
			}

			if resp.Check != nil {
				var rows []rotation.CertificateStatus
				for _, bucket := range [][]rotation.CertificateStatus{resp.Check.Expired, resp.Check.ExpiringSoon, resp.Check.OK, resp.Check.Unknown} {
					rows = append(rows, bucket...)
				}
				printStatuses(out, rows)
			} else {
				printStatuses(out, resp.Certificates)
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, resp.Message)
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 0, "Expiry threshold in days (default: rotation.threshold_days)")
	cmd.Flags().StringVar(&format, "format", formatTable, "Output format: table, json, yaml")

	return cmd
}
