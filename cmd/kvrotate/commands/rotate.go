package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/systmms/kvrotate/internal/config"
	"github.com/systmms/kvrotate/pkg/rotation"
)

// NewRotateCommand creates the rotate command
func NewRotateCommand(cfg *config.Config) *cobra.Command {
	return newMutationCommand(cfg, rotation.ActionRotate,
		"Issue a new version of an existing certificate now",
		`Renew one certificate under its current policy regardless of its expiry,
waiting up to rotation.interactive.max_wait for the vault to finish.`,
	)
}

// NewCreateCommand creates the create command
func NewCreateCommand(cfg *config.Config) *cobra.Command {
	return newMutationCommand(cfg, rotation.ActionCreate,
		"Issue a new certificate with the configured issuance policy",
		`Create a certificate using the issuance section of the configuration
(self-signed, 12 months, RSA 2048 by default).`,
	)
}

func newMutationCommand(cfg *config.Config, action rotation.Action, short, long string) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:     string(action) + " <certificate-name>",
		Short:   short,
		Long:    long,
		Example: fmt.Sprintf("  kvrotate %s web-frontend-tls", action),
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}

			var (
				req rotation.Request
				err error
			)
			if action == rotation.ActionCreate {
				req, err = rotation.NewCreateRequest(args[0])
			} else {
				req, err = rotation.NewRotateRequest(args[0])
			}
			if err != nil {
				return err
			}

			e, err := newEngine(cfg)
			if err != nil {
				return err
			}
			e.start(cmd.Context())
			defer e.stop()

			resp, handleErr := e.handler.Handle(cmd.Context(), req)

			out := cmd.OutOrStdout()
			if resp.Result != nil {
				if done, err := encode(out, format, resp); err != nil {
					return err
				} else if !done {
					printResults(out, []rotation.Result{*resp.Result})
					fmt.Fprintln(out)
					fmt.Fprintln(out, resp.Message)
				}
			}
			return handleErr
		},
	}

	cmd.Flags().StringVar(&format, "format", formatTable, "Output format: table, json, yaml")

	return cmd
}
