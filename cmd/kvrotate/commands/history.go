package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/systmms/kvrotate/internal/config"
	"github.com/systmms/kvrotate/internal/storage"
)

// NewHistoryCommand creates the history command
func NewHistoryCommand(cfg *config.Config) *cobra.Command {
	var (
		limit   int
		since   string
		outcome string
		runs    bool
		format  string
	)

	cmd := &cobra.Command{
		Use:   "history [certificate-name]",
		Short: "Show recorded rotation outcomes",
		Long: `Display the audit log written by sweeps and on-demand rotations.

Without --runs, one line per certificate outcome is shown, newest first.
Certificates that were skipped because they were not yet due are not
recorded. With --runs, one line per sweep is shown instead.`,
		Example: `  # Recent outcomes for every certificate
  kvrotate history

  # Failures for one certificate since a date
  kvrotate history web-frontend-tls --outcome failed --since 2026-01-01

  # Sweep summaries
  kvrotate history --runs --limit 7`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			if err := loadConfig(cfg); err != nil {
				return err
			}

			var sinceTime time.Time
			if since != "" {
				t, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("invalid since date format (use YYYY-MM-DD): %w", err)
				}
				sinceTime = t
			}

			store := storage.NewFileStorage(cfg.Definition.Storage.StorageDir())
			out := cmd.OutOrStdout()

			if runs {
				summaries, err := store.ListSummaries(limit)
				if err != nil {
					return fmt.Errorf("failed to read sweep history: %w", err)
				}
				if done, err := encode(out, format, summaries); done || err != nil {
					return err
				}
				printRuns(out, summaries)
				return nil
			}

			var (
				entries []storage.HistoryEntry
				err     error
			)
			if len(args) > 0 {
				entries, err = store.GetHistory(args[0], 0)
			} else {
				entries, err = store.GetAllHistory(0)
			}
			if err != nil {
				return fmt.Errorf("failed to read rotation history: %w", err)
			}

			entries = filterHistory(entries, sinceTime, outcome, limit)
			if done, err := encode(out, format, entries); done || err != nil {
				return err
			}
			printHistory(out, entries)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of entries to show")
	cmd.Flags().StringVar(&since, "since", "", "Show entries since date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&outcome, "outcome", "", "Filter by outcome: rotated, skipped, failed, timedout")
	cmd.Flags().BoolVar(&runs, "runs", false, "Show sweep summaries instead of certificate outcomes")
	cmd.Flags().StringVar(&format, "format", formatTable, "Output format: table, json, yaml")

	return cmd
}

func filterHistory(entries []storage.HistoryEntry, since time.Time, outcome string, limit int) []storage.HistoryEntry {
	filtered := []storage.HistoryEntry{}
	for _, entry := range entries {
		if !since.IsZero() && entry.Timestamp.Before(since) {
			continue
		}
		if outcome != "" && !strings.EqualFold(entry.Outcome, outcome) {
			continue
		}
		filtered = append(filtered, entry)
		if limit > 0 && len(filtered) >= limit {
			break
		}
	}
	return filtered
}
