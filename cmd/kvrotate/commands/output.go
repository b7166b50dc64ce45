package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/systmms/kvrotate/internal/storage"
	"github.com/systmms/kvrotate/pkg/rotation"
	"gopkg.in/yaml.v3"
)

// Output formats accepted by --format.
const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

func checkFormat(format string) error {
	switch format {
	case formatTable, formatJSON, formatYAML:
		return nil
	}
	return fmt.Errorf("unknown format %q (use table, json or yaml)", format)
}

// encode writes v as JSON or YAML. It reports false for the table format.
func encode(w io.Writer, format string, v interface{}) (bool, error) {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		defer func() { _ = enc.Close() }()
		return true, enc.Encode(toYAMLValue(v))
	}
	return false, nil
}

// toYAMLValue round-trips v through JSON so YAML output uses the same field
// names as the JSON output.
func toYAMLValue(v interface{}) interface{} {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	return table
}

func printStatuses(w io.Writer, rows []rotation.CertificateStatus) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "No certificates found")
		return
	}

	table := newTable(w, "Name", "Status", "Days", "Expires", "Enabled", "Thumbprint")
	for _, row := range rows {
		days, expires := "-", "-"
		if row.Status != rotation.StatusUnknown {
			days = strconv.Itoa(row.DaysUntilExpiry)
			expires = row.Expires.UTC().Format("2006-01-02")
		}
		table.Append([]string{
			row.Name,
			string(row.Status),
			days,
			expires,
			strconv.FormatBool(row.Enabled),
			orDash(row.Thumbprint),
		})
	}
	table.Render()
}

func printResults(w io.Writer, results []rotation.Result) {
	table := newTable(w, "Certificate", "Outcome", "Detail", "Duration")
	for _, res := range results {
		table.Append([]string{
			res.Certificate,
			formatOutcome(res.Outcome),
			truncate(resultDetail(res), 60),
			formatDuration(res.Duration()),
		})
	}
	table.Render()
}

func printSummary(w io.Writer, s rotation.Summary) {
	if len(s.Results) > 0 {
		printResults(w, s.Results)
		fmt.Fprintln(w)
	}

	mode := ""
	if s.DryRun {
		mode = " (dry run)"
	}
	c := s.Counts
	fmt.Fprintf(w, "%s: %d certificates, %d rotated, %d skipped, %d failed, %d timed out%s\n",
		s.Vault, c.Total, c.Rotated, c.Skipped, c.Failed, c.TimedOut, mode)
}

func printHistory(w io.Writer, entries []storage.HistoryEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No rotation history found")
		return
	}

	table := newTable(w, "Timestamp", "Certificate", "Trigger", "Outcome", "Duration", "Detail")
	for _, e := range entries {
		detail := e.Error
		if detail == "" {
			detail = e.Reason
		}
		if detail == "" && e.NewThumbprint != "" {
			detail = e.OldThumbprint + " -> " + e.NewThumbprint
		}
		table.Append([]string{
			e.Timestamp.UTC().Format("2006-01-02 15:04:05"),
			e.Certificate,
			e.Trigger,
			formatOutcome(rotation.Outcome(e.Outcome)),
			formatDuration(e.Duration),
			truncate(orDash(detail), 50),
		})
	}
	table.Render()
}

func printRuns(w io.Writer, summaries []rotation.Summary) {
	if len(summaries) == 0 {
		fmt.Fprintln(w, "No sweeps recorded")
		return
	}

	table := newTable(w, "Timestamp", "Run", "Trigger", "Total", "Rotated", "Skipped", "Failed", "Timed Out")
	for _, s := range summaries {
		run := s.RunID
		if len(run) > 8 {
			run = run[:8]
		}
		table.Append([]string{
			s.Timestamp.UTC().Format("2006-01-02 15:04:05"),
			run,
			string(s.Trigger),
			strconv.Itoa(s.Counts.Total),
			strconv.Itoa(s.Counts.Rotated),
			strconv.Itoa(s.Counts.Skipped),
			strconv.Itoa(s.Counts.Failed),
			strconv.Itoa(s.Counts.TimedOut),
		})
	}
	table.Render()
}

func resultDetail(res rotation.Result) string {
	switch {
	case res.Error != "":
		return res.Error
	case res.Outcome == rotation.OutcomeRotated && res.NewThumbprint != "":
		return shortThumbprint(res.OldThumbprint) + " -> " + shortThumbprint(res.NewThumbprint)
	case res.Reason != "":
		if res.Expiry != nil {
			return fmt.Sprintf("%s (%d days left)", res.Reason, res.Expiry.DaysUntilExpiry)
		}
		return res.Reason
	case res.Detail != "":
		return res.Detail
	}
	return "-"
}

func formatOutcome(o rotation.Outcome) string {
	switch o {
	case rotation.OutcomeRotated:
		return "✓ " + string(o)
	case rotation.OutcomeFailed:
		return "✗ " + string(o)
	case rotation.OutcomeTimedOut:
		return "⚠ " + string(o)
	default:
		return string(o)
	}
}

func formatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "-"
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
}

func shortThumbprint(t string) string {
	if t == "" {
		return "?"
	}
	if len(t) > 8 {
		return t[:8]
	}
	return t
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
