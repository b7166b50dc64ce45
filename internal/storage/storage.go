// Package storage keeps an on-disk audit log of rotation runs.
package storage

import (
	"time"

	"github.com/systmms/kvrotate/pkg/rotation"
)

// Storage defines the interface for the rotation audit log
type Storage interface {
	// SaveSummary saves the audit record of one run
	SaveSummary(summary *rotation.Summary) error

	// ListSummaries returns the newest summaries first
	ListSummaries(limit int) ([]rotation.Summary, error)

	// SaveHistory saves a per-certificate history entry
	SaveHistory(entry *HistoryEntry) error

	// GetHistory retrieves history for one certificate, newest first
	GetHistory(certificate string, limit int) ([]HistoryEntry, error)

	// GetAllHistory retrieves history for all certificates, newest first
	GetAllHistory(limit int) ([]HistoryEntry, error)

	// CleanupOldEntries removes summaries and history older than olderThan
	CleanupOldEntries(olderThan time.Duration) error
}

// HistoryEntry is one certificate's outcome within a run.
type HistoryEntry struct {
	ID            string        `json:"id"`
	RunID         string        `json:"run_id"`
	Timestamp     time.Time     `json:"timestamp"`
	Certificate   string        `json:"certificate"`
	Vault         string        `json:"vault"`
	Trigger       string        `json:"trigger"`
	Outcome       string        `json:"outcome"`
	Reason        string        `json:"reason,omitempty"`
	Duration      time.Duration `json:"duration"`
	Error         string        `json:"error,omitempty"`
	ErrorKind     string        `json:"error_kind,omitempty"`
	OldThumbprint string        `json:"old_thumbprint,omitempty"`
	NewThumbprint string        `json:"new_thumbprint,omitempty"`
	NewVersion    string        `json:"new_version,omitempty"`
	Expires       *time.Time    `json:"expires,omitempty"`
	NewExpires    *time.Time    `json:"new_expires,omitempty"`
}

// NewHistoryEntry builds the history entry for res within summary s.
func NewHistoryEntry(s rotation.Summary, res rotation.Result) *HistoryEntry {
	entry := &HistoryEntry{
		RunID:         s.RunID,
		Timestamp:     res.Finished,
		Certificate:   res.Certificate,
		Vault:         s.Vault,
		Trigger:       string(s.Trigger),
		Outcome:       string(res.Outcome),
		Reason:        res.Reason,
		Duration:      res.Duration(),
		Error:         res.Error,
		ErrorKind:     res.ErrorKind,
		OldThumbprint: res.OldThumbprint,
		NewThumbprint: res.NewThumbprint,
		NewVersion:    res.NewVersion,
		NewExpires:    res.NewExpires,
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.Timestamp
	}
	if res.Expiry != nil {
		expires := res.Expiry.Expires
		entry.Expires = &expires
	}
	return entry
}
