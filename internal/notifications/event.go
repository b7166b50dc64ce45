package notifications

import (
	"time"

	"github.com/systmms/kvrotate/pkg/rotation"
)

// EventType represents the type of rotation event.
type EventType string

const (
	// EventRotated indicates a certificate received a new version.
	EventRotated EventType = "rotated"

	// EventRotationFailed indicates the vault rejected a rotation or a call failed.
	EventRotationFailed EventType = "rotation_failed"

	// EventRotationTimedOut indicates the issuance operation outlived its wait budget.
	EventRotationTimedOut EventType = "rotation_timed_out"

	// EventSweepCompleted is sent once per scheduled or manual sweep.
	EventSweepCompleted EventType = "sweep_completed"
)

// Event is a rotation lifecycle event for notifications.
type Event struct {
	Type      EventType
	Vault     string
	Trigger   rotation.Trigger
	Timestamp time.Time

	// Certificate fields are empty for EventSweepCompleted.
	Certificate   string
	Outcome       rotation.Outcome
	Error         string
	ErrorKind     string
	OldThumbprint string
	NewThumbprint string
	Duration      time.Duration

	// Sweep fields are only set for EventSweepCompleted.
	RunID  string
	DryRun bool
	Counts *rotation.Counts
}

// AllEventTypes returns all valid event types.
func AllEventTypes() []EventType {
	return []EventType{
		EventRotated,
		EventRotationFailed,
		EventRotationTimedOut,
		EventSweepCompleted,
	}
}

// ResultEvent maps a per-certificate result to its event. Skipped results
// produce no event.
func ResultEvent(vault string, trigger rotation.Trigger, r rotation.Result) (Event, bool) {
	var typ EventType
	switch r.Outcome {
	case rotation.OutcomeRotated:
		typ = EventRotated
	case rotation.OutcomeFailed:
		typ = EventRotationFailed
	case rotation.OutcomeTimedOut:
		typ = EventRotationTimedOut
	default:
		return Event{}, false
	}

	ts := r.Finished
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	return Event{
		Type:          typ,
		Vault:         vault,
		Trigger:       trigger,
		Timestamp:     ts,
		Certificate:   r.Certificate,
		Outcome:       r.Outcome,
		Error:         r.Error,
		ErrorKind:     r.ErrorKind,
		OldThumbprint: r.OldThumbprint,
		NewThumbprint: r.NewThumbprint,
		Duration:      r.Duration(),
	}, true
}

// SummaryEvent builds the sweep_completed event for s.
func SummaryEvent(s rotation.Summary) Event {
	counts := s.Counts
	return Event{
		Type:      EventSweepCompleted,
		Vault:     s.Vault,
		Trigger:   s.Trigger,
		Timestamp: s.Timestamp,
		RunID:     s.RunID,
		DryRun:    s.DryRun,
		Counts:    &counts,
		Duration:  s.Timestamp.Sub(s.Started),
	}
}
