package storage

import (
	"time"

	"github.com/systmms/kvrotate/internal/logging"
	"github.com/systmms/kvrotate/pkg/rotation"
)

// Recorder persists summaries as they are recorded. It is a rotation.Observer.
//
// History entries are written for every result except certificates skipped
// because they were not yet due; those would add one file per certificate
// per sweep without telling the operator anything.
type Recorder struct {
	store     Storage
	retention time.Duration
	logger    *logging.Logger
}

var _ rotation.Observer = (*Recorder)(nil)

// NewRecorder wraps store. A positive retention prunes old entries after
// every sweep.
func NewRecorder(store Storage, retention time.Duration, logger *logging.Logger) *Recorder {
	return &Recorder{
		store:     store,
		retention: retention,
		logger:    logger.Named("storage"),
	}
}

// ResultRecorded is a no-op; results are persisted with their summary so
// history entries carry the run ID.
func (r *Recorder) ResultRecorded(rotation.Trigger, rotation.Result) {}

// SummaryRecorded writes the summary and its history entries. Failures are
// logged and never reach the rotation engine.
func (r *Recorder) SummaryRecorded(s rotation.Summary) {
	if err := r.store.SaveSummary(&s); err != nil {
		r.logger.Error("Failed to save summary %s: %v", s.RunID, err)
	}

	for _, res := range s.Results {
		if res.Outcome == rotation.OutcomeSkipped && res.Reason == rotation.ReasonNotDue {
			continue
		}
		if err := r.store.SaveHistory(NewHistoryEntry(s, res)); err != nil {
			r.logger.Error("Failed to save history for %s: %v", res.Certificate, err)
		}
	}

	if r.retention > 0 && s.Trigger != rotation.TriggerOnDemand {
		if err := r.store.CleanupOldEntries(r.retention); err != nil {
			r.logger.Warn("Audit cleanup failed: %v", err)
		}
	}
}
