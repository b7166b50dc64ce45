package rotation

import (
	"time"
)

// Status classifies a certificate's remaining validity.
type Status string

const (
	StatusExpired      Status = "EXPIRED"
	StatusExpiringSoon Status = "EXPIRING_SOON"
	StatusOK           Status = "OK"

	// StatusUnknown is reported by listings for certificates without an
	// expiry timestamp. Evaluate never returns it.
	StatusUnknown Status = "UNKNOWN"
)

// Outcome is the result of processing one certificate.
type Outcome string

const (
	OutcomeRotated  Outcome = "Rotated"
	OutcomeSkipped  Outcome = "Skipped"
	OutcomeFailed   Outcome = "Failed"
	OutcomeTimedOut Outcome = "TimedOut"
)

// Trigger identifies what started a run.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
	TriggerOnDemand  Trigger = "on_demand"
)

// Skip reasons recorded in Result.Reason.
const (
	ReasonNotDue   = "not due"
	ReasonDisabled = "disabled"
	ReasonDryRun   = "dry-run"
)

// Evaluation is the classification of one certificate against a threshold.
type Evaluation struct {
	Status          Status `json:"status"`
	DaysUntilExpiry int    `json:"daysUntilExpiry"`
	NeedsRotation   bool   `json:"needsRotation"`
}

// Snapshot is the expiry data a rotation decision was based on.
type Snapshot struct {
	Expires         time.Time `json:"expires"`
	ThresholdDays   int       `json:"thresholdDays"`
	DaysUntilExpiry int       `json:"daysUntilExpiry"`
	Status          Status    `json:"status"`
}

// Result is the outcome for one evaluated certificate.
type Result struct {
	Certificate string  `json:"certificate"`
	Outcome     Outcome `json:"outcome"`
	Reason      string  `json:"reason,omitempty"`
	Detail      string  `json:"detail,omitempty"`

	OldThumbprint string     `json:"oldThumbprint,omitempty"`
	NewThumbprint string     `json:"newThumbprint,omitempty"`
	NewVersion    string     `json:"newVersion,omitempty"`
	NewExpires    *time.Time `json:"newExpires,omitempty"`

	Expiry *Snapshot `json:"expiry,omitempty"`

	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"errorKind,omitempty"`

	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`

	// Err is the typed error behind Error. It is not persisted.
	Err error `json:"-"`
}

// Duration is the wall time spent on the certificate.
func (r Result) Duration() time.Duration {
	if r.Finished.Before(r.Started) {
		return 0
	}
	return r.Finished.Sub(r.Started)
}

// Counts tallies results by outcome.
type Counts struct {
	Total    int `json:"total"`
	Rotated  int `json:"rotated"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
	TimedOut int `json:"timedOut"`
}

// Problems is the number of results an operator should look at.
func (c Counts) Problems() int {
	return c.Failed + c.TimedOut
}

// Summary is the audit record of one run.
type Summary struct {
	RunID     string    `json:"runId"`
	Trigger   Trigger   `json:"trigger"`
	Vault     string    `json:"keyVault"`
	Timestamp time.Time `json:"timestamp"`
	Started   time.Time `json:"started"`
	DryRun    bool      `json:"dryRun,omitempty"`
	Counts    Counts    `json:"counts"`
	Results   []Result  `json:"results"`
}

// Observer receives results and summaries as they are recorded. Metrics,
// the audit store and notifications are observers.
type Observer interface {
	ResultRecorded(trigger Trigger, r Result)
	SummaryRecorded(s Summary)
}

// Observers fans out to every member in order.
type Observers []Observer

func (o Observers) ResultRecorded(trigger Trigger, r Result) {
	for _, obs := range o {
		obs.ResultRecorded(trigger, r)
	}
}

func (o Observers) SummaryRecorded(s Summary) {
	for _, obs := range o {
		obs.SummaryRecorded(s)
	}
}
