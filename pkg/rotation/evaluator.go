package rotation

import (
	"time"

	dserrors "github.com/systmms/kvrotate/internal/errors"
	"github.com/systmms/kvrotate/internal/vault"
)

// DefaultThresholdDays is used when no threshold is configured.
const DefaultThresholdDays = 30

const day = 24 * time.Hour

// Evaluate classifies a certificate expiring at expires. Days are truncated,
// not rounded, and a certificate exactly thresholdDays from expiry is due.
func Evaluate(expires time.Time, thresholdDays int, now time.Time) Evaluation {
	days := int(expires.Sub(now) / day)

	var status Status
	switch {
	case days <= 0:
		status = StatusExpired
	case days <= thresholdDays:
		status = StatusExpiringSoon
	default:
		status = StatusOK
	}

	return Evaluation{
		Status:          status,
		DaysUntilExpiry: days,
		NeedsRotation:   status != StatusOK,
	}
}

// Evaluator applies Evaluate against a clock.
type Evaluator struct {
	now func() time.Time
}

// NewEvaluator returns an evaluator using the wall clock.
func NewEvaluator() *Evaluator {
	return &Evaluator{now: time.Now}
}

// NewEvaluatorAt returns an evaluator whose clock is now.
func NewEvaluatorAt(now func() time.Time) *Evaluator {
	return &Evaluator{now: now}
}

// Now returns the evaluator's current time.
func (e *Evaluator) Now() time.Time {
	return e.now()
}

// Evaluate classifies c. A certificate without an expiry cannot be
// classified and yields a ValidationError.
func (e *Evaluator) Evaluate(c vault.Certificate, thresholdDays int) (Evaluation, error) {
	if !c.HasExpiry() {
		return Evaluation{}, dserrors.ValidationError{
			Field:   c.Name,
			Message: "certificate has no expiry",
		}
	}
	return Evaluate(c.Expires, thresholdDays, e.now()), nil
}

// Snapshot evaluates c and records the inputs of the decision.
func (e *Evaluator) Snapshot(c vault.Certificate, thresholdDays int) (*Snapshot, Evaluation, error) {
	ev, err := e.Evaluate(c, thresholdDays)
	if err != nil {
		return nil, ev, err
	}
	return &Snapshot{
		Expires:         c.Expires,
		ThresholdDays:   thresholdDays,
		DaysUntilExpiry: ev.DaysUntilExpiry,
		Status:          ev.Status,
	}, ev, nil
}
