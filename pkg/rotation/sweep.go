package rotation

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	dserrors "github.com/systmms/kvrotate/internal/errors"
	"github.com/systmms/kvrotate/internal/logging"
	"github.com/systmms/kvrotate/internal/vault"
)

// SweepOptions parameterize one sweep.
type SweepOptions struct {
	ThresholdDays int
	Budget        Budget
	Trigger       Trigger

	// DryRun evaluates without submitting anything; due certificates are
	// recorded as skipped.
	DryRun bool
}

// Sweep evaluates every certificate in a vault and rotates those that are
// due. One certificate failing never stops the others.
type Sweep struct {
	client    vault.Client
	evaluator *Evaluator
	poller    *Poller
	observer  Observer
	logger    *logging.Logger
}

// NewSweep wires a sweep. observer may be nil.
func NewSweep(client vault.Client, evaluator *Evaluator, poller *Poller, observer Observer, logger *logging.Logger) *Sweep {
	if observer == nil {
		observer = Observers(nil)
	}
	return &Sweep{
		client:    client,
		evaluator: evaluator,
		poller:    poller,
		observer:  observer,
		logger:    logger.Named("sweep"),
	}
}

// Run performs one sweep. The returned summary holds exactly one result per
// listed certificate. An error is returned only when the sweep could not
// start: invalid options or a failed listing.
func (s *Sweep) Run(ctx context.Context, opts SweepOptions) (Summary, error) {
	if opts.Trigger == "" {
		opts.Trigger = TriggerScheduled
	}
	if opts.ThresholdDays < 0 {
		return Summary{}, dserrors.ConfigError{Field: "threshold_days", Value: opts.ThresholdDays, Message: "must not be negative"}
	}
	if err := opts.Budget.validate(); err != nil {
		return Summary{}, err
	}

	agg := newAggregator(s.client.Name(), opts.Trigger, s.evaluator.now)
	if opts.DryRun {
		agg.MarkDryRun()
	}

	certs, err := s.client.ListCertificates(ctx)
	if err != nil {
		s.logger.Error("Listing certificates in %s failed: %v", s.client.Name(), err)
		return agg.Summary(), err
	}
	s.logger.Info("Sweeping %d certificates in %s (threshold %d days)", len(certs), s.client.Name(), opts.ThresholdDays)

	for _, cert := range certs {
		res := s.process(ctx, cert, opts)
		agg.Add(res)
		s.observer.ResultRecorded(opts.Trigger, res)
		s.logResult(res)
	}

	summary := agg.Summary()
	s.observer.SummaryRecorded(summary)
	s.logger.Audit("sweep", summary)

	c := summary.Counts
	msg := fmt.Sprintf("Sweep of %s finished: %d rotated, %d skipped, %d failed, %d timed out",
		summary.Vault, c.Rotated, c.Skipped, c.Failed, c.TimedOut)
	if c.Problems() > 0 {
		s.logger.Warn("%s", msg)
	} else {
		s.logger.Info("%s", msg)
	}
	return summary, nil
}

// process handles one certificate. Any panic is recovered into a Failed
// result so the sweep moves on.
func (s *Sweep) process(ctx context.Context, cert vault.Certificate, opts SweepOptions) (res Result) {
	started := s.evaluator.Now()
	res = Result{Certificate: cert.Name, OldThumbprint: cert.Thumbprint, Started: started}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic while processing %s: %v", cert.Name, r)
			s.logger.Debug("%s", debug.Stack())
			res = failed(res, fmt.Errorf("panic: %v", r), s.evaluator.Now())
		}
	}()

	snap, ev, err := s.evaluator.Snapshot(cert, opts.ThresholdDays)
	if err != nil {
		return failed(res, err, s.evaluator.Now())
	}
	res.Expiry = snap

	switch {
	case !ev.NeedsRotation:
		return skipped(res, ReasonNotDue, s.evaluator.Now())
	case !cert.Enabled:
		return skipped(res, ReasonDisabled, s.evaluator.Now())
	case opts.DryRun:
		return skipped(res, ReasonDryRun, s.evaluator.Now())
	}

	policy, err := s.client.GetRenewalPolicy(ctx, cert.Name)
	if err != nil {
		return failed(res, err, s.evaluator.Now())
	}

	s.logger.Info("Rotating %s (%s, %d days left)", cert.Name, ev.Status, ev.DaysUntilExpiry)
	out := s.poller.SubmitAndWait(ctx, cert.Name, policy, opts.Budget)
	out.OldThumbprint = cert.Thumbprint
	out.Expiry = snap
	out.Started = started
	return out
}

func (s *Sweep) logResult(res Result) {
	switch res.Outcome {
	case OutcomeRotated:
		s.logger.Info("%s rotated: %s -> %s", res.Certificate, res.OldThumbprint, res.NewThumbprint)
	case OutcomeSkipped:
		s.logger.Debug("%s skipped (%s)", res.Certificate, res.Reason)
	case OutcomeTimedOut:
		s.logger.Warn("%s timed out: %s", res.Certificate, res.Error)
	case OutcomeFailed:
		s.logger.Error("%s failed [%s]: %s", res.Certificate, res.ErrorKind, res.Error)
	}
}

func skipped(res Result, reason string, at time.Time) Result {
	res.Outcome = OutcomeSkipped
	res.Reason = reason
	res.Finished = at
	return res
}

func failed(res Result, err error, at time.Time) Result {
	res.Outcome = OutcomeFailed
	res.Err = err
	res.Error = err.Error()
	res.ErrorKind = dserrors.Kind(err)
	res.Finished = at
	return res
}
