package rotation

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"sync"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/backoff"
	"github.com/Rican7/retry/strategy"
	dserrors "github.com/systmms/kvrotate/internal/errors"
	"github.com/systmms/kvrotate/internal/logging"
	"github.com/systmms/kvrotate/internal/vault"
	"golang.org/x/sync/singleflight"
)

// Budget bounds how long SubmitAndWait waits for a terminal status.
type Budget struct {
	Interval time.Duration
	MaxWait  time.Duration
}

// Default budgets: a human waiting on an HTTP response, and an unattended sweep.
var (
	InteractiveBudget = Budget{Interval: 2 * time.Second, MaxWait: 60 * time.Second}
	ScheduledBudget   = Budget{Interval: 5 * time.Second, MaxWait: 120 * time.Second}
)

func (b Budget) validate() error {
	if b.Interval <= 0 || b.MaxWait < b.Interval {
		return dserrors.ConfigError{
			Field:   "budget",
			Value:   fmt.Sprintf("%s/%s", b.Interval, b.MaxWait),
			Message: "poll interval must be positive and no longer than max wait",
		}
	}
	return nil
}

func (b Budget) String() string {
	return fmt.Sprintf("every %s for up to %s", b.Interval, b.MaxWait)
}

// Poller submits issuance requests and waits for them by polling. Concurrent
// calls for the same certificate and policy share one submission and one wait.
type Poller struct {
	client         vault.Client
	logger         *logging.Logger
	group          singleflight.Group
	submitAttempts uint
	submitBackoff  time.Duration
	now            func() time.Time

	mu      sync.Mutex
	flights map[string]*flight
	seq     uint64
}

// flight is one shared submission. It runs detached from every caller's
// context and is canceled only when all callers have stopped waiting.
type flight struct {
	ctx       context.Context
	key       string
	policy    vault.RenewalPolicy
	cancel    context.CancelFunc
	submitted chan struct{}

	mu        sync.Mutex
	waiters   int
	waitStart time.Time
	limit     time.Duration
}

// extend makes the shared wait last at least maxWait from now.
func (f *flight) extend(maxWait time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.waitStart.IsZero() {
		maxWait += time.Since(f.waitStart)
	}
	if maxWait > f.limit {
		f.limit = maxWait
	}
}

func (f *flight) startWait() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waitStart = time.Now()
	return f.waitStart
}

func (f *flight) waitLimit() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.limit
}

// leave drops one waiter and reports whether none remain.
func (f *flight) leave() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waiters--
	return f.waiters == 0
}

// PollerOption is a functional option for configuring a Poller
type PollerOption func(*Poller)

// WithSubmitRetries sets how many times a transiently failing submission is
// retried, and the base of the exponential backoff between attempts.
func WithSubmitRetries(retries int, base time.Duration) PollerOption {
	return func(p *Poller) {
		if retries < 0 {
			retries = 0
		}
		p.submitAttempts = uint(retries) + 1
		p.submitBackoff = base
	}
}

// WithPollerClock overrides the clock used to stamp results.
func WithPollerClock(now func() time.Time) PollerOption {
	return func(p *Poller) {
		p.now = now
	}
}

// NewPoller creates a poller bound to client.
func NewPoller(client vault.Client, logger *logging.Logger, opts ...PollerOption) *Poller {
	p := &Poller{
		client:         client,
		logger:         logger.Named("poller"),
		submitAttempts: 4,
		submitBackoff:  500 * time.Millisecond,
		now:            time.Now,
		flights:        make(map[string]*flight),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SubmitAndWait submits a new version of name under policy and blocks until
// the operation is Completed or Failed, or budget.MaxWait has elapsed. The
// result never carries OldThumbprint or Expiry; callers fill those in.
//
// A call for a name that already has an operation in flight with the same
// policy joins it: the shared wait is extended to cover the longest budget,
// and each caller stops waiting on its own context and budget. A call with a
// different policy fails with a validation error instead of joining.
func (p *Poller) SubmitAndWait(ctx context.Context, name string, policy vault.RenewalPolicy, budget Budget) Result {
	res := Result{Certificate: name, Started: p.now()}

	if err := budget.validate(); err != nil {
		return p.finish(res, OutcomeFailed, err)
	}
	if err := ctx.Err(); err != nil {
		return p.finish(res, OutcomeFailed, &dserrors.UpstreamError{Op: "submit renewal", Certificate: name, Err: err})
	}

	f, ch, err := p.join(ctx, res, policy, budget)
	if err != nil {
		return p.finish(res, OutcomeFailed, err)
	}

	// The caller's own budget starts once the operation has been submitted.
	select {
	case r := <-ch:
		return r.Val.(Result)
	case <-ctx.Done():
		p.abandon(f)
		return p.finish(res, OutcomeFailed, &dserrors.UpstreamError{Op: "poll operation", Certificate: name, Err: ctx.Err()})
	case <-f.submitted:
	}

	timer := time.NewTimer(budget.MaxWait + budget.Interval)
	defer timer.Stop()

	expired := timer.C
	for {
		select {
		case r := <-ch:
			return r.Val.(Result)
		case <-ctx.Done():
			p.abandon(f)
			return p.finish(res, OutcomeFailed, &dserrors.UpstreamError{Op: "poll operation", Certificate: name, Err: ctx.Err()})
		case <-expired:
			// Unless a longer budget joined, the flight times out on ours
			// and reports the last poll status itself.
			if f.waitLimit() <= budget.MaxWait {
				expired = nil
				continue
			}
			p.abandon(f)
			return p.finish(res, OutcomeTimedOut, &dserrors.OperationTimeoutError{
				Certificate: name,
				Waited:      budget.MaxWait,
				LastStatus:  string(vault.StatusInProgress),
			})
		}
	}
}

// join subscribes to the open flight for the certificate, or opens a new one.
// Flights are keyed by a fresh sequence number, and DoChan is called under
// p.mu, so a caller never joins a flight that has already been released.
func (p *Poller) join(ctx context.Context, res Result, policy vault.RenewalPolicy, budget Budget) (*flight, <-chan singleflight.Result, error) {
	name := res.Certificate

	p.mu.Lock()
	defer p.mu.Unlock()

	if f, ok := p.flights[name]; ok {
		if !reflect.DeepEqual(f.policy, policy) {
			return nil, nil, dserrors.ValidationError{
				Field:   "certificateName",
				Message: fmt.Sprintf("an operation with a different policy is already in progress for '%s'", name),
			}
		}
		f.mu.Lock()
		f.waiters++
		f.mu.Unlock()
		f.extend(budget.MaxWait)
		p.logger.Debug("Joined in-flight operation for %s", name)
		// The key is still registered, so DoChan only subscribes.
		return f, p.group.DoChan(f.key, nil), nil
	}

	p.seq++
	flightCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	f := &flight{
		ctx:       flightCtx,
		key:       name + "#" + strconv.FormatUint(p.seq, 10),
		policy:    policy,
		cancel:    cancel,
		submitted: make(chan struct{}),
		waiters:   1,
		limit:     budget.MaxWait,
	}
	p.flights[name] = f

	ch := p.group.DoChan(f.key, func() (v interface{}, err error) {
		defer p.release(name, f)
		defer func() {
			if r := recover(); r != nil {
				v = p.finish(res, OutcomeFailed, fmt.Errorf("panic while rotating %s: %v", name, r))
			}
		}()
		return p.submitAndWait(f.ctx, f, name, policy, budget), nil
	})
	return f, ch, nil
}

// release closes f once it has produced its result.
func (p *Poller) release(name string, f *flight) {
	p.mu.Lock()
	if p.flights[name] == f {
		delete(p.flights, name)
	}
	p.mu.Unlock()
	f.cancel()
}

// abandon drops a caller that stopped waiting. The last one to leave stops
// the polling; the submitted operation itself carries on in the vault.
func (p *Poller) abandon(f *flight) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !f.leave() {
		return
	}
	for name, open := range p.flights {
		if open == f {
			delete(p.flights, name)
		}
	}
	f.cancel()
}

func (p *Poller) submitAndWait(ctx context.Context, f *flight, name string, policy vault.RenewalPolicy, budget Budget) Result {
	res := Result{Certificate: name, Started: p.now()}

	op, err := p.submit(ctx, name, policy)
	close(f.submitted)
	if err != nil {
		return p.finish(res, OutcomeFailed, err)
	}
	p.logger.Debug("Submitted %s (request %s), polling %s", name, op.RequestID, budget)

	op, err = p.wait(ctx, f, op, budget.Interval)
	if err != nil {
		var timeoutErr *dserrors.OperationTimeoutError
		if errors.As(err, &timeoutErr) {
			return p.finish(res, OutcomeTimedOut, err)
		}
		return p.finish(res, OutcomeFailed, err)
	}

	if op.Status == vault.StatusFailed {
		return p.finish(res, OutcomeFailed, &dserrors.OperationFailedError{
			Certificate: name,
			Code:        op.ErrorCode,
			Message:     op.ErrorMessage,
		})
	}

	cert, err := p.client.GetCertificate(ctx, name)
	if err != nil {
		// The new version exists; only its details are missing.
		res.Detail = fmt.Sprintf("new version issued but could not be read: %v", err)
		p.logger.Warn("Rotated %s but fetching the new version failed: %v", name, err)
		return p.finish(res, OutcomeRotated, nil)
	}

	res.NewThumbprint = cert.Thumbprint
	res.NewVersion = cert.Version
	if cert.HasExpiry() {
		expires := cert.Expires
		res.NewExpires = &expires
	}
	return p.finish(res, OutcomeRotated, nil)
}

// submit retries transient submission failures with exponential backoff.
// A permanent failure stops the retries immediately.
func (p *Poller) submit(ctx context.Context, name string, policy vault.RenewalPolicy) (vault.Operation, error) {
	var (
		op        vault.Operation
		permanent error
	)

	err := retry.Retry(func(attempt uint) error {
		if err := ctx.Err(); err != nil {
			permanent = &dserrors.UpstreamError{Op: "submit renewal", Certificate: name, Err: err}
			return nil
		}

		var err error
		op, err = p.client.SubmitRenewal(ctx, name, policy)
		if err == nil {
			return nil
		}
		if !dserrors.IsRetryable(err) {
			permanent = err
			return nil
		}
		p.logger.Warn("Submitting %s failed (attempt %d/%d), retrying: %v", name, attempt+1, p.submitAttempts, err)
		return err
	},
		strategy.Limit(p.submitAttempts),
		strategy.Backoff(backoff.Exponential(p.submitBackoff, 2)),
	)

	if permanent != nil {
		return vault.Operation{}, permanent
	}
	if err != nil {
		return vault.Operation{}, err
	}
	return op, nil
}

// wait polls op every interval until it is terminal or the flight's wait
// limit has passed. Retryable poll errors are tolerated until then; if the
// limit passes while the operation is still in progress, the last of them is
// kept as the cause of the timeout.
func (p *Poller) wait(ctx context.Context, f *flight, op vault.Operation, interval time.Duration) (vault.Operation, error) {
	start := f.startWait()
	if op.Status.Terminal() {
		return op, nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	for {
		select {
		case <-ctx.Done():
			return op, &dserrors.UpstreamError{Op: "poll operation", Certificate: op.Certificate, Err: ctx.Err()}
		case <-ticker.C:
		}

		next, err := p.client.PollOperation(ctx, op)
		switch {
		case err == nil:
			lastErr = nil
			op = next
			if op.Status.Terminal() {
				return op, nil
			}
		case dserrors.IsRetryable(err):
			lastErr = err
			p.logger.Debug("Polling %s failed, will retry: %v", op.Certificate, err)
		default:
			return op, err
		}

		if waited := time.Since(start); waited >= f.waitLimit() {
			return op, &dserrors.OperationTimeoutError{
				Certificate: op.Certificate,
				Waited:      waited,
				LastStatus:  string(op.Status),
				Err:         lastErr,
			}
		}
	}
}

func (p *Poller) finish(res Result, outcome Outcome, err error) Result {
	res.Outcome = outcome
	res.Finished = p.now()
	if err != nil {
		res.Err = err
		res.Error = err.Error()
		res.ErrorKind = dserrors.Kind(err)
	}
	return res
}
