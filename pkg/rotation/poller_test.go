package rotation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	dserrors "github.com/systmms/kvrotate/internal/errors"
	"github.com/systmms/kvrotate/internal/logging"
	"github.com/systmms/kvrotate/internal/vault"
)

var testPolicy = vault.RenewalPolicy{Issuer: "Self", Subject: "CN=a", ValidityMonths: 12, KeyType: "RSA", KeySize: 2048}

func transient() error {
	return &dserrors.UpstreamError{Op: "submit renewal", StatusCode: 503, Retryable: true, Err: errors.New("service unavailable")}
}

func transientPoll() error {
	return &dserrors.UpstreamError{Op: "poll operation", StatusCode: 503, Retryable: true, Err: errors.New("service unavailable")}
}

func TestSubmitAndWaitCompletes(t *testing.T) {
	t.Parallel()

	fv := newFakeVault()
	old := fv.AddCertificate("a", daysFromNow(10))
	fv.Statuses["a"] = []vault.OperationStatus{vault.StatusInProgress, vault.StatusInProgress, vault.StatusCompleted}

	res := newTestPoller(fv).SubmitAndWait(context.Background(), "a", testPolicy, fastBudget)

	require.Equal(t, OutcomeRotated, res.Outcome, res.Error)
	assert.NotEmpty(t, res.NewThumbprint)
	assert.NotEqual(t, old.Thumbprint, res.NewThumbprint)
	assert.Equal(t, "v2", res.NewVersion)
	require.NotNil(t, res.NewExpires)
	assert.Equal(t, testNow.AddDate(0, 12, 0), *res.NewExpires)
	assert.Equal(t, 3, fv.CallCount("PollOperation"))
	assert.Equal(t, []string{"a"}, fv.Submissions())
	assert.Empty(t, res.Error)
}

func TestSubmitAndWaitServiceFailure(t *testing.T) {
	t.Parallel()

	fv := newFakeVault()
	fv.AddCertificate("a", daysFromNow(10))
	fv.Statuses["a"] = []vault.OperationStatus{vault.StatusInProgress, vault.StatusFailed}

	res := newTestPoller(fv).SubmitAndWait(context.Background(), "a", testPolicy, fastBudget)

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, dserrors.KindOperationFailed, res.ErrorKind)
	assert.Contains(t, res.Error, "issuer rejected the request")

	var failedErr *dserrors.OperationFailedError
	require.True(t, errors.As(res.Err, &failedErr))
	assert.Equal(t, "PolicyViolation", failedErr.Code)
}

func TestSubmitAndWaitTimesOut(t *testing.T) {
	t.Parallel()

	fv := newFakeVault()
	fv.AddCertificate("slow", daysFromNow(10))
	fv.Statuses["slow"] = []vault.OperationStatus{vault.StatusInProgress}

	start := time.Now()
	res := newTestPoller(fv).SubmitAndWait(context.Background(), "slow", testPolicy, shortBudget)

	assert.Equal(t, OutcomeTimedOut, res.Outcome)
	assert.Equal(t, dserrors.KindTimeout, res.ErrorKind)
	assert.NotEqual(t, dserrors.KindOperationFailed, res.ErrorKind)
	assert.GreaterOrEqual(t, time.Since(start), shortBudget.MaxWait)
	assert.Less(t, time.Since(start), 2*time.Second)

	var timeoutErr *dserrors.OperationTimeoutError
	require.True(t, errors.As(res.Err, &timeoutErr))
	assert.Equal(t, string(vault.StatusInProgress), timeoutErr.LastStatus)
	assert.Empty(t, res.NewThumbprint)
}

func TestSubmitAndWaitRetriesTransientSubmission(t *testing.T) {
	t.Parallel()

	fv := newFakeVault()
	fv.AddCertificate("a", daysFromNow(10))
	fv.SubmitErrs["a"] = []error{transient(), transient()}

	res := newTestPoller(fv).SubmitAndWait(context.Background(), "a", testPolicy, fastBudget)

	assert.Equal(t, OutcomeRotated, res.Outcome, res.Error)
	assert.Len(t, fv.Submissions(), 3)
}

func TestSubmitAndWaitGivesUpOnPermanentSubmission(t *testing.T) {
	t.Parallel()

	fv := newFakeVault()
	fv.AddCertificate("a", daysFromNow(10))
	fv.SubmitErrs["a"] = []error{&dserrors.UpstreamError{Op: "submit renewal", StatusCode: 403, Err: errors.New("forbidden")}}

	res := newTestPoller(fv).SubmitAndWait(context.Background(), "a", testPolicy, fastBudget)

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, dserrors.KindUpstream, res.ErrorKind)
	assert.Len(t, fv.Submissions(), 1)
	assert.Zero(t, fv.CallCount("PollOperation"))
}

func TestSubmitAndWaitExhaustsSubmissionRetries(t *testing.T) {
	t.Parallel()

	fv := newFakeVault()
	fv.AddCertificate("a", daysFromNow(10))
	fv.SubmitErrs["a"] = []error{transient(), transient(), transient(), transient(), transient(), transient()}

	res := newTestPoller(fv).SubmitAndWait(context.Background(), "a", testPolicy, fastBudget)

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.True(t, dserrors.IsRetryable(res.Err))
	assert.Zero(t, fv.CallCount("PollOperation"))
}

func TestSubmitAndWaitToleratesTransientPollErrors(t *testing.T) {
	t.Parallel()

	fv := newFakeVault()
	fv.AddCertificate("a", daysFromNow(10))
	fv.PollErrs["a"] = []error{transientPoll()}
	fv.Statuses["a"] = []vault.OperationStatus{vault.StatusCompleted}

	res := newTestPoller(fv).SubmitAndWait(context.Background(), "a", testPolicy, fastBudget)

	assert.Equal(t, OutcomeRotated, res.Outcome, res.Error)
	assert.Equal(t, 2, fv.CallCount("PollOperation"))
}

func TestSubmitAndWaitStopsOnPermanentPollError(t *testing.T) {
	t.Parallel()

	fv := newFakeVault()
	fv.AddCertificate("a", daysFromNow(10))
	fv.PollErrs["a"] = []error{&dserrors.UpstreamError{Op: "poll operation", StatusCode: 401, Err: errors.New("unauthorized")}}

	res := newTestPoller(fv).SubmitAndWait(context.Background(), "a", testPolicy, fastBudget)

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, dserrors.KindUpstream, res.ErrorKind)
	assert.Equal(t, 1, fv.CallCount("PollOperation"))
}

func TestSubmitAndWaitNewVersionUnreadable(t *testing.T) {
	t.Parallel()

	fv := newFakeVault()
	fv.AddCertificate("a", daysFromNow(10))
	fv.FailOnComplete["a"] = transient()

	res := newTestPoller(fv).SubmitAndWait(context.Background(), "a", testPolicy, fastBudget)

	assert.Equal(t, OutcomeRotated, res.Outcome)
	assert.Empty(t, res.NewThumbprint)
	assert.Contains(t, res.Detail, "could not be read")
	assert.Nil(t, res.Err)
}

func TestSubmitAndWaitRejectsInvalidBudget(t *testing.T) {
	t.Parallel()

	fv := newFakeVault()
	res := newTestPoller(fv).SubmitAndWait(context.Background(), "a", testPolicy, Budget{Interval: time.Second, MaxWait: time.Millisecond})

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, dserrors.KindConfiguration, res.ErrorKind)
	assert.Empty(t, fv.Calls())
}

func TestSubmitAndWaitContextCanceled(t *testing.T) {
	t.Parallel()

	fv := newFakeVault()
	fv.AddCertificate("a", daysFromNow(10))
	fv.Statuses["a"] = []vault.OperationStatus{vault.StatusInProgress}

	ctx, cancel := context.WithCancel(context.Background())
	fv.OnSubmit = func(string) { cancel() }

	res := newTestPoller(fv).SubmitAndWait(ctx, "a", testPolicy, Budget{Interval: 10 * time.Millisecond, MaxWait: 10 * time.Second})

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, context.Canceled)
}

func TestSubmitAndWaitSharesConcurrentCalls(t *testing.T) {
	t.Parallel()

	fv := newFakeVault()
	fv.AddCertificate("a", daysFromNow(10))

	submitted := make(chan struct{})
	release := make(chan struct{})
	fv.OnSubmit = func(string) {
		close(submitted)
		<-release
	}

	poller := NewPoller(fv, logging.Discard(), WithPollerClock(fixedClock))

	var (
		wg      sync.WaitGroup
		results [2]Result
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0] = poller.SubmitAndWait(context.Background(), "a", testPolicy, fastBudget)
	}()

	<-submitted
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1] = poller.SubmitAndWait(context.Background(), "a", testPolicy, fastBudget)
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Len(t, fv.Submissions(), 1)
	assert.Equal(t, OutcomeRotated, results[0].Outcome)
	assert.Equal(t, results[0].NewThumbprint, results[1].NewThumbprint)
}

func TestSubmitAndWaitDifferentCertificatesAreIndependent(t *testing.T) {
	t.Parallel()

	fv := newFakeVault()
	fv.AddCertificate("a", daysFromNow(10))
	fv.AddCertificate("b", daysFromNow(10))
	poller := newTestPoller(fv)

	var wg sync.WaitGroup
	for _, name := range []string{"a", "b"} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			res := poller.SubmitAndWait(context.Background(), name, testPolicy, fastBudget)
			assert.Equal(t, OutcomeRotated, res.Outcome)
		}(name)
	}
	wg.Wait()

	assert.ElementsMatch(t, []string{"a", "b"}, fv.Submissions())
}

func TestSubmitAndWaitTimesOutOnRepeatedPollErrors(t *testing.T) {
	t.Parallel()

	fv := newFakeVault()
	fv.AddCertificate("flaky", daysFromNow(10))
	errs := make([]error, 200)
	for i := range errs {
		errs[i] = transientPoll()
	}
	fv.PollErrs["flaky"] = errs
	fv.Statuses["flaky"] = []vault.OperationStatus{vault.StatusInProgress}

	res := newTestPoller(fv).SubmitAndWait(context.Background(), "flaky", testPolicy, shortBudget)

	assert.Equal(t, OutcomeTimedOut, res.Outcome)
	assert.Equal(t, dserrors.KindTimeout, res.ErrorKind)
	assert.Contains(t, res.Error, "service unavailable")

	var timeoutErr *dserrors.OperationTimeoutError
	require.True(t, errors.As(res.Err, &timeoutErr))
	var cause *dserrors.UpstreamError
	require.True(t, errors.As(res.Err, &cause))
	assert.Equal(t, "poll operation", cause.Op)
}

func TestSubmitAndWaitJoinerSurvivesFirstCallerCancel(t *testing.T) {
	t.Parallel()

	fv := newFakeVault()
	fv.AddCertificate("a", daysFromNow(10))

	submitted := make(chan struct{})
	release := make(chan struct{})
	fv.OnSubmit = func(string) {
		close(submitted)
		<-release
	}

	poller := newTestPoller(fv)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := make(chan Result, 1)
	go func() {
		first <- poller.SubmitAndWait(ctx, "a", testPolicy, fastBudget)
	}()
	<-submitted

	second := make(chan Result, 1)
	go func() {
		second <- poller.SubmitAndWait(context.Background(), "a", testPolicy, fastBudget)
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	res := <-first
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, context.Canceled)

	close(release)
	res = <-second
	assert.Equal(t, OutcomeRotated, res.Outcome, res.Error)
	assert.NotEmpty(t, res.NewThumbprint)
	assert.Len(t, fv.Submissions(), 1)
}

func TestSubmitAndWaitJoinerKeepsLongerBudget(t *testing.T) {
	t.Parallel()

	fv := newFakeVault()
	fv.AddCertificate("a", daysFromNow(10))
	script := make([]vault.OperationStatus, 30)
	for i := range script {
		script[i] = vault.StatusInProgress
	}
	fv.Statuses["a"] = append(script, vault.StatusCompleted)

	submitted := make(chan struct{})
	release := make(chan struct{})
	fv.OnSubmit = func(string) {
		close(submitted)
		<-release
	}

	poller := newTestPoller(fv)

	first := make(chan Result, 1)
	go func() {
		first <- poller.SubmitAndWait(context.Background(), "a", testPolicy, shortBudget)
	}()
	<-submitted

	second := make(chan Result, 1)
	go func() {
		second <- poller.SubmitAndWait(context.Background(), "a", testPolicy, Budget{Interval: 2 * time.Millisecond, MaxWait: 5 * time.Second})
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)

	res := <-first
	assert.Equal(t, OutcomeTimedOut, res.Outcome)
	assert.Equal(t, dserrors.KindTimeout, res.ErrorKind)

	res = <-second
	assert.Equal(t, OutcomeRotated, res.Outcome, res.Error)
	assert.Len(t, fv.Submissions(), 1)
}

func TestSubmitAndWaitRejectsDifferentPolicyInFlight(t *testing.T) {
	t.Parallel()

	fv := newFakeVault()
	fv.AddCertificate("a", daysFromNow(10))

	submitted := make(chan struct{})
	release := make(chan struct{})
	fv.OnSubmit = func(string) {
		close(submitted)
		<-release
	}

	poller := newTestPoller(fv)

	first := make(chan Result, 1)
	go func() {
		first <- poller.SubmitAndWait(context.Background(), "a", testPolicy, fastBudget)
	}()
	<-submitted

	other := testPolicy
	other.Subject = "CN=different"
	other.KeySize = 4096
	res := poller.SubmitAndWait(context.Background(), "a", other, fastBudget)

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, dserrors.KindValidation, res.ErrorKind)
	assert.Contains(t, res.Error, "different policy")

	close(release)
	res = <-first
	assert.Equal(t, OutcomeRotated, res.Outcome, res.Error)
	assert.Equal(t, []string{"a"}, fv.Submissions())
	assert.Equal(t, "CN=a", fv.Policies["a"].Subject)
}
