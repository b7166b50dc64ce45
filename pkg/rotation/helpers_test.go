package rotation

import (
	"sync"
	"testing"
	"time"

	"github.com/systmms/kvrotate/internal/logging"
	"github.com/systmms/kvrotate/tests/fakes"
)

var testNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func daysFromNow(days float64) time.Time {
	return testNow.Add(time.Duration(days * float64(24*time.Hour)))
}

// fastBudget lets a scripted operation progress in a few milliseconds.
var fastBudget = Budget{Interval: time.Millisecond, MaxWait: 200 * time.Millisecond}

// shortBudget times out quickly.
var shortBudget = Budget{Interval: 2 * time.Millisecond, MaxWait: 20 * time.Millisecond}

func newFakeVault() *fakes.FakeVault {
	fv := fakes.NewFakeVault("test-kv")
	fv.Now = fixedClock
	return fv
}

func newTestPoller(fv *fakes.FakeVault) *Poller {
	return NewPoller(fv, logging.Discard(),
		WithSubmitRetries(3, time.Millisecond),
		WithPollerClock(fixedClock),
	)
}

// recordingObserver captures everything it is told.
type recordingObserver struct {
	mu        sync.Mutex
	results   []Result
	triggers  []Trigger
	summaries []Summary
}

func (o *recordingObserver) ResultRecorded(trigger Trigger, r Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.triggers = append(o.triggers, trigger)
	o.results = append(o.results, r)
}

func (o *recordingObserver) SummaryRecorded(s Summary) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.summaries = append(o.summaries, s)
}

func mustNotPanic(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("unexpected panic: %v", r)
		}
	}()
	fn()
}
