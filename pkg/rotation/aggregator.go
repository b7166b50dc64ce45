package rotation

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Aggregator collects results from one run, in the order they are added.
type Aggregator struct {
	mu      sync.Mutex
	runID   string
	trigger Trigger
	vault   string
	dryRun  bool
	started time.Time
	results []Result
	now     func() time.Time
}

// NewAggregator starts collecting results for a run against vaultName.
func NewAggregator(vaultName string, trigger Trigger) *Aggregator {
	return newAggregator(vaultName, trigger, time.Now)
}

func newAggregator(vaultName string, trigger Trigger, now func() time.Time) *Aggregator {
	return &Aggregator{
		runID:   uuid.NewString(),
		trigger: trigger,
		vault:   vaultName,
		started: now().UTC(),
		now:     now,
	}
}

// MarkDryRun flags the summary as produced without mutations.
func (a *Aggregator) MarkDryRun() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dryRun = true
}

// Add appends r.
func (a *Aggregator) Add(r Result) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.results = append(a.results, r)
}

// Len returns the number of results added so far.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.results)
}

// Summary returns the timestamped summary of everything added so far.
func (a *Aggregator) Summary() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	results := make([]Result, len(a.results))
	copy(results, a.results)

	return Summary{
		RunID:     a.runID,
		Trigger:   a.trigger,
		Vault:     a.vault,
		Timestamp: a.now().UTC(),
		Started:   a.started,
		DryRun:    a.dryRun,
		Counts:    Count(results),
		Results:   results,
	}
}

// Count tallies results by outcome.
func Count(results []Result) Counts {
	c := Counts{Total: len(results)}
	for _, r := range results {
		switch r.Outcome {
		case OutcomeRotated:
			c.Rotated++
		case OutcomeSkipped:
			c.Skipped++
		case OutcomeFailed:
			c.Failed++
		case OutcomeTimedOut:
			c.TimedOut++
		}
	}
	return c
}
