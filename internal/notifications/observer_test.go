package notifications

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/kvrotate/pkg/rotation"
)

func TestResultEvent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		outcome rotation.Outcome
		want    EventType
		ok      bool
	}{
		{rotation.OutcomeRotated, EventRotated, true},
		{rotation.OutcomeFailed, EventRotationFailed, true},
		{rotation.OutcomeTimedOut, EventRotationTimedOut, true},
		{rotation.OutcomeSkipped, "", false},
	}

	for _, tt := range tests {

		tt := tt
		t.Run(string(tt.outcome), func(t *testing.T) {
			t.Parallel()
			event, ok := ResultEvent("kv", rotation.TriggerManual, rotation.Result{Certificate: "a", Outcome: tt.outcome, Finished: eventTime})
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, event.Type)
		})
	}
}

func TestNotifier(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, 10)
	provider := newFakeProvider("test")
	m.RegisterProvider(provider)
	m.Start(context.Background())

	n := NewNotifier(m, "kv-prod")
	var _ rotation.Observer = n

	n.ResultRecorded(rotation.TriggerScheduled, rotation.Result{Certificate: "a", Outcome: rotation.OutcomeRotated, Finished: eventTime})
	n.ResultRecorded(rotation.TriggerScheduled, rotation.Result{Certificate: "b", Outcome: rotation.OutcomeSkipped, Reason: rotation.ReasonNotDue})
	n.ResultRecorded(rotation.TriggerScheduled, rotation.Result{Certificate: "c", Outcome: rotation.OutcomeFailed, Error: "boom", ErrorKind: "upstream"})
	n.SummaryRecorded(rotation.Summary{
		RunID:     "run-1",
		Trigger:   rotation.TriggerScheduled,
		Vault:     "kv-prod",
		Timestamp: eventTime,
		Started:   eventTime.Add(-time.Minute),
		Counts:    rotation.Counts{Total: 3, Rotated: 1, Skipped: 1, Failed: 1},
	})
	n.SummaryRecorded(rotation.Summary{Trigger: rotation.TriggerOnDemand, Vault: "kv-prod"})
	m.Stop()

	events := provider.getSentEvents()
	require.Len(t, events, 3)
	assert.Equal(t, EventRotated, events[0].Type)
	assert.Equal(t, "kv-prod", events[0].Vault)
	assert.Equal(t, EventRotationFailed, events[1].Type)
	assert.Equal(t, "boom", events[1].Error)

	sweep := events[2]
	assert.Equal(t, EventSweepCompleted, sweep.Type)
	require.NotNil(t, sweep.Counts)
	assert.Equal(t, 1, sweep.Counts.Problems())
	assert.Equal(t, time.Minute, sweep.Duration)
}
