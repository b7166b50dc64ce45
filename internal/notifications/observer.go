package notifications

import (
	"github.com/systmms/kvrotate/pkg/rotation"
)

// Notifier turns recorded results into events. It is a rotation.Observer.
type Notifier struct {
	manager *Manager
	vault   string
}

var _ rotation.Observer = (*Notifier)(nil)

// NewNotifier sends events for vault through manager.
func NewNotifier(manager *Manager, vault string) *Notifier {
	return &Notifier{manager: manager, vault: vault}
}

func (n *Notifier) ResultRecorded(trigger rotation.Trigger, r rotation.Result) {
	if event, ok := ResultEvent(n.vault, trigger, r); ok {
		n.manager.Send(event)
	}
}

// SummaryRecorded sends sweep_completed. On-demand requests already got one
// event per result and have no sweep to report.
func (n *Notifier) SummaryRecorded(s rotation.Summary) {
	if s.Trigger == rotation.TriggerOnDemand {
		return
	}
	n.manager.Send(SummaryEvent(s))
}
