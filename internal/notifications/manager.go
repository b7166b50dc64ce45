package notifications

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/systmms/kvrotate/internal/config"
	"github.com/systmms/kvrotate/internal/logging"
)

const (
	// DefaultQueueSize is the maximum number of events that can be queued.
	DefaultQueueSize = 100

	drainTimeout = 5 * time.Second
)

// Manager coordinates notification delivery across multiple providers.
// It uses an async bounded queue so rotations never wait on delivery.
type Manager struct {
	providers []Provider
	queue     chan Event
	logger    *logging.Logger
	wg        sync.WaitGroup
	mu        sync.RWMutex
	running   bool
	done      chan struct{}

	droppedCount int64
	droppedMu    sync.Mutex
}

// NewManager creates a new notification manager with the specified queue size.
// If queueSize is 0, DefaultQueueSize is used.
func NewManager(queueSize int, logger *logging.Logger) *Manager {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Manager{
		providers: make([]Provider, 0),
		queue:     make(chan Event, queueSize),
		logger:    logger.Named("notifications"),
		done:      make(chan struct{}),
	}
}

// FromConfig builds a manager with one webhook provider per configured
// webhook. Every invalid webhook is reported, not just the first.
func FromConfig(cfg config.NotificationConfig, logger *logging.Logger) (*Manager, error) {
	m := NewManager(cfg.QueueSize, logger)

	var result *multierror.Error
	for _, wh := range cfg.Webhooks {
		provider, err := CreateWebhookProvider(wh)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		m.RegisterProvider(provider)
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return m, nil
}

// RegisterProvider adds a notification provider to the manager.
func (m *Manager) RegisterProvider(provider Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers = append(m.providers, provider)
}

// Providers returns a copy of the registered providers.
func (m *Manager) Providers() []Provider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	providers := make([]Provider, len(m.providers))
	copy(providers, m.providers)
	return providers
}

// Start begins the background notification worker goroutine.
// Events sent before Start are discarded.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	m.wg.Add(1)
	go m.worker(ctx)
}

// Stop shuts down the worker after delivering queued events.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	close(m.done)
	m.wg.Wait()
}

// Send queues an event for delivery. It never blocks; when the queue is
// full the event is dropped and counted.
func (m *Manager) Send(event Event) {
	m.mu.RLock()
	if !m.running {
		m.mu.RUnlock()
		return
	}
	m.mu.RUnlock()

	select {
	case m.queue <- event:
	default:
		m.droppedMu.Lock()
		m.droppedCount++
		m.droppedMu.Unlock()

		incrementDroppedCounter()
		m.logger.Warn("Notification queue full, dropped %s event for %s", event.Type, eventSubject(event))
	}
}

// DroppedCount returns the number of events that were dropped due to queue overflow.
func (m *Manager) DroppedCount() int64 {
	m.droppedMu.Lock()
	defer m.droppedMu.Unlock()
	return m.droppedCount
}

func (m *Manager) worker(ctx context.Context) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			m.drainQueue()
			return
		case <-m.done:
			m.drainQueue()
			return
		case event := <-m.queue:
			m.dispatchEvent(ctx, event)
		}
	}
}

func (m *Manager) drainQueue() {
	for {
		select {
		case event := <-m.queue:
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			m.dispatchEvent(drainCtx, event)
			cancel()
		default:
			return
		}
	}
}

// dispatchEvent sends an event to all providers that support it. Failures
// are logged together once per event.
func (m *Manager) dispatchEvent(ctx context.Context, event Event) {
	m.mu.RLock()
	providers := m.providers
	m.mu.RUnlock()

	var result *multierror.Error
	for _, provider := range providers {
		if !provider.SupportsEvent(event.Type) {
			continue
		}
		if err := provider.Send(ctx, event); err != nil {
			incrementFailedCounter(provider.Name())
			result = multierror.Append(result, err)
			continue
		}
		m.logger.Debug("Delivered %s event for %s via %s", event.Type, eventSubject(event), provider.Name())
	}

	if err := result.ErrorOrNil(); err != nil {
		m.logger.Warn("Notification delivery failed for %s event: %v", event.Type, err)
	}
}

func eventSubject(event Event) string {
	if event.Certificate != "" {
		return event.Certificate
	}
	return event.Vault
}
