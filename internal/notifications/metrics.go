package notifications

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// droppedTotal tracks the number of notifications dropped due to queue overflow.
	droppedTotal prometheus.Counter

	// failedTotal tracks deliveries that failed after all attempts.
	failedTotal *prometheus.CounterVec

	metricsOnce       sync.Once
	metricsRegistered bool
)

// InitMetrics registers the notification metrics with the default registry.
func InitMetrics() {
	metricsOnce.Do(func() {
		droppedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "kvrotate_notifications_dropped_total",
			Help: "Total number of notification events dropped due to queue overflow",
		})
		failedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kvrotate_notifications_failed_total",
			Help: "Total number of notification deliveries that failed",
		}, []string{"provider"})
		metricsRegistered = true
	})
}

// incrementDroppedCounter is safe to call before InitMetrics.
func incrementDroppedCounter() {
	if metricsRegistered && droppedTotal != nil {
		droppedTotal.Inc()
	}
}

func incrementFailedCounter(provider string) {
	if metricsRegistered && failedTotal != nil {
		failedTotal.WithLabelValues(provider).Inc()
	}
}

// GetDroppedCounter returns the dropped counter for testing.
// Returns nil if metrics have not been initialized.
func GetDroppedCounter() prometheus.Counter {
	return droppedTotal
}

// GetFailedCounter returns the failed counter for testing.
func GetFailedCounter() *prometheus.CounterVec {
	return failedTotal
}
