// Package metrics exposes rotation activity as Prometheus metrics.
package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/systmms/kvrotate/pkg/rotation"
)

var (
	// Rotation metrics
	resultsTotal     *prometheus.CounterVec
	errorsTotal      *prometheus.CounterVec
	rotationDuration *prometheus.HistogramVec
	daysUntilExpiry  *prometheus.GaugeVec

	// Sweep metrics
	sweepLastTimestamp *prometheus.GaugeVec
	sweepLastProblems  *prometheus.GaugeVec
	sweepCertificates  *prometheus.GaugeVec

	// Registration guard
	metricsOnce       sync.Once
	metricsRegistered atomic.Bool
)

// Recorder records rotation results and summaries. It is a rotation.Observer.
type Recorder struct{}

var _ rotation.Observer = (*Recorder)(nil)

// NewRecorder creates a new Recorder. Nothing is recorded until InitMetrics
// has been called.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// InitMetrics registers all metrics with the default registry.
// This should be called once at startup.
func InitMetrics() {
	metricsOnce.Do(func() {
		resultsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kvrotate_rotation_results_total",
				Help: "Total number of certificate results by trigger and outcome",
			},
			[]string{"trigger", "outcome"},
		)

		errorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kvrotate_rotation_errors_total",
				Help: "Total number of failed or timed out certificates by error kind",
			},
			[]string{"kind"},
		)

		rotationDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kvrotate_rotation_duration_seconds",
				Help:    "Time from submission to terminal status, in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"trigger", "outcome"},
		)

		daysUntilExpiry = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kvrotate_certificate_days_until_expiry",
				Help: "Whole days until expiry observed for each certificate at its last evaluation",
			},
			[]string{"certificate"},
		)

		sweepLastTimestamp = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kvrotate_sweep_last_timestamp_seconds",
				Help: "Unix time the last run finished",
			},
			[]string{"trigger"},
		)

		sweepLastProblems = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kvrotate_sweep_last_problems",
				Help: "Failed plus timed out certificates in the last run",
			},
			[]string{"trigger"},
		)

		sweepCertificates = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kvrotate_sweep_certificates",
				Help: "Certificates in the last sweep by evaluated status",
			},
			[]string{"status"},
		)

		metricsRegistered.Store(true)
	})
}

// ResultRecorded counts one certificate result.
func (r *Recorder) ResultRecorded(trigger rotation.Trigger, res rotation.Result) {
	if !metricsRegistered.Load() {
		return
	}

	resultsTotal.WithLabelValues(string(trigger), string(res.Outcome)).Inc()

	if res.ErrorKind != "" {
		errorsTotal.WithLabelValues(res.ErrorKind).Inc()
	}

	if res.Outcome != rotation.OutcomeSkipped {
		rotationDuration.WithLabelValues(string(trigger), string(res.Outcome)).Observe(res.Duration().Seconds())
	}

	if res.Expiry != nil {
		daysUntilExpiry.WithLabelValues(res.Certificate).Set(float64(res.Expiry.DaysUntilExpiry))
	}
}

// SummaryRecorded updates the last-run gauges. Status counts are only
// refreshed by sweeps, since on-demand runs cover a single certificate.
func (r *Recorder) SummaryRecorded(s rotation.Summary) {
	if !metricsRegistered.Load() {
		return
	}

	trigger := string(s.Trigger)
	sweepLastTimestamp.WithLabelValues(trigger).Set(float64(s.Timestamp.Unix()))
	sweepLastProblems.WithLabelValues(trigger).Set(float64(s.Counts.Problems()))

	if s.Trigger == rotation.TriggerOnDemand {
		return
	}

	counts := map[rotation.Status]int{
		rotation.StatusExpired:      0,
		rotation.StatusExpiringSoon: 0,
		rotation.StatusOK:           0,
		rotation.StatusUnknown:      0,
	}
	for _, res := range s.Results {
		if res.Expiry == nil {
			counts[rotation.StatusUnknown]++
			continue
		}
		counts[res.Expiry.Status]++
	}
	for status, n := range counts {
		sweepCertificates.WithLabelValues(string(status)).Set(float64(n))
	}
}

// GetResultsTotal returns the results counter for testing.
func GetResultsTotal() *prometheus.CounterVec {
	return resultsTotal
}

// GetErrorsTotal returns the errors counter for testing.
func GetErrorsTotal() *prometheus.CounterVec {
	return errorsTotal
}

// GetRotationDuration returns the rotation duration histogram for testing.
func GetRotationDuration() *prometheus.HistogramVec {
	return rotationDuration
}

// GetDaysUntilExpiry returns the days-until-expiry gauge for testing.
func GetDaysUntilExpiry() *prometheus.GaugeVec {
	return daysUntilExpiry
}

// GetSweepLastProblems returns the last-run problems gauge for testing.
func GetSweepLastProblems() *prometheus.GaugeVec {
	return sweepLastProblems
}

// GetSweepCertificates returns the sweep status gauge for testing.
func GetSweepCertificates() *prometheus.GaugeVec {
	return sweepCertificates
}

// IsMetricsRegistered returns whether metrics have been initialized.
func IsMetricsRegistered() bool {
	return metricsRegistered.Load()
}
