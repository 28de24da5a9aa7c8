package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the registration funnel: session
// lifecycle counts, per-step advance outcomes, and verification activity.
type Metrics struct {
	SessionsStarted    prometheus.Counter
	SessionsCompleted  prometheus.Counter
	SessionsCancelled  prometheus.Counter
	StepAdvances       *prometheus.CounterVec
	VerificationSends  *prometheus.CounterVec
	VerificationChecks *prometheus.CounterVec
	AdvanceDuration    prometheus.Histogram
	FunnelDuration     prometheus.Histogram
}

// New creates a Metrics instance with all registration metrics registered.
func New() *Metrics {
	return &Metrics{
		SessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "examtrack_registration_sessions_started_total",
			Help: "Total number of registration sessions started",
		}),
		SessionsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "examtrack_registration_sessions_completed_total",
			Help: "Total number of registration sessions that reached activation",
		}),
		SessionsCancelled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "examtrack_registration_sessions_cancelled_total",
			Help: "Total number of registration sessions cancelled",
		}),
		StepAdvances: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "examtrack_registration_step_advances_total",
			Help: "Step advance attempts by step and outcome",
		}, []string{"step", "outcome"}),
		VerificationSends: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "examtrack_registration_verification_sends_total",
			Help: "Verification code sends by outcome",
		}, []string{"outcome"}),
		VerificationChecks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "examtrack_registration_verification_checks_total",
			Help: "Verification code checks by outcome",
		}, []string{"outcome"}),
		AdvanceDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "examtrack_registration_advance_duration_seconds",
			Help:    "Duration of step advance operations including availability checks",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		FunnelDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "examtrack_registration_funnel_duration_seconds",
			Help:    "Wall time from session start to completion",
			Buckets: []float64{60, 300, 600, 1800, 3600, 7200, 86400},
		}),
	}
}

// IncrementStarted records a new registration session.
func (m *Metrics) IncrementStarted() {
	m.SessionsStarted.Inc()
}

// IncrementCancelled records a cancelled session.
func (m *Metrics) IncrementCancelled() {
	m.SessionsCancelled.Inc()
}

// ObserveAdvance records a step advance attempt and its outcome
// ("ok", "validation_failed", "conflict", "error").
func (m *Metrics) ObserveAdvance(step, outcome string, start time.Time) {
	m.StepAdvances.WithLabelValues(step, outcome).Inc()
	m.AdvanceDuration.Observe(time.Since(start).Seconds())
}

// ObserveCompletion records a session reaching activation along with the
// total funnel wall time.
func (m *Metrics) ObserveCompletion(startedAt, completedAt time.Time) {
	m.SessionsCompleted.Inc()
	m.FunnelDuration.Observe(completedAt.Sub(startedAt).Seconds())
}

// ObserveVerificationSend records a code send outcome ("ok", "throttled", "error").
func (m *Metrics) ObserveVerificationSend(outcome string) {
	m.VerificationSends.WithLabelValues(outcome).Inc()
}

// ObserveVerificationCheck records a code check outcome ("ok", "rejected", "locked_out").
func (m *Metrics) ObserveVerificationCheck(outcome string) {
	m.VerificationChecks.WithLabelValues(outcome).Inc()
}
