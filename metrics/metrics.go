// Package metrics instruments provider attempts and orchestrated generations
// with Prometheus collectors.
//
// Metrics:
//   - llmrelay_provider_attempts_total: provider calls by outcome (success, failure)
//   - llmrelay_provider_errors_total: provider failures by error kind
//   - llmrelay_provider_latency_seconds: provider call latency
//   - llmrelay_provider_health: last ValidateConfig result (1=usable, 0=not)
//   - llmrelay_fallbacks_total: advances from one provider to the next
//   - llmrelay_generations_total: orchestrated calls by outcome
//
// A nil *Recorder is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/richinex/llmrelay/llm"
)

const namespace = "llmrelay"

// Outcome labels.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeCanceled = "canceled"
)

// Recorder holds the relay's collectors.
type Recorder struct {
	attempts    *prometheus.CounterVec
	errors      *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	health      *prometheus.GaugeVec
	fallbacks   prometheus.Counter
	generations *prometheus.CounterVec
}

// NewRecorder creates the collectors and registers them with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_attempts_total",
				Help:      "Total number of provider calls by outcome",
			},
			[]string{"provider", "outcome"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_errors_total",
				Help:      "Total number of provider errors by kind",
			},
			[]string{"provider", "kind"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_latency_seconds",
				Help:      "Provider call latency in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"provider"},
		),
		health: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "provider_health",
				Help:      "Provider configuration health (1=usable, 0=not)",
			},
			[]string{"provider"},
		),
		fallbacks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fallbacks_total",
				Help:      "Total number of advances to the next provider",
			},
		),
		generations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generations_total",
				Help:      "Total number of orchestrated generations by outcome",
			},
			[]string{"outcome"},
		),
	}

	reg.MustRegister(
		r.attempts,
		r.errors,
		r.latency,
		r.health,
		r.fallbacks,
		r.generations,
	)
	return r
}

// ObserveAttempt records one provider call. A failed call also counts
// against its error kind.
func (r *Recorder) ObserveAttempt(provider string, elapsed time.Duration, err error) {
	if r == nil {
		return
	}
	r.latency.WithLabelValues(provider).Observe(elapsed.Seconds())
	if err == nil {
		r.attempts.WithLabelValues(provider, OutcomeSuccess).Inc()
		return
	}
	r.attempts.WithLabelValues(provider, OutcomeFailure).Inc()
	r.errors.WithLabelValues(provider, llm.KindOf(err).String()).Inc()
}

// UpdateHealth records a ValidateConfig result.
func (r *Recorder) UpdateHealth(provider string, healthy bool) {
	if r == nil {
		return
	}
	value := 0.0
	if healthy {
		value = 1.0
	}
	r.health.WithLabelValues(provider).Set(value)
}

// IncFallback records an advance to the next provider.
func (r *Recorder) IncFallback() {
	if r == nil {
		return
	}
	r.fallbacks.Inc()
}

// ObserveGeneration records the outcome of an orchestrated call.
func (r *Recorder) ObserveGeneration(outcome string) {
	if r == nil {
		return
	}
	r.generations.WithLabelValues(outcome).Inc()
}
