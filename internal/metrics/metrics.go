// Package metrics exposes Prometheus collectors for detection runs.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "sentinel"
	subsystem = "detector"
)

var durationBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30}

// Outcome labels for detection runs and narrative calls.
const (
	OutcomeClean     = "clean"
	OutcomeAnomalies = "anomalies"
	OutcomeError     = "error"
	OutcomeOK        = "ok"
)

// Metrics groups the detector collectors. A nil *Metrics records nothing.
type Metrics struct {
	records        prometheus.Counter
	anomalies      prometheus.Counter
	sourceFailures prometheus.Counter
	runs           *prometheus.CounterVec
	duration       prometheus.Histogram
	narratives     *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. Collectors already
// registered by an earlier call are reused.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		records: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "records_total",
			Help: "Log records scored",
		}),
		anomalies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "anomalies_total",
			Help: "Records scored above the threshold",
		}),
		sourceFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "unreadable_sources_total",
			Help: "Input sources skipped because they could not be decoded",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "runs_total",
			Help: "Detection runs by outcome",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name:    "run_duration_seconds",
			Help:    "Latency of detection runs",
			Buckets: durationBuckets,
		}),
		narratives: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "narratives_total",
			Help: "Narrative summary requests by outcome",
		}, []string{"outcome"}),
	}

	m.records = register(reg, m.records)
	m.anomalies = register(reg, m.anomalies)
	m.sourceFailures = register(reg, m.sourceFailures)
	m.runs = register(reg, m.runs)
	m.duration = register(reg, m.duration)
	m.narratives = register(reg, m.narratives)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

// ObserveRun records one finished detection run.
func (m *Metrics) ObserveRun(records, anomalies, unreadable int, took time.Duration, err error) {
	if m == nil {
		return
	}
	m.sourceFailures.Add(float64(unreadable))
	m.duration.Observe(took.Seconds())
	switch {
	case err != nil:
		m.runs.WithLabelValues(OutcomeError).Inc()
		return
	case anomalies > 0:
		m.runs.WithLabelValues(OutcomeAnomalies).Inc()
	default:
		m.runs.WithLabelValues(OutcomeClean).Inc()
	}
	m.records.Add(float64(records))
	m.anomalies.Add(float64(anomalies))
}

// ObserveNarrative records one narrative request.
func (m *Metrics) ObserveNarrative(failed bool) {
	if m == nil {
		return
	}
	outcome := OutcomeOK
	if failed {
		outcome = OutcomeError
	}
	m.narratives.WithLabelValues(outcome).Inc()
}
