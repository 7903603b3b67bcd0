package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// RelayerMetrics tracks the disclosure relayer's progress.
type RelayerMetrics struct {
	finalized *prometheus.CounterVec
	errors    *prometheus.CounterVec
	backlog   prometheus.Gauge
	cursor    prometheus.Gauge
}

var (
	relayerOnce     sync.Once
	relayerRegistry *RelayerMetrics
)

// Relayer returns the lazily-initialised relayer metrics registry.
func Relayer() *RelayerMetrics {
	relayerOnce.Do(func() {
		relayerRegistry = &RelayerMetrics{
			finalized: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "relayer_finalize_total",
				Help: "Finalize attempts segmented by outcome.",
			}, []string{"outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "relayer_errors_total",
				Help: "Relayer errors segmented by stage.",
			}, []string{"stage"}),
			backlog: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "relayer_backlog",
				Help: "Journaled withdraw requests not yet finalized.",
			}),
			cursor: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "relayer_event_cursor",
				Help: "Sequence of the last event scanned by the relayer.",
			}),
		}
		prometheus.MustRegister(
			relayerRegistry.finalized,
			relayerRegistry.errors,
			relayerRegistry.backlog,
			relayerRegistry.cursor,
		)
	})
	return relayerRegistry
}

// RecordFinalize counts a finalize attempt.
func (m *RelayerMetrics) RecordFinalize(outcome string) {
	if m == nil {
		return
	}
	m.finalized.WithLabelValues(outcome).Inc()
}

// RecordError counts a failure in the given stage.
func (m *RelayerMetrics) RecordError(stage string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(stage).Inc()
}

// SetBacklog reports the number of unfinished jobs.
func (m *RelayerMetrics) SetBacklog(n int) {
	if m == nil {
		return
	}
	m.backlog.Set(float64(n))
}

// SetCursor reports the last scanned event sequence.
func (m *RelayerMetrics) SetCursor(seq uint64) {
	if m == nil {
		return
	}
	m.cursor.Set(float64(seq))
}
