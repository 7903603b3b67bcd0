package observability

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	vaultMetricsOnce sync.Once
	vaultRegistry    *VaultMetrics
)

// ModuleMetrics returns the lazily-initialised registry recording JSON-RPC
// activity per module and method.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "clend",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by module, method and outcome.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "clend",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by module, method and error code.",
			}, []string{"module", "method", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "clend",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "clend",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected by throttling policies.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records a handled request. code is the JSON-RPC error code, or zero
// on success.
func (m *moduleMetrics) Observe(module, method string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if code != 0 {
		outcome = "error"
		m.errors.WithLabelValues(module, method, strconv.Itoa(code)).Inc()
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit".
func (m *moduleMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}

// VaultMetrics tracks state transitions applied by the node.
type VaultMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	pending    prometheus.Gauge
}

// Vault returns the lazily-initialised vault metrics registry.
func Vault() *VaultMetrics {
	vaultMetricsOnce.Do(func() {
		vaultRegistry = &VaultMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "clend",
				Subsystem: "vault",
				Name:      "operations_total",
				Help:      "Vault operations segmented by operation and outcome.",
			}, []string{"op", "outcome"}),
			duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "clend",
				Subsystem: "vault",
				Name:      "operation_duration_seconds",
				Help:      "Time spent applying a vault operation including commit.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"op"}),
			pending: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "clend",
				Subsystem: "vault",
				Name:      "pending_withdrawals",
				Help:      "Withdraw requests awaiting finalization.",
			}),
		}
		prometheus.MustRegister(
			vaultRegistry.operations,
			vaultRegistry.duration,
			vaultRegistry.pending,
		)
	})
	return vaultRegistry
}

// RecordOperation records one applied operation. An empty outcome is reported
// as "ok".
func (m *VaultMetrics) RecordOperation(op, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	op = strings.TrimSpace(op)
	if op == "" {
		op = "unknown"
	}
	if outcome == "" {
		outcome = "ok"
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.duration.WithLabelValues(op).Observe(duration.Seconds())
}

// SetPendingWithdrawals reports the number of persisted requests awaiting
// finalization.
func (m *VaultMetrics) SetPendingWithdrawals(n uint64) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}
