package observability

import (
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BankMetrics tracks ledger activity as seen by the daemon.
type BankMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	events     *prometheus.CounterVec
	throttles  *prometheus.CounterVec
	total      prometheus.Gauge
	capacity   prometheus.Gauge
}

var (
	bankMetricsOnce sync.Once
	bankRegistry    *BankMetrics
)

// Bank returns the lazily-initialised bank metrics registered with the
// default Prometheus registry.
func Bank() *BankMetrics {
	bankMetricsOnce.Do(func() {
		bankRegistry = newBankMetrics()
		prometheus.MustRegister(
			bankRegistry.operations,
			bankRegistry.latency,
			bankRegistry.events,
			bankRegistry.throttles,
			bankRegistry.total,
			bankRegistry.capacity,
		)
	})
	return bankRegistry
}

func newBankMetrics() *BankMetrics {
	return &BankMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stablebank",
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Ledger operations segmented by method and outcome.",
		}, []string{"method", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "stablebank",
			Subsystem: "ledger",
			Name:      "operation_duration_seconds",
			Help:      "Latency distribution for ledger operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stablebank",
			Subsystem: "events",
			Name:      "emitted_total",
			Help:      "Committed events segmented by type.",
		}, []string{"type"}),
		throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stablebank",
			Subsystem: "api",
			Name:      "throttles_total",
			Help:      "Requests rejected by the rate limiter.",
		}, []string{"route"}),
		total: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "stablebank",
			Subsystem: "ledger",
			Name:      "total_deposited",
			Help:      "Settlement units currently owed to depositors.",
		}),
		capacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "stablebank",
			Subsystem: "ledger",
			Name:      "deposit_cap",
			Help:      "Configured deposit cap in settlement units.",
		}),
	}
}

// ObserveOperation records the outcome and latency of a ledger call. An empty
// outcome is reported as "ok".
func (m *BankMetrics) ObserveOperation(method, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	method = normalizeLabel(method)
	outcome = strings.TrimSpace(outcome)
	if outcome == "" {
		outcome = "ok"
	}
	m.operations.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(elapsed.Seconds())
}

// RecordEvent counts a committed event by type.
func (m *BankMetrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(normalizeLabel(eventType)).Inc()
}

// RecordThrottle counts a request rejected by the rate limiter.
func (m *BankMetrics) RecordThrottle(route string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(normalizeLabel(route)).Inc()
}

// SetLedgerTotals publishes the running total and cap. Values beyond float64
// precision are approximated.
func (m *BankMetrics) SetLedgerTotals(total, limit *big.Int) {
	if m == nil {
		return
	}
	m.total.Set(bigToFloat(total))
	m.capacity.Set(bigToFloat(limit))
}

func bigToFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}

func normalizeLabel(v string) string {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
