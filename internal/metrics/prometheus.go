package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements Collector backed by Prometheus.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	operations    *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	reassignments *prometheus.CounterVec
}

// Compile-time assertion that PrometheusCollector implements Collector.
var _ Collector = (*PrometheusCollector)(nil)

// NewPrometheus creates a new Prometheus-backed metrics collector.
//
// Parameters:
//   - reg: Prometheus registerer (uses prometheus.DefaultRegisterer if nil)
//   - namespace: metrics namespace (defaults to "groupwork" if empty)
//
// Metrics are registered lazily on the first observed event.
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "groupwork"
	}

	return &PrometheusCollector{reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.operations = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "group",
			Name:      "operations_total",
			Help:      "Total group operations by operation and result (success,rejected,error).",
		}, []string{"op", "result"})

		p.latency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "group",
			Name:      "operation_duration_seconds",
			Help:      "Latency of group operations in seconds, including the transaction.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms .. ~2s
		}, []string{"op"})

		p.reassignments = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "group",
			Name:      "role_reassignments_total",
			Help:      "Orphaned roles handled after a member left, by fallback branch.",
		}, []string{"branch"})

		p.reg.MustRegister(p.operations, p.latency, p.reassignments)
	})
}

// ObserveOperation implements Collector.
func (p *PrometheusCollector) ObserveOperation(op, result string, duration time.Duration) {
	p.ensureRegistered()
	p.operations.WithLabelValues(op, result).Inc()
	p.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// IncReassignment implements Collector.
func (p *PrometheusCollector) IncReassignment(branch string) {
	p.ensureRegistered()
	p.reassignments.WithLabelValues(branch).Inc()
}
