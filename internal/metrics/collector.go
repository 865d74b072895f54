// Package metrics records group operation outcomes.
package metrics

import "time"

// Operation results.
const (
	ResultSuccess  = "success"  // operation committed
	ResultRejected = "rejected" // business rule violation or access denied
	ResultError    = "error"    // infrastructure failure
)

// Collector receives instrumentation events from the group service.
type Collector interface {
	// ObserveOperation records one finished operation with its result and latency.
	ObserveOperation(op, result string, duration time.Duration)
	// IncReassignment records one orphaned role handled by the given fallback branch.
	IncReassignment(branch string)
}

// NopMetrics discards every event.
type NopMetrics struct{}

var _ Collector = (*NopMetrics)(nil)

// NewNop returns a collector that records nothing.
func NewNop() *NopMetrics {
	return &NopMetrics{}
}

func (*NopMetrics) ObserveOperation(string, string, time.Duration) {}
func (*NopMetrics) IncReassignment(string)                         {}
