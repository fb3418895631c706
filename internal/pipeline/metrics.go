// Package pipeline implements pipeline metrics.
package pipeline

import (
	"sync/atomic"
)

// Metrics contains per-session counters.
type Metrics struct {
	SessionID string

	// Event counters (atomic, read by the control plane while the session runs)
	Events         atomic.Uint64
	Spans          atomic.Uint64
	Anomalies      atomic.Uint64
	DroppedPackets atomic.Uint64
	DecodeErrors   atomic.Uint64
	Reported       atomic.Uint64
	ReportErrors   atomic.Uint64
}

// NewMetrics creates a new metrics instance.
func NewMetrics(sessionID string) *Metrics {
	return &Metrics{SessionID: sessionID}
}
