// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsTotal counts accepted and rejected producer connections
	ConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otrace_connections_total",
			Help: "Total number of producer connections by outcome",
		},
		[]string{"result"},
	)

	// ActiveSessions tracks sessions currently being decoded
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "otrace_active_sessions",
			Help: "Number of trace sessions currently being decoded",
		},
	)

	// EventsTotal counts decoded events by tag
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otrace_events_total",
			Help: "Total number of decoded event records",
		},
		[]string{"tag"},
	)

	// DecodeErrorsTotal counts sessions ended by a decode failure, by error kind
	DecodeErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otrace_decode_errors_total",
			Help: "Total number of sessions terminated by a decode error",
		},
		[]string{"kind"},
	)

	// SpansCompletedTotal counts correlated spans
	SpansCompletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "otrace_spans_completed_total",
			Help: "Total number of spans matched start to end",
		},
	)

	// SpanAnomaliesTotal counts correlation anomalies (unmatched ends, unclosed spans, overflow)
	SpanAnomaliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otrace_span_anomalies_total",
			Help: "Total number of span correlation anomalies",
		},
		[]string{"type"},
	)

	// DroppedPacketsTotal sums dropped_packets_delta reported by producers
	DroppedPacketsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "otrace_dropped_packets_total",
			Help: "Total number of packets the producers reported as dropped",
		},
	)

	// SpanDurationSeconds measures correlated span durations
	SpanDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "otrace_span_duration_seconds",
			Help:    "Duration of correlated spans in seconds",
			Buckets: prometheus.ExponentialBuckets(0.000001, 2, 24), // 1µs to ~8s
		},
	)

	// ReporterErrorsTotal counts reporter errors by reporter name
	ReporterErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otrace_reporter_errors_total",
			Help: "Total number of reporter errors",
		},
		[]string{"reporter"},
	)

	// ReporterBatchSize measures batch sizes handed to reporters
	ReporterBatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "otrace_reporter_batch_size",
			Help:    "Number of records per reporter batch",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1 to 2048
		},
		[]string{"reporter"},
	)

	// ReporterFallbackTotal counts records diverted to a fallback reporter
	ReporterFallbackTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otrace_reporter_fallback_total",
			Help: "Total number of records delivered through a fallback reporter",
		},
		[]string{"reporter"},
	)

	// RecordedBytesTotal counts raw stream bytes written to recordings
	RecordedBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "otrace_recorded_bytes_total",
			Help: "Total number of raw stream bytes written to recording files",
		},
	)
)

// Connection outcome label values
const (
	ConnAccepted    = "accepted"
	ConnRateLimited = "rate_limited"
	ConnOverLimit   = "over_limit"
)

// Span anomaly label values
const (
	AnomalyUnmatchedEnd = "unmatched_end"
	AnomalyUnclosed     = "unclosed"
	AnomalyOverflow     = "depth_exceeded"
)
