// Package core defines the record envelope handed to reporters.
package core

import (
	"fmt"
	"time"
)

// RecordKind identifies the payload type of an OutputRecord.
type RecordKind string

// Record kinds following the {entity} naming convention.
const (
	KindHandshakeRecord     RecordKind = "handshake"
	KindModuleRecord        RecordKind = "module"
	KindLibraryRecord       RecordKind = "library"
	KindSymbolRecord        RecordKind = "symbol"
	KindSpanStartRecord     RecordKind = "span_start"
	KindSpanStartDataRecord RecordKind = "span_start_data"
	KindSpanEndRecord       RecordKind = "span_end"
	KindCountersRecord      RecordKind = "counters"
	KindSpanRecord          RecordKind = "span" // correlated start/end pair
	KindClosedRecord        RecordKind = "closed"
	KindErrorRecord         RecordKind = "error"
)

// Labels represents key-value metadata attached by the pipeline.
type Labels map[string]string

// Label keys.
const (
	LabelRemote    = "remote"
	LabelErrorKind = "error.kind"
	LabelSymbol    = "symbol.name" // resolved label name when the catalog covers label_id
)

// OutputRecord is the final output sent to reporters.
type OutputRecord struct {
	// Envelope
	SessionID string
	Remote    string
	Sequence  uint64    // Per-session record counter, starts at 1
	Timestamp time.Time // Wall clock derived from the handshake anchor; receive time otherwise

	Labels Labels

	// Typed payload. The concrete type is determined by Kind and reporters type-switch on it
	Kind    RecordKind
	Payload any
}

// KindForEvent maps a decoded event to its record kind.
func KindForEvent(ev Event) RecordKind {
	switch ev.Tag() {
	case TagSpanStart:
		return KindSpanStartRecord
	case TagSpanEnd:
		return KindSpanEndRecord
	case TagCountersUpdate:
		return KindCountersRecord
	case TagSpanStartAdditionalData:
		return KindSpanStartDataRecord
	default:
		return KindErrorRecord
	}
}

// EventTime returns the tick time carried by an event.
func EventTime(ev Event) uint64 {
	switch e := ev.(type) {
	case SpanStart:
		return e.Time
	case SpanEnd:
		return e.Time
	case CountersUpdate:
		return e.Time
	case SpanStartAdditionalData:
		return e.Time
	default:
		return 0
	}
}

// SpanRecord is the payload of a KindSpanRecord.
type SpanRecord struct {
	CompletedSpan
	Duration time.Duration // Ticks converted with the session clock
}

// ErrorRecord is the payload of a KindErrorRecord.
type ErrorRecord struct {
	Kind    ErrorKind
	Message string
	Offset  int64
}

// ClosedRecord is the payload of a KindClosedRecord.
type ClosedRecord struct {
	Events       uint64
	OpenSpans    int            // Spans still open when the producer disconnected
	OpenByThread map[uint64]int // OpenSpans per thread, nil when none
}

// Document flattens the record into a map suitable for JSON or CBOR encoding.
func (r *OutputRecord) Document() map[string]any {
	doc := map[string]any{
		"session_id": r.SessionID,
		"remote":     r.Remote,
		"seq":        r.Sequence,
		"timestamp":  r.Timestamp.UnixNano(),
		"kind":       string(r.Kind),
	}
	if len(r.Labels) > 0 {
		doc["labels"] = map[string]string(r.Labels)
	}
	if data := PayloadFields(r.Payload); data != nil {
		doc["data"] = data
	}
	return doc
}

// PayloadFields returns the fields of a record payload keyed by their wire names.
// It returns nil for unknown payload types.
func PayloadFields(payload any) map[string]any {
	switch p := payload.(type) {
	case SessionHandshake:
		return map[string]any{
			"tsc_frequency":    p.TSCFrequency,
			"anchor":           p.Anchor().UTC().Format(time.RFC3339Nano),
			"anchor_timestamp": p.AnchorTimestamp,
		}
	case ModuleDescriptor:
		return map[string]any{
			"module_id": p.ModuleID,
			"version":   fmt.Sprintf("%d.%d", p.VersionMajor, p.VersionMinor),
			"name":      p.Name,
		}
	case LibraryDescriptor:
		return map[string]any{
			"library_id": p.LibraryID,
			"version":    p.Version,
			"name":       p.Name,
		}
	case SymbolDescriptor:
		return map[string]any{
			"name":       p.Name,
			"library_id": p.LibraryID,
			"module_id":  p.ModuleID,
		}
	case SpanStart:
		return map[string]any{
			"thread_id": p.ThreadID,
			"time":      p.Time,
			"label_id":  p.LabelID,
		}
	case SpanStartAdditionalData:
		return map[string]any{
			"thread_id":  p.ThreadID,
			"time":       p.Time,
			"label_id":   p.LabelID,
			"extra_len":  len(p.ExtraData),
			"extra_data": p.ExtraData,
		}
	case SpanEnd:
		return map[string]any{
			"thread_id": p.ThreadID,
			"time":      p.Time,
		}
	case CountersUpdate:
		return map[string]any{
			"thread_id":             p.ThreadID,
			"dropped_packets_delta": p.DroppedPacketsDelta,
			"last_time":             p.LastTime,
			"time":                  p.Time,
		}
	case SpanRecord:
		m := map[string]any{
			"thread_id":   p.ThreadID,
			"label_id":    p.LabelID,
			"start":       p.Start,
			"end":         p.End,
			"ticks":       p.Ticks(),
			"duration_ns": p.Duration.Nanoseconds(),
		}
		if p.ExtraData != nil {
			m["extra_data"] = p.ExtraData
		}
		return m
	case ErrorRecord:
		return map[string]any{
			"kind":    p.Kind.String(),
			"message": p.Message,
			"offset":  p.Offset,
		}
	case ClosedRecord:
		m := map[string]any{
			"events":     p.Events,
			"open_spans": p.OpenSpans,
		}
		if len(p.OpenByThread) > 0 {
			m["open_by_thread"] = p.OpenByThread
		}
		return m
	default:
		return nil
	}
}
