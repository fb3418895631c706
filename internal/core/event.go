// Package core defines trace events.
package core

import "fmt"

// Tag is the leading u64 discriminator of every event record.
type Tag uint64

// Known event tags. Adding a tag requires a new case in the decoder's dispatch switch.
const (
	TagSpanStart               Tag = 0
	TagSpanEnd                 Tag = 1
	TagCountersUpdate          Tag = 2
	TagSpanStartAdditionalData Tag = 3
)

// Fixed payload sizes following the tag.
const (
	TagLen                        = 8
	SpanStartLen                  = 24
	SpanEndLen                    = 16
	CountersUpdateLen             = 32
	SpanStartAdditionalDataHdrLen = 32 // extra_len is the last field; extra bytes follow
)

// String returns the tag name.
func (t Tag) String() string {
	switch t {
	case TagSpanStart:
		return "span_start"
	case TagSpanEnd:
		return "span_end"
	case TagCountersUpdate:
		return "counters_update"
	case TagSpanStartAdditionalData:
		return "span_start_data"
	default:
		return fmt.Sprintf("unknown(%d)", uint64(t))
	}
}

// Event is one decoded event record.
type Event interface {
	Tag() Tag
	Thread() uint64
}

// SpanStart opens a span on a thread.
type SpanStart struct {
	ThreadID uint64
	Time     uint64
	LabelID  uint64
}

// SpanStartAdditionalData opens a span and carries an opaque payload.
type SpanStartAdditionalData struct {
	ThreadID  uint64
	Time      uint64
	LabelID   uint64
	ExtraData []byte
}

// SpanEnd closes the most recently opened span on a thread.
type SpanEnd struct {
	ThreadID uint64
	Time     uint64
}

// CountersUpdate is an out-of-band counter snapshot from the producer.
type CountersUpdate struct {
	ThreadID            uint64
	DroppedPacketsDelta uint64
	LastTime            uint64
	Time                uint64
}

func (SpanStart) Tag() Tag               { return TagSpanStart }
func (SpanEnd) Tag() Tag                 { return TagSpanEnd }
func (CountersUpdate) Tag() Tag          { return TagCountersUpdate }
func (SpanStartAdditionalData) Tag() Tag { return TagSpanStartAdditionalData }

func (e SpanStart) Thread() uint64               { return e.ThreadID }
func (e SpanEnd) Thread() uint64                 { return e.ThreadID }
func (e CountersUpdate) Thread() uint64          { return e.ThreadID }
func (e SpanStartAdditionalData) Thread() uint64 { return e.ThreadID }

// CompletedSpan is a SpanStart matched with its SpanEnd.
type CompletedSpan struct {
	ThreadID  uint64
	LabelID   uint64
	Start     uint64
	End       uint64
	ExtraData []byte // nil unless opened by SpanStartAdditionalData
}

// Ticks returns the span length in tick counter units.
// A span whose end precedes its start yields 0.
func (s CompletedSpan) Ticks() uint64 {
	if s.End < s.Start {
		return 0
	}
	return s.End - s.Start
}
