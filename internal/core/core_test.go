package core

import (
	"errors"
	"fmt"
	"io"
	"math"
	"testing"
	"time"
)

// Test zero values of core structs
func TestStructZeroValues(t *testing.T) {
	t.Run("SessionHandshake", func(t *testing.T) {
		var h SessionHandshake
		if h.TSCFrequency != 0 || h.AnchorTimestamp != 0 {
			t.Errorf("expected zero handshake, got %+v", h)
		}
		if !h.Anchor().Equal(time.Unix(0, 0)) {
			t.Errorf("expected Unix epoch anchor, got %v", h.Anchor())
		}
	})

	t.Run("Catalog", func(t *testing.T) {
		var c Catalog
		if c.Len() != 0 {
			t.Errorf("expected empty catalog, got %d", c.Len())
		}
	})

	t.Run("SpanStartAdditionalData", func(t *testing.T) {
		var ev SpanStartAdditionalData
		if ev.ExtraData != nil {
			t.Errorf("expected ExtraData=nil, got %v", ev.ExtraData)
		}
	})
}

func TestCatalogLen(t *testing.T) {
	c := Catalog{
		Modules:   []ModuleDescriptor{{ModuleID: 1, Name: "libkernel"}},
		Libraries: []LibraryDescriptor{{LibraryID: 1, Name: "libc"}, {LibraryID: 2, Name: "libgnm"}},
		Symbols:   []SymbolDescriptor{{Name: "sceGnmSubmit"}},
	}
	if got := c.Len(); got != 4 {
		t.Errorf("Len() = %d, want 4", got)
	}
}

func TestTagString(t *testing.T) {
	tests := []struct {
		tag  Tag
		want string
	}{
		{TagSpanStart, "span_start"},
		{TagSpanEnd, "span_end"},
		{TagCountersUpdate, "counters_update"},
		{TagSpanStartAdditionalData, "span_start_data"},
		{Tag(99), "unknown(99)"},
	}
	for _, tt := range tests {
		if got := tt.tag.String(); got != tt.want {
			t.Errorf("Tag(%d).String() = %q, want %q", uint64(tt.tag), got, tt.want)
		}
	}
}

func TestEventTags(t *testing.T) {
	tests := []struct {
		ev     Event
		tag    Tag
		thread uint64
		kind   RecordKind
		time   uint64
	}{
		{SpanStart{ThreadID: 7, Time: 100, LabelID: 3}, TagSpanStart, 7, KindSpanStartRecord, 100},
		{SpanEnd{ThreadID: 8, Time: 150}, TagSpanEnd, 8, KindSpanEndRecord, 150},
		{CountersUpdate{ThreadID: 9, Time: 200, LastTime: 190}, TagCountersUpdate, 9, KindCountersRecord, 200},
		{SpanStartAdditionalData{ThreadID: 10, Time: 250}, TagSpanStartAdditionalData, 10, KindSpanStartDataRecord, 250},
	}
	for _, tt := range tests {
		t.Run(tt.tag.String(), func(t *testing.T) {
			if tt.ev.Tag() != tt.tag {
				t.Errorf("Tag() = %v, want %v", tt.ev.Tag(), tt.tag)
			}
			if tt.ev.Thread() != tt.thread {
				t.Errorf("Thread() = %d, want %d", tt.ev.Thread(), tt.thread)
			}
			if got := KindForEvent(tt.ev); got != tt.kind {
				t.Errorf("KindForEvent() = %q, want %q", got, tt.kind)
			}
			if got := EventTime(tt.ev); got != tt.time {
				t.Errorf("EventTime() = %d, want %d", got, tt.time)
			}
		})
	}
}

func TestCompletedSpanTicks(t *testing.T) {
	s := CompletedSpan{ThreadID: 7, LabelID: 3, Start: 100, End: 150}
	if s.Ticks() != 50 {
		t.Errorf("Ticks() = %d, want 50", s.Ticks())
	}

	backwards := CompletedSpan{Start: 150, End: 100}
	if backwards.Ticks() != 0 {
		t.Errorf("Ticks() for reversed span = %d, want 0", backwards.Ticks())
	}
}

func TestClock(t *testing.T) {
	h := SessionHandshake{
		TSCFrequency:      1_000_000_000,
		AnchorSeconds:     1_700_000_000,
		AnchorNanoseconds: 500,
		AnchorTimestamp:   1_000,
	}
	c := NewClock(h)
	anchor := time.Unix(1_700_000_000, 500)

	t.Run("Duration", func(t *testing.T) {
		if got := c.Duration(50); got != 50*time.Nanosecond {
			t.Errorf("Duration(50) = %v, want 50ns", got)
		}
		if got := c.Duration(2_500_000_000); got != 2500*time.Millisecond {
			t.Errorf("Duration(2.5e9) = %v, want 2.5s", got)
		}
	})

	t.Run("WallTime after anchor", func(t *testing.T) {
		if got := c.WallTime(1_000 + 1_000_000); !got.Equal(anchor.Add(time.Millisecond)) {
			t.Errorf("WallTime = %v, want %v", got, anchor.Add(time.Millisecond))
		}
	})

	t.Run("WallTime before anchor", func(t *testing.T) {
		if got := c.WallTime(0); !got.Equal(anchor.Add(-1000 * time.Nanosecond)) {
			t.Errorf("WallTime = %v, want %v", got, anchor.Add(-1000*time.Nanosecond))
		}
	})

	t.Run("zero frequency", func(t *testing.T) {
		z := NewClock(SessionHandshake{AnchorSeconds: 10})
		if got := z.WallTime(12345); !got.Equal(time.Unix(10, 0)) {
			t.Errorf("WallTime = %v, want anchor", got)
		}
	})

	t.Run("overflow saturates", func(t *testing.T) {
		slow := NewClock(SessionHandshake{TSCFrequency: 1})
		if got := slow.Duration(math.MaxUint64); got != time.Duration(math.MaxInt64) {
			t.Errorf("Duration(max) = %v, want saturation", got)
		}
	})
}

func TestErrorKindString(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want string
	}{
		{KindClosed, "closed"},
		{KindHandshakeIncomplete, "handshake_incomplete"},
		{KindCatalogIncomplete, "catalog_incomplete"},
		{KindTruncatedEvent, "truncated_event"},
		{KindProtocolViolation, "protocol_violation"},
		{KindIO, "io_error"},
		{ErrorKind(42), "kind(42)"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("ErrorKind(%d).String() = %q, want %q", int(tt.kind), got, tt.want)
		}
	}
}

func TestSentinelErrors(t *testing.T) {
	sentinels := []error{
		ErrClosed, ErrHandshakeIncomplete, ErrCatalogIncomplete, ErrTruncatedEvent,
		ErrProtocolViolation, ErrIO, ErrSessionNotFound, ErrServerStopped,
		ErrReporterNotFound, ErrConfigInvalid, ErrDaemonNotRunning,
		ErrUnmatchedSpanEnd, ErrSpanDepthExceeded, ErrUnknownCompressor,
	}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i != j && errors.Is(a, b) {
				t.Errorf("sentinel %q should not match %q", a, b)
			}
		}
	}
}

func TestDecodeError(t *testing.T) {
	t.Run("message with tag", func(t *testing.T) {
		err := &DecodeError{Kind: KindProtocolViolation, Tag: 99, HasTag: true, Offset: 120}
		want := "otrace: protocol violation (tag unknown(99)) at offset 120"
		if err.Error() != want {
			t.Errorf("Error() = %q, want %q", err.Error(), want)
		}
	})

	t.Run("message with cause", func(t *testing.T) {
		err := &DecodeError{Kind: KindHandshakeIncomplete, Offset: 16, Err: io.ErrUnexpectedEOF}
		want := "otrace: handshake incomplete at offset 16: unexpected EOF"
		if err.Error() != want {
			t.Errorf("Error() = %q, want %q", err.Error(), want)
		}
	})

	t.Run("errors.Is matches kind sentinel", func(t *testing.T) {
		err := fmt.Errorf("session: %w", &DecodeError{Kind: KindTruncatedEvent, Err: io.ErrUnexpectedEOF})
		if !errors.Is(err, ErrTruncatedEvent) {
			t.Error("expected errors.Is(err, ErrTruncatedEvent)")
		}
		if errors.Is(err, ErrProtocolViolation) {
			t.Error("unexpected match with ErrProtocolViolation")
		}
		if !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Error("expected cause to be reachable through Unwrap")
		}
	})
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"decode error", &DecodeError{Kind: KindCatalogIncomplete}, KindCatalogIncomplete},
		{"wrapped decode error", fmt.Errorf("x: %w", &DecodeError{Kind: KindProtocolViolation}), KindProtocolViolation},
		{"bare sentinel", ErrClosed, KindClosed},
		{"wrapped sentinel", fmt.Errorf("x: %w", ErrTruncatedEvent), KindTruncatedEvent},
		{"foreign error", errors.New("boom"), KindIO},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOutputRecordDocument(t *testing.T) {
	ts := time.Unix(1_700_000_000, 0)
	rec := &OutputRecord{
		SessionID: "s-1",
		Remote:    "10.0.0.2:5000",
		Sequence:  3,
		Timestamp: ts,
		Labels:    Labels{LabelSymbol: "sceGnmSubmitDone"},
		Kind:      KindSpanRecord,
		Payload: SpanRecord{
			CompletedSpan: CompletedSpan{ThreadID: 7, LabelID: 3, Start: 100, End: 150},
			Duration:      50 * time.Nanosecond,
		},
	}

	doc := rec.Document()
	if doc["kind"] != "span" || doc["seq"] != uint64(3) || doc["timestamp"] != ts.UnixNano() {
		t.Fatalf("unexpected envelope: %v", doc)
	}
	data, ok := doc["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected data map, got %T", doc["data"])
	}
	if data["ticks"] != uint64(50) || data["duration_ns"] != int64(50) {
		t.Errorf("unexpected span fields: %v", data)
	}
	if _, has := data["extra_data"]; has {
		t.Error("extra_data must be omitted for plain spans")
	}
	labels, ok := doc["labels"].(map[string]string)
	if !ok || labels[LabelSymbol] != "sceGnmSubmitDone" {
		t.Errorf("unexpected labels: %v", doc["labels"])
	}
}

func TestPayloadFields(t *testing.T) {
	tests := []struct {
		name    string
		payload any
		key     string
		want    any
	}{
		{"handshake", SessionHandshake{TSCFrequency: 10}, "tsc_frequency", uint64(10)},
		{"module", ModuleDescriptor{VersionMajor: 1, VersionMinor: 2}, "version", "1.2"},
		{"library", LibraryDescriptor{Name: "libc"}, "name", "libc"},
		{"symbol", SymbolDescriptor{ModuleID: 4}, "module_id", uint8(4)},
		{"span start data", SpanStartAdditionalData{ExtraData: []byte{1, 2}}, "extra_len", 2},
		{"counters", CountersUpdate{DroppedPacketsDelta: 9}, "dropped_packets_delta", uint64(9)},
		{"error", ErrorRecord{Kind: KindTruncatedEvent}, "kind", "truncated_event"},
		{"closed", ClosedRecord{OpenSpans: 2}, "open_spans", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := PayloadFields(tt.payload)
			if fields[tt.key] != tt.want {
				t.Errorf("fields[%q] = %v (%T), want %v (%T)", tt.key, fields[tt.key], fields[tt.key], tt.want, tt.want)
			}
		})
	}

	closed := PayloadFields(ClosedRecord{OpenSpans: 3, OpenByThread: map[uint64]int{1: 2, 4: 1}})
	if got, ok := closed["open_by_thread"].(map[uint64]int); !ok || got[1] != 2 || got[4] != 1 {
		t.Errorf("open_by_thread = %v, want map[1:2 4:1]", closed["open_by_thread"])
	}
	if _, ok := PayloadFields(ClosedRecord{})["open_by_thread"]; ok {
		t.Error("open_by_thread should be omitted when no span is open")
	}

	if PayloadFields(struct{}{}) != nil {
		t.Error("unknown payload should yield nil")
	}
}
