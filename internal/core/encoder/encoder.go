// Package encoder writes the trace wire format. It backs the producer simulator and
// decoder round-trip tests.
package encoder

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"firestige.xyz/otrace/internal/core"
)

// Writer encodes session records onto an io.Writer. Each Write call issues one
// write of one complete record. Writer is not safe for concurrent use.
type Writer struct {
	w     io.Writer
	order binary.ByteOrder
	buf   []byte
}

// NewWriter creates a Writer. A nil order selects little-endian.
func NewWriter(w io.Writer, order binary.ByteOrder) *Writer {
	if order == nil {
		order = binary.LittleEndian
	}
	return &Writer{w: w, order: order, buf: make([]byte, 0, 256)}
}

// WriteHandshake writes the 32-byte session header.
func (w *Writer) WriteHandshake(h core.SessionHandshake) error {
	b := w.buf[:0]
	b = w.u64(b, h.TSCFrequency)
	b = w.u64(b, uint64(h.AnchorSeconds))
	b = w.u64(b, uint64(h.AnchorNanoseconds))
	b = w.u64(b, h.AnchorTimestamp)
	return w.flush(b)
}

// WriteCatalog writes the three descriptor tables.
func (w *Writer) WriteCatalog(c core.Catalog) error {
	b := w.buf[:0]
	var err error

	b = w.u32(b, uint32(len(c.Modules)))
	for _, m := range c.Modules {
		b = w.u16(b, m.ModuleID)
		b = append(b, m.VersionMajor, m.VersionMinor)
		if b, err = w.str(b, m.Name); err != nil {
			return err
		}
	}

	b = w.u32(b, uint32(len(c.Libraries)))
	for _, l := range c.Libraries {
		b = w.u16(b, l.LibraryID)
		b = w.u16(b, l.Version)
		if b, err = w.str(b, l.Name); err != nil {
			return err
		}
	}

	b = w.u32(b, uint32(len(c.Symbols)))
	for _, s := range c.Symbols {
		if b, err = w.str(b, s.Name); err != nil {
			return err
		}
		b = append(b, s.LibraryID, s.ModuleID)
	}
	return w.flush(b)
}

// WriteEvent writes one tagged event record.
func (w *Writer) WriteEvent(ev core.Event) error {
	b := w.u64(w.buf[:0], uint64(ev.Tag()))
	switch e := ev.(type) {
	case core.SpanStart:
		b = w.u64(b, e.ThreadID)
		b = w.u64(b, e.Time)
		b = w.u64(b, e.LabelID)
	case core.SpanEnd:
		b = w.u64(b, e.ThreadID)
		b = w.u64(b, e.Time)
	case core.CountersUpdate:
		b = w.u64(b, e.ThreadID)
		b = w.u64(b, e.DroppedPacketsDelta)
		b = w.u64(b, e.LastTime)
		b = w.u64(b, e.Time)
	case core.SpanStartAdditionalData:
		b = w.u64(b, e.ThreadID)
		b = w.u64(b, e.Time)
		b = w.u64(b, e.LabelID)
		b = w.u64(b, uint64(len(e.ExtraData)))
		b = append(b, e.ExtraData...)
	default:
		return fmt.Errorf("encode event: unsupported type %T", ev)
	}
	return w.flush(b)
}

// WriteRaw writes b unchanged. Used to produce malformed streams.
func (w *Writer) WriteRaw(b []byte) error {
	_, err := w.w.Write(b)
	return err
}

// WriteTag writes a bare tag value with no payload.
func (w *Writer) WriteTag(tag uint64) error {
	return w.flush(w.u64(w.buf[:0], tag))
}

func (w *Writer) flush(b []byte) error {
	w.buf = b[:0]
	_, err := w.w.Write(b)
	return err
}

func (w *Writer) u16(b []byte, v uint16) []byte {
	var tmp [2]byte
	w.order.PutUint16(tmp[:], v)
	return append(b, tmp[:]...)
}

func (w *Writer) u32(b []byte, v uint32) []byte {
	var tmp [4]byte
	w.order.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func (w *Writer) u64(b []byte, v uint64) []byte {
	var tmp [8]byte
	w.order.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}

func (w *Writer) str(b []byte, s string) ([]byte, error) {
	if uint64(len(s)) > math.MaxUint32 {
		return b, fmt.Errorf("encode string: length %d overflows u32", len(s))
	}
	b = w.u32(b, uint32(len(s)))
	return append(b, s...), nil
}
