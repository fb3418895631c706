package decoder

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"firestige.xyz/otrace/internal/core"
)

// chunkReader returns at most one byte per Read to exercise short reads.
type chunkReader struct{ data []byte }

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	p[0] = r.data[0]
	r.data = r.data[1:]
	return 1, nil
}

func TestFrameReaderShortReads(t *testing.T) {
	data := []byte{
		0x34, 0x12, // u16
		0x78, 0x56, 0x34, 0x12, // u32
		1, 2, 3, 4, 5, 6, 7, 8, // u64
		3, 0, 0, 0, 'a', 'b', 'c', // string
	}
	f := NewFrameReader(&chunkReader{data: data}, Options{})

	if v, err := f.U16(); err != nil || v != 0x1234 {
		t.Fatalf("U16() = %#x, %v", v, err)
	}
	if v, err := f.U32(); err != nil || v != 0x12345678 {
		t.Fatalf("U32() = %#x, %v", v, err)
	}
	if v, err := f.U64(); err != nil || v != 0x0807060504030201 {
		t.Fatalf("U64() = %#x, %v", v, err)
	}
	if s, err := f.String(); err != nil || s != "abc" {
		t.Fatalf("String() = %q, %v", s, err)
	}
	if f.Offset() != int64(len(data)) {
		t.Errorf("Offset() = %d, want %d", f.Offset(), len(data))
	}

	_, err := f.U8()
	if !isClosed(err) {
		t.Errorf("expected clean close at end of stream, got %v", err)
	}
}

func TestFrameReaderBigEndian(t *testing.T) {
	f := NewFrameReader(bytes.NewReader([]byte{0x12, 0x34}), Options{ByteOrder: binary.BigEndian})
	v, err := f.U16()
	if err != nil || v != 0x1234 {
		t.Fatalf("U16() = %#x, %v", v, err)
	}
}

func TestFrameReaderPartialFrame(t *testing.T) {
	f := NewFrameReader(bytes.NewReader([]byte{1, 2, 3}), Options{})
	buf, err := f.ReadExact(4)
	if buf != nil {
		t.Errorf("expected no partial result, got %v", buf)
	}
	var de *core.DecodeError
	if !errors.As(err, &de) || de.Kind != core.KindClosed {
		t.Fatalf("expected KindClosed, got %v", err)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("expected ErrUnexpectedEOF cause, got %v", de.Err)
	}
	if isClosed(err) {
		t.Error("partial frame must not count as a clean close")
	}
}

func TestPromote(t *testing.T) {
	closed := &core.DecodeError{Kind: core.KindClosed, Offset: 12}
	err := promote(closed, core.KindCatalogIncomplete)
	if core.KindOf(err) != core.KindCatalogIncomplete {
		t.Errorf("promote() kind = %v", core.KindOf(err))
	}

	ioErr := &core.DecodeError{Kind: core.KindIO}
	if promote(ioErr, core.KindCatalogIncomplete) != error(ioErr) {
		t.Error("promote() must leave transport errors unchanged")
	}
}
