package decoder

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"firestige.xyz/otrace/internal/core"
)

const readBufferSize = 64 << 10

type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// FrameReader performs exact-length reads over a byte stream.
//
// Every read either fills its buffer completely or fails. End of stream before the
// buffer is full yields a *core.DecodeError of KindClosed; its cause is
// io.ErrUnexpectedEOF when some bytes of the frame had already arrived.
// Any other transport failure yields KindIO.
type FrameReader struct {
	r       *bufio.Reader
	dl      deadliner
	order   binary.ByteOrder
	limits  Limits
	timeout time.Duration
	offset  atomic.Int64
	scratch [8]byte
}

// NewFrameReader wraps src. If src implements SetReadDeadline and opts.ReadTimeout is
// set, a deadline is armed before each frame read.
func NewFrameReader(src io.Reader, opts Options) *FrameReader {
	opts = opts.withDefaults()
	fr := &FrameReader{
		r:       bufio.NewReaderSize(src, readBufferSize),
		order:   opts.ByteOrder,
		limits:  opts.Limits,
		timeout: opts.ReadTimeout,
	}
	if d, ok := src.(deadliner); ok && opts.ReadTimeout > 0 {
		fr.dl = d
	}
	return fr
}

// Offset returns the number of bytes consumed so far. Safe for concurrent use.
func (f *FrameReader) Offset() int64 {
	return f.offset.Load()
}

// ByteOrder returns the byte order used for integer fields.
func (f *FrameReader) ByteOrder() binary.ByteOrder {
	return f.order
}

// Fill reads exactly len(buf) bytes.
func (f *FrameReader) Fill(buf []byte) error {
	start := f.offset.Load()
	if f.dl != nil {
		if err := f.dl.SetReadDeadline(time.Now().Add(f.timeout)); err != nil {
			return &core.DecodeError{Kind: core.KindIO, Offset: start, Err: err}
		}
	}

	got := 0
	for got < len(buf) {
		n, err := f.r.Read(buf[got:])
		got += n
		f.offset.Add(int64(n))
		if got == len(buf) {
			return nil
		}
		switch {
		case err == nil && n > 0:
			continue
		case err == nil, errors.Is(err, io.EOF), errors.Is(err, io.ErrNoProgress):
			var cause error
			if got > 0 {
				cause = io.ErrUnexpectedEOF
			}
			return &core.DecodeError{Kind: core.KindClosed, Offset: start, Err: cause}
		default:
			return &core.DecodeError{Kind: core.KindIO, Offset: start, Err: err}
		}
	}
	return nil
}

// ReadExact reads exactly n bytes into a new slice.
func (f *FrameReader) ReadExact(n int) ([]byte, error) {
	buf := make([]byte, n)
	if err := f.Fill(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// U8 reads one byte.
func (f *FrameReader) U8() (uint8, error) {
	if err := f.Fill(f.scratch[:1]); err != nil {
		return 0, err
	}
	return f.scratch[0], nil
}

// U16 reads a 16-bit unsigned integer.
func (f *FrameReader) U16() (uint16, error) {
	if err := f.Fill(f.scratch[:2]); err != nil {
		return 0, err
	}
	return f.order.Uint16(f.scratch[:2]), nil
}

// U32 reads a 32-bit unsigned integer.
func (f *FrameReader) U32() (uint32, error) {
	if err := f.Fill(f.scratch[:4]); err != nil {
		return 0, err
	}
	return f.order.Uint32(f.scratch[:4]), nil
}

// U64 reads a 64-bit unsigned integer.
func (f *FrameReader) U64() (uint64, error) {
	if err := f.Fill(f.scratch[:8]); err != nil {
		return 0, err
	}
	return f.order.Uint64(f.scratch[:8]), nil
}

// String reads a u32 length followed by that many UTF-8 bytes.
func (f *FrameReader) String() (string, error) {
	start := f.offset.Load()
	n, err := f.U32()
	if err != nil {
		return "", err
	}
	if n > f.limits.MaxStringBytes {
		return "", &core.DecodeError{
			Kind:   core.KindProtocolViolation,
			Offset: start,
			Err:    fmt.Errorf("string length %d exceeds limit %d", n, f.limits.MaxStringBytes),
		}
	}
	buf, err := f.ReadExact(int(n))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(buf) {
		return "", &core.DecodeError{Kind: core.KindProtocolViolation, Offset: start, Err: errInvalidUTF8}
	}
	return string(buf), nil
}

var errInvalidUTF8 = errors.New("string is not valid UTF-8")

// promote turns a KindClosed error raised inside a structure into the given kind.
// Other errors are returned unchanged.
func promote(err error, kind core.ErrorKind) error {
	var de *core.DecodeError
	if !errors.As(err, &de) || de.Kind != core.KindClosed {
		return err
	}
	return &core.DecodeError{Kind: kind, Tag: de.Tag, HasTag: de.HasTag, Offset: de.Offset, Err: io.ErrUnexpectedEOF}
}

// isClosed reports whether err is a clean end of stream with no partial frame.
func isClosed(err error) bool {
	var de *core.DecodeError
	return errors.As(err, &de) && de.Kind == core.KindClosed && de.Err == nil
}
