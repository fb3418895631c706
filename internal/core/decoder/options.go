// Package decoder implements the trace stream decoder: frame reads, the session
// preamble and tagged event records.
package decoder

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

// Default size limits for variable-length fields.
const (
	DefaultMaxStringBytes = 64 << 10
	DefaultMaxExtraBytes  = 64 << 20
)

// Limits bounds the variable-length fields of the wire format.
// A length above its limit is a protocol violation and is rejected before allocation.
type Limits struct {
	MaxStringBytes uint32 // Catalog string length (0 = default)
	MaxExtraBytes  uint64 // SpanStartAdditionalData extra_len (0 = default)
}

// Options configures a decoding session.
type Options struct {
	ByteOrder   binary.ByteOrder // Producer byte order (nil = little-endian)
	Limits      Limits
	ReadTimeout time.Duration // Per frame read deadline on sources that support it (0 = none)
}

// DefaultOptions returns little-endian decoding with default limits and no timeout.
func DefaultOptions() Options {
	return Options{}.withDefaults()
}

func (o Options) withDefaults() Options {
	if o.ByteOrder == nil {
		o.ByteOrder = binary.LittleEndian
	}
	if o.Limits.MaxStringBytes == 0 {
		o.Limits.MaxStringBytes = DefaultMaxStringBytes
	}
	if o.Limits.MaxExtraBytes == 0 {
		o.Limits.MaxExtraBytes = DefaultMaxExtraBytes
	}
	return o
}

// ParseByteOrder maps "little"/"le" and "big"/"be" to a binary.ByteOrder.
// An empty string selects little-endian.
func ParseByteOrder(s string) (binary.ByteOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "little", "le", "little_endian":
		return binary.LittleEndian, nil
	case "big", "be", "big_endian":
		return binary.BigEndian, nil
	default:
		return nil, fmt.Errorf("unknown byte order %q (want little or big)", s)
	}
}
