// Package recorder tees the raw byte stream of a connection into a recording file
// and opens recordings for replay.
package recorder

import (
	"fmt"
	"strings"

	"firestige.xyz/otrace/internal/core"
)

// Compression identifies how a recording file is compressed.
// The file extension carries it, so replay needs no side channel.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
	CompressionLZ4  Compression = "lz4"
)

// File extensions per compression.
const (
	ExtNone = ".otr"
	ExtZstd = ".otr.zst"
	ExtLZ4  = ".otr.lz4"
)

// String returns the compression name.
func (c Compression) String() string { return string(c) }

// Ext returns the file extension for recordings with this compression.
func (c Compression) Ext() string {
	switch c {
	case CompressionZstd:
		return ExtZstd
	case CompressionLZ4:
		return ExtLZ4
	default:
		return ExtNone
	}
}

// ParseCompression parses a compression name. The empty string means none.
func ParseCompression(name string) (Compression, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	default:
		return "", fmt.Errorf("%w: %q", core.ErrUnknownCompressor, name)
	}
}

// CompressionFromPath derives the compression from a recording's file name.
// Unknown extensions are treated as uncompressed.
func CompressionFromPath(path string) Compression {
	switch {
	case strings.HasSuffix(path, ExtZstd), strings.HasSuffix(path, ".zst"):
		return CompressionZstd
	case strings.HasSuffix(path, ExtLZ4), strings.HasSuffix(path, ".lz4"):
		return CompressionLZ4
	default:
		return CompressionNone
	}
}
