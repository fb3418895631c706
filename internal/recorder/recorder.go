package recorder

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"firestige.xyz/otrace/internal/metrics"
)

// Recorder creates one recording file per session in a directory.
type Recorder struct {
	dir         string
	compression Compression
}

// New creates the directory if needed and returns a Recorder.
func New(dir string, compression Compression) (*Recorder, error) {
	if dir == "" {
		return nil, fmt.Errorf("recorder: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("recorder: create %s: %w", dir, err)
	}
	return &Recorder{dir: dir, compression: compression}, nil
}

// Dir returns the recording directory.
func (r *Recorder) Dir() string { return r.dir }

// Compression returns the compression applied to new recordings.
func (r *Recorder) Compression() Compression { return r.compression }

// Create opens a new recording named after the session.
func (r *Recorder) Create(sessionID string) (*Recording, error) {
	path := filepath.Join(r.dir, sessionID+r.compression.Ext())
	return Create(path, r.compression)
}

// Recording is a write-only recording file. Safe for use by one writer at a time.
type Recording struct {
	path       string
	file       *os.File
	w          io.Writer      // compressor or file
	compressor io.WriteCloser // nil when uncompressed

	mu      sync.Mutex
	written int64
	closed  bool
}

// Create opens a recording at path with the given compression.
func Create(path string, compression Compression) (*Recording, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("recorder: %w", err)
	}

	rec := &Recording{path: path, file: f, w: f}
	switch compression {
	case CompressionZstd:
		zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			f.Close()
			os.Remove(path)
			return nil, fmt.Errorf("recorder: zstd writer: %w", err)
		}
		rec.w, rec.compressor = zw, zw
	case CompressionLZ4:
		lw := lz4.NewWriter(f)
		rec.w, rec.compressor = lw, lw
	case CompressionNone, "":
	default:
		f.Close()
		os.Remove(path)
		_, err := ParseCompression(string(compression))
		return nil, fmt.Errorf("recorder: %w", err)
	}
	return rec, nil
}

// Path returns the recording's file path.
func (r *Recording) Path() string { return r.path }

// Written returns the number of raw stream bytes recorded.
func (r *Recording) Written() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written
}

// Write appends raw stream bytes.
func (r *Recording) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, os.ErrClosed
	}
	n, err := r.w.Write(p)
	r.written += int64(n)
	metrics.RecordedBytesTotal.Add(float64(n))
	return n, err
}

// Close flushes the compressor and closes the file.
func (r *Recording) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	var err error
	if r.compressor != nil {
		err = r.compressor.Close()
	}
	if cerr := r.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// Open opens a recording for replay, decompressing by file extension.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("recorder: %w", err)
	}

	switch CompressionFromPath(path) {
	case CompressionZstd:
		zr, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("recorder: zstd reader: %w", err)
		}
		return &readCloser{Reader: zr, close: func() error { zr.Close(); return f.Close() }}, nil
	case CompressionLZ4:
		return &readCloser{Reader: lz4.NewReader(f), close: f.Close}, nil
	default:
		return f, nil
	}
}

type readCloser struct {
	io.Reader
	close func() error
}

func (r *readCloser) Close() error { return r.close() }
