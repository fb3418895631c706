package recorder

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/otrace/internal/core"
)

func TestParseCompression(t *testing.T) {
	tests := []struct {
		in      string
		want    Compression
		wantErr bool
	}{
		{"", CompressionNone, false},
		{"none", CompressionNone, false},
		{"zstd", CompressionZstd, false},
		{"LZ4", CompressionLZ4, false},
		{"gzip", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCompression(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, core.ErrUnknownCompressor)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompressionFromPath(t *testing.T) {
	assert.Equal(t, CompressionNone, CompressionFromPath("a.otr"))
	assert.Equal(t, CompressionZstd, CompressionFromPath("dir/a.otr.zst"))
	assert.Equal(t, CompressionLZ4, CompressionFromPath("a.otr.lz4"))
	assert.Equal(t, CompressionNone, CompressionFromPath("capture.bin"))

	for _, c := range []Compression{CompressionNone, CompressionZstd, CompressionLZ4} {
		assert.Equal(t, c, CompressionFromPath("x"+c.Ext()))
	}
}

func TestRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("otrace-stream-"), 4096)

	for _, c := range []Compression{CompressionNone, CompressionZstd, CompressionLZ4} {
		t.Run(c.String(), func(t *testing.T) {
			r, err := New(filepath.Join(t.TempDir(), "rec"), c)
			require.NoError(t, err)

			rec, err := r.Create("session-1")
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(r.Dir(), "session-1"+c.Ext()), rec.Path())

			// Write in uneven chunks the way a socket delivers data
			for off := 0; off < len(payload); off += 1000 {
				end := min(off+1000, len(payload))
				n, err := rec.Write(payload[off:end])
				require.NoError(t, err)
				require.Equal(t, end-off, n)
			}
			require.NoError(t, rec.Close())
			require.NoError(t, rec.Close(), "close is idempotent")
			assert.Equal(t, int64(len(payload)), rec.Written())

			rc, err := Open(rec.Path())
			require.NoError(t, err)
			defer rc.Close()
			got, err := io.ReadAll(rc)
			require.NoError(t, err)
			assert.Equal(t, payload, got)

			if c != CompressionNone {
				info, err := os.Stat(rec.Path())
				require.NoError(t, err)
				assert.Less(t, info.Size(), int64(len(payload)), "repetitive stream compresses")
			}
		})
	}
}

func TestWriteAfterClose(t *testing.T) {
	rec, err := Create(filepath.Join(t.TempDir(), "x.otr"), CompressionNone)
	require.NoError(t, err)
	require.NoError(t, rec.Close())

	_, err = rec.Write([]byte{1})
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestCreateExistingFails(t *testing.T) {
	dir := t.TempDir()
	r, err := New(dir, CompressionNone)
	require.NoError(t, err)

	rec, err := r.Create("dup")
	require.NoError(t, err)
	require.NoError(t, rec.Close())

	_, err = r.Create("dup")
	assert.Error(t, err, "recordings are never overwritten")
}

func TestCreateUnknownCompression(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.otr")
	_, err := Create(path, Compression("brotli"))
	assert.ErrorIs(t, err, core.ErrUnknownCompressor)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestNewRequiresDir(t *testing.T) {
	_, err := New("", CompressionNone)
	assert.Error(t, err)
}

func TestOpenMissing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.otr"))
	assert.Error(t, err)
}
