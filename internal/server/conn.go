package server

import (
	"log/slog"
	"net"

	"firestige.xyz/otrace/internal/recorder"
)

// recordingConn copies every byte read from the connection into a recording.
// Deadlines and Close pass through to the embedded connection, so the decoder's
// read timeout and cancellation keep working.
type recordingConn struct {
	net.Conn
	rec    *recorder.Recording
	failed bool
}

func (c *recordingConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if n > 0 && !c.failed {
		if _, werr := c.rec.Write(p[:n]); werr != nil {
			// A broken recording never interrupts decoding.
			c.failed = true
			slog.Warn("recording disabled after write failure", "path", c.rec.Path(), "error", werr)
		}
	}
	return n, err
}
