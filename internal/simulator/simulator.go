// Package simulator is a synthetic trace producer. It speaks the producer side of the
// wire protocol so a daemon can be exercised without an instrumented process.
package simulator

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"firestige.xyz/otrace/internal/core"
	"firestige.xyz/otrace/internal/core/encoder"
	"firestige.xyz/otrace/internal/server"
)

// TickFrequency is the simulated tick counter rate. One tick is one nanosecond.
const TickFrequency = uint64(time.Second)

// anchorTicks is the counter value sampled with the handshake wall clock.
const anchorTicks = uint64(1) << 32

// Config controls the generated stream.
type Config struct {
	Threads    int              // Producer threads, each emitting its own span tree (default 2)
	Depth      int              // Span nesting depth per frame (default 3)
	Frames     int              // Frames to emit before closing (0 = until cancelled)
	Interval   time.Duration    // Pause between frames (default 16ms)
	ExtraEvery int              // Every n-th root span carries extra data (0 = only on capture)
	ExtraBytes int              // Extra data size (default 64)
	ByteOrder  binary.ByteOrder // nil = little-endian
	Catalog    core.Catalog     // Empty = DefaultCatalog()
}

func (c Config) withDefaults() Config {
	if c.Threads <= 0 {
		c.Threads = 2
	}
	if c.Depth <= 0 {
		c.Depth = 3
	}
	if c.Interval <= 0 {
		c.Interval = 16 * time.Millisecond
	}
	if c.ExtraBytes <= 0 {
		c.ExtraBytes = 64
	}
	if c.Catalog.Len() == 0 {
		c.Catalog = DefaultCatalog()
	}
	return c
}

// DefaultCatalog returns a small catalog of one module, two libraries and four symbols.
func DefaultCatalog() core.Catalog {
	return core.Catalog{
		Modules: []core.ModuleDescriptor{
			{ModuleID: 1, VersionMajor: 1, VersionMinor: 0, Name: "otrace-sim"},
		},
		Libraries: []core.LibraryDescriptor{
			{LibraryID: 1, Version: 1, Name: "libsim-render"},
			{LibraryID: 2, Version: 3, Name: "libsim-net"},
		},
		Symbols: []core.SymbolDescriptor{
			{Name: "frame", LibraryID: 1, ModuleID: 1},
			{Name: "draw_scene", LibraryID: 1, ModuleID: 1},
			{Name: "upload_textures", LibraryID: 1, ModuleID: 1},
			{Name: "poll_socket", LibraryID: 2, ModuleID: 1},
		},
	}
}

// Stats counts what the simulator produced.
type Stats struct {
	Frames   uint64 `json:"frames"`
	Events   uint64 `json:"events"`
	Captures uint64 `json:"captures"` // Capture commands received on the back-channel
}

// CapturePayload is the extra data attached to the root span after a capture request.
var CapturePayload = []byte("capture")

// Simulator writes one synthetic session.
type Simulator struct {
	cfg   Config
	start time.Time
	last  uint64

	frames   atomic.Uint64
	events   atomic.Uint64
	captures atomic.Uint64
	pending  atomic.Bool
}

// New creates a simulator.
func New(cfg Config) *Simulator {
	return &Simulator{cfg: cfg.withDefaults()}
}

// Stats returns a snapshot of the counters. Safe for concurrent use.
func (s *Simulator) Stats() Stats {
	return Stats{
		Frames:   s.frames.Load(),
		Events:   s.events.Load(),
		Captures: s.captures.Load(),
	}
}

// Run writes the handshake, the catalog and frames to conn, and reads capture
// commands from it. It returns nil after the configured frames or ctx.Err() on
// cancellation. The caller closes conn, which also ends the back-channel reader.
func (s *Simulator) Run(ctx context.Context, conn io.ReadWriter) error {
	go s.readCommands(conn)

	w := encoder.NewWriter(conn, s.cfg.ByteOrder)
	s.start = time.Now()
	s.last = anchorTicks
	if err := w.WriteHandshake(core.SessionHandshake{
		TSCFrequency:      TickFrequency,
		AnchorSeconds:     s.start.Unix(),
		AnchorNanoseconds: int64(s.start.Nanosecond()),
		AnchorTimestamp:   anchorTicks,
	}); err != nil {
		return fmt.Errorf("write handshake: %w", err)
	}
	if err := w.WriteCatalog(s.cfg.Catalog); err != nil {
		return fmt.Errorf("write catalog: %w", err)
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	frameStart := make([]uint64, s.cfg.Threads)
	for frame := 0; s.cfg.Frames == 0 || frame < s.cfg.Frames; frame++ {
		if err := s.writeFrame(w, frame, frameStart); err != nil {
			return err
		}
		s.frames.Add(1)
		if s.cfg.Frames != 0 && frame == s.cfg.Frames-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (s *Simulator) writeFrame(w *encoder.Writer, frame int, frameStart []uint64) error {
	extra := s.pending.Swap(false)
	payload := CapturePayload
	if !extra && s.cfg.ExtraEvery > 0 && frame%s.cfg.ExtraEvery == 0 {
		extra = true
		payload = make([]byte, s.cfg.ExtraBytes)
		for i := range payload {
			payload[i] = byte(frame + i)
		}
	}

	symbols := uint64(len(s.cfg.Catalog.Symbols))
	for t := 0; t < s.cfg.Threads; t++ {
		thread := uint64(t + 1)
		for d := 0; d < s.cfg.Depth; d++ {
			label := uint64(d)
			if symbols > 0 {
				label %= symbols
			}
			var ev core.Event = core.SpanStart{ThreadID: thread, Time: s.tick(), LabelID: label}
			if d == 0 && extra {
				ev = core.SpanStartAdditionalData{ThreadID: thread, Time: s.tick(), LabelID: label, ExtraData: payload}
			}
			if err := s.write(w, ev); err != nil {
				return err
			}
			if d == 0 {
				frameStart[t] = core.EventTime(ev)
			}
		}
		for d := 0; d < s.cfg.Depth; d++ {
			if err := s.write(w, core.SpanEnd{ThreadID: thread, Time: s.tick()}); err != nil {
				return err
			}
		}
		if err := s.write(w, core.CountersUpdate{
			ThreadID: thread,
			LastTime: frameStart[t],
			Time:     s.tick(),
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Simulator) write(w *encoder.Writer, ev core.Event) error {
	if err := w.WriteEvent(ev); err != nil {
		return fmt.Errorf("write %s: %w", ev.Tag(), err)
	}
	s.events.Add(1)
	return nil
}

// tick returns a strictly increasing tick counter value.
func (s *Simulator) tick() uint64 {
	now := s.last + 1
	if elapsed := anchorTicks + uint64(time.Since(s.start)); elapsed > now {
		now = elapsed
	}
	s.last = now
	return now
}

func (s *Simulator) readCommands(r io.Reader) {
	buf := make([]byte, 64)
	for {
		n, err := r.Read(buf)
		for _, b := range buf[:n] {
			if server.Command(b) == server.CaptureFrame {
				s.captures.Add(1)
				s.pending.Store(true)
				slog.Info("capture frame requested")
			} else {
				slog.Warn("unknown command from daemon", "command", server.Command(b).String())
			}
		}
		if err != nil {
			return
		}
	}
}
