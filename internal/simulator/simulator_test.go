package simulator

import (
	"context"
	"encoding/binary"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/otrace/internal/core"
	"firestige.xyz/otrace/internal/core/decoder"
	"firestige.xyz/otrace/internal/correlator"
	"firestige.xyz/otrace/internal/server"
)

type recordingSink struct {
	mu        sync.Mutex
	handshake core.SessionHandshake
	catalog   core.Catalog
	events    []core.Event
	closed    bool
	err       error
}

func (s *recordingSink) OnHandshake(h core.SessionHandshake) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handshake = h
}

func (s *recordingSink) OnModule(m core.ModuleDescriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog.Modules = append(s.catalog.Modules, m)
}

func (s *recordingSink) OnLibrary(l core.LibraryDescriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog.Libraries = append(s.catalog.Libraries, l)
}

func (s *recordingSink) OnSymbol(sym core.SymbolDescriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog.Symbols = append(s.catalog.Symbols, sym)
}

func (s *recordingSink) OnEvent(ev core.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) OnConnectionClosed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *recordingSink) OnError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *recordingSink) snapshot() []core.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Event(nil), s.events...)
}

// decodeInto runs a decoder session on the daemon end of a pipe.
func decodeInto(t *testing.T, order binary.ByteOrder) (net.Conn, net.Conn, *recordingSink, <-chan error) {
	t.Helper()
	producer, daemon := net.Pipe()
	sink := &recordingSink{}
	done := make(chan error, 1)
	go func() {
		done <- decoder.NewSession(daemon, sink, decoder.Options{ByteOrder: order}).Run(context.Background())
	}()
	t.Cleanup(func() {
		producer.Close()
		daemon.Close()
	})
	return producer, daemon, sink, done
}

func TestSimulatorProducesDecodableSession(t *testing.T) {
	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		t.Run(order.String(), func(t *testing.T) {
			producer, _, sink, done := decodeInto(t, order)

			sim := New(Config{Threads: 2, Depth: 3, Frames: 4, Interval: time.Millisecond, ExtraEvery: 2, ByteOrder: order})
			require.NoError(t, sim.Run(context.Background(), producer))
			producer.Close()
			require.NoError(t, <-done)

			stats := sim.Stats()
			assert.Equal(t, uint64(4), stats.Frames)
			// Per thread and frame: Depth starts, Depth ends and one counters update.
			assert.Equal(t, uint64(4*2*7), stats.Events)

			assert.True(t, sink.closed)
			assert.NoError(t, sink.err)
			assert.Equal(t, TickFrequency, sink.handshake.TSCFrequency)
			assert.Equal(t, DefaultCatalog(), sink.catalog)

			events := sink.snapshot()
			require.Len(t, events, int(stats.Events))

			var extra int
			corr := correlator.New(0)
			spans := 0
			for _, ev := range events {
				if d, ok := ev.(core.SpanStartAdditionalData); ok {
					extra++
					assert.Len(t, d.ExtraData, 64)
				}
				_, ok, err := corr.Observe(ev)
				require.NoError(t, err)
				if ok {
					spans++
				}
			}
			// Frames 0 and 2 carry extra data on both threads' root spans.
			assert.Equal(t, 4, extra)
			assert.Equal(t, 4*2*3, spans)
			assert.Zero(t, corr.Stats().Open)
		})
	}
}

func TestSimulatorTicksIncrease(t *testing.T) {
	producer, _, sink, done := decodeInto(t, nil)

	sim := New(Config{Threads: 1, Depth: 2, Frames: 3, Interval: time.Millisecond})
	require.NoError(t, sim.Run(context.Background(), producer))
	producer.Close()
	require.NoError(t, <-done)

	var last uint64
	for _, ev := range sink.snapshot() {
		ts := core.EventTime(ev)
		assert.Greater(t, ts, last)
		last = ts
	}
}

func TestSimulatorCaptureCommand(t *testing.T) {
	producer, daemonEnd, sink, _ := decodeInto(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	sim := New(Config{Threads: 1, Depth: 1, Interval: time.Millisecond})
	runErr := make(chan error, 1)
	go func() { runErr <- sim.Run(ctx, producer) }()

	require.Eventually(t, func() bool { return sim.Stats().Frames > 0 }, 2*time.Second, time.Millisecond)
	_, err := daemonEnd.Write([]byte{byte(server.CaptureFrame)})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		for _, ev := range sink.snapshot() {
			if d, ok := ev.(core.SpanStartAdditionalData); ok {
				return string(d.ExtraData) == string(CapturePayload)
			}
		}
		return false
	}, 2*time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-runErr, context.Canceled)
	assert.Equal(t, uint64(1), sim.Stats().Captures)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, 2, cfg.Threads)
	assert.Equal(t, 3, cfg.Depth)
	assert.Equal(t, 16*time.Millisecond, cfg.Interval)
	assert.Equal(t, 64, cfg.ExtraBytes)
	assert.Equal(t, 7, cfg.Catalog.Len())
}
