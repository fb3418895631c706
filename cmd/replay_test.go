package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/otrace/internal/config"
	"firestige.xyz/otrace/internal/core"
	"firestige.xyz/otrace/internal/core/decoder"
	"firestige.xyz/otrace/internal/core/encoder"
	"firestige.xyz/otrace/internal/recorder"
	"firestige.xyz/otrace/internal/simulator"
	"firestige.xyz/otrace/pkg/plugin"
)

// writeRecording records a session of two nested spans. A truncated recording
// stops in the middle of the last SpanEnd.
func writeRecording(t *testing.T, path string, truncated bool) {
	t.Helper()
	rec, err := recorder.Create(path, recorder.CompressionFromPath(path))
	require.NoError(t, err)

	var buf bytes.Buffer
	w := encoder.NewWriter(&buf, nil)
	require.NoError(t, w.WriteHandshake(core.SessionHandshake{TSCFrequency: 1000, AnchorSeconds: 1_700_000_000}))
	require.NoError(t, w.WriteCatalog(simulator.DefaultCatalog()))
	require.NoError(t, w.WriteEvent(core.SpanStart{ThreadID: 1, Time: 10, LabelID: 0}))
	require.NoError(t, w.WriteEvent(core.SpanStart{ThreadID: 1, Time: 20, LabelID: 1}))
	require.NoError(t, w.WriteEvent(core.SpanEnd{ThreadID: 1, Time: 30}))
	require.NoError(t, w.WriteEvent(core.SpanEnd{ThreadID: 1, Time: 40}))

	data := buf.Bytes()
	if truncated {
		data = data[:len(data)-5]
	}
	_, err = rec.Write(data)
	require.NoError(t, err)
	require.NoError(t, rec.Close())
}

func replayConfig(t *testing.T, out string) *config.GlobalConfig {
	t.Helper()
	cfg := config.Default()
	cfg.Correlate.Enabled = true
	cfg.Correlate.EmitEvents = false
	cfg.Reporters = []config.ReporterConfig{{
		Name:   "file",
		Config: map[string]any{"path": out},
	}}
	return cfg
}

func readKinds(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var kinds []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var doc map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &doc))
		kinds = append(kinds, doc["kind"].(string))
	}
	require.NoError(t, scanner.Err())
	return kinds
}

func TestRunReplay(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "20260101T000000-1"+recorder.ExtZstd)
	writeRecording(t, file, false)
	outPath := filepath.Join(dir, "records.jsonl")

	var out bytes.Buffer
	require.NoError(t, runReplay(context.Background(), replayConfig(t, outPath), []string{file}, &out))
	assert.Contains(t, out.String(), "4 events, 2 spans, 0 anomalies")
	assert.Contains(t, out.String(), ": ok")

	kinds := readKinds(t, outPath)
	require.NotEmpty(t, kinds)
	assert.Equal(t, string(core.KindHandshakeRecord), kinds[0])
	assert.Equal(t, string(core.KindClosedRecord), kinds[len(kinds)-1])

	spans := 0
	for _, k := range kinds {
		if k == string(core.KindSpanRecord) {
			spans++
		}
	}
	assert.Equal(t, 2, spans)
}

func TestRunReplayContinuesAfterFailure(t *testing.T) {
	dir := t.TempDir()
	broken := filepath.Join(dir, "broken"+recorder.ExtLZ4)
	good := filepath.Join(dir, "good"+recorder.ExtNone)
	writeRecording(t, broken, true)
	writeRecording(t, good, false)
	outPath := filepath.Join(dir, "records.jsonl")

	var out bytes.Buffer
	err := runReplay(context.Background(), replayConfig(t, outPath),
		[]string{broken, filepath.Join(dir, "missing.otr"), good}, &out)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrTruncatedEvent)
	assert.ErrorIs(t, err, os.ErrNotExist)

	assert.Contains(t, out.String(), "good.otr: ")
	assert.Contains(t, out.String(), "2 spans, 0 anomalies, 0 dropped packets: ok")
	assert.Contains(t, readKinds(t, outPath), string(core.KindErrorRecord))
}

func TestRunReplayUnknownByteOrder(t *testing.T) {
	cfg := config.Default()
	cfg.Decoder.ByteOrder = "middle"
	err := runReplay(context.Background(), cfg, []string{"x.otr"}, &bytes.Buffer{})
	assert.Error(t, err)
}

type countingSink struct {
	plugin.NopSink
	events chan core.Event
	closed chan struct{}
}

func (s *countingSink) OnEvent(ev core.Event) { s.events <- ev }
func (s *countingSink) OnConnectionClosed()   { close(s.closed) }

func TestRunSimulate(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	sink := &countingSink{events: make(chan core.Event, 1024), closed: make(chan struct{})}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_ = decoder.NewSession(conn, sink, decoder.DefaultOptions()).Run(context.Background())
	}()

	var out bytes.Buffer
	cfg := simulator.Config{Threads: 1, Depth: 2, Frames: 3, Interval: time.Millisecond}
	require.NoError(t, runSimulate(context.Background(), ln.Addr().String(), cfg, &out))
	assert.Equal(t, "Sent 3 frames, 15 events; 0 capture request(s) received\n", out.String())

	select {
	case <-sink.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("decoder did not see a clean close")
	}
	assert.Len(t, sink.events, 15)
}

func TestRunSimulateConnectError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	err = runSimulate(context.Background(), addr, simulator.Config{Frames: 1}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "failed to connect")
}
