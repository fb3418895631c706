package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"firestige.xyz/otrace/internal/command"
	"firestige.xyz/otrace/internal/core"
	"firestige.xyz/otrace/internal/core/encoder"
	_ "firestige.xyz/otrace/plugins"
)

type testEnv struct {
	dir        string
	configPath string
	socketPath string
	pidFile    string
	spanFile   string
}

func newTestEnv(t *testing.T, logLevel string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	env := &testEnv{
		dir:        dir,
		configPath: filepath.Join(dir, "config.yml"),
		socketPath: filepath.Join(dir, "otrace.sock"),
		pidFile:    filepath.Join(dir, "otrace.pid"),
		spanFile:   filepath.Join(dir, "spans.jsonl"),
	}
	env.writeConfig(t, logLevel)
	return env
}

func (e *testEnv) writeConfig(t *testing.T, logLevel string) {
	t.Helper()
	content := `
otrace:
  server:
    listen: 127.0.0.1:0
    shutdown_timeout: 5s
  correlate:
    enabled: true
  recorder:
    enabled: true
    dir: ` + filepath.Join(e.dir, "recordings") + `
    compression: lz4
  reporters:
    - name: file
      batch_timeout: 10ms
      config:
        path: ` + e.spanFile + `
  metrics:
    enabled: false
  log:
    level: ` + logLevel + `
    format: text
`
	if err := os.WriteFile(e.configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
}

func startDaemon(t *testing.T, env *testEnv) *Daemon {
	t.Helper()
	d, err := New(env.configPath, Overrides{Socket: env.socketPath, PIDFile: env.pidFile})
	if err != nil {
		t.Fatalf("failed to create daemon: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("failed to start daemon: %v", err)
	}
	t.Cleanup(d.Stop)
	return d
}

func readKinds(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	var kinds []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var doc map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &doc); err != nil {
			t.Fatalf("invalid json line %q: %v", scanner.Text(), err)
		}
		kinds = append(kinds, doc["kind"].(string))
	}
	return kinds
}

func TestDaemon_StartStopIntegration(t *testing.T) {
	env := newTestEnv(t, "debug")
	d := startDaemon(t, env)

	if _, err := os.Stat(env.pidFile); err != nil {
		t.Errorf("PID file not created: %v", err)
	}
	if _, err := os.Stat(env.socketPath); err != nil {
		t.Errorf("socket file not created: %v", err)
	}

	client := command.NewUDSClient(env.socketPath, 5*time.Second)
	status, err := client.Status(context.Background())
	if err != nil {
		t.Fatalf("daemon_status failed: %v", err)
	}
	if len(status.Reporters) != 1 || status.Reporters[0] != "file" {
		t.Errorf("reporters = %v, want [file]", status.Reporters)
	}

	// Producer session end to end
	conn, err := net.Dial("tcp", d.Addr().String())
	if err != nil {
		t.Fatalf("dial trace listener: %v", err)
	}
	w := encoder.NewWriter(conn, nil)
	if err := w.WriteHandshake(core.SessionHandshake{TSCFrequency: 1_000_000, AnchorSeconds: 1_700_000_000}); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteCatalog(core.Catalog{Symbols: []core.SymbolDescriptor{{Name: "sceGnmSubmitDone"}}}); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteEvent(core.SpanStart{ThreadID: 1, Time: 100}); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteEvent(core.SpanEnd{ThreadID: 1, Time: 400}); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	var sessions int
	for time.Now().Before(deadline) {
		list, err := client.Sessions(context.Background())
		if err != nil {
			t.Fatalf("session_list failed: %v", err)
		}
		if sessions = len(list); sessions == 1 && list[0].Stats.Events == 2 {
			if !strings.HasSuffix(list[0].Recording, ".otr.lz4") {
				t.Errorf("recording = %q, want .otr.lz4 file", list[0].Recording)
			}
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if sessions != 1 {
		t.Fatalf("sessions = %d, want 1", sessions)
	}

	sent, err := client.Capture(context.Background(), "")
	if err != nil || len(sent) != 1 {
		t.Fatalf("capture = %v, %v", sent, err)
	}
	buf := make([]byte, 1)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Read(buf); err != nil || buf[0] != 0 {
		t.Fatalf("expected capture frame command, got %v %v", buf, err)
	}
	conn.Close()

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if list, _ := client.Sessions(context.Background()); len(list) == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	d.Stop()

	kinds := readKinds(t, env.spanFile)
	want := map[string]bool{"handshake": false, "symbol": false, "span": false, "closed": false}
	for _, k := range kinds {
		if _, ok := want[k]; ok {
			want[k] = true
		}
	}
	for k, seen := range want {
		if !seen {
			t.Errorf("record kind %q not reported, got %v", k, kinds)
		}
	}

	if _, err := os.Stat(env.pidFile); !os.IsNotExist(err) {
		t.Error("PID file not removed after stop")
	}
	if _, err := os.Stat(env.socketPath); !os.IsNotExist(err) {
		t.Error("socket file not removed after stop")
	}
}

func TestDaemon_ShutdownCommand(t *testing.T) {
	env := newTestEnv(t, "info")
	d := startDaemon(t, env)

	done := make(chan error, 1)
	go func() { done <- d.Run() }()

	client := command.NewUDSClient(env.socketPath, 5*time.Second)
	if err := client.Shutdown(context.Background()); err != nil {
		t.Fatalf("daemon_shutdown failed: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop after daemon_shutdown")
	}
}

func TestDaemon_ReloadLogLevel(t *testing.T) {
	env := newTestEnv(t, "info")
	d := startDaemon(t, env)

	if d.Config().Log.Level != "info" {
		t.Fatalf("expected initial level info, got %s", d.Config().Log.Level)
	}

	env.writeConfig(t, "debug")
	if err := d.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if d.Config().Log.Level != "debug" {
		t.Errorf("expected level debug after reload, got %s", d.Config().Log.Level)
	}

	// Listen address stays as started
	if d.Config().Server.Listen != "127.0.0.1:0" {
		t.Errorf("listen changed on reload: %s", d.Config().Server.Listen)
	}
}

func TestDaemon_ReloadInvalidConfigKeepsRunning(t *testing.T) {
	env := newTestEnv(t, "info")
	d := startDaemon(t, env)

	if err := os.WriteFile(env.configPath, []byte("otrace:\n  log:\n    level: loud\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := d.Reload(); err == nil {
		t.Error("expected reload error for invalid config")
	}
	if d.Config().Log.Level != "info" {
		t.Errorf("level changed after failed reload: %s", d.Config().Log.Level)
	}
}

func TestDaemon_StartFailsOnUnknownReporter(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yml")
	content := `
otrace:
  server:
    listen: 127.0.0.1:0
  reporters:
    - name: carrier-pigeon
  metrics:
    enabled: false
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	pidFile := filepath.Join(dir, "otrace.pid")
	d, err := New(configPath, Overrides{Socket: filepath.Join(dir, "otrace.sock"), PIDFile: pidFile})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.Start(); err == nil {
		t.Fatal("expected start error for unknown reporter")
	}
	if _, err := os.Stat(pidFile); !os.IsNotExist(err) {
		t.Error("PID file left behind after failed start")
	}
}

func TestPIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "otrace.pid")
	if err := WritePIDFile(path); err != nil {
		t.Fatalf("WritePIDFile: %v", err)
	}
	pid, err := ReadPIDFile(path)
	if err != nil || pid != os.Getpid() {
		t.Fatalf("ReadPIDFile = %d, %v", pid, err)
	}
	if err := RemovePIDFile(path); err != nil {
		t.Fatalf("RemovePIDFile: %v", err)
	}
	if err := RemovePIDFile(path); err != nil {
		t.Errorf("second RemovePIDFile: %v", err)
	}
}

func TestStopByPIDWithoutDaemon(t *testing.T) {
	dir := t.TempDir()
	err := StopByPID(filepath.Join(dir, "absent.pid"), time.Second)
	if err == nil || !strings.Contains(err.Error(), core.ErrDaemonNotRunning.Error()) {
		t.Errorf("expected ErrDaemonNotRunning, got %v", err)
	}

	bad := filepath.Join(dir, "bad.pid")
	if err := os.WriteFile(bad, []byte("nope"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadPIDFile(bad); err == nil {
		t.Error("expected error for malformed PID file")
	}
}
