// Package console implements console debug reporter.
// Outputs records to stdout in human-readable format for debugging.
package console

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"firestige.xyz/otrace/internal/core"
	"firestige.xyz/otrace/pkg/plugin"
)

// ConsoleReporter outputs records to console for debugging.
type ConsoleReporter struct {
	name          string
	format        string // "json" or "text"
	mu            sync.Mutex
	out           io.Writer
	reportedCount atomic.Uint64
}

// Config represents console reporter configuration.
type Config struct {
	Format string `mapstructure:"format"` // "json" or "text", default "text"
	Stream string `mapstructure:"stream"` // "stdout" or "stderr", default "stdout"
}

// NewConsoleReporter creates a new console reporter.
func NewConsoleReporter() plugin.Reporter {
	return &ConsoleReporter{
		name:   "console",
		format: "text", // default
		out:    os.Stdout,
	}
}

// Name returns the plugin name.
func (r *ConsoleReporter) Name() string {
	return r.name
}

// Init initializes the reporter with configuration.
func (r *ConsoleReporter) Init(config map[string]any) error {
	if config == nil {
		return nil
	}

	cfg := Config{Format: r.format, Stream: "stdout"}
	if err := plugin.DecodeConfig(config, &cfg); err != nil {
		return err
	}

	if cfg.Format != "json" && cfg.Format != "text" {
		return fmt.Errorf("invalid format %q, must be json or text", cfg.Format)
	}
	r.format = cfg.Format

	switch cfg.Stream {
	case "stdout":
		r.out = os.Stdout
	case "stderr":
		r.out = os.Stderr
	default:
		return fmt.Errorf("invalid stream %q, must be stdout or stderr", cfg.Stream)
	}

	return nil
}

// Start starts the reporter.
func (r *ConsoleReporter) Start(ctx context.Context) error {
	slog.Info("console reporter started", "format", r.format)
	return nil
}

// Stop stops the reporter.
func (r *ConsoleReporter) Stop(ctx context.Context) error {
	slog.Info("console reporter stopped", "total_reported", r.reportedCount.Load())
	return nil
}

// Report outputs a record to console.
func (r *ConsoleReporter) Report(ctx context.Context, rec *core.OutputRecord) error {
	if rec == nil {
		return fmt.Errorf("nil record")
	}

	var line string
	if r.format == "json" {
		data, err := json.Marshal(rec.Document())
		if err != nil {
			return fmt.Errorf("json marshal failed: %w", err)
		}
		line = string(data)
	} else {
		line = formatText(rec)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := fmt.Fprintln(r.out, line); err != nil {
		return err
	}
	r.reportedCount.Add(1)
	return nil
}

// formatText renders a record in human-readable text format:
//
//	[15:04:05.000] sess-1 #12 span_start thread_id=1 time=100 label_id=3 labels=symbol.name=Foo
func formatText(rec *core.OutputRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s #%d %s",
		rec.Timestamp.Format("15:04:05.000"),
		rec.SessionID,
		rec.Sequence,
		rec.Kind,
	)

	fields := core.PayloadFields(rec.Payload)
	for _, k := range sortedKeys(fields) {
		v := fields[k]
		if raw, ok := v.([]byte); ok {
			fmt.Fprintf(&b, " %s=%dB", k, len(raw))
			continue
		}
		fmt.Fprintf(&b, " %s=%v", k, v)
	}

	// Print labels if present
	if len(rec.Labels) > 0 {
		keys := make([]string, 0, len(rec.Labels))
		for k := range rec.Labels {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, len(keys))
		for i, k := range keys {
			pairs[i] = k + "=" + rec.Labels[k]
		}
		fmt.Fprintf(&b, " labels=%s", strings.Join(pairs, ","))
	}
	return b.String()
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Flush is a no-op for console reporter (stdout auto-flushes).
func (r *ConsoleReporter) Flush(ctx context.Context) error {
	return nil
}
