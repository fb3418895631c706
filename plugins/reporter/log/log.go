// Package log implements a reporter that writes records as human-readable log lines
// through logrus and the pattern formatter.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"firestige.xyz/otrace/internal/core"
	otlog "firestige.xyz/otrace/internal/log"
	"firestige.xyz/otrace/pkg/plugin"
)

// LogReporter logs every record as one entry.
type LogReporter struct {
	name   string
	config Config
	logger *logrus.Logger
	closer io.Closer // Set when writing to a file

	reportedCount atomic.Uint64
}

// Config represents log reporter configuration.
type Config struct {
	Level      string `mapstructure:"level"`       // trace|debug|info|warn|error, default info
	Pattern    string `mapstructure:"pattern"`     // default "%time [%level] %msg %field\n"
	TimeLayout string `mapstructure:"time_layout"` // Go time layout
	Output     string `mapstructure:"output"`      // stdout | stderr | file path, default stdout
	MaxSizeMB  int    `mapstructure:"max_size_mb"` // Rotation, file output only
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// NewLogReporter creates a new log reporter.
func NewLogReporter() plugin.Reporter {
	return &LogReporter{name: "log"}
}

// Name returns the plugin name.
func (r *LogReporter) Name() string { return r.name }

// Init initializes the reporter with configuration.
func (r *LogReporter) Init(config map[string]any) error {
	cfg := Config{
		Level:      "info",
		Output:     "stdout",
		MaxSizeMB:  100,
		MaxBackups: 5,
		MaxAgeDays: 30,
	}
	if err := plugin.DecodeConfig(config, &cfg); err != nil {
		return err
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid level: %w", err)
	}

	l := logrus.New()
	l.SetLevel(level)
	l.SetFormatter(otlog.NewPatternFormatter(cfg.Pattern, cfg.TimeLayout))
	l.SetOutput(os.Stdout)

	r.config = cfg
	r.logger = l
	return nil
}

// Start opens the configured output.
func (r *LogReporter) Start(ctx context.Context) error {
	switch r.config.Output {
	case "", "stdout":
		r.logger.SetOutput(os.Stdout)
	case "stderr":
		r.logger.SetOutput(os.Stderr)
	default:
		w := &lumberjack.Logger{
			Filename:   r.config.Output,
			MaxSize:    r.config.MaxSizeMB,
			MaxBackups: r.config.MaxBackups,
			MaxAge:     r.config.MaxAgeDays,
			Compress:   r.config.Compress,
		}
		r.logger.SetOutput(w)
		r.closer = w
	}
	slog.Info("log reporter started", "output", r.config.Output, "level", r.config.Level)
	return nil
}

// Stop closes a file output.
func (r *LogReporter) Stop(ctx context.Context) error {
	slog.Info("log reporter stopped", "total_reported", r.reportedCount.Load())
	if r.closer != nil {
		err := r.closer.Close()
		r.closer = nil
		return err
	}
	return nil
}

// Report logs one record. Error records log at error level, everything else at info.
func (r *LogReporter) Report(ctx context.Context, rec *core.OutputRecord) error {
	if rec == nil {
		return fmt.Errorf("nil record")
	}

	fields := logrus.Fields{
		"session": rec.SessionID,
		"seq":     rec.Sequence,
	}
	for k, v := range core.PayloadFields(rec.Payload) {
		if raw, ok := v.([]byte); ok {
			v = fmt.Sprintf("%dB", len(raw))
		}
		fields[k] = v
	}
	for k, v := range rec.Labels {
		fields[k] = v
	}

	entry := r.logger.WithFields(fields).WithTime(rec.Timestamp)
	switch rec.Kind {
	case core.KindErrorRecord:
		entry.Error(string(rec.Kind))
	default:
		entry.Info(string(rec.Kind))
	}

	r.reportedCount.Add(1)
	return nil
}

// Flush is a no-op; logrus writes synchronously.
func (r *LogReporter) Flush(ctx context.Context) error { return nil }
