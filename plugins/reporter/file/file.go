// Package file implements a reporter that appends records to a rotating file.
//
// JSON records are written one per line. CBOR records are written back to back
// as a CBOR sequence (RFC 8742). Rotation is handled by lumberjack.
package file

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"

	"firestige.xyz/otrace/internal/core"
	"firestige.xyz/otrace/pkg/codec"
	"firestige.xyz/otrace/pkg/plugin"
)

const (
	defaultMaxSizeMB  = 100
	defaultMaxBackups = 5
	defaultMaxAgeDays = 30
)

// FileReporter writes encoded records to a rotating file.
type FileReporter struct {
	name    string
	config  Config
	encoder codec.Encoder

	mu     sync.Mutex
	writer *lumberjack.Logger

	writtenCount atomic.Uint64
	writtenBytes atomic.Uint64
}

// Config represents file reporter configuration.
type Config struct {
	Path       string `mapstructure:"path"`         // required
	Encoding   string `mapstructure:"encoding"`     // json | cbor, default json
	MaxSizeMB  int    `mapstructure:"max_size_mb"`  // default 100
	MaxAgeDays int    `mapstructure:"max_age_days"` // default 30
	MaxBackups int    `mapstructure:"max_backups"`  // default 5
	Compress   bool   `mapstructure:"compress"`     // gzip rotated files
}

// NewFileReporter creates a new file reporter.
func NewFileReporter() plugin.Reporter {
	return &FileReporter{name: "file"}
}

// Name returns the plugin name.
func (r *FileReporter) Name() string { return r.name }

// Init initializes the reporter with configuration.
func (r *FileReporter) Init(config map[string]any) error {
	cfg := Config{
		Encoding:   "json",
		MaxSizeMB:  defaultMaxSizeMB,
		MaxAgeDays: defaultMaxAgeDays,
		MaxBackups: defaultMaxBackups,
	}
	if err := plugin.DecodeConfig(config, &cfg); err != nil {
		return err
	}
	if cfg.Path == "" {
		return fmt.Errorf("path is required")
	}

	enc, err := codec.ByName(cfg.Encoding)
	if err != nil {
		return err
	}

	r.config = cfg
	r.encoder = enc
	return nil
}

// Start opens the output file lazily through lumberjack.
func (r *FileReporter) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writer = &lumberjack.Logger{
		Filename:   filepath.Clean(r.config.Path),
		MaxSize:    r.config.MaxSizeMB,
		MaxAge:     r.config.MaxAgeDays,
		MaxBackups: r.config.MaxBackups,
		Compress:   r.config.Compress,
		LocalTime:  true,
	}
	slog.Info("file reporter started", "path", r.config.Path, "encoding", r.encoder.Name())
	return nil
}

// Stop closes the output file.
func (r *FileReporter) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writer == nil {
		return nil
	}
	err := r.writer.Close()
	r.writer = nil
	slog.Info("file reporter stopped",
		"records", r.writtenCount.Load(),
		"bytes", r.writtenBytes.Load(),
	)
	return err
}

// Report appends one record. Each record is a single Write so rotation never splits it.
func (r *FileReporter) Report(ctx context.Context, rec *core.OutputRecord) error {
	if rec == nil {
		return fmt.Errorf("nil record")
	}
	data, err := r.encoder.Encode(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if r.encoder.Name() == "json" {
		data = append(data, '\n')
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writer == nil {
		return fmt.Errorf("file reporter: %w", core.ErrServerStopped)
	}
	n, err := r.writer.Write(data)
	r.writtenBytes.Add(uint64(n))
	if err != nil {
		return fmt.Errorf("write %s: %w", r.config.Path, err)
	}
	r.writtenCount.Add(1)
	return nil
}

// Flush is a no-op: every Report reaches the file before returning.
func (r *FileReporter) Flush(ctx context.Context) error { return nil }

// Rotate closes the current file and starts a new one.
func (r *FileReporter) Rotate() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writer == nil {
		return nil
	}
	return r.writer.Rotate()
}
