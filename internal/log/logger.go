// Package log configures the process-wide slog logger for the daemon and the CLI.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"

	"firestige.xyz/otrace/internal/config"
)

// Log formats. FormatAuto picks text when the console is a terminal and JSON otherwise.
const (
	FormatJSON = "json"
	FormatText = "text"
	FormatAuto = "auto"
)

// Init installs the daemon logger: console output on stdout plus the optional
// rotating file.
func Init(cfg config.LogConfig) error {
	return InitWithWriter(cfg, os.Stdout)
}

// InitWithWriter installs a logger whose console output goes to console. CLI
// commands that print results on stdout pass os.Stderr.
func InitWithWriter(cfg config.LogConfig, console io.Writer) error {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	writers := []io.Writer{console}
	if cfg.Outputs.File.Enabled {
		w, err := createFileWriter(cfg.Outputs.File)
		if err != nil {
			return fmt.Errorf("failed to create file output: %w", err)
		}
		writers = append(writers, w)
	}
	out := io.MultiWriter(writers...)

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch resolveFormat(cfg.Format, console) {
	case FormatJSON:
		handler = slog.NewJSONHandler(out, opts)
	case FormatText:
		handler = slog.NewTextHandler(out, opts)
	default:
		return fmt.Errorf("unsupported log format: %s (must be json, text or auto)", cfg.Format)
	}

	slog.SetDefault(slog.New(handler))
	return nil
}

// resolveFormat lowercases format and settles FormatAuto against the console.
func resolveFormat(format string, console io.Writer) string {
	format = strings.ToLower(format)
	if format != FormatAuto {
		return format
	}
	if f, ok := console.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return FormatText
	}
	return FormatJSON
}

func parseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown level: %s", levelStr)
	}
}

// createFileWriter opens the lumberjack-rotated log file.
func createFileWriter(fc config.FileOutputConfig) (io.Writer, error) {
	if fc.Path == "" {
		return nil, fmt.Errorf("file output requires 'path' field")
	}
	return &lumberjack.Logger{
		Filename:   fc.Path,
		MaxSize:    fc.Rotation.MaxSizeMB,
		MaxBackups: fc.Rotation.MaxBackups,
		MaxAge:     fc.Rotation.MaxAgeDays,
		Compress:   fc.Rotation.Compress,
	}, nil
}
