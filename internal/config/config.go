// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"firestige.xyz/otrace/internal/core"
)

// GlobalConfig represents the top-level configuration.
// Maps to the `otrace:` root key in YAML.
type GlobalConfig struct {
	Server    ServerConfig      `mapstructure:"server"`
	Decoder   DecoderConfig     `mapstructure:"decoder"`
	Correlate CorrelateConfig   `mapstructure:"correlate"`
	Recorder  RecorderConfig    `mapstructure:"recorder"`
	Kafka     GlobalKafkaConfig `mapstructure:"kafka"`
	Reporters []ReporterConfig  `mapstructure:"reporters"`
	Control   ControlConfig     `mapstructure:"control"`
	Metrics   MetricsConfig     `mapstructure:"metrics"`
	Log       LogConfig         `mapstructure:"log"`
}

// ─── Trace Listener ───

// ServerConfig configures the TCP listener producers connect to.
type ServerConfig struct {
	Listen          string          `mapstructure:"listen"`
	ReadTimeout     time.Duration   `mapstructure:"read_timeout"`     // 0 = wait forever
	MaxConnections  int             `mapstructure:"max_connections"`  // 0 = unlimited
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"` // Wait for sessions to drain
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig limits new connections per source IP.
type RateLimitConfig struct {
	MaxPerWindow int           `mapstructure:"max_per_window"` // 0 = disabled
	Window       time.Duration `mapstructure:"window"`
}

// ─── Decoder ───

// DecoderConfig configures wire decoding.
type DecoderConfig struct {
	ByteOrder      string `mapstructure:"byte_order"` // little | big
	MaxStringBytes uint32 `mapstructure:"max_string_bytes"`
	MaxExtraBytes  uint64 `mapstructure:"max_extra_bytes"`
}

// ─── Correlation ───

// CorrelateConfig controls span correlation and what the pipeline reports.
type CorrelateConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	EmitEvents bool `mapstructure:"emit_events"` // Report individual events as well as spans
	MaxDepth   int  `mapstructure:"max_depth"`
}

// ─── Recorder ───

// RecorderConfig controls raw stream recording.
type RecorderConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Dir         string `mapstructure:"dir"`
	Compression string `mapstructure:"compression"` // none | zstd | lz4
}

// ─── Kafka Global Default ───

// GlobalKafkaConfig provides shared Kafka connection defaults.
// Kafka reporters inherit brokers, sasl and tls from here when they omit them.
type GlobalKafkaConfig struct {
	Brokers []string   `mapstructure:"brokers"`
	SASL    SASLConfig `mapstructure:"sasl"`
	TLS     TLSConfig  `mapstructure:"tls"`
}

// SASLConfig contains SASL authentication settings.
type SASLConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Mechanism string `mapstructure:"mechanism"` // PLAIN | SCRAM-SHA-256 | SCRAM-SHA-512
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
}

// TLSConfig contains TLS settings.
type TLSConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	CACert             string `mapstructure:"ca_cert"`
	ClientCert         string `mapstructure:"client_cert"`
	ClientKey          string `mapstructure:"client_key"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
}

// ─── Reporters ───

// ReporterConfig contains reporter plugin configuration.
// Config is decoded by the reporter itself.
type ReporterConfig struct {
	Name         string         `mapstructure:"name"`
	Config       map[string]any `mapstructure:"config"`
	BatchSize    int            `mapstructure:"batch_size"`    // 0 = default (100)
	BatchTimeout time.Duration  `mapstructure:"batch_timeout"` // 0 = default (50ms)
	Fallback     string         `mapstructure:"fallback"`      // Name of another configured reporter
}

// ─── Control Plane ───

// ControlConfig contains local control plane settings.
type ControlConfig struct {
	Socket  string             `mapstructure:"socket"`
	PIDFile string             `mapstructure:"pid_file"`
	Kafka   CommandKafkaConfig `mapstructure:"kafka"`
}

// CommandKafkaConfig configures the remote command channel.
// Brokers default to otrace.kafka.brokers.
type CommandKafkaConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Brokers         []string      `mapstructure:"brokers"`
	Topic           string        `mapstructure:"topic"`
	GroupID         string        `mapstructure:"group_id"`
	AutoOffsetReset string        `mapstructure:"auto_offset_reset"` // earliest | latest
	CommandTTL      time.Duration `mapstructure:"command_ttl"`       // Older commands are skipped
	Target          string        `mapstructure:"target"`            // Node name matched against command targets (default: hostname)
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level"`  // debug / info / warn / error
	Format  string           `mapstructure:"format"` // json / text / auto
	Outputs LogOutputsConfig `mapstructure:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`  // MB
	MaxAgeDays int  `mapstructure:"max_age_days"` // Days
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `otrace: ...`.
type configRoot struct {
	Otrace GlobalConfig `mapstructure:"otrace"`
}

// Load loads configuration from file. An empty path yields the defaults.
// The YAML file uses `otrace:` as root key; env vars use the OTRACE_ prefix (e.g., OTRACE_LOG_LEVEL).
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// The `otrace.` key prefix maps to `OTRACE_` in env vars via the key replacer
	// (e.g., key "otrace.server.listen" → env "OTRACE_SERVER_LISTEN").
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Otrace

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrConfigInvalid, err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *GlobalConfig {
	cfg, err := Load("")
	if err != nil {
		// defaults are static and always valid
		panic(err)
	}
	return cfg
}

// setDefaults sets default values for configuration.
// All keys use the "otrace." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("otrace.server.listen", ":9876")
	v.SetDefault("otrace.server.read_timeout", "0s")
	v.SetDefault("otrace.server.max_connections", 0)
	v.SetDefault("otrace.server.shutdown_timeout", "10s")
	v.SetDefault("otrace.server.rate_limit.max_per_window", 0)
	v.SetDefault("otrace.server.rate_limit.window", "10s")

	// Decoder defaults
	v.SetDefault("otrace.decoder.byte_order", "little")
	v.SetDefault("otrace.decoder.max_string_bytes", 64<<10)
	v.SetDefault("otrace.decoder.max_extra_bytes", 64<<20)

	// Correlation defaults
	v.SetDefault("otrace.correlate.enabled", false)
	v.SetDefault("otrace.correlate.emit_events", true)
	v.SetDefault("otrace.correlate.max_depth", 4096)

	// Recorder defaults
	v.SetDefault("otrace.recorder.enabled", false)
	v.SetDefault("otrace.recorder.dir", "/var/lib/otrace/recordings")
	v.SetDefault("otrace.recorder.compression", "zstd")

	// Control defaults
	v.SetDefault("otrace.control.pid_file", "/var/run/otrace.pid")
	v.SetDefault("otrace.control.socket", "/var/run/otrace.sock")
	v.SetDefault("otrace.control.kafka.enabled", false)
	v.SetDefault("otrace.control.kafka.topic", "otrace-commands")
	v.SetDefault("otrace.control.kafka.group_id", "otrace")
	v.SetDefault("otrace.control.kafka.auto_offset_reset", "latest")
	v.SetDefault("otrace.control.kafka.command_ttl", "5m")

	// Metrics defaults
	v.SetDefault("otrace.metrics.enabled", true)
	v.SetDefault("otrace.metrics.listen", ":9091")
	v.SetDefault("otrace.metrics.path", "/metrics")

	// Log defaults
	v.SetDefault("otrace.log.level", "info")
	v.SetDefault("otrace.log.format", "json")
	v.SetDefault("otrace.log.outputs.file.enabled", false)
	v.SetDefault("otrace.log.outputs.file.path", "/var/log/otrace/otrace.log")
	v.SetDefault("otrace.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("otrace.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("otrace.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("otrace.log.outputs.file.rotation.compress", true)
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" && cfg.Log.Format != "auto" {
		return fmt.Errorf("invalid log format: %s (must be json/text/auto)", cfg.Log.Format)
	}

	// ── Server validation ──
	if cfg.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}
	if cfg.Server.MaxConnections < 0 {
		return fmt.Errorf("server.max_connections must be >= 0, got %d", cfg.Server.MaxConnections)
	}
	if cfg.Server.ReadTimeout < 0 {
		return fmt.Errorf("server.read_timeout must be >= 0, got %s", cfg.Server.ReadTimeout)
	}
	if cfg.Server.RateLimit.MaxPerWindow > 0 && cfg.Server.RateLimit.Window <= 0 {
		cfg.Server.RateLimit.Window = 10 * time.Second
	}

	// ── Decoder validation ──
	switch strings.ToLower(cfg.Decoder.ByteOrder) {
	case "", "little", "le":
		cfg.Decoder.ByteOrder = "little"
	case "big", "be":
		cfg.Decoder.ByteOrder = "big"
	default:
		return fmt.Errorf("invalid decoder.byte_order: %s (must be little/big)", cfg.Decoder.ByteOrder)
	}

	// ── Recorder validation ──
	if cfg.Recorder.Enabled {
		if cfg.Recorder.Dir == "" {
			return fmt.Errorf("recorder.dir is required when recorder.enabled=true")
		}
		switch cfg.Recorder.Compression {
		case "", "none", "zstd", "lz4":
		default:
			return fmt.Errorf("invalid recorder.compression: %s (must be none/zstd/lz4)", cfg.Recorder.Compression)
		}
	}

	// ── Reporter validation ──
	names := make(map[string]bool, len(cfg.Reporters))
	for i, rc := range cfg.Reporters {
		if rc.Name == "" {
			return fmt.Errorf("reporters[%d].name is required", i)
		}
		if rc.BatchSize < 0 {
			return fmt.Errorf("reporters[%d].batch_size must be >= 0, got %d", i, rc.BatchSize)
		}
		names[rc.Name] = true
	}
	for i, rc := range cfg.Reporters {
		if rc.Fallback == "" {
			continue
		}
		if rc.Fallback == rc.Name {
			return fmt.Errorf("reporters[%d].fallback cannot reference itself", i)
		}
		if !names[rc.Fallback] {
			return fmt.Errorf("reporters[%d].fallback %q is not a configured reporter", i, rc.Fallback)
		}
	}

	// ── Control validation ──
	if cfg.Control.Kafka.Enabled {
		if len(cfg.Control.Kafka.Brokers) == 0 {
			cfg.Control.Kafka.Brokers = cfg.Kafka.Brokers
		}
		if len(cfg.Control.Kafka.Brokers) == 0 {
			return fmt.Errorf("control.kafka.brokers is required when control.kafka.enabled=true")
		}
		if cfg.Control.Kafka.Topic == "" || cfg.Control.Kafka.GroupID == "" {
			return fmt.Errorf("control.kafka.topic and control.kafka.group_id are required")
		}
		switch cfg.Control.Kafka.AutoOffsetReset {
		case "", "earliest", "latest":
		default:
			return fmt.Errorf("invalid control.kafka.auto_offset_reset: %s (must be earliest/latest)", cfg.Control.Kafka.AutoOffsetReset)
		}
	}

	// ── Metrics validation ──
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return fmt.Errorf("metrics.listen is required when metrics.enabled=true")
	}

	applyKafkaInheritance(cfg)
	return nil
}

// applyKafkaInheritance copies the global otrace.kafka settings into every kafka
// reporter that leaves them unset.
func applyKafkaInheritance(cfg *GlobalConfig) {
	global := &cfg.Kafka
	for i := range cfg.Reporters {
		rc := &cfg.Reporters[i]
		if rc.Name != "kafka" {
			continue
		}
		if rc.Config == nil {
			rc.Config = make(map[string]any)
		}
		if _, ok := rc.Config["brokers"]; !ok && len(global.Brokers) > 0 {
			rc.Config["brokers"] = global.Brokers
		}
		if _, ok := rc.Config["sasl"]; !ok && global.SASL.Enabled {
			rc.Config["sasl"] = map[string]any{
				"enabled":   true,
				"mechanism": global.SASL.Mechanism,
				"username":  global.SASL.Username,
				"password":  global.SASL.Password,
			}
		}
		if _, ok := rc.Config["tls"]; !ok && global.TLS.Enabled {
			rc.Config["tls"] = map[string]any{
				"enabled":              true,
				"ca_cert":              global.TLS.CACert,
				"client_cert":          global.TLS.ClientCert,
				"client_key":           global.TLS.ClientKey,
				"insecure_skip_verify": global.TLS.InsecureSkipVerify,
			}
		}
	}
}
