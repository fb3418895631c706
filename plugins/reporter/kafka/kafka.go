// Package kafka implements Kafka reporter plugin.
// Sends OutputRecords to Kafka with batching, compression, and retry support.
package kafka

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"

	"firestige.xyz/otrace/internal/core"
	"firestige.xyz/otrace/pkg/codec"
	"firestige.xyz/otrace/pkg/plugin"
)

const (
	defaultBatchSize    = 100
	defaultBatchTimeout = 100 * time.Millisecond
	defaultCompression  = "snappy"
	defaultMaxAttempts  = 3
	defaultEncoding     = "json"
)

// messageWriter is the subset of *kafka.Writer the reporter uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaReporter sends records to Kafka.
type KafkaReporter struct {
	name    string
	writer  messageWriter
	encoder codec.Encoder
	config  Config

	// Statistics
	reportedCount atomic.Uint64
	errorCount    atomic.Uint64
}

// Config represents Kafka reporter configuration.
type Config struct {
	Brokers      []string      `mapstructure:"brokers"`       // required, inherited from otrace.kafka when omitted
	Topic        string        `mapstructure:"topic"`         // required
	BatchSize    int           `mapstructure:"batch_size"`    // optional, default 100
	BatchTimeout time.Duration `mapstructure:"batch_timeout"` // optional, default 100ms
	Compression  string        `mapstructure:"compression"`   // optional: none|gzip|snappy|lz4|zstd, default snappy
	MaxAttempts  int           `mapstructure:"max_attempts"`  // optional, default 3
	Encoding     string        `mapstructure:"encoding"`      // optional: json|cbor, default json
	SASL         SASLConfig    `mapstructure:"sasl"`
	TLS          TLSConfig     `mapstructure:"tls"`
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

var _ plugin.BatchReporter = (*KafkaReporter)(nil)

// NewKafkaReporter creates a new Kafka reporter.
func NewKafkaReporter() plugin.Reporter {
	return &KafkaReporter{
		name: "kafka",
	}
}

// Name returns the plugin name.
func (r *KafkaReporter) Name() string {
	return r.name
}

// Init initializes the reporter with configuration.
func (r *KafkaReporter) Init(config map[string]any) error {
	if config == nil {
		return fmt.Errorf("kafka reporter requires configuration")
	}

	cfg := Config{
		BatchSize:    defaultBatchSize,
		BatchTimeout: defaultBatchTimeout,
		Compression:  defaultCompression,
		MaxAttempts:  defaultMaxAttempts,
		Encoding:     defaultEncoding,
	}
	if err := plugin.DecodeConfig(config, &cfg); err != nil {
		return err
	}

	if len(cfg.Brokers) == 0 {
		return fmt.Errorf("brokers is required")
	}
	if cfg.Topic == "" {
		return fmt.Errorf("topic is required")
	}

	enc, err := codec.ByName(cfg.Encoding)
	if err != nil {
		return err
	}

	compression, err := compressionCodec(cfg.Compression)
	if err != nil {
		return err
	}

	transport := &kafka.Transport{}
	if cfg.SASL.Enabled {
		mech, err := cfg.SASL.mechanism()
		if err != nil {
			return err
		}
		transport.SASL = mech
	}
	if cfg.TLS.Enabled {
		tlsCfg, err := cfg.TLS.build()
		if err != nil {
			return err
		}
		transport.TLS = tlsCfg
	}

	r.config = cfg
	r.encoder = enc
	r.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{}, // Records of one session land on one partition
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		MaxAttempts:  cfg.MaxAttempts,
		Compression:  compression,
		Transport:    transport,
		Async:        false, // Synchronous for error handling
	}

	return nil
}

func compressionCodec(name string) (kafka.Compression, error) {
	switch name {
	case "none", "":
		return 0, nil
	case "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	default:
		return 0, fmt.Errorf("invalid compression type: %s", name)
	}
}

func (c SASLConfig) mechanism() (sasl.Mechanism, error) {
	switch strings.ToUpper(c.Mechanism) {
	case "", "PLAIN":
		return plain.Mechanism{Username: c.Username, Password: c.Password}, nil
	case "SCRAM-SHA-256":
		return scram.Mechanism(scram.SHA256, c.Username, c.Password)
	case "SCRAM-SHA-512":
		return scram.Mechanism(scram.SHA512, c.Username, c.Password)
	default:
		return nil, fmt.Errorf("unsupported sasl mechanism: %s", c.Mechanism)
	}
}

func (c TLSConfig) build() (*tls.Config, error) {
	tlsCfg := &tls.Config{InsecureSkipVerify: c.InsecureSkipVerify}
	if c.CACert != "" {
		pem, err := os.ReadFile(c.CACert)
		if err != nil {
			return nil, fmt.Errorf("read ca_cert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("ca_cert %s: no certificates found", c.CACert)
		}
		tlsCfg.RootCAs = pool
	}
	if c.ClientCert != "" || c.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}

// Start starts the reporter.
func (r *KafkaReporter) Start(ctx context.Context) error {
	slog.Info("kafka reporter started",
		"brokers", r.config.Brokers,
		"topic", r.config.Topic,
		"batch_size", r.config.BatchSize,
		"batch_timeout", r.config.BatchTimeout,
		"compression", r.config.Compression,
		"encoding", r.config.Encoding,
	)
	return nil
}

// Stop stops the reporter.
func (r *KafkaReporter) Stop(ctx context.Context) error {
	if r.writer != nil {
		// Flush any pending messages
		if err := r.writer.Close(); err != nil {
			slog.Error("error closing kafka writer", "error", err)
			return err
		}
	}

	slog.Info("kafka reporter stopped",
		"total_reported", r.reportedCount.Load(),
		"total_errors", r.errorCount.Load(),
	)
	return nil
}

// Report sends a record to Kafka.
func (r *KafkaReporter) Report(ctx context.Context, rec *core.OutputRecord) error {
	return r.ReportBatch(ctx, []*core.OutputRecord{rec})
}

// ReportBatch sends records to Kafka in a single write.
func (r *KafkaReporter) ReportBatch(ctx context.Context, recs []*core.OutputRecord) error {
	msgs := make([]kafka.Message, 0, len(recs))
	for _, rec := range recs {
		msg, err := r.buildMessage(rec)
		if err != nil {
			r.errorCount.Add(1)
			return err
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		return nil
	}

	if err := r.writer.WriteMessages(ctx, msgs...); err != nil {
		r.errorCount.Add(uint64(len(msgs)))
		return fmt.Errorf("kafka write failed: %w", err)
	}

	r.reportedCount.Add(uint64(len(msgs)))
	return nil
}

// buildMessage converts an OutputRecord to a Kafka message keyed by session.
func (r *KafkaReporter) buildMessage(rec *core.OutputRecord) (kafka.Message, error) {
	if rec == nil {
		return kafka.Message{}, fmt.Errorf("nil record")
	}

	value, err := r.encoder.Encode(rec)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("serialize record failed: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(rec.SessionID),
		Value: value,
		Time:  rec.Timestamp,
	}

	// Kind, content type and labels travel as headers
	msg.Headers = make([]kafka.Header, 0, len(rec.Labels)+2)
	msg.Headers = append(msg.Headers,
		kafka.Header{Key: "kind", Value: []byte(rec.Kind)},
		kafka.Header{Key: "content-type", Value: []byte(r.encoder.ContentType())},
	)
	for k, v := range rec.Labels {
		msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return msg, nil
}

// Flush is a no-op: writes are synchronous, so Report returns after delivery.
func (r *KafkaReporter) Flush(ctx context.Context) error {
	return nil
}
