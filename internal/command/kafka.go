package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/segmentio/kafka-go"

	"firestige.xyz/otrace/internal/config"
)

// KafkaCommand is the wire format for commands received via Kafka.
//
// Example JSON:
//
//	{
//	  "version":    "v1",
//	  "target":     "trace-host-01",
//	  "command":    "session_capture",
//	  "timestamp":  "2026-01-15T10:30:00Z",
//	  "request_id": "req-abc-123",
//	  "payload":    { "session_id": "20260115T103000-4" }
//	}
type KafkaCommand struct {
	Version   string          `json:"version"`    // Protocol version ("v1")
	Target    string          `json:"target"`     // Node name or "*" for broadcast
	Command   string          `json:"command"`    // Command name (e.g., "session_capture")
	Timestamp time.Time       `json:"timestamp"`  // When the command was issued
	RequestID string          `json:"request_id"` // Unique request ID for tracing
	Payload   json.RawMessage `json:"payload"`    // Command-specific parameters
}

// messageReader is the subset of *kafka.Reader the consumer uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// remoteMethods are the commands accepted from Kafka. Shutdown and reload stay local.
var remoteMethods = map[string]bool{
	MethodSessionList:    true,
	MethodSessionCapture: true,
	MethodSessionClose:   true,
	MethodDaemonStatus:   true,
	MethodDaemonStats:    true,
}

// KafkaCommandConsumer consumes commands from Kafka and dispatches to handler.
type KafkaCommandConsumer struct {
	cfg     config.CommandKafkaConfig
	target  string // local node name for target matching
	reader  messageReader
	handler *CommandHandler
	ttl     time.Duration // command TTL for stale-command rejection
	retry   time.Duration // pause after a fetch failure
	seen    *cache.Cache  // request IDs executed within the TTL
	closed  atomic.Bool
}

// NewKafkaCommandConsumer creates a Kafka command consumer.
func NewKafkaCommandConsumer(cfg config.CommandKafkaConfig, handler *CommandHandler) (*KafkaCommandConsumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if cfg.GroupID == "" {
		return nil, fmt.Errorf("group_id is required")
	}

	var startOffset int64
	switch cfg.AutoOffsetReset {
	case "earliest":
		startOffset = kafka.FirstOffset
	case "", "latest":
		startOffset = kafka.LastOffset
	default:
		return nil, fmt.Errorf("invalid auto_offset_reset %q", cfg.AutoOffsetReset)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		StartOffset:    startOffset,
		MinBytes:       1,
		MaxBytes:       10 << 20,
		CommitInterval: time.Second,
		MaxWait:        1 * time.Second,
	})
	return newKafkaCommandConsumer(cfg, reader, handler), nil
}

func newKafkaCommandConsumer(cfg config.CommandKafkaConfig, reader messageReader, handler *CommandHandler) *KafkaCommandConsumer {
	ttl := cfg.CommandTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	target := cfg.Target
	if target == "" {
		target, _ = os.Hostname()
	}
	return &KafkaCommandConsumer{
		cfg:     cfg,
		target:  target,
		reader:  reader,
		handler: handler,
		ttl:     ttl,
		retry:   5 * time.Second,
		seen:    cache.New(ttl, ttl),
	}
}

// Start consumes commands until ctx is cancelled.
func (c *KafkaCommandConsumer) Start(ctx context.Context) error {
	slog.Info("kafka command consumer started",
		"brokers", c.cfg.Brokers,
		"topic", c.cfg.Topic,
		"group_id", c.cfg.GroupID,
		"target", c.target,
		"ttl", c.ttl,
	)

	if c.closed.Load() {
		return fmt.Errorf("kafka command consumer is closed")
	}
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				slog.Info("kafka command consumer stopped", "reason", ctx.Err())
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) || c.closed.Load() {
				// Reader closed by Stop.
				return nil
			}
			slog.Error("failed to fetch kafka message", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retry):
				continue
			}
		}

		if err := c.processMessage(ctx, msg); err != nil {
			slog.Error("failed to process command",
				"error", err,
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
			)
		}

		// Failed commands are committed too; replaying them would fail again.
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			slog.Error("failed to commit message", "error", err)
		}
	}
}

// processMessage decodes, filters and executes one command.
func (c *KafkaCommandConsumer) processMessage(ctx context.Context, msg kafka.Message) error {
	var kCmd KafkaCommand
	if err := json.Unmarshal(msg.Value, &kCmd); err != nil {
		return fmt.Errorf("failed to parse kafka command: %w", err)
	}

	if kCmd.Target != "*" && kCmd.Target != "" && kCmd.Target != c.target {
		slog.Debug("skipping command not targeting this node",
			"target", kCmd.Target,
			"node", c.target,
			"request_id", kCmd.RequestID,
		)
		return nil
	}

	if !kCmd.Timestamp.IsZero() && time.Since(kCmd.Timestamp) > c.ttl {
		slog.Warn("skipping stale command",
			"command", kCmd.Command,
			"request_id", kCmd.RequestID,
			"age", time.Since(kCmd.Timestamp),
			"ttl", c.ttl,
		)
		return nil
	}

	if !remoteMethods[kCmd.Command] {
		return fmt.Errorf("command %q is not accepted over kafka", kCmd.Command)
	}

	// Redelivered messages carry the same request ID.
	if kCmd.RequestID != "" {
		if err := c.seen.Add(kCmd.RequestID, struct{}{}, cache.DefaultExpiration); err != nil {
			slog.Debug("skipping duplicate command", "command", kCmd.Command, "request_id", kCmd.RequestID)
			return nil
		}
	}

	slog.Info("received kafka command",
		"command", kCmd.Command,
		"request_id", kCmd.RequestID,
		"target", kCmd.Target,
		"version", kCmd.Version,
	)

	response := c.handler.Handle(ctx, Command{
		Method: kCmd.Command,
		Params: kCmd.Payload,
		ID:     kCmd.RequestID,
	})
	if response.Error != nil {
		return fmt.Errorf("command %s failed: %w", kCmd.Command, response.Error)
	}

	slog.Info("command executed successfully", "method", kCmd.Command, "request_id", kCmd.RequestID)
	return nil
}

// Stop closes the Kafka reader. It is safe to call more than once.
func (c *KafkaCommandConsumer) Stop() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	slog.Info("closing kafka command consumer")
	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("failed to close kafka reader: %w", err)
	}
	return nil
}
