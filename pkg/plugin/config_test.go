package plugin

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

func TestDecodeConfig(t *testing.T) {
	var cfg sampleConfig
	err := DecodeConfig(map[string]any{
		"brokers":       "k1:9092,k2:9092",
		"topic":         "otrace-spans",
		"batch_size":    "500",
		"batch_timeout": "250ms",
	}, &cfg)
	require.NoError(t, err)

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Brokers)
	assert.Equal(t, "otrace-spans", cfg.Topic)
	assert.Equal(t, 500, cfg.BatchSize)
	assert.Equal(t, 250*time.Millisecond, cfg.BatchTimeout)
}

func TestDecodeConfig_UnknownKey(t *testing.T) {
	var cfg sampleConfig
	err := DecodeConfig(map[string]any{"topc": "typo"}, &cfg)
	assert.Error(t, err)
}

func TestDecodeConfig_NilMap(t *testing.T) {
	cfg := sampleConfig{Topic: "default"}
	require.NoError(t, DecodeConfig(nil, &cfg))
	assert.Equal(t, "default", cfg.Topic)
}
