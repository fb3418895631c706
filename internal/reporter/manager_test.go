package reporter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/otrace/internal/config"
	"firestige.xyz/otrace/internal/core"
)

func TestManagerLifecycle(t *testing.T) {
	m, err := NewManager([]config.ReporterConfig{
		{Name: "test-collect", Config: map[string]any{"k": "v"}},
	})
	require.NoError(t, err)
	rep := lastInstance("test-collect")
	require.NotNil(t, rep)
	assert.Equal(t, "v", rep.initCfg["k"])

	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	assert.True(t, rep.started)
	assert.Equal(t, []string{"test-collect"}, m.Names())

	reporters := m.Reporters()
	require.Len(t, reporters, 1)
	require.NoError(t, reporters[0].Report(ctx, makeRecord(1)))
	require.NoError(t, m.Flush(ctx))
	assert.Len(t, rep.snapshot(), 1)

	require.NoError(t, m.Stop(ctx))
	assert.True(t, rep.stopped)
	assert.ErrorIs(t, reporters[0].Report(ctx, makeRecord(2)), core.ErrServerStopped)
}

func TestManagerUnknownReporter(t *testing.T) {
	_, err := NewManager([]config.ReporterConfig{{Name: "no-such-reporter"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrReporterNotFound)
}

func TestManagerInitFailure(t *testing.T) {
	_, err := NewManager([]config.ReporterConfig{{Name: "test-fail-init"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
}

func TestManagerStartFailureStopsStarted(t *testing.T) {
	m, err := NewManager([]config.ReporterConfig{
		{Name: "test-collect"},
		{Name: "test-fail-start"},
	})
	require.NoError(t, err)
	first := lastInstance("test-collect")

	err = m.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
	assert.True(t, first.stopped)
}

func TestManagerFallback(t *testing.T) {
	m, err := NewManager([]config.ReporterConfig{
		{Name: "test-broken", Fallback: "test-backup"},
		{Name: "test-backup"},
	})
	require.NoError(t, err)
	backup := lastInstance("test-backup")

	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	broken := m.Reporters()[0]
	require.NoError(t, broken.Report(ctx, makeRecord(1)))
	require.NoError(t, m.Flush(ctx))

	assert.Len(t, backup.snapshot(), 1)
	require.NoError(t, m.Stop(ctx))
}

func TestManagerUnknownFallback(t *testing.T) {
	_, err := NewManager([]config.ReporterConfig{{Name: "test-collect", Fallback: "missing"}})
	assert.Error(t, err)
}

func TestManagerEmpty(t *testing.T) {
	m, err := NewManager(nil)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	assert.Empty(t, m.Reporters())
	assert.NoError(t, m.Flush(ctx))
	assert.NoError(t, m.Stop(ctx))
}
