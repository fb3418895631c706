package plugins

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/otrace/pkg/plugin"
)

func TestBuiltinReportersRegistered(t *testing.T) {
	assert.Equal(t, []string{"console", "file", "kafka", "log", "udp"}, plugin.ListReporters())

	for _, name := range plugin.ListReporters() {
		f, err := plugin.GetReporterFactory(name)
		require.NoError(t, err)
		assert.Equal(t, name, f().Name())
	}
}
