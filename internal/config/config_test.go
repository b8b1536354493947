package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ":8087", cfg.Server.Addr)
	assert.Equal(t, 1024, cfg.Engine.QueueSize)
	assert.Equal(t, 2*time.Second, cfg.Engine.SubmitTimeout)
	assert.Equal(t, time.Minute, cfg.Sweeper.Interval)
	assert.False(t, cfg.Redis.Enabled)
	assert.False(t, cfg.Kafka.Enabled)
	assert.Equal(t, "gridmatch.matches", cfg.Kafka.Topic)
	assert.Equal(t, 0.0, cfg.Settlement.FeeRate)
	assert.Equal(t, 500*time.Millisecond, cfg.Settlement.InitialBackoff)
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gridmatch.yaml")
	data := []byte(`
log_level: debug
server:
  addr: ":9000"
settlement:
  fee_rate: 0.02
sweeper:
  interval: 15s
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, 0.02, cfg.Settlement.FeeRate)
	assert.Equal(t, 15*time.Second, cfg.Sweeper.Interval)
	assert.Equal(t, 1024, cfg.Engine.QueueSize, "defaults fill the gaps")
}
