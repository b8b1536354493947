package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLoggerLevels(t *testing.T) {
	l, err := NewLogger("debug")
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))

	l, err = NewLogger("warn")
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.WarnLevel))
}

func TestNewLoggerLevelFallback(t *testing.T) {
	l, err := NewLogger("nonsense")
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
}

func TestNewLoggerLevelFromEnv(t *testing.T) {
	t.Setenv("GRIDMATCH_LOG_LEVEL", "error")
	l, err := NewLogger("")
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.WarnLevel))
	assert.True(t, l.Core().Enabled(zapcore.ErrorLevel))
}
