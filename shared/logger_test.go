package shared

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLoggerLevels(t *testing.T) {
	testCases := []struct {
		name    string
		config  LoggerConfig
		enabled zapcore.Level
		muted   zapcore.Level
	}{
		{"production defaults to info", LoggerConfig{ServiceName: "probe"}, zapcore.InfoLevel, zapcore.DebugLevel},
		{"development defaults to debug", LoggerConfig{ServiceName: "probe", Development: true}, zapcore.DebugLevel, zapcore.DebugLevel - 1},
		{"explicit level wins", LoggerConfig{ServiceName: "probe", Development: true, Level: "warn"}, zapcore.WarnLevel, zapcore.InfoLevel},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			l, err := NewLogger(tc.config)
			require.NoError(t, err)
			assert.True(t, l.Core().Enabled(tc.enabled))
			assert.False(t, l.Core().Enabled(tc.muted))
		})
	}
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	_, err := NewLogger(LoggerConfig{ServiceName: "probe", Level: "chatty"})
	assert.Error(t, err)
}

func TestNewLoggerFromEnv(t *testing.T) {
	t.Setenv("DEVELOPMENT", "true")
	t.Setenv("LOG_LEVEL", "error")

	l, err := NewLoggerFromEnv("probe")
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.ErrorLevel))
	assert.False(t, l.Core().Enabled(zapcore.WarnLevel))
}

func TestLoggerContextFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := WrapLogger(zap.New(core)).WithRun("run-1").WithTarget("kubernetes:443")

	l.Security("identity header honoured", zap.String("identity", "system:admin"))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	assert.Equal(t, "run-1", fields["run_id"])
	assert.Equal(t, "kubernetes:443", fields["target"])
	assert.Equal(t, "system:admin", fields["identity"])
	assert.Equal(t, true, fields["security_event"])

	// empty values leave the logger untouched
	assert.Same(t, l, l.WithRun(""))
	assert.Same(t, l, l.WithTarget(""))
}
