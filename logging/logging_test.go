package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("DEBUG")
	require.NoError(t, err)
	require.Equal(t, zapcore.DebugLevel, lvl)

	_, err = ParseLevel("chatty")
	require.Error(t, err)
}

func TestNew(t *testing.T) {
	for _, f := range []Format{Console, JSON, ""} {
		log, err := New(Config{Level: "warn", Format: f, Name: "test"})
		require.NoError(t, err)
		require.False(t, log.Core().Enabled(zapcore.InfoLevel))
		require.True(t, log.Core().Enabled(zapcore.ErrorLevel))
	}

	_, err := New(Config{Level: "info", Format: "xml"})
	require.Error(t, err)
}
