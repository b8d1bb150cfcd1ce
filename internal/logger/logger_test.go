package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Config{Level: "chatty", Format: "json"})
	assert.Error(t, err)
}

func TestNewConsole(t *testing.T) {
	l, err := New(Config{Level: "debug", Format: "console"})
	require.NoError(t, err)
	require.NotNil(t, l.Logger)
}

func TestLogDetectionOmitsText(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := Wrap(zap.New(core)).WithComponent("privacy")

	l.LogDetection("local", map[string]int{"EMAIL": 2, "CREDIT_CARD": 1}, false)

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "privacy", fields["component"])
	assert.Equal(t, int64(3), fields["detections"])
	assert.Equal(t, []interface{}{"CREDIT_CARD", "EMAIL"}, fields["types"])
}

func TestWrapNil(t *testing.T) {
	l := Wrap(nil)
	require.NotNil(t, l.Logger)
	l.Info("noop")
}
