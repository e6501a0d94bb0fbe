package system

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewTestLogger(t *testing.T) {
	logger := NewTestLogger()
	require.NotNil(t, logger)

	// Verify it's a sugared logger that can log without panicking
	logger.Info("test message")
	logger.Infow("test message with fields", "key", "value")
}

func TestNewObservedLogger(t *testing.T) {
	logger, logs := NewObservedLogger(zapcore.InfoLevel)
	require.NotNil(t, logger)
	require.NotNil(t, logs)

	logger.Info("recorded", zap.String("key", "value"))
	logger.Debug("below level")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "recorded", entries[0].Message)
	assert.Equal(t, "value", entries[0].ContextMap()["key"])
}
