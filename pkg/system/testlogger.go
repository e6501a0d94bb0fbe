package system

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// NewTestLogger returns a sugared logger for tests: development encoding
// with stacktraces disabled so failing tests stay readable.
func NewTestLogger() *zap.SugaredLogger {
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableStacktrace = true
	logger, _ := cfg.Build()
	return logger.Sugar()
}

// NewObservedLogger returns a logger recording every entry at or above
// the given level, together with the recorded entries, for tests that
// assert on log output.
func NewObservedLogger(level zapcore.Level) (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return zap.New(core), logs
}
