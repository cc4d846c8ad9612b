package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLoggerHonorsConfiguredLevel(t *testing.T) {
	logger, err := NewLogger(EnvProduction, "warn")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatalf("info entries should be suppressed at warn level")
	}
	if !logger.Core().Enabled(zapcore.WarnLevel) {
		t.Fatalf("warn entries should be enabled at warn level")
	}
}

func TestNewLoggerUnknownLevelFallsBackToInfo(t *testing.T) {
	logger, err := NewLogger(EnvProduction, "chatty")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("debug entries should stay suppressed for an unknown level")
	}
	if !logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatalf("info entries should be enabled for an unknown level")
	}
}

func TestNewLoggerDevelopmentEnvironmentBuilds(t *testing.T) {
	logger, err := NewLogger(" Development ", "debug")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("debug entries should be enabled when configured")
	}
}
