// Package logging builds the process-wide zap logger. Every component
// receives the logger through its config struct; nothing logs through a
// global.
package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Environment names understood by NewLogger.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

const serviceName = "steeple-api"

// NewLogger builds the process logger: human-readable console output in
// development, JSON in production. Every entry carries the service name so
// aggregated logs stay attributable.
func NewLogger(environment, level string) (*zap.Logger, error) {
	var cfg zap.Config
	if strings.EqualFold(strings.TrimSpace(environment), EnvDevelopment) {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	cfg.InitialFields = map[string]any{"service": serviceName}
	return cfg.Build()
}

// parseLevel maps the configured level name onto a zap level. Unknown names
// fall back to info rather than failing startup.
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
