// Package logging builds the zap logger shared by every collector component.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New constructs a production JSON logger at the requested level. Components
// receive the logger by injection; there is no package-level global.
func New(level string) (*zap.Logger, error) {
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsed)
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger.Named("collector"), nil
}

// Nop returns a logger that drops everything; used by tests and as the
// fallback when a component is handed a nil logger.
func Nop() *zap.Logger {
	return zap.NewNop()
}

// OrNop returns the supplied logger, or a no-op logger when it is nil, so
// components never have to guard individual log calls.
func OrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return Nop()
	}
	return logger
}
