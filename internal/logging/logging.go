// Package logging builds the ambient structured logger used internally by
// the cache (distinct from the public Options.DebugOutput hook, which
// receives one formatted line per diagnostic event). Grounded on
// FlashDB's config.Config.LogLevel field, here wired to go.uber.org/zap
// instead of FlashDB's own log/slog handler, since zap is the
// structured-logging dependency this pack otherwise carries.
package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap.Logger at the given level name ("debug", "info", "warn",
// "error"; unrecognized values, including "", fall back to "info"). A nil
// *zap.Logger is never returned, and the returned logger always writes at
// or above its level. To disable logging, use Nop, or leave Options.Logger
// nil so that Options.Normalize installs a no-op logger (see root package
// options.go).
func New(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	cfg.Encoding = "console"
	cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()

	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// Nop returns a logger that discards everything, used when the caller
// supplies no Options.Logger.
func Nop() *zap.Logger { return zap.NewNop() }

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
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
