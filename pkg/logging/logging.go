// Package logging builds the zap loggers used by the CLI and server.
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/logflow/dfgflow/pkg/errors"
)

// New returns a logger writing to stderr. format is "json" for structured
// output or "console" for human-readable lines.
func New(level, format string) (*zap.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(format) {
	case "json":
		config := zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(lvl)
		config.OutputPaths = []string{"stderr"}
		config.ErrorOutputPaths = []string{"stderr"}
		return config.Build()
	case "", "console":
		encoderCfg := zap.NewDevelopmentEncoderConfig()
		encoderCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		core := zapcore.NewCore(
			zapcore.NewConsoleEncoder(encoderCfg),
			zapcore.Lock(os.Stderr),
			lvl,
		)
		return zap.New(core), nil
	default:
		return nil, errors.Newf(errors.CodeInvalidFormat, "unknown log format %q", format)
	}
}

// ParseLevel maps a level name onto a zap level. Empty means info.
func ParseLevel(level string) (zapcore.Level, error) {
	if level == "" {
		return zapcore.InfoLevel, nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return lvl, errors.Newf(errors.CodeInvalidFormat, "unknown log level %q", level)
	}
	return lvl, nil
}

// Nop returns a logger that discards everything.
func Nop() *zap.Logger {
	return zap.NewNop()
}
