// Package logging builds the zap logger shared by every sb command. Output
// goes to a file (or stderr) and never to stdout, which hook commands use
// for their JSON protocol.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/zulandar/signalbox/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Stderr selects standard error instead of a log file.
const Stderr = "stderr"

// New builds a JSON logger at cfg.Level writing to cfg.File.
func New(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("logging: level %q: %w", cfg.Level, err)
	}

	out := cfg.File
	if out == "" {
		out = Stderr
	}
	if out != Stderr {
		if err := os.MkdirAll(filepath.Dir(out), 0o700); err != nil {
			return nil, fmt.Errorf("logging: create log dir: %w", err)
		}
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.Sampling = nil
	zc.EncoderConfig.TimeKey = "ts"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.OutputPaths = []string{out}
	zc.ErrorOutputPaths = []string{out}

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("logging: build: %w", err)
	}
	return logger.With(zap.Int("pid", os.Getpid())), nil
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
