// logging/logging.go
package logging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// BootstrapLogger returns a development logger for use before config is
// loaded. It writes to stderr.
func BootstrapLogger() *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)

	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// ValidLogLevels lists the accepted log_level values.
var ValidLogLevels = []string{"debug", "info", "warn", "error", "dpanic", "panic", "fatal"}

// IsValidLogLevel reports whether level is one of ValidLogLevels,
// ignoring case.
func IsValidLogLevel(level string) bool {
	return slices.Contains(ValidLogLevels, strings.ToLower(level))
}

// BuildLogger constructs a logger for level and env. "prod" gets the JSON
// encoder; anything else gets the development console encoder. An invalid
// level falls back to info with a warning on stderr.
func BuildLogger(level, env string) (*zap.Logger, error) {
	cfg, lvl := baseConfig(level, env)
	cfg.Level = lvl
	return cfg.Build()
}

// MustBuildLogger is BuildLogger for main(); it exits on failure.
func MustBuildLogger(level, env string) *zap.Logger {
	logger, err := BuildLogger(level, env)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to build logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	return logger
}

func baseConfig(level, env string) (zap.Config, zap.AtomicLevel) {
	var cfg zap.Config
	if env == "prod" {
		cfg = zap.NewProductionConfig()
		cfg.Encoding = "json"
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	lvl := zap.NewAtomicLevelAt(zap.InfoLevel)
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		_, _ = os.Stderr.WriteString("WARNING: invalid log level \"" + level +
			"\"; valid levels are: " + strings.Join(ValidLogLevels, ", ") + ". Defaulting to \"info\".\n")
		lvl = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg, lvl
}

// Sink owns the application logger and, when configured, the log file it
// tees into. The application closes it as its final shutdown step.
type Sink struct {
	logger *zap.Logger
	level  zap.AtomicLevel
	file   *os.File

	closeOnce sync.Once
	closeErr  error
}

// SinkOptions configures NewSink.
type SinkOptions struct {
	Level string
	Env   string
	// File, when set, receives a JSON copy of every entry. Parent
	// directories are created.
	File string
}

// NewSink builds a logger according to opts.
func NewSink(opts SinkOptions) (*Sink, error) {
	cfg, lvl := baseConfig(opts.Level, opts.Env)
	cfg.Level = lvl

	s := &Sink{level: lvl}
	var buildOpts []zap.Option
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		s.file = f

		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(f), lvl)
		buildOpts = append(buildOpts, zap.WrapCore(func(c zapcore.Core) zapcore.Core {
			return zapcore.NewTee(c, fileCore)
		}))
	}

	logger, err := cfg.Build(buildOpts...)
	if err != nil {
		if s.file != nil {
			_ = s.file.Close()
		}
		return nil, err
	}
	s.logger = logger
	return s, nil
}

// NewSinkFromLogger wraps an existing logger. Close only syncs it.
func NewSinkFromLogger(logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{logger: logger, level: zap.NewAtomicLevelAt(zap.InfoLevel)}
}

// Logger returns the sink's logger.
func (s *Sink) Logger() *zap.Logger { return s.logger }

// Named returns a child logger scoped to a component name.
func (s *Sink) Named(name string) *zap.Logger { return s.logger.Named(name) }

// SetLevel changes the level at runtime. It has no effect on sinks built
// with NewSinkFromLogger.
func (s *Sink) SetLevel(level string) error {
	return s.level.UnmarshalText([]byte(strings.ToLower(level)))
}

// Close flushes buffered entries and closes the log file. It is safe to
// call more than once.
func (s *Sink) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if err := s.logger.Sync(); err != nil && !ignorableSyncError(err) {
			errs = append(errs, err)
		}
		if s.file != nil {
			if err := s.file.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

// Syncing stderr on some platforms returns EINVAL or ENOTTY.
func ignorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "invalid argument") ||
		strings.Contains(msg, "inappropriate ioctl")
}
