// Package logger builds the process-wide zap logger.
package logger

import (
	"fmt"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"os"
	"path/filepath"
	"strings"
)

// Config controls verbosity, encoding and destinations.
type Config struct {
	// Level is one of DEBUG, INFO, WARN, WARNING, ERROR, CRITICAL (any case).
	Level string
	// FilePath receives a copy of every entry when set. The file is opened in append mode.
	FilePath string
	// Development switches to the colored console encoder.
	Development bool
}

// ParseLevel maps the sidecar level names onto zap levels.
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return zapcore.DebugLevel, nil
	case "", "INFO":
		return zapcore.InfoLevel, nil
	case "WARN", "WARNING":
		return zapcore.WarnLevel, nil
	case "ERROR":
		return zapcore.ErrorLevel, nil
	case "CRITICAL":
		return zapcore.DPanicLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

// New creates a logger writing to stdout and, when cfg.FilePath is set, to that file.
func New(cfg Config) (*zap.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	encoder := newEncoder(cfg.Development)

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level),
	}
	if cfg.FilePath != "" {
		file, err := openLogFile(cfg.FilePath)
		if err != nil {
			return nil, err
		}
		// the file never gets terminal colors
		cores = append(cores, zapcore.NewCore(newFileEncoder(cfg.Development), zapcore.Lock(file), level))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddStacktrace(zapcore.DPanicLevel))
	if cfg.Development {
		logger = logger.WithOptions(zap.AddCaller(), zap.Development())
	}
	return logger, nil
}

// NewStdout builds a stdout-only logger. It is the fallback when the log file
// cannot be opened, and never fails: an invalid level falls back to INFO.
func NewStdout(cfg Config) *zap.Logger {
	cfg.FilePath = ""
	logger, err := New(cfg)
	if err != nil {
		cfg.Level = "INFO"
		logger, _ = New(cfg)
	}
	return logger
}

// openLogFile creates the parent directory and opens path for appending.
func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return file, nil
}

// encoderConfig uses the ECS-style keys shared by every JSON entry.
func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "@timestamp"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.LevelKey = "log.level"
	cfg.MessageKey = "message"
	cfg.CallerKey = "caller"
	return cfg
}

// newEncoder picks the stdout encoder: JSON, or colored console in development.
func newEncoder(development bool) zapcore.Encoder {
	if !development {
		return zapcore.NewJSONEncoder(encoderConfig())
	}
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zapcore.NewConsoleEncoder(cfg)
}

// newFileEncoder picks the file encoder, which never carries terminal colors.
func newFileEncoder(development bool) zapcore.Encoder {
	if !development {
		return zapcore.NewJSONEncoder(encoderConfig())
	}
	return zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
}
