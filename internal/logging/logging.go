// Package logging builds the service logger.
package logging

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultBufferLines is how many recent log lines the buffer keeps.
const DefaultBufferLines = 1000

// Config selects the log level and outputs.
type Config struct {
	Level       string   `yaml:"level"`
	Development bool     `yaml:"development"`
	OutputPaths []string `yaml:"output_paths"`
	BufferLines int      `yaml:"buffer_lines"`
}

// New builds a JSON zap logger. Every entry is also written to the returned
// Buffer so recent logs can be served over HTTP.
func New(cfg Config) (*zap.Logger, *Buffer, error) {
	zapCfg := zap.NewProductionConfig()
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapCfg.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	zapCfg.Level = zap.NewAtomicLevelAt(ParseLevel(cfg.Level))
	if len(cfg.OutputPaths) > 0 {
		zapCfg.OutputPaths = cfg.OutputPaths
	}
	if cfg.Development {
		zapCfg.Sampling = nil
	}

	buf := NewBuffer(cfg.BufferLines)
	bufCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(zapCfg.EncoderConfig),
		buf,
		zapCfg.Level,
	)

	logger, err := zapCfg.Build(
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return zapcore.NewTee(core, bufCore)
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("build zap logger: %w", err)
	}
	return logger, buf, nil
}

// ParseLevel converts a level name, defaulting to info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// Buffer captures the most recent log lines in memory.
type Buffer struct {
	mu    sync.Mutex
	lines []string
	max   int
}

// NewBuffer keeps up to max lines, or DefaultBufferLines when max <= 0.
func NewBuffer(max int) *Buffer {
	if max <= 0 {
		max = DefaultBufferLines
	}
	return &Buffer{lines: make([]string, 0, max), max: max}
}

func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lines = append(b.lines, strings.TrimRight(string(p), "\n"))
	if len(b.lines) > b.max {
		b.lines = b.lines[len(b.lines)-b.max:]
	}
	return len(p), nil
}

// Sync implements zapcore.WriteSyncer.
func (b *Buffer) Sync() error { return nil }

// Lines returns a copy of the buffered lines, oldest first.
func (b *Buffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	logs := make([]string, len(b.lines))
	copy(logs, b.lines)
	return logs
}
