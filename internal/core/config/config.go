// Package config provides configuration management for the Quill engine and
// its CLI.
package config

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EngineConfig holds configuration for policy loading and query evaluation.
type EngineConfig struct {
	PolicyPath       string
	LatticePath      string
	DatabaseURL      string
	LogLevel         string
	LogFormat        string
	SubtypeCacheSize int
	WatchPolicy      bool
}

// DefaultEngineConfig returns configuration with default values.
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		LogLevel:         "info",
		LogFormat:        "json",
		SubtypeCacheSize: 1024,
	}
}

// Validate checks level/format names and cache bounds.
func (c *EngineConfig) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("log_format must be json or text, got %q", c.LogFormat)
	}
	if c.SubtypeCacheSize < 0 {
		return fmt.Errorf("subtype_cache_size must be non-negative, got %d", c.SubtypeCacheSize)
	}
	return nil
}

// BuildLogger constructs a zap logger from the configured level and format.
func (c *EngineConfig) BuildLogger() (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.Set(c.LogLevel); err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	if c.LogFormat == "text" {
		zc.Encoding = "console"
		zc.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	zc.DisableStacktrace = true

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}
