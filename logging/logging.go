// Package logging builds the zap loggers used by the relay daemon.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Format selects the log encoding.
type Format string

const (
	Console Format = "console"
	JSON    Format = "json"
)

// Config describes a logger.
type Config struct {
	Level  string
	Format Format
	// Name is the root logger name; components add their own.
	Name string
}

// DefaultConfig logs info and above to stderr for humans.
func DefaultConfig() Config {
	return Config{Level: "info", Format: Console, Name: "relayd"}
}

// ParseLevel maps a level name to a zap level.
func ParseLevel(s string) (zapcore.Level, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
		return lvl, fmt.Errorf("logging: unknown level %q", s)
	}
	return lvl, nil
}

// New builds a logger writing to stderr.
func New(cfg Config) (*zap.Logger, error) {
	lvl, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var zc zap.Config
	switch cfg.Format {
	case JSON:
		zc = zap.NewProductionConfig()
	case Console, "":
		zc = zap.NewDevelopmentConfig()
		zc.Development = false
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return nil, fmt.Errorf("logging: unknown format %q", cfg.Format)
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.DisableStacktrace = lvl > zapcore.DebugLevel

	log, err := zc.Build()
	if err != nil {
		return nil, err
	}
	if cfg.Name != "" {
		log = log.Named(cfg.Name)
	}
	return log, nil
}
