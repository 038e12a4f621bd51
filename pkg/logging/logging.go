package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/canopy-network/mutualpool/pkg/utils"
)

// Config is what New reads from the environment.
type Config struct {
	Level    string // LOG_LEVEL, default debug
	Encoding string // LOG_ENCODING, json or console
	Output   string // LOG_OUTPUT, default stdout
}

// FromEnv reads Config from LOG_LEVEL, LOG_ENCODING and LOG_OUTPUT.
func FromEnv() Config {
	return Config{
		Level:    utils.Env("LOG_LEVEL", "debug"),
		Encoding: utils.Env("LOG_ENCODING", "json"),
		Output:   utils.Env("LOG_OUTPUT", "stdout"),
	}
}

// New builds the process logger from the environment.
// service is attached to every entry so API and reporter logs can share a sink.
func New(service string) (*zap.Logger, error) {
	return Build(FromEnv(), service)
}

// Build turns cfg into a logger. An unknown level falls back to info.
func Build(cfg Config, service string) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.Development = level == zapcore.DebugLevel
	zc.OutputPaths = []string{cfg.Output}
	zc.ErrorOutputPaths = []string{"stderr"}
	zc.EncoderConfig.TimeKey = "ts"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	switch cfg.Encoding {
	case "", "json":
		zc.Encoding = "json"
	case "console":
		zc.Encoding = "console"
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return nil, fmt.Errorf("unknown log encoding %q", cfg.Encoding)
	}

	if service != "" {
		zc.InitialFields = map[string]interface{}{"service": service}
	}
	return zc.Build()
}
