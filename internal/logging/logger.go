// Package logging provides zap logger helpers.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hawkcrawl/scout/internal/telemetry/ring"
)

// New builds a zap.Logger configured for development or production. The
// returned logger also tees every record into a bounded ring buffer so
// recent records can be served back to callers without a log aggregator.
// buf may be nil, in which case no ring tee is installed.
func New(development bool, buf *ring.Buffer) (*zap.Logger, error) {
	if development {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		logger, err := buildWithRing(cfg, buf)
		if err != nil {
			return nil, fmt.Errorf("build dev logger: %w", err)
		}
		return logger, nil
	}
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = false
	cfg.EncoderConfig.TimeKey = "ts"
	logger, err := buildWithRing(cfg, buf)
	if err != nil {
		return nil, fmt.Errorf("build prod logger: %w", err)
	}
	return logger, nil
}

func buildWithRing(cfg zap.Config, buf *ring.Buffer) (*zap.Logger, error) {
	if buf == nil {
		return cfg.Build()
	}
	return cfg.Build(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, ring.NewCore(buf, cfg.Level))
	}))
}
