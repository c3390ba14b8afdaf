// Package obs is the observability surface: structured logging,
// Prometheus metrics, HTTP health/metrics endpoints, the health
// monitor, and the queue monitor.
package obs

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a zap logger. format "json" (prod) encodes structured
// JSON; anything else (dev default) uses a human-readable console
// encoder. Every record carries service/version/environment/hostname/pid
// fields so log aggregation can correlate across processes.
func NewLogger(level, format, service, version, environment string) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	switch strings.ToLower(level) {
	case "debug":
		lvl = zapcore.DebugLevel
	case "warn":
		lvl = zapcore.WarnLevel
	case "error":
		lvl = zapcore.ErrorLevel
	case "fatal":
		lvl = zapcore.FatalLevel
	}

	var cfg zap.Config
	if strings.ToLower(format) == "json" {
		cfg = zap.NewProductionConfig()
		cfg.Encoding = "json"
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.Encoding = "console"
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return &redactingCore{Core: c}
	}))
	if err != nil {
		return nil, err
	}

	host, _ := os.Hostname()
	return logger.With(
		zap.String("service", service),
		zap.String("version", version),
		zap.String("environment", environment),
		zap.String("hostname", host),
		zap.Int("pid", os.Getpid()),
	), nil
}

// Convenience typed fields.
func String(k, v string) zap.Field  { return zap.String(k, v) }
func Int(k string, v int) zap.Field { return zap.Int(k, v) }
func Bool(k string, v bool) zap.Field { return zap.Bool(k, v) }
func Err(err error) zap.Field        { return zap.Error(err) }
