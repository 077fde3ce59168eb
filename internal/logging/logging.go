// Package logging provides structured logging configuration.
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds logging configuration options.
type Config struct {
	Level  string // debug|info|warn|error
	Format string // json|console
}

// New creates a new configured zap logger.
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(strings.ToLower(cfg.Level)); err != nil {
			return nil, err
		}
	}

	format := strings.ToLower(cfg.Format)
	if format == "" {
		format = "json"
	}

	var zcfg zap.Config
	if format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}

	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.LevelKey = "level"
	zcfg.EncoderConfig.MessageKey = "msg"
	zcfg.EncoderConfig.CallerKey = "caller"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zcfg.Build(zap.AddCaller())
	if err != nil {
		return nil, err
	}

	return logger.With(zap.String("service", "netcap")), nil
}

// Sync flushes any buffered log entries.
func Sync(logger *zap.Logger) {
	_ = logger.Sync()
}

// FromEnv creates a Config from environment variables.
func FromEnv() Config {
	return Config{
		Level:  getenv("NETCAP_LOG_LEVEL", "info"),
		Format: getenv("NETCAP_LOG_FORMAT", "json"),
	}
}

func getenv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// Addr returns a zap field for a listen or dial address.
func Addr(addr string) zap.Field { return zap.String("addr", addr) }

// Conn returns a zap field for an observed connection identifier.
func Conn(id string) zap.Field { return zap.String("conn", id) }

// Target returns a zap field for a DevTools target identifier.
func Target(id string) zap.Field { return zap.String("target", id) }

// TxID returns a zap field for a transaction identifier.
func TxID(id string) zap.Field { return zap.String("tx", id) }

// Method returns a zap field for an HTTP method.
func Method(method string) zap.Field { return zap.String("method", method) }

// URL returns a zap field for a request URL.
func URL(u string) zap.Field { return zap.String("url", u) }

// Status returns a zap field for an HTTP status code.
func Status(code int) zap.Field { return zap.Int("status", code) }

// ContentType returns a zap field for a response content type.
func ContentType(ct string) zap.Field { return zap.String("content_type", ct) }

// Endpoint returns a zap field for the indexing endpoint.
func Endpoint(u string) zap.Field { return zap.String("endpoint", u) }

// Outcome returns a zap field for a transaction outcome.
func Outcome(o string) zap.Field { return zap.String("outcome", o) }

// Kind returns a zap field for an instrumentation event kind.
func Kind(k string) zap.Field { return zap.String("kind", k) }
