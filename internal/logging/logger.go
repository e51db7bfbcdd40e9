// Package logging builds the process zap logger and its gin request middleware.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Redacted replaces the value of masked fields
const Redacted = "***REDACTED***"

// Config defines logger configuration
type Config struct {
	Level    string
	Format   string // json or console
	Output   string // stdout, stderr or file
	FilePath string
	// Writer overrides Output, used by tests
	Writer io.Writer

	MaskPII   bool
	PIIFields []string

	SlowRequestThreshold time.Duration

	MaxSize    int // MB
	MaxBackups int
	MaxAge     int // days
}

// New builds a logger from cfg
func New(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zapcore.InfoLevel
	}

	sink, err := openSink(cfg)
	if err != nil {
		return nil, err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if cfg.Format == "console" {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	var core zapcore.Core = zapcore.NewCore(encoder, sink, level)
	if cfg.MaskPII && len(cfg.PIIFields) > 0 {
		core = NewMaskingCore(core, cfg.PIIFields)
	}

	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

func openSink(cfg Config) (zapcore.WriteSyncer, error) {
	if cfg.Writer != nil {
		return zapcore.AddSync(cfg.Writer), nil
	}

	switch cfg.Output {
	case "", "stdout":
		return zapcore.Lock(os.Stdout), nil
	case "stderr":
		return zapcore.Lock(os.Stderr), nil
	case "file":
		if cfg.FilePath == "" {
			return nil, fmt.Errorf("file path required for file output")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		return zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
		}), nil
	default:
		return nil, fmt.Errorf("unknown log output %q", cfg.Output)
	}
}

// maskingCore replaces configured PII fields before they reach the encoder
type maskingCore struct {
	zapcore.Core
	fields map[string]struct{}
}

// NewMaskingCore wraps core so fields named in piiFields are logged as Redacted
func NewMaskingCore(core zapcore.Core, piiFields []string) zapcore.Core {
	set := make(map[string]struct{}, len(piiFields))
	for _, f := range piiFields {
		set[f] = struct{}{}
	}
	return &maskingCore{Core: core, fields: set}
}

func (c *maskingCore) mask(fields []zapcore.Field) []zapcore.Field {
	out := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		if _, ok := c.fields[f.Key]; ok {
			out[i] = zap.String(f.Key, Redacted)
			continue
		}
		out[i] = f
	}
	return out
}

func (c *maskingCore) With(fields []zapcore.Field) zapcore.Core {
	return &maskingCore{Core: c.Core.With(c.mask(fields)), fields: c.fields}
}

func (c *maskingCore) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return ce.AddCore(entry, c)
	}
	return ce
}

func (c *maskingCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	return c.Core.Write(entry, c.mask(fields))
}

// MaskFields returns a copy of m with PII keys replaced by Redacted
func MaskFields(m map[string]interface{}, piiFields []string) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	for _, f := range piiFields {
		if _, ok := out[f]; ok {
			out[f] = Redacted
		}
	}
	return out
}

type contextKey string

const requestIDKey contextKey = "request_id"

// RequestIDKey is the gin context key holding the request id
const RequestIDKey = "request_id"

// WithRequestID stores a request id on ctx
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFrom returns the request id stored on ctx
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// FromContext returns logger annotated with the request id on ctx
func FromContext(ctx context.Context, logger *zap.Logger) *zap.Logger {
	if id := RequestIDFrom(ctx); id != "" {
		return logger.With(zap.String("request_id", id))
	}
	return logger
}
