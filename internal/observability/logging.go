package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// LogConfig configures structured logging.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error".
	Level string `yaml:"level" json:"level"`

	// Format is "json" (production) or "text" (development).
	Format string `yaml:"format" json:"format"`

	// Output defaults to os.Stdout.
	Output io.Writer `yaml:"-" json:"-"`

	// AddSource includes file and line in log records.
	AddSource bool `yaml:"add_source" json:"add_source"`
}

// redactPatterns matches credentials that must never reach log output.
var redactPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{95,}`),
	regexp.MustCompile(`sk-[a-zA-Z0-9]{48,}`),
	regexp.MustCompile(`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`),
	regexp.MustCompile(`(?i)(authorization|token|password|secret)[\s:=]+\S{8,}`),
}

// NewLogger builds a slog.Logger with level, format and credential redaction
// applied. Invalid levels fall back to info.
func NewLogger(config LogConfig) *slog.Logger {
	if config.Output == nil {
		config.Output = os.Stdout
	}

	var level slog.Level
	switch strings.ToLower(config.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:       level,
		AddSource:   config.AddSource,
		ReplaceAttr: redactAttr,
	}

	var handler slog.Handler
	if strings.ToLower(config.Format) == "text" {
		handler = slog.NewTextHandler(config.Output, opts)
	} else {
		handler = slog.NewJSONHandler(config.Output, opts)
	}

	return slog.New(handler)
}

func redactAttr(_ []string, attr slog.Attr) slog.Attr {
	if attr.Value.Kind() != slog.KindString {
		return attr
	}
	value := attr.Value.String()
	for _, re := range redactPatterns {
		value = re.ReplaceAllString(value, "[REDACTED]")
	}
	attr.Value = slog.StringValue(value)
	return attr
}

// RequestIDKey is the context key carrying the per-request correlation ID.
type contextKey string

// RequestIDKey holds the correlation ID attached to a single inbound turn.
const RequestIDKey contextKey = "request_id"

// WithRequestID stores a correlation ID on the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// RequestID extracts the correlation ID, or "" when absent.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}
