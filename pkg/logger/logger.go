// Package logger wraps logrus with request/engine trace-id propagation.
package logger

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type contextKey int

const traceIDKey contextKey = iota

// WithTraceID returns a context carrying traceID, retrievable with TraceID.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID returns the trace id stored in ctx, generating a fresh one if
// none is present.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok && v != "" {
		return v
	}
	return uuid.NewString()
}

// Config controls how a Logger renders output.
type Config struct {
	Level  string // debug|info|warn|error
	Format string // text|json
	Output io.Writer
}

// Logger is a service-scoped structured logger.
type Logger struct {
	*logrus.Logger
	service string
}

// New builds a Logger for service per cfg.
func New(service string, cfg Config) *Logger {
	l := logrus.New()
	l.SetLevel(parseLevel(cfg.Level))
	if strings.EqualFold(cfg.Format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if cfg.Output != nil {
		l.SetOutput(cfg.Output)
	} else {
		l.SetOutput(os.Stdout)
	}
	return &Logger{Logger: l, service: service}
}

// NewFromEnv builds a Logger reading LOG_LEVEL/LOG_FORMAT, defaulting to
// info/text.
func NewFromEnv(service string) *Logger {
	return New(service, Config{
		Level:  os.Getenv("LOG_LEVEL"),
		Format: os.Getenv("LOG_FORMAT"),
	})
}

func parseLevel(level string) logrus.Level {
	lvl, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// Entry is a logrus.Entry alias so callers outside this package never
// import logrus directly.
type Entry = logrus.Entry

// WithContext returns an Entry carrying the service name and the request's
// trace id, for request-scoped logging.
func (l *Logger) WithContext(ctx context.Context) *Entry {
	return l.WithFields(logrus.Fields{
		"service":  l.service,
		"trace_id": TraceID(ctx),
	})
}

// WithField is a convenience passthrough so callers can chain without first
// calling WithContext when no context is available (e.g. at startup).
func (l *Logger) WithField(key string, value any) *Entry {
	return l.Logger.WithField(key, value)
}
