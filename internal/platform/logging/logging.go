// Package logging provides structured logging with job/source correlation,
// matching the shape of spec §4.8's tracing spans.
package logging

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ContextKey is the type for context keys this package owns.
type ContextKey string

const (
	JobIDKey      ContextKey = "job_id"
	SourceIDKey   ContextKey = "source_id"
	StreamKindKey ContextKey = "stream_kind"
	TraceIDKey    ContextKey = "trace_id"
)

// Logger wraps logrus.Logger with a fixed component field.
type Logger struct {
	*logrus.Logger
	component string
}

// New builds a Logger for the named component at the given level/format.
func New(component, level, format string) *Logger {
	logger := logrus.New()

	parsedLevel, err := logrus.ParseLevel(level)
	if err != nil {
		parsedLevel = logrus.InfoLevel
	}
	logger.SetLevel(parsedLevel)

	if format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	}
	logger.SetOutput(os.Stdout)

	return &Logger{Logger: logger, component: component}
}

// NewFromEnv builds a Logger using LOG_LEVEL/LOG_FORMAT, defaulting to
// info/json.
func NewFromEnv(component string) *Logger {
	level := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if level == "" {
		level = "info"
	}
	format := strings.TrimSpace(os.Getenv("LOG_FORMAT"))
	if format == "" {
		format = "json"
	}
	return New(component, level, format)
}

// WithContext returns a logrus.Entry carrying whatever correlation fields
// are present on ctx.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("component", l.component)
	if v := ctx.Value(JobIDKey); v != nil {
		entry = entry.WithField("job_id", v)
	}
	if v := ctx.Value(SourceIDKey); v != nil {
		entry = entry.WithField("source_id", v)
	}
	if v := ctx.Value(StreamKindKey); v != nil {
		entry = entry.WithField("stream_kind", v)
	}
	if v := ctx.Value(TraceIDKey); v != nil {
		entry = entry.WithField("trace_id", v)
	}
	return entry
}

// WithFields attaches the component field plus the given extra fields.
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	if fields == nil {
		fields = logrus.Fields{}
	}
	fields["component"] = l.component
	return l.Logger.WithFields(fields)
}

// WithJob returns a context carrying job/source/stream correlation fields
// for later retrieval via WithContext.
func WithJob(ctx context.Context, jobID, sourceID, streamKind string) context.Context {
	ctx = context.WithValue(ctx, JobIDKey, jobID)
	ctx = context.WithValue(ctx, SourceIDKey, sourceID)
	ctx = context.WithValue(ctx, StreamKindKey, streamKind)
	return ctx
}

// LogSync emits a structured line summarizing a completed sync attempt.
func (l *Logger) LogSync(ctx context.Context, sourceID, streamKind, mode, status string, fetched, written, failed int, duration time.Duration, errClass string) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"source_id":       sourceID,
		"stream_kind":     streamKind,
		"mode":            mode,
		"status":          status,
		"records_fetched": fetched,
		"records_written": written,
		"records_failed":  failed,
		"duration_ms":     duration.Milliseconds(),
	})
	if errClass != "" {
		entry = entry.WithField("error_class", errClass)
		entry.Warn("sync completed with error")
		return
	}
	entry.Info("sync completed")
}

// LogHTTPRequest logs an inbound HTTP request outcome.
func (l *Logger) LogHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"method":      method,
		"path":        path,
		"status_code": status,
		"duration_ms": duration.Milliseconds(),
	}).Info("http request")
}
