// Package tracing provides the structured span abstraction spec §4.8 calls
// for around every sync, transform, and OAuth call. It is an interface, not
// an OpenTelemetry wiring, so business logic never depends on a particular
// exporter; the implementations here are a no-op and one that logs span
// start/end via logging.Logger.
package tracing

import (
	"context"
	"time"
)

// Tracer starts a span and returns a context carrying it plus a finish
// function the caller must invoke with the span's outcome.
type Tracer interface {
	StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(error))
}

// NoopTracer discards every span. Useful in tests and as a safe zero value.
type NoopTracer struct{}

func (NoopTracer) StartSpan(ctx context.Context, _ string, _ map[string]any) (context.Context, func(error)) {
	return ctx, func(error) {}
}

// spanLogger is the pair of logging methods LoggingTracer uses, kept
// minimal here to avoid an import cycle between tracing and logging.
type spanLogger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
}

// LoggingTracer emits a structured log line at span start and finish. No
// code in this module installs it; a caller builds one with NewLoggingTracer.
type LoggingTracer struct {
	Log spanLogger
}

// NewLoggingTracer builds a LoggingTracer over the given logger-like sink.
func NewLoggingTracer(log spanLogger) *LoggingTracer {
	return &LoggingTracer{Log: log}
}

func (t *LoggingTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(error)) {
	start := time.Now()
	if t.Log != nil {
		t.Log.Infof("span start name=%s attrs=%v", name, attrs)
	}
	return ctx, func(err error) {
		elapsed := time.Since(start)
		if t.Log == nil {
			return
		}
		if err != nil {
			t.Log.Warnf("span end name=%s elapsed=%s error=%v", name, elapsed, err)
			return
		}
		t.Log.Infof("span end name=%s elapsed=%s", name, elapsed)
	}
}
