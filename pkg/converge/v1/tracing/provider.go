package tracing

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// TracerProvider gives the engine access to tracers for run, host and task
// spans, and lets the CLI flush spans on exit.
type TracerProvider interface {
	GetTracer(name string, opts ...trace.TracerOption) trace.Tracer

	// Shutdown flushes buffered spans. The context should carry a deadline.
	Shutdown(ctx context.Context) error
}
