package tracing

import (
	"context"
	"errors"

	"github.com/gxo-labs/converge/internal/secrets"
	"github.com/gxo-labs/converge/internal/template"
	convergetracing "github.com/gxo-labs/converge/pkg/converge/v1/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// TracerName names the tracer used for run, host and task spans.
const TracerName = "github.com/gxo-labs/converge"

// Attribute keys shared by converge spans.
const (
	AttrRunID  = attribute.Key("converge.run_id")
	AttrPlay   = attribute.Key("converge.play")
	AttrHost   = attribute.Key("converge.host")
	AttrTask   = attribute.Key("converge.task")
	AttrModule = attribute.Key("converge.module")
	AttrStatus = attribute.Key("converge.status")
)

// StartSpan starts a span from provider, falling back to a no-op tracer
// when provider is nil.
func StartSpan(ctx context.Context, provider convergetracing.TracerProvider, name string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	var tracer oteltrace.Tracer
	if provider == nil {
		tracer = NewNoOpProvider().GetTracer(TracerName)
	} else {
		tracer = provider.GetTracer(TracerName)
	}
	return tracer.Start(ctx, name, oteltrace.WithAttributes(attrs...))
}

// RecordError records err on span with tracked secrets removed from the
// message, and marks the span as failed.
func RecordError(span oteltrace.Span, err error, tracker *secrets.SecretTracker) {
	if err == nil || span == nil || !span.IsRecording() {
		return
	}
	msg := template.RedactMessage(err.Error(), tracker)
	span.RecordError(errors.New(msg))
	span.SetStatus(codes.Error, msg)
}
