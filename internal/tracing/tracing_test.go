package tracing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gxo-labs/converge/internal/logger"
	"github.com/gxo-labs/converge/internal/secrets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestRecordError_RedactsTrackedSecrets(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	provider := &OtelTracerProvider{provider: tp, sdkProvider: tp}

	tracker := secrets.NewSecretTracker()
	tracker.Add("hunter2")

	_, span := StartSpan(context.Background(), provider, "task", AttrHost.String("web1"))
	RecordError(span, errors.New("auth with hunter2 failed"), tracker)
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, "auth with [REDACTED_SECRET] failed", ended[0].Status().Description)
	assert.NotContains(t, ended[0].Status().Description, "hunter2")
}

func TestStartSpan_NilProvider(t *testing.T) {
	_, span := StartSpan(context.Background(), nil, "noop")
	assert.False(t, span.IsRecording())
	span.End()
	assert.True(t, NewNoOpProvider().IsEffectivelyNoOp())
	assert.NoError(t, NewNoOpProvider().Shutdown(context.Background()))
}

func TestParseHelpers(t *testing.T) {
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, parseHeaders("a=1, b=2,broken"))
	assert.Equal(t, 250*time.Millisecond, parseTimeout("250", time.Second))
	assert.Equal(t, 3*time.Second, parseTimeout("3s", time.Second))
	assert.Equal(t, time.Second, parseTimeout("soon", time.Second))
	assert.True(t, isInsecure("", "TRUE"))
	assert.False(t, isInsecure("false"))
}

func TestNewProviderFromEnv(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_PROTOCOL", "")
	t.Setenv("OTEL_TRACES_EXPORTER", "")
	p := NewProviderFromEnv(context.Background(), logger.NewDiscardLogger())
	assert.True(t, p.IsEffectivelyNoOp())

	t.Setenv("OTEL_TRACES_EXPORTER", "console")
	p = NewProviderFromEnv(context.Background(), logger.NewDiscardLogger())
	assert.False(t, p.IsEffectivelyNoOp())
	assert.NoError(t, p.Shutdown(context.Background()))

	t.Setenv("OTEL_SDK_DISABLED", "true")
	p = NewProviderFromEnv(context.Background(), logger.NewDiscardLogger())
	assert.True(t, p.IsEffectivelyNoOp())
}
