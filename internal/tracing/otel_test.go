package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitOpenTelemetryIdempotent(t *testing.T) {
	require.NoError(t, InitOpenTelemetry("ii-agent-test"))
	require.NoError(t, InitOpenTelemetry("ii-agent-test"))

	ctx, span := StartSpan(context.Background(), "session", "history.append")
	defer span.End()
	assert.True(t, span.SpanContext().IsValid())
	assert.NotEmpty(t, GetTraceID(ctx))

	require.NoError(t, ShutdownOpenTelemetry(context.Background()))
	// A second shutdown finds no installed provider.
	require.NoError(t, ShutdownOpenTelemetry(context.Background()))
}

func TestStartSpanKeepsExistingTraceID(t *testing.T) {
	ctx := WithTraceID(context.Background(), "trace-fixed")
	ctx, span := StartSpan(ctx, "session", "history.load")
	defer span.End()
	assert.Equal(t, "trace-fixed", GetTraceID(ctx))
}

func TestStartSpanNilContext(t *testing.T) {
	var missing context.Context
	ctx, span := StartSpan(missing, "plan", "plan.get")
	defer span.End()
	assert.NotNil(t, ctx)
}
