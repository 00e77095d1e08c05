package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestInitTracer(t *testing.T) {
	shutdown := InitTracer("stackdeployd")
	require.NotNil(t, shutdown)

	tp, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	require.True(t, ok, "global provider must be the SDK provider")

	_, span := tp.Tracer("test").Start(context.Background(), "noop")
	span.End()

	assert.NoError(t, shutdown(context.Background()))
}
