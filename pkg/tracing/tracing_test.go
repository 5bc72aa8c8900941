package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/registrar-api/pkg/config"
)

func TestNewProviderDisabledInstallsNoop(t *testing.T) {
	p, err := NewProvider(context.Background(), config.TracingConfig{Enabled: false})
	require.NoError(t, err)

	ctx, span := Start(context.Background(), SpanEnroll, attribute.Int64("student_id", 7))
	require.NotNil(t, ctx)
	RecordError(span, errors.New("boom"))
	RecordError(span, nil)
	span.End()

	assert.False(t, span.SpanContext().IsValid())
	assert.NoError(t, p.Shutdown(context.Background()))
}
