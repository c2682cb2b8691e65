// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package oteltrace

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"go.opentelemetry.io/markers"
)

func TestWithServiceName(t *testing.T) {
	const name = "test_serviceName"

	c, err := newConfig(context.Background(), []Option{WithServiceName(name)})
	require.NoError(t, err)

	assert.Contains(t, c.resAttrs, semconv.ServiceName(defaultServiceName()))
	assert.Contains(t, c.resAttrs, semconv.ServiceName(name))

	res := c.resource().Attributes()
	assert.Contains(t, res, semconv.ServiceName(name))
	assert.NotContains(t, res, semconv.ServiceName(defaultServiceName()))
	assert.Contains(t, res, semconv.TelemetryDistroVersionKey.String(markers.Version()))
}

func TestWithEnv(t *testing.T) {
	t.Run("OTEL_SERVICE_NAME", func(t *testing.T) {
		const name = "test_service"
		t.Setenv(envServiceNameKey, name)
		c, err := newConfig(context.Background(), []Option{WithEnv()})
		require.NoError(t, err)
		assert.Contains(t, c.resAttrs, semconv.ServiceName(name))
	})

	t.Run("OTEL_RESOURCE_ATTRIBUTES", func(t *testing.T) {
		const name = "test_service"
		t.Setenv(
			envResourceAttrKey,
			fmt.Sprintf("a=b,fubar,%s=%s,foo=bar", semconv.ServiceNameKey, name),
		)
		c, err := newConfig(context.Background(), []Option{WithEnv()})
		require.NoError(t, err)
		assert.Contains(t, c.resAttrs, attribute.String("a", "b"))
		assert.NotContains(t, c.resAttrs, attribute.String("fubar", ""))
		assert.Contains(t, c.resAttrs, semconv.ServiceName(name))
		assert.Contains(t, c.resAttrs, attribute.String("foo", "bar"))
	})

	t.Run("OTEL_TRACES_EXPORTER", func(t *testing.T) {
		t.Setenv(envTracesExportersKey, "none")
		c, err := newConfig(context.Background(), []Option{WithEnv()})
		require.NoError(t, err)
		assert.NotNil(t, c.exporter)
	})

	t.Run("unset", func(t *testing.T) {
		c, err := newConfig(context.Background(), []Option{WithEnv()})
		require.NoError(t, err)
		assert.Nil(t, c.exporter)
	})
}

func TestWithResourceAttributes(t *testing.T) {
	attr0 := semconv.ServiceName(defaultServiceName())
	attr1 := semconv.ServiceName("test_service")
	attr2 := semconv.K8SPodName("test_pod_name")
	attr3 := semconv.K8SNamespaceName("test_namespace_name")

	want := []attribute.KeyValue{attr0, attr1, attr2, attr3}

	t.Run("Code", func(t *testing.T) {
		opts := []Option{
			WithResourceAttributes(attr1, attr2),
			WithResourceAttributes(attr3),
		}
		c, err := newConfig(context.Background(), opts)
		require.NoError(t, err)
		assert.Equal(t, want, c.resAttrs)
	})

	t.Run("CodeAndEnv", func(t *testing.T) {
		t.Setenv(
			envResourceAttrKey,
			fmt.Sprintf(
				"%s=%s,%s=%s",
				attr1.Key, attr1.Value.AsString(),
				attr2.Key, attr2.Value.AsString(),
			),
		)

		opts := []Option{WithEnv(), WithResourceAttributes(attr3)}
		c, err := newConfig(context.Background(), opts)
		require.NoError(t, err)
		assert.Equal(t, want, c.resAttrs)
	})
}

func TestNewTracerProvider(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp, err := NewTracerProvider(context.Background(),
		WithServiceName("markers-test"),
		WithTraceExporter(exp),
	)
	require.NoError(t, err)

	reg, err := markers.NewRegistry(markers.WithLogger(testLogger()))
	require.NoError(t, err)
	m := markers.Declare("proc.exec", "%s")
	require.NoError(t, reg.Load("proc", m))

	ctrl, err := NewController(testLogger(), tp, markers.Version())
	require.NoError(t, err)
	require.NoError(t, ctrl.Attach(reg))
	m.Fire(nil, "/bin/true")
	require.NoError(t, ctrl.Detach(reg))
	require.NoError(t, reg.Close())

	require.NoError(t, tp.ForceFlush(context.Background()))
	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "proc.exec", spans[0].Name)
	assert.Contains(t, spans[0].Resource.Attributes(), semconv.ServiceName("markers-test"))

	require.NoError(t, tp.Shutdown(context.Background()))
}

func TestNewTracerProviderDefaultExporter(t *testing.T) {
	ctx := context.Background()
	tp, err := NewTracerProvider(ctx, WithEnv())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	assert.NoError(t, tp.Shutdown(ctx))
}
