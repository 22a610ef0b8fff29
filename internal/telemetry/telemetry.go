// Package telemetry wires OpenTelemetry tracing with a Jaeger exporter
// and provides the HTTP middleware that opens a root span per request.
package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/segmentio/ksuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("driftlist")

// InitJaeger installs a global tracer provider exporting to a Jaeger
// collector. The returned function flushes and shuts the provider down.
func InitJaeger(serviceName, endpoint string) (func(context.Context) error, error) {
	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(endpoint)))
	if err != nil {
		return nil, fmt.Errorf("failed to create jaeger exporter: %w", err)
	}
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// Middleware opens a server span per request, tagged with a ksuid request
// id that is also echoed back to the client for correlation.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		requestID := ksuid.New().String()
		ctx, span := tracer.Start(request.Context(), request.Method+" "+request.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", request.Method),
				attribute.String("http.url", request.URL.Path),
				attribute.String("request.id", requestID),
			),
		)
		defer span.End()

		writer.Header().Set("X-Request-ID", requestID)
		m := httpsnoop.CaptureMetrics(next, writer, request.WithContext(ctx))
		span.SetAttributes(
			attribute.Int("http.status_code", m.Code),
			attribute.Int64("http.response_time_ms", m.Duration.Milliseconds()),
		)
		if m.Code >= 400 {
			span.SetStatus(codes.Error, http.StatusText(m.Code))
		}
	})
}
