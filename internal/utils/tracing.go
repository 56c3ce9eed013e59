package utils

import (
	"context"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// logExporter writes finished spans to the logger at debug level
type logExporter struct {
	logger *logrus.Logger
}

func (e *logExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, span := range spans {
		fields := logrus.Fields{
			"span":        span.Name(),
			"trace_id":    span.SpanContext().TraceID().String(),
			"span_id":     span.SpanContext().SpanID().String(),
			"duration_ms": span.EndTime().Sub(span.StartTime()).Milliseconds(),
		}
		for _, kv := range span.Attributes() {
			fields[string(kv.Key)] = kv.Value.AsInterface()
		}

		entry := e.logger.WithFields(fields)
		if span.Status().Code == codes.Error {
			entry.WithField("error", span.Status().Description).Warn("Span finished with error")
			continue
		}
		entry.Debug("Span finished")
	}
	return nil
}

func (e *logExporter) Shutdown(context.Context) error { return nil }

// NewTracerProvider creates a tracer provider that reports spans through logger
func NewTracerProvider(service string, logger *logrus.Logger) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(&logExporter{logger: logger}),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", service))),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
}
