package utils

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestLogExporterWritesSpans(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(&logExporter{logger: logger}))
	t.Cleanup(func() { tp.Shutdown(context.Background()) })

	_, span := tp.Tracer("test").Start(context.Background(), "job.hr_sync")
	span.SetAttributes(attribute.Int("job.processed", 2))
	span.End()

	_, failed := tp.Tracer("test").Start(context.Background(), "job.status_sync")
	failed.RecordError(errors.New("boom"))
	failed.SetStatus(codes.Error, "boom")
	failed.End()

	entries := hook.AllEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, logrus.DebugLevel, entries[0].Level)
	assert.Equal(t, "job.hr_sync", entries[0].Data["span"])
	assert.Equal(t, int64(2), entries[0].Data["job.processed"])
	assert.Len(t, entries[0].Data["trace_id"], 32)

	assert.Equal(t, logrus.WarnLevel, entries[1].Level)
	assert.Equal(t, "boom", entries[1].Data["error"])
}
