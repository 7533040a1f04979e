package observability_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aretw0/tendril/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := observability.NewMetrics(reg)
	require.NoError(t, err)

	m.RecordInteraction("delete", "succeeded", 10*time.Millisecond)
	m.RecordInteraction("delete", "succeeded", 20*time.Millisecond)
	m.RecordCommit("committed")
	m.SetPendingCommits(3)
	m.RecordOutput("enrichment", "TABLE")
	m.RecordTransfer("spreadsheets", "delivered")

	count, err := testutil.GatherAndCount(reg, "tendril_executor_interactions_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count, "one label combination")

	count, err = testutil.GatherAndCount(reg, "tendril_scheduler_commits_total", "tendril_transfer_deliveries_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestMetrics_DoubleRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := observability.NewMetrics(reg)
	require.NoError(t, err)

	_, err = observability.NewMetrics(reg)
	assert.Error(t, err)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *observability.Metrics
	assert.NotPanics(t, func() {
		m.RecordInteraction("delete", "failed", time.Second)
		m.RecordCommit("rolled_back")
		m.SetPendingCommits(1)
		m.RecordOutput("reports", "CHART")
		m.RecordTransfer("docqa", "timeout")
	})
}

func TestTrackOperation(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := observability.Tracer(tp)

	_, finish := observability.TrackOperation(context.Background(), tracer, "ok")
	finish(nil)
	_, finish = observability.TrackOperation(context.Background(), tracer, "fails")
	finish(errors.New("boom"))

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "boom", spans[1].Status().Description)
}
