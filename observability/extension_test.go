package observability_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/QualityUnit/pyworkflow/ext"
	"github.com/QualityUnit/pyworkflow/internal/id"
	"github.com/QualityUnit/pyworkflow/job"
	"github.com/QualityUnit/pyworkflow/observability"
	"github.com/QualityUnit/pyworkflow/run"
)

func setupTestExtension() (*observability.MetricsExtension, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return observability.NewMetricsExtensionWithMeter(mp.Meter("test")), reader
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	return rm
}

func sumValue(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok || len(sum.DataPoints) == 0 {
				t.Fatalf("%s: expected a non-empty Sum[int64]", name)
			}
			return sum.DataPoints[0].Value
		}
	}
	t.Fatalf("%s metric not found", name)
	return 0
}

func newTestJob() *job.Job {
	return &job.Job{ID: id.NewJobID(), Class: job.ClassWorkflowTick, Queue: "default"}
}

func newTestRun() *run.Run {
	return run.New("order-flow", nil, nil)
}

func TestMetricsExtension_Name(t *testing.T) {
	e, _ := setupTestExtension()
	if e.Name() != "observability-metrics" {
		t.Errorf("expected name %q, got %q", "observability-metrics", e.Name())
	}
}

func TestMetricsExtension_JobEnqueued(t *testing.T) {
	e, reader := setupTestExtension()
	if err := e.OnJobEnqueued(context.Background(), newTestJob()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := sumValue(t, collectMetrics(t, reader), "dispatch.job.enqueued"); got != 1 {
		t.Errorf("dispatch.job.enqueued: want 1, got %d", got)
	}
}

func TestMetricsExtension_JobCompleted(t *testing.T) {
	e, reader := setupTestExtension()
	if err := e.OnJobCompleted(context.Background(), newTestJob(), 100*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := sumValue(t, collectMetrics(t, reader), "dispatch.job.completed"); got != 1 {
		t.Errorf("dispatch.job.completed: want 1, got %d", got)
	}
}

func TestMetricsExtension_JobFailed(t *testing.T) {
	e, reader := setupTestExtension()
	if err := e.OnJobFailed(context.Background(), newTestJob(), errors.New("boom")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := sumValue(t, collectMetrics(t, reader), "dispatch.job.failed"); got != 1 {
		t.Errorf("dispatch.job.failed: want 1, got %d", got)
	}
}

func TestMetricsExtension_JobRetrying(t *testing.T) {
	e, reader := setupTestExtension()
	if err := e.OnJobRetrying(context.Background(), newTestJob(), 1, time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := sumValue(t, collectMetrics(t, reader), "dispatch.job.retried"); got != 1 {
		t.Errorf("dispatch.job.retried: want 1, got %d", got)
	}
}

func TestMetricsExtension_JobDLQ(t *testing.T) {
	e, reader := setupTestExtension()
	if err := e.OnJobDLQ(context.Background(), newTestJob(), errors.New("terminal")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := sumValue(t, collectMetrics(t, reader), "dispatch.job.dlq"); got != 1 {
		t.Errorf("dispatch.job.dlq: want 1, got %d", got)
	}
}

func TestMetricsExtension_RunStarted(t *testing.T) {
	e, reader := setupTestExtension()
	if err := e.OnRunStarted(context.Background(), newTestRun()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := sumValue(t, collectMetrics(t, reader), "dispatch.run.started"); got != 1 {
		t.Errorf("dispatch.run.started: want 1, got %d", got)
	}
}

func TestMetricsExtension_RunCompleted(t *testing.T) {
	e, reader := setupTestExtension()
	if err := e.OnRunCompleted(context.Background(), newTestRun(), 2*time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := sumValue(t, collectMetrics(t, reader), "dispatch.run.completed"); got != 1 {
		t.Errorf("dispatch.run.completed: want 1, got %d", got)
	}
}

func TestMetricsExtension_RunFailed(t *testing.T) {
	e, reader := setupTestExtension()
	if err := e.OnRunFailed(context.Background(), newTestRun(), errors.New("step failed")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := sumValue(t, collectMetrics(t, reader), "dispatch.run.failed"); got != 1 {
		t.Errorf("dispatch.run.failed: want 1, got %d", got)
	}
}

func TestMetricsExtension_RunCancelled(t *testing.T) {
	e, reader := setupTestExtension()
	if err := e.OnRunCancelled(context.Background(), newTestRun(), "user requested"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := sumValue(t, collectMetrics(t, reader), "dispatch.run.cancelled"); got != 1 {
		t.Errorf("dispatch.run.cancelled: want 1, got %d", got)
	}
}

func TestMetricsExtension_CancellationRequested(t *testing.T) {
	e, reader := setupTestExtension()
	if err := e.OnCancellationRequested(context.Background(), newTestRun(), "user requested"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := sumValue(t, collectMetrics(t, reader), "dispatch.run.cancellation_requested"); got != 1 {
		t.Errorf("dispatch.run.cancellation_requested: want 1, got %d", got)
	}
}

func TestMetricsExtension_HookReceived(t *testing.T) {
	e, reader := setupTestExtension()
	if err := e.OnHookReceived(context.Background(), newTestRun(), "approval"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := sumValue(t, collectMetrics(t, reader), "dispatch.hook.received"); got != 1 {
		t.Errorf("dispatch.hook.received: want 1, got %d", got)
	}
}

func TestMetricsExtension_HookExpired(t *testing.T) {
	e, reader := setupTestExtension()
	if err := e.OnHookExpired(context.Background(), newTestRun(), "approval"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := sumValue(t, collectMetrics(t, reader), "dispatch.hook.expired"); got != 1 {
		t.Errorf("dispatch.hook.expired: want 1, got %d", got)
	}
}

func TestMetricsExtension_ChildWorkflowStarted(t *testing.T) {
	e, reader := setupTestExtension()
	if err := e.OnChildWorkflowStarted(context.Background(), newTestRun(), id.NewRunID()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := sumValue(t, collectMetrics(t, reader), "dispatch.child_workflow.started"); got != 1 {
		t.Errorf("dispatch.child_workflow.started: want 1, got %d", got)
	}
}

func TestMetricsExtension_ScheduleFired(t *testing.T) {
	e, reader := setupTestExtension()
	if err := e.OnScheduleFired(context.Background(), "hourly", id.NewRunID()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := sumValue(t, collectMetrics(t, reader), "dispatch.schedule.fired"); got != 1 {
		t.Errorf("dispatch.schedule.fired: want 1, got %d", got)
	}
}

func TestMetricsExtension_ViaRegistry(t *testing.T) {
	e, reader := setupTestExtension()
	logger := slog.Default()

	reg := ext.NewRegistry(logger)
	reg.Register(e)

	ctx := context.Background()
	j := newTestJob()
	r := newTestRun()

	reg.EmitJobEnqueued(ctx, j)
	reg.EmitRunStarted(ctx, r)
	reg.EmitRunCompleted(ctx, r, time.Second)
	reg.EmitCancellationRequested(ctx, r, "user requested")

	rm := collectMetrics(t, reader)
	for _, name := range []string{
		"dispatch.job.enqueued",
		"dispatch.run.started",
		"dispatch.run.completed",
		"dispatch.run.cancellation_requested",
	} {
		if got := sumValue(t, rm, name); got != 1 {
			t.Errorf("%s: want 1, got %d", name, got)
		}
	}
}
