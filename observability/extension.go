package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/QualityUnit/pyworkflow/ext"
	"github.com/QualityUnit/pyworkflow/internal/id"
	"github.com/QualityUnit/pyworkflow/job"
	"github.com/QualityUnit/pyworkflow/run"
)

const meterName = "github.com/QualityUnit/pyworkflow"

// Compile-time interface checks.
var (
	_ ext.Extension             = (*MetricsExtension)(nil)
	_ ext.JobEnqueued           = (*MetricsExtension)(nil)
	_ ext.JobCompleted          = (*MetricsExtension)(nil)
	_ ext.JobFailed             = (*MetricsExtension)(nil)
	_ ext.JobRetrying           = (*MetricsExtension)(nil)
	_ ext.JobDLQ                = (*MetricsExtension)(nil)
	_ ext.RunStarted            = (*MetricsExtension)(nil)
	_ ext.RunCompleted          = (*MetricsExtension)(nil)
	_ ext.RunFailed             = (*MetricsExtension)(nil)
	_ ext.RunCancelled          = (*MetricsExtension)(nil)
	_ ext.CancellationRequested = (*MetricsExtension)(nil)
	_ ext.HookReceived          = (*MetricsExtension)(nil)
	_ ext.HookExpired           = (*MetricsExtension)(nil)
	_ ext.ChildWorkflowStarted  = (*MetricsExtension)(nil)
	_ ext.ScheduleFired         = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle metrics via the global
// OTel MeterProvider, the same instrument style as middleware.Metrics
// but scoped to run/hook/cancellation events rather than a single job
// execution.
type MetricsExtension struct {
	jobEnqueued  metric.Int64Counter
	jobCompleted metric.Int64Counter
	jobFailed    metric.Int64Counter
	jobRetried   metric.Int64Counter
	jobDLQ       metric.Int64Counter

	runStarted     metric.Int64Counter
	runCompleted   metric.Int64Counter
	runFailed      metric.Int64Counter
	runCancelled   metric.Int64Counter
	cancelRequests metric.Int64Counter

	hookReceived metric.Int64Counter
	hookExpired  metric.Int64Counter

	childStarted  metric.Int64Counter
	scheduleFired metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension using the global OTel
// MeterProvider. If none is configured, OTel's noop instruments make
// this extension a pass-through.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension using the
// provided meter, for injecting a test MeterProvider.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit("{event}"))
		return c
	}
	return &MetricsExtension{
		jobEnqueued:    counter("dispatch.job.enqueued", "Jobs accepted onto the broker"),
		jobCompleted:   counter("dispatch.job.completed", "Jobs completed successfully"),
		jobFailed:      counter("dispatch.job.failed", "Jobs failed terminally"),
		jobRetried:     counter("dispatch.job.retried", "Jobs scheduled for retry"),
		jobDLQ:         counter("dispatch.job.dlq", "Jobs moved to the dead letter queue"),
		runStarted:     counter("dispatch.run.started", "Workflow runs started"),
		runCompleted:   counter("dispatch.run.completed", "Workflow runs completed successfully"),
		runFailed:      counter("dispatch.run.failed", "Workflow runs failed terminally"),
		runCancelled:   counter("dispatch.run.cancelled", "Workflow runs cancelled"),
		cancelRequests: counter("dispatch.run.cancellation_requested", "Cancellation requests recorded"),
		hookReceived:   counter("dispatch.hook.received", "Hooks signalled successfully"),
		hookExpired:    counter("dispatch.hook.expired", "Hooks expired unreceived"),
		childStarted:   counter("dispatch.child_workflow.started", "Child workflows started"),
		scheduleFired:  counter("dispatch.schedule.fired", "Schedule triggers fired"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Job lifecycle hooks (broker envelope) ───────────

func (m *MetricsExtension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	m.jobEnqueued.Add(ctx, 1, metric.WithAttributes(attribute.String("job_class", string(j.Class))))
	return nil
}

func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, _ time.Duration) error {
	m.jobCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("job_class", string(j.Class))))
	return nil
}

func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.jobFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("job_class", string(j.Class))))
	return nil
}

func (m *MetricsExtension) OnJobRetrying(ctx context.Context, j *job.Job, _ int, _ time.Time) error {
	m.jobRetried.Add(ctx, 1, metric.WithAttributes(attribute.String("job_class", string(j.Class))))
	return nil
}

func (m *MetricsExtension) OnJobDLQ(ctx context.Context, j *job.Job, _ error) error {
	m.jobDLQ.Add(ctx, 1, metric.WithAttributes(attribute.String("job_class", string(j.Class))))
	return nil
}

// ── Run lifecycle hooks ──────────────────────────────

func (m *MetricsExtension) OnRunStarted(ctx context.Context, r *run.Run) error {
	m.runStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("workflow_name", r.WorkflowName)))
	return nil
}

func (m *MetricsExtension) OnRunCompleted(ctx context.Context, r *run.Run, _ time.Duration) error {
	m.runCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("workflow_name", r.WorkflowName)))
	return nil
}

func (m *MetricsExtension) OnRunFailed(ctx context.Context, r *run.Run, _ error) error {
	m.runFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("workflow_name", r.WorkflowName)))
	return nil
}

func (m *MetricsExtension) OnRunCancelled(ctx context.Context, r *run.Run, _ string) error {
	m.runCancelled.Add(ctx, 1, metric.WithAttributes(attribute.String("workflow_name", r.WorkflowName)))
	return nil
}

func (m *MetricsExtension) OnCancellationRequested(ctx context.Context, r *run.Run, _ string) error {
	m.cancelRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("workflow_name", r.WorkflowName)))
	return nil
}

// ── Hook lifecycle hooks ─────────────────────────────

func (m *MetricsExtension) OnHookReceived(ctx context.Context, r *run.Run, _ string) error {
	m.hookReceived.Add(ctx, 1, metric.WithAttributes(attribute.String("workflow_name", r.WorkflowName)))
	return nil
}

func (m *MetricsExtension) OnHookExpired(ctx context.Context, r *run.Run, _ string) error {
	m.hookExpired.Add(ctx, 1, metric.WithAttributes(attribute.String("workflow_name", r.WorkflowName)))
	return nil
}

// ── Child-workflow and schedule hooks ────────────────

func (m *MetricsExtension) OnChildWorkflowStarted(ctx context.Context, parent *run.Run, _ id.RunID) error {
	m.childStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("workflow_name", parent.WorkflowName)))
	return nil
}

func (m *MetricsExtension) OnScheduleFired(ctx context.Context, scheduleName string, _ id.RunID) error {
	m.scheduleFired.Add(ctx, 1, metric.WithAttributes(attribute.String("schedule_name", scheduleName)))
	return nil
}
