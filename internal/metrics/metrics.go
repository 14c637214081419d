// Package metrics defines the OpenTelemetry instruments the orchestrator records.
package metrics

import (
	"context"
	"time"

	"github.com/kiranshivaraju/publishq/pkg/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// MeterName is the instrumentation scope for every publishq instrument.
const MeterName = "github.com/kiranshivaraju/publishq"

// Metrics holds the orchestrator's metric instruments.
type Metrics struct {
	jobsCreated     metric.Int64Counter
	transitions     metric.Int64Counter
	jobDuration     metric.Float64Histogram
	quotaRejections metric.Int64Counter
	jobsSwept       metric.Int64Counter
	activeDrivers   metric.Int64UpDownCounter
}

// New creates instruments on mp. A nil mp uses the global MeterProvider.
func New(mp metric.MeterProvider) *Metrics {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(MeterName)
	m := &Metrics{}

	// Instrument creation only fails on invalid names; fall back to the
	// undescribed instrument so recording never panics.
	var err error

	m.jobsCreated, err = meter.Int64Counter(
		"publishq.jobs.created",
		metric.WithDescription("Publish jobs created, by platform and initial status"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		m.jobsCreated, _ = meter.Int64Counter("publishq.jobs.created")
	}

	m.transitions, err = meter.Int64Counter(
		"publishq.jobs.transitions",
		metric.WithDescription("Job status transitions applied"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		m.transitions, _ = meter.Int64Counter("publishq.jobs.transitions")
	}

	m.jobDuration, err = meter.Float64Histogram(
		"publishq.jobs.duration",
		metric.WithDescription("Time from job creation to a terminal status"),
		metric.WithUnit("s"),
	)
	if err != nil {
		m.jobDuration, _ = meter.Float64Histogram("publishq.jobs.duration")
	}

	m.quotaRejections, err = meter.Int64Counter(
		"publishq.quota.rejections",
		metric.WithDescription("Reservations refused because the budget window is spent"),
		metric.WithUnit("{reservation}"),
	)
	if err != nil {
		m.quotaRejections, _ = meter.Int64Counter("publishq.quota.rejections")
	}

	m.jobsSwept, err = meter.Int64Counter(
		"publishq.jobs.swept",
		metric.WithDescription("In-flight jobs failed by the stale sweeper"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		m.jobsSwept, _ = meter.Int64Counter("publishq.jobs.swept")
	}

	m.activeDrivers, err = meter.Int64UpDownCounter(
		"publishq.drivers.active",
		metric.WithDescription("Jobs currently being driven through an adapter"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		m.activeDrivers, _ = meter.Int64UpDownCounter("publishq.drivers.active")
	}

	return m
}

// NewNoop returns metrics that record nothing.
func NewNoop() *Metrics {
	return New(noop.NewMeterProvider())
}

func platformAttr(p models.Platform) attribute.KeyValue {
	return attribute.String("platform", string(p))
}

func statusAttr(s models.JobStatus) attribute.KeyValue {
	return attribute.String("status", string(s))
}

// JobCreated records a new job.
func (m *Metrics) JobCreated(ctx context.Context, job *models.PublishJob) {
	m.jobsCreated.Add(ctx, 1, metric.WithAttributes(platformAttr(job.Platform), statusAttr(job.Status)))
}

// Transition records an applied status change, and the job's lifetime when
// the new status is terminal.
func (m *Metrics) Transition(ctx context.Context, job *models.PublishJob) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(platformAttr(job.Platform), statusAttr(job.Status)))
	if !job.Status.Terminal() {
		return
	}
	attrs := []attribute.KeyValue{platformAttr(job.Platform), statusAttr(job.Status)}
	if job.ErrorCode != nil {
		attrs = append(attrs, attribute.String("error_code", string(*job.ErrorCode)))
	}
	m.jobDuration.Record(ctx, time.Since(job.CreatedAt).Seconds(), metric.WithAttributes(attrs...))
}

// QuotaRejected records a refused reservation.
func (m *Metrics) QuotaRejected(ctx context.Context, platform models.Platform) {
	m.quotaRejections.Add(ctx, 1, metric.WithAttributes(platformAttr(platform)))
}

// Swept records a job the sweeper timed out.
func (m *Metrics) Swept(ctx context.Context, platform models.Platform) {
	m.jobsSwept.Add(ctx, 1, metric.WithAttributes(platformAttr(platform)))
}

// DriverStarted and DriverStopped bracket one Drive invocation.
func (m *Metrics) DriverStarted(ctx context.Context, platform models.Platform) {
	m.activeDrivers.Add(ctx, 1, metric.WithAttributes(platformAttr(platform)))
}

func (m *Metrics) DriverStopped(ctx context.Context, platform models.Platform) {
	m.activeDrivers.Add(ctx, -1, metric.WithAttributes(platformAttr(platform)))
}
