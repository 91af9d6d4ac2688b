// Package telemetry provides OpenTelemetry instrumentation for the updater.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the name used for the updater metrics meter.
const MeterName = "github.com/mesonet-io/satsync/updater"

// Metrics holds the OpenTelemetry instruments for update cycles. A nil
// *Metrics is a valid no-op receiver so call sites never need nil checks.
type Metrics struct {
	cycleDuration  metric.Float64Histogram
	tasksSubmitted metric.Int64Counter
	pollRounds     metric.Int64Counter
	pendingTasks   metric.Int64Gauge
	rowsUpserted   metric.Int64Counter
	rowsSkipped    metric.Int64Counter
}

// NewMetrics creates the updater instruments on the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(MeterName)

	cycleDuration, err := meter.Float64Histogram(
		"satsync_cycle_duration_seconds",
		metric.WithDescription("Duration of update cycles in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 10, 60, 300, 900, 1800, 3600, 7200, 14400),
	)
	if err != nil {
		return nil, err
	}

	tasksSubmitted, err := meter.Int64Counter(
		"satsync_tasks_submitted_total",
		metric.WithDescription("Extraction tasks submitted to the remote service"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return nil, err
	}

	pollRounds, err := meter.Int64Counter(
		"satsync_poll_rounds_total",
		metric.WithDescription("Poll rounds executed while waiting on tasks"),
		metric.WithUnit("{round}"),
	)
	if err != nil {
		return nil, err
	}

	pendingTasks, err := meter.Int64Gauge(
		"satsync_pending_tasks",
		metric.WithDescription("Tasks still pending on the remote service"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return nil, err
	}

	rowsUpserted, err := meter.Int64Counter(
		"satsync_rows_upserted_total",
		metric.WithDescription("Observation rows written to the archive"),
		metric.WithUnit("{row}"),
	)
	if err != nil {
		return nil, err
	}

	rowsSkipped, err := meter.Int64Counter(
		"satsync_rows_skipped_total",
		metric.WithDescription("Observation rows skipped as duplicates"),
		metric.WithUnit("{row}"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		cycleDuration:  cycleDuration,
		tasksSubmitted: tasksSubmitted,
		pollRounds:     pollRounds,
		pendingTasks:   pendingTasks,
		rowsUpserted:   rowsUpserted,
		rowsSkipped:    rowsSkipped,
	}, nil
}

// RecordCycleDuration records one update cycle with its success label.
func (m *Metrics) RecordCycleDuration(ctx context.Context, d time.Duration, success bool) {
	if m == nil || m.cycleDuration == nil {
		return
	}
	m.cycleDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.Bool("success", success),
	))
}

// RecordTasksSubmitted counts submitted tasks for one product.
func (m *Metrics) RecordTasksSubmitted(ctx context.Context, product string, n int64) {
	if m == nil || m.tasksSubmitted == nil {
		return
	}
	m.tasksSubmitted.Add(ctx, n, metric.WithAttributes(
		attribute.String("product", product),
	))
}

// RecordPollRound counts one poll round.
func (m *Metrics) RecordPollRound(ctx context.Context) {
	if m == nil || m.pollRounds == nil {
		return
	}
	m.pollRounds.Add(ctx, 1)
}

// RecordPendingTasks records the current pending task count.
func (m *Metrics) RecordPendingTasks(ctx context.Context, n int64) {
	if m == nil || m.pendingTasks == nil {
		return
	}
	m.pendingTasks.Record(ctx, n)
}

// RecordUpsert counts the rows written and skipped by one upsert batch.
func (m *Metrics) RecordUpsert(ctx context.Context, inserted, skipped int64) {
	if m == nil {
		return
	}
	if m.rowsUpserted != nil {
		m.rowsUpserted.Add(ctx, inserted)
	}
	if m.rowsSkipped != nil {
		m.rowsSkipped.Add(ctx, skipped)
	}
}
