// Package scheduler drives planned extraction tasks to completion: it
// submits them, then polls the remote service on a fixed interval until
// every task has resolved.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mesonet-io/satsync/internal/extract"
	"github.com/mesonet-io/satsync/internal/task"
	"github.com/mesonet-io/satsync/internal/telemetry"
)

// DefaultPollInterval is the default wait between poll rounds.
const DefaultPollInterval = 5 * time.Minute

// Result partitions the tasks after the loop has drained: Done tasks have
// their result files materialized; Failed tasks were rejected remotely.
type Result struct {
	Done   []*task.Task
	Failed []*task.Task

	// FailureReasons maps task name to the remote failure, for reporting.
	FailureReasons map[string]error
}

// Option configures a Runner.
type Option func(*Runner)

// WithMaxRounds bounds the number of poll rounds. Zero keeps the unbounded
// wait: the loop runs until the remote service resolves every task.
func WithMaxRounds(n int) Option {
	return func(r *Runner) {
		r.maxRounds = n
	}
}

// WithMetrics attaches update metrics to the runner.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

// WithForceDownload overwrites existing files when downloading results.
func WithForceDownload() Option {
	return func(r *Runner) {
		r.force = true
	}
}

// Runner submits and polls extraction tasks sequentially. Task counts are
// small (one per product) and the dominant latency is remote processing, so
// there is no per-task concurrency.
type Runner struct {
	client    extract.Client
	interval  time.Duration
	maxRounds int
	force     bool
	metrics   *telemetry.Metrics
}

// New creates a Runner polling at interval.
func New(client extract.Client, interval time.Duration, opts ...Option) *Runner {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	r := &Runner{client: client, interval: interval}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run submits any unsubmitted tasks, then polls the outstanding set each
// round in stable order, dropping tasks as they resolve. It returns when the
// active set is empty, when MaxRounds is exhausted (error), or when ctx is
// cancelled. A remotely failed task does not stop polling of the others; it
// is reported in the result.
func (r *Runner) Run(ctx context.Context, tasks []*task.Task, destDir string) (Result, error) {
	res := Result{FailureReasons: make(map[string]error)}

	for _, t := range tasks {
		if t.State() != task.StateCreated {
			continue
		}
		if _, err := t.Submit(ctx, r.client); err != nil {
			return res, err
		}
		r.metrics.RecordTasksSubmitted(ctx, t.Spec.Product, 1)
	}

	active := make([]*task.Task, len(tasks))
	copy(active, tasks)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	round := 0
	for len(active) > 0 {
		round++
		if r.maxRounds > 0 && round > r.maxRounds {
			return res, fmt.Errorf("%d tasks still pending after %d poll rounds", len(active), r.maxRounds)
		}

		active = r.pollRound(ctx, active, destDir, &res)
		r.metrics.RecordPollRound(ctx)
		r.metrics.RecordPendingTasks(ctx, int64(len(active)))

		if len(active) == 0 {
			break
		}

		slog.Info("Waiting before next poll round",
			"pending", len(active),
			"round", round,
			"interval", r.interval)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return res, ctx.Err()
		}
	}

	slog.Info("All extraction tasks resolved", "done", len(res.Done), "failed", len(res.Failed))
	return res, nil
}

// pollRound polls each active task once and returns the still-pending set.
func (r *Runner) pollRound(ctx context.Context, active []*task.Task, destDir string, res *Result) []*task.Task {
	var pending []*task.Task
	for _, t := range active {
		outcome, err := t.Poll(ctx, r.client, destDir, r.force)
		switch outcome {
		case task.OutcomeReady:
			res.Done = append(res.Done, t)
		case task.OutcomeFailed:
			slog.Error("Extraction task failed remotely", "task", t.Spec.Name, "error", err)
			res.Failed = append(res.Failed, t)
			res.FailureReasons[t.Spec.Name] = err
		case task.OutcomePending:
			if err != nil {
				// Transient status/download problem; retry next round.
				slog.Warn("Poll attempt did not resolve task", "task", t.Spec.Name, "error", err)
			} else {
				slog.Info("Task still running", "task", t.Spec.Name, "remote_id", t.RemoteID)
			}
			pending = append(pending, t)
		}
	}
	return pending
}
