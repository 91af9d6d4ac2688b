// Package updater runs operational update cycles: detect archive gaps,
// plan and drive extraction tasks, clean the results and merge them into
// the observation store.
package updater

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/mesonet-io/satsync/internal/clean"
	"github.com/mesonet-io/satsync/internal/gaps"
	"github.com/mesonet-io/satsync/internal/planner"
	"github.com/mesonet-io/satsync/internal/scheduler"
	"github.com/mesonet-io/satsync/internal/status"
	"github.com/mesonet-io/satsync/internal/store"
	"github.com/mesonet-io/satsync/internal/task"
	"github.com/mesonet-io/satsync/internal/telemetry"
)

// Cycle stages, reported on structured errors.
const (
	StageGapDetection = "GapDetection"
	StagePlanning     = "TaskPlanning"
	StageExtraction   = "Extraction"
	StageCleaning     = "Cleaning"
	StageStorage      = "Storage"
)

// Error is a structured cycle error carrying the stage that failed.
type Error struct {
	Err     error
	Message string
	Stage   string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(stage, message string, err error) *Error {
	return &Error{Stage: stage, Message: message, Err: err}
}

// Result summarizes one update cycle.
type Result struct {
	RunID          string
	TasksSubmitted int
	TasksFailed    int
	RowsInserted   int
	RowsSkipped    int
	Duration       time.Duration
}

// Option configures an Updater.
type Option func(*Updater)

// WithStatusPersistence persists cycle status before and after each run.
func WithStatusPersistence(p status.Persistence) Option {
	return func(u *Updater) {
		u.statusPersist = p
	}
}

// WithMetrics attaches update metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(u *Updater) {
		u.metrics = m
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(u *Updater) {
		u.now = now
	}
}

// Updater wires the gap-to-store pipeline into a single runnable cycle.
type Updater struct {
	store   store.Store
	planner *planner.Planner
	runner  *scheduler.Runner
	cleaner clean.Cleaner

	statusPersist status.Persistence
	metrics       *telemetry.Metrics
	now           func() time.Time
}

// New creates an Updater with injected collaborators.
func New(st store.Store, pl *planner.Planner, runner *scheduler.Runner, cleaner clean.Cleaner, opts ...Option) *Updater {
	u := &Updater{
		store:   st,
		planner: pl,
		runner:  runner,
		cleaner: cleaner,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// RunCycle performs one operational update. Downloaded files live in a
// temporary directory that is removed when the cycle ends. Rows from tasks
// that completed are merged even when other tasks failed; remote failures
// surface as a *Error after the merge.
func (u *Updater) RunCycle(ctx context.Context) (*Result, error) {
	res := &Result{RunID: uuid.NewString()}
	start := u.now()
	logger := slog.With("run_id", res.RunID)
	logger.Info("Starting update cycle")

	prev := u.beginStatus(ctx, res.RunID, start)

	var cycleErr error
	defer func() {
		res.Duration = u.now().Sub(start)
		u.metrics.RecordCycleDuration(ctx, res.Duration, cycleErr == nil)
		u.finishStatus(ctx, prev, res, cycleErr)
		if cycleErr == nil {
			logger.Info("Update cycle complete",
				"duration", res.Duration,
				"rows_inserted", res.RowsInserted,
				"rows_skipped", res.RowsSkipped)
		} else {
			logger.Error("Update cycle failed", "duration", res.Duration, "error", cycleErr)
		}
	}()

	dir, err := os.MkdirTemp("", "satsync-*")
	if err != nil {
		cycleErr = newError(StageExtraction, "failed to create working directory", err)
		return res, cycleErr
	}
	defer func() { _ = os.RemoveAll(dir) }()

	detected, err := gaps.FindMissing(ctx, u.store)
	if err != nil {
		cycleErr = newError(StageGapDetection, "failed to detect archive gaps", err)
		return res, cycleErr
	}
	if len(detected) == 0 {
		logger.Info("No archive gaps detected")
		return res, nil
	}

	specs, err := u.planner.Plan(ctx, detected, u.now())
	if err != nil {
		cycleErr = newError(StagePlanning, "failed to plan extraction tasks", err)
		return res, cycleErr
	}
	if len(specs) == 0 {
		logger.Info("All detected gaps were skipped by planning")
		return res, nil
	}

	tasks := make([]*task.Task, 0, len(specs))
	for _, spec := range specs {
		tasks = append(tasks, task.New(spec))
	}
	res.TasksSubmitted = len(tasks)

	runRes, err := u.runner.Run(ctx, tasks, dir)
	if err != nil {
		cycleErr = newError(StageExtraction, "extraction task loop failed", err)
		return res, cycleErr
	}
	res.TasksFailed = len(runRes.Failed)

	if len(runRes.Done) > 0 {
		if err := u.ingest(ctx, logger, dir, res); err != nil {
			cycleErr = err
			return res, cycleErr
		}
	}

	if len(runRes.Failed) > 0 {
		reasons := make([]error, 0, len(runRes.Failed))
		for _, t := range runRes.Failed {
			reasons = append(reasons, fmt.Errorf("%s: %w", t.Spec.Name, runRes.FailureReasons[t.Spec.Name]))
		}
		cycleErr = newError(StageExtraction,
			fmt.Sprintf("%d of %d extraction tasks failed", len(runRes.Failed), len(tasks)),
			errors.Join(reasons...))
		return res, cycleErr
	}

	return res, nil
}

// ingest cleans downloaded results and merges them into the store.
func (u *Updater) ingest(ctx context.Context, logger *slog.Logger, dir string, res *Result) error {
	rows, err := u.cleaner.CleanAll(ctx, dir)
	if err != nil {
		return newError(StageCleaning, "failed to clean downloaded results", err)
	}
	if len(rows) == 0 {
		logger.Warn("Completed tasks produced no storable rows")
		return nil
	}

	progress := func(done, total int) {
		logger.Debug("Merging observations", "done", done, "total", total)
	}
	upRes, err := u.store.UpsertMany(ctx, rows, progress)
	if err != nil {
		return newError(StageStorage, "failed to merge observations into the store", err)
	}
	res.RowsInserted = upRes.Inserted
	res.RowsSkipped = upRes.Skipped
	u.metrics.RecordUpsert(ctx, int64(upRes.Inserted), int64(upRes.Skipped))
	return nil
}

// beginStatus records the cycle start and returns the previous status for
// attempt accounting.
func (u *Updater) beginStatus(ctx context.Context, runID string, start time.Time) *status.CycleStatus {
	if u.statusPersist == nil {
		return nil
	}
	prev, err := u.statusPersist.Load(ctx)
	if err != nil {
		slog.Warn("Failed to load previous cycle status", "error", err)
		prev = &status.CycleStatus{}
	}
	st := &status.CycleStatus{
		Phase:        status.PhaseSyncing,
		RunID:        runID,
		LastAttempt:  &start,
		LastSuccess:  prev.LastSuccess,
		AttemptCount: prev.AttemptCount + 1,
	}
	if err := u.statusPersist.Save(ctx, st); err != nil {
		slog.Warn("Failed to persist cycle status", "error", err)
	}
	return prev
}

// finishStatus records the cycle outcome.
func (u *Updater) finishStatus(ctx context.Context, prev *status.CycleStatus, res *Result, cycleErr error) {
	if u.statusPersist == nil {
		return
	}
	now := u.now()
	st := &status.CycleStatus{
		RunID:          res.RunID,
		LastAttempt:    &now,
		TasksSubmitted: res.TasksSubmitted,
		TasksFailed:    res.TasksFailed,
		RowsInserted:   res.RowsInserted,
		RowsSkipped:    res.RowsSkipped,
	}
	if cycleErr == nil {
		st.Phase = status.PhaseComplete
		st.LastSuccess = &now
	} else {
		st.Phase = status.PhaseFailed
		st.Message = cycleErr.Error()
		if prev != nil {
			st.AttemptCount = prev.AttemptCount + 1
			st.LastSuccess = prev.LastSuccess
		}
	}
	if err := u.statusPersist.Save(ctx, st); err != nil {
		slog.Warn("Failed to persist cycle status", "error", err)
	}
}
