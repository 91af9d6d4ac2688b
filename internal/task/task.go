// Package task models one remote extraction job: its specification, its
// lifecycle state and the submit/poll transitions against the extraction
// service.
package task

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mesonet-io/satsync/internal/extract"
)

// State is the lifecycle state of a task.
type State string

const (
	// StateCreated means the task has been planned but not yet submitted.
	StateCreated State = "Created"

	// StateSubmitted means the remote service accepted the task.
	StateSubmitted State = "Submitted"

	// StateDone means results were downloaded; terminal.
	StateDone State = "Done"

	// StateFailed means the remote service reported failure; terminal.
	StateFailed State = "Failed"
)

// Outcome is the tri-state result of one poll attempt. "Still pending" is a
// normal control-flow value, distinct from a genuine failure.
type Outcome int

const (
	// OutcomePending means the remote side is still processing.
	OutcomePending Outcome = iota

	// OutcomeReady means results were downloaded and the task is done.
	OutcomeReady

	// OutcomeFailed means the remote side reported a terminal failure.
	OutcomeFailed
)

// String returns a human-readable outcome label.
func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeReady:
		return "ready"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// nameDateLayout is the compact date form used in task names.
const nameDateLayout = "20060102"

// Spec describes one extraction request: which layers of a product to
// extract, over which geometry and date range (inclusive).
type Spec struct {
	Name      string
	Product   string
	Layers    []string
	Geometry  string
	StartDate time.Time
	EndDate   time.Time
}

// SpecName derives the human-readable task name from the product code and
// the covered date range. Names are traceable, not unique across runs.
func SpecName(product string, start, end time.Time) string {
	return fmt.Sprintf("%s_%s_%s", product, start.Format(nameDateLayout), end.Format(nameDateLayout))
}

// request maps the spec onto the extraction service request, one request
// line per layer.
func (s Spec) request() extract.TaskRequest {
	lines := make([]extract.RequestLine, 0, len(s.Layers))
	for _, layer := range s.Layers {
		lines = append(lines, extract.RequestLine{Product: s.Product, Layer: layer})
	}
	return extract.TaskRequest{
		Name:      s.Name,
		Lines:     lines,
		Geometry:  s.Geometry,
		StartDate: s.StartDate.Format(time.DateOnly),
		EndDate:   s.EndDate.Format(time.DateOnly),
	}
}

// Task is one remote extraction job tracked through its lifecycle. Tasks are
// in-memory only; they do not survive a process restart.
type Task struct {
	Spec     Spec
	RemoteID string
	state    State
}

// New creates a task in the Created state.
func New(spec Spec) *Task {
	return &Task{Spec: spec, state: StateCreated}
}

// State returns the current lifecycle state.
func (t *Task) State() State {
	return t.state
}

// Submit sends the spec to the extraction service and records the remote id.
// Submitting an already-submitted task is a no-op. A submission error is
// fatal for this task and leaves it in Created; no retry happens here.
func (t *Task) Submit(ctx context.Context, client extract.Client) (string, error) {
	if t.state != StateCreated {
		return t.RemoteID, nil
	}

	remoteID, err := client.SubmitTask(ctx, t.Spec.request())
	if err != nil {
		return "", fmt.Errorf("failed to submit task %s: %w", t.Spec.Name, err)
	}

	t.RemoteID = remoteID
	t.state = StateSubmitted
	slog.Info("Submitted extraction task", "task", t.Spec.Name, "remote_id", remoteID)
	return remoteID, nil
}

// Poll checks the remote status once. Pending leaves the task unchanged.
// Ready downloads the result bundle into destDir and marks the task Done.
// A remote failure marks the task Failed and returns the failure as an error
// alongside OutcomeFailed, so callers can distinguish it from the pending
// case without string matching.
func (t *Task) Poll(ctx context.Context, client extract.Client, destDir string, force bool) (Outcome, error) {
	if t.state == StateCreated {
		return OutcomePending, fmt.Errorf("task %s polled before submission", t.Spec.Name)
	}
	if t.state == StateDone {
		return OutcomeReady, nil
	}
	if t.state == StateFailed {
		return OutcomeFailed, fmt.Errorf("task %s already failed", t.Spec.Name)
	}

	status, err := client.GetTaskStatus(ctx, t.RemoteID)
	if err != nil {
		return OutcomePending, fmt.Errorf("failed to check task %s: %w", t.Spec.Name, err)
	}

	switch status.State {
	case extract.TaskStatePending:
		return OutcomePending, nil
	case extract.TaskStateFailed:
		t.state = StateFailed
		return OutcomeFailed, fmt.Errorf("task %s failed remotely: %s", t.Spec.Name, status.Message)
	case extract.TaskStateDone:
		if err := client.DownloadTask(ctx, t.RemoteID, destDir, force); err != nil {
			// Download problems are not a remote task failure; the next
			// round retries the download.
			return OutcomePending, fmt.Errorf("failed to download task %s: %w", t.Spec.Name, err)
		}
		t.state = StateDone
		slog.Info("Extraction task complete", "task", t.Spec.Name, "remote_id", t.RemoteID, "dest", destDir)
		return OutcomeReady, nil
	default:
		return OutcomePending, fmt.Errorf("task %s: unknown remote state %q", t.Spec.Name, status.State)
	}
}
