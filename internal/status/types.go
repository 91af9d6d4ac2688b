package status

import "time"

// CyclePhase represents the current phase of an update cycle.
type CyclePhase string

const (
	// PhaseSyncing means an update cycle is currently in progress.
	PhaseSyncing CyclePhase = "Syncing"

	// PhaseComplete means the last cycle completed successfully.
	PhaseComplete CyclePhase = "Complete"

	// PhaseFailed means the last cycle failed.
	PhaseFailed CyclePhase = "Failed"
)

// CycleStatus is the persisted record of the most recent update cycle.
type CycleStatus struct {
	// Phase is the current cycle phase.
	Phase CyclePhase `json:"phase"`

	// RunID identifies the cycle the record describes.
	RunID string `json:"runId,omitempty"`

	// Message carries additional detail, e.g. the failure reason.
	Message string `json:"message,omitempty"`

	// LastAttempt is when the last cycle started.
	LastAttempt *time.Time `json:"lastAttempt,omitempty"`

	// LastSuccess is when a cycle last completed without error.
	LastSuccess *time.Time `json:"lastSuccess,omitempty"`

	// AttemptCount is the number of cycles since the last success.
	AttemptCount int `json:"attemptCount,omitempty"`

	// TasksSubmitted is the number of extraction tasks the cycle planned.
	TasksSubmitted int `json:"tasksSubmitted,omitempty"`

	// TasksFailed is the number of tasks the remote service rejected.
	TasksFailed int `json:"tasksFailed,omitempty"`

	// RowsInserted is the number of new observations stored.
	RowsInserted int `json:"rowsInserted,omitempty"`

	// RowsSkipped is the number of rows already present in the store.
	RowsSkipped int `json:"rowsSkipped,omitempty"`
}
