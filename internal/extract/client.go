// Package extract talks to the remote satellite data extraction service: it
// authenticates, submits extraction tasks, reports task status, downloads
// result bundles and exposes the per-product layer catalog.
package extract

import (
	"context"
	"fmt"
)

// TaskState is the remote-side state of an extraction task.
type TaskState string

const (
	// TaskStatePending means the remote service is still producing results.
	TaskStatePending TaskState = "pending"

	// TaskStateDone means results are ready for download.
	TaskStateDone TaskState = "done"

	// TaskStateFailed means the remote service gave up on the task.
	TaskStateFailed TaskState = "failed"
)

// TaskStatus is the response of a status poll.
type TaskStatus struct {
	State TaskState

	// Message carries the remote failure detail when State is failed.
	Message string
}

// RequestLine is one (product, layer) pair of an extraction request.
type RequestLine struct {
	Product string `json:"product"`
	Layer   string `json:"layer"`
}

// TaskRequest is an extraction task submission.
type TaskRequest struct {
	Name      string        `json:"task_name"`
	Lines     []RequestLine `json:"layers"`
	Geometry  string        `json:"geometry"`
	StartDate string        `json:"start_date"`
	EndDate   string        `json:"end_date"`
}

// Layer describes one retrievable data field of a product.
type Layer struct {
	Name        string `json:"layer"`
	Description string `json:"description,omitempty"`
	IsQA        bool   `json:"is_qa"`
}

// Client is the extraction service contract consumed by the task state
// machine and the planner's catalog lookups.
type Client interface {
	// SubmitTask sends the request and returns the remote task identifier.
	SubmitTask(ctx context.Context, req TaskRequest) (string, error)

	// GetTaskStatus reports the remote state of a submitted task.
	GetTaskStatus(ctx context.Context, taskID string) (TaskStatus, error)

	// DownloadTask materializes the result bundle of a completed task into
	// destDir. force overwrites files that already exist.
	DownloadTask(ctx context.Context, taskID, destDir string, force bool) error

	// ProductLayers returns the layer catalog for a product, keyed by layer
	// name.
	ProductLayers(ctx context.Context, product string) (map[string]Layer, error)
}

// HTTPError represents a non-2xx response from the extraction service.
type HTTPError struct {
	StatusCode int
	URL        string
	Message    string
}

// Error returns the error message.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d for URL %s: %s", e.StatusCode, e.URL, e.Message)
}
