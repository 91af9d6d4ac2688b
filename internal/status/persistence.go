// Package status tracks and persists the outcome of update cycles.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileName is the name of the status file inside the data directory.
const FileName = "status.json"

// Persistence stores the most recent cycle status.
type Persistence interface {
	// Save writes the status to persistent storage.
	Save(ctx context.Context, st *CycleStatus) error

	// Load reads the persisted status. Returns an empty CycleStatus if
	// nothing has been persisted yet (first run).
	Load(ctx context.Context) (*CycleStatus, error)
}

type filePersistence struct {
	dir string
}

// NewFilePersistence persists cycle status as JSON under dir.
func NewFilePersistence(dir string) Persistence {
	return &filePersistence{dir: dir}
}

// Save writes the status file via a temp file and rename, so readers never
// see a partially written record.
func (f *filePersistence) Save(_ context.Context, st *CycleStatus) error {
	if err := os.MkdirAll(f.dir, 0750); err != nil {
		return fmt.Errorf("failed to create status directory: %w", err)
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cycle status: %w", err)
	}

	filePath := filepath.Join(f.dir, FileName)
	tempPath := filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary status file: %w", err)
	}
	if err := os.Rename(tempPath, filePath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename status file: %w", err)
	}
	return nil
}

// Load reads the persisted status file.
func (f *filePersistence) Load(_ context.Context) (*CycleStatus, error) {
	data, err := os.ReadFile(filepath.Join(f.dir, FileName))
	if err != nil {
		if os.IsNotExist(err) {
			return &CycleStatus{}, nil
		}
		return nil, fmt.Errorf("failed to read status file: %w", err)
	}

	var st CycleStatus
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cycle status: %w", err)
	}
	return &st, nil
}
