package status

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilePersistenceRoundTrip(t *testing.T) {
	t.Parallel()

	p := NewFilePersistence(t.TempDir())
	now := time.Now().UTC().Truncate(time.Second)
	want := &CycleStatus{
		Phase:          PhaseComplete,
		RunID:          "0c2f0b1e-5a1f-4c8e-9a50-1df1f4a7c001",
		LastAttempt:    &now,
		LastSuccess:    &now,
		TasksSubmitted: 3,
		RowsInserted:   120,
		RowsSkipped:    45,
	}
	require.NoError(t, p.Save(context.Background(), want))

	got, err := p.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestFilePersistenceFirstRun(t *testing.T) {
	t.Parallel()

	got, err := NewFilePersistence(t.TempDir()).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &CycleStatus{}, got)
}

func TestFilePersistenceCreatesDirectory(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "nested", "status")
	p := NewFilePersistence(dir)
	require.NoError(t, p.Save(context.Background(), &CycleStatus{Phase: PhaseSyncing}))

	_, err := os.Stat(filepath.Join(dir, FileName))
	assert.NoError(t, err)
}

func TestFilePersistenceOverwrites(t *testing.T) {
	t.Parallel()

	p := NewFilePersistence(t.TempDir())
	require.NoError(t, p.Save(context.Background(), &CycleStatus{Phase: PhaseSyncing, AttemptCount: 1}))
	require.NoError(t, p.Save(context.Background(), &CycleStatus{Phase: PhaseFailed, AttemptCount: 2, Message: "extraction service unreachable"}))

	got, err := p.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PhaseFailed, got.Phase)
	assert.Equal(t, 2, got.AttemptCount)
}

func TestFilePersistenceCorruptFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("{not json"), 0o600))

	_, err := NewFilePersistence(dir).Load(context.Background())
	assert.ErrorContains(t, err, "unmarshal")
}
