package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesonet-io/satsync/internal/extract"
)

// fakeClient scripts the extraction service for state machine tests.
type fakeClient struct {
	submitID    string
	submitErr   error
	submitCalls int

	statuses    []extract.TaskStatus
	statusErr   error
	statusCalls int

	downloadErr   error
	downloadCalls int
	downloadDir   string
}

func (f *fakeClient) SubmitTask(_ context.Context, _ extract.TaskRequest) (string, error) {
	f.submitCalls++
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return f.submitID, nil
}

func (f *fakeClient) GetTaskStatus(_ context.Context, _ string) (extract.TaskStatus, error) {
	if f.statusErr != nil {
		return extract.TaskStatus{}, f.statusErr
	}
	idx := f.statusCalls
	if idx >= len(f.statuses) {
		idx = len(f.statuses) - 1
	}
	f.statusCalls++
	return f.statuses[idx], nil
}

func (f *fakeClient) DownloadTask(_ context.Context, _ string, destDir string, _ bool) error {
	f.downloadCalls++
	f.downloadDir = destDir
	return f.downloadErr
}

func (*fakeClient) ProductLayers(_ context.Context, _ string) (map[string]extract.Layer, error) {
	return nil, nil
}

func testSpec() Spec {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	return Spec{
		Name:      SpecName("MOD13Q1", start, end),
		Product:   "MOD13Q1",
		Layers:    []string{"_250m_16_days_NDVI"},
		Geometry:  "mesonet-stations",
		StartDate: start,
		EndDate:   end,
	}
}

func TestSpecName(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "MOD13Q1_20240101_20240215", SpecName("MOD13Q1", start, end))
}

func TestSpecRequest(t *testing.T) {
	t.Parallel()

	req := testSpec().request()
	assert.Equal(t, "MOD13Q1_20240101_20240105", req.Name)
	assert.Equal(t, "2024-01-01", req.StartDate)
	assert.Equal(t, "2024-01-05", req.EndDate)
	assert.Equal(t, []extract.RequestLine{{Product: "MOD13Q1", Layer: "_250m_16_days_NDVI"}}, req.Lines)
}

func TestSubmitTransitionsToSubmitted(t *testing.T) {
	t.Parallel()

	client := &fakeClient{submitID: "remote-1"}
	tk := New(testSpec())
	assert.Equal(t, StateCreated, tk.State())

	id, err := tk.Submit(context.Background(), client)
	require.NoError(t, err)
	assert.Equal(t, "remote-1", id)
	assert.Equal(t, StateSubmitted, tk.State())

	// Double submit is a no-op returning the existing id.
	id, err = tk.Submit(context.Background(), client)
	require.NoError(t, err)
	assert.Equal(t, "remote-1", id)
	assert.Equal(t, 1, client.submitCalls)
}

func TestSubmitFailureLeavesCreated(t *testing.T) {
	t.Parallel()

	client := &fakeClient{submitErr: errors.New("service unavailable")}
	tk := New(testSpec())

	_, err := tk.Submit(context.Background(), client)
	require.Error(t, err)
	assert.Equal(t, StateCreated, tk.State())
	assert.Empty(t, tk.RemoteID)
}

func TestPollPendingLeavesStateUnchanged(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		submitID: "remote-1",
		statuses: []extract.TaskStatus{{State: extract.TaskStatePending}},
	}
	tk := New(testSpec())
	_, err := tk.Submit(context.Background(), client)
	require.NoError(t, err)

	outcome, err := tk.Poll(context.Background(), client, t.TempDir(), false)
	require.NoError(t, err)
	assert.Equal(t, OutcomePending, outcome)
	assert.Equal(t, StateSubmitted, tk.State())
	assert.Equal(t, 0, client.downloadCalls)
}

func TestPollReadyDownloadsAndMarksDone(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		submitID: "remote-1",
		statuses: []extract.TaskStatus{{State: extract.TaskStateDone}},
	}
	tk := New(testSpec())
	_, err := tk.Submit(context.Background(), client)
	require.NoError(t, err)

	dir := t.TempDir()
	outcome, err := tk.Poll(context.Background(), client, dir, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReady, outcome)
	assert.Equal(t, StateDone, tk.State())
	assert.Equal(t, 1, client.downloadCalls)
	assert.Equal(t, dir, client.downloadDir)

	// A done task polls ready again without touching the service.
	outcome, err = tk.Poll(context.Background(), client, dir, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReady, outcome)
	assert.Equal(t, 1, client.downloadCalls)
}

func TestPollRemoteFailureMarksFailed(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		submitID: "remote-1",
		statuses: []extract.TaskStatus{{State: extract.TaskStateFailed, Message: "tile missing"}},
	}
	tk := New(testSpec())
	_, err := tk.Submit(context.Background(), client)
	require.NoError(t, err)

	outcome, err := tk.Poll(context.Background(), client, t.TempDir(), false)
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, StateFailed, tk.State())
	assert.Contains(t, err.Error(), "tile missing")
}

func TestPollDownloadErrorStaysPending(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		submitID:    "remote-1",
		statuses:    []extract.TaskStatus{{State: extract.TaskStateDone}},
		downloadErr: errors.New("disk full"),
	}
	tk := New(testSpec())
	_, err := tk.Submit(context.Background(), client)
	require.NoError(t, err)

	outcome, err := tk.Poll(context.Background(), client, t.TempDir(), false)
	require.Error(t, err)
	assert.Equal(t, OutcomePending, outcome)
	assert.Equal(t, StateSubmitted, tk.State())

	// Next round retries the download successfully.
	client.downloadErr = nil
	outcome, err = tk.Poll(context.Background(), client, t.TempDir(), false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReady, outcome)
	assert.Equal(t, StateDone, tk.State())
}

func TestPollBeforeSubmitIsAnError(t *testing.T) {
	t.Parallel()

	tk := New(testSpec())
	outcome, err := tk.Poll(context.Background(), &fakeClient{}, t.TempDir(), false)
	require.Error(t, err)
	assert.Equal(t, OutcomePending, outcome)
}
