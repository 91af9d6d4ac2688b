package extract

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) (*HTTPClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewHTTPClient(&Config{
		Endpoint: srv.URL,
		Username: "updater",
		Password: "secret",
	})
	require.NoError(t, err)
	return client, srv
}

func loginHandler(t *testing.T, mux *http.ServeMux) {
	t.Helper()
	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "updater", user)
		assert.Equal(t, "secret", pass)
		require.NoError(t, json.NewEncoder(w).Encode(map[string]string{"token": "tok-123"}))
	})
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     *Config
		wantErr string
	}{
		{name: "valid", cfg: &Config{Endpoint: "https://api.example.com", Username: "u", Password: "p"}},
		{name: "valid with timeout", cfg: &Config{Endpoint: "https://api.example.com", Username: "u", Password: "p", Timeout: "45s"}},
		{name: "nil", cfg: nil, wantErr: "extract configuration is required"},
		{name: "missing endpoint", cfg: &Config{Username: "u", Password: "p"}, wantErr: "endpoint is required"},
		{name: "missing username", cfg: &Config{Endpoint: "x", Password: "p"}, wantErr: "username is required"},
		{name: "missing password", cfg: &Config{Endpoint: "x", Username: "u"}, wantErr: "password is required"},
		{name: "bad timeout", cfg: &Config{Endpoint: "x", Username: "u", Password: "p", Timeout: "soon"}, wantErr: "invalid extract timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSubmitTask(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	loginHandler(t, mux)
	mux.HandleFunc("POST /task", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))

		var req TaskRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "MOD13Q1_20240101_20240105", req.Name)
		require.Len(t, req.Lines, 1)
		assert.Equal(t, RequestLine{Product: "MOD13Q1", Layer: "NDVI"}, req.Lines[0])

		require.NoError(t, json.NewEncoder(w).Encode(map[string]string{"task_id": "remote-42"}))
	})

	client, _ := newTestClient(t, mux)
	id, err := client.SubmitTask(context.Background(), TaskRequest{
		Name:      "MOD13Q1_20240101_20240105",
		Lines:     []RequestLine{{Product: "MOD13Q1", Layer: "NDVI"}},
		Geometry:  "mesonet-stations",
		StartDate: "2024-01-01",
		EndDate:   "2024-01-05",
	})
	require.NoError(t, err)
	assert.Equal(t, "remote-42", id)
}

func TestGetTaskStatusMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		remote  string
		message string
		want    TaskStatus
		wantErr bool
	}{
		{remote: "queued", want: TaskStatus{State: TaskStatePending}},
		{remote: "pending", want: TaskStatus{State: TaskStatePending}},
		{remote: "processing", want: TaskStatus{State: TaskStatePending}},
		{remote: "running", want: TaskStatus{State: TaskStatePending}},
		{remote: "done", want: TaskStatus{State: TaskStateDone}},
		{remote: "error", message: "tile missing", want: TaskStatus{State: TaskStateFailed, Message: "tile missing"}},
		{remote: "failed", want: TaskStatus{State: TaskStateFailed}},
		{remote: "expired", want: TaskStatus{State: TaskStateFailed}},
		{remote: "confused", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.remote, func(t *testing.T) {
			t.Parallel()

			mux := http.NewServeMux()
			loginHandler(t, mux)
			mux.HandleFunc("GET /task/remote-1", func(w http.ResponseWriter, _ *http.Request) {
				require.NoError(t, json.NewEncoder(w).Encode(map[string]string{
					"status":  tt.remote,
					"message": tt.message,
				}))
			})

			client, _ := newTestClient(t, mux)
			got, err := client.GetTaskStatus(context.Background(), "remote-1")
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDownloadTask(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	loginHandler(t, mux)
	mux.HandleFunc("GET /bundle/remote-1", func(w http.ResponseWriter, _ *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(bundleResponse{Files: []bundleFile{
			{FileID: "f1", FileName: "results/MOD13Q1-results.csv"},
			{FileID: "f2", FileName: "granule-list.txt"},
		}}))
	})
	mux.HandleFunc("GET /bundle/remote-1/f1", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("csv-data"))
	})
	mux.HandleFunc("GET /bundle/remote-1/f2", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("granules"))
	})

	client, _ := newTestClient(t, mux)
	dir := t.TempDir()
	require.NoError(t, client.DownloadTask(context.Background(), "remote-1", dir, false))

	// Bundle paths are flattened into destDir.
	data, err := os.ReadFile(filepath.Join(dir, "MOD13Q1-results.csv"))
	require.NoError(t, err)
	assert.Equal(t, "csv-data", string(data))

	data, err = os.ReadFile(filepath.Join(dir, "granule-list.txt"))
	require.NoError(t, err)
	assert.Equal(t, "granules", string(data))
}

func TestDownloadTaskKeepsExistingWithoutForce(t *testing.T) {
	t.Parallel()

	var downloads atomic.Int32
	mux := http.NewServeMux()
	loginHandler(t, mux)
	mux.HandleFunc("GET /bundle/remote-1", func(w http.ResponseWriter, _ *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(bundleResponse{Files: []bundleFile{
			{FileID: "f1", FileName: "results.csv"},
		}}))
	})
	mux.HandleFunc("GET /bundle/remote-1/f1", func(w http.ResponseWriter, _ *http.Request) {
		downloads.Add(1)
		_, _ = w.Write([]byte("fresh"))
	})

	client, _ := newTestClient(t, mux)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "results.csv"), []byte("stale"), 0o644))

	require.NoError(t, client.DownloadTask(context.Background(), "remote-1", dir, false))
	assert.Equal(t, int32(0), downloads.Load())
	data, err := os.ReadFile(filepath.Join(dir, "results.csv"))
	require.NoError(t, err)
	assert.Equal(t, "stale", string(data))

	require.NoError(t, client.DownloadTask(context.Background(), "remote-1", dir, true))
	assert.Equal(t, int32(1), downloads.Load())
	data, err = os.ReadFile(filepath.Join(dir, "results.csv"))
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(data))
}

func TestProductLayers(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	loginHandler(t, mux)
	mux.HandleFunc("GET /product/MOD13Q1", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{
			"_250m_16_days_NDVI": {"Description": "vegetation index", "IsQA": false},
			"_250m_16_days_VI_Quality": {"Description": "quality flags", "IsQA": true}
		}`))
	})

	client, _ := newTestClient(t, mux)
	layers, err := client.ProductLayers(context.Background(), "MOD13Q1")
	require.NoError(t, err)
	require.Len(t, layers, 2)
	assert.False(t, layers["_250m_16_days_NDVI"].IsQA)
	assert.True(t, layers["_250m_16_days_VI_Quality"].IsQA)
	assert.Equal(t, "_250m_16_days_NDVI", layers["_250m_16_days_NDVI"].Name)
}

func TestDoJSONDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	mux := http.NewServeMux()
	loginHandler(t, mux)
	mux.HandleFunc("GET /task/remote-1", func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "no such task", http.StatusNotFound)
	})

	client, _ := newTestClient(t, mux)
	_, err := client.GetTaskStatus(context.Background(), "remote-1")
	require.Error(t, err)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDoJSONRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	mux := http.NewServeMux()
	loginHandler(t, mux)
	mux.HandleFunc("GET /task/remote-1", func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "transient", http.StatusBadGateway)
			return
		}
		require.NoError(t, json.NewEncoder(w).Encode(map[string]string{"status": "done"}))
	})

	client, _ := newTestClient(t, mux)
	status, err := client.GetTaskStatus(context.Background(), "remote-1")
	require.NoError(t, err)
	assert.Equal(t, TaskStateDone, status.State)
	assert.Equal(t, int32(2), calls.Load())
}

func TestLoginFailure(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /login", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad credentials", http.StatusUnauthorized)
	})

	client, _ := newTestClient(t, mux)
	_, err := client.GetTaskStatus(context.Background(), "remote-1")
	require.Error(t, err)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.StatusCode)
}
