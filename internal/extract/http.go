package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	// defaultTimeout is the default timeout for HTTP requests.
	defaultTimeout = 30 * time.Second

	// maxResponseSize is the maximum allowed response size for JSON bodies
	// (100MB); result bundle files are streamed and not subject to it.
	maxResponseSize = 100 * 1024 * 1024

	// maxAttempts bounds the transient-failure retries of a single HTTP
	// call. Task-level semantics are unaffected: a task is never
	// re-submitted by this layer.
	maxAttempts = 4

	// userAgent is the user agent string for HTTP requests.
	userAgent = "satsync/1.0"
)

// Config holds the extraction service connection settings.
type Config struct {
	Endpoint string `yaml:"endpoint"`
	Username string `yaml:"username"`
	Password string `yaml:"password,omitempty"`
	Timeout  string `yaml:"timeout,omitempty"`
}

// Validate checks the required connection settings.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("extract configuration is required")
	}
	if c.Endpoint == "" {
		return fmt.Errorf("extract endpoint is required")
	}
	if c.Username == "" {
		return fmt.Errorf("extract username is required")
	}
	if c.Password == "" {
		return fmt.Errorf("extract password is required")
	}
	if c.Timeout != "" {
		if _, err := time.ParseDuration(c.Timeout); err != nil {
			return fmt.Errorf("invalid extract timeout: %w", err)
		}
	}
	return nil
}

// HTTPClient is the HTTP implementation of Client. It logs in lazily and
// reuses the bearer token for the lifetime of the client.
type HTTPClient struct {
	endpoint string
	username string
	password string
	client   *http.Client
	token    string
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a client for the extraction service at cfg.Endpoint.
func NewHTTPClient(cfg *Config) (*HTTPClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	timeout := defaultTimeout
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid extract timeout: %w", err)
		}
		timeout = d
	}

	return &HTTPClient{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		username: cfg.Username,
		password: cfg.Password,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

type loginResponse struct {
	Token string `json:"token"`
}

// Login authenticates with basic credentials and caches the session token.
func (c *HTTPClient) Login(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/login", nil)
	if err != nil {
		return fmt.Errorf("failed to create login request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return &HTTPError{StatusCode: resp.StatusCode, URL: c.endpoint + "/login", Message: resp.Status}
	}

	var lr loginResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode login response: %w", err)
	}
	if lr.Token == "" {
		return fmt.Errorf("login response contained no token")
	}
	c.token = lr.Token
	return nil
}

// ensureToken logs in on first use.
func (c *HTTPClient) ensureToken(ctx context.Context) error {
	if c.token != "" {
		return nil
	}
	return c.Login(ctx)
}

// doJSON performs one authenticated request with transient-failure retries.
// Network errors and 5xx responses are retried with exponential backoff;
// any 4xx response is permanent.
func (c *HTTPClient) doJSON(ctx context.Context, method, url string, payload any) ([]byte, error) {
	if err := c.ensureToken(ctx); err != nil {
		return nil, err
	}

	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
	}

	operation := func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to execute request: %w", err)
		}
		defer func() {
			_ = resp.Body.Close()
		}()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: %w", err)
		}
		if int64(len(data)) > maxResponseSize {
			return nil, backoff.Permanent(fmt.Errorf("response size exceeds maximum allowed size of %d bytes", maxResponseSize))
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return data, nil
		case resp.StatusCode >= 500:
			return nil, &HTTPError{StatusCode: resp.StatusCode, URL: url, Message: resp.Status}
		default:
			return nil, backoff.Permanent(&HTTPError{StatusCode: resp.StatusCode, URL: url, Message: resp.Status})
		}
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(maxAttempts),
	)
}

type submitResponse struct {
	TaskID string `json:"task_id"`
}

// SubmitTask sends the extraction request and returns the remote task id.
func (c *HTTPClient) SubmitTask(ctx context.Context, req TaskRequest) (string, error) {
	data, err := c.doJSON(ctx, http.MethodPost, c.endpoint+"/task", req)
	if err != nil {
		return "", fmt.Errorf("task submission failed: %w", err)
	}

	var sr submitResponse
	if err := json.Unmarshal(data, &sr); err != nil {
		return "", fmt.Errorf("failed to decode submission response: %w", err)
	}
	if sr.TaskID == "" {
		return "", fmt.Errorf("submission response contained no task id")
	}
	return sr.TaskID, nil
}

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// GetTaskStatus reports the remote state of a task, normalized to the
// pending/done/failed tri-state.
func (c *HTTPClient) GetTaskStatus(ctx context.Context, taskID string) (TaskStatus, error) {
	data, err := c.doJSON(ctx, http.MethodGet, c.endpoint+"/task/"+taskID, nil)
	if err != nil {
		return TaskStatus{}, fmt.Errorf("status check for task %s failed: %w", taskID, err)
	}

	var sr statusResponse
	if err := json.Unmarshal(data, &sr); err != nil {
		return TaskStatus{}, fmt.Errorf("failed to decode status response: %w", err)
	}

	switch strings.ToLower(sr.Status) {
	case "queued", "pending", "processing", "running":
		return TaskStatus{State: TaskStatePending}, nil
	case "done":
		return TaskStatus{State: TaskStateDone}, nil
	case "error", "failed", "expired":
		return TaskStatus{State: TaskStateFailed, Message: sr.Message}, nil
	default:
		return TaskStatus{}, fmt.Errorf("unknown remote task status %q", sr.Status)
	}
}

type bundleFile struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
}

type bundleResponse struct {
	Files []bundleFile `json:"files"`
}

// DownloadTask fetches the bundle listing and materializes every file into
// destDir. Existing files are kept unless force is set.
func (c *HTTPClient) DownloadTask(ctx context.Context, taskID, destDir string, force bool) error {
	data, err := c.doJSON(ctx, http.MethodGet, c.endpoint+"/bundle/"+taskID, nil)
	if err != nil {
		return fmt.Errorf("bundle listing for task %s failed: %w", taskID, err)
	}

	var br bundleResponse
	if err := json.Unmarshal(data, &br); err != nil {
		return fmt.Errorf("failed to decode bundle listing: %w", err)
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}

	for _, f := range br.Files {
		// Bundle listings are remote input; keep file names flat.
		name := filepath.Base(f.FileName)
		dest := filepath.Join(destDir, name)
		if !force {
			if _, err := os.Stat(dest); err == nil {
				slog.Info("Keeping existing result file", "file", name)
				continue
			}
		}
		if err := c.downloadFile(ctx, taskID, f.FileID, dest); err != nil {
			return err
		}
		slog.Info("Downloaded result file", "task", taskID, "file", name)
	}
	return nil
}

// downloadFile streams one bundle file to dest.
func (c *HTTPClient) downloadFile(ctx context.Context, taskID, fileID, dest string) error {
	if err := c.ensureToken(ctx); err != nil {
		return err
	}

	url := c.endpoint + "/bundle/" + taskID + "/" + fileID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create download request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("download of %s failed: %w", fileID, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return &HTTPError{StatusCode: resp.StatusCode, URL: url, Message: resp.Status}
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}
	return out.Close()
}

// ProductLayers returns the layer catalog for a product, keyed by layer name.
func (c *HTTPClient) ProductLayers(ctx context.Context, product string) (map[string]Layer, error) {
	data, err := c.doJSON(ctx, http.MethodGet, c.endpoint+"/product/"+product, nil)
	if err != nil {
		return nil, fmt.Errorf("layer catalog lookup for %s failed: %w", product, err)
	}

	var raw map[string]struct {
		Description string `json:"Description"`
		IsQA        bool   `json:"IsQA"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode layer catalog: %w", err)
	}

	layers := make(map[string]Layer, len(raw))
	for name, meta := range raw {
		layers[name] = Layer{Name: name, Description: meta.Description, IsQA: meta.IsQA}
	}
	return layers, nil
}
