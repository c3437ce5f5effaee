package compute

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/lalrinsangsiama/cultural-sound-lab-sub002/internal/version"
)

// HTTPClient submits jobs to the external AI service.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// HTTPClientConfig holds configuration for the AI service client.
type HTTPClientConfig struct {
	BaseURL string
	APIKey  string
	// HTTPClient is optional. No client-level timeout is set by default:
	// the ai-service breaker bounds every call.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewHTTPClient creates a new AI service client.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClient{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: client,
		logger:     logger.With("component", "compute-client"),
	}
}

func (c *HTTPClient) Name() string { return BackendAIService }

type submitResponse struct {
	Success       bool   `json:"success"`
	JobID         string `json:"job_id"`
	GenerationID  string `json:"generation_id"`
	EstimatedTime int    `json:"estimated_time"`
	Message       string `json:"message"`
	Error         string `json:"error"`
}

type statusResponse struct {
	Status       string `json:"status"`
	Progress     int    `json:"progress"`
	ResultURL    string `json:"result_url"`
	ErrorMessage string `json:"error_message"`
}

// Submit posts the job to /generate. A 2xx response with success=false is
// still a failure.
func (c *HTTPClient) Submit(ctx context.Context, job Job) (*Submission, error) {
	var resp submitResponse
	if err := c.do(ctx, http.MethodPost, "/generate", job, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = resp.Message
		}
		if msg == "" {
			msg = "request not accepted"
		}
		return nil, fmt.Errorf("ai service rejected job: %s", msg)
	}
	jobID := resp.JobID
	if jobID == "" {
		// Older deployments key jobs by the generation id.
		jobID = resp.GenerationID
	}
	if jobID == "" {
		return nil, fmt.Errorf("ai service accepted job without a job id")
	}

	c.logger.Debug("job submitted", "generation_id", job.GenerationID, "job_id", jobID)
	return &Submission{JobID: jobID, EstimatedSeconds: resp.EstimatedTime}, nil
}

// Status reads /generate/{job_id}/status.
func (c *HTTPClient) Status(ctx context.Context, jobID string) (*JobStatus, error) {
	var resp statusResponse
	if err := c.do(ctx, http.MethodGet, "/generate/"+url.PathEscape(jobID)+"/status", nil, &resp); err != nil {
		return nil, err
	}
	status, ok := mapStatus(resp.Status)
	if !ok {
		return nil, fmt.Errorf("ai service returned unknown status %q", resp.Status)
	}
	return &JobStatus{
		JobID:          jobID,
		Status:         status,
		Progress:       resp.Progress,
		ResultLocation: resp.ResultURL,
		ErrorMessage:   resp.ErrorMessage,
	}, nil
}

// Health checks the AI service health endpoint.
func (c *HTTPClient) Health(ctx context.Context) error {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return err
	}
	if resp.Status != "" && resp.Status != "healthy" && resp.Status != "ok" {
		return fmt.Errorf("ai service reports %s", resp.Status)
	}
	return nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ai service request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound && strings.HasSuffix(path, "/status") {
		return ErrJobNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(data, &apiErr)
		msg := apiErr.Error
		if msg == "" {
			msg = apiErr.Message
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("ai service returned %d: %s", resp.StatusCode, msg)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
