// Package compute is the HTTP client adapter for the external container
// execution service jobs can be offloaded to.
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
	"time"

	"github.com/docbuild/docworker/config"
	"github.com/docbuild/docworker/internal/domain/model"
)

const requestTimeout = 30 * time.Second

// Client dispatches jobs to the compute service and cancels running tasks.
type Client struct {
	baseURL string
	queue   string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a compute Client from configuration.
func NewClient(cfg config.ComputeConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: cfg.BaseURL,
		queue:   cfg.Queue,
		http:    &http.Client{Timeout: requestTimeout},
		logger:  logger.With("component", "compute"),
	}
}

type dispatchRequest struct {
	Queue   string `json:"queue"`
	JobID   string `json:"jobId"`
	JobType string `json:"jobType"`
}

type dispatchResponse struct {
	TaskID string `json:"taskId"`
}

// Dispatch submits the job for remote execution and returns the task handle.
func (c *Client) Dispatch(ctx context.Context, job *model.Job) (string, error) {
	body, err := json.Marshal(dispatchRequest{
		Queue:   c.queue,
		JobID:   job.ID,
		JobType: string(job.Type),
	})
	if err != nil {
		return "", fmt.Errorf("marshal dispatch request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tasks", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build dispatch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("dispatch job %s: %w", job.ID, err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("dispatch job %s: unexpected status %d", job.ID, resp.StatusCode)
	}

	var out dispatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode dispatch response: %w", err)
	}
	if out.TaskID == "" {
		return "", fmt.Errorf("dispatch job %s: response missing task id", job.ID)
	}

	c.logger.InfoContext(ctx, "job dispatched to compute service", "job_id", job.ID, "task_id", out.TaskID)
	return out.TaskID, nil
}

// Cancel stops a running compute task. Canceling an already-finished task is
// not an error.
func (c *Client) Cancel(ctx context.Context, taskID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.baseURL+"/tasks/"+url.PathEscape(taskID), nil)
	if err != nil {
		return fmt.Errorf("build cancel request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cancel task %s: %w", taskID, err)
	}
	defer drainAndClose(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound, http.StatusGone:
		return nil
	default:
		return fmt.Errorf("cancel task %s: unexpected status %d", taskID, resp.StatusCode)
	}
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
