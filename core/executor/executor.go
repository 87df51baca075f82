package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/forgeq/forgeq/core/jobs"
)

// ErrUnavailable signals that no execution backend is configured. Callers
// treat it as a soft failure and fall back to demo output rather than
// failing the job.
var ErrUnavailable = errors.New("executor_unavailable")

// Executor produces code for a submitted task. Implementations must honor
// ctx cancellation; a run abandoned by its deadline is the caller's problem
// to surface, not the executor's.
type Executor interface {
	Execute(ctx context.Context, task jobs.Task) (jobs.Result, error)
}

// HTTPExecutor forwards tasks to an external generation service over HTTP.
type HTTPExecutor struct {
	baseURL string
	client  *http.Client
}

// NewHTTP returns an executor posting to baseURL. An empty baseURL yields
// an executor whose Execute always reports ErrUnavailable.
func NewHTTP(baseURL string, timeout time.Duration) *HTTPExecutor {
	return &HTTPExecutor{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (e *HTTPExecutor) Execute(ctx context.Context, task jobs.Task) (jobs.Result, error) {
	if e == nil || e.baseURL == "" {
		return jobs.Result{}, ErrUnavailable
	}

	body, err := json.Marshal(task)
	if err != nil {
		return jobs.Result{}, fmt.Errorf("encode task: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/generate", bytes.NewReader(body))
	if err != nil {
		return jobs.Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return jobs.Result{}, fmt.Errorf("executor request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return jobs.Result{}, fmt.Errorf("executor status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var result jobs.Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return jobs.Result{}, fmt.Errorf("decode result: %w", err)
	}
	if result.Language == "" {
		result.Language = task.Language
	}
	return result, nil
}
