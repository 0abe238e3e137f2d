package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is a typed HTTP client for the clearci API, used by the CLI and
// anything else driving the server programmatically.
type Client struct {
	baseURL string
	apiKey  string
	token   string
	http    *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithAPIKey authenticates requests with an API key.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithToken authenticates requests with a JWT bearer token.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithTimeout overrides the default 30s request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// New creates a client for the given base URL, e.g. "http://ci.example.com:8080".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// ClearCaseView mirrors the server's SCM settings for a job.
type ClearCaseView struct {
	ViewTag    string `json:"view_tag,omitempty"`
	ConfigSpec string `json:"config_spec,omitempty"`
	Verbose    bool   `json:"verbose,omitempty"`
}

// RetryPolicy mirrors the server's retry settings.
type RetryPolicy struct {
	MaxRetries      int    `json:"max_retries,omitempty"`
	BackoffStrategy string `json:"backoff_strategy,omitempty"`
	InitialInterval string `json:"initial_interval,omitempty"`
	MaxInterval     string `json:"max_interval,omitempty"`
}

// Limits mirrors the server's per-execution limits.
type Limits struct {
	Timeout     string `json:"timeout,omitempty"`
	MaxLogBytes int64  `json:"max_log_bytes,omitempty"`
}

// JobSpec is the payload for creating a job.
type JobSpec struct {
	Name        string        `json:"name"`
	Schedule    string        `json:"schedule"`
	Command     string        `json:"command"`
	SCM         ClearCaseView `json:"scm,omitempty"`
	RetryPolicy RetryPolicy   `json:"retry_policy,omitempty"`
	Limits      Limits        `json:"limits,omitempty"`
}

// JobPatch updates selected fields of a job. Nil fields are left untouched.
type JobPatch struct {
	Schedule    *string        `json:"schedule,omitempty"`
	Command     *string        `json:"command,omitempty"`
	SCM         *ClearCaseView `json:"scm,omitempty"`
	RetryPolicy *RetryPolicy   `json:"retry_policy,omitempty"`
	Limits      *Limits        `json:"limits,omitempty"`
}

// Job is the server's representation of a job.
type Job struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Schedule    string        `json:"schedule"`
	Command     string        `json:"command"`
	SCM         ClearCaseView `json:"scm"`
	OwnerID     string        `json:"owner_id,omitempty"`
	RetryPolicy RetryPolicy   `json:"retry_policy"`
	Limits      Limits        `json:"limits"`
	Status      string        `json:"status"`
	NextRunAt   *time.Time    `json:"next_run_at"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Execution is one run of a job.
type Execution struct {
	ID          string     `json:"id"`
	JobID       string     `json:"job_id"`
	NodeID      *string    `json:"node_id"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
	Status      string     `json:"status"`
	Attempt     int        `json:"attempt"`
	ExitCode    int        `json:"exit_code"`
	OutputURI   string     `json:"output_uri"`
	Error       string     `json:"error,omitempty"`
}

// Node is a live executor as reported by the cluster registry.
type Node struct {
	ID   string `json:"id"`
	Meta struct {
		Hostname string `json:"hostname"`
		CPUs     int    `json:"cpus"`
		MemoryMB uint64 `json:"memory_mb"`
		Version  string `json:"version,omitempty"`
	} `json:"meta"`
}

// CreateJob registers a new job.
func (c *Client) CreateJob(ctx context.Context, spec JobSpec) (*Job, error) {
	var job Job
	if err := c.do(ctx, http.MethodPost, "/api/v1/jobs", spec, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJob fetches a job by UUID or name.
func (c *Client) GetJob(ctx context.Context, nameOrID string) (*Job, error) {
	var job Job
	if err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+nameOrID, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs pages through registered jobs.
func (c *Client) ListJobs(ctx context.Context, limit, offset int) ([]Job, error) {
	var out struct {
		Jobs []Job `json:"jobs"`
	}
	path := fmt.Sprintf("/api/v1/jobs?limit=%d&offset=%d", limit, offset)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

// UpdateJob patches a job.
func (c *Client) UpdateJob(ctx context.Context, nameOrID string, patch JobPatch) (*Job, error) {
	var job Job
	if err := c.do(ctx, http.MethodPatch, "/api/v1/jobs/"+nameOrID, patch, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// DeleteJob removes a job. Requires the admin role.
func (c *Client) DeleteJob(ctx context.Context, nameOrID string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/jobs/"+nameOrID, nil, nil)
}

// PauseJob stops a job's schedule.
func (c *Client) PauseJob(ctx context.Context, nameOrID string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/jobs/"+nameOrID+"/pause", nil, nil)
}

// ResumeJob reactivates a paused job.
func (c *Client) ResumeJob(ctx context.Context, nameOrID string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/jobs/"+nameOrID+"/resume", nil, nil)
}

// TriggerJob starts a build immediately and returns the execution ID.
func (c *Client) TriggerJob(ctx context.Context, nameOrID string) (string, error) {
	var out struct {
		ExecutionID string `json:"execution_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/jobs/"+nameOrID+"/trigger", nil, &out); err != nil {
		return "", err
	}
	return out.ExecutionID, nil
}

// ListExecutions pages through a job's build history, newest first.
func (c *Client) ListExecutions(ctx context.Context, nameOrID string, limit, offset int) ([]Execution, error) {
	var out struct {
		Executions []Execution `json:"executions"`
	}
	path := fmt.Sprintf("/api/v1/jobs/%s/executions?limit=%d&offset=%d", nameOrID, limit, offset)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Executions, nil
}

// GetExecution fetches one execution by ID.
func (c *Client) GetExecution(ctx context.Context, id string) (*Execution, error) {
	var exec Execution
	if err := c.do(ctx, http.MethodGet, "/api/v1/executions/"+id, nil, &exec); err != nil {
		return nil, err
	}
	return &exec, nil
}

// GetExecutionLog downloads an execution's console log.
func (c *Client) GetExecutionLog(ctx context.Context, id string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/executions/"+id+"/log", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiErrorFrom(resp)
	}
	return io.ReadAll(resp.Body)
}

// CancelExecution marks a pending or running execution cancelled.
func (c *Client) CancelExecution(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/executions/"+id+"/cancel", nil, nil)
}

// ListNodes reports live executor nodes.
func (c *Client) ListNodes(ctx context.Context) ([]Node, error) {
	var out struct {
		Nodes []Node `json:"nodes"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/cluster/nodes", nil, &out); err != nil {
		return nil, err
	}
	return out.Nodes, nil
}

// Leader reports which scheduler instance holds the election.
func (c *Client) Leader(ctx context.Context) (string, error) {
	var out struct {
		Leader string `json:"leader"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/cluster/leader", nil, &out); err != nil {
		return "", err
	}
	return out.Leader, nil
}

// Health checks the server and its backing services.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	} else if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apiErrorFrom(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// apiErrorFrom extracts the server's error message from a failed response.
func apiErrorFrom(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		apiErr.Message = body.Error
	} else {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
