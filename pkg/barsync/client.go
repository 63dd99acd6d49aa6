// Package barsync provides a Go client for the barsync status API.
package barsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Job is one ingestion job as reported by the status API.
type Job struct {
	ID             int64      `json:"id"`
	DataType       string     `json:"data_type"`
	StartDate      string     `json:"start_date"`
	EndDate        string     `json:"end_date"`
	Concurrency    int        `json:"concurrency"`
	TotalDates     int        `json:"total_dates"`
	CompletedDates int        `json:"completed_dates"`
	FailedDates    int        `json:"failed_dates"`
	TotalRecords   int64      `json:"total_records"`
	Status         string     `json:"status"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// DateProgress is one per-date ledger row within a job.
type DateProgress struct {
	Date       string     `json:"date"`
	Status     string     `json:"status"`
	Records    int64      `json:"records"`
	Error      string     `json:"error,omitempty"`
	DurationMS int64      `json:"duration_ms"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// JobDetail is a job plus its full date ledger.
type JobDetail struct {
	Job
	Dates []DateProgress `json:"dates"`
}

type jobsResponse struct {
	Jobs []Job `json:"jobs"`
}

// Client provides a Go SDK for the barsync status API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new status API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// ListJobs retrieves recent jobs, newest first. limit <= 0 uses the
// server default.
func (c *Client) ListJobs(ctx context.Context, limit int) ([]Job, error) {
	url := c.baseURL + "/api/jobs"
	if limit > 0 {
		url = fmt.Sprintf("%s?limit=%d", url, limit)
	}

	var resp jobsResponse
	if err := c.getJSON(ctx, url, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// GetJob retrieves one job with its date ledger, or nil when the job
// does not exist.
func (c *Client) GetJob(ctx context.Context, id int64) (*JobDetail, error) {
	var detail JobDetail
	err := c.getJSON(ctx, fmt.Sprintf("%s/api/jobs/%d", c.baseURL, id), &detail)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &detail, nil
}

// Health probes the server's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.getJSON(ctx, c.baseURL+"/healthz", nil)
}

var errNotFound = errors.New("not found")

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API returned status %d for %s", resp.StatusCode, url)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response from %s: %w", url, err)
	}
	return nil
}
