// Package httpapi provides the HTTP status API for ingestion jobs,
// serving recent jobs and their per-date ledgers in JSON format.
package httpapi

import (
	"time"

	"barsync/internal/domain"
)

// JobJSON is the JSON representation of one ingestion job.
type JobJSON struct {
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

// DateProgressJSON is the JSON representation of one per-date ledger row.
type DateProgressJSON struct {
	Date       string     `json:"date"`
	Status     string     `json:"status"`
	Records    int64      `json:"records"`
	Error      string     `json:"error,omitempty"`
	DurationMS int64      `json:"duration_ms"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// JobsResponse lists recent jobs, newest first.
type JobsResponse struct {
	Jobs []JobJSON `json:"jobs"`
}

// JobDetailResponse is one job plus its full date ledger.
type JobDetailResponse struct {
	JobJSON
	Dates []DateProgressJSON `json:"dates"`
}

// convertJob converts a domain.IngestionJob to JSON.
func convertJob(j domain.IngestionJob) JobJSON {
	return JobJSON{
		ID:             j.ID,
		DataType:       string(j.DataType),
		StartDate:      j.StartDate.Format("2006-01-02"),
		EndDate:        j.EndDate.Format("2006-01-02"),
		Concurrency:    j.Concurrency,
		TotalDates:     j.TotalDates,
		CompletedDates: j.CompletedDates,
		FailedDates:    j.FailedDates,
		TotalRecords:   j.TotalRecords,
		Status:         string(j.Status),
		StartedAt:      j.StartedAt,
		FinishedAt:     j.FinishedAt,
	}
}

// convertDateProgress converts a domain.DateProgress to JSON.
func convertDateProgress(p domain.DateProgress) DateProgressJSON {
	return DateProgressJSON{
		Date:       p.Date.Format("2006-01-02"),
		Status:     string(p.Status),
		Records:    p.Records,
		Error:      p.Error,
		DurationMS: p.DurationMS,
		StartedAt:  p.StartedAt,
		FinishedAt: p.FinishedAt,
	}
}
