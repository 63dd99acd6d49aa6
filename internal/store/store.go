// Package store defines storage interfaces for the ingestion pipeline
// and provides Postgres (bulk copy), SQLite (batched insert fallback)
// and Parquet (archive) implementations.
package store

import (
	"context"
	"time"

	"barsync/internal/domain"
)

// InstrumentStore persists and resolves the instrument universe.
type InstrumentStore interface {
	// InsertInstruments inserts new instruments in one batch, ignoring
	// symbols that already exist. Returns the number inserted.
	InsertInstruments(ctx context.Context, instruments []domain.Instrument) (int64, error)

	// UpdateInstrumentDetails refreshes metadata for one existing symbol.
	UpdateInstrumentDetails(ctx context.Context, inst domain.Instrument) error

	// ResolveInstrumentIDs maps symbols to instrument ids in one round
	// trip. Unknown symbols are simply absent from the result.
	ResolveInstrumentIDs(ctx context.Context, symbols []string) (map[string]int64, error)

	// CreateMissingInstruments inserts placeholder rows (price 0) for
	// symbols first seen in a data file, ignoring existing ones.
	CreateMissingInstruments(ctx context.Context, symbols []string) error
}

// PriceBarStore persists price history.
type PriceBarStore interface {
	// UpsertPriceBars merges one batch keyed by (instrument, timestamp,
	// granularity), updating on conflict. The whole batch commits or
	// rolls back as one transaction. Returns rows affected.
	UpsertPriceBars(ctx context.Context, bars []domain.PriceBar) (int64, error)

	// CountPriceBars returns the total number of stored bars.
	CountPriceBars(ctx context.Context) (int64, error)
}

// JobStore tracks ingestion jobs and their per-date progress. Job and
// progress rows are owned by the orchestrator; everything else only
// reads them.
type JobStore interface {
	// CreateJob inserts the job row and fills in its ID and StartedAt.
	CreateJob(ctx context.Context, job *domain.IngestionJob) error

	// CreateDateProgress bulk-creates one pending row per candidate date.
	CreateDateProgress(ctx context.Context, jobID int64, dates []time.Time) error

	// MarkDateStarted moves a date to downloading and stamps its start.
	MarkDateStarted(ctx context.Context, jobID int64, date time.Time) error

	// MarkDateCompleted finalizes a date with its record count.
	MarkDateCompleted(ctx context.Context, jobID int64, date time.Time, records int64, duration time.Duration) error

	// MarkDateFailed finalizes a date with a truncated failure reason.
	MarkDateFailed(ctx context.Context, jobID int64, date time.Time, reason string, duration time.Duration) error

	// UpdateJobCounts writes the running completed/failed/record totals.
	UpdateJobCounts(ctx context.Context, jobID int64, completed, failed int, records int64) error

	// FinalizeJob sets the terminal status and finish timestamp.
	FinalizeJob(ctx context.Context, jobID int64, status domain.JobStatus) error

	// CompletedDates returns the dates already completed for a job, for
	// resume filtering by the caller.
	CompletedDates(ctx context.Context, jobID int64) ([]time.Time, error)
}

// StatusStore serves the read side polled by dashboards.
type StatusStore interface {
	// GetJob returns one job by id, or nil when absent.
	GetJob(ctx context.Context, id int64) (*domain.IngestionJob, error)

	// ListJobs returns the most recent jobs, newest first, up to limit.
	ListJobs(ctx context.Context, limit int) ([]domain.IngestionJob, error)

	// ListDateProgress returns all progress rows for a job in date order.
	ListDateProgress(ctx context.Context, jobID int64) ([]domain.DateProgress, error)
}

// Store is the full surface the commands wire up.
type Store interface {
	InstrumentStore
	PriceBarStore
	JobStore
	StatusStore

	// Ping verifies connectivity, used by the startup probe.
	Ping(ctx context.Context) error
	Close()
}
