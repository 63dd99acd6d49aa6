// Package domain defines the core types shared across the ingestion
// pipeline: instruments, price bars, ingestion jobs and their per-date
// progress records.
package domain

import "time"

// InstrumentKind classifies an instrument.
type InstrumentKind string

const (
	InstrumentStock InstrumentKind = "stock"
	InstrumentETF   InstrumentKind = "etf"
)

// Granularity is the bar interval of a data set.
type Granularity string

const (
	GranularityDay    Granularity = "day"
	GranularityMinute Granularity = "minute"
)

// DataType names a flat-file data set in object storage.
type DataType string

const (
	DataTypeDayAggs    DataType = "day_aggs_v1"
	DataTypeMinuteAggs DataType = "minute_aggs_v1"
)

// Granularity maps a data type to the bar interval it carries.
func (d DataType) Granularity() Granularity {
	if d == DataTypeMinuteAggs {
		return GranularityMinute
	}
	return GranularityDay
}

// Instrument is a tradable symbol known to the system. Rows are created
// by discovery or lazily by the bulk loader; placeholder rows carry a
// zero Price until a reference price is backfilled.
type Instrument struct {
	ID             int64
	Symbol         string
	Name           string
	Kind           InstrumentKind
	Sector         string
	MarketCap      float64
	Price          float64
	FirstTradeDate *time.Time
	LastTradeDate  *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PriceBar is one OHLCV aggregate for an instrument at a granularity.
// Ticker is the symbol as it appeared in the source file; InstrumentID
// is filled in by the loader once the symbol is resolved.
type PriceBar struct {
	InstrumentID int64
	Ticker       string
	Timestamp    time.Time
	Granularity  Granularity
	Open         float64
	High         float64
	Low          float64
	Close        float64
	Volume       int64
	VWAP         *float64
	Transactions *int64
}

// JobStatus is the lifecycle state of an ingestion job.
type JobStatus string

const (
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// IngestionJob is one bulk run over a date range. Counters are updated
// as batches settle so an observer polling the row sees live progress.
type IngestionJob struct {
	ID             int64
	DataType       DataType
	StartDate      time.Time
	EndDate        time.Time
	Concurrency    int
	TotalDates     int
	CompletedDates int
	FailedDates    int
	TotalRecords   int64
	Status         JobStatus
	StartedAt      time.Time
	FinishedAt     *time.Time
}

// DateStatus is the per-date state within a job.
type DateStatus string

const (
	DatePending     DateStatus = "pending"
	DateDownloading DateStatus = "downloading"
	DateCompleted   DateStatus = "completed"
	DateFailed      DateStatus = "failed"
)

// DateProgress records the outcome of a single trading date within a
// job. Rows are bulk-created as pending, marked downloading when a
// worker picks the date up, and finalized exactly once.
type DateProgress struct {
	JobID      int64
	Date       time.Time
	Status     DateStatus
	Records    int64
	Error      string
	DurationMS int64
	StartedAt  *time.Time
	FinishedAt *time.Time
}
