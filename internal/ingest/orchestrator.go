// Package ingest drives bulk historical market-data ingestion. The
// orchestrator walks a date range in concurrency-bounded batches; each
// date-unit downloads one flat file, parses it, and bulk-loads the
// result, recording per-date progress rows that double as the
// resumability ledger.
package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"barsync/internal/domain"
	"barsync/internal/flatfile"
	"barsync/internal/store"
	"barsync/internal/util"
)

const (
	// DefaultConcurrency bounds in-flight date-units per batch.
	DefaultConcurrency = 15

	// DefaultMarket is the flat-file market prefix for US equities.
	DefaultMarket = "us_stocks_sip"
)

// Downloader is the slice of the flat-file client the orchestrator needs.
type Downloader interface {
	TestConnection(ctx context.Context) error
	DownloadWithRetry(ctx context.Context, key string) (io.ReadCloser, error)
}

var _ Downloader = (*flatfile.Client)(nil)

// RunStore is the slice of the store the orchestrator needs.
type RunStore interface {
	LoadStore
	store.JobStore
}

// Options configures one ingestion run.
type Options struct {
	DataType    domain.DataType
	Start       time.Time
	End         time.Time
	Market      string      // flat-file key prefix, defaults to DefaultMarket
	Concurrency int         // batch size, defaults to DefaultConcurrency
	Exclude     []time.Time // dates to skip, e.g. already completed in a resumed job
	DryRun      bool        // download and parse only; no job rows, no loads
}

// Summary reports the outcome of a finished run.
type Summary struct {
	JobID          int64
	Status         domain.JobStatus
	TotalDates     int
	CompletedDates int
	FailedDates    int
	TotalRecords   int64
	Elapsed        time.Duration
}

// SuccessRate is the fraction of dates completed, in [0, 1].
func (s *Summary) SuccessRate() float64 {
	if s.TotalDates == 0 {
		return 0
	}
	return float64(s.CompletedDates) / float64(s.TotalDates)
}

// Orchestrator runs one bulk ingestion job over a range of trading days.
// Dates are processed in batches of Concurrency; every date in a batch
// settles before the next batch starts, so at most Concurrency downloads
// and loads are in flight at once. A failed date never stops the job.
type Orchestrator struct {
	store      RunStore
	downloader Downloader
	loader     *Loader
	archive    *store.Archive // optional, nil disables archiving
	opts       Options
	log        *slog.Logger
}

// NewOrchestrator creates an Orchestrator. archive may be nil to skip
// the per-date parquet archive. Zero-value options fall back to package
// defaults.
func NewOrchestrator(s RunStore, dl Downloader, archive *store.Archive, opts Options) *Orchestrator {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Market == "" {
		opts.Market = DefaultMarket
	}
	opts.Start = util.DateUTC(opts.Start)
	opts.End = util.DateUTC(opts.End)

	return &Orchestrator{
		store:      s,
		downloader: dl,
		loader:     NewLoader(s),
		archive:    archive,
		opts:       opts,
		log:        slog.Default().With("component", "orchestrator"),
	}
}

type dateResult struct {
	failed  bool
	records int64
}

// Run executes the job and returns its Summary. Dates that fail (a
// missing file on a market holiday is the common case) are recorded and
// skipped over, so the returned error is non-nil only for setup failures
// or a cancelled context; per-date outcomes live in the Summary.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	if err := o.validate(); err != nil {
		return nil, err
	}
	if err := o.downloader.TestConnection(ctx); err != nil {
		return nil, fmt.Errorf("object store probe failed: %w", err)
	}

	dates := o.candidateDates()
	if len(dates) == 0 {
		return nil, fmt.Errorf("no trading days between %s and %s",
			o.opts.Start.Format("2006-01-02"), o.opts.End.Format("2006-01-02"))
	}

	var jobID int64
	if !o.opts.DryRun {
		job := &domain.IngestionJob{
			DataType:    o.opts.DataType,
			StartDate:   o.opts.Start,
			EndDate:     o.opts.End,
			Concurrency: o.opts.Concurrency,
			TotalDates:  len(dates),
		}
		if err := o.store.CreateJob(ctx, job); err != nil {
			return nil, fmt.Errorf("creating job: %w", err)
		}
		if err := o.store.CreateDateProgress(ctx, job.ID, dates); err != nil {
			return nil, fmt.Errorf("creating date progress rows: %w", err)
		}
		jobID = job.ID
	}

	totalBatches := (len(dates) + o.opts.Concurrency - 1) / o.opts.Concurrency
	o.log.Info("starting ingestion",
		"job", jobID,
		"dataType", o.opts.DataType,
		"dates", len(dates),
		"batches", totalBatches,
		"concurrency", o.opts.Concurrency,
		"dryRun", o.opts.DryRun,
	)

	// Ledger writes after this point survive cancellation so the job and
	// progress rows reflect what actually ran.
	ledgerCtx := context.WithoutCancel(ctx)

	var (
		runStart     = time.Now()
		completedN   int
		failedN      int
		totalRecords int64
		cancelled    bool
	)

	for batchStart := 0; batchStart < len(dates); batchStart += o.opts.Concurrency {
		if ctx.Err() != nil {
			cancelled = true
			break
		}

		batch := dates[batchStart:min(batchStart+o.opts.Concurrency, len(dates))]
		results := make([]dateResult, len(batch))

		var wg sync.WaitGroup
		for i, date := range batch {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i] = o.processDate(ctx, jobID, date)
			}()
		}
		wg.Wait()

		for _, r := range results {
			if r.failed {
				failedN++
			} else {
				completedN++
				totalRecords += r.records
			}
		}

		if !o.opts.DryRun {
			if err := o.store.UpdateJobCounts(ledgerCtx, jobID, completedN, failedN, totalRecords); err != nil {
				o.log.Error("updating job counts", "job", jobID, "err", err)
			}
		}

		processed := completedN + failedN
		remaining := len(dates) - processed
		jobDatesRemaining.Set(float64(remaining))

		elapsed := time.Since(runStart)
		var eta time.Duration
		if processed > 0 {
			eta = elapsed / time.Duration(processed) * time.Duration(remaining)
		}
		o.log.Info("batch settled",
			"batch", fmt.Sprintf("%d/%d", batchStart/o.opts.Concurrency+1, totalBatches),
			"completed", completedN,
			"failed", failedN,
			"records", totalRecords,
			"elapsed", elapsed.Round(time.Second),
			"eta", eta.Round(time.Second),
		)
	}

	status := domain.JobCompleted
	if failedN > 0 || completedN+failedN < len(dates) {
		status = domain.JobFailed
	}
	if !o.opts.DryRun {
		if err := o.store.FinalizeJob(ledgerCtx, jobID, status); err != nil {
			o.log.Error("finalizing job", "job", jobID, "err", err)
		}
	}

	summary := &Summary{
		JobID:          jobID,
		Status:         status,
		TotalDates:     len(dates),
		CompletedDates: completedN,
		FailedDates:    failedN,
		TotalRecords:   totalRecords,
		Elapsed:        time.Since(runStart),
	}
	o.log.Info("ingestion finished",
		"job", jobID,
		"status", status,
		"completed", completedN,
		"failed", failedN,
		"records", totalRecords,
		"elapsed", summary.Elapsed.Round(time.Second),
		"successRate", fmt.Sprintf("%.1f%%", summary.SuccessRate()*100),
	)

	if cancelled {
		return summary, ctx.Err()
	}
	return summary, nil
}

func (o *Orchestrator) validate() error {
	switch o.opts.DataType {
	case domain.DataTypeDayAggs, domain.DataTypeMinuteAggs:
	default:
		return fmt.Errorf("unknown data type %q", o.opts.DataType)
	}
	if o.opts.End.Before(o.opts.Start) {
		return fmt.Errorf("end date %s precedes start date %s",
			o.opts.End.Format("2006-01-02"), o.opts.Start.Format("2006-01-02"))
	}
	return nil
}

// candidateDates lists the trading days of the range minus exclusions.
func (o *Orchestrator) candidateDates() []time.Time {
	dates := util.TradingDays(o.opts.Start, o.opts.End)
	if len(o.opts.Exclude) == 0 {
		return dates
	}

	skip := make(map[time.Time]struct{}, len(o.opts.Exclude))
	for _, d := range o.opts.Exclude {
		skip[util.DateUTC(d)] = struct{}{}
	}
	out := dates[:0]
	for _, d := range dates {
		if _, excluded := skip[d]; !excluded {
			out = append(out, d)
		}
	}
	return out
}

// processDate drives one date through its state machine. Always returns
// a result; errors terminate the date, never the job.
func (o *Orchestrator) processDate(ctx context.Context, jobID int64, date time.Time) dateResult {
	day := date.Format("2006-01-02")
	ledgerCtx := context.WithoutCancel(ctx)

	if !o.opts.DryRun {
		if err := o.store.MarkDateStarted(ledgerCtx, jobID, date); err != nil {
			o.log.Error("marking date started", "date", day, "err", err)
		}
	}

	start := time.Now()
	records, err := o.ingestDate(ctx, date)
	elapsed := time.Since(start)
	dateDurationSeconds.Observe(elapsed.Seconds())

	if err != nil {
		reason := err.Error()
		if flatfile.IsNotFound(err) {
			reason = "no data file (likely market holiday)"
			o.log.Info("no data file", "date", day)
		} else {
			o.log.Warn("date failed", "date", day, "err", err)
		}
		datesProcessedTotal.WithLabelValues("failed").Inc()
		if !o.opts.DryRun {
			if err := o.store.MarkDateFailed(ledgerCtx, jobID, date, reason, elapsed); err != nil {
				o.log.Error("marking date failed", "date", day, "err", err)
			}
		}
		return dateResult{failed: true}
	}

	datesProcessedTotal.WithLabelValues("completed").Inc()
	recordsLoadedTotal.Add(float64(records))
	if !o.opts.DryRun {
		if err := o.store.MarkDateCompleted(ledgerCtx, jobID, date, records, elapsed); err != nil {
			o.log.Error("marking date completed", "date", day, "err", err)
		}
	}
	o.log.Debug("date done", "date", day, "records", records, "elapsed", elapsed.Round(time.Millisecond))
	return dateResult{records: records}
}

// ingestDate downloads, parses, and loads one date's flat file.
func (o *Orchestrator) ingestDate(ctx context.Context, date time.Time) (int64, error) {
	key := flatfile.ObjectKey(o.opts.Market, o.opts.DataType, date)

	downloadsInFlight.Inc()
	body, err := o.downloader.DownloadWithRetry(ctx, key)
	downloadsInFlight.Dec()
	if err != nil {
		return 0, err
	}
	defer body.Close()

	bars, skipped, err := flatfile.ParseAggregates(body, o.opts.DataType.Granularity())
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	if skipped > 0 {
		o.log.Warn("skipped malformed rows", "key", key, "rows", skipped)
	}
	if len(bars) == 0 {
		return 0, fmt.Errorf("%s: empty or corrupt payload", key)
	}

	if o.opts.DryRun {
		return int64(len(bars)), nil
	}

	if o.archive != nil {
		// Archive failures degrade to a log line; the relational load is
		// the authoritative path.
		if err := o.archive.WriteDate(o.opts.DataType, date, bars); err != nil {
			o.log.Error("archiving date", "key", key, "err", err)
		}
	}

	records, err := o.loader.Load(ctx, bars)
	if err != nil {
		return 0, fmt.Errorf("loading %s: %w", key, err)
	}
	return records, nil
}
