package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"barsync/internal/domain"
	"barsync/internal/util"
)

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// maxReasonLen bounds the error text stored per failed date.
const maxReasonLen = 500

// PostgresStore implements Store on a pgx connection pool. Price-bar
// writes use the bulk-copy protocol into a transient staging table and
// a single set-based merge.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects a pool sized to maxConns, verifies
// connectivity and creates the schema when missing.
func NewPostgresStore(ctx context.Context, url string, maxConns int) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 4
	}
	cfg.MaxConns = int32(maxConns)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	// The pool connects lazily and the database may still be starting
	// when a daemon comes up, so probe with backoff before touching the
	// schema.
	if err := util.Retry(ctx, 3, time.Second, func() error {
		return pool.Ping(ctx)
	}); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.ensureTables(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Ping verifies the pool is usable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) ensureTables(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS instruments (
			id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			symbol TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL DEFAULT 'stock',
			sector TEXT NOT NULL DEFAULT '',
			market_cap DOUBLE PRECISION NOT NULL DEFAULT 0,
			price DOUBLE PRECISION NOT NULL DEFAULT 0,
			first_trade_date DATE,
			last_trade_date DATE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS price_bars (
			instrument_id BIGINT NOT NULL REFERENCES instruments(id) ON DELETE CASCADE,
			ts TIMESTAMPTZ NOT NULL,
			granularity TEXT NOT NULL,
			open DOUBLE PRECISION NOT NULL,
			high DOUBLE PRECISION NOT NULL,
			low DOUBLE PRECISION NOT NULL,
			close DOUBLE PRECISION NOT NULL,
			volume BIGINT NOT NULL,
			vwap DOUBLE PRECISION,
			transactions BIGINT,
			PRIMARY KEY (instrument_id, ts, granularity)
		)`,
		`CREATE TABLE IF NOT EXISTS ingestion_jobs (
			id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			data_type TEXT NOT NULL,
			start_date DATE NOT NULL,
			end_date DATE NOT NULL,
			concurrency INT NOT NULL,
			total_dates INT NOT NULL DEFAULT 0,
			completed_dates INT NOT NULL DEFAULT 0,
			failed_dates INT NOT NULL DEFAULT 0,
			total_records BIGINT NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'in_progress',
			started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			finished_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS date_progress (
			job_id BIGINT NOT NULL REFERENCES ingestion_jobs(id) ON DELETE CASCADE,
			date DATE NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			records BIGINT NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			duration_ms BIGINT NOT NULL DEFAULT 0,
			started_at TIMESTAMPTZ,
			finished_at TIMESTAMPTZ,
			PRIMARY KEY (job_id, date)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_price_bars_ts ON price_bars (ts)`,
	}
	for _, stmt := range ddl {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}
	return nil
}

// runInTx runs fn in one transaction, rolling back on error.
func (s *PostgresStore) runInTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ---------------------------------------------------------------------------
// InstrumentStore implementation
// ---------------------------------------------------------------------------

// InsertInstruments inserts new instruments in one unnest-based batch,
// ignoring symbols that already exist.
func (s *PostgresStore) InsertInstruments(ctx context.Context, instruments []domain.Instrument) (int64, error) {
	if len(instruments) == 0 {
		return 0, nil
	}

	symbols := make([]string, len(instruments))
	names := make([]string, len(instruments))
	kinds := make([]string, len(instruments))
	sectors := make([]string, len(instruments))
	caps := make([]float64, len(instruments))
	for i, inst := range instruments {
		symbols[i] = inst.Symbol
		names[i] = inst.Name
		kinds[i] = string(inst.Kind)
		sectors[i] = inst.Sector
		caps[i] = inst.MarketCap
	}

	cmd, err := s.pool.Exec(ctx, `
		INSERT INTO instruments (symbol, name, kind, sector, market_cap)
		SELECT * FROM unnest($1::text[], $2::text[], $3::text[], $4::text[], $5::float8[])
		ON CONFLICT (symbol) DO NOTHING`,
		symbols, names, kinds, sectors, caps)
	if err != nil {
		return 0, fmt.Errorf("inserting instruments: %w", err)
	}
	return cmd.RowsAffected(), nil
}

// UpdateInstrumentDetails refreshes metadata for one symbol.
func (s *PostgresStore) UpdateInstrumentDetails(ctx context.Context, inst domain.Instrument) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE instruments
		SET name = $2, kind = $3, sector = $4, market_cap = $5, updated_at = now()
		WHERE symbol = $1`,
		inst.Symbol, inst.Name, string(inst.Kind), inst.Sector, inst.MarketCap)
	if err != nil {
		return fmt.Errorf("updating instrument %s: %w", inst.Symbol, err)
	}
	return nil
}

// ResolveInstrumentIDs maps symbols to ids in one round trip.
func (s *PostgresStore) ResolveInstrumentIDs(ctx context.Context, symbols []string) (map[string]int64, error) {
	if len(symbols) == 0 {
		return map[string]int64{}, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT symbol, id FROM instruments WHERE symbol = ANY($1)`, symbols)
	if err != nil {
		return nil, fmt.Errorf("resolving instruments: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64, len(symbols))
	for rows.Next() {
		var symbol string
		var id int64
		if err := rows.Scan(&symbol, &id); err != nil {
			return nil, err
		}
		out[symbol] = id
	}
	return out, rows.Err()
}

// CreateMissingInstruments inserts placeholder rows for unseen tickers.
func (s *PostgresStore) CreateMissingInstruments(ctx context.Context, symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO instruments (symbol, name)
		SELECT s, s FROM unnest($1::text[]) AS s
		ON CONFLICT (symbol) DO NOTHING`,
		symbols)
	if err != nil {
		return fmt.Errorf("creating missing instruments: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// PriceBarStore implementation
// ---------------------------------------------------------------------------

// UpsertPriceBars copies the batch into a transient staging table and
// merges it into price_bars with one set-based statement. The batch must
// not repeat an (instrument, ts, granularity) key; callers dedupe first.
// For day bars the same transaction also maintains each instrument's
// reference price and first/last trade dates.
func (s *PostgresStore) UpsertPriceBars(ctx context.Context, bars []domain.PriceBar) (int64, error) {
	if len(bars) == 0 {
		return 0, nil
	}

	var affected int64
	err := s.runInTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			CREATE TEMP TABLE price_bars_stage
			(LIKE price_bars INCLUDING DEFAULTS)
			ON COMMIT DROP`)
		if err != nil {
			return fmt.Errorf("creating staging table: %w", err)
		}

		values := make([][]any, len(bars))
		for i, b := range bars {
			values[i] = []any{
				b.InstrumentID, b.Timestamp, string(b.Granularity),
				b.Open, b.High, b.Low, b.Close, b.Volume,
				b.VWAP, b.Transactions,
			}
		}
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"price_bars_stage"},
			[]string{"instrument_id", "ts", "granularity", "open", "high", "low", "close", "volume", "vwap", "transactions"},
			pgx.CopyFromRows(values),
		)
		if err != nil {
			return fmt.Errorf("bulk copy into staging: %w", err)
		}

		cmd, err := tx.Exec(ctx, `
			INSERT INTO price_bars (instrument_id, ts, granularity, open, high, low, close, volume, vwap, transactions)
			SELECT instrument_id, ts, granularity, open, high, low, close, volume, vwap, transactions
			FROM price_bars_stage
			ON CONFLICT (instrument_id, ts, granularity) DO UPDATE SET
				open = EXCLUDED.open,
				high = EXCLUDED.high,
				low = EXCLUDED.low,
				close = EXCLUDED.close,
				volume = EXCLUDED.volume,
				vwap = EXCLUDED.vwap,
				transactions = EXCLUDED.transactions`)
		if err != nil {
			return fmt.Errorf("merging staged bars: %w", err)
		}
		affected = cmd.RowsAffected()

		if bars[0].Granularity == domain.GranularityDay {
			_, err = tx.Exec(ctx, `
				UPDATE instruments i SET
					price = CASE
						WHEN i.last_trade_date IS NULL OR latest.day >= i.last_trade_date
						THEN latest.close ELSE i.price
					END,
					first_trade_date = LEAST(COALESCE(i.first_trade_date, latest.day), earliest.day),
					last_trade_date = GREATEST(COALESCE(i.last_trade_date, latest.day), latest.day),
					updated_at = now()
				FROM (
					SELECT DISTINCT ON (instrument_id) instrument_id, ts::date AS day, close
					FROM price_bars_stage ORDER BY instrument_id, ts DESC
				) latest
				JOIN (
					SELECT instrument_id, min(ts)::date AS day
					FROM price_bars_stage GROUP BY instrument_id
				) earliest USING (instrument_id)
				WHERE i.id = latest.instrument_id`)
			if err != nil {
				return fmt.Errorf("maintaining instrument trade dates: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// CountPriceBars returns the total stored bar count.
func (s *PostgresStore) CountPriceBars(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM price_bars`).Scan(&n)
	return n, err
}

// ---------------------------------------------------------------------------
// JobStore implementation
// ---------------------------------------------------------------------------

// CreateJob inserts the job row and fills in ID and StartedAt.
func (s *PostgresStore) CreateJob(ctx context.Context, job *domain.IngestionJob) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO ingestion_jobs (data_type, start_date, end_date, concurrency, total_dates, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, started_at`,
		string(job.DataType), job.StartDate, job.EndDate, job.Concurrency,
		job.TotalDates, string(domain.JobInProgress),
	).Scan(&job.ID, &job.StartedAt)
	if err != nil {
		return fmt.Errorf("creating job: %w", err)
	}
	job.Status = domain.JobInProgress
	return nil
}

// CreateDateProgress bulk-creates pending rows with the copy protocol.
func (s *PostgresStore) CreateDateProgress(ctx context.Context, jobID int64, dates []time.Time) error {
	if len(dates) == 0 {
		return nil
	}

	values := make([][]any, len(dates))
	for i, d := range dates {
		values[i] = []any{jobID, d, string(domain.DatePending)}
	}
	_, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"date_progress"},
		[]string{"job_id", "date", "status"},
		pgx.CopyFromRows(values),
	)
	if err != nil {
		return fmt.Errorf("creating date progress rows: %w", err)
	}
	return nil
}

// MarkDateStarted moves a date to downloading.
func (s *PostgresStore) MarkDateStarted(ctx context.Context, jobID int64, date time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE date_progress SET status = $3, started_at = now()
		WHERE job_id = $1 AND date = $2`,
		jobID, date, string(domain.DateDownloading))
	return err
}

// MarkDateCompleted finalizes a date as completed.
func (s *PostgresStore) MarkDateCompleted(ctx context.Context, jobID int64, date time.Time, records int64, duration time.Duration) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE date_progress
		SET status = $3, records = $4, duration_ms = $5, finished_at = now()
		WHERE job_id = $1 AND date = $2`,
		jobID, date, string(domain.DateCompleted), records, duration.Milliseconds())
	return err
}

// MarkDateFailed finalizes a date as failed with a bounded reason.
func (s *PostgresStore) MarkDateFailed(ctx context.Context, jobID int64, date time.Time, reason string, duration time.Duration) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE date_progress
		SET status = $3, error = $4, duration_ms = $5, finished_at = now()
		WHERE job_id = $1 AND date = $2`,
		jobID, date, string(domain.DateFailed), truncateReason(reason), duration.Milliseconds())
	return err
}

// UpdateJobCounts writes running totals after each settled batch.
func (s *PostgresStore) UpdateJobCounts(ctx context.Context, jobID int64, completed, failed int, records int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE ingestion_jobs
		SET completed_dates = $2, failed_dates = $3, total_records = $4
		WHERE id = $1`,
		jobID, completed, failed, records)
	return err
}

// FinalizeJob sets terminal status and finish time.
func (s *PostgresStore) FinalizeJob(ctx context.Context, jobID int64, status domain.JobStatus) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE ingestion_jobs SET status = $2, finished_at = now()
		WHERE id = $1`,
		jobID, string(status))
	return err
}

// CompletedDates lists dates already completed within a job.
func (s *PostgresStore) CompletedDates(ctx context.Context, jobID int64) ([]time.Time, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT date FROM date_progress
		WHERE job_id = $1 AND status = $2
		ORDER BY date`,
		jobID, string(domain.DateCompleted))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		dates = append(dates, d.UTC())
	}
	return dates, rows.Err()
}

// ---------------------------------------------------------------------------
// StatusStore implementation
// ---------------------------------------------------------------------------

const jobColumns = `id, data_type, start_date, end_date, concurrency,
	total_dates, completed_dates, failed_dates, total_records, status,
	started_at, finished_at`

// GetJob returns one job, or nil when absent.
func (s *PostgresStore) GetJob(ctx context.Context, id int64) (*domain.IngestionJob, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM ingestion_jobs WHERE id = $1`, id)

	job, err := scanJob(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ListJobs returns recent jobs, newest first.
func (s *PostgresStore) ListJobs(ctx context.Context, limit int) ([]domain.IngestionJob, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM ingestion_jobs ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.IngestionJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// ListDateProgress returns all progress rows for a job in date order.
func (s *PostgresStore) ListDateProgress(ctx context.Context, jobID int64) ([]domain.DateProgress, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT job_id, date, status, records, error, duration_ms, started_at, finished_at
		FROM date_progress WHERE job_id = $1 ORDER BY date`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DateProgress
	for rows.Next() {
		var p domain.DateProgress
		var status string
		if err := rows.Scan(&p.JobID, &p.Date, &status, &p.Records, &p.Error,
			&p.DurationMS, &p.StartedAt, &p.FinishedAt); err != nil {
			return nil, err
		}
		p.Date = p.Date.UTC()
		p.Status = domain.DateStatus(status)
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanJob(row pgx.Row) (*domain.IngestionJob, error) {
	var job domain.IngestionJob
	var dataType, status string
	err := row.Scan(&job.ID, &dataType, &job.StartDate, &job.EndDate,
		&job.Concurrency, &job.TotalDates, &job.CompletedDates, &job.FailedDates,
		&job.TotalRecords, &status, &job.StartedAt, &job.FinishedAt)
	if err != nil {
		return nil, err
	}
	job.DataType = domain.DataType(dataType)
	job.Status = domain.JobStatus(status)
	job.StartDate = job.StartDate.UTC()
	job.EndDate = job.EndDate.UTC()
	return &job, nil
}

func truncateReason(reason string) string {
	if len(reason) > maxReasonLen {
		return reason[:maxReasonLen]
	}
	return reason
}
