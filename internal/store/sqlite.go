package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"barsync/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)

// sqliteChunk bounds multi-row inserts so the bind-variable count stays
// under SQLite's limit.
const sqliteChunk = 90

// SQLiteStore implements Store on a SQLite database. SQLite has no
// bulk-copy protocol, so price-bar writes fall back to large multi-row
// batched upserts inside one transaction.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and
// creates the schema when missing.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := "file:" + dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer; one connection avoids lock errors
	// under the concurrent orchestrator.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.ensureTables(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Ping verifies the database is usable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

func (s *SQLiteStore) ensureTables(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS instruments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL DEFAULT 'stock',
			sector TEXT NOT NULL DEFAULT '',
			market_cap REAL NOT NULL DEFAULT 0,
			price REAL NOT NULL DEFAULT 0,
			first_trade_date TEXT,
			last_trade_date TEXT,
			created_at INTEGER NOT NULL DEFAULT (unixepoch() * 1000),
			updated_at INTEGER NOT NULL DEFAULT (unixepoch() * 1000)
		)`,
		`CREATE TABLE IF NOT EXISTS price_bars (
			instrument_id INTEGER NOT NULL REFERENCES instruments(id) ON DELETE CASCADE,
			ts INTEGER NOT NULL,
			granularity TEXT NOT NULL,
			open REAL NOT NULL,
			high REAL NOT NULL,
			low REAL NOT NULL,
			close REAL NOT NULL,
			volume INTEGER NOT NULL,
			vwap REAL,
			transactions INTEGER,
			PRIMARY KEY (instrument_id, ts, granularity)
		)`,
		`CREATE TABLE IF NOT EXISTS ingestion_jobs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			data_type TEXT NOT NULL,
			start_date TEXT NOT NULL,
			end_date TEXT NOT NULL,
			concurrency INTEGER NOT NULL,
			total_dates INTEGER NOT NULL DEFAULT 0,
			completed_dates INTEGER NOT NULL DEFAULT 0,
			failed_dates INTEGER NOT NULL DEFAULT 0,
			total_records INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'in_progress',
			started_at INTEGER NOT NULL,
			finished_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS date_progress (
			job_id INTEGER NOT NULL REFERENCES ingestion_jobs(id) ON DELETE CASCADE,
			date TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			records INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			duration_ms INTEGER NOT NULL DEFAULT 0,
			started_at INTEGER,
			finished_at INTEGER,
			PRIMARY KEY (job_id, date)
		)`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Value helpers
// ---------------------------------------------------------------------------

func dateStr(d time.Time) string {
	return d.UTC().Format("2006-01-02")
}

func parseDate(s string) time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return t
}

func timeFromMS(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

// ---------------------------------------------------------------------------
// InstrumentStore implementation
// ---------------------------------------------------------------------------

// InsertInstruments inserts new instruments in chunked multi-row
// statements, ignoring symbols that already exist.
func (s *SQLiteStore) InsertInstruments(ctx context.Context, instruments []domain.Instrument) (int64, error) {
	if len(instruments) == 0 {
		return 0, nil
	}

	var inserted int64
	for start := 0; start < len(instruments); start += sqliteChunk {
		chunk := instruments[start:min(start+sqliteChunk, len(instruments))]

		placeholders := make([]string, len(chunk))
		args := make([]any, 0, len(chunk)*5)
		for i, inst := range chunk {
			placeholders[i] = "(?, ?, ?, ?, ?)"
			args = append(args, inst.Symbol, inst.Name, string(inst.Kind), inst.Sector, inst.MarketCap)
		}

		res, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO instruments (symbol, name, kind, sector, market_cap) VALUES `+
				strings.Join(placeholders, ", "),
			args...)
		if err != nil {
			return inserted, fmt.Errorf("inserting instruments: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += n
		}
	}
	return inserted, nil
}

// UpdateInstrumentDetails refreshes metadata for one symbol.
func (s *SQLiteStore) UpdateInstrumentDetails(ctx context.Context, inst domain.Instrument) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE instruments
		SET name = ?, kind = ?, sector = ?, market_cap = ?, updated_at = unixepoch() * 1000
		WHERE symbol = ?`,
		inst.Name, string(inst.Kind), inst.Sector, inst.MarketCap, inst.Symbol)
	if err != nil {
		return fmt.Errorf("updating instrument %s: %w", inst.Symbol, err)
	}
	return nil
}

// ResolveInstrumentIDs maps symbols to ids in chunked lookups.
func (s *SQLiteStore) ResolveInstrumentIDs(ctx context.Context, symbols []string) (map[string]int64, error) {
	out := make(map[string]int64, len(symbols))
	for start := 0; start < len(symbols); start += sqliteChunk {
		chunk := symbols[start:min(start+sqliteChunk, len(symbols))]

		placeholders := make([]string, len(chunk))
		args := make([]any, len(chunk))
		for i, sym := range chunk {
			placeholders[i] = "?"
			args[i] = sym
		}

		rows, err := s.db.QueryContext(ctx,
			`SELECT symbol, id FROM instruments WHERE symbol IN (`+strings.Join(placeholders, ", ")+`)`,
			args...)
		if err != nil {
			return nil, fmt.Errorf("resolving instruments: %w", err)
		}
		for rows.Next() {
			var symbol string
			var id int64
			if err := rows.Scan(&symbol, &id); err != nil {
				rows.Close()
				return nil, err
			}
			out[symbol] = id
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}

// CreateMissingInstruments inserts placeholder rows for unseen tickers.
func (s *SQLiteStore) CreateMissingInstruments(ctx context.Context, symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}

	for start := 0; start < len(symbols); start += sqliteChunk {
		chunk := symbols[start:min(start+sqliteChunk, len(symbols))]

		placeholders := make([]string, len(chunk))
		args := make([]any, 0, len(chunk)*2)
		for i, sym := range chunk {
			placeholders[i] = "(?, ?)"
			args = append(args, sym, sym)
		}

		_, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO instruments (symbol, name) VALUES `+strings.Join(placeholders, ", "),
			args...)
		if err != nil {
			return fmt.Errorf("creating missing instruments: %w", err)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// PriceBarStore implementation
// ---------------------------------------------------------------------------

// UpsertPriceBars merges the batch with chunked multi-row upserts inside
// one transaction. This is the fallback path for stores without a
// bulk-copy protocol; the whole batch still commits or rolls back as a
// unit.
func (s *SQLiteStore) UpsertPriceBars(ctx context.Context, bars []domain.PriceBar) (int64, error) {
	if len(bars) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var affected int64
	for start := 0; start < len(bars); start += sqliteChunk {
		chunk := bars[start:min(start+sqliteChunk, len(bars))]

		placeholders := make([]string, len(chunk))
		args := make([]any, 0, len(chunk)*10)
		for i, b := range chunk {
			placeholders[i] = "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
			var vwap, transactions any
			if b.VWAP != nil {
				vwap = *b.VWAP
			}
			if b.Transactions != nil {
				transactions = *b.Transactions
			}
			args = append(args,
				b.InstrumentID, b.Timestamp.UnixMilli(), string(b.Granularity),
				b.Open, b.High, b.Low, b.Close, b.Volume, vwap, transactions)
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO price_bars (instrument_id, ts, granularity, open, high, low, close, volume, vwap, transactions) VALUES `+
				strings.Join(placeholders, ", ")+`
			ON CONFLICT (instrument_id, ts, granularity) DO UPDATE SET
				open = excluded.open, high = excluded.high, low = excluded.low,
				close = excluded.close, volume = excluded.volume,
				vwap = excluded.vwap, transactions = excluded.transactions`,
			args...)
		if err != nil {
			return 0, fmt.Errorf("upserting price bars: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			affected += n
		}
	}

	if bars[0].Granularity == domain.GranularityDay {
		if err := maintainInstrumentDates(ctx, tx, bars); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return affected, nil
}

// maintainInstrumentDates updates each touched instrument's reference
// price and first/last trade dates from the day bars in the batch.
func maintainInstrumentDates(ctx context.Context, tx *sql.Tx, bars []domain.PriceBar) error {
	type span struct {
		earliest time.Time
		latest   time.Time
		close    float64
	}
	spans := make(map[int64]*span)
	for _, b := range bars {
		sp, ok := spans[b.InstrumentID]
		if !ok {
			spans[b.InstrumentID] = &span{earliest: b.Timestamp, latest: b.Timestamp, close: b.Close}
			continue
		}
		if b.Timestamp.Before(sp.earliest) {
			sp.earliest = b.Timestamp
		}
		if !b.Timestamp.Before(sp.latest) {
			sp.latest = b.Timestamp
			sp.close = b.Close
		}
	}

	for id, sp := range spans {
		_, err := tx.ExecContext(ctx, `
			UPDATE instruments SET
				price = CASE WHEN last_trade_date IS NULL OR ? >= last_trade_date THEN ? ELSE price END,
				first_trade_date = min(coalesce(first_trade_date, ?), ?),
				last_trade_date = max(coalesce(last_trade_date, ?), ?),
				updated_at = unixepoch() * 1000
			WHERE id = ?`,
			dateStr(sp.latest), sp.close,
			dateStr(sp.earliest), dateStr(sp.earliest),
			dateStr(sp.latest), dateStr(sp.latest),
			id)
		if err != nil {
			return fmt.Errorf("maintaining instrument trade dates: %w", err)
		}
	}
	return nil
}

// CountPriceBars returns the total stored bar count.
func (s *SQLiteStore) CountPriceBars(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM price_bars`).Scan(&n)
	return n, err
}

// ---------------------------------------------------------------------------
// JobStore implementation
// ---------------------------------------------------------------------------

// CreateJob inserts the job row and fills in ID and StartedAt.
func (s *SQLiteStore) CreateJob(ctx context.Context, job *domain.IngestionJob) error {
	started := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO ingestion_jobs (data_type, start_date, end_date, concurrency, total_dates, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(job.DataType), dateStr(job.StartDate), dateStr(job.EndDate),
		job.Concurrency, job.TotalDates, string(domain.JobInProgress), started.UnixMilli())
	if err != nil {
		return fmt.Errorf("creating job: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	job.ID = id
	job.Status = domain.JobInProgress
	job.StartedAt = started
	return nil
}

// CreateDateProgress bulk-creates pending rows.
func (s *SQLiteStore) CreateDateProgress(ctx context.Context, jobID int64, dates []time.Time) error {
	if len(dates) == 0 {
		return nil
	}

	for start := 0; start < len(dates); start += sqliteChunk {
		chunk := dates[start:min(start+sqliteChunk, len(dates))]

		placeholders := make([]string, len(chunk))
		args := make([]any, 0, len(chunk)*3)
		for i, d := range chunk {
			placeholders[i] = "(?, ?, ?)"
			args = append(args, jobID, dateStr(d), string(domain.DatePending))
		}

		_, err := s.db.ExecContext(ctx,
			`INSERT INTO date_progress (job_id, date, status) VALUES `+strings.Join(placeholders, ", "),
			args...)
		if err != nil {
			return fmt.Errorf("creating date progress rows: %w", err)
		}
	}
	return nil
}

// MarkDateStarted moves a date to downloading.
func (s *SQLiteStore) MarkDateStarted(ctx context.Context, jobID int64, date time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE date_progress SET status = ?, started_at = ?
		WHERE job_id = ? AND date = ?`,
		string(domain.DateDownloading), time.Now().UnixMilli(), jobID, dateStr(date))
	return err
}

// MarkDateCompleted finalizes a date as completed.
func (s *SQLiteStore) MarkDateCompleted(ctx context.Context, jobID int64, date time.Time, records int64, duration time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE date_progress SET status = ?, records = ?, duration_ms = ?, finished_at = ?
		WHERE job_id = ? AND date = ?`,
		string(domain.DateCompleted), records, duration.Milliseconds(),
		time.Now().UnixMilli(), jobID, dateStr(date))
	return err
}

// MarkDateFailed finalizes a date as failed with a bounded reason.
func (s *SQLiteStore) MarkDateFailed(ctx context.Context, jobID int64, date time.Time, reason string, duration time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE date_progress SET status = ?, error = ?, duration_ms = ?, finished_at = ?
		WHERE job_id = ? AND date = ?`,
		string(domain.DateFailed), truncateReason(reason), duration.Milliseconds(),
		time.Now().UnixMilli(), jobID, dateStr(date))
	return err
}

// UpdateJobCounts writes running totals after each settled batch.
func (s *SQLiteStore) UpdateJobCounts(ctx context.Context, jobID int64, completed, failed int, records int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE ingestion_jobs SET completed_dates = ?, failed_dates = ?, total_records = ?
		WHERE id = ?`,
		completed, failed, records, jobID)
	return err
}

// FinalizeJob sets terminal status and finish time.
func (s *SQLiteStore) FinalizeJob(ctx context.Context, jobID int64, status domain.JobStatus) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE ingestion_jobs SET status = ?, finished_at = ? WHERE id = ?`,
		string(status), time.Now().UnixMilli(), jobID)
	return err
}

// CompletedDates lists dates already completed within a job.
func (s *SQLiteStore) CompletedDates(ctx context.Context, jobID int64) ([]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date FROM date_progress WHERE job_id = ? AND status = ? ORDER BY date`,
		jobID, string(domain.DateCompleted))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		dates = append(dates, parseDate(d))
	}
	return dates, rows.Err()
}

// ---------------------------------------------------------------------------
// StatusStore implementation
// ---------------------------------------------------------------------------

// GetJob returns one job, or nil when absent.
func (s *SQLiteStore) GetJob(ctx context.Context, id int64) (*domain.IngestionJob, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, data_type, start_date, end_date, concurrency, total_dates,
			completed_dates, failed_dates, total_records, status, started_at, finished_at
		FROM ingestion_jobs WHERE id = ?`, id)

	job, err := scanSQLiteJob(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ListJobs returns recent jobs, newest first.
func (s *SQLiteStore) ListJobs(ctx context.Context, limit int) ([]domain.IngestionJob, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, data_type, start_date, end_date, concurrency, total_dates,
			completed_dates, failed_dates, total_records, status, started_at, finished_at
		FROM ingestion_jobs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.IngestionJob
	for rows.Next() {
		job, err := scanSQLiteJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// ListDateProgress returns all progress rows for a job in date order.
func (s *SQLiteStore) ListDateProgress(ctx context.Context, jobID int64) ([]domain.DateProgress, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, date, status, records, error, duration_ms, started_at, finished_at
		FROM date_progress WHERE job_id = ? ORDER BY date`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DateProgress
	for rows.Next() {
		var p domain.DateProgress
		var date, status string
		var started, finished sql.NullInt64
		if err := rows.Scan(&p.JobID, &date, &status, &p.Records, &p.Error,
			&p.DurationMS, &started, &finished); err != nil {
			return nil, err
		}
		p.Date = parseDate(date)
		p.Status = domain.DateStatus(status)
		p.StartedAt = timeFromMS(started)
		p.FinishedAt = timeFromMS(finished)
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanSQLiteJob(scan func(...any) error) (*domain.IngestionJob, error) {
	var job domain.IngestionJob
	var dataType, status, startDate, endDate string
	var started int64
	var finished sql.NullInt64
	err := scan(&job.ID, &dataType, &startDate, &endDate, &job.Concurrency,
		&job.TotalDates, &job.CompletedDates, &job.FailedDates, &job.TotalRecords,
		&status, &started, &finished)
	if err != nil {
		return nil, err
	}
	job.DataType = domain.DataType(dataType)
	job.Status = domain.JobStatus(status)
	job.StartDate = parseDate(startDate)
	job.EndDate = parseDate(endDate)
	job.StartedAt = time.UnixMilli(started).UTC()
	job.FinishedAt = timeFromMS(finished)
	return &job, nil
}
