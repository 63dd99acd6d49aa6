package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"

	"barsync/internal/domain"
)

// Archive writes one Parquet file per ingested date for offline
// analysis, alongside the relational load. Layout:
//
//	<Dir>/<data-type>/<YYYY>/<YYYY-MM-DD>.parquet
type Archive struct {
	Dir string
}

// NewArchive creates an Archive rooted at the given directory.
func NewArchive(dir string) *Archive {
	return &Archive{Dir: dir}
}

// BarRecord is the Parquet schema for archived price bars.
type BarRecord struct {
	Ticker       string   `parquet:"ticker"`
	Timestamp    int64    `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Granularity  string   `parquet:"granularity"`
	Open         float64  `parquet:"open"`
	High         float64  `parquet:"high"`
	Low          float64  `parquet:"low"`
	Close        float64  `parquet:"close"`
	Volume       int64    `parquet:"volume"`
	VWAP         *float64 `parquet:"vwap,optional"`
	Transactions *int64   `parquet:"transactions,optional"`
}

// WriteDate writes the parsed bars of one date, replacing any previous
// archive file for that date. Records are sorted by ticker then
// timestamp so re-archiving the same input is byte-stable.
func (a *Archive) WriteDate(dataType domain.DataType, date time.Time, bars []domain.PriceBar) error {
	if len(bars) == 0 {
		return nil
	}

	records := make([]BarRecord, len(bars))
	for i, b := range bars {
		records[i] = BarRecord{
			Ticker:       b.Ticker,
			Timestamp:    b.Timestamp.UnixMilli(),
			Granularity:  string(b.Granularity),
			Open:         b.Open,
			High:         b.High,
			Low:          b.Low,
			Close:        b.Close,
			Volume:       b.Volume,
			VWAP:         b.VWAP,
			Transactions: b.Transactions,
		}
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].Ticker != records[j].Ticker {
			return records[i].Ticker < records[j].Ticker
		}
		return records[i].Timestamp < records[j].Timestamp
	})

	path := a.datePath(dataType, date)
	if err := writeParquetFile(path, records); err != nil {
		return fmt.Errorf("archiving %s: %w", date.Format("2006-01-02"), err)
	}
	return nil
}

// ReadDate reads one archived date back. A missing file returns nil.
func (a *Archive) ReadDate(dataType domain.DataType, date time.Time) ([]domain.PriceBar, error) {
	path := a.datePath(dataType, date)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}

	records, err := readParquetFile[BarRecord](path)
	if err != nil {
		return nil, err
	}

	bars := make([]domain.PriceBar, len(records))
	for i, r := range records {
		bars[i] = domain.PriceBar{
			Ticker:       r.Ticker,
			Timestamp:    time.UnixMilli(r.Timestamp).UTC(),
			Granularity:  domain.Granularity(r.Granularity),
			Open:         r.Open,
			High:         r.High,
			Low:          r.Low,
			Close:        r.Close,
			Volume:       r.Volume,
			VWAP:         r.VWAP,
			Transactions: r.Transactions,
		}
	}
	return bars, nil
}

// datePath returns the archive file path for one date.
func (a *Archive) datePath(dataType domain.DataType, date time.Time) string {
	return filepath.Join(a.Dir, string(dataType),
		fmt.Sprintf("%04d", date.Year()), date.Format("2006-01-02")+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
