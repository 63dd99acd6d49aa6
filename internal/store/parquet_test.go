package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"barsync/internal/domain"
)

func TestArchiveDatePath(t *testing.T) {
	a := NewArchive("/data/archive")
	date := time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC)

	got := a.datePath(domain.DataTypeDayAggs, date)
	want := filepath.Join("/data/archive", "day_aggs_v1", "2024", "2024-03-07.parquet")
	if got != want {
		t.Errorf("datePath = %q, want %q", got, want)
	}
}

func TestArchiveWriteReadDate(t *testing.T) {
	a := NewArchive(t.TempDir())
	date := time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC)

	vwap := 150.25
	txns := int64(9000)
	bars := []domain.PriceBar{
		{
			Ticker: "MSFT", Timestamp: date, Granularity: domain.GranularityDay,
			Open: 400, High: 410, Low: 395, Close: 405, Volume: 20000,
		},
		{
			Ticker: "AAPL", Timestamp: date, Granularity: domain.GranularityDay,
			Open: 149, High: 151, Low: 148, Close: 150, Volume: 50000,
			VWAP: &vwap, Transactions: &txns,
		},
	}

	if err := a.WriteDate(domain.DataTypeDayAggs, date, bars); err != nil {
		t.Fatalf("WriteDate: %v", err)
	}

	got, err := a.ReadDate(domain.DataTypeDayAggs, date)
	if err != nil {
		t.Fatalf("ReadDate: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("read %d bars, want 2", len(got))
	}

	// Records come back sorted by ticker.
	if got[0].Ticker != "AAPL" || got[1].Ticker != "MSFT" {
		t.Errorf("tickers = %s, %s; want AAPL, MSFT", got[0].Ticker, got[1].Ticker)
	}
	if !got[0].Timestamp.Equal(date) {
		t.Errorf("timestamp = %v, want %v", got[0].Timestamp, date)
	}
	if got[0].Close != 150 || got[0].Volume != 50000 {
		t.Errorf("AAPL bar = %+v", got[0])
	}
	if got[0].VWAP == nil || *got[0].VWAP != 150.25 {
		t.Errorf("AAPL vwap = %v, want 150.25", got[0].VWAP)
	}
	if got[0].Transactions == nil || *got[0].Transactions != 9000 {
		t.Errorf("AAPL transactions = %v, want 9000", got[0].Transactions)
	}
	if got[1].VWAP != nil || got[1].Transactions != nil {
		t.Errorf("MSFT optional fields should stay nil, got vwap=%v txns=%v", got[1].VWAP, got[1].Transactions)
	}
}

func TestArchiveReadMissingDate(t *testing.T) {
	a := NewArchive(t.TempDir())

	bars, err := a.ReadDate(domain.DataTypeDayAggs, time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ReadDate: %v", err)
	}
	if bars != nil {
		t.Errorf("missing date returned %d bars, want nil", len(bars))
	}
}

func TestArchiveRewriteReplacesFile(t *testing.T) {
	a := NewArchive(t.TempDir())
	date := time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC)

	first := []domain.PriceBar{
		{Ticker: "A", Timestamp: date, Granularity: domain.GranularityDay, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1},
		{Ticker: "B", Timestamp: date, Granularity: domain.GranularityDay, Open: 2, High: 2, Low: 2, Close: 2, Volume: 2},
	}
	if err := a.WriteDate(domain.DataTypeDayAggs, date, first); err != nil {
		t.Fatalf("WriteDate (first): %v", err)
	}

	second := first[:1]
	if err := a.WriteDate(domain.DataTypeDayAggs, date, second); err != nil {
		t.Fatalf("WriteDate (second): %v", err)
	}

	got, err := a.ReadDate(domain.DataTypeDayAggs, date)
	if err != nil {
		t.Fatalf("ReadDate: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("re-archived date has %d bars, want 1 (file replaced)", len(got))
	}
}

func TestArchiveWriteEmptyDate(t *testing.T) {
	dir := t.TempDir()
	a := NewArchive(dir)
	date := time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC)

	if err := a.WriteDate(domain.DataTypeDayAggs, date, nil); err != nil {
		t.Fatalf("WriteDate with no bars: %v", err)
	}
	if _, err := os.Stat(a.datePath(domain.DataTypeDayAggs, date)); !os.IsNotExist(err) {
		t.Error("empty write should not create a file")
	}
}
