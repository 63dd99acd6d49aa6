package ingest

import (
	"context"
	"testing"
	"time"

	"barsync/internal/domain"
)

func loaderBar(ticker string, day int, close float64) domain.PriceBar {
	return domain.PriceBar{
		Ticker:      ticker,
		Timestamp:   time.Date(2024, 3, day, 0, 0, 0, 0, time.UTC),
		Granularity: domain.GranularityDay,
		Open:        close - 1, High: close + 1, Low: close - 2, Close: close,
		Volume: 500,
	}
}

func TestLoaderCreatesUnseenTickers(t *testing.T) {
	s := newIngestStore(t)
	ctx := context.Background()
	l := NewLoader(s)

	bars := []domain.PriceBar{
		loaderBar("AAPL", 4, 100),
		loaderBar("AAPL", 5, 101),
		loaderBar("MSFT", 4, 400),
	}
	n, err := l.Load(ctx, bars)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if n != 3 {
		t.Errorf("Load affected %d rows, want 3", n)
	}

	ids, err := s.ResolveInstrumentIDs(ctx, []string{"AAPL", "MSFT"})
	if err != nil {
		t.Fatalf("ResolveInstrumentIDs: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("resolved %d instruments, want 2 auto-created", len(ids))
	}

	// A later batch for the same tickers reuses the warm cache.
	n, err = l.Load(ctx, []domain.PriceBar{loaderBar("AAPL", 6, 102), loaderBar("MSFT", 6, 405)})
	if err != nil {
		t.Fatalf("Load (second): %v", err)
	}
	if n != 2 {
		t.Errorf("second Load affected %d rows, want 2", n)
	}
	count, _ := s.CountPriceBars(ctx)
	if count != 5 {
		t.Errorf("stored bars = %d, want 5", count)
	}
}

func TestLoaderCollapsesDuplicateKeys(t *testing.T) {
	s := newIngestStore(t)
	ctx := context.Background()
	l := NewLoader(s)

	// The same (ticker, timestamp) twice in one file; the later row wins.
	bars := []domain.PriceBar{
		loaderBar("AAPL", 4, 100),
		loaderBar("AAPL", 4, 222),
	}
	n, err := l.Load(ctx, bars)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if n != 1 {
		t.Errorf("Load affected %d rows, want 1 after dedupe", n)
	}

	count, err := s.CountPriceBars(ctx)
	if err != nil {
		t.Fatalf("CountPriceBars: %v", err)
	}
	if count != 1 {
		t.Errorf("stored bars = %d, want 1", count)
	}
}

func TestLoaderEmptyBatch(t *testing.T) {
	s := newIngestStore(t)
	l := NewLoader(s)

	n, err := l.Load(context.Background(), nil)
	if err != nil {
		t.Fatalf("Load(nil): %v", err)
	}
	if n != 0 {
		t.Errorf("Load(nil) = %d, want 0", n)
	}
}

func TestDedupeBarsKeepsOrderAndLast(t *testing.T) {
	bars := []domain.PriceBar{
		loaderBar("A", 4, 1),
		loaderBar("B", 4, 2),
		loaderBar("A", 4, 3),
		loaderBar("C", 4, 4),
	}
	out := dedupeBars(bars)
	if len(out) != 3 {
		t.Fatalf("dedupe kept %d bars, want 3", len(out))
	}
	if out[0].Ticker != "A" || out[1].Ticker != "B" || out[2].Ticker != "C" {
		t.Errorf("order = %s %s %s, want A B C", out[0].Ticker, out[1].Ticker, out[2].Ticker)
	}
	if out[0].Close != 3 {
		t.Errorf("A close = %v, want last occurrence 3", out[0].Close)
	}

	// Same ticker at different granularities is not a duplicate.
	mixed := []domain.PriceBar{
		loaderBar("A", 4, 1),
		{Ticker: "A", Timestamp: bars[0].Timestamp, Granularity: domain.GranularityMinute, Close: 9},
	}
	if got := dedupeBars(mixed); len(got) != 2 {
		t.Errorf("granularity-distinct bars deduped to %d, want 2", len(got))
	}
}
