package flatfile

import (
	"strings"
	"testing"
	"time"

	"barsync/internal/domain"
)

func TestParseAggregatesDayFile(t *testing.T) {
	// 2024-03-07 00:00:00 UTC in nanoseconds is 1709769600000000000.
	csvData := strings.Join([]string{
		"ticker,volume,open,close,high,low,window_start,transactions,vwap",
		"AAPL,1000,170.5,171.2,172.0,169.8,1709769600000000000,250,170.9",
		"MSFT,2000,400.1,402.5,403.0,399.5,1709769600000000000,500,401.2",
	}, "\n")

	bars, skipped, err := ParseAggregates(strings.NewReader(csvData), domain.GranularityDay)
	if err != nil {
		t.Fatalf("ParseAggregates returned error: %v", err)
	}
	if skipped != 0 {
		t.Errorf("skipped = %d, want 0", skipped)
	}
	if len(bars) != 2 {
		t.Fatalf("parsed %d bars, want 2", len(bars))
	}

	b := bars[0]
	if b.Ticker != "AAPL" {
		t.Errorf("Ticker = %q, want AAPL", b.Ticker)
	}
	want := time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC)
	if !b.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", b.Timestamp, want)
	}
	if b.Granularity != domain.GranularityDay {
		t.Errorf("Granularity = %q, want day", b.Granularity)
	}
	if b.Open != 170.5 || b.Close != 171.2 || b.High != 172.0 || b.Low != 169.8 {
		t.Errorf("OHLC = %v/%v/%v/%v, want 170.5/171.2/172.0/169.8", b.Open, b.Close, b.High, b.Low)
	}
	if b.Volume != 1000 {
		t.Errorf("Volume = %d, want 1000", b.Volume)
	}
	if b.Transactions == nil || *b.Transactions != 250 {
		t.Errorf("Transactions = %v, want 250", b.Transactions)
	}
	if b.VWAP == nil || *b.VWAP != 170.9 {
		t.Errorf("VWAP = %v, want 170.9", b.VWAP)
	}
}

func TestParseAggregatesColumnOrderFromHeader(t *testing.T) {
	// Same columns, shuffled order; mapping must follow the header.
	csvData := strings.Join([]string{
		"window_start,low,high,close,open,volume,ticker",
		"1709769600000000000,9.5,10.5,10.0,9.8,500,TEST",
	}, "\n")

	bars, _, err := ParseAggregates(strings.NewReader(csvData), domain.GranularityDay)
	if err != nil {
		t.Fatalf("ParseAggregates returned error: %v", err)
	}
	if len(bars) != 1 {
		t.Fatalf("parsed %d bars, want 1", len(bars))
	}
	b := bars[0]
	if b.Ticker != "TEST" || b.Open != 9.8 || b.High != 10.5 || b.Low != 9.5 || b.Close != 10.0 {
		t.Errorf("unexpected bar from shuffled header: %+v", b)
	}
	if b.VWAP != nil || b.Transactions != nil {
		t.Error("optional fields should be nil when columns are absent")
	}
}

func TestParseAggregatesSkipsMalformedRows(t *testing.T) {
	csvData := strings.Join([]string{
		"ticker,volume,open,close,high,low,window_start",
		"GOOD,100,1.0,1.1,1.2,0.9,1709769600000000000",
		"BADPRICE,100,abc,1.1,1.2,0.9,1709769600000000000",
		"SHORT,100,1.0",
		",100,1.0,1.1,1.2,0.9,1709769600000000000",
		"BADTS,100,1.0,1.1,1.2,0.9,not-a-number",
		"FRACVOL,100.7,2.0,2.1,2.2,1.9,1709769600000000000",
		"ALSOGOOD,200,3.0,3.1,3.2,2.9,1709769600000000000",
	}, "\n")

	bars, skipped, err := ParseAggregates(strings.NewReader(csvData), domain.GranularityDay)
	if err != nil {
		t.Fatalf("ParseAggregates returned error: %v", err)
	}
	if len(bars) != 3 {
		t.Fatalf("parsed %d bars, want 3 (GOOD, FRACVOL, ALSOGOOD)", len(bars))
	}
	if skipped != 4 {
		t.Errorf("skipped = %d, want 4", skipped)
	}
	if bars[1].Ticker != "FRACVOL" || bars[1].Volume != 100 {
		t.Errorf("fractional volume should truncate: got %+v", bars[1])
	}
}

func TestParseAggregatesMissingRequiredColumn(t *testing.T) {
	csvData := strings.Join([]string{
		"ticker,volume,open,close,high,low",
		"AAPL,1000,1,1,1,1",
	}, "\n")

	_, _, err := ParseAggregates(strings.NewReader(csvData), domain.GranularityDay)
	if err == nil {
		t.Fatal("expected error for header missing window_start")
	}
	if !strings.Contains(err.Error(), "window_start") {
		t.Errorf("error %q should name the missing column", err)
	}
}

func TestParseAggregatesHeaderOnly(t *testing.T) {
	csvData := "ticker,volume,open,close,high,low,window_start\n"

	bars, skipped, err := ParseAggregates(strings.NewReader(csvData), domain.GranularityMinute)
	if err != nil {
		t.Fatalf("ParseAggregates returned error: %v", err)
	}
	if len(bars) != 0 || skipped != 0 {
		t.Errorf("header-only file: bars=%d skipped=%d, want 0/0", len(bars), skipped)
	}
}
