package domain

import (
	"testing"
	"time"
)

func TestTypesExist(t *testing.T) {
	// Verify PriceBar can be instantiated with zero values.
	bar := PriceBar{}
	if bar.Ticker != "" {
		t.Error("expected empty Ticker for zero-value PriceBar")
	}
	if !bar.Timestamp.IsZero() {
		t.Error("expected zero Timestamp for zero-value PriceBar")
	}
	if bar.Open != 0 || bar.High != 0 || bar.Low != 0 || bar.Close != 0 {
		t.Error("expected zero OHLC values for zero-value PriceBar")
	}
	if bar.Volume != 0 || bar.VWAP != nil || bar.Transactions != nil {
		t.Error("expected zero Volume and nil VWAP/Transactions for zero-value PriceBar")
	}

	// Verify Instrument can be instantiated with zero values.
	inst := Instrument{}
	if inst.Symbol != "" || inst.Name != "" {
		t.Error("expected empty Symbol/Name for zero-value Instrument")
	}
	if inst.Price != 0 || inst.MarketCap != 0 {
		t.Error("expected zero Price/MarketCap for zero-value Instrument")
	}
	if inst.FirstTradeDate != nil || inst.LastTradeDate != nil {
		t.Error("expected nil trade dates for zero-value Instrument")
	}

	// Verify enum constants are defined correctly.
	if JobInProgress != "in_progress" || JobCompleted != "completed" || JobFailed != "failed" {
		t.Error("JobStatus constants have unexpected values")
	}
	if DatePending != "pending" || DateDownloading != "downloading" {
		t.Error("DateStatus constants have unexpected values")
	}
	if GranularityDay != "day" || GranularityMinute != "minute" {
		t.Error("Granularity constants have unexpected values")
	}
	if InstrumentStock != "stock" || InstrumentETF != "etf" {
		t.Error("InstrumentKind constants have unexpected values")
	}

	// Verify structs can be constructed with real values.
	now := time.Now()
	job := IngestionJob{
		ID:          1,
		DataType:    DataTypeDayAggs,
		StartDate:   now.AddDate(0, 0, -5),
		EndDate:     now,
		Concurrency: 15,
		Status:      JobInProgress,
		StartedAt:   now,
	}
	if job.Status != JobInProgress {
		t.Errorf("job.Status = %q, want %q", job.Status, JobInProgress)
	}

	prog := DateProgress{
		JobID:  1,
		Date:   now,
		Status: DatePending,
	}
	if prog.Status != DatePending {
		t.Errorf("prog.Status = %q, want %q", prog.Status, DatePending)
	}
}

func TestDataTypeGranularity(t *testing.T) {
	if got := DataTypeDayAggs.Granularity(); got != GranularityDay {
		t.Errorf("DataTypeDayAggs.Granularity() = %q, want %q", got, GranularityDay)
	}
	if got := DataTypeMinuteAggs.Granularity(); got != GranularityMinute {
		t.Errorf("DataTypeMinuteAggs.Granularity() = %q, want %q", got, GranularityMinute)
	}
}
