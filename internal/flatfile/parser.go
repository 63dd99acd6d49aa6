package flatfile

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"barsync/internal/domain"
)

// columns maps header names to field indexes for one file. Indexes are
// -1 when the column is absent.
type columns struct {
	ticker      int
	volume      int
	open        int
	close       int
	high        int
	low         int
	windowStart int
	// optional
	transactions int
	vwap         int
}

// ParseAggregates reads a decompressed aggregates CSV and returns the
// valid price bars plus the count of skipped malformed rows. Column
// order is taken from the header row; files missing a required column
// fail outright. Individual rows that are short or fail numeric
// parsing are skipped, never fatal. window_start values are Unix
// nanoseconds.
func ParseAggregates(r io.Reader, granularity domain.Granularity) ([]domain.PriceBar, int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("reading CSV header: %w", err)
	}

	cols, err := mapColumns(header)
	if err != nil {
		return nil, 0, err
	}

	var bars []domain.PriceBar
	skipped := 0

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Malformed quoting or a bare read error on one line; skip
			// the row and keep going.
			skipped++
			continue
		}

		bar, ok := parseRow(record, cols, granularity)
		if !ok {
			skipped++
			continue
		}
		bars = append(bars, bar)
	}

	return bars, skipped, nil
}

func mapColumns(header []string) (columns, error) {
	cols := columns{
		ticker: -1, volume: -1, open: -1, close: -1, high: -1, low: -1,
		windowStart: -1, transactions: -1, vwap: -1,
	}

	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "ticker":
			cols.ticker = i
		case "volume":
			cols.volume = i
		case "open":
			cols.open = i
		case "close":
			cols.close = i
		case "high":
			cols.high = i
		case "low":
			cols.low = i
		case "window_start":
			cols.windowStart = i
		case "transactions":
			cols.transactions = i
		case "vwap":
			cols.vwap = i
		}
	}

	required := map[string]int{
		"ticker": cols.ticker, "volume": cols.volume, "open": cols.open,
		"close": cols.close, "high": cols.high, "low": cols.low,
		"window_start": cols.windowStart,
	}
	for name, idx := range required {
		if idx < 0 {
			return cols, fmt.Errorf("CSV header missing required column %q", name)
		}
	}

	return cols, nil
}

func parseRow(record []string, cols columns, granularity domain.Granularity) (domain.PriceBar, bool) {
	width := len(record)
	need := cols.windowStart
	for _, idx := range []int{cols.ticker, cols.volume, cols.open, cols.close, cols.high, cols.low} {
		if idx > need {
			need = idx
		}
	}
	if width <= need {
		return domain.PriceBar{}, false
	}

	ticker := strings.TrimSpace(record[cols.ticker])
	if ticker == "" {
		return domain.PriceBar{}, false
	}

	volume, err := strconv.ParseInt(strings.TrimSpace(record[cols.volume]), 10, 64)
	if err != nil {
		// Some venues publish fractional share volume; accept it
		// truncated rather than dropping the row.
		f, ferr := strconv.ParseFloat(strings.TrimSpace(record[cols.volume]), 64)
		if ferr != nil {
			return domain.PriceBar{}, false
		}
		volume = int64(f)
	}

	open, err1 := strconv.ParseFloat(strings.TrimSpace(record[cols.open]), 64)
	closeP, err2 := strconv.ParseFloat(strings.TrimSpace(record[cols.close]), 64)
	high, err3 := strconv.ParseFloat(strings.TrimSpace(record[cols.high]), 64)
	low, err4 := strconv.ParseFloat(strings.TrimSpace(record[cols.low]), 64)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return domain.PriceBar{}, false
	}

	ns, err := strconv.ParseInt(strings.TrimSpace(record[cols.windowStart]), 10, 64)
	if err != nil {
		return domain.PriceBar{}, false
	}

	bar := domain.PriceBar{
		Ticker:      ticker,
		Timestamp:   time.Unix(0, ns).UTC(),
		Granularity: granularity,
		Open:        open,
		High:        high,
		Low:         low,
		Close:       closeP,
		Volume:      volume,
	}

	if cols.transactions >= 0 && cols.transactions < width {
		if v, err := strconv.ParseInt(strings.TrimSpace(record[cols.transactions]), 10, 64); err == nil {
			bar.Transactions = &v
		}
	}
	if cols.vwap >= 0 && cols.vwap < width {
		if v, err := strconv.ParseFloat(strings.TrimSpace(record[cols.vwap]), 64); err == nil {
			bar.VWAP = &v
		}
	}

	return bar, true
}
