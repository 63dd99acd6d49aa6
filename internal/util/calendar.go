package util

import "time"

// TradingDays returns the candidate trading dates between start and end
// inclusive: every weekday as a UTC midnight date, ascending, no
// duplicates. Market holidays are not modelled; a holiday simply has no
// data file in object storage and surfaces downstream as a not-found
// date. An inverted range yields an empty slice.
func TradingDays(start, end time.Time) []time.Time {
	start = DateUTC(start)
	end = DateUTC(end)

	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		days = append(days, d)
	}
	return days
}

// DateUTC truncates t to its UTC calendar date at midnight.
func DateUTC(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// PreviousTradingDay returns the most recent weekday strictly before
// t's UTC date. Used by the nightly schedule to pick its target date.
func PreviousTradingDay(t time.Time) time.Time {
	d := DateUTC(t).AddDate(0, 0, -1)
	for wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday; wd = d.Weekday() {
		d = d.AddDate(0, 0, -1)
	}
	return d
}
