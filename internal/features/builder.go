// Package features derives calendar, lag and rolling-window features from the
// canonical table.
//
// Lag and rolling values are positional within one city's chronologically
// sorted series: lag k at row i is the value at row i-k of the same city, and
// the rolling mean covers rows i-6..i. A row whose window reaches before the
// start of its city's series has undefined features and is dropped; nothing is
// imputed.
package features

import (
	"database/sql"
	"time"

	"github.com/couchcryptid/aqi-forecast/internal/domain"
)

// Lags are the lag offsets, in observations, applied to aqi and pm25.
var Lags = [...]int{1, 3, 7}

// RollingWindow is the trailing window length of the aqi mean, current row included.
const RollingWindow = 7

// BuildStats summarizes a Build run.
type BuildStats struct {
	Input  int
	Output int
	// Dropped counts, per city, the rows discarded for undefined features.
	Dropped map[string]int
	// Incomplete lists cities that contributed no rows at all because their
	// series is too short or has too many pm25 gaps.
	Incomplete []string
}

// Build computes the feature table. The input is re-sorted by (city, date) so
// callers need not guarantee order; the input slice itself is not modified.
// Output is sorted by (city, date) and fully dense.
func Build(records []domain.CanonicalRecord) ([]domain.FeatureRow, BuildStats) {
	sorted := make([]domain.CanonicalRecord, len(records))
	copy(sorted, records)
	domain.SortRecords(sorted)

	stats := BuildStats{Input: len(records), Dropped: make(map[string]int)}
	out := make([]domain.FeatureRow, 0, len(sorted))

	for start := 0; start < len(sorted); {
		end := start
		for end < len(sorted) && sorted[end].City == sorted[start].City {
			end++
		}
		city := sorted[start].City
		rows := buildCity(sorted[start:end])
		stats.Dropped[city] = (end - start) - len(rows)
		if len(rows) == 0 {
			stats.Incomplete = append(stats.Incomplete, city)
		}
		out = append(out, rows...)
		start = end
	}

	stats.Output = len(out)
	return out, stats
}

// buildCity derives features for one city's chronologically sorted series.
func buildCity(series []domain.CanonicalRecord) []domain.FeatureRow {
	out := make([]domain.FeatureRow, 0, len(series))
	for i, rec := range series {
		row := domain.FeatureRow{CanonicalRecord: rec}
		row.Month, row.DayOfWeek, row.DayOfYear = Calendar(rec.Date)

		aqiLags := [len(Lags)]*float64{&row.AQILag1, &row.AQILag3, &row.AQILag7}
		pmLags := [len(Lags)]*float64{&row.PM25Lag1, &row.PM25Lag3, &row.PM25Lag7}

		complete := true
		for j, k := range Lags {
			aqi, ok := lag(series, i, k, func(r domain.CanonicalRecord) sql.NullFloat64 {
				return sql.NullFloat64{Float64: r.AQI, Valid: true}
			})
			complete = complete && ok
			*aqiLags[j] = aqi

			pm, ok := lag(series, i, k, func(r domain.CanonicalRecord) sql.NullFloat64 { return r.PM25 })
			complete = complete && ok
			*pmLags[j] = pm
		}

		roll, ok := rollingMean(series, i, RollingWindow)
		complete = complete && ok
		row.AQIRoll7 = roll

		if complete {
			out = append(out, row)
		}
	}
	return out
}

// Calendar returns month (1-12), day of week (Monday=0) and day of year (1-366).
func Calendar(d time.Time) (month, dayOfWeek, dayOfYear int) {
	return int(d.Month()), (int(d.Weekday()) + 6) % 7, d.YearDay()
}

// lag returns field(series[i-k]) and whether it is defined.
func lag(series []domain.CanonicalRecord, i, k int, field func(domain.CanonicalRecord) sql.NullFloat64) (float64, bool) {
	if i-k < 0 {
		return 0, false
	}
	v := field(series[i-k])
	return v.Float64, v.Valid
}

// rollingMean returns the mean aqi over series[i-window+1..i]. The sum is
// recomputed in index order for every row so results do not depend on
// accumulated floating-point drift.
func rollingMean(series []domain.CanonicalRecord, i, window int) (float64, bool) {
	if i+1 < window {
		return 0, false
	}
	var sum float64
	for j := i - window + 1; j <= i; j++ {
		sum += series[j].AQI
	}
	return sum / float64(window), true
}
