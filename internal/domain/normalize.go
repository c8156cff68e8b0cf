package domain

import (
	"database/sql"
	"fmt"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Drop reasons reported in NormalizeStats.
const (
	DropBadDate     = "bad_date"
	DropMissingCity = "missing_city"
	DropMissingAQI  = "missing_aqi"
	DropDuplicate   = "duplicate"
)

// dateLayouts are tried in order. Day-first comes before ISO because the
// upstream exports use dd/mm/yy.
var dateLayouts = []string{
	"02/01/06",
	"02/01/2006",
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// headerAliases maps normalized header spellings onto canonical column names.
var headerAliases = map[string]string{
	"pm2_5": "pm25",
	"pm_25": "pm25",
	"pm_10": "pm10",
}

// NormalizeStats summarizes a Normalize run.
type NormalizeStats struct {
	Tables  int
	Read    int
	Kept    int
	Dropped map[string]int
}

// Normalize folds raw source tables into one canonical table sorted by
// (city, date). Tables are processed in source-name order and the first
// occurrence of a (city, date) pair wins.
func Normalize(tables []RawTable) ([]CanonicalRecord, NormalizeStats, error) {
	stats := NormalizeStats{Dropped: make(map[string]int)}

	ordered := make([]RawTable, len(tables))
	copy(ordered, tables)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Source < ordered[j].Source })

	type key struct {
		city string
		date time.Time
	}
	seen := make(map[key]struct{})
	var out []CanonicalRecord

	for _, t := range ordered {
		if len(t.Rows) == 0 {
			continue
		}
		idx, err := columnIndex(t)
		if err != nil {
			return nil, stats, err
		}
		stats.Tables++

		for _, row := range t.Rows {
			stats.Read++
			rec, reason := parseRow(row, idx)
			if reason != "" {
				stats.Dropped[reason]++
				continue
			}
			k := key{city: rec.City, date: rec.Date}
			if _, dup := seen[k]; dup {
				stats.Dropped[DropDuplicate]++
				continue
			}
			seen[k] = struct{}{}
			out = append(out, rec)
		}
	}

	SortRecords(out)
	stats.Kept = len(out)
	return out, stats, nil
}

// SortRecords orders records by city, then date.
func SortRecords(records []CanonicalRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].City != records[j].City {
			return records[i].City < records[j].City
		}
		return records[i].Date.Before(records[j].Date)
	})
}

// NormalizeHeader applies the canonical column naming rule to a raw header cell.
func NormalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.ReplaceAll(h, ".", "")
	h = strings.ReplaceAll(h, " ", "_")
	if alias, ok := headerAliases[h]; ok {
		return alias
	}
	return h
}

// ParseDate parses a calendar date in any supported layout and truncates it to
// UTC midnight.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// requiredColumns must appear in every table header. Blank cells in them drop
// the row, not the table.
var requiredColumns = []string{"city", "date", "aqi"}

// columnIndex maps canonical column names to their position in the table.
// Optional columns that are blank in every row are ignored.
func columnIndex(t RawTable) (map[string]int, error) {
	idx := make(map[string]int, len(t.Header))
	for i, h := range t.Header {
		name := NormalizeHeader(h)
		if name == "" {
			continue
		}
		if !slices.Contains(requiredColumns, name) && columnEmpty(t.Rows, i) {
			continue
		}
		if _, exists := idx[name]; !exists {
			idx[name] = i
		}
	}
	for _, required := range requiredColumns {
		if _, ok := idx[required]; !ok {
			return nil, fmt.Errorf("normalize %s: missing required column %q", t.Source, required)
		}
	}
	return idx, nil
}

func columnEmpty(rows [][]string, col int) bool {
	for _, row := range rows {
		if col < len(row) && strings.TrimSpace(row[col]) != "" {
			return false
		}
	}
	return true
}

// parseRow converts one raw row. A non-empty reason means the row is dropped.
func parseRow(row []string, idx map[string]int) (CanonicalRecord, string) {
	cell := func(name string) string {
		i, ok := idx[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	date, err := ParseDate(cell("date"))
	if err != nil {
		return CanonicalRecord{}, DropBadDate
	}
	city := cell("city")
	if city == "" {
		return CanonicalRecord{}, DropMissingCity
	}
	aqi := parseNullFloat(cell("aqi"))
	if !aqi.Valid {
		return CanonicalRecord{}, DropMissingAQI
	}

	return CanonicalRecord{
		City: city,
		Date: date,
		AQI:  aqi.Float64,
		PM25: parseNullFloat(cell("pm25")),
		PM10: parseNullFloat(cell("pm10")),
		NO2:  parseNullFloat(cell("no2")),
		SO2:  parseNullFloat(cell("so2")),
		CO:   parseNullFloat(cell("co")),
		O3:   parseNullFloat(cell("o3")),
	}, ""
}

// parseNullFloat parses a finite float, returning an invalid value for blanks,
// "NA"-style markers and anything else that does not parse.
func parseNullFloat(s string) sql.NullFloat64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullFloat64{}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}
