// Package inference picks the single encoded row a model scores for a city.
package inference

import (
	"time"

	"github.com/couchcryptid/aqi-forecast/internal/domain"
	"github.com/couchcryptid/aqi-forecast/internal/encoder"
)

// Selection is the row chosen for a city.
type Selection struct {
	Vector encoder.Vector
	AsOf   time.Time
}

// Select returns the most recent row of city in table. Rows are matched by
// their indicator columns: the city's own indicator set to 1, or, for the
// reference city, every indicator 0. The returned vector uses the table
// schema's columns, which exclude the label and leakage fields.
//
// A city outside the schema, or a known city with no rows, yields a
// *domain.CityNotFoundError.
func Select(table *encoder.Table, city string) (Selection, error) {
	s := table.Schema
	if !s.Has(city) {
		return Selection{}, &domain.CityNotFoundError{City: city, Known: table.Cities()}
	}

	match := referenceMatcher(s)
	if ind := s.Indicator(city); ind != "" {
		match = indicatorMatcher(s.ColumnIndex(ind))
	}

	best := -1
	for i, row := range table.Rows {
		if !match(row.Values) {
			continue
		}
		if best < 0 || row.Date.After(table.Rows[best].Date) {
			best = i
		}
	}
	if best < 0 {
		return Selection{}, &domain.CityNotFoundError{City: city, Known: table.Cities()}
	}

	values := make([]float64, len(table.Rows[best].Values))
	copy(values, table.Rows[best].Values)
	return Selection{
		Vector: encoder.Vector{Columns: s.Columns, Values: values},
		AsOf:   table.Rows[best].Date,
	}, nil
}

func indicatorMatcher(col int) func([]float64) bool {
	return func(values []float64) bool {
		return values[col] == 1
	}
}

func referenceMatcher(s *encoder.Schema) func([]float64) bool {
	cols := s.IndicatorColumns()
	return func(values []float64) bool {
		for _, i := range cols {
			if values[i] != 0 {
				return false
			}
		}
		return true
	}
}
