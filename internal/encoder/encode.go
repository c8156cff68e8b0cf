package encoder

import (
	"slices"
	"sort"
	"time"

	"github.com/couchcryptid/aqi-forecast/internal/domain"
)

// Vector is a model input: values aligned with named columns.
type Vector struct {
	Columns []string
	Values  []float64
}

// Value returns the value of the named column.
func (v Vector) Value(name string) (float64, bool) {
	for i, c := range v.Columns {
		if c == name && i < len(v.Values) {
			return v.Values[i], true
		}
	}
	return 0, false
}

// Row is one encoded feature row. Values is aligned with the schema columns and
// never contains the label, the date or raw pollutant readings; Date and Label
// sit beside it for selection and training.
type Row struct {
	Date   time.Time
	Label  float64
	Values []float64
}

// Table is an encoded feature table bound to the schema it was encoded with.
// It is immutable once built.
type Table struct {
	Schema *Schema
	Rows   []Row

	// cities is resolved once by EncodeTable.
	cities []string
}

// Encode converts one feature row. Cities outside the schema are rejected with
// a *domain.CityNotFoundError; they are never given a new column.
func (s *Schema) Encode(row domain.FeatureRow) (Row, error) {
	if !s.Has(row.City) {
		return Row{}, s.notFound(row.City)
	}

	values := make([]float64, len(s.Columns))
	for i, c := range domain.FeatureColumns {
		values[i] = c.Value(row)
	}
	if ind := s.Indicator(row.City); ind != "" {
		values[s.ColumnIndex(ind)] = 1
	}
	return Row{Date: row.Date, Label: row.AQI, Values: values}, nil
}

// EncodeTable encodes every row whose city belongs to the schema, preserving
// input order. Cities that are skipped are returned sorted.
func (s *Schema) EncodeTable(rows []domain.FeatureRow) (*Table, []string) {
	t := &Table{Schema: s, Rows: make([]Row, 0, len(rows))}
	skipped := make(map[string]struct{})
	for _, r := range rows {
		enc, err := s.Encode(r)
		if err != nil {
			skipped[r.City] = struct{}{}
			continue
		}
		t.Rows = append(t.Rows, enc)
	}

	out := make([]string, 0, len(skipped))
	for c := range skipped {
		out = append(out, c)
	}
	sort.Strings(out)
	t.cities = t.decodeCities()
	return t, out
}

// DecodeCity recovers the city of an encoded row from its indicators: the city
// whose indicator is 1, or the reference city when none is. It reports false
// when more than one indicator is set.
func (s *Schema) DecodeCity(values []float64) (string, bool) {
	city := s.Reference
	set := 0
	for _, i := range s.IndicatorColumns() {
		if i < len(values) && values[i] != 0 {
			city = s.Columns[i][len(IndicatorPrefix):]
			set++
		}
	}
	return city, set <= 1
}

// Vector returns row i as a model input.
func (t *Table) Vector(i int) Vector {
	return Vector{Columns: t.Schema.Columns, Values: t.Rows[i].Values}
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.Rows) }

// Cities returns the sorted cities that have at least one row.
func (t *Table) Cities() []string {
	if t.cities != nil {
		return slices.Clone(t.cities)
	}
	return t.decodeCities()
}

func (t *Table) decodeCities() []string {
	set := make(map[string]struct{})
	for _, r := range t.Rows {
		if c, ok := t.Schema.DecodeCity(r.Values); ok {
			set[c] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
