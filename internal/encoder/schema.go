// Package encoder replaces the city field of a feature row with indicator
// columns under a persisted, versioned Schema.
//
// The schema is resolved once, from the training table, and travels with the
// trained model. Inference never re-derives it from whatever data is loaded, so
// the indicator set, its order and the reference city are the same on both
// paths by construction.
package encoder

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/couchcryptid/aqi-forecast/internal/domain"
)

// SchemaVersion is bumped whenever the column layout rules change.
const SchemaVersion = 1

// IndicatorPrefix prefixes every city indicator column.
const IndicatorPrefix = "city_"

// Schema is the model input layout: numeric feature columns followed by one
// indicator per non-reference city, in sorted city order. The reference city is
// the first city in sorted order and is represented by all indicators being 0.
type Schema struct {
	Version     int       `yaml:"version" json:"version"`
	Cities      []string  `yaml:"cities" json:"cities"`
	Reference   string    `yaml:"reference" json:"reference"`
	Columns     []string  `yaml:"columns" json:"columns"`
	Fingerprint string    `yaml:"fingerprint" json:"fingerprint"`
	CreatedAt   time.Time `yaml:"created_at" json:"created_at"`
}

// NewSchema resolves the city ordering and reference city for a closed set of
// cities. Duplicates and surrounding whitespace are ignored.
func NewSchema(cities []string) (*Schema, error) {
	set := make(map[string]struct{}, len(cities))
	for _, c := range cities {
		c = strings.TrimSpace(c)
		if c != "" {
			set[c] = struct{}{}
		}
	}
	if len(set) == 0 {
		return nil, errors.New("schema needs at least one city")
	}

	sorted := make([]string, 0, len(set))
	for c := range set {
		sorted = append(sorted, c)
	}
	sort.Strings(sorted)

	s := &Schema{
		Version:   SchemaVersion,
		Cities:    sorted,
		Reference: sorted[0],
		Columns:   layout(sorted),
		CreatedAt: domain.Now(),
	}
	s.Fingerprint = fingerprint(s.Version, s.Cities, s.Columns)
	return s, nil
}

// CitiesOf returns the distinct cities of a feature table. It belongs to the
// training path only; inference reads cities from the persisted schema.
func CitiesOf(rows []domain.FeatureRow) []string {
	set := make(map[string]struct{})
	for _, r := range rows {
		set[r.City] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Validate checks that a loaded schema is internally consistent: sorted unique
// cities, the first city as reference, the expected column layout and a
// matching fingerprint. Any difference is a *domain.SchemaMismatchError.
func (s *Schema) Validate() error {
	if s.Version != SchemaVersion {
		return &domain.SchemaMismatchError{Reason: fmt.Sprintf("schema version %d, want %d", s.Version, SchemaVersion)}
	}
	if len(s.Cities) == 0 {
		return &domain.SchemaMismatchError{Reason: "schema has no cities"}
	}
	for i := 1; i < len(s.Cities); i++ {
		if s.Cities[i-1] >= s.Cities[i] {
			return &domain.SchemaMismatchError{Reason: fmt.Sprintf("cities not in sorted unique order at %q", s.Cities[i])}
		}
	}
	if s.Reference != s.Cities[0] {
		return &domain.SchemaMismatchError{Reason: fmt.Sprintf("reference city %q, want %q", s.Reference, s.Cities[0])}
	}
	if err := domain.CompareColumns(layout(s.Cities), s.Columns); err != nil {
		return err
	}
	if want := fingerprint(s.Version, s.Cities, s.Columns); s.Fingerprint != want {
		return &domain.SchemaMismatchError{Reason: fmt.Sprintf("fingerprint %q, want %q", s.Fingerprint, want)}
	}
	return nil
}

// Has reports whether city belongs to the schema.
func (s *Schema) Has(city string) bool {
	i := sort.SearchStrings(s.Cities, city)
	return i < len(s.Cities) && s.Cities[i] == city
}

// Indicator returns the indicator column for city, or "" for the reference city
// and for cities outside the schema.
func (s *Schema) Indicator(city string) string {
	if !s.Has(city) || city == s.Reference {
		return ""
	}
	return IndicatorPrefix + city
}

// IndicatorColumns returns the indices into Columns of every indicator column.
func (s *Schema) IndicatorColumns() []int {
	first := len(domain.FeatureColumns)
	out := make([]int, 0, len(s.Columns)-first)
	for i := first; i < len(s.Columns); i++ {
		out = append(out, i)
	}
	return out
}

// ColumnIndex returns the position of name in Columns, or -1.
func (s *Schema) ColumnIndex(name string) int {
	for i, c := range s.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Conform rejects a vector whose columns differ in name or order from the
// schema. The vector is never reindexed.
func (s *Schema) Conform(v Vector) error {
	if err := domain.CompareColumns(s.Columns, v.Columns); err != nil {
		return err
	}
	if len(v.Values) != len(s.Columns) {
		return &domain.SchemaMismatchError{Reason: fmt.Sprintf("%d values for %d columns", len(v.Values), len(s.Columns))}
	}
	return nil
}

// notFound builds the error returned for cities outside the schema.
func (s *Schema) notFound(city string) error {
	known := make([]string, len(s.Cities))
	copy(known, s.Cities)
	return &domain.CityNotFoundError{City: city, Known: known}
}

// layout returns the model columns for a sorted city list.
func layout(cities []string) []string {
	cols := domain.FeatureColumnNames()
	for _, c := range cities[1:] {
		cols = append(cols, IndicatorPrefix+c)
	}
	return cols
}

// fingerprint is a deterministic digest of everything that defines the layout,
// so an artifact and a schema can be matched without comparing column lists.
func fingerprint(version int, cities, columns []string) string {
	input := fmt.Sprintf("v%d|%s|%s", version, strings.Join(cities, "\x1f"), strings.Join(columns, "\x1f"))
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:12])
}
