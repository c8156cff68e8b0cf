package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCityNotFound matches any *CityNotFoundError.
	ErrCityNotFound = errors.New("city not found")

	// ErrSchemaMismatch matches any *SchemaMismatchError.
	ErrSchemaMismatch = errors.New("schema mismatch")
)

// CityNotFoundError reports a city outside the known set. Known is sorted.
type CityNotFoundError struct {
	City  string
	Known []string
}

func (e *CityNotFoundError) Error() string {
	return fmt.Sprintf("city %q not found, available cities: %s", e.City, strings.Join(e.Known, ", "))
}

func (e *CityNotFoundError) Is(target error) bool { return target == ErrCityNotFound }

// SchemaMismatchError reports a feature layout that differs from the layout a
// model was trained on. It is never recovered at runtime: the artifact and the
// feature table have to be redeployed as a matching pair.
type SchemaMismatchError struct {
	Reason string
	Want   []string
	Got    []string
}

func (e *SchemaMismatchError) Error() string {
	if len(e.Want) == 0 && len(e.Got) == 0 {
		return "schema mismatch: " + e.Reason
	}
	return fmt.Sprintf("schema mismatch: %s (want %v, got %v)", e.Reason, e.Want, e.Got)
}

func (e *SchemaMismatchError) Is(target error) bool { return target == ErrSchemaMismatch }

// CompareColumns returns a *SchemaMismatchError describing the first difference
// between want and got, or nil when names and order are identical.
func CompareColumns(want, got []string) error {
	if len(want) != len(got) {
		return &SchemaMismatchError{
			Reason: fmt.Sprintf("column count %d, want %d", len(got), len(want)),
			Want:   want,
			Got:    got,
		}
	}
	for i := range want {
		if want[i] != got[i] {
			return &SchemaMismatchError{
				Reason: fmt.Sprintf("column %d is %q, want %q", i, got[i], want[i]),
				Want:   want,
				Got:    got,
			}
		}
	}
	return nil
}
