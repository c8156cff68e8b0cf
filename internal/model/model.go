// Package model holds the trained-model contract, the linear model used by the
// batch training path and its on-disk artifact.
package model

import (
	"context"
	"fmt"

	"github.com/couchcryptid/aqi-forecast/internal/domain"
	"github.com/couchcryptid/aqi-forecast/internal/encoder"
)

// Model scores one encoded feature vector.
type Model interface {
	Predict(ctx context.Context, v encoder.Vector) (float64, error)
	Columns() []string
}

// Linear is y = intercept + Σ coefficient·x over a fixed column layout.
// It is immutable and safe for concurrent use.
type Linear struct {
	intercept    float64
	coefficients []float64
	columns      []string
}

// NewLinear returns a linear model over columns. coefficients must align with columns.
func NewLinear(columns []string, intercept float64, coefficients []float64) (*Linear, error) {
	if len(columns) != len(coefficients) {
		return nil, fmt.Errorf("%d coefficients for %d columns", len(coefficients), len(columns))
	}
	cols := make([]string, len(columns))
	copy(cols, columns)
	coef := make([]float64, len(coefficients))
	copy(coef, coefficients)
	return &Linear{intercept: intercept, coefficients: coef, columns: cols}, nil
}

// Predict verifies the vector layout against the training columns before
// scoring; a different layout is a *domain.SchemaMismatchError.
func (m *Linear) Predict(_ context.Context, v encoder.Vector) (float64, error) {
	if err := domain.CompareColumns(m.columns, v.Columns); err != nil {
		return 0, err
	}
	if len(v.Values) != len(m.coefficients) {
		return 0, &domain.SchemaMismatchError{Reason: fmt.Sprintf("%d values for %d coefficients", len(v.Values), len(m.coefficients))}
	}
	y := m.intercept
	for i, x := range v.Values {
		y += m.coefficients[i] * x
	}
	return y, nil
}

// Columns returns the training column layout.
func (m *Linear) Columns() []string { return m.columns }

// Intercept returns the bias term.
func (m *Linear) Intercept() float64 { return m.intercept }

// Coefficients returns the weights aligned with Columns.
func (m *Linear) Coefficients() []float64 { return m.coefficients }
