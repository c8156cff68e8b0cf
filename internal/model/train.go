package model

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/aqi-forecast/internal/domain"
	"github.com/couchcryptid/aqi-forecast/internal/encoder"
)

// TrainConfig controls the batch fit.
type TrainConfig struct {
	// SplitQuantile is the date quantile separating train from test rows.
	SplitQuantile float64 `yaml:"split_quantile" default:"0.8"`
	// Ridge is the L2 penalty on every coefficient except the intercept.
	Ridge float64 `yaml:"ridge" default:"0.001"`
}

// LoadTrainConfig applies defaults and then overlays path when it is non-empty.
func LoadTrainConfig(path string) (*TrainConfig, error) {
	cfg := &TrainConfig{}
	if err := defaults.Set(cfg); err != nil {
		return nil, err
	}
	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // operator-supplied config path
		if err != nil {
			return nil, fmt.Errorf("read train config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode train config: %w", err)
		}
	}
	if cfg.SplitQuantile <= 0 || cfg.SplitQuantile >= 1 {
		return nil, fmt.Errorf("split_quantile must be in (0, 1), got %v", cfg.SplitQuantile)
	}
	if cfg.Ridge < 0 {
		return nil, fmt.Errorf("ridge must be >= 0, got %v", cfg.Ridge)
	}
	return cfg, nil
}

// Train resolves the encoder schema from the feature table, fits a ridge
// regression on rows dated before the split quantile and evaluates it on the
// rest. The returned artifact carries the schema for the serving path.
func Train(ctx context.Context, rows []domain.FeatureRow, cfg TrainConfig) (*Artifact, error) {
	schema, err := encoder.NewSchema(encoder.CitiesOf(rows))
	if err != nil {
		return nil, err
	}
	table, _ := schema.EncodeTable(rows)

	split := SplitDate(table, cfg.SplitQuantile)
	var train, test []encoder.Row
	for _, r := range table.Rows {
		if r.Date.Before(split) {
			train = append(train, r)
		} else {
			test = append(test, r)
		}
	}
	if len(train) == 0 {
		return nil, errors.New("no training rows before the split date")
	}

	lin, err := fitRidge(schema.Columns, train, cfg.Ridge)
	if err != nil {
		return nil, err
	}

	metrics, err := Evaluate(ctx, lin, schema.Columns, test)
	if err != nil {
		return nil, err
	}
	metrics.TrainRows = len(train)
	metrics.SplitDate = split.Format(time.RFC3339)

	return NewLinearArtifact(schema, lin, metrics)
}

// SplitDate returns the q-quantile of row dates, linearly interpolated between
// neighbouring dates.
func SplitDate(table *encoder.Table, q float64) time.Time {
	if table.Len() == 0 {
		return time.Time{}
	}
	secs := make([]int64, table.Len())
	for i, r := range table.Rows {
		secs[i] = r.Date.Unix()
	}
	sort.Slice(secs, func(i, j int) bool { return secs[i] < secs[j] })

	pos := q * float64(len(secs)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	frac := pos - float64(lo)
	v := float64(secs[lo]) + frac*float64(secs[hi]-secs[lo])
	return time.Unix(int64(math.Round(v)), 0).UTC()
}

// Evaluate scores m on rows and reports MAE, RMSE and R².
func Evaluate(ctx context.Context, m Model, columns []string, rows []encoder.Row) (Metrics, error) {
	out := Metrics{TestRows: len(rows)}
	if len(rows) == 0 {
		return out, nil
	}

	var mean float64
	for _, r := range rows {
		mean += r.Label
	}
	mean /= float64(len(rows))

	var absErr, sqErr, total float64
	for _, r := range rows {
		pred, err := m.Predict(ctx, encoder.Vector{Columns: columns, Values: r.Values})
		if err != nil {
			return Metrics{}, err
		}
		d := pred - r.Label
		absErr += math.Abs(d)
		sqErr += d * d
		total += (r.Label - mean) * (r.Label - mean)
	}

	n := float64(len(rows))
	out.MAE = absErr / n
	out.RMSE = math.Sqrt(sqErr / n)
	if total > 0 {
		out.R2 = 1 - sqErr/total
	}
	return out, nil
}

// fitRidge solves (XᵀX + λI)β = Xᵀy with an unpenalized intercept.
func fitRidge(columns []string, rows []encoder.Row, lambda float64) (*Linear, error) {
	p := len(columns) + 1 // intercept first
	a := make([][]float64, p)
	for i := range a {
		a[i] = make([]float64, p+1) // augmented with Xᵀy
	}

	x := make([]float64, p)
	for _, r := range rows {
		x[0] = 1
		copy(x[1:], r.Values)
		for i := 0; i < p; i++ {
			for j := i; j < p; j++ {
				a[i][j] += x[i] * x[j]
			}
			a[i][p] += x[i] * r.Label
		}
	}
	for i := 0; i < p; i++ {
		for j := 0; j < i; j++ {
			a[i][j] = a[j][i]
		}
		if i > 0 {
			a[i][i] += lambda
		}
	}

	beta, err := solve(a)
	if err != nil {
		return nil, err
	}
	return NewLinear(columns, beta[0], beta[1:])
}

// solve runs Gaussian elimination with partial pivoting on an augmented matrix.
func solve(a [][]float64) ([]float64, error) {
	n := len(a)
	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if math.Abs(a[r][col]) > math.Abs(a[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(a[pivot][col]) < 1e-12 {
			return nil, fmt.Errorf("singular design matrix at column %d; add ridge penalty or more varied rows", col)
		}
		a[col], a[pivot] = a[pivot], a[col]

		for r := col + 1; r < n; r++ {
			f := a[r][col] / a[col][col]
			for c := col; c <= n; c++ {
				a[r][c] -= f * a[col][c]
			}
		}
	}

	out := make([]float64, n)
	for r := n - 1; r >= 0; r-- {
		sum := a[r][n]
		for c := r + 1; c < n; c++ {
			sum -= a[r][c] * out[c]
		}
		out[r] = sum / a[r][r]
	}
	return out, nil
}
