package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/aqi-forecast/internal/domain"
	"github.com/couchcryptid/aqi-forecast/internal/encoder"
)

// Artifact kinds.
const (
	KindLinear = "linear"
	KindRemote = "remote"
)

// Metrics are hold-out evaluation results recorded at training time.
type Metrics struct {
	MAE       float64 `yaml:"mae"`
	RMSE      float64 `yaml:"rmse"`
	R2        float64 `yaml:"r2"`
	TrainRows int     `yaml:"train_rows"`
	TestRows  int     `yaml:"test_rows"`
	SplitDate string  `yaml:"split_date,omitempty"`
}

// Artifact is the persisted trained model together with the encoder schema it
// was trained on. Both the training path and the serving path read the schema
// from here.
type Artifact struct {
	Schema       *encoder.Schema    `yaml:"schema"`
	Kind         string             `yaml:"kind"`
	Intercept    float64            `yaml:"intercept,omitempty"`
	Coefficients map[string]float64 `yaml:"coefficients,omitempty"`
	RemoteURL    string             `yaml:"remote_url,omitempty"`
	Metrics      Metrics            `yaml:"metrics"`
	TrainedAt    time.Time          `yaml:"trained_at"`
}

// NewLinearArtifact packages a linear model with its schema.
func NewLinearArtifact(schema *encoder.Schema, m *Linear, metrics Metrics) (*Artifact, error) {
	if err := domain.CompareColumns(schema.Columns, m.Columns()); err != nil {
		return nil, err
	}
	coef := make(map[string]float64, len(m.Columns()))
	for i, c := range m.Columns() {
		coef[c] = m.Coefficients()[i]
	}
	return &Artifact{
		Schema:       schema,
		Kind:         KindLinear,
		Intercept:    m.Intercept(),
		Coefficients: coef,
		Metrics:      metrics,
		TrainedAt:    domain.Now(),
	}, nil
}

// Validate checks the schema and that the model parameters cover exactly the
// schema columns.
func (a *Artifact) Validate() error {
	if a.Schema == nil {
		return &domain.SchemaMismatchError{Reason: "artifact has no schema"}
	}
	if err := a.Schema.Validate(); err != nil {
		return err
	}
	switch a.Kind {
	case KindLinear:
		if len(a.Coefficients) != len(a.Schema.Columns) {
			return &domain.SchemaMismatchError{Reason: fmt.Sprintf("%d coefficients for %d schema columns", len(a.Coefficients), len(a.Schema.Columns))}
		}
		for _, c := range a.Schema.Columns {
			if _, ok := a.Coefficients[c]; !ok {
				return &domain.SchemaMismatchError{Reason: fmt.Sprintf("no coefficient for column %q", c)}
			}
		}
	case KindRemote:
		if a.RemoteURL == "" {
			return errors.New("remote artifact has no remote_url")
		}
	default:
		return fmt.Errorf("unknown artifact kind %q", a.Kind)
	}
	return nil
}

// Linear builds the linear model described by a validated artifact, with
// coefficients laid out in schema column order.
func (a *Artifact) Linear() (*Linear, error) {
	if a.Kind != KindLinear {
		return nil, fmt.Errorf("artifact kind is %q, not %q", a.Kind, KindLinear)
	}
	coef := make([]float64, len(a.Schema.Columns))
	for i, c := range a.Schema.Columns {
		coef[i] = a.Coefficients[c]
	}
	return NewLinear(a.Schema.Columns, a.Intercept, coef)
}

// LoadArtifact reads and validates an artifact file.
func LoadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied artifact path
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	var a Artifact
	if err := yaml.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode artifact %s: %w", path, err)
	}
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("artifact %s: %w", path, err)
	}
	return &a, nil
}

// SaveArtifact writes the artifact atomically: a temporary file in the same
// directory is renamed over path.
func SaveArtifact(path string, a *Artifact) error {
	if err := a.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".artifact-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename artifact: %w", err)
	}
	return nil
}
