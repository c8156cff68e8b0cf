package forecast

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/aqi-forecast/internal/domain"
	"github.com/couchcryptid/aqi-forecast/internal/model"
)

// FeatureSource reads the persisted feature table.
type FeatureSource interface {
	LoadFeatures(ctx context.Context) ([]domain.FeatureRow, error)
}

// RemoteModelFunc builds a client for an artifact served over HTTP.
type RemoteModelFunc func(url string, columns []string) model.Model

// ArtifactLoader builds snapshots from the model artifact on disk and the
// feature store. The schema always comes from the artifact.
type ArtifactLoader struct {
	modelPath string
	features  FeatureSource
	remote    RemoteModelFunc
	logger    *slog.Logger
}

// NewArtifactLoader returns a loader. remote may be nil when only linear
// artifacts are deployed.
func NewArtifactLoader(modelPath string, features FeatureSource, remote RemoteModelFunc, logger *slog.Logger) *ArtifactLoader {
	return &ArtifactLoader{modelPath: modelPath, features: features, remote: remote, logger: logger}
}

// Load reads the artifact, encodes the feature table with the artifact schema
// and returns a snapshot. Feature rows for cities the schema does not know are
// skipped; forecasts for them report CityNotFound until the model is retrained.
func (l *ArtifactLoader) Load(ctx context.Context) (*Snapshot, error) {
	a, err := model.LoadArtifact(l.modelPath)
	if err != nil {
		return nil, err
	}

	m, err := l.modelFor(a)
	if err != nil {
		return nil, err
	}

	rows, err := l.features.LoadFeatures(ctx)
	if err != nil {
		return nil, fmt.Errorf("load features: %w", err)
	}

	table, skipped := a.Schema.EncodeTable(rows)
	if len(skipped) > 0 {
		l.logger.Warn("feature rows for cities outside the model schema skipped",
			"cities", skipped, "fingerprint", a.Schema.Fingerprint)
	}
	return NewSnapshot(a.Schema, table, m)
}

func (l *ArtifactLoader) modelFor(a *model.Artifact) (model.Model, error) {
	switch a.Kind {
	case model.KindRemote:
		if l.remote == nil {
			return nil, fmt.Errorf("artifact %s needs a remote model client", l.modelPath)
		}
		return l.remote(a.RemoteURL, a.Schema.Columns), nil
	default:
		return a.Linear()
	}
}
