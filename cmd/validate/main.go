// Command validate checks that the processed tables and the model artifact on
// disk are consistent with each other: the canonical table is sorted and
// unique, the feature table is exactly what the feature builder derives from
// the canonical table, and the artifact schema covers the feature table.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -canonical data/processed/aqi_master.csv \
//	  -features data/processed/aqi_features.csv \
//	  -model artifacts/model.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/couchcryptid/aqi-forecast/internal/domain"
	"github.com/couchcryptid/aqi-forecast/internal/encoder"
	"github.com/couchcryptid/aqi-forecast/internal/features"
	"github.com/couchcryptid/aqi-forecast/internal/model"
	"github.com/couchcryptid/aqi-forecast/internal/store"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	canonicalPath := flag.String("canonical", "data/processed/aqi_master.csv", "canonical table CSV")
	featuresPath := flag.String("features", "data/processed/aqi_features.csv", "feature table CSV")
	modelPath := flag.String("model", "", "model artifact YAML (schema phase skipped when empty)")
	flag.Parse()

	os.Exit(run(*canonicalPath, *featuresPath, *modelPath))
}

func run(canonicalPath, featuresPath, modelPath string) int {
	ctx := context.Background()
	fmt.Println("=== AQI Data Integrity Validation ===")
	fmt.Println()

	records, err := store.NewCSVTable(canonicalPath).LoadCanonical(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load canonical table: %v\n", err)
		return 1
	}
	rows, err := store.NewCSVTable(featuresPath).LoadFeatures(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load feature table: %v\n", err)
		return 1
	}

	phases := []*phase{
		validateCanonical(records),
		validateFeatures(records, rows),
	}
	if modelPath != "" {
		a, err := model.LoadArtifact(modelPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: load model artifact: %v\n", err)
			return 1
		}
		phases = append(phases, validateSchema(a, rows))
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Records: %d canonical, %d feature rows\n", len(records), len(rows))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			if i == 20 {
				fmt.Printf("  ... and %d more\n", len(p.errors)-i)
				break
			}
			fmt.Printf("  %s\n", e)
		}
	}

	if !allPassed {
		return 1
	}
	return 0
}

// validateCanonical checks ordering, uniqueness and the aqi domain.
func validateCanonical(records []domain.CanonicalRecord) *phase {
	p := &phase{name: "Canonical table ordering and values"}
	for i := range records {
		r := &records[i]
		if r.City == "" {
			p.errorf("row %d: empty city", i)
		}
		if math.IsNaN(r.AQI) || math.IsInf(r.AQI, 0) || r.AQI < 0 {
			p.errorf("row %d (%s %s): aqi %g out of range", i, r.City, r.Date.Format(domain.DateLayout), r.AQI)
		}
		if i == 0 {
			continue
		}
		prev := &records[i-1]
		switch {
		case prev.City > r.City:
			p.errorf("row %d: city %q after %q", i, r.City, prev.City)
		case prev.City == r.City && !prev.Date.Before(r.Date):
			p.errorf("row %d: %s %s not after %s", i, r.City, r.Date.Format(domain.DateLayout), prev.Date.Format(domain.DateLayout))
		}
	}
	return p
}

// validateFeatures rebuilds the feature table and diffs it against the stored one.
func validateFeatures(records []domain.CanonicalRecord, stored []domain.FeatureRow) *phase {
	p := &phase{name: "Feature table matches recomputation"}
	rebuilt, stats := features.Build(records)
	if len(rebuilt) != len(stored) {
		p.errorf("row count %d, recomputed %d (incomplete cities %v)", len(stored), len(rebuilt), stats.Incomplete)
	}
	if diff := cmp.Diff(rebuilt, stored, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		p.errorf("feature rows differ (-recomputed +stored):\n%s", diff)
	}
	return p
}

// validateSchema checks the artifact and that every feature city is encodable.
func validateSchema(a *model.Artifact, rows []domain.FeatureRow) *phase {
	p := &phase{name: "Model schema covers feature table"}
	if err := a.Validate(); err != nil {
		p.errorf("artifact: %v", err)
		return p
	}
	for _, city := range encoder.CitiesOf(rows) {
		if !a.Schema.Has(city) {
			p.errorf("city %q is in the feature table but not in schema %s", city, a.Schema.Fingerprint)
		}
	}
	return p
}
