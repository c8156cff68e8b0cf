package store

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/couchcryptid/aqi-forecast/internal/domain"
)

// CSVTable is a canonical or feature table stored as a single CSV file.
// Writes replace the file atomically, so readers see either the previous table
// or the new one.
type CSVTable struct {
	Path string
}

// NewCSVTable returns a table backed by path.
func NewCSVTable(path string) *CSVTable {
	return &CSVTable{Path: path}
}

// SaveCanonical writes records under the canonical header.
func (t *CSVTable) SaveCanonical(_ context.Context, records []domain.CanonicalRecord) error {
	return writeAtomic(t.Path, func(w *csv.Writer) error {
		if err := w.Write(domain.CanonicalColumns); err != nil {
			return err
		}
		for i := range records {
			if err := w.Write(canonicalCells(&records[i])); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadCanonical reads a canonical table. A header other than the canonical
// header is a *domain.SchemaMismatchError.
func (t *CSVTable) LoadCanonical(_ context.Context) ([]domain.CanonicalRecord, error) {
	rows, err := readTable(t.Path, domain.CanonicalColumns)
	if err != nil {
		return nil, err
	}
	out := make([]domain.CanonicalRecord, 0, len(rows))
	for i, row := range rows {
		rec, err := parseCanonical(row)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", t.Path, i+2, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// SaveFeatures writes feature rows under the feature table header.
func (t *CSVTable) SaveFeatures(_ context.Context, rows []domain.FeatureRow) error {
	return writeAtomic(t.Path, func(w *csv.Writer) error {
		if err := w.Write(domain.FeatureTableColumns()); err != nil {
			return err
		}
		for i := range rows {
			cells := canonicalCells(&rows[i].CanonicalRecord)
			for _, c := range domain.FeatureColumns {
				cells = append(cells, formatFloat(c.Value(rows[i])))
			}
			if err := w.Write(cells); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadFeatures reads a feature table. A header other than the feature table
// header is a *domain.SchemaMismatchError.
func (t *CSVTable) LoadFeatures(_ context.Context) ([]domain.FeatureRow, error) {
	rows, err := readTable(t.Path, domain.FeatureTableColumns())
	if err != nil {
		return nil, err
	}
	n := len(domain.CanonicalColumns)
	out := make([]domain.FeatureRow, 0, len(rows))
	for i, row := range rows {
		rec, err := parseCanonical(row[:n])
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", t.Path, i+2, err)
		}
		fr := domain.FeatureRow{CanonicalRecord: rec}
		for j, c := range domain.FeatureColumns {
			v, err := strconv.ParseFloat(row[n+j], 64)
			if err != nil {
				return nil, fmt.Errorf("%s line %d: column %s: %w", t.Path, i+2, c.Name, err)
			}
			c.Set(&fr, v)
		}
		out = append(out, fr)
	}
	return out, nil
}

func canonicalCells(r *domain.CanonicalRecord) []string {
	cells := []string{r.City, r.Date.Format(domain.DateLayout), formatFloat(r.AQI)}
	for _, p := range r.Pollutants() {
		cells = append(cells, formatNull(*p))
	}
	return cells
}

func parseCanonical(row []string) (domain.CanonicalRecord, error) {
	date, err := time.Parse(domain.DateLayout, row[1])
	if err != nil {
		return domain.CanonicalRecord{}, fmt.Errorf("date: %w", err)
	}
	aqi, err := strconv.ParseFloat(row[2], 64)
	if err != nil {
		return domain.CanonicalRecord{}, fmt.Errorf("aqi: %w", err)
	}
	rec := domain.CanonicalRecord{City: row[0], Date: date, AQI: aqi}
	for i, p := range rec.Pollutants() {
		if *p, err = parseNull(row[3+i]); err != nil {
			return domain.CanonicalRecord{}, fmt.Errorf("%s: %w", domain.CanonicalColumns[3+i], err)
		}
	}
	return rec, nil
}

// readTable reads all data rows of path after checking its header.
func readTable(path string, header []string) ([][]string, error) {
	f, err := os.Open(path) //nolint:gosec // configured table path
	if err != nil {
		return nil, fmt.Errorf("open table: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = len(header)
	got, err := cr.Read()
	if err == io.EOF {
		return nil, &domain.SchemaMismatchError{Reason: fmt.Sprintf("%s has no header", path)}
	}
	if err != nil {
		if got != nil {
			return nil, domain.CompareColumns(header, got)
		}
		return nil, fmt.Errorf("read header of %s: %w", path, err)
	}
	if err := domain.CompareColumns(header, got); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return rows, nil
}

// writeAtomic renders a CSV into a temporary file next to path and renames it
// into place.
func writeAtomic(path string, render func(w *csv.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create table dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("create temp table: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after a successful rename

	w := csv.NewWriter(tmp)
	if err := render(w); err != nil {
		tmp.Close()
		return fmt.Errorf("write table: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush table: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close table: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename table: %w", err)
	}
	return nil
}

// formatFloat is the shortest representation that parses back to v.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func formatNull(v sql.NullFloat64) string {
	if !v.Valid {
		return ""
	}
	return formatFloat(v.Float64)
}

func parseNull(s string) (sql.NullFloat64, error) {
	if s == "" {
		return sql.NullFloat64{}, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return sql.NullFloat64{}, err
	}
	return sql.NullFloat64{Float64: v, Valid: true}, nil
}
