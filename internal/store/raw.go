// Package store persists the tables of the batch pipeline: raw source files,
// the canonical table and the feature table, as CSV files or SQLite snapshots.
package store

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/couchcryptid/aqi-forecast/internal/domain"
)

// RawDir reads every *.csv file directly under Dir as one source table.
type RawDir struct {
	Dir    string
	logger *slog.Logger
}

// NewRawDir returns a raw source reader for dir.
func NewRawDir(dir string, logger *slog.Logger) *RawDir {
	return &RawDir{Dir: dir, logger: logger}
}

// ReadRaw returns one table per file in file-name order. Files without a header
// row are skipped.
func (r *RawDir) ReadRaw(ctx context.Context) ([]domain.RawTable, error) {
	paths, err := filepath.Glob(filepath.Join(r.Dir, "*.csv"))
	if err != nil {
		return nil, fmt.Errorf("list raw dir: %w", err)
	}
	sort.Strings(paths)

	tables := make([]domain.RawTable, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t, err := readRawFile(p)
		if err != nil {
			return nil, err
		}
		if len(t.Header) == 0 {
			r.logger.Warn("skipping empty raw file", "file", p)
			continue
		}
		r.logger.Debug("read raw file", "file", p, "rows", len(t.Rows))
		tables = append(tables, t)
	}
	return tables, nil
}

func readRawFile(path string) (domain.RawTable, error) {
	f, err := os.Open(path) //nolint:gosec // files come from the configured raw dir
	if err != nil {
		return domain.RawTable{}, fmt.Errorf("open raw file: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	t := domain.RawTable{Source: filepath.Base(path)}
	header, err := cr.Read()
	if err == io.EOF {
		return t, nil
	}
	if err != nil {
		return t, fmt.Errorf("read header of %s: %w", path, err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	t.Header = header

	t.Rows, err = cr.ReadAll()
	if err != nil {
		return t, fmt.Errorf("read %s: %w", path, err)
	}
	return t, nil
}
