package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
)

// Dir lists parquet files in a directory as prompt hints, for working
// against raw files without ingesting them first.
type Dir struct {
	Path string
}

// Datasets returns one hint line per parquet file, sorted by name:
// "sales.parquet: query with read_parquet('/abs/path/sales.parquet')".
func (d Dir) Datasets(ctx context.Context) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(d.Path, "*.parquet"))
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", d.Path, err)
	}
	sort.Strings(matches)

	var hints []string
	for _, m := range matches {
		abs, err := filepath.Abs(m)
		if err != nil {
			return nil, err
		}
		hints = append(hints, fmt.Sprintf("%s: query with read_parquet('%s')", filepath.Base(m), abs))
	}
	return hints, nil
}
