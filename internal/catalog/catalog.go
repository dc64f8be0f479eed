package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb"
)

// Registry is a DuckDB-backed dataset registry. Ingested CSVs become
// native tables in the registry database plus a metadata row, so the
// model can be told what data exists before its first turn.
type Registry struct {
	db   *sql.DB
	path string
}

// Dataset is one registered table.
type Dataset struct {
	Name       string
	Source     string
	RowCount   int64
	IngestedAt time.Time
	Columns    []ColumnInfo
}

type ColumnInfo struct {
	Name string
	Type string
}

// identRe is the only table-name shape we accept. Identifiers cannot be
// bound as parameters, so anything else is rejected outright.
var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// OpenRegistry opens (creating if needed) the registry database at path.
func OpenRegistry(path string) (*Registry, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating registry dir: %w", err)
		}
	}
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("opening registry: %w", err)
	}
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS datasets (
			name VARCHAR PRIMARY KEY,
			source VARCHAR,
			row_count BIGINT,
			ingested_at TIMESTAMP)`,
		`CREATE TABLE IF NOT EXISTS dataset_columns (
			dataset VARCHAR,
			name VARCHAR,
			type VARCHAR,
			ord INTEGER)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("initializing registry schema: %w", err)
		}
	}
	return &Registry{db: db, path: path}, nil
}

func (r *Registry) Close() error { return r.db.Close() }

// Path returns the registry database file path.
func (r *Registry) Path() string { return r.path }

// Ingest loads a CSV into a native table named name (derived from the
// filename when empty) and records its metadata. Re-ingesting a name
// replaces both the table and the metadata.
func (r *Registry) Ingest(ctx context.Context, csvPath, name string) (Dataset, error) {
	if name == "" {
		name = TableName(csvPath)
	}
	if !identRe.MatchString(name) {
		return Dataset{}, fmt.Errorf("invalid dataset name %q: want lowercase identifier", name)
	}
	abs, err := filepath.Abs(csvPath)
	if err != nil {
		return Dataset{}, err
	}
	if _, err := os.Stat(abs); err != nil {
		return Dataset{}, fmt.Errorf("reading %s: %w", csvPath, err)
	}

	load := fmt.Sprintf("CREATE OR REPLACE TABLE %s AS SELECT * FROM read_csv_auto('%s')",
		name, escapeString(abs))
	if _, err := r.db.ExecContext(ctx, load); err != nil {
		return Dataset{}, fmt.Errorf("loading %s: %w", csvPath, err)
	}

	var rowCount int64
	if err := r.db.QueryRowContext(ctx, fmt.Sprintf("SELECT count(*) FROM %s", name)).Scan(&rowCount); err != nil {
		return Dataset{}, err
	}
	cols, err := r.tableColumns(ctx, name)
	if err != nil {
		return Dataset{}, err
	}

	ds := Dataset{Name: name, Source: abs, RowCount: rowCount, IngestedAt: time.Now().UTC(), Columns: cols}
	if _, err := r.db.ExecContext(ctx, "DELETE FROM datasets WHERE name = ?", name); err != nil {
		return Dataset{}, err
	}
	if _, err := r.db.ExecContext(ctx, "DELETE FROM dataset_columns WHERE dataset = ?", name); err != nil {
		return Dataset{}, err
	}
	if _, err := r.db.ExecContext(ctx,
		"INSERT INTO datasets (name, source, row_count, ingested_at) VALUES (?, ?, ?, ?)",
		ds.Name, ds.Source, ds.RowCount, ds.IngestedAt); err != nil {
		return Dataset{}, fmt.Errorf("recording dataset: %w", err)
	}
	for i, col := range cols {
		if _, err := r.db.ExecContext(ctx,
			"INSERT INTO dataset_columns (dataset, name, type, ord) VALUES (?, ?, ?, ?)",
			ds.Name, col.Name, col.Type, i); err != nil {
			return Dataset{}, fmt.Errorf("recording column %s: %w", col.Name, err)
		}
	}
	return ds, nil
}

// List returns all registered datasets, newest first.
func (r *Registry) List(ctx context.Context) ([]Dataset, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT name, source, row_count, ingested_at FROM datasets ORDER BY ingested_at DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Dataset
	for rows.Next() {
		var ds Dataset
		if err := rows.Scan(&ds.Name, &ds.Source, &ds.RowCount, &ds.IngestedAt); err != nil {
			return nil, err
		}
		out = append(out, ds)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		cols, err := r.registeredColumns(ctx, out[i].Name)
		if err != nil {
			return nil, err
		}
		out[i].Columns = cols
	}
	return out, nil
}

// Datasets renders one hint line per registered dataset for the system
// prompt: "name (N rows): col TYPE, col TYPE".
func (r *Registry) Datasets(ctx context.Context) ([]string, error) {
	list, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	var hints []string
	for _, ds := range list {
		var cols []string
		for _, c := range ds.Columns {
			cols = append(cols, c.Name+" "+c.Type)
		}
		hints = append(hints, fmt.Sprintf("%s (%d rows): %s", ds.Name, ds.RowCount, strings.Join(cols, ", ")))
	}
	return hints, nil
}

func (r *Registry) tableColumns(ctx context.Context, table string) ([]ColumnInfo, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT column_name, data_type FROM information_schema.columns WHERE table_name = ? ORDER BY ordinal_position",
		table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []ColumnInfo
	for rows.Next() {
		var c ColumnInfo
		if err := rows.Scan(&c.Name, &c.Type); err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func (r *Registry) registeredColumns(ctx context.Context, dataset string) ([]ColumnInfo, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT name, type FROM dataset_columns WHERE dataset = ? ORDER BY ord", dataset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []ColumnInfo
	for rows.Next() {
		var c ColumnInfo
		if err := rows.Scan(&c.Name, &c.Type); err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// TableName derives a registry-safe table name from a file path.
func TableName(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	base = strings.ToLower(base)
	base = regexp.MustCompile(`[^a-z0-9_]`).ReplaceAllString(base, "_")
	if base == "" || (base[0] >= '0' && base[0] <= '9') {
		base = "t_" + base
	}
	return base
}

// escapeString doubles single quotes for embedding a path in a SQL
// string literal. Everything else in this package uses bound parameters.
func escapeString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
