package tools

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/datalab-sh/datalab/internal/run"
)

// RunSQL executes a semicolon-separated statement sequence against a private
// in-memory DuckDB handle. Non-SELECT statements run for side effect; the
// last SELECT is materialized to result.parquet and previewed. Bad SQL is a
// recoverable outcome carrying the engine's error text.
func RunSQL(r *run.Run, sqlText string) ToolOutcome {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return failure("opening analytical engine: %v", err)
	}
	defer db.Close()

	var lastSelect string
	for _, stmt := range splitStatements(sqlText) {
		if isReadQuery(stmt) {
			lastSelect = stmt
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return failure("SQL error: %v", err)
		}
	}

	parquetPath := r.Path("result.parquet")
	if lastSelect != "" {
		copyStmt := fmt.Sprintf("COPY (%s) TO '%s' (FORMAT parquet)", lastSelect, escapeSQLString(parquetPath))
		if _, err := db.Exec(copyStmt); err != nil {
			return failure("SQL error: %v", err)
		}
	}

	outcome := ToolOutcome{OK: true, Message: "SQL executed"}
	if fileExists(parquetPath) {
		table, err := previewParquetWith(db, parquetPath)
		if err != nil {
			return failure("previewing result: %v", err)
		}
		outcome.Table = table
	}
	return outcome
}

// PreviewParquet opens its own engine handle and previews the given parquet
// file. Used by the cell runner's result.parquet auto-preview.
func PreviewParquet(path string) (*TablePreview, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("opening analytical engine: %w", err)
	}
	defer db.Close()
	return previewParquetWith(db, path)
}

func previewParquetWith(db *sql.DB, path string) (*TablePreview, error) {
	query := fmt.Sprintf("SELECT * FROM read_parquet('%s') LIMIT %d", escapeSQLString(path), previewRows)
	rows, err := db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("reading parquet preview: %w", err)
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}

	table := &TablePreview{Path: path, Rows: []map[string]any{}}
	for i, name := range names {
		declared := "unknown"
		if t := types[i].DatabaseTypeName(); t != "" {
			declared = t
		}
		table.Schema = append(table.Schema, Column{Name: name, Type: declared})
	}

	for rows.Next() {
		values := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		obj := make(map[string]any, len(names))
		for i, name := range names {
			if b, ok := values[i].([]byte); ok {
				obj[name] = string(b)
			} else {
				obj[name] = values[i]
			}
		}
		table.Rows = append(table.Rows, obj)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	table.RowCount = len(table.Rows)
	return table, nil
}

func splitStatements(sqlText string) []string {
	var out []string
	for _, s := range strings.Split(sqlText, ";") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func isReadQuery(stmt string) bool {
	head := strings.ToLower(stmt)
	return strings.HasPrefix(head, "select") || strings.HasPrefix(head, "with")
}

// escapeSQLString doubles single quotes for embedding a path in a SQL string
// literal. Identifiers and values elsewhere use bound parameters; COPY and
// read_parquet targets cannot be bound.
func escapeSQLString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
