package catalog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := OpenRegistry(filepath.Join(t.TempDir(), "catalog.duckdb"))
	if err != nil {
		t.Fatalf("OpenRegistry: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func writeCSV(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestIngestAndList(t *testing.T) {
	reg := testRegistry(t)
	csv := writeCSV(t, "orders.csv", "id,amount\n1,9.5\n2,3.25\n3,7.0\n")

	ds, err := reg.Ingest(context.Background(), csv, "")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if ds.Name != "orders" {
		t.Errorf("Name = %q, want orders", ds.Name)
	}
	if ds.RowCount != 3 {
		t.Errorf("RowCount = %d, want 3", ds.RowCount)
	}
	if len(ds.Columns) != 2 || ds.Columns[0].Name != "id" || ds.Columns[1].Name != "amount" {
		t.Errorf("Columns = %+v", ds.Columns)
	}

	list, err := reg.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].Name != "orders" || len(list[0].Columns) != 2 {
		t.Errorf("List = %+v", list)
	}
}

func TestIngestReplacesExisting(t *testing.T) {
	reg := testRegistry(t)
	first := writeCSV(t, "orders.csv", "id\n1\n2\n")
	second := writeCSV(t, "orders2.csv", "id\n1\n2\n3\n4\n")

	if _, err := reg.Ingest(context.Background(), first, "orders"); err != nil {
		t.Fatalf("first Ingest: %v", err)
	}
	ds, err := reg.Ingest(context.Background(), second, "orders")
	if err != nil {
		t.Fatalf("second Ingest: %v", err)
	}
	if ds.RowCount != 4 {
		t.Errorf("RowCount = %d, want 4", ds.RowCount)
	}

	list, err := reg.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("len(list) = %d, want 1 after replace", len(list))
	}
}

func TestIngestRejectsBadName(t *testing.T) {
	reg := testRegistry(t)
	csv := writeCSV(t, "x.csv", "a\n1\n")

	if _, err := reg.Ingest(context.Background(), csv, "drop table; --"); err == nil {
		t.Error("expected error for hostile dataset name")
	}
	if _, err := reg.Ingest(context.Background(), csv, "Orders"); err == nil {
		t.Error("expected error for uppercase dataset name")
	}
}

func TestIngestMissingFile(t *testing.T) {
	reg := testRegistry(t)
	if _, err := reg.Ingest(context.Background(), filepath.Join(t.TempDir(), "nope.csv"), ""); err == nil {
		t.Error("expected error for missing CSV")
	}
}

func TestDatasetsHints(t *testing.T) {
	reg := testRegistry(t)
	csv := writeCSV(t, "orders.csv", "id,amount\n1,9.5\n")
	if _, err := reg.Ingest(context.Background(), csv, ""); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	hints, err := reg.Datasets(context.Background())
	if err != nil {
		t.Fatalf("Datasets: %v", err)
	}
	if len(hints) != 1 {
		t.Fatalf("hints = %v", hints)
	}
	if !strings.HasPrefix(hints[0], "orders (1 rows): ") || !strings.Contains(hints[0], "id ") {
		t.Errorf("hint = %q", hints[0])
	}
}

func TestTableName(t *testing.T) {
	cases := []struct{ in, want string }{
		{"data/Orders 2024.csv", "orders_2024"},
		{"2024.csv", "t_2024"},
		{"plain.csv", "plain"},
	}
	for _, tc := range cases {
		if got := TableName(tc.in); got != tc.want {
			t.Errorf("TableName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestDirCatalog(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.parquet", "a.parquet", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	hints, err := Dir{Path: dir}.Datasets(context.Background())
	if err != nil {
		t.Fatalf("Datasets: %v", err)
	}
	if len(hints) != 2 {
		t.Fatalf("hints = %v", hints)
	}
	if !strings.HasPrefix(hints[0], "a.parquet: ") || !strings.Contains(hints[0], "read_parquet(") {
		t.Errorf("hint = %q", hints[0])
	}
}
