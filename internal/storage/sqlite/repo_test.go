package sqlite

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"transitlake/internal/storage"
)

func TestBuildCreateSQL(t *testing.T) {
	t.Parallel()

	ddl, err := buildCreateSQL(storage.ColumnProfilesTable)
	if err != nil {
		t.Fatalf("buildCreateSQL: %v", err)
	}
	for _, want := range []string{
		`CREATE TABLE IF NOT EXISTS "lake_column_profiles"`,
		`"null_rate" REAL NOT NULL`,
		`"selected" INTEGER NOT NULL`,
		`PRIMARY KEY ("dataset", "column_name")`,
	} {
		if !strings.Contains(ddl, want) {
			t.Fatalf("ddl missing %q:\n%s", want, ddl)
		}
	}

	ddl, err = buildCreateSQL(storage.PartitionsTable)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(ddl, `"schema_fingerprint" TEXT,`) {
		t.Fatalf("nullable column should not be NOT NULL:\n%s", ddl)
	}
}

func TestBuildCreateSQL_InvalidSpec(t *testing.T) {
	t.Parallel()
	if _, err := buildCreateSQL(storage.TableSpec{Name: "t"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestBuildUpsertSQL(t *testing.T) {
	t.Parallel()

	spec := storage.TableSpec{
		Name:    `we"ird`,
		Columns: []storage.ColumnSpec{{Name: "k", Type: storage.TypeText}, {Name: "v", Type: storage.TypeInt}},
		Key:     []string{"k"},
	}
	got := buildUpsertSQL(spec)
	want := `INSERT OR REPLACE INTO "we""ird" ("k", "v") VALUES (?, ?)`
	if got != want {
		t.Fatalf("got=%q want=%q", got, want)
	}
}

// TestRepo_UpsertRoundTrip runs against a real database file.
func TestRepo_UpsertRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "lake.db")
	repo, err := storage.Open(ctx, storage.Config{Kind: "sqlite", DSN: dsn})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer repo.Close()

	spec := storage.PartitionsTable
	if err := repo.EnsureTables(ctx, []storage.TableSpec{spec}); err != nil {
		t.Fatalf("EnsureTables: %v", err)
	}
	// Second call is a no-op.
	if err := repo.EnsureTables(ctx, []storage.TableSpec{spec}); err != nil {
		t.Fatalf("EnsureTables again: %v", err)
	}

	row := func(path string, rows int64) []any {
		return []any{path, "viajes", "raw", "2025-04-01", int64(2025), int64(4), rows, int64(100), nil, "2025-05-01T00:00:00Z"}
	}
	n, err := repo.Upsert(ctx, spec, [][]any{row("a", 1), row("b", 2), row("a", 3)})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if n != 2 {
		t.Fatalf("n=%d want 2", n)
	}
	if _, err := repo.Upsert(ctx, spec, [][]any{row("b", 20)}); err != nil {
		t.Fatalf("Upsert again: %v", err)
	}

	db := repo.(*Repo).db
	var count, sum int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*), SUM(row_count) FROM lake_partitions`).Scan(&count, &sum); err != nil {
		t.Fatal(err)
	}
	if count != 2 || sum != 23 {
		t.Fatalf("count=%d sum=%d want 2 and 23", count, sum)
	}
}

func TestRepo_UpsertRejectsRaggedRows(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo, err := New(ctx, storage.Config{DSN: filepath.Join(t.TempDir(), "x.db")})
	if err != nil {
		t.Fatal(err)
	}
	defer repo.Close()

	if _, err := repo.Upsert(ctx, storage.PartitionsTable, [][]any{{"only-one"}}); err == nil {
		t.Fatalf("expected row width error")
	}
}
