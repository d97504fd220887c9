package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"transitlake/internal/lake"
	"transitlake/internal/policy"
	"transitlake/internal/storage"
	"transitlake/internal/transformer"
)

var now = time.Date(2025, 5, 2, 8, 30, 0, 0, time.UTC)

func writeMeta(t *testing.T, root string, m lake.PartitionMeta) string {
	t.Helper()
	dir := lake.PartitionDir(filepath.Join(root, "raw", "dtpm"), m.Dataset, m.Year, m.Month, m.Cut)
	if m.SchemaFingerprint == "" && m.Columns != nil {
		m.SchemaFingerprint = transformer.Fingerprint(m.Columns)
	}
	if err := lake.WriteMeta(dir, m); err != nil {
		t.Fatal(err)
	}
	return dir
}

func fixture(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeMeta(t, root, lake.PartitionMeta{
		Dataset: "viajes", Source: "DTPM", Cut: "2025-04-01", Year: 2025, Month: 4,
		Separator: "|", Encoding: "utf-8", Columns: []string{"id", "tviaje"}, ColumnCount: 2,
		RowCount: 10, FileSizeBytes: 3 * 1024 * 1024, ExtractedAt: "2025-05-01T12:00:00Z",
	})
	writeMeta(t, root, lake.PartitionMeta{
		Dataset: "viajes", Source: "DTPM", Cut: "2025-04-02", Year: 2025, Month: 4,
		Separator: "|", Encoding: "utf-8", Columns: []string{"id", "tviaje", "extra"}, ColumnCount: 3,
		RowCount: 5, FileSizeBytes: 1024 * 1024, ExtractedAt: "2025-05-01T12:00:01Z",
	})
	writeMeta(t, root, lake.PartitionMeta{
		Dataset: "subidas_30m", Source: "DTPM subidas", Cut: "2025-03", Year: 2025, Month: 3,
		Separator: "|", Encoding: "utf-8", Columns: []string{"Modo", "Subidas_Promedio"}, ColumnCount: 2,
		RowCount: 7, FileSizeBytes: 512, ExtractedAt: "2025-05-01T12:00:02Z",
		SourceSheet: "Datos", Ficha: lake.Ficha{{Key: "Fuente", Value: "DTPM"}},
	})
	return root
}

func TestBuild(t *testing.T) {
	t.Parallel()

	root := fixture(t)
	policies := []policy.Policy{
		{Dataset: "viajes", Columns: []string{"id", "tviaje", "factor_expansion"}},
		{Dataset: "subidas_30m", Columns: []string{"Modo"}},
		{Dataset: "etapas", Columns: []string{"id"}},
	}

	cat, err := Build(root, policies, now)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if cat.CatalogVersion != Version || cat.GeneratedAt != "2025-05-02T08:30:00Z" {
		t.Fatalf("header=%q %q", cat.CatalogVersion, cat.GeneratedAt)
	}
	if !filepath.IsAbs(cat.LakeRoot) {
		t.Fatalf("lake_root=%q want absolute", cat.LakeRoot)
	}

	wantSummary := Summary{
		TotalDatasets:   2,
		TotalPartitions: 3,
		TotalRows:       22,
		TotalSizeBytes:  4*1024*1024 + 512,
		TotalSizeGB:     0.004,
	}
	if cat.Summary != wantSummary {
		t.Fatalf("summary got=%+v want=%+v", cat.Summary, wantSummary)
	}

	// Sorted path order puts subidas_30m before viajes.
	var names []string
	for _, d := range cat.Datasets {
		names = append(names, d.Dataset)
	}
	if want := []string{"subidas_30m", "viajes"}; !reflect.DeepEqual(names, want) {
		t.Fatalf("datasets got=%v want=%v", names, want)
	}

	sub, via := cat.Datasets[0], cat.Datasets[1]
	if sub.SchemaDrift || len(sub.PolicyGaps) != 0 {
		t.Fatalf("subidas drift=%v gaps=%v", sub.SchemaDrift, sub.PolicyGaps)
	}
	if sub.SourceSheet != "Datos" || len(sub.Ficha) != 1 || sub.TotalSizeMB != 0 {
		t.Fatalf("subidas=%+v", sub)
	}

	if !via.SchemaDrift {
		t.Fatal("viajes: want schema drift")
	}
	if want := []string{"factor_expansion"}; !reflect.DeepEqual(via.PolicyGaps, want) {
		t.Fatalf("viajes gaps got=%v want=%v", via.PolicyGaps, want)
	}
	if via.TotalRows != 15 || via.TotalSizeMB != 4 || len(via.Partitions) != 2 {
		t.Fatalf("viajes=%+v", via)
	}
	if want := []string{"id", "tviaje"}; !reflect.DeepEqual(via.Columns, want) {
		t.Fatalf("viajes columns got=%v want=%v", via.Columns, want)
	}

	p := cat.Partitions[1]
	wantPath := "raw/dtpm/dataset=viajes/year=2025/month=04/cut=2025-04-01"
	if p.PartitionPath != wantPath || p.Layer != "raw" || p.MetaFile != wantPath+"/_meta.json" {
		t.Fatalf("partition=%+v", p)
	}
	if p.FileSizeMB != 3 || p.ColumnCount != 2 {
		t.Fatalf("partition=%+v", p)
	}
}

func TestBuild_EmptyAndMissingRoot(t *testing.T) {
	t.Parallel()

	for _, root := range []string{t.TempDir(), filepath.Join(t.TempDir(), "absent")} {
		cat, err := Build(root, nil, now)
		if err != nil {
			t.Fatalf("Build(%s): %v", root, err)
		}
		if len(cat.Datasets) != 0 || len(cat.Partitions) != 0 || cat.Summary.TotalPartitions != 0 {
			t.Fatalf("catalog=%+v", cat)
		}
		if cat.Datasets == nil || cat.Partitions == nil {
			t.Fatal("want empty, non-nil slices")
		}
	}
}

func TestBuild_InvalidMeta(t *testing.T) {
	t.Parallel()

	root := fixture(t)
	bad := filepath.Join(root, "raw", "dtpm", "dataset=x", "year=2025", "month=01", "cut=2025-01", lake.MetaFile)
	if err := os.MkdirAll(filepath.Dir(bad), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(bad, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := Build(root, nil, now)
	if !errors.Is(err, ErrInvalidMeta) {
		t.Fatalf("err=%v want ErrInvalidMeta", err)
	}
}

func TestBuild_MissingFingerprintIsDerived(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	dir := lake.PartitionDir(filepath.Join(root, "raw"), "etapas", 2025, 4, "2025-04-01")
	if err := lake.WriteMeta(dir, lake.PartitionMeta{Dataset: "etapas", Columns: []string{"a", "b"}}); err != nil {
		t.Fatal(err)
	}

	cat, err := Build(root, nil, now)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := cat.Partitions[0].SchemaFingerprint, transformer.Fingerprint([]string{"a", "b"}); got != want {
		t.Fatalf("fingerprint got=%s want=%s", got, want)
	}
}

func TestWriteReadAndRecords(t *testing.T) {
	t.Parallel()

	cat, err := Build(fixture(t), nil, now)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "lake_catalog.json")
	if err := Write(path, cat); err != nil {
		t.Fatal(err)
	}
	back, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if back.Summary != cat.Summary || len(back.Partitions) != len(cat.Partitions) {
		t.Fatalf("round trip got=%+v", back.Summary)
	}

	rows := cat.Records()
	if len(rows) != 3 {
		t.Fatalf("rows=%d want 3", len(rows))
	}
	if err := storage.PartitionsTable.CheckRows(rows); err != nil {
		t.Fatalf("CheckRows: %v", err)
	}
	if rows[0][9] != cat.GeneratedAt {
		t.Fatalf("cataloged_at=%v", rows[0][9])
	}
}
