package extract

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
)

func gzBytes(t *testing.T, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(body)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func zipBytes(t *testing.T, files map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(body); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func writeFile(t *testing.T, path string, body []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestRun_NestedZipAndGzip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	data := filepath.Join(dir, "data")
	out := filepath.Join(data, "extracted")

	inner := zipBytes(t, map[string][]byte{"2025-04-01.etapas.csv": []byte("a|b\n1|2\n")})
	top := zipBytes(t, map[string][]byte{
		"Tabla-de-viajes-2025/2025-04-01.viajes.csv.gz": gzBytes(t, "x|y\n3|4\n"),
		"Tabla-de-etapas-2025.zip":                      inner,
		"README.txt":                                    []byte("hola"),
	})
	writeFile(t, filepath.Join(data, "DTPM.zip"), top)

	if !Needed(out) {
		t.Fatalf("Needed should be true before extraction")
	}

	res, err := Extractor{DataDir: data, OutDir: out}.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Archives != 1 || res.NestedArchives != 1 || res.GzipFiles != 1 {
		t.Fatalf("result=%+v", res)
	}

	csv := filepath.Join(out, "DTPM", "Tabla-de-viajes-2025", "2025-04-01.viajes.csv")
	got, err := os.ReadFile(csv)
	if err != nil || string(got) != "x|y\n3|4\n" {
		t.Fatalf("gunzipped file=%q err=%v", got, err)
	}
	if _, err := os.Stat(csv + ".gz"); !os.IsNotExist(err) {
		t.Fatalf(".gz should be removed, stat err=%v", err)
	}

	nested := filepath.Join(out, "DTPM", "Tabla-de-etapas-2025", "2025-04-01.etapas.csv")
	if _, err := os.Stat(nested); err != nil {
		t.Fatalf("nested member missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(out, "DTPM", "Tabla-de-etapas-2025.zip")); !os.IsNotExist(err) {
		t.Fatalf("nested zip should be removed, stat err=%v", err)
	}

	if Needed(out) {
		t.Fatalf("Needed should be false after extraction")
	}

	var tree strings.Builder
	if err := PrintTree(&tree, out); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(tree.String(), "└── DTPM") || !strings.Contains(tree.String(), "2025-04-01.viajes.csv") {
		t.Fatalf("tree=\n%s", tree.String())
	}
}

func TestRun_RejectsZipSlip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "evil.zip"), zipBytes(t, map[string][]byte{"../../escape.txt": []byte("x")}))

	_, err := Extractor{DataDir: dir, OutDir: filepath.Join(dir, "out")}.Run(context.Background())
	if !errors.Is(err, ErrUnsafePath) {
		t.Fatalf("err=%v want ErrUnsafePath", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "..", "escape.txt")); !os.IsNotExist(err) {
		t.Fatalf("escaped file written")
	}
}

func TestRun_MissingDataDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_, err := Extractor{DataDir: filepath.Join(dir, "nope"), OutDir: dir}.Run(context.Background())
	if !errors.Is(err, ErrSourceNotFound) {
		t.Fatalf("err=%v want ErrSourceNotFound", err)
	}
}

func TestRun_NoArchives(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	res, err := Extractor{DataDir: dir, OutDir: filepath.Join(dir, "out")}.Run(context.Background())
	if err != nil || res.Archives != 0 {
		t.Fatalf("res=%+v err=%v", res, err)
	}
}

func TestRun_Canceled(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.zip"), zipBytes(t, map[string][]byte{"a.csv": []byte("a\n")}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (Extractor{DataDir: dir, OutDir: filepath.Join(dir, "out")}).Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want context.Canceled", err)
	}
}

func TestSafeJoin(t *testing.T) {
	t.Parallel()

	dest := filepath.Join(t.TempDir(), "dest")
	tests := []struct {
		name string
		ok   bool
	}{
		{"a/b.csv", true},
		{"./a.csv", true},
		{"a/../b.csv", true},
		{"../b.csv", false},
		{"a/../../b.csv", false},
		{"/etc/passwd", false},
	}
	for _, tc := range tests {
		_, err := safeJoin(dest, tc.name)
		if (err == nil) != tc.ok {
			t.Fatalf("safeJoin(%q) err=%v want ok=%v", tc.name, err, tc.ok)
		}
	}
}
