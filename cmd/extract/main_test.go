package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
)

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestRun_ExtractsOnceUnlessForced(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeZip(t, filepath.Join(root, "data", "Tabla-de-viajes-2025.zip"), map[string]string{
		"viajes/2025-04-01.viajes.csv": "id|tviaje\n1|2\n",
	})

	var out, errOut bytes.Buffer
	if code := run(context.Background(), []string{"-root", root}, &out, &errOut); code != 0 {
		t.Fatalf("code=%d stderr=%s", code, errOut.String())
	}
	csv := filepath.Join(root, "data", "extracted", "Tabla-de-viajes-2025", "viajes", "2025-04-01.viajes.csv")
	if _, err := os.Stat(csv); err != nil {
		t.Fatalf("not extracted: %v", err)
	}
	if !strings.Contains(out.String(), "archives=1") || !strings.Contains(out.String(), "2025-04-01.viajes.csv") {
		t.Fatalf("stdout:\n%s", out.String())
	}

	out.Reset()
	errOut.Reset()
	if code := run(context.Background(), []string{"-root", root, "-tree=false"}, &out, &errOut); code != 0 {
		t.Fatalf("second run code=%d", code)
	}
	if out.Len() != 0 || !strings.Contains(errOut.String(), "already extracted") {
		t.Fatalf("second run stdout=%q stderr=%s", out.String(), errOut.String())
	}

	out.Reset()
	if code := run(context.Background(), []string{"-root", root, "-force", "-tree=false"}, &out, &errOut); code != 0 {
		t.Fatalf("forced run code=%d", code)
	}
	if !strings.Contains(out.String(), "archives=1") {
		t.Fatalf("forced run stdout=%q", out.String())
	}
}

func TestRun_MissingDataDir(t *testing.T) {
	t.Parallel()

	var out, errOut bytes.Buffer
	if code := run(context.Background(), []string{"-root", t.TempDir()}, &out, &errOut); code != 1 {
		t.Fatalf("code=%d want 1", code)
	}
	if !strings.Contains(errOut.String(), "download the DTPM archives first") {
		t.Fatalf("stderr=%s", errOut.String())
	}
}
