package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"transitlake/internal/lake"
)

func TestRun_JSONSummary(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	src := filepath.Join(root, "data", "extracted", "Tabla-de-viajes-2025", "2025-04-01.viajes.csv")
	if err := os.MkdirAll(filepath.Dir(src), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(src, []byte("id|tviaje\n1|2\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	var out, errOut bytes.Buffer
	code := run(context.Background(), []string{"-root", root, "-json"}, &out, &errOut)
	if code != 0 {
		t.Fatalf("code=%d stderr=%s", code, errOut.String())
	}

	var sum lake.Summary
	if err := json.Unmarshal(out.Bytes(), &sum); err != nil {
		t.Fatalf("stdout is not JSON: %v\n%s", err, out.String())
	}
	if len(sum.Partitions) != 1 || sum.Partitions[0].Cut != "2025-04-01" || sum.Partitions[0].Rows != 1 {
		t.Fatalf("partitions=%+v", sum.Partitions)
	}
	if len(sum.Skipped) != 2 {
		t.Fatalf("skipped=%+v want etapas and subidas_30m", sum.Skipped)
	}
}

func TestRun_TableAndFilter(t *testing.T) {
	t.Parallel()

	var out, errOut bytes.Buffer
	code := run(context.Background(), []string{"-root", t.TempDir(), "-dataset", "etapas"}, &out, &errOut)
	if code != 0 {
		t.Fatalf("code=%d stderr=%s", code, errOut.String())
	}
	if !strings.Contains(out.String(), "0 partitions, 1 skipped, 0 failed") {
		t.Fatalf("stdout:\n%s", out.String())
	}
}

func TestRun_Usage(t *testing.T) {
	t.Parallel()

	var out, errOut bytes.Buffer
	if code := run(context.Background(), []string{"-nope"}, &out, &errOut); code != 2 {
		t.Fatalf("code=%d want 2", code)
	}
}
