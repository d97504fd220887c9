package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"transitlake/internal/publish"
)

type recorder struct {
	mu   sync.Mutex
	keys []string
	cfg  publish.S3Config
}

func (r *recorder) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, aws.ToString(in.Key))
	return &s3.PutObjectOutput{}, nil
}

func (r *recorder) factory(_ context.Context, cfg publish.S3Config) (publish.PutObjectAPI, error) {
	r.cfg = cfg
	return r, nil
}

func lakeTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for _, rel := range []string{
		"lake/column_analysis.json",
		"lake/lake_catalog.json",
		"lake/processed/dtpm/dataset=viajes/viajes_slim.csv",
		"lake/processed/dtpm/dataset=viajes/column_report.json",
		"lake/processed/dtpm/dataset=viajes/.viajes_slim.csv.123",
		"lake/raw/dtpm/dataset=viajes/year=2025/month=04/cut=2025-04-01/viajes.csv",
		"lake/notes.txt",
	} {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func TestRun(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	var out, errOut bytes.Buffer
	args := []string{"-root", lakeTree(t), "-bucket", "dtpm", "-prefix", "lake/v1", "-endpoint", "http://minio:9000", "-path-style"}
	if code := run(context.Background(), args, &out, &errOut, rec.factory); code != 0 {
		t.Fatalf("code=%d stderr=%s", code, errOut.String())
	}

	want := []string{
		"lake/v1/column_analysis.json",
		"lake/v1/lake_catalog.json",
		"lake/v1/processed/dtpm/dataset=viajes/column_report.json",
		"lake/v1/processed/dtpm/dataset=viajes/viajes_slim.csv",
	}
	got := append([]string(nil), rec.keys...)
	sort.Strings(got)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("keys got=%v want=%v", got, want)
	}
	if rec.cfg.Endpoint != "http://minio:9000" || !rec.cfg.UsePathStyle {
		t.Fatalf("s3 config=%+v", rec.cfg)
	}
	if !strings.Contains(out.String(), "uploaded 4 objects") {
		t.Fatalf("stdout=%q", out.String())
	}
}

func TestRun_WithRaw(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	var out, errOut bytes.Buffer
	if code := run(context.Background(), []string{"-root", lakeTree(t), "-bucket", "b", "-raw", "-include", "*.csv"}, &out, &errOut, rec.factory); code != 0 {
		t.Fatalf("code=%d stderr=%s", code, errOut.String())
	}
	if len(rec.keys) != 2 {
		t.Fatalf("keys=%v want the slim and the raw csv", rec.keys)
	}
}

func TestRun_Errors(t *testing.T) {
	t.Setenv("S3_BUCKET", "")

	var out, errOut bytes.Buffer
	noClient := func(context.Context, publish.S3Config) (publish.PutObjectAPI, error) {
		return nil, errors.New("no credentials")
	}

	if code := run(context.Background(), nil, &out, &errOut, noClient); code != 2 {
		t.Fatalf("missing bucket: code=%d want 2", code)
	}
	if code := run(context.Background(), []string{"-bucket", "b", "-include", "[x"}, &out, &errOut, noClient); code != 2 {
		t.Fatalf("bad glob: code=%d want 2", code)
	}
	if code := run(context.Background(), []string{"-bucket", "b", "-root", t.TempDir()}, &out, &errOut, noClient); code != 1 {
		t.Fatalf("client failure: code=%d want 1", code)
	}
}

func TestMatcher(t *testing.T) {
	t.Parallel()

	m := matcher([]string{"*.csv", " *.json"}, false)
	tests := map[string]bool{
		"processed/a.csv":  true,
		"catalog.json":     true,
		"raw/x/a.csv":      false,
		"raw":              false,
		"rawish/a.csv":     true,
		"processed/.a.csv": false,
		"notes.txt":        false,
	}
	for rel, want := range tests {
		if got := m(rel); got != want {
			t.Fatalf("match(%q) got=%v want=%v", rel, got, want)
		}
	}
}
