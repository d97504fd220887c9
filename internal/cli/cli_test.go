package cli

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"transitlake/internal/storage"
)

func TestEnv(t *testing.T) {
	t.Setenv("LAKE_TEST_KEY", " from-env ")

	tests := []struct {
		name, flagVal, key, def, want string
	}{
		{"flag wins", "from-flag", "LAKE_TEST_KEY", "d", "from-flag"},
		{"env next", "", "LAKE_TEST_KEY", "d", "from-env"},
		{"default last", "  ", "LAKE_TEST_UNSET", "d", "d"},
	}
	for _, tt := range tests {
		if got := Env(tt.flagVal, tt.key, tt.def); got != tt.want {
			t.Fatalf("%s: got=%q want=%q", tt.name, got, tt.want)
		}
	}
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	if err := os.WriteFile(good, []byte("separator: \";\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("separator: \"||\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	cfg, err := LoadConfig(good, "/srv/lake", &out)
	if err != nil {
		t.Fatalf("LoadConfig: %v\n%s", err, out.String())
	}
	if cfg.Separator != ";" || cfg.Paths.Root != "/srv/lake" {
		t.Fatalf("cfg separator=%q root=%q", cfg.Separator, cfg.Paths.Root)
	}

	out.Reset()
	if _, err := LoadConfig(bad, "", &out); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("err=%v want ErrInvalidConfig", err)
	}
	if !strings.Contains(out.String(), "error: separator") {
		t.Fatalf("issues not printed:\n%s", out.String())
	}

	if _, err := LoadConfig(filepath.Join(dir, "absent.yaml"), "", &out); err == nil {
		t.Fatal("want error for missing file")
	}

	cfg, err = LoadConfig("", "", &out)
	if err != nil || cfg.Separator != "|" {
		t.Fatalf("defaults: cfg=%q err=%v", cfg.Separator, err)
	}
}

func TestSetupMetrics_NoneAndUnknown(t *testing.T) {
	t.Parallel()

	log := zerolog.Nop()
	for _, name := range []string{"", "none", "statsd"} {
		stop := SetupMetrics(context.Background(), name, "job", &log)
		stop()
	}
}

func TestOpenStore(t *testing.T) {
	t.Parallel()

	repo, err := OpenStore(context.Background(), "", "")
	if err != nil || repo != nil {
		t.Fatalf("no kind: repo=%v err=%v", repo, err)
	}
	if _, err := OpenStore(context.Background(), "sqlite", ""); err == nil {
		t.Fatal("want missing dsn error")
	}
	if _, err := OpenStore(context.Background(), "oracle", "x"); !errors.Is(err, storage.ErrUnknownKind) {
		t.Fatalf("err=%v want ErrUnknownKind", err)
	}

	repo, err = OpenStore(context.Background(), "sqlite", filepath.Join(t.TempDir(), "lake.db"))
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	repo.Close()
}

func TestKindsRegistered(t *testing.T) {
	t.Parallel()

	if got, want := storage.Kinds(), []string{"mssql", "postgres", "sqlite"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("kinds got=%v want=%v", got, want)
	}
}

func TestMulti(t *testing.T) {
	t.Parallel()

	var m Multi
	fs := flag.NewFlagSet("x", flag.ContinueOnError)
	fs.Var(&m, "dataset", "")
	if err := fs.Parse([]string{"-dataset", "viajes", "-dataset", "etapas, subidas_30m,"}); err != nil {
		t.Fatal(err)
	}
	if want := []string{"viajes", "etapas", "subidas_30m"}; !reflect.DeepEqual([]string(m), want) {
		t.Fatalf("got=%v want=%v", m, want)
	}
	if m.String() != "viajes,etapas,subidas_30m" {
		t.Fatalf("String=%q", m.String())
	}
}
