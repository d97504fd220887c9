package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type fakeRepo struct{ closed int }

func (f *fakeRepo) Close() { f.closed++ }

func (f *fakeRepo) EnsureTables(context.Context, []TableSpec) error { return nil }

func (f *fakeRepo) Upsert(context.Context, TableSpec, [][]any) (int64, error) { return 0, nil }

func TestRegisterAndOpen(t *testing.T) {
	repo := &fakeRepo{}
	Register("fake-open", func(ctx context.Context, cfg Config) (Repository, error) {
		if cfg.DSN != "mem" {
			t.Fatalf("DSN=%q want mem", cfg.DSN)
		}
		return repo, nil
	})

	got, err := Open(context.Background(), Config{Kind: "fake-open", DSN: "mem"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got.Close()
	if repo.closed != 1 {
		t.Fatalf("closed=%d want 1", repo.closed)
	}

	if _, err := Open(context.Background(), Config{Kind: "nope"}); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("err=%v want ErrUnknownKind", err)
	}
	if _, err := Open(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for empty kind")
	}
}

func TestRegister_Panics(t *testing.T) {
	f := func(context.Context, Config) (Repository, error) { return nil, nil }
	Register("fake-dup", f)

	tests := []struct {
		name string
		kind string
		f    Factory
	}{
		{name: "empty_kind", kind: "", f: f},
		{name: "nil_factory", kind: "fake-nil", f: nil},
		{name: "duplicate", kind: "fake-dup", f: f},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Fatalf("expected panic")
				}
			}()
			Register(tc.kind, tc.f)
		})
	}
}

func TestBuiltinTablesValidate(t *testing.T) {
	t.Parallel()
	for _, spec := range []TableSpec{PartitionsTable, ColumnProfilesTable} {
		if err := spec.Validate(); err != nil {
			t.Fatalf("%s: %v", spec.Name, err)
		}
	}
}

func TestTableSpecValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		spec TableSpec
		want string
	}{
		{name: "no_name", spec: TableSpec{Columns: []ColumnSpec{{Name: "a", Type: TypeText}}, Key: []string{"a"}}, want: "name is empty"},
		{name: "no_columns", spec: TableSpec{Name: "t", Key: []string{"a"}}, want: "no columns"},
		{name: "no_key", spec: TableSpec{Name: "t", Columns: []ColumnSpec{{Name: "a", Type: TypeText}}}, want: "no key"},
		{name: "dup_column", spec: TableSpec{Name: "t", Columns: []ColumnSpec{{Name: "a", Type: TypeText}, {Name: "a", Type: TypeInt}}, Key: []string{"a"}}, want: "twice"},
		{name: "bad_type", spec: TableSpec{Name: "t", Columns: []ColumnSpec{{Name: "a", Type: "uuid"}}, Key: []string{"a"}}, want: "unsupported type"},
		{name: "undeclared_key", spec: TableSpec{Name: "t", Columns: []ColumnSpec{{Name: "a", Type: TypeText}}, Key: []string{"b"}}, want: "not declared"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.spec.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err=%v want substring %q", err, tc.want)
			}
		})
	}
}

func TestDedupeByKey_LastWinsAtFirstPosition(t *testing.T) {
	t.Parallel()

	spec := TableSpec{
		Name:    "t",
		Columns: []ColumnSpec{{Name: "ds", Type: TypeText}, {Name: "col", Type: TypeText}, {Name: "v", Type: TypeInt}},
		Key:     []string{"ds", "col"},
	}
	rows := [][]any{
		{"viajes", "id", int64(1)},
		{"etapas", "id", int64(2)},
		{" viajes", "id", int64(3)},
		{"viajes", "tiempo", int64(4)},
	}

	got, err := DedupeByKey(spec, rows)
	if err != nil {
		t.Fatalf("DedupeByKey: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len=%d want 3", len(got))
	}
	if got[0][2] != int64(3) || got[1][0] != "etapas" || got[2][1] != "tiempo" {
		t.Fatalf("got=%v", got)
	}
}

func TestDedupeByKey_RowWidth(t *testing.T) {
	t.Parallel()

	spec := TableSpec{Name: "t", Columns: []ColumnSpec{{Name: "a", Type: TypeText}, {Name: "b", Type: TypeText}}, Key: []string{"a"}}
	if _, err := DedupeByKey(spec, [][]any{{"x"}}); !errors.Is(err, ErrRowWidth) {
		t.Fatalf("err=%v want ErrRowWidth", err)
	}
}

func TestNormalizeKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{" a ", "a"},
		{int64(7), "7"},
		{7, "7"},
		{[]byte(" b"), "b"},
		{1.5, "1.5"},
		{true, "true"},
	}
	for _, tc := range tests {
		if got := NormalizeKey(tc.in); got != tc.want {
			t.Fatalf("NormalizeKey(%#v)=%q want %q", tc.in, got, tc.want)
		}
	}
}
