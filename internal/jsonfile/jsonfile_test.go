package jsonfile

import (
	"os"
	"path/filepath"
	"testing"
)

type ordered []Field[int]

func (o ordered) MarshalJSON() ([]byte, error) { return MarshalObject([]Field[int](o)) }

func TestMarshalObject_KeepsOrderAndIndents(t *testing.T) {
	t.Parallel()

	v := struct {
		Name string  `json:"name"`
		Cols ordered `json:"cols"`
	}{
		Name: "señal <x>",
		Cols: ordered{{"zeta", 1}, {"alpha", 2}},
	}
	got, err := Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	want := "{\n  \"name\": \"señal <x>\",\n  \"cols\": {\n    \"zeta\": 1,\n    \"alpha\": 2\n  }\n}\n"
	if string(got) != want {
		t.Fatalf("got=%q want=%q", got, want)
	}
}

func TestUnmarshalObject_RoundTrip(t *testing.T) {
	t.Parallel()

	in := []Field[string]{{"b", "1"}, {"a", "2"}, {"c", ""}}
	b, err := MarshalObject(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := UnmarshalObject[string](b)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != len(in) {
		t.Fatalf("len=%d want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("field %d got=%v want=%v", i, out[i], in[i])
		}
	}

	if _, err := UnmarshalObject[string]([]byte(`[1]`)); err == nil {
		t.Fatalf("expected error for array")
	}
}

func TestWrite_CreatesParentsAndReplaces(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "a", "b", "out.json")
	if err := Write(path, map[string]int{"n": 1}); err != nil {
		t.Fatal(err)
	}
	if err := Write(path, map[string]int{"n": 2}); err != nil {
		t.Fatal(err)
	}
	var got map[string]int
	if err := Read(path, &got); err != nil {
		t.Fatal(err)
	}
	if got["n"] != 2 {
		t.Fatalf("n=%d want 2", got["n"])
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("leftover temp files: %v", entries)
	}
}
