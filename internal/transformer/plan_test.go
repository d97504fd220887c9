package transformer

import (
	"reflect"
	"testing"
)

func TestCompilePlan(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		header      []string
		policy      []string
		wantCols    []string
		wantIndex   []int
		wantMissing []string
	}{
		{
			name:        "policy order, missing dropped",
			header:      []string{"a", "b", "c"},
			policy:      []string{"b", "z", "a"},
			wantCols:    []string{"b", "a"},
			wantIndex:   []int{1, 0},
			wantMissing: []string{"z"},
		},
		{
			name:        "duplicate policy entries emitted once",
			header:      []string{"a", "b"},
			policy:      []string{"a", "b", "a"},
			wantCols:    []string{"a", "b"},
			wantIndex:   []int{0, 1},
			wantMissing: nil,
		},
		{
			name:        "no overlap",
			header:      []string{"a"},
			policy:      []string{"x", "y"},
			wantCols:    []string{},
			wantIndex:   []int{},
			wantMissing: []string{"x", "y"},
		},
		{
			name:        "empty policy",
			header:      []string{"a"},
			policy:      nil,
			wantCols:    []string{},
			wantIndex:   []int{},
			wantMissing: nil,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := CompilePlan(tt.header, tt.policy)
			if !reflect.DeepEqual(p.Columns, tt.wantCols) {
				t.Fatalf("Columns got=%v want=%v", p.Columns, tt.wantCols)
			}
			if !reflect.DeepEqual(p.Index, tt.wantIndex) {
				t.Fatalf("Index got=%v want=%v", p.Index, tt.wantIndex)
			}
			if !reflect.DeepEqual(p.Missing, tt.wantMissing) {
				t.Fatalf("Missing got=%v want=%v", p.Missing, tt.wantMissing)
			}
		})
	}
}

func TestPlan_ApplyReusesBuffer(t *testing.T) {
	t.Parallel()

	p := CompilePlan([]string{"a", "b", "c"}, []string{"c", "a"})
	if p.Width() != 3 {
		t.Fatalf("Width()=%d want 3", p.Width())
	}

	buf := make([]string, 0, 4)
	got := p.Apply(buf, []string{"1", "2", "3"})
	if !reflect.DeepEqual(got, []string{"3", "1"}) {
		t.Fatalf("Apply got=%v", got)
	}
	if &got[0] != &buf[:1][0] {
		t.Fatalf("Apply did not reuse dst")
	}
}

func TestFingerprint(t *testing.T) {
	t.Parallel()

	a := Fingerprint([]string{"a", "b"})
	if len(a) != 64 {
		t.Fatalf("len=%d want 64", len(a))
	}
	if a != Fingerprint([]string{"a", "b"}) {
		t.Fatalf("not deterministic")
	}
	if a == Fingerprint([]string{"b", "a"}) {
		t.Fatalf("order must matter")
	}
	if Fingerprint([]string{"ab"}) == Fingerprint([]string{"a", "b"}) {
		t.Fatalf("separator must disambiguate")
	}

	trim := HashSpec{TrimSpace: true}
	if trim.Hash([]string{" a "}) != trim.Hash([]string{"a"}) {
		t.Fatalf("TrimSpace ignored")
	}
}
