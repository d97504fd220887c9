package probe

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// Dtype is the coarse primitive type inferred for a column.
type Dtype string

const (
	DtypeEmpty    Dtype = "empty"
	DtypeInteger  Dtype = "integer"
	DtypeFloat    Dtype = "float"
	DtypeDatetime Dtype = "datetime"
	DtypeString   Dtype = "string"
)

// matcher is one step of the inference ladder: dtype wins when ok accepts every
// value in the leading window of the retained sample.
type matcher struct {
	dtype  Dtype
	window int
	ok     func(string) bool
}

// ladder returns the ordered matchers for s. The first full match wins.
func (s Settings) ladder() []matcher {
	m := []matcher{
		{dtype: DtypeInteger, window: s.NumericWindow, ok: isInteger},
		{dtype: DtypeFloat, window: s.NumericWindow, ok: isFloat},
	}
	for _, layout := range s.DatetimeLayouts {
		m = append(m, matcher{dtype: DtypeDatetime, window: s.DatetimeWindow, ok: isLayout(layout)})
	}
	return m
}

// InferDtype classifies a retained non-null sample.
//
// The ladder is integer, float, then each datetime layout in order, then
// string. Each rung only looks at its leading window, so a value past the
// window never demotes the column. No values at all means DtypeEmpty.
func InferDtype(values []string, s Settings) Dtype {
	s = s.withDefaults()
	if len(values) == 0 {
		return DtypeEmpty
	}
	for _, m := range s.ladder() {
		if all(head(values, m.window), m.ok) {
			return m.dtype
		}
	}
	return DtypeString
}

func head(values []string, n int) []string {
	if n > 0 && len(values) > n {
		return values[:n]
	}
	return values
}

func all(values []string, ok func(string) bool) bool {
	for _, v := range values {
		if !ok(v) {
			return false
		}
	}
	return true
}

// isInteger accepts base-10 integers with optional sign and surrounding
// whitespace. Single underscores between digits are allowed ("1_000"). Values
// beyond int64 are still integers.
func isInteger(v string) bool {
	v, ok := stripDigitSeparators(strings.TrimSpace(v))
	if !ok {
		return false
	}
	_, err := strconv.ParseInt(v, 10, 64)
	return err == nil || errors.Is(err, strconv.ErrRange)
}

// isFloat accepts decimal and exponent notation plus inf/nan. Hex floats are
// not numbers here.
func isFloat(v string) bool {
	v, ok := stripDigitSeparators(strings.TrimSpace(v))
	if !ok || strings.ContainsAny(v, "xX") {
		return false
	}
	_, err := strconv.ParseFloat(v, 64)
	return err == nil || errors.Is(err, strconv.ErrRange)
}

// stripDigitSeparators removes underscores that sit between two digits and
// rejects any other underscore.
func stripDigitSeparators(v string) (string, bool) {
	if !strings.Contains(v, "_") {
		return v, true
	}
	for i := 0; i < len(v); i++ {
		if v[i] != '_' {
			continue
		}
		if i == 0 || i == len(v)-1 || !isDigit(v[i-1]) || !isDigit(v[i+1]) {
			return "", false
		}
	}
	return strings.ReplaceAll(v, "_", ""), true
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// isLayout matches v against layout exactly. time.Parse tolerates a
// fractional second after a seconds field the layout does not declare, so the
// parsed value must format back to v.
func isLayout(layout string) func(string) bool {
	return func(v string) bool {
		t, err := time.Parse(layout, v)
		return err == nil && t.Format(layout) == v
	}
}

// nullSet is the closed sentinel set, matched after trimming whitespace.
type nullSet map[string]struct{}

func newNullSet(values []string) nullSet {
	s := make(nullSet, len(values))
	for _, v := range values {
		s[v] = struct{}{}
	}
	return s
}

func (n nullSet) has(v string) bool {
	_, ok := n[strings.TrimSpace(v)]
	return ok
}

// IsNull reports whether v is a null sentinel under s.
func IsNull(v string, s Settings) bool {
	return newNullSet(s.withDefaults().NullValues).has(v)
}
