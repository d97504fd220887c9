package storage

import (
	"fmt"
	"strings"
)

// NormalizeKey converts a key value to a canonical string form, so int64(7),
// 7 and "7" compare equal when rows are de-duplicated.
func NormalizeKey(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case int64:
		return fmt.Sprintf("%d", t)
	case []byte:
		return strings.TrimSpace(string(t))
	case int:
		return fmt.Sprintf("%d", t)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// RowKey joins the normalized key values of row.
func RowKey(row []any, keyIdx []int) string {
	parts := make([]string, len(keyIdx))
	for i, k := range keyIdx {
		parts[i] = NormalizeKey(row[k])
	}
	return strings.Join(parts, "\x1f")
}

// DedupeByKey keeps one row per key. The last occurrence wins and takes the
// position of the first, matching what sequential upserts would store.
func DedupeByKey(t TableSpec, rows [][]any) ([][]any, error) {
	if err := t.CheckRows(rows); err != nil {
		return nil, err
	}
	keyIdx, err := t.KeyIndex()
	if err != nil {
		return nil, err
	}

	pos := make(map[string]int, len(rows))
	out := make([][]any, 0, len(rows))
	for _, r := range rows {
		k := RowKey(r, keyIdx)
		if i, ok := pos[k]; ok {
			out[i] = r
			continue
		}
		pos[k] = len(out)
		out = append(out, r)
	}
	return out, nil
}
