package storage

import (
	"errors"
	"fmt"
	"strings"
)

// ErrRowWidth is returned when a row does not carry one value per column.
var ErrRowWidth = errors.New("storage: row width does not match columns")

// ColumnType is a portable column type; each backend maps it to its own DDL.
type ColumnType string

const (
	TypeText  ColumnType = "text"
	TypeInt   ColumnType = "bigint"
	TypeFloat ColumnType = "float"
	TypeBool  ColumnType = "bool"
)

type ColumnSpec struct {
	Name     string     `json:"name"`
	Type     ColumnType `json:"type"`
	Nullable bool       `json:"nullable,omitempty"`
}

// TableSpec describes a keyed table. Key columns must appear in Columns.
type TableSpec struct {
	Name    string       `json:"name"`
	Columns []ColumnSpec `json:"columns"`
	Key     []string     `json:"key"`
}

// ColumnNames returns the column names in declaration order.
func (t TableSpec) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// IsKey reports whether name is one of the key columns.
func (t TableSpec) IsKey(name string) bool {
	for _, k := range t.Key {
		if k == name {
			return true
		}
	}
	return false
}

// KeyIndex returns the positions of the key columns within Columns.
func (t TableSpec) KeyIndex() ([]int, error) {
	pos := make(map[string]int, len(t.Columns))
	for i, c := range t.Columns {
		pos[c.Name] = i
	}
	out := make([]int, 0, len(t.Key))
	for _, k := range t.Key {
		i, ok := pos[k]
		if !ok {
			return nil, fmt.Errorf("storage: table %s: key column %q not declared", t.Name, k)
		}
		out = append(out, i)
	}
	return out, nil
}

// Validate checks the spec is usable for DDL and upserts.
func (t TableSpec) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("storage: table name is empty")
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("storage: table %s has no columns", t.Name)
	}
	if len(t.Key) == 0 {
		return fmt.Errorf("storage: table %s has no key", t.Name)
	}
	seen := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("storage: table %s has an unnamed column", t.Name)
		}
		if seen[c.Name] {
			return fmt.Errorf("storage: table %s declares %q twice", t.Name, c.Name)
		}
		seen[c.Name] = true
		switch c.Type {
		case TypeText, TypeInt, TypeFloat, TypeBool:
		default:
			return fmt.Errorf("storage: table %s column %s: unsupported type %q", t.Name, c.Name, c.Type)
		}
	}
	_, err := t.KeyIndex()
	return err
}

// CheckRows verifies every row carries one value per column.
func (t TableSpec) CheckRows(rows [][]any) error {
	for i, r := range rows {
		if len(r) != len(t.Columns) {
			return fmt.Errorf("%w: table %s row %d has %d values, want %d", ErrRowWidth, t.Name, i, len(r), len(t.Columns))
		}
	}
	return nil
}

// PartitionsTable holds one row per catalog partition.
var PartitionsTable = TableSpec{
	Name: "lake_partitions",
	Columns: []ColumnSpec{
		{Name: "partition_path", Type: TypeText},
		{Name: "dataset", Type: TypeText},
		{Name: "layer", Type: TypeText},
		{Name: "cut", Type: TypeText},
		{Name: "year", Type: TypeInt},
		{Name: "month", Type: TypeInt},
		{Name: "row_count", Type: TypeInt},
		{Name: "size_bytes", Type: TypeInt},
		{Name: "schema_fingerprint", Type: TypeText, Nullable: true},
		{Name: "cataloged_at", Type: TypeText},
	},
	Key: []string{"partition_path"},
}

// ColumnProfilesTable holds the latest profile of every dataset column.
var ColumnProfilesTable = TableSpec{
	Name: "lake_column_profiles",
	Columns: []ColumnSpec{
		{Name: "dataset", Type: TypeText},
		{Name: "column_name", Type: TypeText},
		{Name: "position", Type: TypeInt},
		{Name: "selected", Type: TypeBool},
		{Name: "null_rate", Type: TypeFloat},
		{Name: "inferred_dtype", Type: TypeText},
		{Name: "unique_sample", Type: TypeInt},
		{Name: "sampled_rows", Type: TypeInt},
		{Name: "source_path", Type: TypeText},
		{Name: "run_id", Type: TypeText},
		{Name: "profiled_at", Type: TypeText},
	},
	Key: []string{"dataset", "column_name"},
}
