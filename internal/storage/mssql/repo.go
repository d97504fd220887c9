package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"transitlake/internal/storage"
)

// Repo implements storage.Repository for Microsoft SQL Server.
//
// Upserts are one MERGE per row inside a transaction; metadata batches are
// small (one row per partition or per column), so set-based tricks are not
// worth their complexity here.
//
// This package does not import a driver. The "sqlserver" driver is
// registered by internal/storage/all.
type Repo struct {
	db dbConn
}

func init() {
	storage.Register("mssql", New)
}

// New opens the database with the "sqlserver" driver and pings it.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	raw.SetMaxOpenConns(8)
	raw.SetMaxIdleConns(8)

	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return &Repo{db: &sqlDB{db: raw}}, nil
}

// Close releases database resources held by this repository.
func (r *Repo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

// EnsureTables creates missing tables guarded by OBJECT_ID.
func (r *Repo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		ddl, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("mssql: create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// Upsert merges rows by key inside one transaction.
func (r *Repo) Upsert(ctx context.Context, t storage.TableSpec, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := t.Validate(); err != nil {
		return 0, err
	}
	rows, err := storage.DedupeByKey(t, rows)
	if err != nil {
		return 0, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	merge := buildMergeSQL(t)
	var n int64
	for _, row := range rows {
		if _, err := tx.ExecContext(ctx, merge, namedArgs(row)...); err != nil {
			return 0, fmt.Errorf("mssql: merge %s: %w", t.Name, err)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

// namedArgs binds row values as @p1..@pN, the placeholder style go-mssqldb
// expects.
func namedArgs(row []any) []any {
	out := make([]any, len(row))
	for i, v := range row {
		out[i] = sql.Named(fmt.Sprintf("p%d", i+1), v)
	}
	return out
}

func mssqlType(c storage.ColumnSpec, key bool) string {
	switch c.Type {
	case storage.TypeInt:
		return "BIGINT"
	case storage.TypeFloat:
		return "FLOAT"
	case storage.TypeBool:
		return "BIT"
	default:
		// Index keys are limited to 900 bytes.
		if key {
			return "NVARCHAR(450)"
		}
		return "NVARCHAR(MAX)"
	}
}

func buildCreateSQL(t storage.TableSpec) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}

	defs := make([]string, 0, len(t.Columns)+1)
	for _, c := range t.Columns {
		key := t.IsKey(c.Name)
		def := mssqlIdent(c.Name) + " " + mssqlType(c, key)
		if !c.Nullable || key {
			def += " NOT NULL"
		} else {
			def += " NULL"
		}
		defs = append(defs, def)
	}
	defs = append(defs, "PRIMARY KEY ("+joinIdents(t.Key)+")")

	return wrapCreateIfMissing(t.Name, strings.Join(defs, ",\n    ")), nil
}

// wrapCreateIfMissing guards CREATE TABLE with OBJECT_ID, since SQL Server has
// no CREATE TABLE IF NOT EXISTS.
func wrapCreateIfMissing(tableName string, innerDefs string) string {
	quotedName := strings.ReplaceAll(tableName, "'", "''")
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL\nBEGIN\n  CREATE TABLE %s (\n    %s\n  );\nEND;",
		quotedName, mssqlTableIdent(tableName), innerDefs,
	)
}

// buildMergeSQL returns a single-row MERGE keyed by t.Key with parameters
// @p1..@pN in column order.
func buildMergeSQL(t storage.TableSpec) string {
	cols := t.ColumnNames()

	src := make([]string, len(cols))
	for i, c := range cols {
		src[i] = fmt.Sprintf("@p%d AS %s", i+1, mssqlIdent(c))
	}

	on := make([]string, len(t.Key))
	for i, k := range t.Key {
		on[i] = "tgt." + mssqlIdent(k) + " = src." + mssqlIdent(k)
	}

	var sets, srcCols []string
	for _, c := range cols {
		srcCols = append(srcCols, "src."+mssqlIdent(c))
		if !t.IsKey(c) {
			sets = append(sets, "tgt."+mssqlIdent(c)+" = src."+mssqlIdent(c))
		}
	}

	var b strings.Builder
	b.WriteString("MERGE INTO ")
	b.WriteString(mssqlTableIdent(t.Name))
	b.WriteString(" WITH (HOLDLOCK) AS tgt USING (SELECT ")
	b.WriteString(strings.Join(src, ", "))
	b.WriteString(") AS src ON ")
	b.WriteString(strings.Join(on, " AND "))
	if len(sets) > 0 {
		b.WriteString(" WHEN MATCHED THEN UPDATE SET ")
		b.WriteString(strings.Join(sets, ", "))
	}
	b.WriteString(" WHEN NOT MATCHED THEN INSERT (")
	b.WriteString(joinIdents(cols))
	b.WriteString(") VALUES (")
	b.WriteString(strings.Join(srcCols, ", "))
	b.WriteString(");")
	return b.String()
}

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent returns a bracket-quoted identifier for schema-qualified names.
//
// Example:
//
//	"dbo.lake_partitions" -> [dbo].[lake_partitions]
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}

func joinIdents(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = mssqlIdent(c)
	}
	return strings.Join(out, ", ")
}

// ---- database/sql seam types ----

// dbConn is the slice of *sql.DB this package uses, so tests can fake it.
type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error)
	Close() error
}

// txConn is the slice of *sql.Tx this package uses.
type txConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Commit() error
	Rollback() error
}

type sqlDB struct {
	db *sql.DB
}

func (s *sqlDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

func (s *sqlDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error) {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *sqlDB) Close() error { return s.db.Close() }

var _ dbConn = (*sqlDB)(nil)
