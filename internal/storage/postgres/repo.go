package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"transitlake/internal/storage"
)

// maxParams is the Postgres bind-parameter limit per statement.
const maxParams = 65535

func init() {
	storage.Register("postgres", New)
}

// Repo implements storage.Repository for Postgres.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a pooled Postgres repository. The pool connects lazily; the
// ping surfaces a bad DSN at startup rather than at the first upsert.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() {
	r.pool.Close()
}

// EnsureTables creates the schema (for qualified names) and each table.
func (r *Repo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		schemaSQL, tableSQL, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if schemaSQL != "" {
			if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
				return fmt.Errorf("postgres: create schema for %s: %w", t.Name, err)
			}
		}
		if _, err := r.pool.Exec(ctx, tableSQL); err != nil {
			return fmt.Errorf("postgres: create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// Upsert writes rows with INSERT ... ON CONFLICT DO UPDATE, chunked below the
// parameter limit and applied in one transaction.
func (r *Repo) Upsert(ctx context.Context, t storage.TableSpec, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := t.Validate(); err != nil {
		return 0, err
	}
	// ON CONFLICT DO UPDATE refuses to touch the same row twice in one
	// statement, so keys must be unique per batch.
	rows, err := storage.DedupeByKey(t, rows)
	if err != nil {
		return 0, err
	}

	var total int64
	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		for _, chunk := range chunkRows(rows, maxParams/len(t.Columns)) {
			sql, args := buildUpsertSQL(t, chunk)
			tag, err := tx.Exec(ctx, sql, args...)
			if err != nil {
				return fmt.Errorf("postgres: upsert %s: %w", t.Name, err)
			}
			total += tag.RowsAffected()
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

func chunkRows(rows [][]any, size int) [][][]any {
	if size <= 0 {
		size = 1
	}
	out := make([][][]any, 0, len(rows)/size+1)
	for len(rows) > size {
		out = append(out, rows[:size])
		rows = rows[size:]
	}
	if len(rows) > 0 {
		out = append(out, rows)
	}
	return out
}

func pgIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// pgTableIdent quotes a possibly schema-qualified name.
func pgTableIdent(name string) string {
	schema, table := splitQualifiedName(name)
	if schema == "" {
		return pgIdent(table)
	}
	return pgIdent(schema) + "." + pgIdent(table)
}

// splitQualifiedName splits "schema.table". It only handles a single dot;
// anything else is treated as unqualified.
func splitQualifiedName(name string) (schema string, table string) {
	name = strings.TrimSpace(name)
	parts := strings.Split(name, ".")
	if len(parts) != 2 {
		return "", name
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
}

func pgType(c storage.ColumnType) string {
	switch c {
	case storage.TypeInt:
		return "BIGINT"
	case storage.TypeFloat:
		return "DOUBLE PRECISION"
	case storage.TypeBool:
		return "BOOLEAN"
	default:
		return "TEXT"
	}
}

func buildCreateSQL(t storage.TableSpec) (schemaSQL, tableSQL string, err error) {
	if err := t.Validate(); err != nil {
		return "", "", err
	}
	if schema, _ := splitQualifiedName(t.Name); schema != "" {
		schemaSQL = "CREATE SCHEMA IF NOT EXISTS " + pgIdent(schema) + ";"
	}

	parts := make([]string, 0, len(t.Columns)+1)
	for _, c := range t.Columns {
		def := pgIdent(c.Name) + " " + pgType(c.Type)
		if !c.Nullable || t.IsKey(c.Name) {
			def += " NOT NULL"
		}
		parts = append(parts, def)
	}
	parts = append(parts, "PRIMARY KEY ("+joinIdents(t.Key)+")")

	tableSQL = fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", pgTableIdent(t.Name), strings.Join(parts, ",\n  "))
	return schemaSQL, tableSQL, nil
}

// buildUpsertSQL constructs one multi-row upsert and its args. It is pure so
// placeholder numbering and the conflict clause can be tested without a
// database.
func buildUpsertSQL(t storage.TableSpec, rows [][]any) (string, []any) {
	cols := t.ColumnNames()

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgTableIdent(t.Name))
	b.WriteString(" (")
	b.WriteString(joinIdents(cols))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(cols))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range cols {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	b.WriteString(" ON CONFLICT (")
	b.WriteString(joinIdents(t.Key))
	b.WriteString(")")

	var sets []string
	for _, c := range cols {
		if t.IsKey(c) {
			continue
		}
		sets = append(sets, pgIdent(c)+" = EXCLUDED."+pgIdent(c))
	}
	if len(sets) == 0 {
		b.WriteString(" DO NOTHING")
	} else {
		b.WriteString(" DO UPDATE SET ")
		b.WriteString(strings.Join(sets, ", "))
	}
	b.WriteString(";")
	return b.String(), args
}

func joinIdents(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = pgIdent(c)
	}
	return strings.Join(out, ", ")
}
