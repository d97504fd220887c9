// Package project materializes slim extracts: a full streaming pass over a
// delimited source that keeps only the policy columns.
//
// Projection is 1:1. Every data row of the source produces exactly one output
// row, in source order, with cell values copied verbatim. A ragged row aborts
// the whole projection; a silently blank cell would be indistinguishable from
// a genuine null sentinel downstream.
package project

import (
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"

	lakecsv "transitlake/internal/parser/csv"
	"transitlake/internal/transformer"
)

// ErrRaggedRow is wrapped by *RowError when a record's field count does not
// match the header.
var ErrRaggedRow = errors.New("ragged row")

// RowError locates a ragged row.
type RowError struct {
	Line int
	Want int
	Got  int
}

func (e *RowError) Error() string {
	return fmt.Sprintf("line %d: %v: want %d fields, got %d", e.Line, ErrRaggedRow, e.Want, e.Got)
}

func (e *RowError) Unwrap() error { return ErrRaggedRow }

// Result describes a finished projection.
type Result struct {
	Columns []string
	Missing []string
	// Rows is the number of data rows written (header excluded).
	Rows int64
	// Bytes and SHA256 describe the written artifact.
	Bytes  int64
	SHA256 string
}

// Project streams r into w, keeping the policy columns in policy order.
// Memory use is independent of the number of rows.
func Project(ctx context.Context, r *lakecsv.Reader, w io.Writer, policy []string, comma rune) (Result, error) {
	plan := transformer.CompilePlan(r.Header(), policy)

	sum := sha256.New()
	cw := &countingWriter{w: io.MultiWriter(w, sum)}
	out := csv.NewWriter(cw)
	out.Comma = comma

	if err := out.Write(plan.Columns); err != nil {
		return Result{}, err
	}

	var (
		rows int64
		buf  []string
	)
	for {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Result{}, err
		}
		if !r.Aligned(rec) {
			return Result{}, &RowError{Line: r.Line(), Want: len(r.Header()), Got: len(rec)}
		}
		buf = plan.Apply(buf, rec)
		if err := out.Write(buf); err != nil {
			return Result{}, err
		}
		rows++
	}

	out.Flush()
	if err := out.Error(); err != nil {
		return Result{}, err
	}

	return Result{
		Columns: plan.Columns,
		Missing: plan.Missing,
		Rows:    rows,
		Bytes:   cw.n,
		SHA256:  hexSum(sum),
	}, nil
}

// ProjectFile projects src into dst. Parent directories of dst are created.
// The output is staged next to dst and renamed into place only after a
// complete pass, so a failed projection leaves any previous dst untouched.
func ProjectFile(ctx context.Context, src, dst string, policy []string, opt lakecsv.Options) (res Result, err error) {
	in, err := os.Open(src)
	if err != nil {
		return Result{}, err
	}
	defer in.Close()

	r, err := lakecsv.NewReader(in, opt)
	if err != nil {
		if err == io.EOF {
			return Result{}, fmt.Errorf("%s: %w: no header", src, lakecsv.ErrMalformed)
		}
		return Result{}, fmt.Errorf("%s: %w", src, err)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return Result{}, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return Result{}, err
	}
	tmpName := tmp.Name()
	defer func() {
		if tmp != nil {
			tmp.Close()
		}
		if err != nil {
			os.Remove(tmpName)
		}
	}()

	comma := opt.Comma
	if comma == 0 {
		comma = '|'
	}
	res, err = Project(ctx, r, tmp, policy, comma)
	if err != nil {
		return Result{}, fmt.Errorf("project %s: %w", src, err)
	}

	err = tmp.Close()
	tmp = nil
	if err != nil {
		return Result{}, err
	}
	if err = os.Chmod(tmpName, 0o644); err != nil {
		return Result{}, err
	}
	if err = os.Rename(tmpName, dst); err != nil {
		return Result{}, err
	}
	return res, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func hexSum(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}
