// Package extract unpacks the raw downloads: top-level ZIP archives, ZIPs
// nested inside them, and gzip-compressed members.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog"

	"transitlake/internal/logging"
)

var (
	// ErrSourceNotFound is returned when the data directory does not exist.
	ErrSourceNotFound = errors.New("extract: source not found")
	// ErrUnsafePath is returned for archive entries that would land outside
	// the destination directory.
	ErrUnsafePath = errors.New("extract: unsafe archive path")
)

// Extractor unpacks every *.zip in DataDir into OutDir/<zip stem>/.
type Extractor struct {
	DataDir string
	OutDir  string
	Logger  *zerolog.Logger
}

// Result counts what a run did.
type Result struct {
	Archives       int   `json:"archives"`
	NestedArchives int   `json:"nested_archives"`
	GzipFiles      int   `json:"gzip_files"`
	FilesWritten   int   `json:"files_written"`
	BytesWritten   int64 `json:"bytes_written"`
}

// Run extracts all top-level archives in name order. For each one it then
// expands nested ZIPs into a sibling directory named by their stem and
// decompresses *.gz members in place; both are removed once expanded.
func (e Extractor) Run(ctx context.Context) (Result, error) {
	log := logging.Or(e.Logger)
	var res Result

	st, err := os.Stat(e.DataDir)
	if err != nil || !st.IsDir() {
		return res, fmt.Errorf("%w: %s", ErrSourceNotFound, e.DataDir)
	}

	tops, err := filepath.Glob(filepath.Join(e.DataDir, "*.zip"))
	if err != nil {
		return res, err
	}
	sort.Strings(tops)
	if len(tops) == 0 {
		log.Warn().Str("dir", e.DataDir).Msg("no .zip archives found")
		return res, nil
	}

	if err := os.MkdirAll(e.OutDir, 0o755); err != nil {
		return res, err
	}

	for _, top := range tops {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		dest := filepath.Join(e.OutDir, stem(top))
		log.Info().Str("archive", filepath.Base(top)).Str("dest", dest).Msg("extracting archive")

		n, b, err := unzip(ctx, top, dest)
		if err != nil {
			return res, fmt.Errorf("extract %s: %w", top, err)
		}
		res.Archives++
		res.FilesWritten += n
		res.BytesWritten += b

		if err := e.expandNested(ctx, dest, &res, log); err != nil {
			return res, err
		}
	}

	log.Info().
		Int("archives", res.Archives).
		Int("nested", res.NestedArchives).
		Int("gz", res.GzipFiles).
		Int("files", res.FilesWritten).
		Msg("extraction complete")
	return res, nil
}

func (e Extractor) expandNested(ctx context.Context, root string, res *Result, log *zerolog.Logger) error {
	inner, err := findBySuffix(root, ".zip")
	if err != nil {
		return err
	}
	for _, z := range inner {
		if err := ctx.Err(); err != nil {
			return err
		}
		dest := filepath.Join(filepath.Dir(z), stem(z))
		log.Debug().Str("archive", filepath.Base(z)).Msg("extracting nested archive")
		n, b, err := unzip(ctx, z, dest)
		if err != nil {
			return fmt.Errorf("extract nested %s: %w", z, err)
		}
		if err := os.Remove(z); err != nil {
			return err
		}
		res.NestedArchives++
		res.FilesWritten += n
		res.BytesWritten += b
	}

	gzs, err := findBySuffix(root, ".gz")
	if err != nil {
		return err
	}
	for _, g := range gzs {
		if err := ctx.Err(); err != nil {
			return err
		}
		b, err := gunzip(g)
		if err != nil {
			return fmt.Errorf("decompress %s: %w", g, err)
		}
		log.Debug().Str("file", filepath.Base(g)).Int64("bytes", b).Msg("decompressed")
		res.GzipFiles++
		res.FilesWritten++
		res.BytesWritten += b
	}
	return nil
}

// Needed reports whether outDir holds no *.csv yet, i.e. extraction has not
// run (or produced nothing usable).
func Needed(outDir string) bool {
	found := false
	_ = filepath.WalkDir(outDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(p), ".csv") {
			found = true
			return fs.SkipAll
		}
		return nil
	})
	return !found
}

func unzip(ctx context.Context, src, dest string) (files int, written int64, err error) {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return 0, 0, err
	}
	defer zr.Close()

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return 0, 0, err
	}

	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return files, written, err
		}
		target, err := safeJoin(dest, f.Name)
		if err != nil {
			return files, written, err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return files, written, err
			}
			continue
		}
		n, err := writeEntry(f, target)
		if err != nil {
			return files, written, err
		}
		files++
		written += n
	}
	return files, written, nil
}

func writeEntry(f *zip.File, target string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, err
	}
	rc, err := f.Open()
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	out, err := os.Create(target)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, rc)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, err
	}
	if !f.Modified.IsZero() {
		_ = os.Chtimes(target, f.Modified, f.Modified)
	}
	return n, nil
}

// gunzip writes src without its .gz suffix and removes src.
func gunzip(src string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	zr, err := gzip.NewReader(in)
	if err != nil {
		in.Close()
		return 0, err
	}

	dst := strings.TrimSuffix(src, filepath.Ext(src))
	out, err := os.Create(dst)
	if err != nil {
		zr.Close()
		in.Close()
		return 0, err
	}
	n, err := io.Copy(out, zr)
	for _, c := range []io.Closer{out, zr, in} {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		_ = os.Remove(dst)
		return n, err
	}
	return n, os.Remove(src)
}

// safeJoin resolves name under dest, rejecting absolute names and names that
// climb out of dest.
func safeJoin(dest, name string) (string, error) {
	clean := filepath.FromSlash(name)
	if filepath.IsAbs(clean) || strings.HasPrefix(name, "/") || filepath.VolumeName(clean) != "" {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	target := filepath.Join(dest, clean)
	rel, err := filepath.Rel(dest, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	return target, nil
}

func findBySuffix(root, suffix string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(p), suffix) {
			out = append(out, p)
		}
		return nil
	})
	sort.Strings(out)
	return out, err
}

func stem(p string) string {
	base := filepath.Base(p)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
