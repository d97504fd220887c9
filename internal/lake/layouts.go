package lake

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"transitlake/internal/config"
	lakecsv "transitlake/internal/parser/csv"
	"transitlake/internal/transformer"
)

// buildDaily copies each YYYY-MM-DD day file into its own cut.
func (b Builder) buildDaily(ctx context.Context, ds config.Dataset, re *regexp.Regexp, files []string, sum *Summary, log *zerolog.Logger) error {
	opt := b.csvOptions()
	for _, src := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := filepath.Base(src)
		y, m, d, err := dayParts(re, name)
		if err != nil {
			log.Warn().Err(err).Str("path", src).Msg("file skipped")
			sum.Skipped = append(sum.Skipped, Issue{Dataset: ds.ID, Path: src, Reason: err.Error()})
			continue
		}

		cut := y + "-" + m + "-" + d
		dir := PartitionDir(b.Config.RawDir(), ds.ID, atoi(y), atoi(m), cut)
		dst := DataFile(dir, ds.ID)
		if err := copyFile(src, dst); err != nil {
			return fmt.Errorf("copy %s: %w", src, err)
		}

		meta, err := b.baseMeta(ds, dst, cut, atoi(y), atoi(m), opt)
		if err != nil {
			return err
		}
		meta.SourceFile = name
		if err := b.commit(ds, dir, meta, sum, log); err != nil {
			return err
		}
	}
	return nil
}

// buildRange concatenates every day file into one <first>_<last> cut.
func (b Builder) buildRange(ctx context.Context, ds config.Dataset, re *regexp.Regexp, files []string, sum *Summary, log *zerolog.Logger) error {
	var (
		kept  []string
		dates []string
	)
	for _, src := range files {
		y, m, d, err := dayParts(re, filepath.Base(src))
		if err != nil {
			log.Warn().Err(err).Str("path", src).Msg("file skipped")
			sum.Skipped = append(sum.Skipped, Issue{Dataset: ds.ID, Path: src, Reason: err.Error()})
			continue
		}
		kept = append(kept, src)
		dates = append(dates, y+"-"+m+"-"+d)
	}
	if len(kept) == 0 {
		return fmt.Errorf("%w: no file matches %s", ErrSourceNotFound, ds.FilePattern)
	}
	sort.Strings(dates)

	first, last := dates[0], dates[len(dates)-1]
	cut := first + "_" + last
	year, month := atoi(first[:4]), atoi(first[5:7])
	dir := PartitionDir(b.Config.RawDir(), ds.ID, year, month, cut)
	dst := DataFile(dir, ds.ID)

	opt := b.csvOptions()
	if err := b.checkDrift(kept, opt, log); err != nil {
		return err
	}
	if err := concatFiles(ctx, kept, dst, log); err != nil {
		return fmt.Errorf("concatenate into %s: %w", dst, err)
	}

	meta, err := b.baseMeta(ds, dst, cut, year, month, opt)
	if err != nil {
		return err
	}
	meta.SourceFiles = make([]string, len(kept))
	for i, p := range kept {
		meta.SourceFiles[i] = filepath.Base(p)
	}
	meta.DateRange = &DateRange{From: first, To: last}
	return b.commit(ds, dir, meta, sum, log)
}

// checkDrift logs every file whose header differs from the first file's.
func (b Builder) checkDrift(files []string, opt lakecsv.Options, log *zerolog.Logger) error {
	var want string
	for i, p := range files {
		cols, _, _, err := describe(p, opt)
		if err != nil {
			return err
		}
		fp := transformer.Fingerprint(cols)
		if i == 0 {
			want = fp
			continue
		}
		if fp != want {
			log.Warn().Str("path", p).Strs("columns", cols).Msg("schema drift against first file of range")
		}
	}
	return nil
}

// buildMonthly decodes one workbook per month into a delimited file.
func (b Builder) buildMonthly(ctx context.Context, ds config.Dataset, re *regexp.Regexp, sum *Summary, log *zerolog.Logger) error {
	pattern := filepath.Join(b.Config.DataDir(), ds.SourceGlob)
	books, err := filepath.Glob(pattern)
	if err != nil {
		return err
	}
	sort.Strings(books)
	if len(books) == 0 {
		return fmt.Errorf("%w: nothing matches %s", ErrSourceNotFound, pattern)
	}

	decoders := b.Decoders
	if decoders == nil {
		decoders = DefaultDecoders()
	}

	var (
		unavailable error
		written     int
	)
	for _, src := range books {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := filepath.Base(src)
		g := re.FindStringSubmatch(name)
		if len(g) < 3 {
			err := fmt.Errorf("%w: %s does not match %s", ErrMalformedName, name, re)
			log.Warn().Err(err).Str("path", src).Msg("file skipped")
			sum.Skipped = append(sum.Skipped, Issue{Dataset: ds.ID, Path: src, Reason: err.Error()})
			continue
		}
		y, m := g[1], g[2]
		cut := y + "-" + m

		wb, err := decoders.Open(src)
		if errors.Is(err, ErrDecoderUnavailable) {
			log.Warn().Err(err).Str("path", src).Msg("workbook skipped")
			sum.Skipped = append(sum.Skipped, Issue{Dataset: ds.ID, Path: src, Reason: err.Error()})
			unavailable = err
			continue
		}
		if err != nil {
			return fmt.Errorf("open %s: %w", src, err)
		}

		dir := PartitionDir(b.Config.RawDir(), ds.ID, atoi(y), atoi(m), cut)
		dst := DataFile(dir, ds.ID)
		log.Debug().Strs("sheets", wb.Sheets()).Str("path", src).Msg("workbook opened")
		sheet, ficha, err := convertWorkbook(wb, dst, b.Config.Comma())
		if cerr := wb.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("convert %s: %w", src, err)
		}

		// The converted file is always UTF-8, whatever the source exports use.
		opt := lakecsv.Options{Comma: b.Config.Comma(), Encoding: "utf-8", LazyQuotes: b.Config.LazyQuotes}
		meta, err := b.baseMeta(ds, dst, cut, atoi(y), atoi(m), opt)
		if err != nil {
			return err
		}
		meta.SourceFile = name
		meta.SourceSheet = sheet
		meta.Ficha = ficha
		if err := b.commit(ds, dir, meta, sum, log); err != nil {
			return err
		}
		written++
	}

	// Every workbook was undecodable: report the dataset itself as skipped.
	if unavailable != nil && written == 0 {
		return unavailable
	}
	return nil
}

// dataSheet picks the first sheet that is not a FICHA sheet, else the last.
func dataSheet(sheets []string) string {
	for _, s := range sheets {
		if !strings.Contains(strings.ToUpper(s), "FICHA") {
			return s
		}
	}
	if len(sheets) == 0 {
		return ""
	}
	return sheets[len(sheets)-1]
}

func fichaSheet(sheets []string) string {
	for _, s := range sheets {
		if strings.Contains(strings.ToUpper(s), "FICHA") {
			return s
		}
	}
	return ""
}

// convertWorkbook writes the data sheet of wb to dst and returns the sheet
// name and the FICHA key/values. Fully empty rows are dropped and short rows
// are padded to the header width.
func convertWorkbook(wb Workbook, dst string, comma rune) (string, Ficha, error) {
	sheets := wb.Sheets()

	ficha := Ficha{}
	if fs := fichaSheet(sheets); fs != "" {
		err := wb.EachRow(fs, func(cells []string) error {
			if len(cells) >= 2 && strings.TrimSpace(cells[0]) != "" {
				ficha.Set(cells[0], cells[1])
			}
			return nil
		})
		if err != nil {
			return "", nil, err
		}
	}

	sheet := dataSheet(sheets)
	if sheet == "" {
		return "", nil, fmt.Errorf("workbook has no sheets")
	}

	err := writeAtomic(dst, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		cw.Comma = comma
		width := -1
		err := wb.EachRow(sheet, func(cells []string) error {
			if blank(cells) {
				return nil
			}
			if width < 0 {
				width = len(cells)
			}
			for len(cells) < width {
				cells = append(cells, "")
			}
			return cw.Write(cells)
		})
		if err != nil {
			return err
		}
		cw.Flush()
		return cw.Error()
	})
	return sheet, ficha, err
}

func blank(cells []string) bool {
	for _, c := range cells {
		if c != "" {
			return false
		}
	}
	return true
}

func dayParts(re *regexp.Regexp, name string) (y, m, d string, err error) {
	g := re.FindStringSubmatch(name)
	if len(g) < 4 {
		return "", "", "", fmt.Errorf("%w: %s does not match %s", ErrMalformedName, name, re)
	}
	return g[1], g[2], g[3], nil
}

// copyFile copies src to dst atomically and preserves the modification time.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	st, err := in.Stat()
	if err != nil {
		return err
	}
	if err := writeAtomic(dst, func(w io.Writer) error {
		_, err := io.Copy(w, in)
		return err
	}); err != nil {
		return err
	}
	return os.Chtimes(dst, st.ModTime(), st.ModTime())
}

// concatFiles writes the first file whole and every later file without its
// header line. A missing final newline is repaired between files.
func concatFiles(ctx context.Context, files []string, dst string, log *zerolog.Logger) error {
	return writeAtomic(dst, func(w io.Writer) error {
		bw := bufio.NewWriterSize(w, 1<<20)
		var last byte = '\n'

		for i, p := range files {
			if err := ctx.Err(); err != nil {
				return err
			}
			n, tail, err := appendFile(bw, p, i > 0, last)
			if err != nil {
				return fmt.Errorf("%s: %w", p, err)
			}
			if n > 0 {
				last = tail
			}
			log.Debug().Int("file", i+1).Int("of", len(files)).Str("path", filepath.Base(p)).Int64("bytes", n).Msg("appended")
		}
		if last != '\n' {
			if err := bw.WriteByte('\n'); err != nil {
				return err
			}
		}
		return bw.Flush()
	})
}

func appendFile(w *bufio.Writer, path string, skipHeader bool, prev byte) (int64, byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 1<<20)
	if skipHeader {
		if _, err := r.ReadString('\n'); err != nil && err != io.EOF {
			return 0, 0, err
		}
	}

	// Peek so an empty remainder leaves the previous tail untouched.
	if _, err := r.Peek(1); err == io.EOF {
		return 0, 0, nil
	}
	if prev != '\n' {
		if err := w.WriteByte('\n'); err != nil {
			return 0, 0, err
		}
	}

	tw := &tailWriter{w: w}
	n, err := io.Copy(tw, r)
	return n, tw.last, err
}

type tailWriter struct {
	w    io.Writer
	last byte
}

func (t *tailWriter) Write(p []byte) (int, error) {
	if len(p) > 0 {
		t.last = p[len(p)-1]
	}
	return t.w.Write(p)
}

// writeAtomic creates dst's directory, runs fill against a sibling temp file
// and renames it over dst on success.
func writeAtomic(dst string, fill func(w io.Writer) error) (err error) {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dst)+".*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(name)
		}
	}()

	if err = fill(tmp); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(name, 0o644); err != nil {
		return err
	}
	return os.Rename(name, dst)
}
