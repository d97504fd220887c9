// Package lake builds the raw layer of the data lake: it maps extracted
// source files onto dataset=/year=/month=/cut= partitions and writes a
// _meta.json next to every data file.
package lake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"transitlake/internal/config"
	"transitlake/internal/logging"
	"transitlake/internal/metrics"
	lakecsv "transitlake/internal/parser/csv"
	"transitlake/internal/transformer"
)

var (
	// ErrSourceNotFound means a dataset has no source directory or files.
	ErrSourceNotFound = errors.New("lake: source not found")
	// ErrMalformedName means a source file name does not match the dataset pattern.
	ErrMalformedName = errors.New("lake: malformed source file name")
	// ErrDecoderUnavailable means no decoder is registered for a workbook format.
	ErrDecoderUnavailable = errors.New("lake: no decoder for workbook format")
)

// Builder writes raw partitions for every configured dataset.
type Builder struct {
	Config   config.Config
	Logger   *zerolog.Logger
	Now      func() time.Time
	Decoders Decoders
}

// Partition is one written partition.
type Partition struct {
	Dataset string `json:"dataset"`
	Cut     string `json:"cut"`
	Dir     string `json:"dir"`
	Rows    int64  `json:"rows"`
	Bytes   int64  `json:"bytes"`
}

// Issue records a skipped or failed dataset or file.
type Issue struct {
	Dataset string `json:"dataset"`
	Path    string `json:"path,omitempty"`
	Reason  string `json:"reason"`
}

// Summary is the outcome of Run.
type Summary struct {
	Partitions []Partition `json:"partitions"`
	Skipped    []Issue     `json:"skipped"`
	Failed     []Issue     `json:"failed"`
}

// Run builds every dataset in config order. Per-dataset and per-file
// problems are recorded in the summary and do not stop the run; only a
// canceled context does.
func (b Builder) Run(ctx context.Context) (Summary, error) {
	log := logging.Or(b.Logger)
	sum := Summary{Partitions: []Partition{}, Skipped: []Issue{}, Failed: []Issue{}}

	for _, ds := range b.Config.Datasets {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		start := time.Now()
		dlog := log.With().Str("dataset", ds.ID).Str("layout", string(ds.Layout)).Logger()
		dlog.Info().Msg("building partitions")

		before := len(sum.Partitions)
		err := b.buildDataset(ctx, ds, &sum, &dlog)

		status := "ok"
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return sum, err
		case errors.Is(err, ErrSourceNotFound), errors.Is(err, ErrDecoderUnavailable):
			status = "skipped"
			dlog.Warn().Err(err).Msg("dataset skipped")
			sum.Skipped = append(sum.Skipped, Issue{Dataset: ds.ID, Reason: err.Error()})
		default:
			status = "failed"
			dlog.Error().Err(err).Msg("dataset failed")
			sum.Failed = append(sum.Failed, Issue{Dataset: ds.ID, Reason: err.Error()})
		}

		metrics.RecordStep("build_lake", status, start)
		metrics.Dataset(status)
		dlog.Info().Int("partitions", len(sum.Partitions)-before).Str("status", status).Msg("dataset done")
	}
	return sum, nil
}

func (b Builder) buildDataset(ctx context.Context, ds config.Dataset, sum *Summary, log *zerolog.Logger) error {
	re, err := regexp.Compile(ds.FilePattern)
	if err != nil {
		return fmt.Errorf("file pattern: %w", err)
	}

	switch ds.Layout {
	case config.LayoutDaily:
		files, err := b.dayFiles(ds)
		if err != nil {
			return err
		}
		return b.buildDaily(ctx, ds, re, files, sum, log)
	case config.LayoutRange:
		files, err := b.dayFiles(ds)
		if err != nil {
			return err
		}
		return b.buildRange(ctx, ds, re, files, sum, log)
	case config.LayoutMonthlySheet:
		return b.buildMonthly(ctx, ds, re, sum, log)
	default:
		return fmt.Errorf("unknown layout %q", ds.Layout)
	}
}

// dayFiles lists every *.csv under the extracted directories matching the
// dataset's source_dir glob, sorted by file name.
func (b Builder) dayFiles(ds config.Dataset) ([]string, error) {
	dirs, err := filepath.Glob(filepath.Join(b.Config.ExtractedDir(), ds.SourceDir))
	if err != nil {
		return nil, err
	}
	sort.Strings(dirs)

	var files []string
	for _, d := range dirs {
		err := filepath.WalkDir(d, func(p string, e os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !e.IsDir() && filepath.Ext(p) == ".csv" {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no csv under %s", ErrSourceNotFound, filepath.Join(b.Config.ExtractedDir(), ds.SourceDir))
	}
	sort.SliceStable(files, func(i, j int) bool {
		return filepath.Base(files[i]) < filepath.Base(files[j])
	})
	return files, nil
}

func (b Builder) now() string {
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	return now().UTC().Format(time.RFC3339)
}

func (b Builder) csvOptions() lakecsv.Options {
	return lakecsv.Options{Comma: b.Config.Comma(), Encoding: b.Config.Encoding, LazyQuotes: b.Config.LazyQuotes}
}

// baseMeta fills the fields shared by every layout from the written data
// file.
func (b Builder) baseMeta(ds config.Dataset, dataPath, cut string, year, month int, opt lakecsv.Options) (PartitionMeta, error) {
	cols, rows, size, err := describe(dataPath, opt)
	if err != nil {
		return PartitionMeta{}, err
	}
	enc := opt.Encoding
	if enc == "" {
		enc = "utf-8"
	}
	return PartitionMeta{
		Dataset:           ds.ID,
		Source:            b.Config.SourceOf(ds),
		Cut:               cut,
		Year:              year,
		Month:             month,
		Separator:         string(opt.Comma),
		Encoding:          enc,
		Columns:           cols,
		ColumnCount:       len(cols),
		RowCount:          rows,
		FileSizeBytes:     size,
		SchemaFingerprint: transformer.Fingerprint(cols),
		ExtractedAt:       b.now(),
	}, nil
}

func (b Builder) commit(ds config.Dataset, dir string, m PartitionMeta, sum *Summary, log *zerolog.Logger) error {
	if err := WriteMeta(dir, m); err != nil {
		return fmt.Errorf("write meta: %w", err)
	}
	metrics.AddRows("partitioned", m.RowCount)
	metrics.AddBytes("partitioned", m.FileSizeBytes)
	sum.Partitions = append(sum.Partitions, Partition{
		Dataset: ds.ID, Cut: m.Cut, Dir: dir, Rows: m.RowCount, Bytes: m.FileSizeBytes,
	})
	log.Info().Str("cut", m.Cut).Int64("rows", m.RowCount).Int64("bytes", m.FileSizeBytes).Str("dir", dir).Msg("partition written")
	return nil
}

// describe reads the cleaned header, the data row count and the size of a
// delimited file. An empty file has no columns and no rows.
func describe(path string, opt lakecsv.Options) (cols []string, rows, size int64, err error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, 0, 0, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, err
	}
	defer f.Close()

	r, err := lakecsv.NewReader(f, opt)
	switch {
	case errors.Is(err, io.EOF):
		return []string{}, 0, st.Size(), nil
	case err != nil:
		return nil, 0, 0, fmt.Errorf("%s: %w", path, err)
	}
	cols = r.Header()

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, 0, 0, err
	}
	lines, err := lakecsv.CountLines(f)
	if err != nil {
		return nil, 0, 0, err
	}
	if lines > 0 {
		rows = lines - 1
	}
	return cols, rows, st.Size(), nil
}
