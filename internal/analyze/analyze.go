// Package analyze runs the profiler and the projector over the newest raw
// partition of every dataset and writes the per-dataset column reports, the
// slim extracts and the consolidated column_analysis.json.
package analyze

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"transitlake/internal/config"
	"transitlake/internal/jsonfile"
	"transitlake/internal/lake"
	"transitlake/internal/logging"
	"transitlake/internal/metrics"
	lakecsv "transitlake/internal/parser/csv"
	"transitlake/internal/policy"
	"transitlake/internal/probe"
	"transitlake/internal/project"
	"transitlake/internal/storage"
)

// ErrSourceNotFound means a dataset has neither an input file nor a raw
// partition to analyze.
var ErrSourceNotFound = errors.New("analyze: source not found")

const mib = 1024 * 1024

// ReportFile and SlimSuffix name the per-dataset outputs under
// <processed>/dataset=<id>/.
const (
	ReportFile = "column_report.json"
	SlimSuffix = "_slim.csv"
)

// Analyzer processes every configured dataset, one at a time.
type Analyzer struct {
	Config config.Config
	Logger *zerolog.Logger
	Now    func() time.Time
	// RunID tags the artifact and stored profiles. Empty means a fresh UUID.
	RunID string
	// Store, when set, receives one lake_column_profiles row per column.
	Store storage.Repository
}

// Issue records a dataset that was skipped or failed.
type Issue struct {
	Dataset string `json:"dataset"`
	Reason  string `json:"reason"`
}

// Entry is the analysis of one dataset.
type Entry struct {
	Src                  string        `json:"src"`
	Dst                  string        `json:"dst"`
	TotalColumns         int           `json:"total_columns"`
	SelectedColumns      int           `json:"selected_columns"`
	DroppedColumns       int           `json:"dropped_columns"`
	RowCount             int64         `json:"row_count"`
	OriginalSizeMB       float64       `json:"original_size_mb"`
	SlimSizeMB           float64       `json:"slim_size_mb"`
	OriginalSizeBytes    int64         `json:"original_size_bytes"`
	SlimSizeBytes        int64         `json:"slim_size_bytes"`
	SizeSavingPct        float64       `json:"size_saving_pct"`
	SlimSHA256           string        `json:"slim_sha256"`
	MissingPolicyColumns []string      `json:"missing_policy_columns"`
	Columns              probe.Columns `json:"columns"`

	sampledRows int
}

// Datasets marshals as an object keyed by dataset id, in run order.
type Datasets []jsonfile.Field[Entry]

func (d Datasets) MarshalJSON() ([]byte, error) {
	return jsonfile.MarshalObject([]jsonfile.Field[Entry](d))
}

func (d *Datasets) UnmarshalJSON(b []byte) error {
	fields, err := jsonfile.UnmarshalObject[Entry](b)
	if err != nil {
		return err
	}
	*d = fields
	return nil
}

// Get returns the entry of dataset id.
func (d Datasets) Get(id string) (Entry, bool) {
	for _, f := range d {
		if f.Key == id {
			return f.Value, true
		}
	}
	return Entry{}, false
}

// Analysis is the content of column_analysis.json.
type Analysis struct {
	GeneratedAt    string       `json:"generated_at"`
	RunID          string       `json:"run_id"`
	SampleRowsUsed int          `json:"sample_rows_used"`
	Datasets       Datasets     `json:"datasets"`
	PolicyGaps     []policy.Gap `json:"policy_gaps"`
	Skipped        []Issue      `json:"skipped"`
	Failed         []Issue      `json:"failed"`
}

// Run analyzes every dataset in config order and writes the analysis
// artifact. Missing sources are skipped and per-dataset failures recorded;
// only cancellation, an unwritable artifact or a store failure make Run
// return an error.
func (a Analyzer) Run(ctx context.Context) (Analysis, error) {
	log := logging.Or(a.Logger)
	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	runID := a.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	settings := probe.SettingsFrom(a.Config.Profile)

	out := Analysis{
		GeneratedAt:    now().UTC().Format(time.RFC3339),
		RunID:          runID,
		SampleRowsUsed: a.Config.Profile.SampleRows,
		Datasets:       Datasets{},
		PolicyGaps:     []policy.Gap{},
		Skipped:        []Issue{},
		Failed:         []Issue{},
	}
	headers := map[string][][]string{}
	var profiles [][]any

	for _, ds := range a.Config.Datasets {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		start := time.Now()
		dlog := log.With().Str("dataset", ds.ID).Logger()

		entry, err := a.analyze(ctx, ds, settings, &dlog)

		status := "ok"
		switch {
		case err == nil:
			out.Datasets = append(out.Datasets, jsonfile.Field[Entry]{Key: ds.ID, Value: entry})
			headers[ds.ID] = [][]string{columnNames(entry.Columns)}
			profiles = append(profiles, profileRows(ds.ID, entry, runID, out.GeneratedAt)...)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return out, err
		case errors.Is(err, ErrSourceNotFound):
			status = "skipped"
			dlog.Warn().Err(err).Msg("dataset skipped")
			out.Skipped = append(out.Skipped, Issue{Dataset: ds.ID, Reason: err.Error()})
		default:
			status = "failed"
			dlog.Error().Err(err).Msg("dataset failed")
			out.Failed = append(out.Failed, Issue{Dataset: ds.ID, Reason: err.Error()})
		}
		metrics.RecordStep("analyze", status, start)
		metrics.Dataset(status)
	}

	if gaps := policy.Reconcile(policy.FromConfig(a.Config), headers); gaps != nil {
		out.PolicyGaps = gaps
	}
	for _, g := range out.PolicyGaps {
		log.Warn().Str("dataset", g.Dataset).Strs("columns", g.Columns).Msg("policy columns never observed")
	}

	path := a.Config.AnalysisFile()
	if err := jsonfile.Write(path, out); err != nil {
		return out, fmt.Errorf("write analysis: %w", err)
	}
	log.Info().Str("path", path).Int("datasets", len(out.Datasets)).Msg("analysis written")

	if a.Store != nil && len(profiles) > 0 {
		if err := a.store(ctx, profiles); err != nil {
			return out, err
		}
		log.Info().Int("rows", len(profiles)).Str("table", storage.ColumnProfilesTable.Name).Msg("column profiles stored")
	}
	return out, nil
}

func (a Analyzer) analyze(ctx context.Context, ds config.Dataset, s probe.Settings, log *zerolog.Logger) (Entry, error) {
	src, err := a.Source(ds)
	if err != nil {
		return Entry{}, err
	}
	st, err := os.Stat(src)
	if err != nil {
		return Entry{}, err
	}
	opt := a.readOptions(src)
	pol := policy.Policy{Dataset: ds.ID, Columns: ds.Columns}.Normalize().Columns

	outDir := filepath.Join(a.Config.ProcessedDir(), "dataset="+ds.ID)
	dst := filepath.Join(outDir, ds.ID+SlimSuffix)
	log.Info().Str("src", src).Str("dst", dst).Msg("analyzing")

	rep, err := probe.ProfileFile(ctx, src, pol, opt, s)
	if err != nil {
		return Entry{}, err
	}
	rep.Dataset = ds.ID
	if err := probe.WriteReport(filepath.Join(outDir, ReportFile), rep); err != nil {
		return Entry{}, fmt.Errorf("write column report: %w", err)
	}
	metrics.AddRows("profiled", int64(rep.RowsSampled))

	res, err := project.ProjectFile(ctx, src, dst, pol, opt)
	if err != nil {
		return Entry{}, err
	}
	metrics.AddRows("projected", res.Rows)
	metrics.AddBytes("projected", res.Bytes)

	selected := rep.Columns.Selected()
	missing := res.Missing
	if missing == nil {
		missing = []string{}
	}
	e := Entry{
		Src:                  src,
		Dst:                  dst,
		TotalColumns:         len(rep.Columns),
		SelectedColumns:      selected,
		DroppedColumns:       len(rep.Columns) - selected,
		RowCount:             res.Rows,
		OriginalSizeMB:       round(float64(st.Size())/mib, 1),
		SlimSizeMB:           round(float64(res.Bytes)/mib, 1),
		OriginalSizeBytes:    st.Size(),
		SlimSizeBytes:        res.Bytes,
		SizeSavingPct:        savingPct(st.Size(), res.Bytes),
		SlimSHA256:           res.SHA256,
		MissingPolicyColumns: missing,
		Columns:              rep.Columns,
		sampledRows:          rep.RowsSampled,
	}
	log.Info().
		Int64("rows", e.RowCount).
		Int("selected", e.SelectedColumns).
		Int("total", e.TotalColumns).
		Float64("saving_pct", e.SizeSavingPct).
		Msg("dataset analyzed")
	return e, nil
}

// Source resolves the file analyzed for ds: the configured input when set,
// else the data file of the lexicographically last raw partition.
func (a Analyzer) Source(ds config.Dataset) (string, error) {
	if ds.Input != "" {
		p := a.Config.Resolve(ds.Input)
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("%w: %s", ErrSourceNotFound, p)
		}
		return p, nil
	}
	pattern := filepath.Join(a.Config.RawDir(), "dataset="+ds.ID, "year=*", "month=*", "cut=*", "*.csv")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w: nothing matches %s", ErrSourceNotFound, pattern)
	}
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}

// readOptions prefers the encoding recorded in the partition's _meta.json,
// since converted workbooks are UTF-8 whatever the configured export charset.
func (a Analyzer) readOptions(src string) lakecsv.Options {
	opt := lakecsv.Options{Comma: a.Config.Comma(), Encoding: a.Config.Encoding, LazyQuotes: a.Config.LazyQuotes}
	if m, err := lake.ReadMeta(filepath.Join(filepath.Dir(src), lake.MetaFile)); err == nil && m.Encoding != "" {
		opt.Encoding = m.Encoding
	}
	return opt
}

func (a Analyzer) store(ctx context.Context, rows [][]any) error {
	t := storage.ColumnProfilesTable
	if err := a.Store.EnsureTables(ctx, []storage.TableSpec{t}); err != nil {
		return fmt.Errorf("store column profiles: %w", err)
	}
	if _, err := a.Store.Upsert(ctx, t, rows); err != nil {
		return fmt.Errorf("store column profiles: %w", err)
	}
	return nil
}

// profileRows shapes an entry as storage.ColumnProfilesTable rows.
func profileRows(dataset string, e Entry, runID, at string) [][]any {
	rows := make([][]any, 0, len(e.Columns))
	for i, c := range e.Columns {
		rows = append(rows, []any{
			dataset,
			c.Name,
			int64(i),
			c.Selected,
			c.NullRate,
			string(c.InferredDtype),
			int64(c.UniqueSample),
			int64(e.sampledRows),
			e.Src,
			runID,
			at,
		})
	}
	return rows
}

func columnNames(cs probe.Columns) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Name
	}
	return out
}

func savingPct(orig, slim int64) float64 {
	if orig <= 0 {
		return 0
	}
	return round((1-float64(slim)/float64(orig))*100, 1)
}
