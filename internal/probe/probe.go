// Package probe profiles delimited sources from a bounded prefix sample.
//
// The profiler answers, per column, how often the column is null, what
// primitive type its values look like, and how varied a small retained sample
// is. It never reads past Settings.SampleRows data rows and never holds more
// than Settings.RetainValues values per column, so memory is bounded no matter
// how large the source is.
//
// The sample is a prefix, not a random draw. It is reproducible and cheap, but
// biased when a file is ordered by a column that correlates with the values
// being profiled (for example a day file ordered by time of day).
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"transitlake/internal/config"
	"transitlake/internal/parser/csv"
)

// ErrMissingColumn signals a lookup of a column that is not in the header.
// Profile builds its working set from the header, so seeing this is a bug.
var ErrMissingColumn = errors.New("column not in header")

// Settings are the profiler knobs. Zero fields fall back to DefaultSettings.
type Settings struct {
	SampleRows     int
	RetainValues   int
	NumericWindow  int
	DatetimeWindow int
	SampleValues   int
	// NullValues nil means the default sentinel set; an empty non-nil slice
	// disables null detection.
	NullValues      []string
	DatetimeLayouts []string
}

// DefaultSettings mirrors config.Default().Profile.
func DefaultSettings() Settings {
	return SettingsFrom(config.Default().Profile)
}

// SettingsFrom adapts the config section.
func SettingsFrom(p config.Profile) Settings {
	return Settings{
		SampleRows:      p.SampleRows,
		RetainValues:    p.RetainValues,
		NumericWindow:   p.NumericWindow,
		DatetimeWindow:  p.DatetimeWindow,
		SampleValues:    p.SampleValues,
		NullValues:      p.NullValues,
		DatetimeLayouts: p.DatetimeLayouts,
	}
}

func (s Settings) withDefaults() Settings {
	d := config.Default().Profile
	if s.SampleRows <= 0 {
		s.SampleRows = d.SampleRows
	}
	if s.RetainValues <= 0 {
		s.RetainValues = d.RetainValues
	}
	if s.NumericWindow <= 0 {
		s.NumericWindow = d.NumericWindow
	}
	if s.DatetimeWindow <= 0 {
		s.DatetimeWindow = d.DatetimeWindow
	}
	if s.SampleValues <= 0 {
		s.SampleValues = d.SampleValues
	}
	if s.NullValues == nil {
		s.NullValues = d.NullValues
	}
	if len(s.DatetimeLayouts) == 0 {
		s.DatetimeLayouts = d.DatetimeLayouts
	}
	return s
}

// columnStat is the per-column working state of one profiling pass.
type columnStat struct {
	name      string
	nullCount int
	retained  []string
	selected  bool
}

// sampler owns the working set for a single source. It is discarded once the
// report is built.
type sampler struct {
	settings Settings
	nulls    nullSet
	stats    []columnStat
	index    map[string]int
	rows     int
}

func newSampler(header []string, policy []string, s Settings) *sampler {
	want := make(map[string]bool, len(policy))
	for _, c := range policy {
		want[c] = true
	}
	sm := &sampler{
		settings: s,
		nulls:    newNullSet(s.NullValues),
		stats:    make([]columnStat, len(header)),
		index:    make(map[string]int, len(header)),
	}
	for i, h := range header {
		sm.stats[i] = columnStat{name: h, selected: want[h]}
		sm.index[h] = i
	}
	return sm
}

// observe folds one record into the working set. Missing trailing cells are
// null; extra cells are ignored.
func (sm *sampler) observe(rec []string) {
	sm.rows++
	for i := range sm.stats {
		st := &sm.stats[i]
		v := ""
		if i < len(rec) {
			v = rec[i]
		}
		if sm.nulls.has(v) {
			st.nullCount++
			continue
		}
		if len(st.retained) < sm.settings.RetainValues {
			st.retained = append(st.retained, v)
		}
	}
}

func (sm *sampler) column(name string) (*columnStat, error) {
	i, ok := sm.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMissingColumn, name)
	}
	return &sm.stats[i], nil
}

// Profile samples r and reports on every header column, in header order.
//
// # What it measures
//
//   - rows_sampled: data rows read, at most s.SampleRows.
//   - null_rate: nulls / rows_sampled rounded to 4 decimals; 1.0 when nothing
//     was sampled.
//   - inferred_dtype: see InferDtype, over the retained non-null values.
//   - unique_sample: distinct values inside the retained sample only. This is
//     not the column's cardinality.
//   - selected: membership of the column name in policy, nothing else.
//
// Errors
//
//   - A structural parse failure from r is returned wrapped; the partial
//     report is discarded.
//   - ctx cancellation stops the pass between rows.
func Profile(ctx context.Context, r *csv.Reader, policy []string, s Settings) (Report, error) {
	s = s.withDefaults()
	sm := newSampler(r.Header(), policy, s)

	for sm.rows < s.SampleRows {
		if err := ctx.Err(); err != nil {
			return Report{}, err
		}
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Report{}, fmt.Errorf("profile row %d: %w", sm.rows+1, err)
		}
		sm.observe(rec)
	}

	return sm.report(r.Header())
}

func (sm *sampler) report(header []string) (Report, error) {
	rep := Report{
		RowsSampled: sm.rows,
		Columns:     make(Columns, 0, len(header)),
	}
	for _, name := range header {
		st, err := sm.column(name)
		if err != nil {
			return Report{}, err
		}
		rep.Columns = append(rep.Columns, Column{Name: name, ColumnReport: sm.finalize(st)})
	}
	return rep, nil
}

func (sm *sampler) finalize(st *columnStat) ColumnReport {
	rate := 1.0
	if sm.rows > 0 {
		rate = round(float64(st.nullCount)/float64(sm.rows), 4)
	}

	distinct := make(map[string]struct{}, len(st.retained))
	for _, v := range st.retained {
		distinct[v] = struct{}{}
	}

	n := sm.settings.SampleValues
	if n > len(st.retained) {
		n = len(st.retained)
	}
	samples := make([]string, n)
	copy(samples, st.retained[:n])

	return ColumnReport{
		Selected:      st.selected,
		NullRate:      rate,
		NullPct:       fmt.Sprintf("%.1f%%", rate*100),
		InferredDtype: InferDtype(st.retained, sm.settings),
		UniqueSample:  len(distinct),
		SampleValues:  samples,
	}
}

// ProfileFile opens path, profiles it, and closes it. A file with no header
// line yields an empty report.
func ProfileFile(ctx context.Context, path string, policy []string, opt csv.Options, s Settings) (Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return Report{}, err
	}
	defer f.Close()

	r, err := csv.NewReader(f, opt)
	if err == io.EOF {
		return Report{Columns: Columns{}}, nil
	}
	if err != nil {
		return Report{}, fmt.Errorf("read header %s: %w", path, err)
	}
	rep, err := Profile(ctx, r, policy, s)
	if err != nil {
		return Report{}, fmt.Errorf("profile %s: %w", path, err)
	}
	return rep, nil
}
