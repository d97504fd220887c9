package probe

import (
	"fmt"
	"io"
	"math"
	"strings"

	"transitlake/internal/jsonfile"
)

// ColumnReport is the finalized, read-only view of one column.
type ColumnReport struct {
	Selected      bool     `json:"selected"`
	NullRate      float64  `json:"null_rate"`
	NullPct       string   `json:"null_pct"`
	InferredDtype Dtype    `json:"inferred_dtype"`
	UniqueSample  int      `json:"unique_sample"`
	SampleValues  []string `json:"sample_values"`
}

// Column pairs a header name with its report.
type Column struct {
	Name string
	ColumnReport
}

// Columns marshals as a JSON object keyed by column name, in header order.
type Columns []Column

func (cs Columns) MarshalJSON() ([]byte, error) {
	fields := make([]jsonfile.Field[ColumnReport], len(cs))
	for i, c := range cs {
		fields[i] = jsonfile.Field[ColumnReport]{Key: c.Name, Value: c.ColumnReport}
	}
	return jsonfile.MarshalObject(fields)
}

func (cs *Columns) UnmarshalJSON(b []byte) error {
	fields, err := jsonfile.UnmarshalObject[ColumnReport](b)
	if err != nil {
		return err
	}
	out := make(Columns, len(fields))
	for i, f := range fields {
		if f.Value.SampleValues == nil {
			f.Value.SampleValues = []string{}
		}
		out[i] = Column{Name: f.Key, ColumnReport: f.Value}
	}
	*cs = out
	return nil
}

// Get returns the report for name.
func (cs Columns) Get(name string) (ColumnReport, bool) {
	for _, c := range cs {
		if c.Name == name {
			return c.ColumnReport, true
		}
	}
	return ColumnReport{}, false
}

// Selected counts columns marked selected.
func (cs Columns) Selected() int {
	n := 0
	for _, c := range cs {
		if c.Selected {
			n++
		}
	}
	return n
}

// Report is the per-dataset profiler artifact (column_report.json).
type Report struct {
	Dataset     string  `json:"dataset"`
	RowsSampled int     `json:"sampled_rows"`
	Columns     Columns `json:"columns"`
}

// WriteReport stores rep at path. Identical reports produce identical bytes.
func WriteReport(path string, rep Report) error {
	if rep.Columns == nil {
		rep.Columns = Columns{}
	}
	return jsonfile.Write(path, rep)
}

// ReadReport loads a report written by WriteReport.
func ReadReport(path string) (Report, error) {
	var rep Report
	if err := jsonfile.Read(path, &rep); err != nil {
		return Report{}, err
	}
	if rep.Columns == nil {
		rep.Columns = Columns{}
	}
	return rep, nil
}

// FormatSummary writes the console table: one line per column with a check
// mark for selected columns, null percentage, dtype and up to three samples.
func FormatSummary(w io.Writer, rep Report) error {
	selected := rep.Columns.Selected()
	total := len(rep.Columns)
	if _, err := fmt.Fprintf(w, "  columns: %d total, %d selected, %d dropped (sampled_rows=%d)\n\n",
		total, selected, total-selected, rep.RowsSampled); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "  %-38s %-6s %-8s %-12s %s\n", "column", "sel", "nulls", "dtype", "sample"); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "  %s %s %s %s %s\n",
		strings.Repeat("-", 38), strings.Repeat("-", 6), strings.Repeat("-", 8),
		strings.Repeat("-", 12), strings.Repeat("-", 20)); err != nil {
		return err
	}
	for _, c := range rep.Columns {
		mark := ""
		if c.Selected {
			mark = "✓"
		}
		sample := strings.Join(head(c.SampleValues, 3), ", ")
		if r := []rune(sample); len(r) > 40 {
			sample = string(r[:40])
		}
		if _, err := fmt.Fprintf(w, "  %-38s %-6s %-8s %-12s %s\n",
			c.Name, mark, c.NullPct, c.InferredDtype, sample); err != nil {
			return err
		}
	}
	return nil
}

func round(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}
