package analyze

import (
	"fmt"
	"io"
	"math"
	"strings"

	"transitlake/internal/probe"
)

// Report rebuilds the column report of one analyzed dataset.
func (e Entry) Report(dataset string) probe.Report {
	return probe.Report{Dataset: dataset, RowsSampled: e.sampledRows, Columns: e.Columns}
}

// FormatSummary prints one block per analyzed dataset followed by the skipped,
// failed and policy-gap lists.
func FormatSummary(w io.Writer, a Analysis) error {
	bar := strings.Repeat("=", 70)
	for _, f := range a.Datasets {
		e := f.Value
		if _, err := fmt.Fprintf(w, "\n%s\n  %s\n%s\n  src: %s\n", bar, strings.ToUpper(f.Key), bar, e.Src); err != nil {
			return err
		}
		if err := probe.FormatSummary(w, e.Report(f.Key)); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "\n  slim: %s\n  rows: %d  size: %.1f MB -> %.1f MB (-%.1f%%)\n",
			e.Dst, e.RowCount, e.OriginalSizeMB, e.SlimSizeMB, e.SizeSavingPct); err != nil {
			return err
		}
		if len(e.MissingPolicyColumns) > 0 {
			if _, err := fmt.Fprintf(w, "  missing policy columns: %s\n", strings.Join(e.MissingPolicyColumns, ", ")); err != nil {
				return err
			}
		}
	}

	for _, s := range a.Skipped {
		if _, err := fmt.Fprintf(w, "\n  skipped %s: %s\n", s.Dataset, s.Reason); err != nil {
			return err
		}
	}
	for _, s := range a.Failed {
		if _, err := fmt.Fprintf(w, "\n  FAILED %s: %s\n", s.Dataset, s.Reason); err != nil {
			return err
		}
	}
	for _, g := range a.PolicyGaps {
		if _, err := fmt.Fprintf(w, "\n  policy gap %s: %s\n", g.Dataset, strings.Join(g.Columns, ", ")); err != nil {
			return err
		}
	}
	return nil
}

func round(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}
