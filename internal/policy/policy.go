// Package policy models the hand-declared "wanted columns" list of each
// dataset and reconciles it against the headers actually observed.
package policy

import "transitlake/internal/config"

// Policy is the ordered list of business-relevant columns for one dataset.
type Policy struct {
	Dataset string
	Columns []string
}

// FromConfig returns one policy per configured dataset, in config order.
func FromConfig(cfg config.Config) []Policy {
	out := make([]Policy, 0, len(cfg.Datasets))
	for _, d := range cfg.Datasets {
		out = append(out, Policy{Dataset: d.ID, Columns: d.Columns}.Normalize())
	}
	return out
}

// Normalize drops repeated column names, keeping the first occurrence.
func (p Policy) Normalize() Policy {
	seen := make(map[string]bool, len(p.Columns))
	cols := make([]string, 0, len(p.Columns))
	for _, c := range p.Columns {
		if seen[c] {
			continue
		}
		seen[c] = true
		cols = append(cols, c)
	}
	return Policy{Dataset: p.Dataset, Columns: cols}
}

// Set returns the membership set of the policy.
func (p Policy) Set() map[string]bool {
	s := make(map[string]bool, len(p.Columns))
	for _, c := range p.Columns {
		s[c] = true
	}
	return s
}

// Contains reports whether name is a wanted column.
func (p Policy) Contains(name string) bool {
	for _, c := range p.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Gap lists wanted columns that no observed header of Dataset contains.
type Gap struct {
	Dataset string   `json:"dataset"`
	Columns []string `json:"columns"`
}

// Reconcile reports, per dataset, the policy columns matched by none of the
// observed headers. headers maps a dataset id to every header seen for it.
// Datasets without any observed header are not reported: they were skipped,
// which is a different condition from drift.
func Reconcile(policies []Policy, headers map[string][][]string) []Gap {
	var gaps []Gap
	for _, p := range policies {
		observed := headers[p.Dataset]
		if len(observed) == 0 {
			continue
		}
		if missing := Unmatched(p, observed...); len(missing) > 0 {
			gaps = append(gaps, Gap{Dataset: p.Dataset, Columns: missing})
		}
	}
	return gaps
}

// Unmatched returns the policy columns absent from every given header, in
// policy order.
func Unmatched(p Policy, headers ...[]string) []string {
	seen := map[string]bool{}
	for _, h := range headers {
		for _, c := range h {
			seen[c] = true
		}
	}
	var missing []string
	for _, c := range p.Normalize().Columns {
		if !seen[c] {
			missing = append(missing, c)
		}
	}
	return missing
}
