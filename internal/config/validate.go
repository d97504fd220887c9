package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// Severity classifies a validation Issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding. Path is a dotted location inside the config
// (for example "datasets[1].file_pattern").
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

var validate = validator.New()

// Validate checks cfg and returns every finding. It never stops at the first
// problem so a CLI can print the full list.
func Validate(cfg Config) []Issue {
	var issues []Issue

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				issues = append(issues, Issue{
					Severity: SeverityError,
					Path:     fieldPath(fe.Namespace()),
					Message:  fmt.Sprintf("failed %q check (value %v)", fe.Tag(), fe.Value()),
				})
			}
		} else {
			issues = append(issues, Issue{Severity: SeverityError, Path: "", Message: err.Error()})
		}
	}

	if n := utf8.RuneCountInString(cfg.Separator); n != 1 {
		issues = append(issues, Issue{SeverityError, "separator", fmt.Sprintf("must be exactly one character, got %d", n)})
	} else if r := cfg.Comma(); r == '"' || r == '\r' || r == '\n' || r == utf8.RuneError {
		issues = append(issues, Issue{SeverityError, "separator", fmt.Sprintf("%q cannot be used as a delimiter", cfg.Separator)})
	}

	p := cfg.Profile
	if p.NumericWindow > p.RetainValues {
		issues = append(issues, Issue{SeverityWarning, "profile.numeric_window",
			fmt.Sprintf("window %d exceeds retain_values %d; only %d values will be tested", p.NumericWindow, p.RetainValues, p.RetainValues)})
	}
	if p.DatetimeWindow > p.RetainValues {
		issues = append(issues, Issue{SeverityWarning, "profile.datetime_window",
			fmt.Sprintf("window %d exceeds retain_values %d; only %d values will be tested", p.DatetimeWindow, p.RetainValues, p.RetainValues)})
	}
	if p.SampleValues > p.RetainValues {
		issues = append(issues, Issue{SeverityWarning, "profile.sample_values",
			fmt.Sprintf("%d exceeds retain_values %d", p.SampleValues, p.RetainValues)})
	}

	seen := map[string]int{}
	for i, d := range cfg.Datasets {
		path := fmt.Sprintf("datasets[%d]", i)
		if prev, dup := seen[d.ID]; dup && d.ID != "" {
			issues = append(issues, Issue{SeverityError, path + ".id", fmt.Sprintf("duplicate id %q (also datasets[%d])", d.ID, prev)})
		}
		seen[d.ID] = i

		issues = append(issues, validatePattern(path, d)...)

		switch d.Layout {
		case LayoutDaily, LayoutRange:
			if strings.TrimSpace(d.SourceDir) == "" {
				issues = append(issues, Issue{SeverityError, path + ".source_dir", "required for " + string(d.Layout) + " layout"})
			}
		case LayoutMonthlySheet:
			if strings.TrimSpace(d.SourceGlob) == "" {
				issues = append(issues, Issue{SeverityError, path + ".source_glob", "required for monthly_sheet layout"})
			}
		}

		cols := map[string]bool{}
		for j, c := range d.Columns {
			if c == "" {
				issues = append(issues, Issue{SeverityError, fmt.Sprintf("%s.columns[%d]", path, j), "empty column name"})
				continue
			}
			if cols[c] {
				issues = append(issues, Issue{SeverityWarning, fmt.Sprintf("%s.columns[%d]", path, j), fmt.Sprintf("duplicate column %q is emitted once", c)})
			}
			cols[c] = true
		}
	}

	return issues
}

// validatePattern checks that a dataset's filename pattern compiles and has
// enough capture groups for its layout.
func validatePattern(path string, d Dataset) []Issue {
	if d.FilePattern == "" {
		return nil
	}
	re, err := regexp.Compile(d.FilePattern)
	if err != nil {
		return []Issue{{SeverityError, path + ".file_pattern", err.Error()}}
	}
	want := 3
	if d.Layout == LayoutMonthlySheet {
		want = 2
	}
	if re.NumSubexp() < want {
		return []Issue{{SeverityError, path + ".file_pattern",
			fmt.Sprintf("needs %d capture groups for %s layout, has %d", want, d.Layout, re.NumSubexp())}}
	}
	return nil
}

// fieldPath turns validator namespaces ("Config.Datasets[0].ID") into the
// YAML-ish paths used by Issue.
func fieldPath(ns string) string {
	ns = strings.TrimPrefix(ns, "Config.")
	parts := strings.Split(ns, ".")
	for i, p := range parts {
		parts[i] = snake(p)
	}
	return strings.Join(parts, ".")
}

func snake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && s[i-1] >= 'a' && s[i-1] <= 'z' {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
