// Package catalog folds every partition _meta.json under the lake root into a
// single lake_catalog.json.
package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"transitlake/internal/jsonfile"
	"transitlake/internal/lake"
	"transitlake/internal/policy"
	"transitlake/internal/storage"
	"transitlake/internal/transformer"
)

// Version is written as catalog_version.
const Version = "1.0"

// ErrInvalidMeta is returned when a _meta.json cannot be read or decoded.
// It aborts the build: a catalog silently missing partitions is worse than
// no catalog.
var ErrInvalidMeta = errors.New("catalog: invalid partition meta")

const (
	mib = 1024 * 1024
	gib = 1024 * 1024 * 1024
)

type Catalog struct {
	CatalogVersion string      `json:"catalog_version"`
	GeneratedAt    string      `json:"generated_at"`
	LakeRoot       string      `json:"lake_root"`
	Summary        Summary     `json:"summary"`
	Datasets       []Dataset   `json:"datasets"`
	Partitions     []Partition `json:"partitions"`
}

type Summary struct {
	TotalDatasets   int     `json:"total_datasets"`
	TotalPartitions int     `json:"total_partitions"`
	TotalRows       int64   `json:"total_rows"`
	TotalSizeBytes  int64   `json:"total_size_bytes"`
	TotalSizeGB     float64 `json:"total_size_gb"`
}

// Dataset aggregates the partitions of one dataset. Descriptive fields come
// from the first partition seen.
type Dataset struct {
	Dataset        string          `json:"dataset"`
	Source         string          `json:"source"`
	Layer          string          `json:"layer"`
	Columns        []string        `json:"columns"`
	ColumnCount    int             `json:"column_count"`
	Separator      string          `json:"separator"`
	Encoding       string          `json:"encoding"`
	Partitions     []PartitionRef  `json:"partitions"`
	TotalRows      int64           `json:"total_rows"`
	TotalSizeBytes int64           `json:"total_size_bytes"`
	DateRange      *lake.DateRange `json:"date_range,omitempty"`
	SourceSheet    string          `json:"source_sheet,omitempty"`
	Ficha          lake.Ficha      `json:"ficha,omitempty"`
	TotalSizeMB    float64         `json:"total_size_mb"`
	SchemaDrift    bool            `json:"schema_drift"`
	PolicyGaps     []string        `json:"policy_gaps"`

	fingerprints map[string]bool
	headers      [][]string
}

type PartitionRef struct {
	Cut           string  `json:"cut"`
	PartitionPath string  `json:"partition_path"`
	RowCount      int64   `json:"row_count"`
	FileSizeMB    float64 `json:"file_size_mb"`
	ExtractedAt   string  `json:"extracted_at"`
}

type Partition struct {
	PartitionPath     string  `json:"partition_path"`
	Layer             string  `json:"layer"`
	Dataset           string  `json:"dataset"`
	Cut               string  `json:"cut"`
	Year              int     `json:"year"`
	Month             int     `json:"month"`
	RowCount          int64   `json:"row_count"`
	FileSizeBytes     int64   `json:"file_size_bytes"`
	FileSizeMB        float64 `json:"file_size_mb"`
	ColumnCount       int     `json:"column_count"`
	Separator         string  `json:"separator"`
	Encoding          string  `json:"encoding"`
	ExtractedAt       string  `json:"extracted_at"`
	MetaFile          string  `json:"meta_file"`
	SchemaFingerprint string  `json:"schema_fingerprint"`
}

// Build walks lakeRoot for _meta.json files in sorted path order. policies
// may be nil, in which case no policy gaps are reported.
func Build(lakeRoot string, policies []policy.Policy, now time.Time) (Catalog, error) {
	metas, err := findMeta(lakeRoot)
	if err != nil {
		return Catalog{}, err
	}

	root := lakeRoot
	if abs, err := filepath.Abs(lakeRoot); err == nil {
		root = abs
	}

	cat := Catalog{
		CatalogVersion: Version,
		GeneratedAt:    now.UTC().Format(time.RFC3339),
		LakeRoot:       root,
		Datasets:       []Dataset{},
		Partitions:     []Partition{},
	}
	index := map[string]int{}

	for _, path := range metas {
		m, err := lake.ReadMeta(path)
		if err != nil {
			return Catalog{}, fmt.Errorf("%w: %s: %v", ErrInvalidMeta, path, err)
		}

		relDir, _ := filepath.Rel(lakeRoot, filepath.Dir(path))
		relDir = filepath.ToSlash(relDir)
		relMeta, _ := filepath.Rel(lakeRoot, path)
		layer, _, _ := strings.Cut(relDir, "/")

		name := m.Dataset
		if name == "" {
			name = "unknown"
		}
		fp := m.SchemaFingerprint
		if fp == "" {
			fp = transformer.Fingerprint(m.Columns)
		}

		cat.Partitions = append(cat.Partitions, Partition{
			PartitionPath:     relDir,
			Layer:             layer,
			Dataset:           name,
			Cut:               m.Cut,
			Year:              m.Year,
			Month:             m.Month,
			RowCount:          m.RowCount,
			FileSizeBytes:     m.FileSizeBytes,
			FileSizeMB:        round(float64(m.FileSizeBytes)/mib, 2),
			ColumnCount:       m.ColumnCount,
			Separator:         m.Separator,
			Encoding:          m.Encoding,
			ExtractedAt:       m.ExtractedAt,
			MetaFile:          filepath.ToSlash(relMeta),
			SchemaFingerprint: fp,
		})
		cat.Summary.TotalRows += m.RowCount
		cat.Summary.TotalSizeBytes += m.FileSizeBytes

		i, ok := index[name]
		if !ok {
			cols := m.Columns
			if cols == nil {
				cols = []string{}
			}
			cat.Datasets = append(cat.Datasets, Dataset{
				Dataset:      name,
				Source:       m.Source,
				Layer:        layer,
				Columns:      cols,
				ColumnCount:  m.ColumnCount,
				Separator:    m.Separator,
				Encoding:     m.Encoding,
				Partitions:   []PartitionRef{},
				DateRange:    m.DateRange,
				SourceSheet:  m.SourceSheet,
				Ficha:        m.Ficha,
				PolicyGaps:   []string{},
				fingerprints: map[string]bool{},
			})
			i = len(cat.Datasets) - 1
			index[name] = i
		}

		ds := &cat.Datasets[i]
		ds.Partitions = append(ds.Partitions, PartitionRef{
			Cut:           m.Cut,
			PartitionPath: relDir,
			RowCount:      m.RowCount,
			FileSizeMB:    round(float64(m.FileSizeBytes)/mib, 2),
			ExtractedAt:   m.ExtractedAt,
		})
		ds.TotalRows += m.RowCount
		ds.TotalSizeBytes += m.FileSizeBytes
		ds.fingerprints[fp] = true
		ds.headers = append(ds.headers, m.Columns)
	}

	headers := make(map[string][][]string, len(cat.Datasets))
	for i := range cat.Datasets {
		ds := &cat.Datasets[i]
		ds.TotalSizeMB = round(float64(ds.TotalSizeBytes)/mib, 2)
		ds.SchemaDrift = len(ds.fingerprints) > 1
		headers[ds.Dataset] = ds.headers
	}
	for _, g := range policy.Reconcile(policies, headers) {
		if i, ok := index[g.Dataset]; ok {
			cat.Datasets[i].PolicyGaps = g.Columns
		}
	}

	cat.Summary.TotalDatasets = len(cat.Datasets)
	cat.Summary.TotalPartitions = len(cat.Partitions)
	cat.Summary.TotalSizeGB = round(float64(cat.Summary.TotalSizeBytes)/gib, 3)
	return cat, nil
}

// Write stores the catalog at path.
func Write(path string, c Catalog) error {
	return jsonfile.Write(path, c)
}

// Read loads a catalog written by Write.
func Read(path string) (Catalog, error) {
	var c Catalog
	err := jsonfile.Read(path, &c)
	return c, err
}

// Records converts the partitions into storage.PartitionsTable rows.
func (c Catalog) Records() [][]any {
	rows := make([][]any, 0, len(c.Partitions))
	for _, p := range c.Partitions {
		var fp any
		if p.SchemaFingerprint != "" {
			fp = p.SchemaFingerprint
		}
		rows = append(rows, []any{
			p.PartitionPath,
			p.Dataset,
			p.Layer,
			p.Cut,
			int64(p.Year),
			int64(p.Month),
			p.RowCount,
			p.FileSizeBytes,
			fp,
			c.GeneratedAt,
		})
	}
	return rows
}

// Table is the sink table Records is shaped for.
var Table = storage.PartitionsTable

func findMeta(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if !d.IsDir() && d.Name() == lake.MetaFile {
			out = append(out, p)
		}
		return nil
	})
	sort.Strings(out)
	return out, err
}

func round(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}
