// Package config holds the immutable run configuration shared by every lake
// command: filesystem layout, delimiter conventions, profiler settings and the
// per-dataset column policies.
//
// A Config is built once (Default, optionally overlaid by Load) and then passed
// by value. Nothing in this repository reads process-wide mutable settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// Layout names how a dataset's extracted sources map onto lake partitions.
type Layout string

const (
	// LayoutDaily stores one partition per source day file.
	LayoutDaily Layout = "daily"
	// LayoutRange concatenates every day file into a single date-range partition.
	LayoutRange Layout = "range"
	// LayoutMonthlySheet decodes one spreadsheet workbook per month.
	LayoutMonthlySheet Layout = "monthly_sheet"
)

// Config is the full run configuration.
type Config struct {
	Paths      Paths     `yaml:"paths"`
	Separator  string    `yaml:"separator" validate:"required"`
	Encoding   string    `yaml:"encoding" validate:"required"`
	LazyQuotes bool      `yaml:"lazy_quotes"`
	Source     string    `yaml:"source"`
	Profile    Profile   `yaml:"profile"`
	Datasets   []Dataset `yaml:"datasets" validate:"required,min=1,dive"`
}

// Paths is the lake filesystem layout. Relative entries resolve against Root.
type Paths struct {
	Root         string `yaml:"root"`
	DataDir      string `yaml:"data_dir" validate:"required"`
	ExtractedDir string `yaml:"extracted_dir" validate:"required"`
	LakeRoot     string `yaml:"lake_root" validate:"required"`
	RawDir       string `yaml:"raw_dir" validate:"required"`
	ProcessedDir string `yaml:"processed_dir" validate:"required"`
	AnalysisFile string `yaml:"analysis_file" validate:"required"`
	CatalogFile  string `yaml:"catalog_file" validate:"required"`
}

// Profile carries the sampling profiler knobs.
type Profile struct {
	SampleRows      int      `yaml:"sample_rows" validate:"gt=0"`
	RetainValues    int      `yaml:"retain_values" validate:"gt=0"`
	NumericWindow   int      `yaml:"numeric_window" validate:"gt=0"`
	DatetimeWindow  int      `yaml:"datetime_window" validate:"gt=0"`
	SampleValues    int      `yaml:"sample_values" validate:"gte=0"`
	NullValues      []string `yaml:"null_values"`
	DatetimeLayouts []string `yaml:"datetime_layouts" validate:"required,min=1"`
}

// Dataset declares one source dataset: where its files come from, how they are
// partitioned, and which columns the business policy keeps.
type Dataset struct {
	ID     string `yaml:"id" validate:"required"`
	Layout Layout `yaml:"layout" validate:"required,oneof=daily range monthly_sheet"`

	// SourceDir is a glob under Paths.ExtractedDir (daily/range layouts).
	SourceDir string `yaml:"source_dir"`
	// SourceGlob is a glob under Paths.DataDir (monthly_sheet layout).
	SourceGlob string `yaml:"source_glob"`
	// FilePattern must capture year, month (and day for day-file layouts).
	FilePattern string `yaml:"file_pattern" validate:"required"`

	// Input pins the analysis source; empty means the newest raw partition.
	Input string `yaml:"input"`

	// Source describes the publisher; empty falls back to Config.Source.
	Source string `yaml:"source"`

	Columns []string `yaml:"columns" validate:"required,min=1"`
}

// Default returns the stock DTPM configuration.
func Default() Config {
	return Config{
		Paths: Paths{
			Root:         ".",
			DataDir:      "data",
			ExtractedDir: filepath.Join("data", "extracted"),
			LakeRoot:     "lake",
			RawDir:       filepath.Join("lake", "raw", "dtpm"),
			ProcessedDir: filepath.Join("lake", "processed", "dtpm"),
			AnalysisFile: filepath.Join("lake", "column_analysis.json"),
			CatalogFile:  filepath.Join("lake", "lake_catalog.json"),
		},
		Separator:  "|",
		Encoding:   "utf-8",
		LazyQuotes: true,
		Source:     "DTPM - Transantiago / RED Movilidad",
		Profile: Profile{
			SampleRows:     50000,
			RetainValues:   30,
			NumericWindow:  20,
			DatetimeWindow: 10,
			SampleValues:   8,
			NullValues:     []string{"-", "", "null", "NULL", "None", "-1", "nan"},
			DatetimeLayouts: []string{
				"2006-01-02 15:04:05",
				"2006-01-02",
				"15:04:05",
			},
		},
		Datasets: []Dataset{
			{
				ID:          "viajes",
				Layout:      LayoutDaily,
				SourceDir:   "Tabla-de-viajes-*",
				FilePattern: `^(\d{4})-(\d{2})-(\d{2})\.viajes\.csv$`,
				Columns: []string{
					"tipodia", "factor_expansion", "n_etapas", "tviaje2",
					"distancia_eucl", "distancia_ruta",
					"tiempo_inicio_viaje", "mediahora_inicio_viaje_hora",
					"periodo_inicio_viaje", "tipo_transporte_1", "srv_1",
					"paradero_inicio_viaje", "paradero_fin_viaje",
					"comuna_inicio_viaje", "comuna_fin_viaje",
					"zona_inicio_viaje", "zona_fin_viaje",
					"modos", "proposito", "contrato", "id_tarjeta",
				},
			},
			{
				ID:          "etapas",
				Layout:      LayoutRange,
				SourceDir:   "Tabla-de-etapas-*",
				FilePattern: `^(\d{4})-(\d{2})-(\d{2})\.etapas\.csv$`,
				Columns: []string{
					"tipo_dia", "tipo_transporte", "fExpansionServicioPeriodoTS",
					"tiene_bajada", "tiempo_subida", "tiempo_etapa",
					"media_hora_subida", "periodoSubida",
					"x_subida", "y_subida", "x_bajada", "y_bajada",
					"dist_ruta_paraderos", "dist_eucl_paraderos",
					"servicio_subida", "parada_subida", "parada_bajada",
					"comuna_subida", "comuna_bajada",
					"zona_subida", "zona_bajada",
					"tEsperaMediaIntervalo", "contrato", "operador",
				},
			},
			{
				ID:          "subidas_30m",
				Layout:      LayoutMonthlySheet,
				SourceGlob:  "Subida_Paradero_Estacion_*",
				FilePattern: `_(\d{4})\.(\d{2})\.[A-Za-z]+$`,
				Source:      "DTPM - Subidas por paradero/estación en ventanas de 30 min",
				Columns: []string{
					"Tipo_dia", "Modo", "Paradero", "Comuna",
					"Media_hora", "Subidas_Promedio",
				},
			},
		},
	}
}

// Load reads a YAML file over Default. Keys absent from the file keep their
// default values; lists present in the file replace the defaults wholesale.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Comma returns the separator as a rune. Validate guarantees a single rune.
func (c Config) Comma() rune {
	r, _ := utf8.DecodeRuneInString(c.Separator)
	return r
}

// Dataset looks up a dataset declaration by id.
func (c Config) Dataset(id string) (Dataset, bool) {
	for _, d := range c.Datasets {
		if d.ID == id {
			return d, true
		}
	}
	return Dataset{}, false
}

// SourceOf returns the publisher description recorded for d.
func (c Config) SourceOf(d Dataset) string {
	if d.Source != "" {
		return d.Source
	}
	return c.Source
}

// Resolve joins p onto Paths.Root unless p is already absolute.
func (c Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	root := c.Paths.Root
	if root == "" {
		root = "."
	}
	return filepath.Join(root, p)
}

// DataDir and friends return resolved paths.
func (c Config) DataDir() string      { return c.Resolve(c.Paths.DataDir) }
func (c Config) ExtractedDir() string { return c.Resolve(c.Paths.ExtractedDir) }
func (c Config) LakeRoot() string     { return c.Resolve(c.Paths.LakeRoot) }
func (c Config) RawDir() string       { return c.Resolve(c.Paths.RawDir) }
func (c Config) ProcessedDir() string { return c.Resolve(c.Paths.ProcessedDir) }
func (c Config) AnalysisFile() string { return c.Resolve(c.Paths.AnalysisFile) }
func (c Config) CatalogFile() string  { return c.Resolve(c.Paths.CatalogFile) }

// WithRoot returns a copy of c rooted at root.
func (c Config) WithRoot(root string) Config {
	c.Paths.Root = root
	return c
}

// Only returns a copy of c restricted to the named datasets, in config order.
// An empty ids list returns c unchanged.
func (c Config) Only(ids ...string) Config {
	if len(ids) == 0 {
		return c
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := make([]Dataset, 0, len(ids))
	for _, d := range c.Datasets {
		if want[d.ID] {
			out = append(out, d)
		}
	}
	c.Datasets = out
	return c
}
