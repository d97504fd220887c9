package lake

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Workbook is a decoded spreadsheet.
type Workbook interface {
	// Sheets lists sheet names in workbook order.
	Sheets() []string
	// EachRow calls fn for every row of sheet, top to bottom. Cells are
	// rendered as text; trailing empty cells may be omitted.
	EachRow(sheet string, fn func(cells []string) error) error
	Close() error
}

// Decoder opens a workbook file.
type Decoder func(path string) (Workbook, error)

// Decoders maps a lower-case file extension (".xlsx") to its decoder.
type Decoders map[string]Decoder

// DefaultDecoders handles the Office Open XML formats.
func DefaultDecoders() Decoders {
	return Decoders{
		".xlsx": openExcel,
		".xlsm": openExcel,
	}
}

// Open picks a decoder by the extension of path.
func (d Decoders) Open(path string) (Workbook, error) {
	ext := strings.ToLower(filepath.Ext(path))
	dec, ok := d[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %q (%s); supported: %s. Convert the workbook to .xlsx (for example `libreoffice --headless --convert-to xlsx %s`) and rerun",
			ErrDecoderUnavailable, ext, filepath.Base(path), strings.Join(d.extensions(), ", "), filepath.Base(path))
	}
	return dec(path)
}

func (d Decoders) extensions() []string {
	out := make([]string, 0, len(d))
	for ext := range d {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

type excelBook struct {
	f *excelize.File
}

func openExcel(path string) (Workbook, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	return &excelBook{f: f}, nil
}

func (b *excelBook) Sheets() []string { return b.f.GetSheetList() }

// EachRow streams rows so month-sized sheets are not loaded at once.
func (b *excelBook) EachRow(sheet string, fn func(cells []string) error) error {
	rows, err := b.f.Rows(sheet)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		cells, err := rows.Columns()
		if err != nil {
			return err
		}
		if err := fn(cells); err != nil {
			return err
		}
	}
	return rows.Error()
}

func (b *excelBook) Close() error { return b.f.Close() }
