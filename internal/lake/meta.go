package lake

import (
	"fmt"
	"path/filepath"
	"strconv"

	"transitlake/internal/jsonfile"
)

// MetaFile is the per-partition metadata file name.
const MetaFile = "_meta.json"

// DateRange is the inclusive day span of a range partition.
type DateRange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Ficha is the ordered key/value sheet that accompanies monthly workbooks.
type Ficha []jsonfile.Field[string]

func (f Ficha) MarshalJSON() ([]byte, error) {
	return jsonfile.MarshalObject([]jsonfile.Field[string](f))
}

func (f *Ficha) UnmarshalJSON(b []byte) error {
	fields, err := jsonfile.UnmarshalObject[string](b)
	if err != nil {
		return err
	}
	*f = fields
	return nil
}

// Set stores value under key, replacing an earlier value in place.
func (f *Ficha) Set(key, value string) {
	for i := range *f {
		if (*f)[i].Key == key {
			(*f)[i].Value = value
			return
		}
	}
	*f = append(*f, jsonfile.Field[string]{Key: key, Value: value})
}

// PartitionMeta is the content of a partition's _meta.json. Field order is
// the serialized key order.
type PartitionMeta struct {
	Dataset       string   `json:"dataset"`
	Source        string   `json:"source"`
	Cut           string   `json:"cut"`
	Year          int      `json:"year"`
	Month         int      `json:"month"`
	Separator     string   `json:"separator"`
	Encoding      string   `json:"encoding"`
	Columns       []string `json:"columns"`
	ColumnCount   int      `json:"column_count"`
	RowCount      int64    `json:"row_count"`
	FileSizeBytes int64    `json:"file_size_bytes"`

	SourceFile  string     `json:"source_file,omitempty"`
	SourceFiles []string   `json:"source_files,omitempty"`
	DateRange   *DateRange `json:"date_range,omitempty"`
	SourceSheet string     `json:"source_sheet,omitempty"`
	Ficha       Ficha      `json:"ficha,omitempty"`

	SchemaFingerprint string `json:"schema_fingerprint"`
	ExtractedAt       string `json:"extracted_at"`
}

// PartitionDir returns <raw>/dataset=<id>/year=YYYY/month=MM/cut=<cut>.
func PartitionDir(raw, dataset string, year, month int, cut string) string {
	return filepath.Join(raw,
		"dataset="+dataset,
		fmt.Sprintf("year=%04d", year),
		fmt.Sprintf("month=%02d", month),
		"cut="+cut,
	)
}

// DataFile returns the data file path inside a partition directory.
func DataFile(dir, dataset string) string {
	return filepath.Join(dir, dataset+".csv")
}

// WriteMeta writes m to dir/_meta.json.
func WriteMeta(dir string, m PartitionMeta) error {
	if m.Columns == nil {
		m.Columns = []string{}
	}
	return jsonfile.Write(filepath.Join(dir, MetaFile), m)
}

// ReadMeta decodes a _meta.json file.
func ReadMeta(path string) (PartitionMeta, error) {
	var m PartitionMeta
	if err := jsonfile.Read(path, &m); err != nil {
		return PartitionMeta{}, err
	}
	return m, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
