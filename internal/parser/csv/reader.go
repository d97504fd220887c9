// Package csv reads the delimiter-separated exports that feed the lake.
//
// It wraps encoding/csv with the header conventions of the DTPM files: a UTF-8
// BOM may precede the first name, a dangling trailing delimiter produces one
// empty header field that is not a column, and sources may arrive in a legacy
// single-byte charset.
package csv

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

var (
	// ErrMalformed marks a structural parse failure (quoting or delimiter
	// inconsistency). It wraps the underlying *csv.ParseError.
	ErrMalformed = errors.New("malformed delimited source")
	// ErrEmptyHeader is returned for an empty header name anywhere other than
	// the trailing position.
	ErrEmptyHeader = errors.New("empty header name")
	// ErrDuplicateColumn is returned when a header name repeats.
	ErrDuplicateColumn = errors.New("duplicate header name")
)

// Options controls how a source is decoded.
type Options struct {
	// Comma is the field delimiter. Zero means '|'.
	Comma rune
	// Encoding is a WHATWG/IANA charset label. Empty or "utf-8" means no
	// transcoding.
	Encoding string
	// LazyQuotes accepts bare quotes inside unquoted fields as literal text.
	LazyQuotes bool
}

func (o Options) comma() rune {
	if o.Comma == 0 {
		return '|'
	}
	return o.Comma
}

// Reader yields records after the header has been consumed.
type Reader struct {
	cr     *csv.Reader
	header []string
	width  int
	line   int
}

// NewReader wraps src and reads its header row. An empty source returns io.EOF.
func NewReader(src io.Reader, opt Options) (*Reader, error) {
	in, err := decode(src, opt.Encoding)
	if err != nil {
		return nil, err
	}

	cr := csv.NewReader(in)
	cr.Comma = opt.comma()
	cr.LazyQuotes = opt.LazyQuotes
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	r := &Reader{cr: cr}

	raw, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, malformed(err)
	}
	header, err := cleanHeader(raw)
	if err != nil {
		return nil, err
	}
	r.header = header
	r.width = len(raw)
	r.line, _ = cr.FieldPos(0)
	return r, nil
}

// Header returns the column names, without the dangling trailing field.
func (r *Reader) Header() []string { return r.header }

// Width is the raw header field count, including a dangling trailing field.
func (r *Reader) Width() int { return r.width }

// Line is the source line of the most recently returned record.
func (r *Reader) Line() int { return r.line }

// Read returns the next record, or io.EOF. The returned slice is reused by the
// next call; string values may be retained.
func (r *Reader) Read() ([]string, error) {
	rec, err := r.cr.Read()
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, malformed(err)
	}
	r.line, _ = r.cr.FieldPos(0)
	return rec, nil
}

// Aligned reports whether rec has exactly as many fields as the header, either
// counting or not counting a dangling trailing delimiter. A field under the
// dangling header position must be empty.
func (r *Reader) Aligned(rec []string) bool {
	switch len(rec) {
	case len(r.header):
		return true
	case r.width:
		for _, v := range rec[len(r.header):] {
			if v != "" {
				return false
			}
		}
		return true
	}
	return false
}

// Index maps each header name to its field position.
func (r *Reader) Index() map[string]int {
	ix := make(map[string]int, len(r.header))
	for i, h := range r.header {
		ix[h] = i
	}
	return ix
}

func cleanHeader(raw []string) ([]string, error) {
	out := make([]string, len(raw))
	copy(out, raw)
	if len(out) > 0 {
		out[0] = strings.TrimPrefix(out[0], "\uFEFF")
	}
	if n := len(out); n > 1 && out[n-1] == "" {
		out = out[:n-1]
	}

	seen := make(map[string]int, len(out))
	for i, h := range out {
		if h == "" {
			return nil, fmt.Errorf("%w at position %d", ErrEmptyHeader, i+1)
		}
		if prev, dup := seen[h]; dup {
			return nil, fmt.Errorf("%w %q at positions %d and %d", ErrDuplicateColumn, h, prev+1, i+1)
		}
		seen[h] = i
	}
	return out, nil
}

func malformed(err error) error {
	return fmt.Errorf("%w: %w", ErrMalformed, err)
}

// decode wraps src in a charset decoder when enc names a non-UTF-8 encoding.
func decode(src io.Reader, enc string) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(enc)) {
	case "", "utf-8", "utf8":
		return src, nil
	}
	e, err := htmlindex.Get(enc)
	if err != nil {
		return nil, fmt.Errorf("unsupported encoding %q: %w", enc, err)
	}
	return transform.NewReader(src, e.NewDecoder()), nil
}

// CountLines returns the number of physical lines in src. A final line
// without a trailing newline still counts.
func CountLines(src io.Reader) (int64, error) {
	buf := make([]byte, 64*1024)
	var (
		n    int64
		last byte = '\n'
		seen bool
	)
	for {
		k, err := src.Read(buf)
		if k > 0 {
			seen = true
			n += int64(bytes.Count(buf[:k], []byte{'\n'}))
			last = buf[k-1]
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
	}
	if seen && last != '\n' {
		n++
	}
	return n, nil
}
