package transformer

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HashSpec describes how a list of fields is canonicalized before hashing.
type HashSpec struct {
	// Separator between components. Empty means ASCII Unit Separator (0x1f).
	Separator string
	// TrimSpace trims each component before hashing.
	TrimSpace bool
	// Prefix is written before the first component, to namespace hashes.
	Prefix string
}

// DefaultSchemaSpec is used for header fingerprints.
var DefaultSchemaSpec = HashSpec{Prefix: "schema:v1"}

// Hash returns the lowercase hex SHA-256 of the canonical form of fields.
func (s HashSpec) Hash(fields []string) string {
	sep := s.Separator
	if sep == "" {
		sep = "\x1f"
	}

	var b strings.Builder
	if s.Prefix != "" {
		b.WriteString(s.Prefix)
		b.WriteString(sep)
	}
	for i, f := range fields {
		if i > 0 {
			b.WriteString(sep)
		}
		if s.TrimSpace {
			f = strings.TrimSpace(f)
		}
		b.WriteString(f)
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Fingerprint identifies a header layout. Two sources share a fingerprint
// exactly when they have the same column names in the same order.
func Fingerprint(header []string) string {
	return DefaultSchemaSpec.Hash(header)
}
