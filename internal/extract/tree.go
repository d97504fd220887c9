package extract

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// PrintTree writes a directory listing of root, directories first.
func PrintTree(w io.Writer, root string) error {
	return printTree(w, root, "")
}

func printTree(w io.Writer, dir, prefix string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return entries[i].Name() < entries[j].Name()
	})

	for i, e := range entries {
		last := i == len(entries)-1
		connector, ext := "├── ", "│   "
		if last {
			connector, ext = "└── ", "    "
		}
		if _, err := fmt.Fprintf(w, "%s%s%s\n", prefix, connector, e.Name()); err != nil {
			return err
		}
		if e.IsDir() {
			if err := printTree(w, filepath.Join(dir, e.Name()), prefix+ext); err != nil {
				return err
			}
		}
	}
	return nil
}
