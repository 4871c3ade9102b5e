// Package discover recursively enumerates the JSONL files beneath the
// configured root and derives each file's category from its name.
package discover

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// File describes one discovered input file.
type File struct {
	Path     string // absolute path
	Name     string // base name
	Category string // leading underscore-delimited token, or "unknown"
}

// Discover walks root recursively and returns every *.json file found,
// sorted by path for deterministic processing order. A root that exists but
// contains no matching files returns an empty, non-error result (end-to-end
// scenario: empty corpus).
func Discover(root string, logger *slog.Logger) ([]File, error) {
	var files []File

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("discover: walk %q: %w", path, err)
		}
		if d.IsDir() {
			return nil
		}
		if strings.ToLower(filepath.Ext(d.Name())) != ".json" {
			return nil
		}

		abs, absErr := filepath.Abs(path)
		if absErr != nil {
			abs = path
		}

		category := categoryOf(d.Name())
		if category == "unknown" && logger != nil {
			logger.Warn("file name has no underscore-delimited category token, defaulting to unknown", "file", d.Name())
		}

		files = append(files, File{
			Path:     abs,
			Name:     d.Name(),
			Category: category,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// categoryOf derives a category from the leading underscore-delimited token
// of the file name (e.g. "bandi_2024.json" -> "bandi"). Per the open
// question resolution, a file name with no underscore is fragile to treat
// as a category and is assigned "unknown" instead.
func categoryOf(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	idx := strings.Index(base, "_")
	if idx <= 0 {
		return "unknown"
	}
	return base[:idx]
}
