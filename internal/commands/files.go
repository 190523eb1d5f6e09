package commands

import (
	"fmt"
	"path/filepath"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
)

// expandGlobs resolves each pattern with doublestar and returns the matching
// paths in sorted order without duplicates. A pattern that matches nothing
// is an error.
func expandGlobs(patterns []string) ([]string, error) {
	var paths []string
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("no files match %q", pattern)
		}
		for _, m := range matches {
			paths = append(paths, filepath.Clean(m))
		}
	}
	slices.Sort(paths)
	return slices.Compact(paths), nil
}
