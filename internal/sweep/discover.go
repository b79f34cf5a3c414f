// Package sweep finds region containers under a set of roots and prunes them
// with a bounded pool of workers.
package sweep

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/anvilprune/anvilprune/internal/config"
	"github.com/anvilprune/anvilprune/internal/region"
)

// DefaultExcludeDirs holds directories whose containers share the region
// naming but not the chunk layout.
var DefaultExcludeDirs = []string{"entities", "poi"}

// Discover returns every container file under roots, sorted and without
// duplicates. A root may be a directory, searched recursively, or a single
// container file. Directories below a root whose name matches excludeDirs
// (case-insensitively) are skipped. A root that does not exist is a
// *config.FatalConfigError.
func Discover(roots, excludeDirs []string) ([]string, error) {
	var paths []string
	for _, root := range roots {
		info, err := os.Stat(root)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, config.Fatalf("path", "%s does not exist", root)
			}
			return nil, &config.FatalConfigError{Field: "path", Err: err}
		}
		if !info.IsDir() {
			if !region.IsContainerName(root) {
				return nil, config.Fatalf("path", "%s is not a region container (.mca)", root)
			}
			paths = append(paths, filepath.Clean(root))
			continue
		}

		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != root && excluded(d.Name(), excludeDirs) {
					return filepath.SkipDir
				}
				return nil
			}
			if d.Type().IsRegular() && region.IsContainerName(d.Name()) {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, &config.FatalConfigError{Field: "path", Err: err}
		}
	}

	slices.Sort(paths)
	return slices.Compact(paths), nil
}

func excluded(name string, dirs []string) bool {
	for _, d := range dirs {
		if strings.EqualFold(name, d) {
			return true
		}
	}
	return false
}
