package pipeline

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/dgallion1/pageindex/internal/parser"
)

// Filter selects files by doublestar patterns matched against the path
// relative to the walked root, or the base name for single files.
type Filter struct {
	Include []string
	Exclude []string
}

// Match reports whether rel passes the filter and has a supported extension.
func (f Filter) Match(rel string) bool {
	if !parser.IsSupportedExtension(rel) {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, p := range f.Exclude {
		if ok, _ := doublestar.Match(p, rel); ok {
			return false
		}
	}
	if len(f.Include) == 0 {
		return true
	}
	for _, p := range f.Include {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// Validate rejects malformed patterns.
func (f Filter) Validate() error {
	for _, p := range append(append([]string{}, f.Include...), f.Exclude...) {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid glob pattern %q", p)
		}
	}
	return nil
}

// CollectFiles expands args (files, directories or glob patterns) into a
// sorted, de-duplicated list of indexable files. Hidden directories are
// skipped.
func CollectFiles(args []string, f Filter) ([]string, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}

	for _, arg := range args {
		info, err := os.Stat(arg)
		switch {
		case err == nil && info.IsDir():
			if err := walkDir(arg, f, add); err != nil {
				return nil, err
			}
		case err == nil:
			if f.Match(filepath.Base(arg)) {
				add(arg)
			}
		case strings.ContainsAny(arg, "*?[{"):
			matches, gerr := doublestar.FilepathGlob(arg, doublestar.WithFilesOnly())
			if gerr != nil {
				return nil, fmt.Errorf("glob %s: %w", arg, gerr)
			}
			for _, m := range matches {
				if f.Match(filepath.Base(m)) {
					add(m)
				}
			}
		default:
			return nil, fmt.Errorf("%s: %w", arg, err)
		}
	}
	sort.Strings(out)
	return out, nil
}

func walkDir(root string, f Filter, add func(string)) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if f.Match(rel) {
			add(path)
		}
		return nil
	})
}
