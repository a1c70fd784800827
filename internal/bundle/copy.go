package bundle

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// CopyFile copies src to dest, preserving the source's executable bit.
func CopyFile(dest, src string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("bundle: stat %s: %w", src, err)
	}
	if info.IsDir() {
		return fmt.Errorf("bundle: %s is a directory, expected a file", src)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("bundle: open %s: %w", src, err)
	}
	defer in.Close()

	mode := os.FileMode(0o644)
	if info.Mode()&0o111 != 0 {
		mode = 0o755
	}
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return fmt.Errorf("bundle: create %s: %w", dest, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("bundle: copy %s: %w", src, err)
	}
	return out.Close()
}

// TreeFilter decides what a tree copy leaves out. Both predicates receive a
// base name, not a path; a nil predicate excludes nothing.
type TreeFilter struct {
	SkipDir  func(name string) bool
	SkipFile func(name string) bool
}

// PruneFilter excludes directories by exact name and files by extension,
// matching anywhere in the tree.
func PruneFilter(dirs, exts []string) TreeFilter {
	dirSet := make(map[string]bool, len(dirs))
	for _, d := range dirs {
		dirSet[d] = true
	}
	return TreeFilter{
		SkipDir: func(name string) bool { return dirSet[name] },
		SkipFile: func(name string) bool {
			ext := strings.ToLower(filepath.Ext(name))
			for _, e := range exts {
				if ext == strings.ToLower(e) {
					return true
				}
			}
			return false
		},
	}
}

// CopyTree recursively copies the directory src to dest, applying filter.
// Filtering during the copy produces the same tree as copying everything and
// pruning afterwards, without the intermediate writes.
func CopyTree(dest, src string, filter TreeFilter) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("bundle: stat %s: %w", src, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("bundle: %s is not a directory", src)
	}

	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if d.IsDir() {
			if rel != "." && filter.SkipDir != nil && filter.SkipDir(d.Name()) {
				return fs.SkipDir
			}
			return os.MkdirAll(target, 0o755)
		}
		if filter.SkipFile != nil && filter.SkipFile(d.Name()) {
			return nil
		}
		return CopyFile(target, path)
	})
}
