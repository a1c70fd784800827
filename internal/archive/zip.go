// Package archive writes and verifies the submission zip.
//
// Archives are byte-stable for a given bundle tree: entries are sorted by
// path, timestamps are pinned, and file modes are normalized. Stability is
// not required by the packaging contract but makes repeated runs comparable
// and keeps tests simple.
package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

var fixedTime = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

// WriteDir compresses the tree under dir into a zip at dest, storing paths
// relative to dir with forward slashes. Directory entries are emitted too,
// so empty directories survive the round trip. Any existing file at dest is
// overwritten.
func WriteDir(dest, dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("archive: stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("archive: %s is not a directory", dir)
	}

	files, dirs, err := collectTree(dir)
	if err != nil {
		return err
	}
	entries := make([]string, 0, len(files)+len(dirs))
	entries = append(entries, files...)
	for _, d := range dirs {
		entries = append(entries, d+"/")
	}
	sort.Strings(entries)

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("archive: create %s: %w", dest, err)
	}
	zw := zip.NewWriter(out)

	for _, name := range entries {
		if strings.HasSuffix(name, "/") {
			err = addDir(zw, name)
		} else {
			err = addFile(zw, dir, name)
		}
		if err != nil {
			_ = zw.Close()
			_ = out.Close()
			return err
		}
	}

	if err := zw.Close(); err != nil {
		_ = out.Close()
		return fmt.Errorf("archive: finalize %s: %w", dest, err)
	}
	return out.Close()
}

// addDir writes a directory entry. The trailing slash in name is what marks
// it as a directory to readers.
func addDir(zw *zip.Writer, name string) error {
	h := &zip.FileHeader{
		Name:   name,
		Method: zip.Store,
	}
	h.Modified = fixedTime
	h.SetMode(fs.ModeDir | 0o755)
	if _, err := zw.CreateHeader(h); err != nil {
		return fmt.Errorf("archive: add %s: %w", name, err)
	}
	return nil
}

func addFile(zw *zip.Writer, root, rel string) error {
	full := filepath.Join(root, rel)
	info, err := os.Stat(full)
	if err != nil {
		return fmt.Errorf("archive: stat %s: %w", full, err)
	}

	h := &zip.FileHeader{
		Name:   filepath.ToSlash(rel),
		Method: zip.Deflate,
	}
	h.Modified = fixedTime
	h.SetMode(normalizeMode(info.Mode()))

	w, err := zw.CreateHeader(h)
	if err != nil {
		return fmt.Errorf("archive: add %s: %w", rel, err)
	}
	f, err := os.Open(full)
	if err != nil {
		return fmt.Errorf("archive: open %s: %w", full, err)
	}
	_, err = io.Copy(w, f)
	_ = f.Close()
	if err != nil {
		return fmt.Errorf("archive: write %s: %w", rel, err)
	}
	return nil
}

// ExtractTo unpacks the archive into dir, which is created if needed.
// Entry paths are validated against traversal outside dir.
func ExtractTo(archivePath, dir string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("archive: open %s: %w", archivePath, err)
	}
	defer r.Close()

	for _, f := range r.File {
		dest := filepath.Join(dir, filepath.FromSlash(f.Name))
		rel, err := filepath.Rel(dir, dest)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return fmt.Errorf("archive: entry %q escapes extraction dir", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return fmt.Errorf("archive: mkdir %s: %w", dest, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("archive: mkdir for %s: %w", dest, err)
		}
		if err := extractFile(f, dest); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, dest string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("archive: open entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, normalizeMode(f.Mode()))
	if err != nil {
		return fmt.Errorf("archive: create %s: %w", dest, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		return fmt.Errorf("archive: extract %s: %w", f.Name, err)
	}
	return out.Close()
}

// CompareDirs reports the first difference between two trees, or nil when
// the directory sets match and every regular file matches byte-for-byte with
// neither side having extras.
func CompareDirs(a, b string) error {
	filesA, dirsA, err := collectTree(a)
	if err != nil {
		return err
	}
	filesB, dirsB, err := collectTree(b)
	if err != nil {
		return err
	}

	if err := compareDirSets(a, b, dirsA, dirsB); err != nil {
		return err
	}

	seen := make(map[string]bool, len(filesB))
	for _, rel := range filesB {
		seen[rel] = true
	}
	for _, rel := range filesA {
		if !seen[rel] {
			return fmt.Errorf("archive: %s present in %s but missing from %s", rel, a, b)
		}
		delete(seen, rel)
		ba, err := os.ReadFile(filepath.Join(a, rel))
		if err != nil {
			return fmt.Errorf("archive: read %s: %w", rel, err)
		}
		bb, err := os.ReadFile(filepath.Join(b, rel))
		if err != nil {
			return fmt.Errorf("archive: read %s: %w", rel, err)
		}
		if !bytes.Equal(ba, bb) {
			return fmt.Errorf("archive: %s differs between %s and %s", rel, a, b)
		}
	}
	if len(seen) > 0 {
		extras := make([]string, 0, len(seen))
		for rel := range seen {
			extras = append(extras, rel)
		}
		sort.Strings(extras)
		return fmt.Errorf("archive: %s has extra file %s", b, extras[0])
	}
	return nil
}

func compareDirSets(a, b string, dirsA, dirsB []string) error {
	seen := make(map[string]bool, len(dirsB))
	for _, rel := range dirsB {
		seen[rel] = true
	}
	for _, rel := range dirsA {
		if !seen[rel] {
			return fmt.Errorf("archive: directory %s present in %s but missing from %s", rel, a, b)
		}
		delete(seen, rel)
	}
	if len(seen) > 0 {
		extras := make([]string, 0, len(seen))
		for rel := range seen {
			extras = append(extras, rel)
		}
		sort.Strings(extras)
		return fmt.Errorf("archive: %s has extra directory %s", b, extras[0])
	}
	return nil
}

// collectTree returns sorted slash-separated paths of regular files and of
// directories under root, relative to root. Root itself is excluded.
func collectTree(root string) (files, dirs []string, err error) {
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if d.IsDir() {
			if rel != "." {
				dirs = append(dirs, filepath.ToSlash(rel))
			}
			return nil
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("archive: walk %s: %w", root, err)
	}
	sort.Strings(files)
	sort.Strings(dirs)
	return files, dirs, nil
}

func normalizeMode(mode os.FileMode) os.FileMode {
	if mode&0o111 != 0 {
		return 0o755
	}
	return 0o644
}
