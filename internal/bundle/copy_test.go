package bundle

import (
	"os"
	"path/filepath"
	"testing"
)

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestCopyTree_PrunesCacheDirsAndBytecode(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	mustWrite(t, filepath.Join(src, "main.py"), "print('hi')\n")
	mustWrite(t, filepath.Join(src, "lm", "model.py"), "pass\n")
	mustWrite(t, filepath.Join(src, "lm", "model.pyc"), "\x00")
	mustWrite(t, filepath.Join(src, "__pycache__", "main.cpython-311.pyc"), "\x00")
	mustWrite(t, filepath.Join(src, "lm", "__pycache__", "model.cpython-311.pyc"), "\x00")

	dest := filepath.Join(dir, "out")
	filter := PruneFilter([]string{"__pycache__"}, []string{".pyc"})
	if err := CopyTree(dest, src, filter); err != nil {
		t.Fatalf("copy tree: %v", err)
	}

	for _, want := range []string{"main.py", filepath.Join("lm", "model.py")} {
		if _, err := os.Stat(filepath.Join(dest, want)); err != nil {
			t.Fatalf("expected %s copied: %v", want, err)
		}
	}
	for _, banned := range []string{
		"__pycache__",
		filepath.Join("lm", "__pycache__"),
		filepath.Join("lm", "model.pyc"),
	} {
		if _, err := os.Stat(filepath.Join(dest, banned)); !os.IsNotExist(err) {
			t.Fatalf("expected %s pruned, stat err=%v", banned, err)
		}
	}
}

func TestCopyTree_PreservesExecutableBit(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	if err := os.MkdirAll(src, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	script := filepath.Join(src, "run.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	dest := filepath.Join(dir, "out")
	if err := CopyTree(dest, src, TreeFilter{}); err != nil {
		t.Fatalf("copy tree: %v", err)
	}
	info, err := os.Stat(filepath.Join(dest, "run.sh"))
	if err != nil {
		t.Fatalf("stat copy: %v", err)
	}
	if info.Mode()&0o111 == 0 {
		t.Fatalf("expected executable bit preserved, mode %v", info.Mode())
	}
}

func TestCopyTree_MissingSourceFails(t *testing.T) {
	dir := t.TempDir()
	err := CopyTree(filepath.Join(dir, "out"), filepath.Join(dir, "absent"), TreeFilter{})
	if err == nil {
		t.Fatalf("expected error for missing source")
	}
}

func TestReset_RemovesPriorArtifactsAndIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	bundleDir := filepath.Join(dir, "submit")
	archivePath := filepath.Join(dir, "submit.zip")
	mustWrite(t, filepath.Join(bundleDir, "stale.txt"), "stale")
	mustWrite(t, archivePath, "old archive")

	if err := Reset(bundleDir, archivePath); err != nil {
		t.Fatalf("reset: %v", err)
	}
	entries, err := os.ReadDir(bundleDir)
	if err != nil {
		t.Fatalf("read bundle dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty bundle dir, found %d entries", len(entries))
	}
	if _, err := os.Stat(archivePath); !os.IsNotExist(err) {
		t.Fatalf("expected archive removed, stat err=%v", err)
	}

	// Nothing to remove the second time.
	if err := Reset(bundleDir, archivePath); err != nil {
		t.Fatalf("second reset: %v", err)
	}
}

func TestReset_RefusesDangerousPaths(t *testing.T) {
	for _, p := range []string{"", ".", "/"} {
		if err := Reset(p, ""); err == nil {
			t.Fatalf("expected refusal for %q", p)
		}
	}
}
