package infer

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// writeScript writes an executable shell script and returns its path.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("predictor scripts require a POSIX shell")
	}
}

// argParser is the shell fragment that extracts the three path arguments
// the runner appends after the mode selector.
const argParser = `
mode="$1"; shift
while [ $# -gt 0 ]; do
  case "$1" in
    --work_dir) work="$2"; shift 2 ;;
    --test_data) data="$2"; shift 2 ;;
    --test_output) out="$2"; shift 2 ;;
    *) shift ;;
  esac
done
`

func TestPredict_PassesPathsAndWritesOutput(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	script := writeScript(t, dir, "predictor.sh", argParser+`
[ "$mode" = "test" ] || exit 9
printf '%s\n%s\n' "$work" "$data" > "$out"
echo "ran fine"
`)

	out := filepath.Join(dir, "pred.txt")
	r := &Runner{Command: []string{script}}
	res, err := r.Predict(context.Background(), "/tmp/work", "/tmp/input.txt", out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("expected exit 0, got %d (stderr: %s)", res.ExitCode, res.Stderr)
	}
	if !strings.Contains(string(res.Stdout), "ran fine") {
		t.Fatalf("expected stdout captured, got %q", res.Stdout)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(data) != "/tmp/work\n/tmp/input.txt\n" {
		t.Fatalf("unexpected output: %q", data)
	}
}

func TestPredict_NonZeroExitIsNotAnError(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	script := writeScript(t, dir, "failing.sh", `echo "no model" >&2; exit 7`)

	r := &Runner{Command: []string{script}}
	res, err := r.Predict(context.Background(), "w", "d", filepath.Join(dir, "out"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ExitCode != 7 {
		t.Fatalf("expected exit 7, got %d", res.ExitCode)
	}
	if !strings.Contains(string(res.Stderr), "no model") {
		t.Fatalf("expected stderr captured, got %q", res.Stderr)
	}
}

func TestPredict_MissingProgramFailsToStart(t *testing.T) {
	r := &Runner{Command: []string{"/nonexistent/predictor-binary"}}
	_, err := r.Predict(context.Background(), "w", "d", "o")
	if err == nil {
		t.Fatalf("expected start error")
	}
}

func TestPredict_EmptyCommandRejected(t *testing.T) {
	r := &Runner{}
	_, err := r.Predict(context.Background(), "w", "d", "o")
	if err == nil {
		t.Fatalf("expected error for empty command")
	}
}

func TestPredict_CancellationKillsChild(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	script := writeScript(t, dir, "slow.sh", `sleep 30`)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	r := &Runner{Command: []string{script}}
	start := time.Now()
	_, err := r.Predict(ctx, "w", "d", filepath.Join(dir, "out"))
	if err == nil {
		t.Fatalf("expected cancellation error")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("cancellation took too long: %v", elapsed)
	}
}

func TestPredict_RunsInConfiguredDir(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	writeScript(t, dir, "here.sh", `pwd > out.txt`)

	r := &Runner{Command: []string{"./here.sh"}, Dir: dir}
	res, err := r.Predict(context.Background(), "w", "d", "o")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("expected exit 0, got %d", res.ExitCode)
	}
	data, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	if err != nil {
		t.Fatalf("read out.txt: %v", err)
	}
	got, err := filepath.EvalSymlinks(strings.TrimSpace(string(data)))
	if err != nil {
		t.Fatalf("resolve pwd: %v", err)
	}
	want, err := filepath.EvalSymlinks(dir)
	if err != nil {
		t.Fatalf("resolve dir: %v", err)
	}
	if got != want {
		t.Fatalf("ran in %s, want %s", got, want)
	}
}
