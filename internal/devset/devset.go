// Package devset builds held-out evaluation files for next-character
// prediction: each sampled corpus line is split into everything-but-the-last
// character (input) and the last character (answer).
package devset

import (
	"bufio"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type Options struct {
	// DataGlob selects the corpus text files.
	DataGlob string

	// OutDir receives dev_input.txt and dev_answer.txt.
	OutDir string

	// Size is the number of examples to sample.
	Size int

	// Seed makes repeated runs reproducible.
	Seed int64

	// MinLen drops lines shorter than this many characters.
	MinLen int
}

type Result struct {
	Written    int
	InputPath  string
	AnswerPath string
}

// Build samples lines from the corpus and writes the dev pair. Unreadable
// corpus files are skipped, matching the tolerant reading of the rest of the
// toolchain; no matched files or no usable lines are errors.
func Build(opts Options) (*Result, error) {
	if opts.Size <= 0 {
		return nil, fmt.Errorf("devset: size must be positive (got %d)", opts.Size)
	}
	if opts.MinLen < 2 {
		return nil, fmt.Errorf("devset: min length must be at least 2 (got %d)", opts.MinLen)
	}

	paths, err := filepath.Glob(opts.DataGlob)
	if err != nil {
		return nil, fmt.Errorf("devset: bad glob %q: %w", opts.DataGlob, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("devset: no files matched %q", opts.DataGlob)
	}
	sort.Strings(paths)

	lines, err := loadLines(paths, opts.MinLen)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("devset: no usable lines in corpus")
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	n := opts.Size
	if n > len(lines) {
		n = len(lines)
	}
	rng.Shuffle(len(lines), func(i, j int) {
		lines[i], lines[j] = lines[j], lines[i]
	})
	sample := lines[:n]

	if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("devset: create %s: %w", opts.OutDir, err)
	}
	inPath := filepath.Join(opts.OutDir, "dev_input.txt")
	ansPath := filepath.Join(opts.OutDir, "dev_answer.txt")

	var in, ans strings.Builder
	for _, line := range sample {
		runes := []rune(line)
		in.WriteString(string(runes[:len(runes)-1]))
		in.WriteByte('\n')
		ans.WriteString(string(runes[len(runes)-1]))
		ans.WriteByte('\n')
	}
	if err := os.WriteFile(inPath, []byte(in.String()), 0o644); err != nil {
		return nil, fmt.Errorf("devset: write %s: %w", inPath, err)
	}
	if err := os.WriteFile(ansPath, []byte(ans.String()), 0o644); err != nil {
		return nil, fmt.Errorf("devset: write %s: %w", ansPath, err)
	}

	return &Result{Written: n, InputPath: inPath, AnswerPath: ansPath}, nil
}

func loadLines(paths []string, minLen int) ([]string, error) {
	var lines []string
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		sc := bufio.NewScanner(f)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			line := sc.Text()
			if len([]rune(line)) >= minLen {
				lines = append(lines, line)
			}
		}
		err = sc.Err()
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("devset: read %s: %w", path, err)
		}
	}
	return lines, nil
}
