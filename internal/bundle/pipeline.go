// Package bundle assembles the submission: it stages the roster,
// predictions, container definition, source tree, and model working
// directory under one output directory, then archives it.
package bundle

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"submitpack/internal/archive"
	"submitpack/internal/config"
	"submitpack/internal/infer"
	"submitpack/internal/trace"
)

// Stage names the pipeline's sequential steps, in execution order.
type Stage string

const (
	StageReset     Stage = "reset"
	StagePreflight Stage = "preflight"
	StageRoster    Stage = "roster"
	StageInference Stage = "inference"
	StageAssemble  Stage = "assemble"
	StageArchive   Stage = "archive"
)

// StageError marks which stage broke the run and which process exit code
// the failure maps to.
type StageError struct {
	Stage    Stage
	ExitCode int
	Err      error
}

func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// InferenceRunner abstracts the external predictor so tests can substitute
// scripted stand-ins.
type InferenceRunner interface {
	Predict(ctx context.Context, workDir, testData, outPath string) (*infer.Result, error)
}

// Pipeline executes the packaging stages strictly in order, failing fast.
// There is exactly one writer (this process) and no concurrency: every stage
// blocks until complete.
type Pipeline struct {
	Config *config.Config
	Logger *slog.Logger
	Infer  InferenceRunner
	Trace  trace.Sink
	RunID  string

	// Defaulted by Run so stages never see a nil logger or sink.
	log  *slog.Logger
	sink trace.Sink
}

// Result summarizes a finished (or aborted) run.
type Result struct {
	RunID             string
	RosterPlaceholder bool
	CheckpointSHA256  string
	ArchiveBytes      int64
	Predictions       int
	FailedStage       Stage
	ExitCode          int
}

// Run drives all stages. On failure it returns both a partially filled
// Result (FailedStage and ExitCode set) and a *StageError; the bundle
// directory is left as-is, since the next invocation resets it anyway.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	if p.Config == nil {
		return nil, fmt.Errorf("bundle: config is required")
	}
	if p.Infer == nil {
		return nil, fmt.Errorf("bundle: inference runner is required")
	}
	p.log = p.Logger
	if p.log == nil {
		p.log = slog.Default()
	}
	p.sink = p.Trace
	if p.sink == nil {
		p.sink = trace.NopSink{}
	}
	res := &Result{RunID: p.RunID}

	stages := []struct {
		name Stage
		run  func(context.Context, *Result) *StageError
	}{
		{StageReset, p.reset},
		{StagePreflight, p.preflight},
		{StageRoster, p.roster},
		{StageInference, p.inference},
		{StageAssemble, p.assemble},
		{StageArchive, p.archive},
	}
	for i, st := range stages {
		remaining := func() []Stage {
			rest := make([]Stage, 0, len(stages)-i-1)
			for _, s := range stages[i+1:] {
				rest = append(rest, s.name)
			}
			return rest
		}
		if err := ctx.Err(); err != nil {
			return p.failed(res, &StageError{Stage: st.name, ExitCode: 1, Err: err}, remaining())
		}
		p.log.Info("stage started", "stage", string(st.name), "run_id", p.RunID)
		if serr := st.run(ctx, res); serr != nil {
			return p.failed(res, serr, remaining())
		}
		p.sink.Record(trace.Event{Kind: trace.EventStageCompleted, Stage: string(st.name)})
		p.log.Info("stage completed", "stage", string(st.name), "run_id", p.RunID)
	}
	res.ExitCode = 0
	return res, nil
}

// failed finalizes the result and closes out the trace: the failing stage
// plus a skip event for every stage that was never reached.
func (p *Pipeline) failed(res *Result, serr *StageError, skipped []Stage) (*Result, error) {
	res.FailedStage = serr.Stage
	res.ExitCode = serr.ExitCode
	p.sink.Record(trace.Event{Kind: trace.EventStageFailed, Stage: string(serr.Stage)})
	for _, st := range skipped {
		p.sink.Record(trace.Event{Kind: trace.EventStageSkipped, Stage: string(st)})
	}
	p.log.Error("stage failed", "stage", string(serr.Stage), "error", serr.Err)
	return res, serr
}

func (p *Pipeline) reset(ctx context.Context, res *Result) *StageError {
	if err := Reset(p.Config.Bundle.Dir, p.Config.Bundle.Archive); err != nil {
		return &StageError{Stage: StageReset, ExitCode: 1, Err: err}
	}
	return nil
}

// preflight enforces the checkpoint precondition before any copying or
// inference happens. Reset has already run by design: a failed preflight
// leaves an empty bundle directory behind, never stale artifacts.
func (p *Pipeline) preflight(ctx context.Context, res *Result) *StageError {
	ckpt := p.Config.CheckpointPath()
	sum, err := fileSHA256(ckpt)
	if err != nil {
		if os.IsNotExist(err) {
			return &StageError{
				Stage:    StagePreflight,
				ExitCode: 1,
				Err:      fmt.Errorf("checkpoint %s not found; train a model into %s first", ckpt, p.Config.Work.Dir),
			}
		}
		return &StageError{Stage: StagePreflight, ExitCode: 1, Err: fmt.Errorf("checkpoint %s: %w", ckpt, err)}
	}
	res.CheckpointSHA256 = sum
	return nil
}

func (p *Pipeline) roster(ctx context.Context, res *Result) *StageError {
	placeholder, err := MaterializeRoster(p.Config.Roster.Source, p.Config.RosterDest())
	if err != nil {
		return &StageError{Stage: StageRoster, ExitCode: 1, Err: err}
	}
	res.RosterPlaceholder = placeholder
	if placeholder {
		p.log.Warn("roster file missing, using placeholder", "source", p.Config.Roster.Source)
		p.sink.Record(trace.Event{Kind: trace.EventRosterPlaceholder, Stage: string(StageRoster)})
	}
	return nil
}

func (p *Pipeline) inference(ctx context.Context, res *Result) *StageError {
	cfg := p.Config
	out := cfg.PredictionsPath()
	ir, err := p.Infer.Predict(ctx, cfg.Work.Dir, cfg.Infer.TestData, out)
	if err != nil {
		return &StageError{Stage: StageInference, ExitCode: 1, Err: err}
	}
	log := p.log
	if len(ir.Stdout) > 0 {
		log.Debug("predictor stdout", "output", string(ir.Stdout))
	}
	if ir.ExitCode != 0 {
		if len(ir.Stderr) > 0 {
			log.Error("predictor stderr", "output", string(ir.Stderr))
		}
		code := ir.ExitCode
		if code <= 0 {
			code = 1
		}
		return &StageError{
			Stage:    StageInference,
			ExitCode: code,
			Err:      fmt.Errorf("predictor exited with status %d", ir.ExitCode),
		}
	}

	n, serr := p.checkPredictions(out, log)
	if serr != nil {
		return serr
	}
	res.Predictions = n
	return nil
}

// checkPredictions verifies the predictor kept its side of the contract.
// A missing or empty output file is fatal; a prediction count that differs
// from the input line count only warns, preserving the original tool's
// permissiveness about content.
func (p *Pipeline) checkPredictions(out string, log *slog.Logger) (int, *StageError) {
	data, err := os.ReadFile(out)
	if err != nil {
		return 0, &StageError{Stage: StageInference, ExitCode: 1,
			Err: fmt.Errorf("predictor reported success but %s is unreadable: %w", out, err)}
	}
	n := countLines(data)
	if n == 0 {
		return 0, &StageError{Stage: StageInference, ExitCode: 1,
			Err: fmt.Errorf("predictor wrote no predictions to %s", out)}
	}
	if in, err := os.ReadFile(p.Config.Infer.TestData); err == nil {
		if want := countLines(in); want != n {
			log.Warn("prediction count differs from input line count",
				"predictions", n, "inputs", want)
		}
	}
	return n, nil
}

func (p *Pipeline) assemble(ctx context.Context, res *Result) *StageError {
	cfg := p.Config

	dest := filepath.Join(cfg.Bundle.Dir, filepath.Base(cfg.Container.File))
	if err := CopyFile(dest, cfg.Container.File); err != nil {
		return &StageError{Stage: StageAssemble, ExitCode: 1, Err: err}
	}

	filter := PruneFilter(cfg.Prune.Dirs, cfg.Prune.Exts)
	if err := CopyTree(filepath.Join(cfg.Bundle.Dir, "src"), cfg.Source.Dir, filter); err != nil {
		return &StageError{Stage: StageAssemble, ExitCode: 1, Err: err}
	}

	if err := CopyTree(filepath.Join(cfg.Bundle.Dir, "work"), cfg.Work.Dir, TreeFilter{}); err != nil {
		return &StageError{Stage: StageAssemble, ExitCode: 1, Err: err}
	}
	return nil
}

func (p *Pipeline) archive(ctx context.Context, res *Result) *StageError {
	cfg := p.Config
	if err := archive.WriteDir(cfg.Bundle.Archive, cfg.Bundle.Dir); err != nil {
		return &StageError{Stage: StageArchive, ExitCode: 1, Err: err}
	}
	info, err := os.Stat(cfg.Bundle.Archive)
	if err != nil {
		return &StageError{Stage: StageArchive, ExitCode: 1, Err: fmt.Errorf("stat %s: %w", cfg.Bundle.Archive, err)}
	}
	res.ArchiveBytes = info.Size()
	return nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func countLines(data []byte) int {
	data = bytes.TrimSuffix(data, []byte("\n"))
	if len(data) == 0 {
		return 0
	}
	return bytes.Count(data, []byte("\n")) + 1
}
