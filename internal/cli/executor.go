package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"submitpack/internal/archive"
	"submitpack/internal/bundle"
	"submitpack/internal/config"
	"submitpack/internal/devset"
	"submitpack/internal/history"
	"submitpack/internal/infer"
	"submitpack/internal/trace"
)

// CLIResult carries the process exit code back to main.
type CLIResult struct {
	ExitCode int
}

// Execute runs a canonical invocation. Panics are mapped to the internal
// error exit code so main never crashes with a stack trace.
func Execute(ctx context.Context, inv Invocation) (res CLIResult, execErr error) {
	res.ExitCode = ExitInternalError
	defer func() {
		if r := recover(); r != nil {
			res.ExitCode = ExitInternalError
			execErr = fmt.Errorf("panic: %v", r)
		}
	}()

	cfg, err := config.Load(inv.ConfigPath)
	if err != nil {
		res.ExitCode = ExitConfigError
		return res, err
	}
	if inv.WorkDir != "" {
		cfg.Work.Dir = filepath.Clean(inv.WorkDir)
	}
	logger := newLogger(cfg.Log)

	switch inv.Command {
	case CommandPack:
		return executePack(ctx, inv, cfg, logger)
	case CommandVerify:
		return executeVerify(inv, cfg)
	case CommandDevset:
		return executeDevset(inv)
	case CommandHistory:
		return executeHistory(ctx, inv, cfg)
	default:
		res.ExitCode = ExitInvalidInvocation
		return res, fmt.Errorf("unknown command %q", inv.Command)
	}
}

func newLogger(lc config.LogConfig) *slog.Logger {
	level := slog.LevelInfo
	switch lc.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if lc.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

type packOutput struct {
	OK                bool   `json:"ok"`
	RunID             string `json:"run_id"`
	Archive           string `json:"archive,omitempty"`
	ArchiveBytes      int64  `json:"archive_bytes,omitempty"`
	Predictions       int    `json:"predictions,omitempty"`
	RosterPlaceholder bool   `json:"roster_placeholder,omitempty"`
	FailedStage       string `json:"failed_stage,omitempty"`
	Error             string `json:"error,omitempty"`
}

func executePack(ctx context.Context, inv Invocation, cfg *config.Config, logger *slog.Logger) (CLIResult, error) {
	runID := uuid.NewString()
	started := time.Now().UTC()

	var recorder *trace.Recorder
	var sink trace.Sink = trace.NopSink{}
	if inv.TracePath != "" {
		recorder = trace.NewRecorder()
		sink = recorder
	}

	p := &bundle.Pipeline{
		Config: cfg,
		Logger: logger,
		Infer:  &infer.Runner{Command: cfg.Infer.Command},
		Trace:  sink,
		RunID:  runID,
	}
	result, runErr := p.Run(ctx)

	// The trace is written whether the run succeeded or not.
	if recorder != nil {
		if terr := trace.WriteFile(inv.TracePath, recorder.Trace(runID)); terr != nil {
			logger.Warn("trace not written", "path", inv.TracePath, "error", terr)
		}
	}

	recordRun(ctx, cfg, logger, result, runID, started)

	out := packOutput{RunID: runID}
	exit := ExitInternalError
	if result != nil {
		exit = result.ExitCode
		out.OK = runErr == nil
		out.Predictions = result.Predictions
		out.RosterPlaceholder = result.RosterPlaceholder
		out.FailedStage = string(result.FailedStage)
		if runErr == nil {
			out.Archive = cfg.Bundle.Archive
			out.ArchiveBytes = result.ArchiveBytes
		}
	}
	if runErr != nil {
		out.Error = runErr.Error()
	}
	writePackOutput(inv.JSONOutput, out)
	return CLIResult{ExitCode: exit}, runErr
}

// recordRun appends to the ledger best-effort; a broken ledger never fails
// the run.
func recordRun(ctx context.Context, cfg *config.Config, logger *slog.Logger, result *bundle.Result, runID string, started time.Time) {
	if !cfg.History.Enabled || result == nil {
		return
	}
	store, err := history.Open(cfg.History.Path)
	if err != nil {
		logger.Warn("run ledger unavailable", "path", cfg.History.Path, "error", err)
		return
	}
	defer store.Close()

	status := "ok"
	if result.ExitCode != 0 {
		status = "failed"
	}
	run := history.Run{
		ID:               runID,
		StartedAt:        started,
		FinishedAt:       time.Now().UTC(),
		Status:           status,
		WorkDir:          cfg.Work.Dir,
		ArchivePath:      cfg.Bundle.Archive,
		ArchiveBytes:     result.ArchiveBytes,
		CheckpointSHA256: result.CheckpointSHA256,
		ExitCode:         result.ExitCode,
	}
	if err := store.Record(ctx, run); err != nil {
		logger.Warn("run not recorded", "error", err)
	}
}

func writePackOutput(jsonOutput bool, out packOutput) {
	if jsonOutput {
		encoded, err := json.Marshal(out)
		if err != nil {
			fmt.Println(`{"ok":false,"error":"failed to encode output"}`)
			return
		}
		fmt.Println(string(encoded))
		return
	}
	if out.OK {
		fmt.Printf("packed %s (%d bytes, %d predictions)\n", out.Archive, out.ArchiveBytes, out.Predictions)
		if out.RosterPlaceholder {
			fmt.Println("warning: roster file missing, placeholder used")
		}
		return
	}
	if out.FailedStage != "" {
		fmt.Printf("pack failed at %s: %s\n", out.FailedStage, out.Error)
		return
	}
	fmt.Printf("pack failed: %s\n", out.Error)
}

type verifyOutput struct {
	OK      bool   `json:"ok"`
	Archive string `json:"archive"`
	Dir     string `json:"dir"`
	Error   string `json:"error,omitempty"`
}

func executeVerify(inv Invocation, cfg *config.Config) (CLIResult, error) {
	archivePath := inv.ArchivePath
	if archivePath == "" {
		archivePath = cfg.Bundle.Archive
	}
	dirPath := inv.DirPath
	if dirPath == "" {
		dirPath = cfg.Bundle.Dir
	}

	verifyErr := roundTrip(archivePath, dirPath)

	out := verifyOutput{OK: verifyErr == nil, Archive: archivePath, Dir: dirPath}
	if verifyErr != nil {
		out.Error = verifyErr.Error()
	}
	if inv.JSONOutput {
		encoded, _ := json.Marshal(out)
		fmt.Println(string(encoded))
	} else if out.OK {
		fmt.Printf("verify ok: %s matches %s\n", archivePath, dirPath)
	} else {
		fmt.Printf("verify failed: %s\n", out.Error)
	}
	if verifyErr != nil {
		return CLIResult{ExitCode: ExitPipelineFailure}, nil
	}
	return CLIResult{ExitCode: ExitOK}, nil
}

// roundTrip extracts the archive into a scratch directory and compares it
// against dir in both directions.
func roundTrip(archivePath, dir string) error {
	scratch, err := os.MkdirTemp("", "submitpack-verify-*")
	if err != nil {
		return fmt.Errorf("verify: temp dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	if err := archive.ExtractTo(archivePath, scratch); err != nil {
		return err
	}
	return archive.CompareDirs(dir, scratch)
}

func executeDevset(inv Invocation) (CLIResult, error) {
	result, err := devset.Build(devset.Options{
		DataGlob: inv.Devset.DataGlob,
		OutDir:   inv.Devset.OutDir,
		Size:     inv.Devset.Size,
		Seed:     inv.Devset.Seed,
		MinLen:   inv.Devset.MinLen,
	})
	if err != nil {
		return CLIResult{ExitCode: ExitPipelineFailure}, err
	}
	fmt.Printf("wrote %d examples\n", result.Written)
	fmt.Printf("input:  %s\n", result.InputPath)
	fmt.Printf("answer: %s\n", result.AnswerPath)
	return CLIResult{ExitCode: ExitOK}, nil
}

func executeHistory(ctx context.Context, inv Invocation, cfg *config.Config) (CLIResult, error) {
	store, err := history.Open(cfg.History.Path)
	if err != nil {
		return CLIResult{ExitCode: ExitConfigError}, err
	}
	defer store.Close()

	runs, err := store.Recent(ctx, inv.HistoryLimit)
	if err != nil {
		return CLIResult{ExitCode: ExitInternalError}, err
	}
	if inv.JSONOutput {
		type row struct {
			ID           string `json:"id"`
			StartedAt    string `json:"started_at"`
			Status       string `json:"status"`
			ArchiveBytes int64  `json:"archive_bytes"`
			Checkpoint   string `json:"checkpoint_sha256,omitempty"`
			ExitCode     int    `json:"exit_code"`
		}
		rows := make([]row, 0, len(runs))
		for _, r := range runs {
			rows = append(rows, row{
				ID:           r.ID,
				StartedAt:    r.StartedAt.Format(time.RFC3339),
				Status:       r.Status,
				ArchiveBytes: r.ArchiveBytes,
				Checkpoint:   r.CheckpointSHA256,
				ExitCode:     r.ExitCode,
			})
		}
		encoded, _ := json.Marshal(rows)
		fmt.Println(string(encoded))
		return CLIResult{ExitCode: ExitOK}, nil
	}
	if len(runs) == 0 {
		fmt.Println("no runs recorded")
		return CLIResult{ExitCode: ExitOK}, nil
	}
	for _, r := range runs {
		fmt.Printf("%s  %s  %-6s  %10d bytes  exit %d\n",
			r.StartedAt.Format(time.RFC3339), r.ID, r.Status, r.ArchiveBytes, r.ExitCode)
	}
	return CLIResult{ExitCode: ExitOK}, nil
}
