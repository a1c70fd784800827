// Package infer invokes the external prediction program.
//
// The program is an opaque collaborator: it must accept a mode argument, a
// working-directory path, an input-file path, and an output-file path, write
// predictions to the output path, and exit zero on success. Everything else
// about it (language, model, checkpoint format) is its own business.
package infer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// Result captures one invocation of the predictor.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// Runner executes the configured predictor command. Unlike an isolated task
// runner, the child inherits the full host environment: the predictor needs
// its interpreter, PYTHONPATH, locale, and whatever else the operator set up.
type Runner struct {
	// Command is the argv prefix, e.g. ["python3", "src/myprogram.py"].
	Command []string

	// Dir is the directory the predictor runs in. Empty means the
	// current process directory.
	Dir string
}

// Predict runs the predictor in evaluation mode against workDir, reading
// testData and writing predictions to outPath. The call blocks until the
// child exits or ctx is cancelled; on cancellation the whole process group
// is killed.
//
// A non-zero child exit is not an error here: the caller inspects
// Result.ExitCode and decides (the pipeline treats it as fatal and
// propagates the code).
func (r *Runner) Predict(ctx context.Context, workDir, testData, outPath string) (*Result, error) {
	if len(r.Command) == 0 {
		return nil, fmt.Errorf("infer: command is empty")
	}

	args := append([]string(nil), r.Command[1:]...)
	args = append(args,
		"test",
		"--work_dir", workDir,
		"--test_data", testData,
		"--test_output", outPath,
	)
	cmd := exec.CommandContext(ctx, r.Command[0], args...)
	cmd.Dir = r.Dir
	cmd.Env = os.Environ()

	// Own process group so cancellation can kill the whole tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("infer: start %s: %w", r.Command[0], err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var waitErr error
	select {
	case <-ctx.Done():
		if cmd.Process != nil {
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		<-done
		return nil, fmt.Errorf("infer: cancelled: %w", ctx.Err())
	case waitErr = <-done:
	}

	exitCode := 0
	if waitErr != nil {
		exitErr, ok := waitErr.(*exec.ExitError)
		if !ok {
			return nil, fmt.Errorf("infer: run %s: %w", r.Command[0], waitErr)
		}
		exitCode = exitErr.ExitCode()
	}

	return &Result{
		ExitCode: exitCode,
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
	}, nil
}
