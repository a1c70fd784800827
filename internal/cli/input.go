package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
)

const (
	ExitOK                = 0
	ExitPipelineFailure   = 1
	ExitInvalidInvocation = 2
	ExitConfigError       = 3
	ExitInternalError     = 4
)

// Command selects which subcommand runs. Pack is the default: the tool
// invoked bare packages a submission, controlled only by configuration and
// the SUBMIT_* environment.
type Command string

const (
	CommandPack    Command = "pack"
	CommandVerify  Command = "verify"
	CommandDevset  Command = "devset"
	CommandHistory Command = "history"
)

// DevsetOptions mirror the devset builder flags.
type DevsetOptions struct {
	DataGlob string
	OutDir   string
	Size     int
	Seed     int64
	MinLen   int
}

// Invocation is the canonical description of one CLI run.
type Invocation struct {
	Command    Command
	ConfigPath string

	// WorkDir overrides work.dir from config/environment when non-empty.
	WorkDir string

	// TracePath enables the run trace when non-empty (pack only).
	TracePath string

	// JSONOutput switches the summary to machine-readable form.
	JSONOutput bool

	// Verify flags. Empty values fall back to the configured bundle paths.
	ArchivePath string
	DirPath     string

	Devset DevsetOptions

	HistoryLimit int
}

// InvocationError carries a semantic exit code alongside the message.
type InvocationError struct {
	ExitCode int
	Message  string
}

func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func invalidInvocationf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitInvalidInvocation, Message: fmt.Sprintf(format, args...)}
}

// ParseInvocation parses the argument slice (excluding argv[0]) into a
// canonical Invocation. A leading non-flag argument selects the subcommand;
// no arguments at all means pack.
func ParseInvocation(args []string) (Invocation, error) {
	name := string(CommandPack)
	rest := args
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		name = args[0]
		rest = args[1:]
	}

	switch Command(name) {
	case CommandPack:
		return parsePack(rest)
	case CommandVerify:
		return parseVerify(rest)
	case CommandDevset:
		return parseDevset(rest)
	case CommandHistory:
		return parseHistory(rest)
	default:
		return Invocation{}, invalidInvocationf(
			"unknown command %q (expected pack|verify|devset|history)", name)
	}
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard) // parsing errors are returned, not printed
	return fs
}

func parsePack(args []string) (Invocation, error) {
	fs := newFlagSet("pack")
	inv := Invocation{Command: CommandPack}
	fs.StringVar(&inv.ConfigPath, "config", "", "config file path (default submit.yaml if present)")
	fs.StringVar(&inv.WorkDir, "work-dir", "", "override the working directory")
	fs.StringVar(&inv.TracePath, "trace", "", "write a run trace to this path")
	fs.BoolVar(&inv.JSONOutput, "json", false, "emit a JSON summary")
	if err := fs.Parse(args); err != nil {
		return Invocation{}, invalidInvocationf("%v", err)
	}
	if fs.NArg() != 0 {
		return Invocation{}, invalidInvocationf("unexpected arguments: %q", strings.Join(fs.Args(), " "))
	}
	return inv, nil
}

func parseVerify(args []string) (Invocation, error) {
	fs := newFlagSet("verify")
	inv := Invocation{Command: CommandVerify}
	fs.StringVar(&inv.ConfigPath, "config", "", "config file path")
	fs.StringVar(&inv.ArchivePath, "archive", "", "archive to verify (default from config)")
	fs.StringVar(&inv.DirPath, "dir", "", "bundle directory to compare against (default from config)")
	fs.BoolVar(&inv.JSONOutput, "json", false, "emit a JSON summary")
	if err := fs.Parse(args); err != nil {
		return Invocation{}, invalidInvocationf("%v", err)
	}
	if fs.NArg() != 0 {
		return Invocation{}, invalidInvocationf("unexpected arguments: %q", strings.Join(fs.Args(), " "))
	}
	return inv, nil
}

func parseDevset(args []string) (Invocation, error) {
	fs := newFlagSet("devset")
	inv := Invocation{Command: CommandDevset}
	fs.StringVar(&inv.Devset.DataGlob, "data-glob", "data/mc4_*.txt", "glob for corpus text files")
	fs.StringVar(&inv.Devset.OutDir, "out-dir", "eval", "output directory for dev files")
	fs.IntVar(&inv.Devset.Size, "size", 5000, "number of dev examples")
	fs.Int64Var(&inv.Devset.Seed, "seed", 42, "random seed")
	fs.IntVar(&inv.Devset.MinLen, "min-len", 2, "minimum line length to keep")
	if err := fs.Parse(args); err != nil {
		return Invocation{}, invalidInvocationf("%v", err)
	}
	if fs.NArg() != 0 {
		return Invocation{}, invalidInvocationf("unexpected arguments: %q", strings.Join(fs.Args(), " "))
	}
	return inv, nil
}

func parseHistory(args []string) (Invocation, error) {
	fs := newFlagSet("history")
	inv := Invocation{Command: CommandHistory}
	fs.StringVar(&inv.ConfigPath, "config", "", "config file path")
	fs.IntVar(&inv.HistoryLimit, "limit", 20, "maximum runs to list")
	fs.BoolVar(&inv.JSONOutput, "json", false, "emit JSON rows")
	if err := fs.Parse(args); err != nil {
		return Invocation{}, invalidInvocationf("%v", err)
	}
	if fs.NArg() != 0 {
		return Invocation{}, invalidInvocationf("unexpected arguments: %q", strings.Join(fs.Args(), " "))
	}
	return inv, nil
}

// ExitCodeFor extracts a semantic exit code from a ParseInvocation error.
func ExitCodeFor(err error) int {
	var invErr *InvocationError
	if errors.As(err, &invErr) && invErr != nil {
		if invErr.ExitCode != 0 {
			return invErr.ExitCode
		}
		return ExitInvalidInvocation
	}
	if err == nil {
		return ExitOK
	}
	return ExitInternalError
}
