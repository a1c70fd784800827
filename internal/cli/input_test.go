package cli

import (
	"errors"
	"testing"
)

func TestParseInvocation_BareArgsMeanPack(t *testing.T) {
	inv, err := ParseInvocation(nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if inv.Command != CommandPack {
		t.Fatalf("command = %q, want pack", inv.Command)
	}
}

func TestParseInvocation_LeadingFlagsMeanPack(t *testing.T) {
	inv, err := ParseInvocation([]string{"--work-dir", "trained", "--json"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if inv.Command != CommandPack {
		t.Fatalf("command = %q, want pack", inv.Command)
	}
	if inv.WorkDir != "trained" {
		t.Fatalf("work dir = %q", inv.WorkDir)
	}
	if !inv.JSONOutput {
		t.Fatalf("expected json output")
	}
}

func TestParseInvocation_PackFlags(t *testing.T) {
	inv, err := ParseInvocation([]string{"pack", "--config", "c.yaml", "--trace", "trace.json"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if inv.ConfigPath != "c.yaml" || inv.TracePath != "trace.json" {
		t.Fatalf("invocation = %+v", inv)
	}
}

func TestParseInvocation_Verify(t *testing.T) {
	inv, err := ParseInvocation([]string{"verify", "--archive", "a.zip", "--dir", "bundle"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if inv.Command != CommandVerify || inv.ArchivePath != "a.zip" || inv.DirPath != "bundle" {
		t.Fatalf("invocation = %+v", inv)
	}
}

func TestParseInvocation_DevsetDefaults(t *testing.T) {
	inv, err := ParseInvocation([]string{"devset"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	d := inv.Devset
	if d.DataGlob != "data/mc4_*.txt" || d.OutDir != "eval" || d.Size != 5000 || d.Seed != 42 || d.MinLen != 2 {
		t.Fatalf("devset defaults = %+v", d)
	}
}

func TestParseInvocation_HistoryLimit(t *testing.T) {
	inv, err := ParseInvocation([]string{"history", "--limit", "5", "--json"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if inv.Command != CommandHistory || inv.HistoryLimit != 5 || !inv.JSONOutput {
		t.Fatalf("invocation = %+v", inv)
	}
}

func TestParseInvocation_Rejections(t *testing.T) {
	cases := []struct {
		name string
		args []string
	}{
		{"unknown command", []string{"deploy"}},
		{"unknown flag", []string{"pack", "--frobnicate"}},
		{"trailing positional", []string{"pack", "extra"}},
		{"verify positional", []string{"verify", "a.zip"}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := ParseInvocation(c.args)
			if err == nil {
				t.Fatalf("expected error for %q", c.args)
			}
			var invErr *InvocationError
			if !errors.As(err, &invErr) {
				t.Fatalf("expected InvocationError, got %T", err)
			}
			if got := ExitCodeFor(err); got != ExitInvalidInvocation {
				t.Fatalf("exit code = %d, want %d", got, ExitInvalidInvocation)
			}
		})
	}
}

func TestExitCodeFor(t *testing.T) {
	if got := ExitCodeFor(nil); got != ExitOK {
		t.Fatalf("nil error -> %d", got)
	}
	if got := ExitCodeFor(errors.New("boom")); got != ExitInternalError {
		t.Fatalf("plain error -> %d", got)
	}
	if got := ExitCodeFor(&InvocationError{}); got != ExitInvalidInvocation {
		t.Fatalf("zero-code invocation error -> %d", got)
	}
}
