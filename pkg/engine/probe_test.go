package engine

import (
	"context"
	"testing"
)

func TestProbeShortCircuits(t *testing.T) {
	ft := newFakeTarget("host1", linuxProfile)
	ft.on("candidate-a", ExecResult{ExitCode: 1, Stderr: "a missing"})
	ft.on("candidate-b", ExecResult{ExitCode: 0, Stdout: "b works"})
	ft.on("candidate-c", ExecResult{ExitCode: 0})

	res, err := Probe(context.Background(), ft, []Candidate{
		Cmd("candidate-a"),
		Cmd("candidate-b"),
		Cmd("candidate-c"),
	}, 0)
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}

	if !res.OK {
		t.Fatal("probe should have succeeded")
	}
	if res.Index != 1 {
		t.Errorf("Index = %d, want 1 (candidate-b)", res.Index)
	}
	if res.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", res.Attempts)
	}
	if ft.commandCount("candidate-c") != 0 {
		t.Error("candidate-c must never be invoked once b succeeds")
	}
	if res.Output.Stdout != "b works" {
		t.Errorf("Output.Stdout = %q, want the winner's output", res.Output.Stdout)
	}
}

func TestProbeAllFail(t *testing.T) {
	ft := newFakeTarget("host1", linuxProfile)
	ft.on("candidate-a", ExecResult{ExitCode: 1, Stderr: "first"})
	ft.on("candidate-b", ExecResult{ExitCode: 2, Stderr: "last stderr"})

	res, err := Probe(context.Background(), ft, []Candidate{
		Cmd("candidate-a"),
		Cmd("candidate-b"),
	}, 0)
	if err != nil {
		t.Fatalf("Probe returned hard error for plain command failures: %v", err)
	}

	if res.OK {
		t.Fatal("probe should have failed")
	}
	if res.Index != -1 {
		t.Errorf("Index = %d, want -1", res.Index)
	}
	// Diagnostics carry the last candidate's exit code and stderr.
	if res.Output.ExitCode != 2 || res.Output.Stderr != "last stderr" {
		t.Errorf("Output = %+v, want last candidate's diagnostics", res.Output)
	}
}

func TestProbeStartIndexSkipsKnownFailures(t *testing.T) {
	ft := newFakeTarget("host1", linuxProfile)
	ft.on("candidate-a", ExecResult{ExitCode: 1})
	ft.on("candidate-b", ExecResult{ExitCode: 0})

	res, err := Probe(context.Background(), ft, []Candidate{
		Cmd("candidate-a"),
		Cmd("candidate-b"),
	}, 1)
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if !res.OK || res.Index != 1 {
		t.Fatalf("probe from start index should pick candidate-b, got %+v", res)
	}
	if ft.commandCount("candidate-a") != 0 {
		t.Error("known-failing candidate-a must be skipped when starting at index 1")
	}
}

func TestProbeExpectedExitCodes(t *testing.T) {
	ft := newFakeTarget("host1", linuxProfile)
	ft.on("kvp-client", ExecResult{ExitCode: 4, Stdout: "Pool is 0"})

	res, err := Probe(context.Background(), ft, []Candidate{
		{Command: "kvp-client", ExpectedExitCodes: []int{0, 4}},
	}, 0)
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if !res.OK {
		t.Error("exit 4 is in the expected set and must count as success")
	}
}

func TestProbeNoCandidates(t *testing.T) {
	ft := newFakeTarget("host1", linuxProfile)
	if _, err := Probe(context.Background(), ft, nil, 0); err == nil {
		t.Fatal("empty candidate chain must be an error")
	}
}

func TestDefaultCandidates(t *testing.T) {
	ft := newFakeTarget("host1", linuxProfile)

	d := newDescriptor("wget", "wget", matchAll)
	cands := DefaultCandidates(d, ft)
	if len(cands) != 1 || cands[0].Command != "command -v wget" {
		t.Errorf("DefaultCandidates = %v, want a single command -v lookup", cands)
	}

	d.Candidates = func(_ Target) []Candidate {
		return []Candidate{Cmd("wget --version")}
	}
	cands = DefaultCandidates(d, ft)
	if len(cands) != 1 || cands[0].Command != "wget --version" {
		t.Errorf("declared candidates must win, got %v", cands)
	}
}
