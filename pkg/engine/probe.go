package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Candidate is one command form in an ordered probe chain.
type Candidate struct {
	// Command is the command line to attempt.
	Command string

	// Elevated runs the candidate with root privileges.
	Elevated bool

	// ExpectedExitCodes are the exit codes that count as success.
	// Empty means only zero.
	ExpectedExitCodes []int
}

// Cmd builds a candidate with default expectations.
func Cmd(command string) Candidate {
	return Candidate{Command: command}
}

// ProbeResult is the transient outcome of running a probe chain.
type ProbeResult struct {
	// OK indicates a candidate succeeded.
	OK bool

	// Index is the succeeding candidate's position, or -1 on failure.
	// The index becomes the remembered working form so subsequent
	// invocations skip the earlier, known-failing forms.
	Index int

	// Attempts is how many candidates were executed.
	Attempts int

	// Output is the succeeding candidate's result, or the last failing
	// candidate's result for diagnostics.
	Output *ExecResult
}

// Probe runs candidates in order starting at the given index, accepting the
// first whose exit code matches its expected set. It never raises partial
// successes: either one candidate wins, or the failure carries the last
// candidate's exit code and stderr. Transport-level failures abort the
// chain with a classified error.
func Probe(ctx context.Context, t Target, candidates []Candidate, start int) (*ProbeResult, error) {
	if len(candidates) == 0 {
		return nil, NewError(KindInternal, "probe chain has no candidates").WithTarget(t.ID())
	}
	if start < 0 || start >= len(candidates) {
		start = 0
	}

	res := &ProbeResult{Index: -1}
	for i := start; i < len(candidates); i++ {
		c := candidates[i]
		out, err := t.Execute(ctx, c.Command, ExecOptions{
			Elevated:          c.Elevated,
			ExpectedExitCodes: c.ExpectedExitCodes,
		})
		res.Attempts++
		res.Output = out

		if err == nil {
			res.OK = true
			res.Index = i
			log.Debug().
				Str("target", t.ID()).
				Str("command", c.Command).
				Int("index", i).
				Msg("probe candidate succeeded")
			return res, nil
		}

		var cmdErr *CommandError
		if !errors.As(err, &cmdErr) {
			return nil, WrapError(KindTransportFailed,
				fmt.Sprintf("probe candidate %q could not be executed", c.Command), err).
				WithTarget(t.ID())
		}

		log.Debug().
			Str("target", t.ID()).
			Str("command", c.Command).
			Int("index", i).
			Int("exit_code", cmdErr.Result.ExitCode).
			Msg("probe candidate failed")
	}

	return res, nil
}

// DefaultCandidates returns the existence probe chain for a descriptor: its
// declared candidates, or a `command -v` lookup on its command identity.
func DefaultCandidates(d *Descriptor, t Target) []Candidate {
	if d.Candidates != nil {
		return d.Candidates(t)
	}
	if d.Command == "" {
		return nil
	}
	return []Candidate{Cmd(fmt.Sprintf("command -v %s", d.Command))}
}
