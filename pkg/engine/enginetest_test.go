package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// fakeTarget is an in-memory Target whose command behavior is scripted per
// command prefix. It records every executed command for call-count
// assertions.
type fakeTarget struct {
	id      string
	profile PlatformProfile
	workdir string

	mu       sync.Mutex
	handlers []fakeHandler
	executed []string
	files    map[string][]byte
	paths    map[string]bool
}

type fakeHandler struct {
	prefix string
	result ExecResult
	err    error
}

func newFakeTarget(id string, profile PlatformProfile) *fakeTarget {
	return &fakeTarget{
		id:      id,
		profile: profile,
		workdir: "/tmp/capstan",
		files:   make(map[string][]byte),
		paths:   make(map[string]bool),
	}
}

// on scripts the result for any command starting with prefix. Earlier
// registrations win.
func (f *fakeTarget) on(prefix string, result ExecResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, fakeHandler{prefix: prefix, result: result})
}

func (f *fakeTarget) ID() string      { return f.id }
func (f *fakeTarget) WorkDir() string { return f.workdir }

func (f *fakeTarget) Profile(_ context.Context) (PlatformProfile, error) {
	return f.profile, nil
}

func (f *fakeTarget) Execute(_ context.Context, cmd string, opts ExecOptions) (*ExecResult, error) {
	f.mu.Lock()
	f.executed = append(f.executed, cmd)
	handlers := f.handlers
	f.mu.Unlock()

	for _, h := range handlers {
		if strings.HasPrefix(cmd, h.prefix) {
			if h.err != nil {
				return nil, h.err
			}
			res := h.result
			if !opts.Accepts(res.ExitCode) {
				return &res, &CommandError{Cmd: cmd, Result: &res}
			}
			return &res, nil
		}
	}
	// Unscripted commands fail like a missing binary.
	res := &ExecResult{ExitCode: 127, Stderr: fmt.Sprintf("%s: command not found", cmd)}
	return res, &CommandError{Cmd: cmd, Result: res}
}

func (f *fakeTarget) ReadFile(_ context.Context, path string, _ bool) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[path]
	if !ok {
		return nil, fmt.Errorf("open %s: no such file", path)
	}
	return data, nil
}

func (f *fakeTarget) PathExists(_ context.Context, path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.paths[path] {
		return true, nil
	}
	_, ok := f.files[path]
	return ok, nil
}

func (f *fakeTarget) commandCount(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, cmd := range f.executed {
		if strings.HasPrefix(cmd, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeTarget) totalCommands() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.executed)
}

// fakeProvider is a minimal provider surface for descriptor tests.
type fakeProvider struct {
	cap CapabilityID
}

func (p *fakeProvider) Capability() CapabilityID { return p.cap }

// fakeStrategy is a scriptable installation strategy.
type fakeStrategy struct {
	name      string
	err       error
	onInstall func(t Target)

	mu    sync.Mutex
	calls int
}

func (s *fakeStrategy) Name() string {
	if s.name == "" {
		return "fake"
	}
	return s.name
}

func (s *fakeStrategy) Install(_ context.Context, _ *Descriptor, t Target, _ []*Resolved) error {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.onInstall != nil {
		s.onInstall(t)
	}
	return nil
}

func (s *fakeStrategy) installCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// fakeGate is a scriptable install gate.
type fakeGate struct {
	allowed    bool
	violations []string

	mu    sync.Mutex
	calls int
}

func (g *fakeGate) AllowInstall(_ context.Context, _ InstallRequest) (*GateDecision, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	return &GateDecision{Allowed: g.allowed, Violations: g.violations}, nil
}

var (
	linuxProfile = PlatformProfile{Family: FamilyGenericLinux, Version: "5.15", Arch: "x86_64"}
	bsdProfile   = PlatformProfile{Family: FamilyFreeBSD, Version: "13.2", Arch: "amd64"}
)

// newDescriptor builds a command-backed descriptor with a default provider
// constructor.
func newDescriptor(cap CapabilityID, name string, matches func(PlatformProfile) bool) *Descriptor {
	return &Descriptor{
		Capability: cap,
		Name:       name,
		Matches:    matches,
		Command:    string(cap),
		New: func(_ Target, _ []*Resolved) Provider {
			return &fakeProvider{cap: cap}
		},
	}
}

func matchAll(_ PlatformProfile) bool { return true }

func matchFamily(f Family) func(PlatformProfile) bool {
	return func(p PlatformProfile) bool { return p.Family == f }
}
