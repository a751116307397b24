package providers

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/openfroyo/capstan/pkg/engine"
)

// fakeTarget scripts command behavior per command prefix and records every
// execution with its elevation flag.
type fakeTarget struct {
	id      string
	profile engine.PlatformProfile
	workdir string

	mu       sync.Mutex
	handlers []fakeHandler
	executed []executedCmd
	files    map[string][]byte
	paths    map[string]bool
}

type fakeHandler struct {
	prefix string
	result engine.ExecResult
	err    error

	// elevated, when set, restricts the handler to matching elevation.
	elevated *bool
}

type executedCmd struct {
	cmd      string
	elevated bool
}

func newFakeTarget(id string, profile engine.PlatformProfile) *fakeTarget {
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
func (f *fakeTarget) on(prefix string, result engine.ExecResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, fakeHandler{prefix: prefix, result: result})
}

// onWithElevation scripts a result that only matches the given elevation.
func (f *fakeTarget) onWithElevation(prefix string, elevated bool, result engine.ExecResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, fakeHandler{prefix: prefix, result: result, elevated: &elevated})
}

func (f *fakeTarget) ID() string      { return f.id }
func (f *fakeTarget) WorkDir() string { return f.workdir }

func (f *fakeTarget) Profile(_ context.Context) (engine.PlatformProfile, error) {
	return f.profile, nil
}

func (f *fakeTarget) Execute(_ context.Context, cmd string, opts engine.ExecOptions) (*engine.ExecResult, error) {
	f.mu.Lock()
	f.executed = append(f.executed, executedCmd{cmd: cmd, elevated: opts.Elevated})
	handlers := f.handlers
	f.mu.Unlock()

	for _, h := range handlers {
		if strings.HasPrefix(cmd, h.prefix) {
			if h.elevated != nil && *h.elevated != opts.Elevated {
				continue
			}
			if h.err != nil {
				return nil, h.err
			}
			res := h.result
			if !opts.Accepts(res.ExitCode) {
				return &res, &engine.CommandError{Cmd: cmd, Result: &res}
			}
			return &res, nil
		}
	}
	res := &engine.ExecResult{ExitCode: 127, Stderr: fmt.Sprintf("%s: command not found", cmd)}
	if opts.Accepts(res.ExitCode) {
		return res, nil
	}
	return res, &engine.CommandError{Cmd: cmd, Result: res}
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
	for _, c := range f.executed {
		if strings.HasPrefix(c.cmd, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeTarget) lastMatching(prefix string) (executedCmd, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.executed) - 1; i >= 0; i-- {
		if strings.HasPrefix(f.executed[i].cmd, prefix) {
			return f.executed[i], true
		}
	}
	return executedCmd{}, false
}

// fakePackageTarget adds a package manager to fakeTarget.
type fakePackageTarget struct {
	*fakeTarget

	pkgMu     sync.Mutex
	installed map[string]bool
	installs  []string
}

func newFakePackageTarget(id string, profile engine.PlatformProfile) *fakePackageTarget {
	return &fakePackageTarget{
		fakeTarget: newFakeTarget(id, profile),
		installed:  make(map[string]bool),
	}
}

func (f *fakePackageTarget) InstallPackages(_ context.Context, names ...string) error {
	f.pkgMu.Lock()
	defer f.pkgMu.Unlock()
	for _, name := range names {
		f.installs = append(f.installs, name)
		f.installed[name] = true
	}
	return nil
}

func (f *fakePackageTarget) PackageInstalled(_ context.Context, name string) (bool, error) {
	f.pkgMu.Lock()
	defer f.pkgMu.Unlock()
	return f.installed[name], nil
}

func (f *fakePackageTarget) installCount() int {
	f.pkgMu.Lock()
	defer f.pkgMu.Unlock()
	return len(f.installs)
}

var (
	ubuntuProfile  = engine.PlatformProfile{Family: engine.FamilyUbuntu, Version: "22.04", Arch: "x86_64"}
	redhatProfile  = engine.PlatformProfile{Family: engine.FamilyRedhat, Version: "7.7", Arch: "x86_64"}
	freebsdProfile = engine.PlatformProfile{Family: engine.FamilyFreeBSD, Version: "13.2", Arch: "amd64"}
)

func ok(stdout string) engine.ExecResult {
	return engine.ExecResult{ExitCode: 0, Stdout: stdout}
}

func failed(code int, stderr string) engine.ExecResult {
	return engine.ExecResult{ExitCode: code, Stderr: stderr}
}
