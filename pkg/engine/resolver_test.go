package engine

import (
	"context"
	"sync"
	"testing"
)

func newTestResolver(descriptors ...*Descriptor) *Resolver {
	reg := NewRegistry()
	for _, d := range descriptors {
		reg.MustRegister(d)
	}
	return NewResolver(reg, Options{})
}

func TestResolveCachesResult(t *testing.T) {
	ft := newFakeTarget("host1", linuxProfile)
	ft.on("command -v tool", ExecResult{ExitCode: 0, Stdout: "/usr/bin/tool"})

	d := newDescriptor("tool", "tool", matchAll)
	r := newTestResolver(d)

	first, err := r.Resolve(context.Background(), "tool", ft)
	if err != nil {
		t.Fatalf("first Resolve failed: %v", err)
	}
	probesAfterFirst := ft.totalCommands()

	second, err := r.Resolve(context.Background(), "tool", ft)
	if err != nil {
		t.Fatalf("second Resolve failed: %v", err)
	}

	if first != second {
		t.Error("second Resolve must return the identical cached instance")
	}
	if got := ft.totalCommands(); got != probesAfterFirst {
		t.Errorf("second Resolve performed %d extra remote calls, want 0", got-probesAfterFirst)
	}
	if r.Cache().Len() != 1 {
		t.Errorf("cache holds %d entries, want 1", r.Cache().Len())
	}
}

func TestResolveNotInstallableAbsent(t *testing.T) {
	ft := newFakeTarget("host1", linuxProfile)
	// No handler for the probe: the command is absent.

	strategy := &fakeStrategy{}
	d := newDescriptor("agent", "agent", matchAll)
	// Not installable, but attach a strategy object to prove it is never
	// consulted on this path.
	d.Strategy = nil
	r := newTestResolver(d)

	_, err := r.Resolve(context.Background(), "agent", ft)
	if err == nil {
		t.Fatal("Resolve should fail for an absent, non-installable capability")
	}
	if !IsCapabilityUnavailable(err) {
		t.Errorf("error kind = %s, want CapabilityUnavailable", KindOf(err))
	}
	if strategy.installCalls() != 0 {
		t.Error("no strategy may run for a not-installable descriptor")
	}
}

func TestResolveInstallsWhenAbsent(t *testing.T) {
	ft := newFakeTarget("host1", linuxProfile)

	installed := false
	strategy := &fakeStrategy{
		name: "fake-install",
		onInstall: func(_ Target) {
			// Make the post-install probe succeed.
			ft.on("command -v tool", ExecResult{ExitCode: 0, Stdout: "/usr/bin/tool"})
			installed = true
		},
	}
	d := newDescriptor("tool", "tool", matchAll)
	d.Installable = true
	d.Strategy = strategy
	r := newTestResolver(d)

	resolved, err := r.Resolve(context.Background(), "tool", ft)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !installed || strategy.installCalls() != 1 {
		t.Errorf("strategy ran %d times, want 1", strategy.installCalls())
	}
	if !resolved.Installed {
		t.Error("Resolved.Installed should record the install")
	}
}

func TestResolveVerificationInconsistency(t *testing.T) {
	ft := newFakeTarget("host1", linuxProfile)

	// Strategy claims success but never makes the command appear.
	strategy := &fakeStrategy{name: "lying-strategy"}
	d := newDescriptor("tool", "tool", matchAll)
	d.Installable = true
	d.Strategy = strategy
	r := newTestResolver(d)

	_, err := r.Resolve(context.Background(), "tool", ft)
	if err == nil {
		t.Fatal("Resolve must fail when the post-install probe still finds the capability absent")
	}
	if !IsVerificationInconsistency(err) {
		t.Errorf("error kind = %s, want VerificationInconsistency", KindOf(err))
	}
	if r.Cache().Len() != 0 {
		t.Error("a failed resolution must never populate the cache")
	}

	// A later retry with a fresh resolve is legal and self-contained.
	ft.on("command -v tool", ExecResult{ExitCode: 0})
	if _, err := r.Resolve(context.Background(), "tool", ft); err != nil {
		t.Fatalf("retry after failure should succeed once the probe passes: %v", err)
	}
}

func TestResolveDependencyFailurePropagates(t *testing.T) {
	ft := newFakeTarget("host1", linuxProfile)
	// dep is absent and not installable.
	dep := newDescriptor("dep", "dep", matchAll)

	main := newDescriptor("main", "main", matchAll)
	main.Dependencies = []CapabilityID{"dep"}
	r := newTestResolver(dep, main)

	_, err := r.Resolve(context.Background(), "main", ft)
	if err == nil {
		t.Fatal("Resolve should fail when a dependency fails")
	}
	if !IsDependencyFailed(err) {
		t.Errorf("error kind = %s, want DependencyFailed", KindOf(err))
	}
	// The dependency's own kind is preserved through the chain.
	var underlying *EngineError
	for e := err; e != nil; {
		ee, ok := e.(*EngineError)
		if !ok {
			break
		}
		underlying = ee
		e = ee.Err
	}
	if underlying == nil || underlying.Kind != KindCapabilityUnavailable {
		t.Errorf("underlying kind not preserved, got %+v", underlying)
	}
}

func TestResolveDependencyOrderAndReuse(t *testing.T) {
	ft := newFakeTarget("host1", linuxProfile)
	ft.on("command -v first", ExecResult{ExitCode: 0})
	ft.on("command -v second", ExecResult{ExitCode: 0})
	ft.on("command -v main", ExecResult{ExitCode: 0})

	first := newDescriptor("first", "first", matchAll)
	second := newDescriptor("second", "second", matchAll)
	main := newDescriptor("main", "main", matchAll)
	main.Dependencies = []CapabilityID{"first", "second"}
	r := newTestResolver(first, second, main)

	resolved, err := r.Resolve(context.Background(), "main", ft)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(resolved.Deps) != 2 {
		t.Fatalf("resolved %d deps, want 2", len(resolved.Deps))
	}
	if resolved.Deps[0].Descriptor.Capability != "first" ||
		resolved.Deps[1].Descriptor.Capability != "second" {
		t.Error("dependencies must resolve in declared order")
	}
	if DependencyOf(resolved.Deps, "second") != resolved.Deps[1] {
		t.Error("DependencyOf should find the second dependency")
	}

	// Dependencies resolved through the top-level resolve are cached.
	if r.Cache().Len() != 3 {
		t.Errorf("cache holds %d entries, want 3", r.Cache().Len())
	}
	if _, err := r.Resolve(context.Background(), "first", ft); err != nil {
		t.Fatalf("cached dep resolve failed: %v", err)
	}
	if got := ft.commandCount("command -v first"); got != 1 {
		t.Errorf("dep probed %d times, want 1", got)
	}
}

func TestResolveCycleGuard(t *testing.T) {
	ft := newFakeTarget("host1", linuxProfile)

	a := newDescriptor("a", "a", matchAll)
	a.Dependencies = []CapabilityID{"b"}
	b := newDescriptor("b", "b", matchAll)
	b.Dependencies = []CapabilityID{"a"}
	r := newTestResolver(a, b)

	_, err := r.Resolve(context.Background(), "a", ft)
	if err == nil {
		t.Fatal("Resolve must not recurse forever on a dependency cycle")
	}
}

func TestResolveGateDeniesInstall(t *testing.T) {
	ft := newFakeTarget("host1", linuxProfile)

	strategy := &fakeStrategy{}
	d := newDescriptor("tool", "tool", matchAll)
	d.Installable = true
	d.Strategy = strategy

	gate := &fakeGate{allowed: false, violations: []string{"mutation freeze in effect"}}
	reg := NewRegistry()
	reg.MustRegister(d)
	r := NewResolver(reg, Options{Gate: gate})

	_, err := r.Resolve(context.Background(), "tool", ft)
	if err == nil {
		t.Fatal("Resolve should fail when the gate denies the install")
	}
	if !IsInstallationFailed(err) {
		t.Errorf("error kind = %s, want InstallationFailed", KindOf(err))
	}
	if strategy.installCalls() != 0 {
		t.Error("a denied install must never run the strategy")
	}
	if gate.calls != 1 {
		t.Errorf("gate consulted %d times, want 1", gate.calls)
	}
}

func TestResolveGateNotConsultedWhenPresent(t *testing.T) {
	ft := newFakeTarget("host1", linuxProfile)
	ft.on("command -v tool", ExecResult{ExitCode: 0})

	d := newDescriptor("tool", "tool", matchAll)
	d.Installable = true
	d.Strategy = &fakeStrategy{}

	gate := &fakeGate{allowed: false}
	reg := NewRegistry()
	reg.MustRegister(d)
	r := NewResolver(reg, Options{Gate: gate})

	if _, err := r.Resolve(context.Background(), "tool", ft); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if gate.calls != 0 {
		t.Error("the gate must not be consulted when the probe succeeds")
	}
}

func TestResolveConcurrentSameKeySerialized(t *testing.T) {
	ft := newFakeTarget("host1", linuxProfile)
	ft.on("command -v tool", ExecResult{ExitCode: 0})

	d := newDescriptor("tool", "tool", matchAll)
	r := newTestResolver(d)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*Resolved, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = r.Resolve(context.Background(), "tool", ft)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d failed: %v", i, errs[i])
		}
		if results[i] != results[0] {
			t.Error("all concurrent callers must observe the same cached instance")
		}
	}
	if got := ft.commandCount("command -v tool"); got != 1 {
		t.Errorf("probe executed %d times under concurrency, want 1", got)
	}
}

func TestResolveDifferentTargetsIndependent(t *testing.T) {
	ft1 := newFakeTarget("host1", linuxProfile)
	ft1.on("command -v tool", ExecResult{ExitCode: 0})
	ft2 := newFakeTarget("host2", linuxProfile)
	ft2.on("command -v tool", ExecResult{ExitCode: 0})

	d := newDescriptor("tool", "tool", matchAll)
	r := newTestResolver(d)

	r1, err := r.Resolve(context.Background(), "tool", ft1)
	if err != nil {
		t.Fatalf("Resolve(host1) failed: %v", err)
	}
	r2, err := r.Resolve(context.Background(), "tool", ft2)
	if err != nil {
		t.Fatalf("Resolve(host2) failed: %v", err)
	}
	if r1 == r2 {
		t.Error("resolutions for different targets must be distinct instances")
	}

	r.InvalidateTarget("host1")
	if r.Cache().Len() != 1 {
		t.Errorf("cache holds %d entries after invalidation, want 1", r.Cache().Len())
	}
	if _, ok := r.Cache().Get("tool", "host2"); !ok {
		t.Error("invalidating host1 must not touch host2 entries")
	}
}

func TestResolveDownloadByArchEndToEnd(t *testing.T) {
	ft := newFakeTarget("host1", PlatformProfile{Family: FamilyGenericLinux, Version: "5.15", Arch: "x86_64"})
	// First probe fails (binary absent); the fetch makes it appear.

	fetched := false
	fetcher := &fakeFetcherProvider{
		cap: "downloader",
		fetch: func(_ context.Context, url, dest string, _, _ bool) error {
			if url != "https://example.invalid/kvp/x86_64/kvp_client" {
				t.Errorf("fetched unexpected url %s", url)
			}
			ft.on("/tmp/capstan/kvp_client", ExecResult{ExitCode: 0})
			fetched = true
			return nil
		},
	}

	downloader := newDescriptor("downloader", "downloader", matchAll)
	downloader.New = func(_ Target, _ []*Resolved) Provider { return fetcher }
	ft.on("command -v downloader", ExecResult{ExitCode: 0})

	kvp := newDescriptor("kvp", "kvp-compiled", matchAll)
	kvp.Command = "kvp_client"
	kvp.Dependencies = []CapabilityID{"downloader"}
	kvp.Installable = true
	kvp.Candidates = func(t Target) []Candidate {
		return []Candidate{{Command: t.WorkDir() + "/kvp_client", ExpectedExitCodes: []int{0, 4}}}
	}
	kvp.Strategy = &DownloadByArch{
		URLs: map[string]string{
			"x86_64": "https://example.invalid/kvp/x86_64/kvp_client",
			"i686":   "https://example.invalid/kvp/i686/kvp_client",
		},
		Dest:       "/tmp/capstan/kvp_client",
		Executable: true,
	}
	r := newTestResolver(downloader, kvp)

	resolved, err := r.Resolve(context.Background(), "kvp", ft)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !fetched {
		t.Error("download strategy never ran")
	}
	if !resolved.Installed {
		t.Error("resolution should record the install")
	}
	if r.Cache().Len() != 2 {
		t.Errorf("cache holds %d entries, want 2 (kvp + downloader)", r.Cache().Len())
	}

	// Second resolve: zero additional probes or installs.
	before := ft.totalCommands()
	if _, err := r.Resolve(context.Background(), "kvp", ft); err != nil {
		t.Fatalf("second Resolve failed: %v", err)
	}
	if got := ft.totalCommands(); got != before {
		t.Errorf("second resolve performed %d extra remote calls, want 0", got-before)
	}
}

// fakeFetcherProvider implements Provider and Fetcher for strategy tests.
type fakeFetcherProvider struct {
	cap   CapabilityID
	fetch func(ctx context.Context, url, dest string, executable, elevated bool) error
}

func (p *fakeFetcherProvider) Capability() CapabilityID { return p.cap }

func (p *fakeFetcherProvider) Fetch(ctx context.Context, url, dest string, executable, elevated bool) error {
	return p.fetch(ctx, url, dest, executable, elevated)
}
