package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/capstan/pkg/telemetry"
)

// Options wires optional collaborators into a Resolver. All fields may be
// nil; the resolver degrades to cache + registry only.
type Options struct {
	// Gate is consulted before any installation strategy runs.
	Gate InstallGate

	// Journal receives resolution lifecycle records. Failures to journal
	// are logged, never fatal.
	Journal Journal

	// Metrics counts resolutions, probes, installs, and cache traffic.
	Metrics *telemetry.Metrics

	// Tracer opens spans around resolutions, probe chains, and installs.
	Tracer *telemetry.Tracer

	// Events publishes resolution lifecycle events.
	Events *telemetry.EventPublisher

	// SessionID tags journal rows and events for this resolver's run.
	SessionID string

	// Logger overrides the package-level logger.
	Logger *zerolog.Logger
}

// Resolver is the engine's entry point: resolve a capability against a
// target, installing it when permitted, and memoize the result. Resolve is
// idempotent and safe for concurrent callers; same-key callers are
// serialized, different targets share no mutable state.
type Resolver struct {
	registry *Registry
	cache    *Cache
	opts     Options
	logger   zerolog.Logger
}

// NewResolver creates a resolver over a capability registry.
func NewResolver(registry *Registry, opts Options) *Resolver {
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Resolver{
		registry: registry,
		cache:    NewCache(),
		opts:     opts,
		logger:   logger.With().Str("component", "resolver").Logger(),
	}
}

// Registry returns the resolver's capability registry.
func (r *Resolver) Registry() *Registry { return r.registry }

// Cache returns the resolver's resolution cache.
func (r *Resolver) Cache() *Cache { return r.cache }

// InvalidateTarget drops all cached resolutions for a torn-down target.
func (r *Resolver) InvalidateTarget(targetID string) {
	r.cache.InvalidateTarget(targetID)
}

// Resolve resolves a capability against a target: cache lookup, descriptor
// match, dependency resolution, existence probe, gated installation with
// post-install verification, and cache population.
func (r *Resolver) Resolve(ctx context.Context, cap CapabilityID, t Target) (*Resolved, error) {
	return r.resolve(ctx, cap, t, nil)
}

func (r *Resolver) resolve(ctx context.Context, cap CapabilityID, t Target, chain []CapabilityID) (*Resolved, error) {
	for _, in := range chain {
		if in == cap {
			return nil, NewError(KindInternal,
				fmt.Sprintf("dependency cycle: %s -> %s", chainString(chain), cap)).
				WithCapability(cap).WithTarget(t.ID())
		}
	}

	// Fast path before taking the key lock.
	if cached, ok := r.cache.Get(cap, t.ID()); ok {
		r.recordCacheHit(ctx, cap, t)
		return cached, nil
	}

	keyMu := r.cache.keyLock(cap, t.ID())
	keyMu.Lock()
	defer keyMu.Unlock()

	// A concurrent caller may have populated the entry while we waited.
	if cached, ok := r.cache.Get(cap, t.ID()); ok {
		r.recordCacheHit(ctx, cap, t)
		return cached, nil
	}

	if r.opts.Metrics != nil {
		r.opts.Metrics.RecordCacheMiss(string(cap))
		r.opts.Metrics.RecordResolutionStarted()
	}
	if r.opts.Events != nil {
		_ = r.opts.Events.PublishResolutionStarted(r.opts.SessionID, string(cap), t.ID())
	}
	started := time.Now()

	var span trace.Span
	if r.opts.Tracer != nil {
		ctx, span = r.opts.Tracer.StartResolveSpan(ctx, string(cap), t.ID())
	}

	resolved, err := r.doResolve(ctx, cap, t, chain)
	duration := time.Since(started)

	if span != nil {
		if resolved != nil {
			telemetry.SetAttributes(span, telemetry.AttrVariant.String(resolved.Descriptor.Name))
		}
		if err != nil {
			telemetry.RecordError(span, err)
		} else {
			telemetry.RecordSuccess(span)
		}
		span.End()
	}

	outcome := "resolved"
	if err != nil {
		outcome = string(KindOf(err))
	}
	if r.opts.Metrics != nil {
		r.opts.Metrics.RecordResolutionCompleted(string(cap), outcome, duration)
		if err != nil {
			r.opts.Metrics.RecordError(string(KindOf(err)))
		}
	}
	r.journalResolution(ctx, cap, t, resolved, err, duration)

	if err != nil {
		if r.opts.Events != nil {
			_ = r.opts.Events.PublishResolutionFailed(r.opts.SessionID, string(cap), t.ID(),
				string(KindOf(err)), err.Error())
		}
		return nil, err
	}

	r.cache.Put(resolved)
	if r.opts.Events != nil {
		_ = r.opts.Events.PublishResolutionCompleted(r.opts.SessionID, string(cap), t.ID(),
			resolved.Descriptor.Name, duration)
	}
	return resolved, nil
}

func (r *Resolver) doResolve(ctx context.Context, cap CapabilityID, t Target, chain []CapabilityID) (*Resolved, error) {
	profile, err := t.Profile(ctx)
	if err != nil {
		return nil, WrapError(KindTransportFailed, "failed to read platform profile", err).
			WithCapability(cap).WithTarget(t.ID())
	}

	desc, err := r.registry.Match(cap, profile)
	if err != nil {
		return nil, err
	}

	r.logger.Debug().
		Str("capability", string(cap)).
		Str("target", t.ID()).
		Str("variant", desc.Name).
		Msg("resolving capability")

	deps, err := r.resolveDependencies(ctx, desc, t, append(chain, cap))
	if err != nil {
		return nil, err
	}

	present, workingIndex, probeOut, err := r.probeExistence(ctx, desc, t)
	if err != nil {
		return nil, err
	}

	installed := false
	if !present {
		if !desc.Installable {
			e := NewError(KindCapabilityUnavailable,
				fmt.Sprintf("capability %s is absent and has no install strategy", cap)).
				WithCapability(cap).WithTarget(t.ID())
			return nil, e.WithExecResult(probeOut)
		}

		if err := r.install(ctx, desc, t, deps, profile); err != nil {
			return nil, err
		}
		installed = true

		present, workingIndex, probeOut, err = r.probeExistence(ctx, desc, t)
		if err != nil {
			return nil, err
		}
		if !present {
			e := NewError(KindVerificationInconsistency,
				fmt.Sprintf("installation of %s reported success but the post-install probe still finds it absent", cap)).
				WithCapability(cap).WithTarget(t.ID()).
				WithDetail("strategy", desc.Strategy.Name())
			return nil, e.WithExecResult(probeOut)
		}
	}

	resolved := &Resolved{
		Descriptor:   desc,
		Target:       t,
		Deps:         deps,
		WorkingIndex: workingIndex,
		Installed:    installed,
		ResolvedAt:   time.Now(),
	}
	resolved.Provider = desc.New(t, deps)
	return resolved, nil
}

// resolveDependencies resolves a descriptor's declared dependency list in
// order through the top-level resolve. The first failure aborts and wraps
// as DependencyFailed, preserving the underlying kind through Unwrap.
func (r *Resolver) resolveDependencies(ctx context.Context, desc *Descriptor, t Target, chain []CapabilityID) ([]*Resolved, error) {
	if len(desc.Dependencies) == 0 {
		return nil, nil
	}
	deps := make([]*Resolved, 0, len(desc.Dependencies))
	for _, depCap := range desc.Dependencies {
		dep, err := r.resolve(ctx, depCap, t, chain)
		if err != nil {
			return nil, WrapError(KindDependencyFailed,
				fmt.Sprintf("dependency %s of %s failed", depCap, desc.Capability), err).
				WithCapability(desc.Capability).WithTarget(t.ID())
		}
		deps = append(deps, dep)
	}
	return deps, nil
}

// probeExistence runs the descriptor's presence check: a custom detector
// when declared, otherwise the ordered candidate chain.
func (r *Resolver) probeExistence(ctx context.Context, desc *Descriptor, t Target) (present bool, workingIndex int, output *ExecResult, err error) {
	started := time.Now()
	defer func() {
		if r.opts.Metrics != nil {
			r.opts.Metrics.RecordProbeDuration(string(desc.Capability), time.Since(started))
		}
	}()

	var candidates []Candidate
	if desc.Detect == nil {
		candidates = DefaultCandidates(desc, t)
		if len(candidates) == 0 {
			// Virtual capability with nothing to probe.
			return true, 0, nil, nil
		}
	}

	if r.opts.Tracer != nil {
		var span trace.Span
		ctx, span = r.opts.Tracer.StartProbeSpan(ctx, string(desc.Capability), len(candidates))
		defer func() {
			if err != nil {
				telemetry.RecordError(span, err)
			} else {
				telemetry.SetAttributes(span, telemetry.AttrProbeIndex.Int(workingIndex))
				telemetry.RecordSuccess(span)
			}
			span.End()
		}()
	}

	if desc.Detect != nil {
		ok, derr := desc.Detect(ctx, t)
		r.recordProbeAttempt(desc, ok)
		if derr != nil {
			return false, -1, nil, WrapError(KindTransportFailed,
				fmt.Sprintf("presence detection of %s failed", desc.Capability), derr).
				WithCapability(desc.Capability).WithTarget(t.ID())
		}
		return ok, 0, nil, nil
	}

	res, perr := Probe(ctx, t, candidates, 0)
	if perr != nil {
		return false, -1, nil, perr
	}
	r.recordProbeAttempt(desc, res.OK)
	r.journalProbe(ctx, desc, t, res)
	return res.OK, res.Index, res.Output, nil
}

// install runs the install gate and the descriptor's strategy, classifying
// failures per the error taxonomy.
func (r *Resolver) install(ctx context.Context, desc *Descriptor, t Target, deps []*Resolved, profile PlatformProfile) (err error) {
	if r.opts.Tracer != nil {
		var span trace.Span
		ctx, span = r.opts.Tracer.StartInstallSpan(ctx, string(desc.Capability), desc.Strategy.Name())
		defer func() {
			if err != nil {
				telemetry.RecordError(span, err)
			} else {
				telemetry.RecordSuccess(span)
			}
			span.End()
		}()
	}

	if r.opts.Gate != nil {
		decision, err := r.opts.Gate.AllowInstall(ctx, InstallRequest{
			Capability: desc.Capability,
			Variant:    desc.Name,
			Strategy:   desc.Strategy.Name(),
			TargetID:   t.ID(),
			Profile:    profile,
		})
		if err != nil {
			return WrapError(KindInstallationFailed, "install gate evaluation failed", err).
				WithCapability(desc.Capability).WithTarget(t.ID())
		}
		if !decision.Allowed {
			if r.opts.Events != nil {
				_ = r.opts.Events.PublishPolicyViolation(t.ID(), desc.Strategy.Name(),
					strings.Join(decision.Violations, "; "))
			}
			return NewError(KindInstallationFailed,
				fmt.Sprintf("install denied by policy: %s", strings.Join(decision.Violations, "; "))).
				WithCapability(desc.Capability).WithTarget(t.ID())
		}
	}

	if r.opts.Events != nil {
		_ = r.opts.Events.PublishInstallStarted(r.opts.SessionID, string(desc.Capability),
			t.ID(), desc.Strategy.Name())
	}
	started := time.Now()
	err = desc.Strategy.Install(ctx, desc, t, deps)
	duration := time.Since(started)

	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	if r.opts.Metrics != nil {
		r.opts.Metrics.RecordInstall(string(desc.Capability), desc.Strategy.Name(), outcome, duration)
	}
	r.journalInstall(ctx, desc, t, err, duration)

	if err != nil {
		if r.opts.Events != nil {
			_ = r.opts.Events.PublishInstallFailed(r.opts.SessionID, string(desc.Capability),
				t.ID(), desc.Strategy.Name(), err.Error())
		}
		if _, ok := err.(*EngineError); ok {
			return err
		}
		return WrapError(KindInstallationFailed,
			fmt.Sprintf("installation of %s failed", desc.Capability), err).
			WithCapability(desc.Capability).WithTarget(t.ID())
	}

	if r.opts.Events != nil {
		_ = r.opts.Events.PublishInstallCompleted(r.opts.SessionID, string(desc.Capability),
			t.ID(), desc.Strategy.Name(), duration)
	}
	return nil
}

func (r *Resolver) recordCacheHit(ctx context.Context, cap CapabilityID, t Target) {
	if r.opts.Metrics != nil {
		r.opts.Metrics.RecordCacheHit(string(cap))
	}
	r.journalResolutionCached(ctx, cap, t)
}

func (r *Resolver) recordProbeAttempt(desc *Descriptor, ok bool) {
	if r.opts.Metrics == nil {
		return
	}
	outcome := "absent"
	if ok {
		outcome = "present"
	}
	r.opts.Metrics.RecordProbeAttempt(string(desc.Capability), outcome)
}

func (r *Resolver) journalResolution(ctx context.Context, cap CapabilityID, t Target, resolved *Resolved, resErr error, duration time.Duration) {
	if r.opts.Journal == nil {
		return
	}
	rec := ResolutionRecord{
		SessionID:  r.opts.SessionID,
		Capability: cap,
		TargetID:   t.ID(),
		Outcome:    "resolved",
		DurationMS: duration.Milliseconds(),
	}
	if resolved != nil {
		rec.Variant = resolved.Descriptor.Name
	}
	if resErr != nil {
		rec.Outcome = "failed"
		rec.ErrorKind = string(KindOf(resErr))
		rec.Error = resErr.Error()
	}
	if err := r.opts.Journal.RecordResolution(ctx, rec); err != nil {
		r.logger.Warn().Err(err).Str("capability", string(cap)).Msg("failed to journal resolution")
	}
}

func (r *Resolver) journalResolutionCached(ctx context.Context, cap CapabilityID, t Target) {
	if r.opts.Journal == nil {
		return
	}
	rec := ResolutionRecord{
		SessionID:  r.opts.SessionID,
		Capability: cap,
		TargetID:   t.ID(),
		Outcome:    "resolved",
		Cached:     true,
	}
	if err := r.opts.Journal.RecordResolution(ctx, rec); err != nil {
		r.logger.Warn().Err(err).Str("capability", string(cap)).Msg("failed to journal cache hit")
	}
}

func (r *Resolver) journalProbe(ctx context.Context, desc *Descriptor, t Target, res *ProbeResult) {
	if r.opts.Journal == nil || res == nil {
		return
	}
	rec := ProbeRecord{
		SessionID:  r.opts.SessionID,
		Capability: desc.Capability,
		TargetID:   t.ID(),
		Attempts:   res.Attempts,
		Succeeded:  res.OK,
		Index:      res.Index,
	}
	if res.Output != nil {
		rec.ExitCode = res.Output.ExitCode
	}
	if err := r.opts.Journal.RecordProbe(ctx, rec); err != nil {
		r.logger.Warn().Err(err).Str("capability", string(desc.Capability)).Msg("failed to journal probe")
	}
}

func (r *Resolver) journalInstall(ctx context.Context, desc *Descriptor, t Target, installErr error, duration time.Duration) {
	if r.opts.Journal == nil {
		return
	}
	rec := InstallRecord{
		SessionID:  r.opts.SessionID,
		Capability: desc.Capability,
		TargetID:   t.ID(),
		Strategy:   desc.Strategy.Name(),
		Succeeded:  installErr == nil,
		DurationMS: duration.Milliseconds(),
	}
	if installErr != nil {
		rec.Error = installErr.Error()
	}
	if err := r.opts.Journal.RecordInstall(ctx, rec); err != nil {
		r.logger.Warn().Err(err).Str("capability", string(desc.Capability)).Msg("failed to journal install")
	}
}

func chainString(chain []CapabilityID) string {
	parts := make([]string, len(chain))
	for i, c := range chain {
		parts[i] = string(c)
	}
	return strings.Join(parts, " -> ")
}
