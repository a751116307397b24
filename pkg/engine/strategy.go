package engine

import (
	"context"
	"fmt"
	"path"

	"github.com/rs/zerolog/log"
)

// Strategy attempts to make a descriptor's command available on a target.
// Strategies run only after the existence probe failed and the install gate
// permitted mutation; the engine always re-probes afterwards, so a strategy
// reporting success is never trusted on its own word.
type Strategy interface {
	// Name identifies the strategy for journaling and policy input.
	Name() string

	// Install makes the capability available. deps holds the
	// descriptor's resolved dependencies in declared order. Errors
	// should be classified EngineErrors; anything else is wrapped as
	// InstallationFailed.
	Install(ctx context.Context, d *Descriptor, t Target, deps []*Resolved) error
}

// DownloadByArch installs a prebuilt binary selected from a static
// architecture table. An architecture with no entry falls through to the
// declared fallback strategy; with no fallback it is a terminal
// installation failure.
type DownloadByArch struct {
	// URLs maps machine architectures to download URLs.
	URLs map[string]string

	// Dest is the remote destination path. Empty means the descriptor's
	// command path under the target's working directory.
	Dest string

	// Executable marks the downloaded file executable.
	Executable bool

	// Fallback runs when the target's architecture has no URL entry.
	Fallback Strategy
}

// Name implements Strategy.
func (s *DownloadByArch) Name() string { return "download-by-arch" }

// Install implements Strategy.
func (s *DownloadByArch) Install(ctx context.Context, d *Descriptor, t Target, deps []*Resolved) error {
	profile, err := t.Profile(ctx)
	if err != nil {
		return WrapError(KindTransportFailed, "failed to read platform profile", err)
	}

	url, ok := s.URLs[profile.Arch]
	if !ok {
		if s.Fallback != nil {
			log.Debug().
				Str("arch", profile.Arch).
				Str("capability", string(d.Capability)).
				Msg("no binary for architecture, falling back to source build")
			return s.Fallback.Install(ctx, d, t, deps)
		}
		return NewError(KindInstallationFailed,
			fmt.Sprintf("architecture %s unsupported: no download available", profile.Arch))
	}

	fetcher := fetcherDep(deps)
	if fetcher == nil {
		return NewError(KindInternal,
			"download-by-arch requires a dependency implementing Fetcher")
	}

	dest := s.Dest
	if dest == "" {
		dest = installPath(d, t)
	}
	if err := fetcher.Fetch(ctx, url, dest, s.Executable, false); err != nil {
		return WrapError(KindInstallationFailed,
			fmt.Sprintf("failed to download %s", url), err)
	}
	return nil
}

// BuildFromSource fetches source through the dependency-resolved download
// utility, installs declared build prerequisites best-effort, and compiles
// with a fixed language standard for deterministic exit-status semantics.
type BuildFromSource struct {
	// SourceURL is where the source file is fetched from.
	SourceURL string

	// Std is the language standard passed to the compiler ("c99").
	Std string

	// Dest is the canonical output binary path. Empty means the
	// descriptor's command path under the target's working directory.
	Dest string

	// Prerequisites maps platform families to build packages installed
	// best-effort before compiling. A prerequisite that fails to install
	// is fatal only when it is not already satisfied.
	Prerequisites map[Family][]string
}

// Name implements Strategy.
func (s *BuildFromSource) Name() string { return "build-from-source" }

// Install implements Strategy.
func (s *BuildFromSource) Install(ctx context.Context, d *Descriptor, t Target, deps []*Resolved) error {
	fetcher := fetcherDep(deps)
	if fetcher == nil {
		return NewError(KindInternal,
			"build-from-source requires a dependency implementing Fetcher")
	}
	builder := builderDep(deps)
	if builder == nil {
		return NewError(KindInternal,
			"build-from-source requires a dependency implementing Builder")
	}

	profile, err := t.Profile(ctx)
	if err != nil {
		return WrapError(KindTransportFailed, "failed to read platform profile", err)
	}

	if prereqs := s.Prerequisites[profile.Family]; len(prereqs) > 0 {
		if err := installPrerequisites(ctx, t, prereqs); err != nil {
			return err
		}
	}

	src := path.Join(t.WorkDir(), path.Base(s.SourceURL))
	if err := fetcher.Fetch(ctx, s.SourceURL, src, false, false); err != nil {
		return WrapError(KindInstallationFailed,
			fmt.Sprintf("failed to fetch source %s", s.SourceURL), err)
	}

	dest := s.Dest
	if dest == "" {
		dest = installPath(d, t)
	}
	if err := builder.Compile(ctx, src, dest, s.Std); err != nil {
		return WrapError(KindInstallationFailed,
			fmt.Sprintf("failed to compile %s", src), err)
	}
	return nil
}

// installPrerequisites ensures build packages best-effort: an install
// failure is tolerated only when the package is reported as already
// satisfied.
func installPrerequisites(ctx context.Context, t Target, names []string) error {
	host, ok := t.(PackageHost)
	if !ok {
		return NewError(KindInstallationFailed,
			"target exposes no package manager for build prerequisites")
	}
	for _, name := range names {
		installed, err := host.PackageInstalled(ctx, name)
		if err == nil && installed {
			continue
		}
		if err := host.InstallPackages(ctx, name); err != nil {
			installed, checkErr := host.PackageInstalled(ctx, name)
			if checkErr == nil && installed {
				log.Warn().
					Str("package", name).
					Err(err).
					Msg("prerequisite install failed but package is already satisfied")
				continue
			}
			return WrapError(KindInstallationFailed,
				fmt.Sprintf("failed to install build prerequisite %s", name), err)
		}
	}
	return nil
}

// PackageInstall delegates to the platform's package manager. A declared
// version ceiling is checked before any remote mutation: at or above the
// ceiling the strategy refuses with UnsupportedVersion rather than
// attempting an install that would fail later.
type PackageInstall struct {
	// Packages returns the package names for a platform profile. An
	// empty result means the profile has no legal package source.
	Packages func(PlatformProfile) []string

	// Ceiling refuses installation at or above this version. Empty
	// means no ceiling.
	Ceiling Version

	// Fallback runs when the profile has no package entry.
	Fallback Strategy
}

// Name implements Strategy.
func (s *PackageInstall) Name() string { return "package-install" }

// Install implements Strategy.
func (s *PackageInstall) Install(ctx context.Context, d *Descriptor, t Target, deps []*Resolved) error {
	profile, err := t.Profile(ctx)
	if err != nil {
		return WrapError(KindTransportFailed, "failed to read platform profile", err)
	}

	if s.Ceiling != "" && profile.Version.AtLeast(s.Ceiling) {
		return NewError(KindUnsupportedVersion,
			fmt.Sprintf("package install of %s is unsupported on %s %s (ceiling %s)",
				d.Capability, profile.Family, profile.Version, s.Ceiling))
	}

	names := s.Packages(profile)
	if len(names) == 0 {
		if s.Fallback != nil {
			return s.Fallback.Install(ctx, d, t, deps)
		}
		return NewError(KindInstallationFailed,
			fmt.Sprintf("no package source declared for %s", profile.Family))
	}

	host, ok := t.(PackageHost)
	if !ok {
		return NewError(KindInstallationFailed,
			"target exposes no package manager")
	}
	if err := host.InstallPackages(ctx, names...); err != nil {
		return WrapError(KindInstallationFailed,
			fmt.Sprintf("failed to install packages %v", names), err)
	}
	return nil
}

// StrategyFunc adapts a function to the Strategy interface for provider
// specific scripted installs.
type StrategyFunc struct {
	// StrategyName identifies the strategy.
	StrategyName string

	// Fn performs the installation.
	Fn func(ctx context.Context, d *Descriptor, t Target, deps []*Resolved) error
}

// Name implements Strategy.
func (s *StrategyFunc) Name() string { return s.StrategyName }

// Install implements Strategy.
func (s *StrategyFunc) Install(ctx context.Context, d *Descriptor, t Target, deps []*Resolved) error {
	return s.Fn(ctx, d, t, deps)
}

// installPath is the canonical binary path for a descriptor installed into
// the target's scratch directory.
func installPath(d *Descriptor, t Target) string {
	return path.Join(t.WorkDir(), path.Base(d.Command))
}

func fetcherDep(deps []*Resolved) Fetcher {
	for _, dep := range deps {
		if f, ok := dep.Provider.(Fetcher); ok {
			return f
		}
	}
	return nil
}

func builderDep(deps []*Resolved) Builder {
	for _, dep := range deps {
		if b, ok := dep.Provider.(Builder); ok {
			return b
		}
	}
	return nil
}
