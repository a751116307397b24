package engine

import (
	"context"
)

// Target is the remote execution context the engine resolves capabilities
// against. The concrete implementation (SSH, console) lives outside the
// engine; only this narrow primitive surface is consumed.
type Target interface {
	// ID returns a stable identity for the target, used as the cache key
	// component. A redeployed host must present a new identity.
	ID() string

	// Execute runs a command line on the target. A completed command
	// whose exit code is outside opts.ExpectedExitCodes returns the
	// result together with a *CommandError; transport-level failures
	// return an error without a usable result.
	Execute(ctx context.Context, cmd string, opts ExecOptions) (*ExecResult, error)

	// ReadFile reads a remote file, optionally with root privileges.
	ReadFile(ctx context.Context, path string, elevated bool) ([]byte, error)

	// PathExists reports whether a remote path exists.
	PathExists(ctx context.Context, path string) (bool, error)

	// Profile returns the target's platform profile, detected once and
	// cached for the target's lifetime.
	Profile(ctx context.Context) (PlatformProfile, error)

	// WorkDir returns the scratch working directory on the target.
	WorkDir() string
}

// PackageHost is implemented by targets that expose the platform's package
// manager. The package-install strategy and build prerequisites depend on
// it; targets without one (Windows consoles) simply don't implement it.
type PackageHost interface {
	// InstallPackages installs the named packages through the platform's
	// package manager.
	InstallPackages(ctx context.Context, names ...string) error

	// PackageInstalled reports whether a package is currently installed.
	PackageInstalled(ctx context.Context, name string) (bool, error)
}

// Fetcher is the operation surface strategies require from a download
// utility dependency.
type Fetcher interface {
	// Fetch downloads url to dest on the target. executable marks the
	// destination executable, elevated performs the write as root.
	Fetch(ctx context.Context, url, dest string, executable, elevated bool) error
}

// Builder is the operation surface the build-from-source strategy requires
// from a compiler dependency.
type Builder interface {
	// Compile builds src into the out binary using the given language
	// standard ("c99" forces defined exit-status semantics).
	Compile(ctx context.Context, src, out, std string) error
}

// InstallGate is consulted before any installation strategy runs against a
// target. A nil gate permits everything.
type InstallGate interface {
	// AllowInstall decides whether the described installation may mutate
	// the target.
	AllowInstall(ctx context.Context, req InstallRequest) (*GateDecision, error)
}

// InstallRequest describes a pending installation for policy evaluation.
type InstallRequest struct {
	// Capability is the capability being installed.
	Capability CapabilityID `json:"capability"`

	// Variant is the matched descriptor's variant name.
	Variant string `json:"variant"`

	// Strategy is the installation strategy name.
	Strategy string `json:"strategy"`

	// TargetID is the target the install would mutate.
	TargetID string `json:"target_id"`

	// Profile is the target's platform profile.
	Profile PlatformProfile `json:"profile"`
}

// GateDecision is the outcome of an install-gate evaluation.
type GateDecision struct {
	// Allowed indicates whether the installation may proceed.
	Allowed bool `json:"allowed"`

	// Violations lists the policy violations that denied it.
	Violations []string `json:"violations,omitempty"`
}

// Journal receives resolution lifecycle records. It is write-only from the
// engine and never consulted during resolution; journal failures are
// logged, never fatal. A nil journal discards everything.
type Journal interface {
	// RecordResolution records the outcome of one resolution attempt.
	RecordResolution(ctx context.Context, rec ResolutionRecord) error

	// RecordProbe records one probe chain execution.
	RecordProbe(ctx context.Context, rec ProbeRecord) error

	// RecordInstall records one installation strategy attempt.
	RecordInstall(ctx context.Context, rec InstallRecord) error
}

// ResolutionRecord is a journal row for a completed resolution attempt.
type ResolutionRecord struct {
	SessionID  string
	Capability CapabilityID
	TargetID   string
	Variant    string
	Outcome    string
	ErrorKind  string
	Error      string
	Cached     bool
	DurationMS int64
}

// ProbeRecord is a journal row for one probe chain run.
type ProbeRecord struct {
	SessionID  string
	Capability CapabilityID
	TargetID   string
	Attempts   int
	Succeeded  bool
	Index      int
	ExitCode   int
}

// InstallRecord is a journal row for one installation attempt.
type InstallRecord struct {
	SessionID  string
	Capability CapabilityID
	TargetID   string
	Strategy   string
	Succeeded  bool
	Error      string
	DurationMS int64
}
