package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CapabilityID identifies a category of remote functionality, independent of
// the platform-specific implementation that backs it. IDs are package-level
// constants, never constructed from untrusted input.
type CapabilityID string

// Family is the operating system family of a remote target.
type Family string

const (
	// FamilyUbuntu covers Ubuntu and its derivatives.
	FamilyUbuntu Family = "ubuntu"

	// FamilyDebian covers Debian and non-Ubuntu derivatives.
	FamilyDebian Family = "debian"

	// FamilyRedhat covers RHEL, AlmaLinux, Rocky, and Scientific Linux.
	FamilyRedhat Family = "redhat"

	// FamilyCentOS covers CentOS and Clear Linux.
	FamilyCentOS Family = "centos"

	// FamilyCoreOS covers CoreOS and Flatcar.
	FamilyCoreOS Family = "coreos"

	// FamilySuse covers SLES and openSUSE.
	FamilySuse Family = "suse"

	// FamilyMariner covers CBL-Mariner.
	FamilyMariner Family = "mariner"

	// FamilyFreeBSD covers FreeBSD.
	FamilyFreeBSD Family = "freebsd"

	// FamilyWindows covers Windows targets.
	FamilyWindows Family = "windows"

	// FamilyGenericLinux is a Linux target whose distribution could not be
	// classified into a more specific family.
	FamilyGenericLinux Family = "linux"
)

// IsDebianLike reports whether the family uses dpkg/apt.
func (f Family) IsDebianLike() bool {
	return f == FamilyUbuntu || f == FamilyDebian
}

// IsRedhatLike reports whether the family uses rpm/yum.
func (f Family) IsRedhatLike() bool {
	return f == FamilyRedhat || f == FamilyCentOS
}

// IsLinux reports whether the family is any Linux distribution.
func (f Family) IsLinux() bool {
	return f != FamilyFreeBSD && f != FamilyWindows && f != ""
}

// IsPosix reports whether the family exposes a POSIX shell.
func (f Family) IsPosix() bool {
	return f != FamilyWindows && f != ""
}

// Version is a dotted release version ("7.8", "22.04.3"). Comparison is
// numeric per segment; missing segments compare as zero, non-numeric
// segments fall back to string comparison.
type Version string

// Compare returns -1, 0, or 1 ordering v against other.
func (v Version) Compare(other Version) int {
	a := strings.Split(string(v), ".")
	b := strings.Split(string(other), ".")
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		var sa, sb string
		if i < len(a) {
			sa = strings.TrimSpace(a[i])
		}
		if i < len(b) {
			sb = strings.TrimSpace(b[i])
		}
		if sa == "" {
			sa = "0"
		}
		if sb == "" {
			sb = "0"
		}
		na, errA := strconv.Atoi(sa)
		nb, errB := strconv.Atoi(sb)
		if errA != nil || errB != nil {
			if sa != sb {
				if sa < sb {
					return -1
				}
				return 1
			}
			continue
		}
		if na != nb {
			if na < nb {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Below reports whether v orders strictly before other.
func (v Version) Below(other Version) bool {
	return v.Compare(other) < 0
}

// AtLeast reports whether v orders at or after other.
func (v Version) AtLeast(other Version) bool {
	return v.Compare(other) >= 0
}

// PlatformProfile describes a remote target: OS family, release version,
// and machine architecture. Immutable, detected once per target.
type PlatformProfile struct {
	// Family is the operating system family.
	Family Family `json:"family"`

	// Version is the release version ("22.04", "7.9", "13.2").
	Version Version `json:"version"`

	// Arch is the machine architecture as reported by uname -m
	// ("x86_64", "i686", "aarch64").
	Arch string `json:"arch"`
}

// String returns a compact human-readable form of the profile.
func (p PlatformProfile) String() string {
	return fmt.Sprintf("%s %s (%s)", p.Family, p.Version, p.Arch)
}

// ExecOptions control a single remote command execution.
type ExecOptions struct {
	// Elevated runs the command with root privileges.
	Elevated bool

	// Timeout bounds the execution. Zero means the target's default.
	Timeout time.Duration

	// ExpectedExitCodes are the exit codes treated as success. Empty
	// means only zero.
	ExpectedExitCodes []int

	// Fresh forces execution even when the target caches command output.
	Fresh bool
}

// Accepts reports whether code is in the expected exit code set.
func (o ExecOptions) Accepts(code int) bool {
	if len(o.ExpectedExitCodes) == 0 {
		return code == 0
	}
	for _, c := range o.ExpectedExitCodes {
		if c == code {
			return true
		}
	}
	return false
}

// ExecResult is the outcome of a remote command execution.
type ExecResult struct {
	// ExitCode is the command's exit code.
	ExitCode int `json:"exit_code"`

	// Stdout is the trimmed standard output.
	Stdout string `json:"stdout"`

	// Stderr is the trimmed standard error output.
	Stderr string `json:"stderr"`

	// Duration is the total execution time.
	Duration time.Duration `json:"duration"`
}

// CommandError reports a remote command that ran to completion but exited
// with a code outside the expected set. The result is retained so probe
// chains and strategies can inspect exit code and stderr.
type CommandError struct {
	// Cmd is the command line that failed.
	Cmd string

	// Result is the full execution result.
	Result *ExecResult
}

func (e *CommandError) Error() string {
	if e.Result == nil {
		return fmt.Sprintf("command %q failed", e.Cmd)
	}
	return fmt.Sprintf("command %q exited with code %d: %s", e.Cmd, e.Result.ExitCode, e.Result.Stderr)
}

// Descriptor is the static metadata for one platform variant of a
// capability. Descriptors are defined at compile time and never mutated;
// precedence between variants of the same capability is the registration
// order, most-specific first.
type Descriptor struct {
	// Capability is the capability this descriptor implements.
	Capability CapabilityID

	// Name is the variant name, unique within the capability
	// (e.g. "kvp-compiled", "kvp-freebsd").
	Name string

	// Matches reports whether this variant applies to a platform profile.
	Matches func(PlatformProfile) bool

	// Command is the literal command path or name backing the capability.
	// Empty for capabilities that are not command-backed.
	Command string

	// Dependencies are the capabilities that must be resolved, in order,
	// before this descriptor can be probed or installed.
	Dependencies []CapabilityID

	// Installable indicates whether absence may be repaired by Strategy.
	// When false, absence is a terminal CapabilityUnavailable condition.
	Installable bool

	// Strategy installs the capability when the existence probe fails.
	// Nil iff Installable is false.
	Strategy Strategy

	// Candidates returns the ordered existence probe forms for a target.
	// When nil and Detect is nil, the engine probes `command -v Command`.
	Candidates func(t Target) []Candidate

	// Detect overrides candidate probing with a custom presence check,
	// for variants whose presence is not a runnable command (package
	// sets, host filesystem state).
	Detect func(ctx context.Context, t Target) (bool, error)

	// New constructs the provider operation surface once the descriptor
	// is probed present. deps holds the resolved dependencies in
	// declared order.
	New func(t Target, deps []*Resolved) Provider
}

// DependencyOf returns the resolved dependency for a capability from a
// declared-order dependency slice, or nil when absent.
func DependencyOf(deps []*Resolved, cap CapabilityID) *Resolved {
	for _, d := range deps {
		if d != nil && d.Descriptor.Capability == cap {
			return d
		}
	}
	return nil
}

// Provider is the capability-specific operation surface bound to a target.
// Concrete providers expose their own operations; the engine only needs
// the capability identity.
type Provider interface {
	// Capability returns the capability this provider implements.
	Capability() CapabilityID
}

// Resolved is a provider bound to one target, owned by exactly one cache
// entry. Derived facts (interpreter path, config path, version string) are
// memoized on the Provider instance and recomputed only from a cold cache.
type Resolved struct {
	// Descriptor is the matched variant.
	Descriptor *Descriptor

	// Target is the bound remote context.
	Target Target

	// Provider is the constructed operation surface.
	Provider Provider

	// Deps are the resolved dependencies in declared order.
	Deps []*Resolved

	// WorkingIndex is the probe candidate index that succeeded; later
	// invocations start from it and skip known-failing forms.
	WorkingIndex int

	// Installed records whether resolution had to run the installation
	// strategy for this target.
	Installed bool

	// ResolvedAt is when the cache entry was populated.
	ResolvedAt time.Time
}

// WorkingCommand returns the probe candidate command form selected during
// resolution, falling back to the descriptor's command identity.
func (r *Resolved) WorkingCommand() string {
	if r.Descriptor.Candidates != nil {
		cands := r.Descriptor.Candidates(r.Target)
		if r.WorkingIndex >= 0 && r.WorkingIndex < len(cands) {
			return cands[r.WorkingIndex].Command
		}
	}
	return r.Descriptor.Command
}
