// Package engine implements the capability resolution and lazy-provisioning
// core: descriptor matching, dependency resolution, probe chains, installation
// strategies, and the per-target resolution cache.
package engine

import (
	"errors"
	"fmt"
)

// ErrorKind partitions resolution failures so callers can distinguish
// "skip this test on this platform" from "this run failed and should be
// investigated".
type ErrorKind string

const (
	// KindUnsupportedPlatform indicates no descriptor matches the target's
	// platform profile. Fatal to that resolution, not retried.
	KindUnsupportedPlatform ErrorKind = "unsupported_platform"

	// KindUnsupportedVersion indicates a descriptor matched but declares a
	// version ceiling or floor that the profile violates.
	KindUnsupportedVersion ErrorKind = "unsupported_version"

	// KindCapabilityUnavailable indicates the capability is absent and its
	// descriptor declares no installation strategy.
	KindCapabilityUnavailable ErrorKind = "capability_unavailable"

	// KindInstallationFailed indicates an installation strategy ran and
	// reported failure. Carries the exit code and stderr of the failing
	// step. A later retry with a fresh resolve is legal.
	KindInstallationFailed ErrorKind = "installation_failed"

	// KindVerificationInconsistency indicates an installation reported
	// success but the post-install probe still finds the capability absent.
	KindVerificationInconsistency ErrorKind = "verification_inconsistency"

	// KindDependencyFailed wraps the first failing dependency's error,
	// preserving its kind through Unwrap.
	KindDependencyFailed ErrorKind = "dependency_failed"

	// KindTransportFailed indicates the remote execution primitive itself
	// failed (connection lost, session error, timeout).
	KindTransportFailed ErrorKind = "transport_failed"

	// KindInternal indicates a logic error inside the engine, such as a
	// dependency cycle in a descriptor's declared dependency list.
	KindInternal ErrorKind = "internal"
)

// EngineError represents a classified resolution error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Kind is the error classification.
	Kind ErrorKind `json:"kind"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Capability is the capability being resolved, if applicable.
	Capability CapabilityID `json:"capability,omitempty"`

	// Target is the target identity, if applicable.
	Target string `json:"target,omitempty"`

	// Op is the operation being performed when the error occurred.
	Op string `json:"op,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information, such as
	// the exit code and stderr of a failing install step.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if e.Capability != "" {
		msg += fmt.Sprintf(" (capability=%s", e.Capability)
		if e.Target != "" {
			msg += fmt.Sprintf(", target=%s", e.Target)
		}
		msg += ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// NewError creates a classified engine error.
func NewError(kind ErrorKind, message string) *EngineError {
	return &EngineError{Kind: kind, Message: message}
}

// WrapError creates a classified engine error wrapping an underlying cause.
func WrapError(kind ErrorKind, message string, err error) *EngineError {
	return &EngineError{Kind: kind, Message: message, Err: err}
}

// WithCapability adds capability context to an error.
func (e *EngineError) WithCapability(cap CapabilityID) *EngineError {
	e.Capability = cap
	return e
}

// WithTarget adds target context to an error.
func (e *EngineError) WithTarget(targetID string) *EngineError {
	e.Target = targetID
	return e
}

// WithOp adds operation context to an error.
func (e *EngineError) WithOp(op string) *EngineError {
	e.Op = op
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithExecResult attaches the exit code and stderr of a failing remote
// command to the error details.
func (e *EngineError) WithExecResult(res *ExecResult) *EngineError {
	if res == nil {
		return e
	}
	return e.WithDetail("exit_code", res.ExitCode).WithDetail("stderr", res.Stderr)
}

// KindOf returns the kind of a classified error, or KindInternal when the
// error carries no classification. errors.As stops at the outermost
// EngineError, so a DependencyFailed wrapper reports KindDependencyFailed;
// the dependency's own kind stays reachable through Unwrap.
func KindOf(err error) ErrorKind {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func isKind(err error, kind ErrorKind) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// IsUnsupportedPlatform returns true if the error indicates no descriptor
// matched the platform profile.
func IsUnsupportedPlatform(err error) bool {
	return isKind(err, KindUnsupportedPlatform)
}

// IsUnsupportedVersion returns true if the error indicates a violated
// version ceiling or floor.
func IsUnsupportedVersion(err error) bool {
	return isKind(err, KindUnsupportedVersion)
}

// IsCapabilityUnavailable returns true if the error indicates an absent,
// non-installable capability.
func IsCapabilityUnavailable(err error) bool {
	return isKind(err, KindCapabilityUnavailable)
}

// IsInstallationFailed returns true if the error indicates a failed
// installation strategy.
func IsInstallationFailed(err error) bool {
	return isKind(err, KindInstallationFailed)
}

// IsVerificationInconsistency returns true if the error indicates an
// install that claimed success but failed post-install verification.
func IsVerificationInconsistency(err error) bool {
	return isKind(err, KindVerificationInconsistency)
}

// IsDependencyFailed returns true if the error indicates a failed
// dependency resolution.
func IsDependencyFailed(err error) bool {
	return isKind(err, KindDependencyFailed)
}

// IsTransportFailed returns true if the error originated in the remote
// execution primitive.
func IsTransportFailed(err error) bool {
	return isKind(err, KindTransportFailed)
}
