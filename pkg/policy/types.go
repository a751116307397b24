package policy

import (
	"time"

	"github.com/openfroyo/capstan/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that should be reviewed but do not
	// block an installation.
	SeverityWarning Severity = "warning"

	// SeverityError is for violations that block an installation.
	SeverityError Severity = "error"

	// SeverityCritical is for violations that must never be overridden.
	SeverityCritical Severity = "critical"
)

// Policy is one named rule set with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional policy metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// CreatedAt is when the policy was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the policy was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// Violation is a single policy violation raised against an installation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`

	// Capability is the capability whose installation was evaluated.
	Capability string `json:"capability,omitempty"`

	// Target is the target the installation would mutate.
	Target string `json:"target,omitempty"`
}

// Input is the document handed to Rego for one installation decision.
type Input struct {
	// Install describes the pending installation.
	Install *engine.InstallRequest `json:"install"`

	// Context carries the operator-supplied evaluation context.
	Context *Context `json:"context"`
}

// Context is operator-supplied context for policy evaluation.
type Context struct {
	// Environment names the environment ("production", "staging", ...).
	Environment string `json:"environment,omitempty"`

	// Freeze forbids all target mutation while set.
	Freeze bool `json:"freeze"`

	// DryRun indicates the engine will not actually mutate the target.
	DryRun bool `json:"dry_run"`

	// Timestamp is when the evaluation occurs.
	Timestamp time.Time `json:"timestamp"`

	// Metadata carries additional operator keys policies may consult.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Bundle is a versioned collection of related policies.
type Bundle struct {
	// Name is the unique name of the bundle.
	Name string `json:"name"`

	// Version is the bundle version.
	Version string `json:"version"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Policies are the policies in this bundle.
	Policies []Policy `json:"policies"`

	// CreatedAt is when the bundle was created.
	CreatedAt time.Time `json:"created_at"`
}
