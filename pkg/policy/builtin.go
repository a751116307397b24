package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		mutationFreezePolicy(),
		productionSourceBuildPolicy(),
		immutableHostPolicy(),
		capabilityDenylistPolicy(),
		staleContextPolicy(),
	}
}

// mutationFreezePolicy blocks every installation while a freeze is active.
func mutationFreezePolicy() Policy {
	return Policy{
		Name:        "mutation-freeze",
		Description: "Blocks all installations while the mutation freeze is active",
		Severity:    SeverityCritical,
		Enabled:     true,
		Tags:        []string{"freeze", "safety"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package capstan.policies.freeze

import rego.v1

# No installation may run while the freeze flag is set
deny contains violation if {
	input.context.freeze == true
	install := input.install

	violation := {
		"message": sprintf("Installation of %s (%s) on %s is blocked: mutation freeze is active", [install.capability, install.variant, install.target_id]),
		"severity": "critical",
	}
}
`,
	}
}

// productionSourceBuildPolicy forbids compiling on production targets.
func productionSourceBuildPolicy() Policy {
	return Policy{
		Name:        "production-source-build",
		Description: "Forbids build-from-source installations in the production environment",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"production", "build"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package capstan.policies.production_build

import rego.v1

build_strategies := {"build-from-source"}

deny contains violation if {
	input.context.environment == "production"
	install := input.install
	build_strategies[install.strategy]

	violation := {
		"message": sprintf("Installation of %s on %s uses strategy %s: compiling on production targets is forbidden", [install.capability, install.target_id, install.strategy]),
		"severity": "error",
	}
}

# Strategies that fall back to a compiler toolchain count as builds too
deny contains violation if {
	input.context.environment == "production"
	install := input.install
	contains(install.strategy, "source")
	not build_strategies[install.strategy]

	violation := {
		"message": sprintf("Installation of %s on %s uses strategy %s: source builds are forbidden in production", [install.capability, install.target_id, install.strategy]),
		"severity": "error",
	}
}
`,
	}
}

// immutableHostPolicy refuses package installations on read-only distros.
func immutableHostPolicy() Policy {
	return Policy{
		Name:        "immutable-host",
		Description: "Refuses package-manager installations on immutable operating systems",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"platform", "packages"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package capstan.policies.immutable_host

import rego.v1

immutable_families := {"coreos"}

deny contains violation if {
	install := input.install
	install.strategy == "package-install"
	immutable_families[install.profile.family]

	violation := {
		"message": sprintf("Installation of %s on %s: %s hosts have a read-only system partition", [install.capability, install.target_id, install.profile.family]),
		"severity": "error",
	}
}
`,
	}
}

// capabilityDenylistPolicy denies capabilities the operator has listed in
// the evaluation context.
func capabilityDenylistPolicy() Policy {
	return Policy{
		Name:        "capability-denylist",
		Description: "Denies installation of capabilities listed in context.metadata.denied_capabilities",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"denylist"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package capstan.policies.denylist

import rego.v1

deny contains violation if {
	install := input.install
	some denied in input.context.metadata.denied_capabilities
	denied == install.capability

	violation := {
		"message": sprintf("Installation of %s on %s is blocked by the capability denylist", [install.capability, install.target_id]),
		"severity": "error",
	}
}
`,
	}
}

// staleContextPolicy warns when an evaluation context carries no
// environment, which usually means the operator forgot to set one.
func staleContextPolicy() Policy {
	return Policy{
		Name:        "unlabeled-environment",
		Description: "Warns when installations run without a declared environment",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"hygiene"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package capstan.policies.environment

import rego.v1

deny contains violation if {
	install := input.install
	not input.context.environment

	violation := {
		"message": sprintf("Installation of %s on %s runs without a declared environment", [install.capability, install.target_id]),
		"severity": "warning",
	}
}
`,
	}
}
