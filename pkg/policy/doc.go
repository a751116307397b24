// Package policy provides Open Policy Agent (OPA) integration for Capstan.
//
// The package implements the resolver's install gate: before any
// installation strategy mutates a target, the pending installation is
// evaluated against a set of Rego policies. It includes built-in policies
// for common governance requirements and supports custom policy loading.
//
// # Architecture
//
// The policy system consists of four main components:
//
//  1. Engine - Compiles and evaluates Rego policies
//  2. Loader - Loads policies from files, directories, and bundles
//  3. Types - Data structures for policies, violations, and context
//  4. Built-in Policies - Pre-defined policies for common requirements
//
// # Usage
//
// Creating a policy engine and wiring it into a resolver:
//
//	logger := zerolog.New(os.Stdout)
//	gate, err := policy.NewEngine(logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	resolver := engine.NewResolver(registry, engine.Options{Gate: gate})
//
// Every installation the resolver attempts is then evaluated:
//
//	decision, err := gate.AllowInstall(ctx, engine.InstallRequest{
//	    Capability: "kvp",
//	    Variant:    "kvp-compiled",
//	    Strategy:   "download-by-arch",
//	    TargetID:   "vm-03",
//	    Profile:    profile,
//	})
//
// Loading custom policies:
//
//	paths := []string{
//	    "/etc/capstan/policies",
//	    "/opt/policies/custom.rego",
//	}
//
//	err = gate.LoadPolicies(ctx, paths)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Built-in Policies
//
// The following policies are included by default:
//
//  1. mutation-freeze - Blocks all installations while a freeze is active
//  2. production-source-build - Forbids compiling on production targets
//  3. immutable-host - Refuses package installs on read-only distros
//  4. capability-denylist - Denies operator-listed capabilities
//  5. unlabeled-environment - Warns when no environment is declared
//
// # Custom Policies
//
// Custom policies can be written in Rego and loaded from files:
//
//	package custom.policies.agent
//
//	import rego.v1
//
//	deny contains violation if {
//	    install := input.install
//
//	    # The guest agent must never be reinstalled by the engine
//	    install.capability == "guest-agent"
//
//	    violation := {
//	        "message": "guest-agent installation is managed out of band",
//	        "severity": "error",
//	    }
//	}
//
// # Severity Levels
//
// Violations have four severity levels:
//
//  - info: Informational messages
//  - warning: Logged, but the installation proceeds
//  - error: Violations that deny the installation
//  - critical: Violations that deny and must never be overridden
//
// # Hot Reload
//
// The loader supports watching policy files for changes and reloading
// automatically:
//
//	loader := policy.NewLoader(logger)
//	err = loader.Watch(ctx, paths, func(policies []policy.Policy) error {
//	    return gate.LoadPolicies(ctx, paths)
//	})
//
// # Performance
//
// Policies are compiled once and reused for every gate decision. The
// engine prepares each policy's deny query with OPA's PreparedEvalQuery.
//
// # Context Injection
//
// Gate decisions can include operator context set via SetContext:
//
//  - Environment: Target environment (production, staging, etc.)
//  - Freeze: Whether a mutation freeze is active
//  - Dry run: Whether this is a dry-run evaluation
//  - Metadata: Arbitrary keys policies may consult
//
// This context allows policies to make environment-aware decisions.
package policy
