// Package config loads the capstan tool configuration and the target
// inventory.
//
// # Overview
//
// Three input formats feed the resolver:
//
//   - capstan.cue: CUE tool configuration (SSH defaults, journal,
//     policy gate, resolver, telemetry) plus optional inline targets.
//   - inventory.yaml / inventory.cue / inventory.star: static or
//     dynamic target inventories.
//   - manifest.yaml: capability manifests for apply runs, pairing
//     capability IDs with target selectors.
//
// # Components
//
// CUEParser: parses and validates capstan.cue sources. Structural
// validation uses go-playground/validator struct tags; optional schema
// validation uses the CUE definitions in SchemaRegistry.
//
// InventoryLoader: resolves targets from all sources, dispatching on
// file extension. Starlark scripts run through StarlarkInventory,
// sandboxed with a timeout, and must define a top-level "targets" list.
//
// SchemaRegistry: compiled CUE schemas for settings, targets, and
// manifests, with custom schema registration.
//
// # Usage Example
//
//	parser := config.NewCUEParser()
//	settings, inline, err := parser.Load(ctx, []string{"capstan.cue"})
//	if err != nil {
//	    log.Fatal().Err(err).Msg("bad configuration")
//	}
//
//	loader := config.NewInventoryLoader(parser)
//	inv, err := loader.Load(ctx, inline, settings.Inventory.Sources)
//
//	manifest, err := config.LoadManifest("manifest.yaml")
//	for _, entry := range manifest.Capabilities {
//	    targets, err := entry.Select(inv)
//	    // ensure entry.Capability on each target
//	}
//
// # Configuration Structure
//
//	workspace: "lab"
//
//	ssh: {
//	    user: "azureuser"
//	    private_key_path: "~/.ssh/id_ed25519"
//	}
//
//	policy: {
//	    environment: "staging"
//	    paths: ["policies/"]
//	}
//
//	targets: {
//	    vm01: {host: "10.0.0.4", labels: {role: "sut"}}
//	    vm02: {host: "10.0.0.5", user: "root"}
//	}
//
// # Dynamic Inventory
//
// A Starlark inventory script generates targets procedurally:
//
//	targets = [
//	    {"name": "vm-%d" % i, "host": "10.0.0.%d" % (10 + i)}
//	    for i in range(4)
//	]
//
// Execution is sandboxed: no filesystem or network access, print
// suppressed, timeout enforced (default 30 seconds).
//
// # Error Handling
//
// Parse and validation errors carry source locations:
//
//	ValidationError{
//	    File: "capstan.cue",
//	    Line: 12,
//	    Column: 5,
//	    Path: "targets.vm01",
//	    Message: "host is required",
//	    Severity: "error",
//	}
//
// # Thread Safety
//
// All types in this package are safe for concurrent use.
package config
