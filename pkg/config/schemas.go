package config

import (
	"context"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	ctx := cuecontext.New()
	sr := &SchemaRegistry{
		ctx:     ctx,
		schemas: make(map[string]cue.Value),
	}

	sr.registerBuiltInSchemas()

	return sr
}

// registerBuiltInSchemas registers all built-in schemas.
func (sr *SchemaRegistry) registerBuiltInSchemas() {
	sr.RegisterSchema("settings", builtinSettingsSchema)
	sr.RegisterSchema("target", builtinTargetSchema)
	sr.RegisterSchema("selector", builtinSelectorSchema)
	sr.RegisterSchema("manifest", builtinManifestSchema)
}

// RegisterSchema registers a CUE schema with the given name. A schema
// holding a single definition validates data against that definition;
// otherwise the whole value is the schema.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	sr.schemas[name] = schemaDefinition(val)
	return nil
}

// schemaDefinition returns the first definition in a schema value, or
// the value itself when it carries none.
func schemaDefinition(val cue.Value) cue.Value {
	iter, err := val.Fields(cue.Definitions(true))
	if err != nil {
		return val
	}
	for iter.Next() {
		if iter.Selector().IsDefinition() {
			return iter.Value()
		}
	}
	return val
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema validates data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	// Convert data to CUE value
	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	// Unify with schema (validates)
	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// ListSchemas returns all registered schema names.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	return names
}

// Built-in schema definitions

const builtinSettingsSchema = `
// Settings schema for capstan.cue tool configuration
#Settings: {
	// Workspace names the working set
	workspace: string & =~"^[a-zA-Z0-9_-]+$"

	// SSH holds connection defaults for targets
	ssh?: {
		user?: string
		port?: int & >=1 & <=65535
		auth_method?: "password" | "key" | "agent"
		private_key_path?: string
		known_hosts_path?: string
		strict_host_key?: bool
		connect_timeout_seconds?: int & >0
		command_timeout_seconds?: int & >0
	}

	// Journal configures the resolution journal
	journal?: {
		path?: string
		retention_days?: int & >0
	}

	// Policy configures the installation gate
	policy?: {
		paths?: [...string]
		environment?: string
		freeze?: bool
		denied_capabilities?: [...string]
	}

	// Resolver configures capability resolution
	resolver?: {
		workers?: int & >=1 & <=64
		probe_timeout_seconds?: int & >0
		install_timeout_seconds?: int & >0
	}

	// Telemetry configures logging, metrics, and tracing
	telemetry?: {
		log_level?: "trace" | "debug" | "info" | "warn" | "error" | "fatal"
		log_format?: "console" | "json"
		metrics_enabled?: bool
		metrics_listen?: string
		tracing_enabled?: bool
		tracing_endpoint?: string
	}

	// Inventory points at external inventory sources
	inventory?: {
		sources?: [...string]
	}
}
`

const builtinTargetSchema = `
// Target schema for inventory entries
#Target: {
	// Name identifies the target in CLI arguments and the journal
	name: string & =~"^[a-zA-Z0-9_.-]+$"

	// Host is the hostname or IP address
	host: string & !=""

	// Port overrides the SSH default port
	port?: int & >=1 & <=65535

	// User overrides the SSH default username
	user?: string

	// AuthMethod overrides the default authentication method
	auth_method?: "password" | "key" | "agent"

	// Password is used for password authentication
	password?: string

	// PrivateKeyPath overrides the default private key
	private_key_path?: string

	// SudoPassword is used for elevated commands
	sudo_password?: string

	// WorkDir overrides the remote scratch directory
	workdir?: string

	// Labels select targets in manifests
	labels?: {[string]: string}
}
`

const builtinSelectorSchema = `
// Selector schema for manifest target selection
#Selector: {
	// Names lists specific target names
	names?: [...string]

	// Labels matches targets carrying every listed label
	labels?: {[string]: string}

	// All matches every target in the inventory
	all?: bool
}
`

const builtinManifestSchema = `
// Manifest schema for capability apply runs
#Manifest: {
	// Name identifies the manifest
	name: string & =~"^[a-zA-Z0-9_.-]+$"

	// Capabilities lists the capabilities to ensure
	capabilities: [...{
		// Capability is the capability ID to ensure
		capability: string & =~"^[a-z0-9-]+$"

		// Targets selects which inventory targets this entry covers
		targets?: {
			names?: [...string]
			labels?: {[string]: string}
			all?: bool
		}
	}]
}
`

// ValidateSettings validates tool settings against the settings schema.
func (sr *SchemaRegistry) ValidateSettings(ctx context.Context, settings Settings) error {
	return sr.ValidateAgainstSchema(ctx, "settings", settings)
}

// ValidateTarget validates an inventory entry against the target schema.
func (sr *SchemaRegistry) ValidateTarget(ctx context.Context, target TargetSpec) error {
	return sr.ValidateAgainstSchema(ctx, "target", target)
}

// ValidateManifest validates a capability manifest against the manifest schema.
func (sr *SchemaRegistry) ValidateManifest(ctx context.Context, manifest Manifest) error {
	return sr.ValidateAgainstSchema(ctx, "manifest", manifest)
}
