package config

import (
	"fmt"
	"time"

	"github.com/openfroyo/capstan/pkg/transports/ssh"
)

// Settings is the tool configuration loaded from capstan.cue.
type Settings struct {
	// Workspace names the working set. It becomes the default session
	// prefix in the journal.
	Workspace string `json:"workspace" validate:"required,max=64"`

	// SSH holds connection defaults applied to every target that does
	// not override them.
	SSH SSHSettings `json:"ssh,omitempty"`

	// Journal configures the resolution journal.
	Journal JournalSettings `json:"journal,omitempty"`

	// Policy configures the installation gate.
	Policy PolicySettings `json:"policy,omitempty"`

	// Resolver configures capability resolution behavior.
	Resolver ResolverSettings `json:"resolver,omitempty"`

	// Telemetry configures logging, metrics, and tracing.
	Telemetry TelemetrySettings `json:"telemetry,omitempty"`

	// Inventory lists additional inventory sources (YAML, CUE, or
	// Starlark files) loaded alongside any inline targets.
	Inventory InventorySettings `json:"inventory,omitempty"`
}

// SSHSettings are connection defaults for targets. Zero values fall back
// to the transport defaults.
type SSHSettings struct {
	// User is the default SSH username.
	User string `json:"user,omitempty"`

	// Port is the default SSH port.
	Port int `json:"port,omitempty" validate:"omitempty,min=1,max=65535"`

	// AuthMethod is the default authentication method (password, key, agent).
	AuthMethod string `json:"auth_method,omitempty" validate:"omitempty,oneof=password key agent"`

	// PrivateKeyPath is the default private key.
	PrivateKeyPath string `json:"private_key_path,omitempty"`

	// KnownHostsPath points at the known_hosts file used for host key
	// verification.
	KnownHostsPath string `json:"known_hosts_path,omitempty"`

	// StrictHostKey rejects unknown host keys.
	StrictHostKey bool `json:"strict_host_key,omitempty"`

	// ConnectTimeoutSeconds bounds connection establishment.
	ConnectTimeoutSeconds int `json:"connect_timeout_seconds,omitempty" validate:"omitempty,min=1"`

	// CommandTimeoutSeconds bounds individual command execution.
	CommandTimeoutSeconds int `json:"command_timeout_seconds,omitempty" validate:"omitempty,min=1"`
}

// JournalSettings configures the SQLite resolution journal.
type JournalSettings struct {
	// Path is the journal database file. Empty disables journaling.
	Path string `json:"path,omitempty"`

	// RetentionDays prunes sessions older than this many days on
	// startup. Zero keeps everything.
	RetentionDays int `json:"retention_days,omitempty" validate:"omitempty,min=1"`
}

// PolicySettings configures the Rego installation gate.
type PolicySettings struct {
	// Paths lists .rego files or directories loaded in addition to the
	// built-in policies.
	Paths []string `json:"paths,omitempty"`

	// Environment labels the deployment environment for policy input
	// (e.g. "staging", "production").
	Environment string `json:"environment,omitempty"`

	// Freeze blocks all installations regardless of other policies.
	Freeze bool `json:"freeze,omitempty"`

	// DeniedCapabilities lists capability IDs the gate rejects outright.
	DeniedCapabilities []string `json:"denied_capabilities,omitempty"`
}

// ResolverSettings configures capability resolution.
type ResolverSettings struct {
	// Workers bounds concurrent per-target resolution in apply runs.
	Workers int `json:"workers,omitempty" validate:"omitempty,min=1,max=64"`

	// ProbeTimeoutSeconds bounds a single presence probe.
	ProbeTimeoutSeconds int `json:"probe_timeout_seconds,omitempty" validate:"omitempty,min=1"`

	// InstallTimeoutSeconds bounds a single installation strategy.
	InstallTimeoutSeconds int `json:"install_timeout_seconds,omitempty" validate:"omitempty,min=1"`
}

// TelemetrySettings configures logging, metrics, and tracing from
// capstan.cue. The full telemetry wiring happens in the CLI.
type TelemetrySettings struct {
	// LogLevel sets the minimum log level.
	LogLevel string `json:"log_level,omitempty" validate:"omitempty,oneof=trace debug info warn error fatal"`

	// LogFormat selects console or json output.
	LogFormat string `json:"log_format,omitempty" validate:"omitempty,oneof=console json"`

	// MetricsEnabled exposes Prometheus metrics.
	MetricsEnabled bool `json:"metrics_enabled,omitempty"`

	// MetricsListen is the metrics HTTP listen address.
	MetricsListen string `json:"metrics_listen,omitempty"`

	// TracingEnabled exports OTLP traces.
	TracingEnabled bool `json:"tracing_enabled,omitempty"`

	// TracingEndpoint is the OTLP gRPC endpoint.
	TracingEndpoint string `json:"tracing_endpoint,omitempty"`
}

// InventorySettings points at external inventory sources.
type InventorySettings struct {
	// Sources lists inventory files loaded in order. Supported
	// extensions: .yaml/.yml (static), .cue, .star (dynamic).
	Sources []string `json:"sources,omitempty"`
}

// DefaultSettings returns the settings used when capstan.cue omits a
// section.
func DefaultSettings() *Settings {
	return &Settings{
		Workspace: "default",
		SSH: SSHSettings{
			Port:                  22,
			AuthMethod:            "key",
			StrictHostKey:         true,
			ConnectTimeoutSeconds: 30,
			CommandTimeoutSeconds: 300,
		},
		Journal: JournalSettings{
			Path: "capstan.db",
		},
		Policy: PolicySettings{
			Environment: "development",
		},
		Resolver: ResolverSettings{
			Workers:               4,
			ProbeTimeoutSeconds:   60,
			InstallTimeoutSeconds: 600,
		},
		Telemetry: TelemetrySettings{
			LogLevel:      "info",
			LogFormat:     "console",
			MetricsListen: ":9091",
		},
	}
}

// TargetSpec is one inventory entry describing a reachable machine.
type TargetSpec struct {
	// Name is the target identifier used in CLI arguments and the
	// journal.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Host is the hostname or IP address.
	Host string `json:"host" yaml:"host" validate:"required"`

	// Port overrides the SSH default port.
	Port int `json:"port,omitempty" yaml:"port,omitempty" validate:"omitempty,min=1,max=65535"`

	// User overrides the SSH default username.
	User string `json:"user,omitempty" yaml:"user,omitempty"`

	// AuthMethod overrides the SSH default authentication method.
	AuthMethod string `json:"auth_method,omitempty" yaml:"auth_method,omitempty" validate:"omitempty,oneof=password key agent"`

	// Password is used for password authentication.
	Password string `json:"password,omitempty" yaml:"password,omitempty"`

	// PrivateKeyPath overrides the SSH default private key.
	PrivateKeyPath string `json:"private_key_path,omitempty" yaml:"private_key_path,omitempty"`

	// SudoPassword is used for elevated commands. Empty assumes
	// NOPASSWD sudo.
	SudoPassword string `json:"sudo_password,omitempty" yaml:"sudo_password,omitempty"`

	// WorkDir overrides the remote scratch directory.
	WorkDir string `json:"workdir,omitempty" yaml:"workdir,omitempty"`

	// Labels select targets in manifests.
	Labels map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
}

// SSHConfig builds the transport configuration for this target,
// filling gaps from the tool-level defaults.
func (ts *TargetSpec) SSHConfig(defaults SSHSettings) *ssh.Config {
	cfg := ssh.DefaultConfig(ts.Host, ts.User)

	if defaults.User != "" {
		cfg.User = defaults.User
	}
	if ts.User != "" {
		cfg.User = ts.User
	}
	if defaults.Port > 0 {
		cfg.Port = defaults.Port
	}
	if ts.Port > 0 {
		cfg.Port = ts.Port
	}

	method := defaults.AuthMethod
	if ts.AuthMethod != "" {
		method = ts.AuthMethod
	}
	if method != "" {
		cfg.AuthMethod = ssh.AuthMethod(method)
	}

	cfg.Password = ts.Password
	if defaults.PrivateKeyPath != "" {
		cfg.PrivateKeyPath = defaults.PrivateKeyPath
	}
	if ts.PrivateKeyPath != "" {
		cfg.PrivateKeyPath = ts.PrivateKeyPath
	}
	if defaults.KnownHostsPath != "" {
		cfg.KnownHostsPath = defaults.KnownHostsPath
	}
	cfg.StrictHostKeyChecking = defaults.StrictHostKey
	if defaults.ConnectTimeoutSeconds > 0 {
		cfg.ConnectionTimeout = time.Duration(defaults.ConnectTimeoutSeconds) * time.Second
	}
	if defaults.CommandTimeoutSeconds > 0 {
		cfg.CommandTimeout = time.Duration(defaults.CommandTimeoutSeconds) * time.Second
	}

	return cfg
}

// Inventory is the resolved set of targets from all sources.
type Inventory struct {
	Targets []TargetSpec `json:"targets" yaml:"targets"`
}

// Find returns the target with the given name.
func (inv *Inventory) Find(name string) (*TargetSpec, error) {
	for i := range inv.Targets {
		if inv.Targets[i].Name == name {
			return &inv.Targets[i], nil
		}
	}
	return nil, fmt.Errorf("target %q not found in inventory", name)
}

// Names returns all target names in inventory order.
func (inv *Inventory) Names() []string {
	names := make([]string, len(inv.Targets))
	for i := range inv.Targets {
		names[i] = inv.Targets[i].Name
	}
	return names
}

// Manifest declares the capabilities an apply run must ensure.
type Manifest struct {
	// Name identifies the manifest in logs and the journal.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Capabilities lists the capabilities to ensure, each with a
	// target selector.
	Capabilities []ManifestEntry `json:"capabilities" yaml:"capabilities" validate:"required,min=1,dive"`
}

// ManifestEntry pairs one capability with the targets it applies to.
type ManifestEntry struct {
	// Capability is the capability ID to ensure (e.g. "kvp", "lsvmbus").
	Capability string `json:"capability" yaml:"capability" validate:"required"`

	// Targets selects which inventory targets this entry covers.
	Targets Selector `json:"targets,omitempty" yaml:"targets,omitempty"`
}

// Selector matches inventory targets by name, by label, or all at once.
// An empty selector matches nothing; manifests must opt in explicitly.
type Selector struct {
	// Names lists specific target names.
	Names []string `json:"names,omitempty" yaml:"names,omitempty"`

	// Labels matches targets carrying every listed label.
	Labels map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`

	// All matches every target in the inventory.
	All bool `json:"all,omitempty" yaml:"all,omitempty"`
}

// Matches reports whether the selector covers the given target.
func (s *Selector) Matches(ts *TargetSpec) bool {
	if s.All {
		return true
	}
	for _, name := range s.Names {
		if name == ts.Name {
			return true
		}
	}
	if len(s.Labels) > 0 {
		for k, v := range s.Labels {
			if ts.Labels[k] != v {
				return false
			}
		}
		return true
	}
	return false
}

// Empty reports whether the selector selects nothing.
func (s *Selector) Empty() bool {
	return !s.All && len(s.Names) == 0 && len(s.Labels) == 0
}

// Select returns the inventory targets the entry covers, in inventory
// order. Explicitly named targets that are missing from the inventory
// are an error; label selectors that match nothing are not.
func (e *ManifestEntry) Select(inv *Inventory) ([]TargetSpec, error) {
	if e.Targets.Empty() {
		return nil, fmt.Errorf("capability %q selects no targets", e.Capability)
	}

	for _, name := range e.Targets.Names {
		if _, err := inv.Find(name); err != nil {
			return nil, fmt.Errorf("capability %q: %w", e.Capability, err)
		}
	}

	var selected []TargetSpec
	for i := range inv.Targets {
		if e.Targets.Matches(&inv.Targets[i]) {
			selected = append(selected, inv.Targets[i])
		}
	}
	return selected, nil
}

// ParsedConfig is the result of parsing capstan.cue sources.
type ParsedConfig struct {
	// Settings is the tool configuration.
	Settings Settings `json:"settings"`

	// Targets holds inline targets declared in the CUE sources.
	Targets []TargetSpec `json:"targets,omitempty"`

	// SourceFiles are the CUE files that were parsed.
	SourceFiles []string `json:"source_files"`

	// ParsedAt is when the configuration was parsed.
	ParsedAt time.Time `json:"parsed_at"`

	// Errors lists any validation errors.
	Errors []ValidationError `json:"errors,omitempty"`
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the CUE path to the error (e.g. "targets.vm01.host").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning, info).
	Severity string `json:"severity" validate:"required,oneof=error warning info"`
}
