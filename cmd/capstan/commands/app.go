package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openfroyo/capstan/pkg/config"
	"github.com/openfroyo/capstan/pkg/engine"
	"github.com/openfroyo/capstan/pkg/policy"
	"github.com/openfroyo/capstan/pkg/providers"
	"github.com/openfroyo/capstan/pkg/stores"
	"github.com/openfroyo/capstan/pkg/targets"
	"github.com/openfroyo/capstan/pkg/telemetry"
	"github.com/openfroyo/capstan/pkg/transports/ssh"
)

// app bundles the wired collaborators a command needs: settings,
// inventory, the policy gate, the journal, telemetry, and the resolver.
// Commands that only read configuration use loadConfig instead.
type app struct {
	settings  *config.Settings
	inventory *config.Inventory

	store     *stores.SQLiteStore
	gate      *policy.Engine
	telemetry *telemetry.Telemetry
	resolver  *engine.Resolver
	sessionID string

	clients []*ssh.Client
}

// loadConfig parses capstan.cue and resolves the target inventory. A
// missing config file at the default location falls back to defaults
// with an empty inventory.
func loadConfig(ctx context.Context) (*config.CUEParser, *config.Settings, *config.Inventory, error) {
	parser := config.NewCUEParser()

	settings := config.DefaultSettings()
	var inline []config.TargetSpec
	if _, err := os.Stat(configPath); err == nil {
		settings, inline, err = parser.Load(ctx, []string{configPath})
		if err != nil {
			return nil, nil, nil, err
		}
	} else if configPath != "capstan.cue" {
		// An explicitly requested config file must exist.
		return nil, nil, nil, fmt.Errorf("config file not found: %s", configPath)
	}

	loader := config.NewInventoryLoader(parser)
	inv, err := loader.Load(ctx, inline, settings.Inventory.Sources)
	if err != nil {
		return nil, nil, nil, err
	}

	return parser, settings, inv, nil
}

// newApp wires the full resolution stack from configuration.
func newApp(ctx context.Context) (*app, error) {
	_, settings, inv, err := loadConfig(ctx)
	if err != nil {
		return nil, err
	}

	a := &app{
		settings:  settings,
		inventory: inv,
	}

	tel, err := telemetry.NewTelemetry(telemetryConfig(settings))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.telemetry = tel
	if settings.Telemetry.MetricsEnabled {
		if err := tel.StartMetricsServer(); err != nil {
			log.Warn().Err(err).Msg("metrics server failed to start")
		}
	}

	gate, err := policy.NewEngine(log.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize policy gate: %w", err)
	}
	if len(settings.Policy.Paths) > 0 {
		if err := gate.LoadPolicies(ctx, settings.Policy.Paths); err != nil {
			return nil, fmt.Errorf("failed to load policies: %w", err)
		}
	}
	evalContext := policy.Context{
		Environment: settings.Policy.Environment,
		Freeze:      settings.Policy.Freeze,
	}
	if len(settings.Policy.DeniedCapabilities) > 0 {
		evalContext.Metadata = map[string]interface{}{
			"denied_capabilities": settings.Policy.DeniedCapabilities,
		}
	}
	gate.SetContext(evalContext)
	a.gate = gate

	opts := engine.Options{
		Gate:    gate,
		Metrics: tel.Metrics,
		Tracer:  tel.Tracer,
		Events:  tel.Events,
	}

	if settings.Journal.Path != "" {
		store, err := stores.NewSQLiteStore(stores.Config{Path: settings.Journal.Path})
		if err != nil {
			return nil, err
		}
		if err := store.Init(ctx); err != nil {
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		if err := store.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("failed to migrate journal: %w", err)
		}
		if settings.Journal.RetentionDays > 0 {
			cutoff := time.Now().AddDate(0, 0, -settings.Journal.RetentionDays)
			if pruned, err := store.PruneSessions(ctx, cutoff); err != nil {
				log.Warn().Err(err).Msg("journal pruning failed")
			} else if pruned > 0 {
				log.Debug().Int64("sessions", pruned).Msg("pruned old journal sessions")
			}
		}

		sessionID, err := store.StartSession(ctx, "")
		if err != nil {
			store.Close()
			return nil, err
		}
		a.store = store
		a.sessionID = sessionID
		opts.Journal = store
		opts.SessionID = sessionID

		// Persist the engine's event stream alongside the journal rows.
		tel.Events.Subscribe(store.EventSubscriber(), nil)
	}

	a.resolver = engine.NewResolver(providers.NewRegistry(), opts)
	return a, nil
}

// Close finishes the journal session, disconnects transports, and
// flushes telemetry.
func (a *app) Close(ctx context.Context, failed bool) {
	for _, client := range a.clients {
		if err := client.Disconnect(); err != nil {
			log.Debug().Err(err).Msg("transport disconnect failed")
		}
	}

	if a.store != nil {
		status := stores.SessionStatusCompleted
		if failed {
			status = stores.SessionStatusFailed
		}
		if err := a.store.FinishSession(ctx, a.sessionID, status); err != nil {
			log.Warn().Err(err).Msg("failed to finish journal session")
		}
		if err := a.store.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close journal")
		}
	}

	if a.telemetry != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.telemetry.Shutdown(shutdownCtx); err != nil {
			log.Debug().Err(err).Msg("telemetry shutdown failed")
		}
	}
}

// connect establishes a transport to a named inventory target and wraps
// it in the engine's target surface.
func (a *app) connect(ctx context.Context, name string) (*targets.SSHTarget, error) {
	spec, err := a.inventory.Find(name)
	if err != nil {
		return nil, err
	}
	return a.connectSpec(ctx, spec)
}

func (a *app) connectSpec(ctx context.Context, spec *config.TargetSpec) (*targets.SSHTarget, error) {
	client, err := ssh.NewClient(spec.SSHConfig(a.settings.SSH))
	if err != nil {
		return nil, fmt.Errorf("failed to configure transport for %s: %w", spec.Name, err)
	}
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", spec.Name, err)
	}
	a.clients = append(a.clients, client)

	var opts []targets.Option
	if spec.WorkDir != "" {
		opts = append(opts, targets.WithWorkDir(spec.WorkDir))
	}
	if spec.SudoPassword != "" {
		opts = append(opts, targets.WithSudoPassword(spec.SudoPassword))
	}
	return targets.NewSSHTarget(spec.Name, client, opts...), nil
}

// telemetryConfig maps tool settings onto the telemetry configuration.
func telemetryConfig(settings *config.Settings) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.Environment = settings.Policy.Environment
	if settings.Telemetry.LogLevel != "" {
		cfg.Logging.Level = settings.Telemetry.LogLevel
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if settings.Telemetry.LogFormat != "" {
		cfg.Logging.Format = settings.Telemetry.LogFormat
	}
	cfg.Metrics.Enabled = settings.Telemetry.MetricsEnabled
	if settings.Telemetry.MetricsListen != "" {
		cfg.Metrics.ListenAddress = settings.Telemetry.MetricsListen
	}
	cfg.Tracing.Enabled = settings.Telemetry.TracingEnabled
	if settings.Telemetry.TracingEnabled {
		cfg.Tracing.Exporter = "otlp"
		cfg.Tracing.Endpoint = settings.Telemetry.TracingEndpoint
	}
	return cfg
}

// printJSON writes an indented JSON rendering to stdout.
func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
