package commands

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/capstan/pkg/engine"
)

func newResolveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <capability> <target>",
		Short: "Resolve a capability on a target",
		Long: `Resolve a capability on a target: select the variant matching the
target's platform, probe for a working command, install on demand when
the probe finds nothing, and report the outcome.

Installation is subject to the policy gate. A frozen environment or a
denied capability fails resolution with a policy error.`,
		Example: `  # Resolve the VMBus lister on vm01
  capstan resolve lsvmbus vm01

  # Machine-readable output
  capstan resolve kvp vm01 --json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			capability := engine.CapabilityID(args[0])
			name := args[1]

			log.Info().
				Str("capability", string(capability)).
				Str("target", name).
				Msg("Resolving capability")

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			failed := true
			defer func() { a.Close(ctx, failed) }()

			t, err := a.connect(ctx, name)
			if err != nil {
				return err
			}

			start := time.Now()
			resolved, err := a.resolver.Resolve(ctx, capability, t)
			if err != nil {
				return fmt.Errorf("resolution failed: %w", err)
			}
			failed = false

			if jsonOutput {
				return printJSON(resolvedSummary(resolved, time.Since(start)))
			}

			fmt.Printf("Capability: %s\n", resolved.Descriptor.Capability)
			fmt.Printf("Target:     %s\n", name)
			fmt.Printf("Variant:    %s\n", resolved.Descriptor.Name)
			fmt.Printf("Command:    %s\n", resolved.WorkingCommand())
			fmt.Printf("Installed:  %t\n", resolved.Installed)
			if len(resolved.Deps) > 0 {
				fmt.Printf("Dependencies:\n")
				for _, dep := range resolved.Deps {
					fmt.Printf("  - %s (%s)\n", dep.Descriptor.Capability, dep.Descriptor.Name)
				}
			}
			fmt.Printf("Duration:   %s\n", time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
}

type resolutionReport struct {
	Capability   string             `json:"capability"`
	Variant      string             `json:"variant"`
	Command      string             `json:"command"`
	Installed    bool               `json:"installed"`
	Dependencies []resolutionReport `json:"dependencies,omitempty"`
	DurationMS   int64              `json:"duration_ms,omitempty"`
}

func resolvedSummary(r *engine.Resolved, d time.Duration) resolutionReport {
	report := resolutionReport{
		Capability: string(r.Descriptor.Capability),
		Variant:    r.Descriptor.Name,
		Command:    r.WorkingCommand(),
		Installed:  r.Installed,
		DurationMS: d.Milliseconds(),
	}
	for _, dep := range r.Deps {
		report.Dependencies = append(report.Dependencies, resolvedSummary(dep, 0))
	}
	return report
}
