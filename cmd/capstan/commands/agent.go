package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/capstan/pkg/providers"
)

func newAgentCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Manage the Azure guest agent on a target",
		Long: `Manage the Azure guest agent (waagent) on a target. Resolution finds
the agent's installed command form before any operation runs.`,
	}

	cmd.AddCommand(newAgentStatusCommand())
	cmd.AddCommand(newAgentVersionCommand())
	cmd.AddCommand(newAgentDeprovisionCommand())

	return cmd
}

func resolveAgent(ctx context.Context, a *app, name string) (*providers.GuestAgent, error) {
	t, err := a.connect(ctx, name)
	if err != nil {
		return nil, err
	}
	resolved, err := a.resolver.Resolve(ctx, providers.CapGuestAgent, t)
	if err != nil {
		return nil, err
	}
	agent, ok := resolved.Provider.(*providers.GuestAgent)
	if !ok {
		return nil, fmt.Errorf("capability %s resolved to unexpected provider %T", providers.CapGuestAgent, resolved.Provider)
	}
	return agent, nil
}

func newAgentStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "status <target>",
		Short:   "Show guest agent status",
		Example: `  capstan agent status vm01`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			name := args[0]

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			failed := true
			defer func() { a.Close(ctx, failed) }()

			agent, err := resolveAgent(ctx, a, name)
			if err != nil {
				return err
			}

			running, err := agent.IsRunning(ctx)
			if err != nil {
				return err
			}
			version, err := agent.Version(ctx)
			if err != nil {
				return err
			}
			autoUpdate, err := agent.IsAutoUpdateEnabled(ctx)
			if err != nil {
				return err
			}
			failed = false

			if jsonOutput {
				return printJSON(map[string]interface{}{
					"running":     running,
					"version":     version,
					"auto_update": autoUpdate,
				})
			}

			fmt.Printf("Target:      %s\n", name)
			fmt.Printf("Running:     %t\n", running)
			fmt.Printf("Version:     %s\n", version)
			fmt.Printf("Auto-update: %t\n", autoUpdate)
			return nil
		},
	}
}

func newAgentVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version <target>",
		Short:   "Show the guest agent version",
		Example: `  capstan agent version vm01`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			name := args[0]

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			failed := true
			defer func() { a.Close(ctx, failed) }()

			agent, err := resolveAgent(ctx, a, name)
			if err != nil {
				return err
			}
			version, err := agent.Version(ctx)
			if err != nil {
				return err
			}
			failed = false

			if jsonOutput {
				return printJSON(map[string]string{"version": version})
			}
			fmt.Println(version)
			return nil
		},
	}
}

func newAgentDeprovisionCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "deprovision <target>",
		Short: "Deprovision the guest agent",
		Long: `Deprovision the guest agent, preparing the machine for generalization
into an image. This removes host-specific state and is not reversible;
the command asks for confirmation unless --force is given.`,
		Example: `  # Deprovision interactively
  capstan agent deprovision vm01

  # Skip the confirmation prompt
  capstan agent deprovision vm01 --force`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			name := args[0]

			if !force {
				fmt.Printf("Deprovisioning removes host-specific state from %s and cannot be undone.\n", name)
				fmt.Print("Continue? [y/N]: ")
				reader := bufio.NewReader(os.Stdin)
				answer, _ := reader.ReadString('\n')
				if strings.TrimSpace(strings.ToLower(answer)) != "y" {
					fmt.Println("Aborted.")
					return nil
				}
			}

			log.Info().Str("target", name).Msg("Deprovisioning guest agent")

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			failed := true
			defer func() { a.Close(ctx, failed) }()

			agent, err := resolveAgent(ctx, a, name)
			if err != nil {
				return err
			}
			if err := agent.Deprovision(ctx); err != nil {
				return err
			}
			failed = false

			fmt.Printf("✓ Deprovisioned guest agent on %s\n", name)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "skip the confirmation prompt")

	return cmd
}
