package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newProfileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "profile <target>",
		Short: "Detect a target's platform profile",
		Long: `Connect to a target and detect its platform profile: OS family, release
version, and machine architecture. The profile is what capability
variants match against during resolution.`,
		Example: `  # Detect the platform of vm01
  capstan profile vm01

  # Machine-readable output
  capstan profile vm01 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			name := args[0]

			log.Info().Str("target", name).Msg("Detecting platform profile")

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

			profile, err := t.Profile(ctx)
			if err != nil {
				return fmt.Errorf("failed to detect platform of %s: %w", name, err)
			}
			failed = false

			if jsonOutput {
				return printJSON(profile)
			}

			fmt.Printf("Target:       %s\n", name)
			fmt.Printf("Family:       %s\n", profile.Family)
			fmt.Printf("Version:      %s\n", profile.Version)
			fmt.Printf("Architecture: %s\n", profile.Arch)
			return nil
		},
	}
}
