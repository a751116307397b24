package commands

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newTargetsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "targets",
		Short: "Inspect the target inventory",
		Long: `Inspect the target inventory assembled from inline configuration and
inventory sources (YAML, CUE, and Starlark).`,
	}

	cmd.AddCommand(newTargetsListCommand())
	cmd.AddCommand(newTargetsValidateCommand())

	return cmd
}

func newTargetsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List inventory targets",
		Example: `  # List all targets
  capstan targets list

  # Machine-readable output
  capstan targets list --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			_, settings, inv, err := loadConfig(ctx)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(inv.Targets)
			}

			if len(inv.Targets) == 0 {
				fmt.Println("No targets in inventory.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tHOST\tPORT\tUSER\tAUTH\tLABELS")
			for _, spec := range inv.Targets {
				cfg := spec.SSHConfig(settings.SSH)
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
					spec.Name, spec.Host, cfg.Port, cfg.User, cfg.AuthMethod, formatLabels(spec.Labels))
			}
			return w.Flush()
		},
	}
}

func newTargetsValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and inventory",
		Long: `Validate the configuration file and every inventory target against the
built-in schemas. Exits non-zero when any target is invalid.`,
		Example: `  # Validate the default configuration
  capstan targets validate

  # Validate an alternate configuration
  capstan targets validate --config staging.cue`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			log.Info().Str("config", configPath).Msg("Validating configuration")

			parser, settings, inv, err := loadConfig(ctx)
			if err != nil {
				return err
			}

			registry := parser.GetSchemaRegistry()

			invalid := 0
			if err := registry.ValidateSettings(ctx, *settings); err != nil {
				invalid++
				fmt.Printf("✗ settings: %v\n", err)
			} else {
				fmt.Println("✓ settings")
			}

			for _, spec := range inv.Targets {
				if err := registry.ValidateTarget(ctx, spec); err != nil {
					invalid++
					fmt.Printf("✗ target %s: %v\n", spec.Name, err)
					continue
				}
				fmt.Printf("✓ target %s\n", spec.Name)
			}

			if invalid > 0 {
				return fmt.Errorf("%d validation failure(s)", invalid)
			}
			fmt.Printf("\nConfiguration valid: %d target(s)\n", len(inv.Targets))
			return nil
		},
	}
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return "-"
	}
	pairs := make([]string, 0, len(labels))
	for k, v := range labels {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}
