package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/capstan/pkg/config"
	"github.com/openfroyo/capstan/pkg/engine"
)

func newApplyCommand() *cobra.Command {
	var (
		manifestFile string
		parallelism  int
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply a capability manifest",
		Long: `Apply a capability manifest: resolve every requested capability on every
selected target, installing on demand where the policy gate allows it.

Each manifest entry names a capability and a target selector (explicit
names, label match, or all). Tasks run with bounded parallelism across
targets; tasks on a single target run sequentially.`,
		Example: `  # Apply a manifest
  capstan apply -f manifest.yaml

  # Limit concurrency
  capstan apply -f manifest.yaml --parallelism 2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			log.Info().Str("manifest", manifestFile).Msg("Applying manifest")

			manifest, err := config.LoadManifest(manifestFile)
			if err != nil {
				return err
			}

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			failed := true
			defer func() { a.Close(ctx, failed) }()

			plan, selected, err := buildManifestPlan(manifest, a.inventory, a.resolver.Registry())
			if err != nil {
				return err
			}
			if len(plan.Tasks) == 0 {
				fmt.Println("Manifest selects no work.")
				failed = false
				return nil
			}

			log.Info().
				Str("plan", plan.ID).
				Int("tasks", len(plan.Tasks)).
				Int("targets", len(selected)).
				Msg("Executing plan")

			targetMap := make(map[string]engine.Target, len(selected))
			for name, spec := range selected {
				t, err := a.connectSpec(ctx, spec)
				if err != nil {
					// Unreachable targets fail their tasks inside the run
					// rather than aborting the whole plan.
					log.Warn().Err(err).Str("target", name).Msg("target unreachable")
					targetMap[name] = nil
					continue
				}
				targetMap[name] = t
			}

			workers := a.settings.Resolver.Workers
			if parallelism > 0 {
				workers = parallelism
			}

			scheduler := engine.NewScheduler(a.resolver, workers)
			run, err := scheduler.Run(ctx, plan, targetMap)
			if err != nil {
				return err
			}
			failed = run.Failed > 0

			if jsonOutput {
				return printJSON(run)
			}

			printRunResult(run)
			if run.Failed > 0 {
				return fmt.Errorf("%d of %d task(s) failed", run.Failed, len(run.Results))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&manifestFile, "file", "f", "", "manifest file to apply")
	cmd.Flags().IntVar(&parallelism, "parallelism", 0, "max targets resolved concurrently (default from config)")
	cmd.MarkFlagRequired("file")

	return cmd
}

// buildManifestPlan turns manifest entries into a deduplicated task plan
// and collects the union of selected targets.
func buildManifestPlan(manifest *config.Manifest, inv *config.Inventory, registry *engine.Registry) (*engine.Plan, map[string]*config.TargetSpec, error) {
	plan := &engine.Plan{
		ID:        uuid.New().String(),
		CreatedAt: time.Now(),
	}
	selected := make(map[string]*config.TargetSpec)
	seen := make(map[engine.Task]bool)

	for _, entry := range manifest.Capabilities {
		capability := engine.CapabilityID(entry.Capability)
		if !registry.Known(capability) {
			return nil, nil, fmt.Errorf("manifest %s: unknown capability %q", manifest.Name, entry.Capability)
		}

		specs, err := entry.Select(inv)
		if err != nil {
			return nil, nil, fmt.Errorf("manifest %s: %w", manifest.Name, err)
		}

		for i := range specs {
			spec := &specs[i]
			task := engine.Task{Capability: capability, TargetID: spec.Name}
			if seen[task] {
				continue
			}
			seen[task] = true
			plan.Tasks = append(plan.Tasks, task)
			if _, ok := selected[spec.Name]; !ok {
				selected[spec.Name] = spec
			}
		}
	}

	return plan, selected, nil
}

func printRunResult(run *engine.RunResult) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TARGET\tCAPABILITY\tSTATUS\tVARIANT\tINSTALLED\tDURATION")
	for _, res := range run.Results {
		status := "ok"
		detail := res.Variant
		if res.Err != nil {
			status = "failed"
			detail = res.ErrorKind
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\n",
			res.Task.TargetID, res.Task.Capability, status, detail,
			res.Installed, res.Duration.Round(time.Millisecond))
	}
	w.Flush()

	fmt.Printf("\nPlan %s: %d task(s), %d failed, %s\n",
		run.PlanID, len(run.Results), run.Failed, run.Duration.Round(time.Millisecond))
	for _, res := range run.Results {
		if res.Err != nil {
			fmt.Printf("  ✗ %s/%s: %v\n", res.Task.TargetID, res.Task.Capability, res.Err)
		}
	}
}
