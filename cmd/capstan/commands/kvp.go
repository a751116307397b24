package commands

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/capstan/pkg/providers"
)

func newKvpCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kvp",
		Short: "Query Hyper-V KVP data on a target",
		Long: `Query Hyper-V key-value pair (KVP) data exchanged between a guest and
its host. The KVP capability resolves to the platform-appropriate
provider before any query runs, installing tooling on demand.`,
	}

	cmd.AddCommand(newKvpPoolsCommand())
	cmd.AddCommand(newKvpRecordsCommand())
	cmd.AddCommand(newKvpHostnameCommand())

	return cmd
}

// resolveKvp resolves the KVP capability on a named target and returns
// its operation surface.
func resolveKvp(ctx context.Context, a *app, name string) (providers.Kvp, error) {
	t, err := a.connect(ctx, name)
	if err != nil {
		return nil, err
	}
	resolved, err := a.resolver.Resolve(ctx, providers.CapKvp, t)
	if err != nil {
		return nil, err
	}
	kvp, ok := resolved.Provider.(providers.Kvp)
	if !ok {
		return nil, fmt.Errorf("capability %s resolved to unexpected provider %T", providers.CapKvp, resolved.Provider)
	}
	return kvp, nil
}

func newKvpPoolsCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "pools <target>",
		Short:   "Show the number of KVP pools",
		Example: `  capstan kvp pools vm01`,
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

			kvp, err := resolveKvp(ctx, a, name)
			if err != nil {
				return err
			}
			count, err := kvp.PoolCount(ctx)
			if err != nil {
				return err
			}
			failed = false

			if jsonOutput {
				return printJSON(map[string]int{"pools": count})
			}
			fmt.Printf("%d\n", count)
			return nil
		},
	}
}

func newKvpRecordsCommand() *cobra.Command {
	var pool int

	cmd := &cobra.Command{
		Use:   "records <target>",
		Short: "Dump the records of a KVP pool",
		Example: `  # Dump pool 0 (host-to-guest intrinsic data)
  capstan kvp records vm01 --pool 0

  # Machine-readable output
  capstan kvp records vm01 --pool 3 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			name := args[0]

			log.Info().Str("target", name).Int("pool", pool).Msg("Reading KVP pool")

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			failed := true
			defer func() { a.Close(ctx, failed) }()

			kvp, err := resolveKvp(ctx, a, name)
			if err != nil {
				return err
			}
			records, err := kvp.PoolRecords(ctx, pool)
			if err != nil {
				return err
			}
			failed = false

			if jsonOutput {
				return printJSON(records)
			}

			keys := make([]string, 0, len(records))
			for k := range records {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tVALUE")
			for _, k := range keys {
				fmt.Fprintf(w, "%s\t%s\n", k, records[k])
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&pool, "pool", 0, "KVP pool index")

	return cmd
}

func newKvpHostnameCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "hostname <target>",
		Short:   "Show the Hyper-V host name as seen by the guest",
		Example: `  capstan kvp hostname vm01`,
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

			kvp, err := resolveKvp(ctx, a, name)
			if err != nil {
				return err
			}
			hostname, err := kvp.HostName(ctx)
			if err != nil {
				return err
			}
			failed = false

			if jsonOutput {
				return printJSON(map[string]string{"hostname": hostname})
			}
			fmt.Println(hostname)
			return nil
		},
	}
}
