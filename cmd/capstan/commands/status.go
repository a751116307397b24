package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/capstan/pkg/stores"
)

func newStatusCommand() *cobra.Command {
	var (
		sessionID string
		limit     int
		events    bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show journaled resolution history",
		Long: `Show resolution history from the journal: recent sessions with their
resolution, failure, and install counts, or the detail of a single
session with --session.`,
		Example: `  # Recent sessions
  capstan status

  # Detail of one session
  capstan status --session 2f3a...

  # Include the session's event log
  capstan status --session 2f3a... --events`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			_, settings, _, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			if settings.Journal.Path == "" {
				return fmt.Errorf("no journal configured")
			}

			store, err := stores.NewSQLiteStore(stores.Config{Path: settings.Journal.Path})
			if err != nil {
				return err
			}
			if err := store.Init(ctx); err != nil {
				return fmt.Errorf("failed to open journal: %w", err)
			}
			defer store.Close()
			if err := store.Migrate(ctx); err != nil {
				return fmt.Errorf("failed to migrate journal: %w", err)
			}

			if sessionID != "" {
				return showSession(cmd, store, sessionID, limit, events)
			}
			return showSessions(cmd, store, limit)
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "show detail for one session")
	cmd.Flags().IntVar(&limit, "limit", 20, "max rows per listing")
	cmd.Flags().BoolVar(&events, "events", false, "include the session event log")

	return cmd
}

func showSessions(cmd *cobra.Command, store *stores.SQLiteStore, limit int) error {
	ctx := cmd.Context()

	sessions, err := store.ListSessions(ctx, limit, 0)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(sessions)
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions in journal.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tSTATUS\tSTARTED\tRESOLUTIONS\tFAILURES\tINSTALLS")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\n",
			s.ID, s.Status, s.StartedAt.Format(time.RFC3339),
			s.Resolutions, s.Failures, s.Installs)
	}
	return w.Flush()
}

func showSession(cmd *cobra.Command, store *stores.SQLiteStore, sessionID string, limit int, events bool) error {
	ctx := cmd.Context()

	session, err := store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	resolutions, err := store.ListResolutions(ctx, sessionID, limit, 0)
	if err != nil {
		return err
	}
	installs, err := store.ListInstalls(ctx, sessionID, limit, 0)
	if err != nil {
		return err
	}
	var eventRows []*stores.Event
	if events {
		eventRows, err = store.ListEvents(ctx, &sessionID, nil, limit, 0)
		if err != nil {
			return err
		}
	}

	if jsonOutput {
		out := map[string]interface{}{
			"session":     session,
			"resolutions": resolutions,
			"installs":    installs,
		}
		if events {
			out["events"] = eventRows
		}
		return printJSON(out)
	}

	fmt.Printf("Session: %s\n", session.ID)
	fmt.Printf("Status:  %s\n", session.Status)
	fmt.Printf("Started: %s\n", session.StartedAt.Format(time.RFC3339))
	if session.CompletedAt != nil {
		fmt.Printf("Ended:   %s\n", session.CompletedAt.Format(time.RFC3339))
	}

	if len(resolutions) > 0 {
		fmt.Printf("\nResolutions:\n")
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CAPABILITY\tTARGET\tOUTCOME\tVARIANT\tCACHED\tDURATION")
		for _, r := range resolutions {
			detail := r.Variant
			if r.Outcome != "resolved" {
				detail = r.ErrorKind
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%dms\n",
				r.Capability, r.TargetID, r.Outcome, detail, r.Cached, r.DurationMS)
		}
		w.Flush()
	}

	if len(installs) > 0 {
		fmt.Printf("\nInstalls:\n")
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CAPABILITY\tTARGET\tSTRATEGY\tSUCCEEDED\tDURATION")
		for _, i := range installs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%dms\n",
				i.Capability, i.TargetID, i.Strategy, i.Succeeded, i.DurationMS)
		}
		w.Flush()
	}

	if events && len(eventRows) > 0 {
		fmt.Printf("\nEvents:\n")
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tLEVEL\tTYPE\tMESSAGE")
		for _, e := range eventRows {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				e.Timestamp.Format(time.RFC3339), e.Level, e.Type, e.Message)
		}
		w.Flush()
	}

	return nil
}
