package commands

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/edgechute/chuted/pkg/stores"
)

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed chutes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			chutes, err := store.ListChutes(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), chutes)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tVERSION\tSTATE\tSERVICES")
			for _, c := range chutes {
				names := make([]string, 0, len(c.Services))
				for name := range c.Services {
					names = append(names, name)
				}
				sort.Strings(names)
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.Name, c.Version, c.State, strings.Join(names, ","))
			}
			return tw.Flush()
		},
	}
}

func newHistoryCommand() *cobra.Command {
	var (
		chuteName string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "history [update-id]",
		Short: "Show past updates",
		Long: `Show the most recent updates, or the recorded events of a single update.`,
		Example: `  # Recent updates of one chute
  chuted history --chute web --limit 5

  # Events of one update
  chuted history 6f1c2e4a-...`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if len(args) == 1 {
				return showUpdate(cmd, store, args[0])
			}

			var filter *string
			if chuteName != "" {
				filter = &chuteName
			}
			records, err := store.ListUpdates(cmd.Context(), filter, limit, 0)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), records)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTYPE\tCHUTE\tSTATE\tSTARTED\tDURATION")
			for _, r := range records {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.Type, r.Chute, r.State,
					r.StartedAt.Local().Format(time.DateTime),
					(time.Duration(r.DurationMS) * time.Millisecond).String())
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&chuteName, "chute", "", "only show updates of this chute")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of updates")

	return cmd
}

func showUpdate(cmd *cobra.Command, store *stores.SQLiteStore, id string) error {
	rec, err := store.GetUpdate(cmd.Context(), id)
	if err != nil {
		return fmt.Errorf("update %s: %w", id, err)
	}
	events, err := store.GetEvents(cmd.Context(), &id, -1, 0)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{"update": rec, "events": events})
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s %s %s: %s\n", rec.ID, rec.Type, rec.Chute, rec.State)
	if rec.Error != nil {
		fmt.Fprintf(w, "error: %s\n", *rec.Error)
	}
	for _, e := range events {
		fmt.Fprintf(w, "  %s %-5s %s\n", e.Timestamp.Local().Format(time.TimeOnly), e.Level, e.Message)
	}
	return nil
}
