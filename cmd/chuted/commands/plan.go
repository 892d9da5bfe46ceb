package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/edgechute/chuted/pkg/manager"
)

func newPlanCommand() *cobra.Command {
	var (
		requestFile string
		dotFile     string
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the operations an update request would run",
		Long: `Generate the plan of an update request without executing it.

The plan lists every operation in the order it would run, with the
operation that undoes it if a later step fails. Nothing is changed and no
history is recorded.`,
		Example: `  # Show the plan of a chute upgrade
  chuted plan -f web.yaml

  # Write the plan as a Graphviz graph
  chuted plan -f web.yaml --dot plan.dot`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readRequest(cmd.InOrStdin(), requestFile)
			if err != nil {
				return err
			}
			req, err := manager.ParseRequest(data)
			if err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newAgent(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.close()

			u, err := a.manager.Plan(cmd.Context(), req)
			if err != nil {
				return err
			}

			if dotFile != "" {
				if err := os.WriteFile(dotFile, []byte(u.Plans.ToDOT()), 0o644); err != nil {
					return fmt.Errorf("failed to write DOT file: %w", err)
				}
				log.Info().Str("file", dotFile).Msg("Wrote plan graph")
			}

			entries := u.Plans.Entries()
			if jsonOutput {
				type step struct {
					Stage string `json:"stage"`
					Owner string `json:"owner"`
					Todo  string `json:"todo"`
					Abort string `json:"abort,omitempty"`
				}
				steps := make([]step, 0, len(entries))
				for _, e := range entries {
					s := step{Stage: e.Stage.String(), Owner: e.Owner, Todo: string(e.Todo.ID)}
					if e.Abort != nil {
						s.Abort = string(e.Abort.ID)
					}
					steps = append(steps, s)
				}
				return printJSON(cmd.OutOrStdout(), steps)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STAGE\tOWNER\tOPERATION\tUNDO")
			for _, e := range entries {
				undo := "-"
				if e.Abort != nil {
					undo = string(e.Abort.ID)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Stage, e.Owner, e.Todo.ID, undo)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVarP(&requestFile, "file", "f", "", "request file (- for stdin)")
	cmd.Flags().StringVar(&dotFile, "dot", "", "write the plan as a Graphviz DOT file")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}
