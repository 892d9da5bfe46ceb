package commands

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/edgechute/chuted/pkg/engine"
	"github.com/edgechute/chuted/pkg/manager"
)

func newApplyCommand() *cobra.Command {
	var requestFile string

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Execute an update request",
		Long: `Execute one update request and wait for the result.

The request is a YAML or JSON document with a type and either a chute
definition (create, update) or a chute name (start, stop, restart, delete).
The update is planned, executed stage by stage and rolled back if any
operation fails. The outcome is recorded in the update history.`,
		Example: `  # Install or upgrade a chute
  chuted apply -f web.yaml

  # Read the request from stdin and print the outcome as JSON
  cat web.yaml | chuted apply -f - --json`,
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

			log.Info().
				Str("type", string(req.Type)).
				Str("chute", req.ChuteName()).
				Msg("Applying update")

			return executeRequest(cmd, req)
		},
	}

	cmd.Flags().StringVarP(&requestFile, "file", "f", "", "request file (- for stdin)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func readRequest(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read request: %w", err)
	}
	return data, nil
}

// executeRequest runs req in-process and prints its outcome. It returns
// ErrNotCompleted when the update did not complete.
func executeRequest(cmd *cobra.Command, req *manager.Request) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newAgent(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.close()

	out, err := a.manager.Execute(cmd.Context(), req)
	if err != nil {
		return err
	}
	if err := printOutcome(cmd.OutOrStdout(), out); err != nil {
		return err
	}
	if out.State != engine.ExecStateCompleted {
		return errors.Join(ErrNotCompleted, out.Err)
	}
	return nil
}
