package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/edgechute/chuted/pkg/manager"
	"github.com/edgechute/chuted/pkg/policy"
)

func newValidateCommand() *cobra.Command {
	var (
		strict       bool
		listPolicies bool
	)

	cmd := &cobra.Command{
		Use:   "validate [request...]",
		Short: "Validate the configuration and update requests",
		Long: `Validate the agent configuration and, optionally, update request files.

This command checks:
  - Configuration schema conformance
  - Request schema conformance
  - Policy compliance (OPA/rego) of the requested chutes

Nothing is executed and the installed chutes are not consulted.`,
		Example: `  # Validate the configuration
  chuted validate --config /etc/chuted/chuted.yaml

  # Validate requests and treat policy warnings as errors
  chuted validate --strict web.yaml db.yaml

  # Show the policies requests are checked against
  chuted validate --policies`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log.Info().Str("config", configPath).Msg("Configuration is valid")

			var pe *policy.Engine
			if cfg.Policy.Enabled && (len(args) > 0 || listPolicies) {
				pe, err = newPolicyEngine(cmd.Context(), cfg, zerolog.Nop())
				if err != nil {
					return err
				}
			}

			if listPolicies {
				printPolicies(cmd, pe)
			}

			failed := 0
			for _, path := range args {
				if err := validateRequest(cmd, pe, cfg.Router.ID, cfg.Router.Mode, path, strict); err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", path, err)
					failed++
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", path)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d requests failed validation", failed, len(args))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "treat policy warnings as errors")
	cmd.Flags().BoolVar(&listPolicies, "policies", false, "list the loaded policies")

	return cmd
}

func validateRequest(cmd *cobra.Command, pe *policy.Engine, routerID, mode, path string, strict bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	req, err := manager.ParseRequest(data)
	if err != nil {
		return err
	}
	if pe == nil || req.Chute == nil {
		return nil
	}

	input := policy.NewInput(string(req.Type), req.Chute, nil, &policy.Context{RouterID: routerID, Mode: mode})
	res, err := pe.Evaluate(cmd.Context(), input)
	if err != nil {
		return err
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: warning: %s\n", path, w)
	}
	for _, v := range res.Violations {
		if p, err := pe.GetPolicy(v.Policy); err == nil && p.Description != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s: %s\n", path, v.Policy, p.Description)
		}
	}
	if err := res.Err(); err != nil {
		return err
	}
	if strict && len(res.Warnings) > 0 {
		return fmt.Errorf("%d policy warnings", len(res.Warnings))
	}
	return nil
}

func printPolicies(cmd *cobra.Command, pe *policy.Engine) {
	if pe == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "policies disabled")
		return
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "POLICY\tSEVERITY\tENABLED\tDESCRIPTION")
	for _, p := range pe.ListPolicies() {
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", p.Name, p.Severity, p.Enabled, p.Description)
	}
	_ = tw.Flush()
}
