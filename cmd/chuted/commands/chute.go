package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/edgechute/chuted/pkg/engine"
	"github.com/edgechute/chuted/pkg/manager"
)

func newChuteCommand(use, short string) *cobra.Command {
	return &cobra.Command{
		Use:     use + " <chute>",
		Short:   short,
		Example: fmt.Sprintf("  chuted %s web", use),
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return executeRequest(cmd, &manager.Request{
				Type: engine.UpdateType(use),
				Name: args[0],
			})
		},
	}
}

// routerUpdates maps command names to router update types.
var routerUpdates = map[string]engine.UpdateType{
	"reboot":        engine.UpdateReboot,
	"shutdown":      engine.UpdateShutdown,
	"factory-reset": engine.UpdateFactoryReset,
}

func newRouterCommand(use, short string) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("%s affects the whole gateway, pass --yes to confirm", use)
			}
			return executeRequest(cmd, &manager.Request{Type: routerUpdates[use]})
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm the operation")

	return cmd
}
