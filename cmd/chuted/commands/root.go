package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// ErrNotCompleted is returned when an update ran but did not complete.
var ErrNotCompleted = errors.New("update did not complete")

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "chuted",
		Short: "chuted - edge gateway chute agent",
		Long: `chuted installs and maintains containerized applications ("chutes") on an
edge gateway and carries out router-level commands.

Every change is planned as a set of staged operations. When one of them fails,
the operations already run are undone in reverse order so the gateway returns
to its previous state.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newChuteCommand("start", "Start an installed chute"))
	rootCmd.AddCommand(newChuteCommand("stop", "Stop a running chute"))
	rootCmd.AddCommand(newChuteCommand("restart", "Restart a chute"))
	rootCmd.AddCommand(newChuteCommand("delete", "Remove a chute and its containers"))
	rootCmd.AddCommand(newRouterCommand("reboot", "Reboot the gateway in one minute"))
	rootCmd.AddCommand(newRouterCommand("shutdown", "Halt the gateway in one minute"))
	rootCmd.AddCommand(newRouterCommand("factory-reset", "Remove every chute and container"))
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newValidateCommand())

	return rootCmd
}
