package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "sb",
		Short: "signalbox: run many agent sessions from one chat",
		Long: "signalbox lets several long-running agent sessions share one chat channel with\n" +
			"one operator: status, ad-hoc instructions, blocking questions and approvals.",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to signalbox config file (default $SIGNALBOX_CONFIG or ~/.config/signalbox/signalbox.yaml)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newListenCmd())
	cmd.AddCommand(newSetupCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newCleanupCmd())
	cmd.AddCommand(newSessionCmd())
	cmd.AddCommand(newHookCmd())
	cmd.AddCommand(newAskCmd())
	cmd.AddCommand(newApproveCmd())
	cmd.AddCommand(newNotifyCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "sb %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

// exitError carries a specific process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			return ee.code
		}
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
