package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/zulandar/signalbox/internal/hook"
	"go.uber.org/zap"
)

func newHookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hook",
		Short: "Agent hook adapters",
		Long: "Hook adapters are invoked by the agent with a JSON object on stdin and\n" +
			"answer with at most one JSON object on stdout.",
	}

	cmd.AddCommand(newHookDeliverCmd())
	cmd.AddCommand(newHookRegisterCmd())
	cmd.AddCommand(newHookUnregisterCmd())
	cmd.AddCommand(newHookApproveToolCmd())
	return cmd
}

// newRunner builds a hook runner bound to the parent (agent) process. A
// transport that cannot be built is logged and left out so that hooks which
// never post still work.
func newRunner(e *env) (*hook.Runner, error) {
	transport, err := transportFactory(e)
	if err != nil {
		e.log.Warn("chat transport unavailable", zap.Error(err))
		transport = nil
	}
	return hook.NewRunner(hook.RunnerOpts{
		DB:        e.db,
		Config:    e.cfg,
		Transport: transport,
		PPID:      os.Getppid(),
		Logger:    e.log,
	})
}

// runHook reads the invocation from stdin, runs fn and writes its output.
func runHook(cmd *cobra.Command, fn func(r *hook.Runner, in *hook.Input) (*hook.Output, error)) error {
	in, err := hook.ReadInput(cmd.InOrStdin())
	if err != nil {
		return err
	}
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	r, err := newRunner(e)
	if err != nil {
		return err
	}
	defer r.Close()

	out, err := fn(r, in)
	if err != nil {
		e.log.Error("hook failed", zap.String("event", in.HookEventName), zap.Error(err))
		return err
	}
	return hook.WriteOutput(cmd.OutOrStdout(), out)
}

func newHookDeliverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deliver",
		Short: "Deliver queued operator instructions to the agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHook(cmd, func(r *hook.Runner, in *hook.Input) (*hook.Output, error) {
				return r.Deliver(cmd.Context(), in)
			})
		},
	}
}

func newHookRegisterCmd() *cobra.Command {
	var description string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register the calling agent as a session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHook(cmd, func(r *hook.Runner, in *hook.Input) (*hook.Output, error) {
				return r.Register(cmd.Context(), in, description)
			})
		},
	}

	cmd.Flags().StringVarP(&description, "description", "d", "", "session description (default: working directory name)")
	return cmd
}

func newHookUnregisterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unregister",
		Short: "Remove the calling agent's session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHook(cmd, func(r *hook.Runner, in *hook.Input) (*hook.Output, error) {
				return nil, r.Unregister(cmd.Context(), in)
			})
		},
	}
}

func newHookApproveToolCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve-tool",
		Short: "Gate a tool call behind operator approval",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHook(cmd, func(r *hook.Runner, in *hook.Input) (*hook.Output, error) {
				return r.ApproveTool(cmd.Context(), in)
			})
		},
	}
}
