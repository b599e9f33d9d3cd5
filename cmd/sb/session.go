package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/signalbox/internal/errs"
	"github.com/zulandar/signalbox/internal/instruction"
	"github.com/zulandar/signalbox/internal/session"
	"github.com/zulandar/signalbox/internal/settings"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "session",
		Aliases: []string{"s"},
		Short:   "Manage agent sessions",
		Long:    "List, register and control the sessions sharing the operator chat.",
	}

	cmd.AddCommand(newSessionListCmd())
	cmd.AddCommand(newSessionRegisterCmd())
	cmd.AddCommand(newSessionUnregisterCmd())
	cmd.AddCommand(newSessionDefaultCmd())
	cmd.AddCommand(newSessionAbortCmd())
	cmd.AddCommand(newSessionTellCmd())
	return cmd
}

func newSessionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionList(cmd)
		},
	}
}

func runSessionList(cmd *cobra.Command) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	sessions, err := session.List(e.db)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No sessions.")
		return nil
	}

	defaultID := settings.DefaultSession(e.db)
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CODE\tSTATUS\tPID\tQUEUED\tLAST ACTIVE\tDESCRIPTION")
	for _, s := range sessions {
		code := s.ID
		if s.ID == defaultID {
			code += "*"
		}
		pending, _ := instruction.CountPending(e.db, s.ID)
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
			code, s.Status, s.OwnerPID, pending,
			s.LastActivity.Format(time.DateTime), s.Description)
	}
	return w.Flush()
}

func newSessionRegisterCmd() *cobra.Command {
	var pid int

	cmd := &cobra.Command{
		Use:   "register [description]",
		Short: "Register a new session and print its code",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			description := ""
			if len(args) == 1 {
				description = args[0]
			}
			return runSessionRegister(cmd, description, pid)
		},
	}

	cmd.Flags().IntVar(&pid, "pid", os.Getppid(), "owner process id (default: parent of sb)")
	return cmd
}

func runSessionRegister(cmd *cobra.Command, description string, pid int) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	s, err := session.Register(e.db, description, pid)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), s.ID)
	return nil
}

func newSessionUnregisterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unregister CODE",
		Short: "Remove a session and its pending data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionUnregister(cmd, strings.ToUpper(args[0]))
		},
	}
}

func runSessionUnregister(cmd *cobra.Command, code string) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := session.Unregister(e.db, code); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return fmt.Errorf("unknown session %s", code)
		}
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Session %s removed\n", code)
	return nil
}

func newSessionDefaultCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "default [CODE]",
		Short: "Show or set the default session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code := ""
			if len(args) == 1 {
				code = strings.ToUpper(args[0])
			}
			return runSessionDefault(cmd, code)
		},
	}
}

func runSessionDefault(cmd *cobra.Command, code string) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	out := cmd.OutOrStdout()
	if code == "" {
		s, err := session.Default(e.db)
		if errors.Is(err, errs.ErrNotFound) {
			fmt.Fprintln(out, "No default session.")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(out, s.ID)
		return nil
	}
	if !session.SetDefault(e.db, code) {
		return fmt.Errorf("unknown session %s", code)
	}
	fmt.Fprintf(out, "Default session is now %s\n", code)
	return nil
}

func newSessionAbortCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "abort CODE",
		Short: "Abort a session at its next hook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionAbort(cmd, strings.ToUpper(args[0]))
		},
	}
}

func runSessionAbort(cmd *cobra.Command, code string) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := session.Abort(e.db, code); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return fmt.Errorf("unknown session %s", code)
		}
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Abort queued for %s\n", code)
	return nil
}

func newSessionTellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tell CODE text...",
		Short: "Queue an instruction for a session",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionTell(cmd, strings.ToUpper(args[0]), strings.Join(args[1:], " "))
		},
	}
}

func runSessionTell(cmd *cobra.Command, code, text string) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	if !session.Exists(e.db, code) {
		return fmt.Errorf("unknown session %s", code)
	}
	id, err := instruction.Enqueue(e.db, code, text, "")
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Queued instruction %d for %s\n", id, code)
	return nil
}
