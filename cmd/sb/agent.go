package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/signalbox/internal/errs"
	"github.com/zulandar/signalbox/internal/hook"
	"github.com/zulandar/signalbox/internal/models"
)

// exitTimeout is the exit code of ask when the operator never answered.
const exitTimeout = 2

func newAskCmd() *cobra.Command {
	var (
		code    string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "ask text...",
		Short: "Ask the operator a question and print the answer",
		Long: "Posts a question for the calling session and blocks until the operator\n" +
			"answers. Exits with status 2 when the timeout elapses.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd, code, strings.Join(args, " "), timeout)
		},
	}

	cmd.Flags().StringVarP(&code, "session", "s", "", "session code (default: session owned by the parent process)")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 0, "how long to wait (default questions.default_timeout_sec)")
	return cmd
}

func runAsk(cmd *cobra.Command, code, text string, timeout time.Duration) error {
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

	answer, err := r.Ask(cmd.Context(), code, text, timeout)
	if errors.Is(err, errs.ErrTimeout) {
		return &exitError{code: exitTimeout, err: err}
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), answer)
	return nil
}

func newApproveCmd() *cobra.Command {
	var (
		req     hook.ApprovalRequest
		options []string
	)

	cmd := &cobra.Command{
		Use:   "approve",
		Short: "Request operator approval and print the result as JSON",
		Long: "Posts an approval prompt with buttons and waits for the operator. Options\n" +
			"are label=value pairs; the first is the affirmative one. Default: Yes/No.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := parseOptions(options)
			if err != nil {
				return err
			}
			req.Options = opts
			return runApprove(cmd, req)
		},
	}

	cmd.Flags().StringVarP(&req.Session, "session", "s", "", "session code (default: session owned by the parent process)")
	cmd.Flags().StringVar(&req.Category, "category", "general", "approval category")
	cmd.Flags().StringVar(&req.Title, "title", "", "prompt title")
	cmd.Flags().StringVarP(&req.Message, "message", "m", "", "prompt body")
	cmd.Flags().StringArrayVarP(&options, "option", "o", nil, "choice as label=value (repeatable)")
	cmd.Flags().DurationVarP(&req.Timeout, "timeout", "t", 0, "how long to wait (default approvals.default_timeout_sec)")
	cmd.MarkFlagRequired("title")
	return cmd
}

// parseOptions turns label=value pairs into approval options. A bare label
// is its own value.
func parseOptions(raw []string) ([]models.ApprovalOption, error) {
	var opts []models.ApprovalOption
	for _, r := range raw {
		label, value, found := strings.Cut(r, "=")
		label = strings.TrimSpace(label)
		if !found {
			value = strings.ToLower(label)
		}
		value = strings.TrimSpace(value)
		if label == "" || value == "" {
			return nil, fmt.Errorf("invalid option %q (want label=value)", r)
		}
		opts = append(opts, models.ApprovalOption{Label: label, Value: value})
	}
	return opts, nil
}

func runApprove(cmd *cobra.Command, req hook.ApprovalRequest) error {
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

	res, err := r.Approve(cmd.Context(), req)
	if err != nil {
		return err
	}
	data, err := json.Marshal(res)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func newNotifyCmd() *cobra.Command {
	var code string

	cmd := &cobra.Command{
		Use:   "notify text...",
		Short: "Post a status line for the calling session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNotify(cmd, code, strings.Join(args, " "))
		},
	}

	cmd.Flags().StringVarP(&code, "session", "s", "", "session code (default: session owned by the parent process)")
	return cmd
}

func runNotify(cmd *cobra.Command, code, text string) error {
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

	sent, err := r.Notify(cmd.Context(), code, text)
	if err != nil {
		return err
	}
	if !sent {
		fmt.Fprintln(cmd.ErrOrStderr(), "notifications paused; nothing sent")
	}
	return nil
}
