package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zulandar/signalbox/internal/settings"
	"golang.org/x/term"
)

func newSetupCmd() *cobra.Command {
	var (
		token  string
		chat   string
		verify bool
	)

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Store Telegram bot credentials",
		Long: "Stores the Telegram bot token and operator chat id in the shared store so\n" +
			"they need not appear in the config file. The token is prompted for without\n" +
			"echo when not given with --token.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetup(cmd, token, chat, verify)
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "bot token (prompted when omitted)")
	cmd.Flags().StringVar(&chat, "chat-id", "", "operator chat id")
	cmd.Flags().BoolVar(&verify, "verify", false, "connect to the platform after saving")
	return cmd
}

// readToken prompts for the bot token. On a terminal the input is not
// echoed; otherwise one line is read from in.
func readToken(cmd *cobra.Command, in io.Reader) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), "Bot token: ")
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("read token: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read token: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func runSetup(cmd *cobra.Command, token, chat string, verify bool) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	if token == "" {
		token, err = readToken(cmd, cmd.InOrStdin())
		if err != nil {
			return err
		}
	}
	if token == "" {
		return fmt.Errorf("bot token is required")
	}
	if err := settings.Set(e.db, settings.KeyBotToken, token); err != nil {
		return err
	}
	if chat != "" {
		if err := settings.Set(e.db, settings.KeyChatID, chat); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Bot token saved.")
	if chat != "" {
		fmt.Fprintf(out, "Operator chat set to %s.\n", chat)
	}

	if !verify {
		return nil
	}
	t, err := transportFactory(e)
	if err != nil {
		return err
	}
	defer t.Close()
	if err := t.Connect(cmd.Context()); err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	fmt.Fprintln(out, "Connected.")
	return nil
}
