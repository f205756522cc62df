package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/acolita/shellconn/internal/config"
	"github.com/acolita/shellconn/internal/errors"
	"github.com/acolita/shellconn/internal/prompt"
	"github.com/acolita/shellconn/internal/session"
	"github.com/spf13/cobra"
)

func newExecCommand(a *app) *cobra.Command {
	var (
		timeout time.Duration
		prompts []string
		raw     bool
	)

	cmd := &cobra.Command{
		Use:   "exec <profile> <command>...",
		Short: "Run one command on a saved connection",
		Long: `Connect to a saved profile (or a connection from the config file), run the
command in its shell, print the output and disconnect.

Reading stops at the prompt, after a second without new output, or at the
timeout, whichever comes first. Commands that stay silent for longer return
early with a warning.

Examples:
  shellconn exec web "uptime"
  shellconn exec web --timeout 2m "journalctl -u nginx -n 5000 --no-pager"
  shellconn exec router --prompt "> " "show version"`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			conn, err := a.resolve(args[0])
			if err != nil {
				return err
			}
			if err := a.fillPassword(&conn); err != nil {
				return err
			}

			command := strings.Join(args[1:], " ")
			res, err := a.run(ctx, conn, command, &session.CommandOptions{
				Timeout:       timeout,
				CustomPrompts: prompts,
			})
			if err != nil {
				return err
			}

			out := res.Output
			if !raw {
				out = commandOutput(out, command, res.Reason == session.StopPrompt)
			}
			fmt.Fprint(cmd.OutOrStdout(), out)

			if res.Reason != session.StopPrompt {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: no prompt detected (%s), output may be incomplete\n", res.Reason)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Upper bound on reading output; reading also ends at the prompt or after 1s of silence (default: the profile's max_wait_time)")
	cmd.Flags().StringSliceVar(&prompts, "prompt", nil, "Prompt suffix to wait for instead of the configured ones (repeatable)")
	cmd.Flags().BoolVar(&raw, "raw", false, "Print the raw shell output including the echoed command and prompt")
	return cmd
}

// run connects, executes and disconnects.
func (a *app) run(ctx context.Context, conn config.ConnectionConfig, command string, opts *session.CommandOptions) (*session.ExecResult, error) {
	manager, err := a.sessions()
	if err != nil {
		return nil, err
	}

	id, err := manager.Connect(ctx, conn)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := manager.Disconnect(id); err != nil {
			a.log().Warn("disconnect", slog.String("id", id), slog.String("error", err.Error()))
		}
	}()

	return manager.Execute(ctx, id, command, opts)
}

// fillPassword loads a password for connections that come from the config
// file, which never stores one.
func (a *app) fillPassword(conn *config.ConnectionConfig) error {
	if conn.Password != "" || conn.AuthMethod == config.AuthPrivateKey || conn.ID == "" {
		return nil
	}
	profiles, err := a.profiles()
	if err != nil {
		return err
	}
	secret, err := profiles.LoadSecret(conn.ID)
	if err != nil {
		if errors.IsCode(err, errors.CodeMissingCredential) {
			return nil
		}
		return err
	}
	conn.Password = secret
	return nil
}

// commandOutput strips the echoed command line and, when the read loop
// stopped on a prompt, the trailing prompt line.
func commandOutput(output, command string, endsWithPrompt bool) string {
	text := prompt.StripANSI(output)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")

	if len(lines) > 0 && strings.HasSuffix(strings.TrimSpace(lines[0]), strings.TrimSpace(command)) {
		lines = lines[1:]
	}
	if endsWithPrompt && len(lines) > 0 {
		lines = lines[:len(lines)-1]
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}
