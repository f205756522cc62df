// Package cli implements the shellconn command line.
package cli

import (
	"os"

	"github.com/acolita/shellconn/internal/config"
	"github.com/acolita/shellconn/internal/errors"
	"github.com/acolita/shellconn/internal/ports"
	"github.com/spf13/cobra"
)

// NewRootCommand builds the shellconn command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&app{})
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "shellconn",
		Short: "Persistent SSH shells with prompt-aware command execution",
		Long: `shellconn keeps one interactive shell open per SSH connection and runs
commands on it, deciding when a command has finished by watching for the
shell prompt.

Run "shellconn serve" to expose connections as MCP tools over stdio.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Path to configuration file (default $XDG_CONFIG_HOME/shellconn/config.yaml)")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "Enable debug logging")

	root.AddCommand(
		newServeCommand(a),
		newExecCommand(a),
		newAddCommand(a),
		newListCommand(a),
		newRemoveCommand(a),
		newExportCommand(a),
		newImportCommand(a),
		newVersionCommand(),
	)
	return root
}

// Execute runs the command line and exits non-zero on failure.
func Execute() {
	a := &app{}
	root := newRootCommand(a)
	if err := root.Execute(); err != nil {
		a.close()
		root.PrintErrln("Error:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps error codes to distinct exit statuses for scripting.
func exitCode(err error) int {
	switch errors.CodeOf(err) {
	case errors.CodeConfigInvalid:
		return 2
	case errors.CodeNotFound:
		return 3
	case errors.CodeAuthFailed, errors.CodeMissingCredential:
		return 4
	case errors.CodeTransport, errors.CodeChannelUnavailable:
		return 5
	default:
		return 1
	}
}

func shellRequest(tc config.TransportConfig) ports.ShellRequest {
	return ports.ShellRequest{Term: tc.Term, Rows: tc.Rows, Cols: tc.Cols}
}
