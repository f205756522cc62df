package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/acolita/shellconn/internal/config"
	"github.com/acolita/shellconn/internal/errors"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

// addOptions are the non-interactive inputs of the add command.
type addOptions struct {
	name          string
	host          string
	port          int
	user          string
	keyPath       string
	auth          string
	passwordStdin bool
}

func newAddCommand(a *app) *cobra.Command {
	var opts addOptions

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Save a connection profile",
		Long: `Save a connection profile. Without --host an interactive form asks for
every field. The password is kept in the OS keyring (or the encrypted
secrets file), never in the profile database.

Examples:
  shellconn add
  shellconn add --name web --host web.example.com --user deploy --key ~/.ssh/id_ed25519
  echo "$PW" | shellconn add --name db --host 10.0.0.7 --user pg --password-stdin`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				conn config.ConnectionConfig
				err  error
			)
			if opts.host == "" {
				conn, err = addForm()
			} else {
				conn, err = opts.connection(cmd.InOrStdin())
			}
			if err != nil {
				return err
			}

			profiles, err := a.profiles()
			if err != nil {
				return err
			}
			saved, err := profiles.SaveProfile(conn)
			if err != nil {
				return err
			}
			cmd.Printf("Saved %s (%s)\n", saved.Name, saved.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.name, "name", "", "Profile name (default: the host)")
	cmd.Flags().StringVar(&opts.host, "host", "", "SSH host; skips the interactive form")
	cmd.Flags().IntVar(&opts.port, "port", 22, "SSH port")
	cmd.Flags().StringVar(&opts.user, "user", "", "SSH username")
	cmd.Flags().StringVar(&opts.keyPath, "key", "", "Private key path")
	cmd.Flags().StringVar(&opts.auth, "auth", "", "Auth method: password, private_key or both (inferred when empty)")
	cmd.Flags().BoolVar(&opts.passwordStdin, "password-stdin", false, "Read the password from stdin")
	return cmd
}

func (o addOptions) connection(stdin io.Reader) (config.ConnectionConfig, error) {
	conn := config.ConnectionConfig{
		Name:           o.name,
		Host:           o.host,
		Port:           o.port,
		Username:       o.user,
		PrivateKeyPath: o.keyPath,
	}
	if conn.Name == "" {
		conn.Name = conn.Host
	}
	if o.passwordStdin {
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && err != io.EOF {
			return conn, fmt.Errorf("read password: %w", err)
		}
		conn.Password = strings.TrimRight(line, "\r\n")
	}
	if o.auth != "" {
		method, err := config.ParseAuthMethod(o.auth)
		if err != nil {
			return conn, errors.Wrap(err, errors.CodeConfigInvalid, "invalid --auth")
		}
		conn.AuthMethod = method
	}
	return conn.WithDefaults(config.DefaultsConfig{Port: 22}), nil
}

func addForm() (config.ConnectionConfig, error) {
	var (
		name, host, user, password, keyPath string
		port                                = "22"
		auth                                = string(config.AuthPassword)
	)

	required := func(field string) func(string) error {
		return func(s string) error {
			if strings.TrimSpace(s) == "" {
				return fmt.Errorf("%s is required", field)
			}
			return nil
		}
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Name").Placeholder("web-1").Value(&name).Validate(required("name")),
			huh.NewInput().Title("Host").Placeholder("web-1.example.com").Value(&host).Validate(required("host")),
			huh.NewInput().Title("Port").Value(&port).Validate(func(s string) error {
				if n, err := strconv.Atoi(s); err != nil || n <= 0 || n > 65535 {
					return fmt.Errorf("port must be between 1 and 65535")
				}
				return nil
			}),
			huh.NewInput().Title("Username").Value(&user).Validate(required("username")),
			huh.NewSelect[string]().
				Title("Authentication").
				Options(
					huh.NewOption("Password", string(config.AuthPassword)),
					huh.NewOption("Private key", string(config.AuthPrivateKey)),
					huh.NewOption("Password, then private key", string(config.AuthBoth)),
				).
				Value(&auth),
		),
		huh.NewGroup(
			huh.NewInput().Title("Password").EchoMode(huh.EchoModePassword).Value(&password),
		).WithHideFunc(func() bool { return auth == string(config.AuthPrivateKey) }),
		huh.NewGroup(
			huh.NewInput().Title("Private key path").Placeholder("~/.ssh/id_ed25519").Value(&keyPath),
		).WithHideFunc(func() bool { return auth == string(config.AuthPassword) }),
	)

	if err := form.Run(); err != nil {
		return config.ConnectionConfig{}, fmt.Errorf("profile form: %w", err)
	}

	p, _ := strconv.Atoi(port)
	return config.ConnectionConfig{
		Name:           strings.TrimSpace(name),
		Host:           strings.TrimSpace(host),
		Port:           p,
		Username:       strings.TrimSpace(user),
		Password:       password,
		PrivateKeyPath: strings.TrimSpace(keyPath),
		AuthMethod:     config.AuthMethod(auth),
		Prompt:         config.DefaultPromptConfig(),
	}, nil
}

func newListCommand(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list [pattern]",
		Short: "List saved profiles",
		Long: `List saved profiles, optionally filtered by a glob over id, name and host.

Examples:
  shellconn list
  shellconn list "web-*"
  shellconn list "*.prod.example.com" --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pattern := ""
			if len(args) == 1 {
				pattern = args[0]
				if !doublestar.ValidatePattern(pattern) {
					return errors.New(errors.CodeConfigInvalid, "invalid pattern %q", pattern)
				}
			}

			profiles, err := a.profiles()
			if err != nil {
				return err
			}
			all, err := profiles.ListProfiles()
			if err != nil {
				return err
			}

			var matched []config.ConnectionConfig
			for _, p := range all {
				if pattern == "" ||
					doublestar.MatchUnvalidated(pattern, p.ID) ||
					doublestar.MatchUnvalidated(pattern, p.Name) ||
					doublestar.MatchUnvalidated(pattern, p.Host) {
					matched = append(matched, p)
				}
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if matched == nil {
					matched = []config.ConnectionConfig{}
				}
				return enc.Encode(matched)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tTARGET\tAUTH\tID")
			for _, p := range matched {
				fmt.Fprintf(tw, "%s\t%s@%s\t%s\t%s\n", p.Name, p.Username, p.Address(), p.AuthMethod, p.ID)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newRemoveCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <profile>",
		Aliases: []string{"rm"},
		Short:   "Delete a saved profile and its stored credentials",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			profiles, err := a.profiles()
			if err != nil {
				return err
			}
			conn, err := profiles.ResolveProfile(args[0])
			if err != nil {
				return err
			}
			if err := profiles.DeleteProfile(conn.ID); err != nil {
				return err
			}
			cmd.Printf("Removed %s\n", conn.Name)
			return nil
		},
	}
}

func newExportCommand(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export profiles as JSON (without credentials)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			profiles, err := a.profiles()
			if err != nil {
				return err
			}
			data, err := profiles.ExportProfiles()
			if err != nil {
				return err
			}
			data = append(data, '\n')

			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0o600); err != nil {
				return fmt.Errorf("write export: %w", err)
			}
			cmd.PrintErrf("Exported to %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to a file instead of stdout")
	return cmd
}

func newImportCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import profiles exported with 'shellconn export'",
		Long: `Import profiles from an export file ("-" reads stdin). Every profile is
validated before anything is saved; clashing names get a numeric suffix.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			if args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("read import: %w", err)
			}

			profiles, err := a.profiles()
			if err != nil {
				return err
			}
			n, err := profiles.ImportProfiles(data)
			if err != nil {
				return err
			}
			cmd.Printf("Imported %d profile(s)\n", n)
			return nil
		},
	}
}
