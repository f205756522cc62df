package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/acolita/shellconn/internal/config"
	"github.com/acolita/shellconn/internal/errors"
	"github.com/acolita/shellconn/internal/session"
	"github.com/acolita/shellconn/internal/store"
	"github.com/acolita/shellconn/internal/testing/fakes/fakeclock"
	"github.com/acolita/shellconn/internal/testing/fakes/fakesecrets"
	"github.com/acolita/shellconn/internal/testing/fakes/faketransport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testApp struct {
	*app
	secrets   *fakesecrets.Store
	connector *faketransport.Connector
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := fakeclock.New(time.Date(2024, 7, 1, 8, 0, 0, 0, time.UTC))

	sec := fakesecrets.New()
	n := 0
	profiles, err := store.Open(store.MemoryPath, sec,
		store.WithClock(clock),
		store.WithLogger(logger),
		store.WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("p%d", n)
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { profiles.Close() })

	connector := faketransport.NewConnector()
	manager := session.NewManager(
		session.WithConnector(connector),
		session.WithManagerClock(clock),
		session.WithLogger(logger),
	)
	t.Cleanup(func() { manager.Close() })

	return &testApp{
		app: &app{
			cfg:     config.DefaultConfig(),
			logger:  logger,
			secrets: sec,
			store:   profiles,
			manager: manager,
		},
		secrets:   sec,
		connector: connector,
	}
}

// run executes the command line and returns stdout and stderr.
func (ta *testApp) run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	root := newRootCommand(ta.app)
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func (ta *testApp) addProfile(t *testing.T, name, host string) config.ConnectionConfig {
	t.Helper()
	saved, err := ta.store.SaveProfile(config.ConnectionConfig{
		Name:       name,
		Host:       host,
		Port:       22,
		Username:   "deploy",
		Password:   "pw-" + name,
		AuthMethod: config.AuthPassword,
	})
	require.NoError(t, err)
	return saved
}

func TestVersionCommand(t *testing.T) {
	orig := version
	defer func() { version = orig }()
	version = "1.2.3"

	ta := newTestApp(t)
	out, _, err := ta.run(t, "", "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, "1.2.3\n", out)

	out, _, err = ta.run(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "shellconn 1.2.3")
	assert.Contains(t, out, "go: go")
}

func TestAddCommand_Flags(t *testing.T) {
	ta := newTestApp(t)

	out, _, err := ta.run(t, "hunter2\n",
		"add", "--name", "web", "--host", "web.example.com", "--user", "deploy", "--password-stdin")
	require.NoError(t, err)
	assert.Equal(t, "Saved web (p1)\n", out)

	conn, err := ta.store.LoadProfile("p1")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", conn.Password)
	assert.Equal(t, 22, conn.Port)
	assert.Equal(t, config.AuthPassword, conn.AuthMethod)
	assert.True(t, ta.secrets.Has("p1"))
}

func TestAddCommand_KeyOnly(t *testing.T) {
	ta := newTestApp(t)

	_, _, err := ta.run(t, "", "add", "--host", "db.example.com", "--port", "2222", "--user", "pg", "--key", "~/.ssh/id_ed25519")
	require.NoError(t, err)

	conn, err := ta.store.ResolveProfile("db.example.com")
	require.NoError(t, err)
	assert.Equal(t, config.AuthPrivateKey, conn.AuthMethod)
	assert.Equal(t, 2222, conn.Port)
	assert.False(t, ta.secrets.Has(conn.ID))
}

func TestAddCommand_Invalid(t *testing.T) {
	ta := newTestApp(t)

	_, _, err := ta.run(t, "", "add", "--host", "web.example.com", "--user", "u", "--auth", "kerberos")
	assert.True(t, errors.IsCode(err, errors.CodeConfigInvalid))
	assert.Equal(t, 2, exitCode(err))

	_, _, err = ta.run(t, "", "add", "--host", "web.example.com")
	assert.True(t, errors.IsCode(err, errors.CodeConfigInvalid), "username is required")
}

func TestListCommand(t *testing.T) {
	ta := newTestApp(t)
	ta.addProfile(t, "web-1", "web-1.prod.example.com")
	ta.addProfile(t, "web-2", "web-2.prod.example.com")
	ta.addProfile(t, "db", "db.internal")

	out, _, err := ta.run(t, "", "list")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "NAME"))
	assert.Contains(t, out, "deploy@web-1.prod.example.com:22")

	out, _, err = ta.run(t, "", "list", "*.prod.example.com", "--json")
	require.NoError(t, err)
	var got []config.ConnectionConfig
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 2)
	for _, c := range got {
		assert.Empty(t, c.Password)
	}

	out, _, err = ta.run(t, "", "list", "cache-*", "--json")
	require.NoError(t, err)
	assert.Equal(t, "[]\n", out)

	_, _, err = ta.run(t, "", "list", "web-[")
	assert.True(t, errors.IsCode(err, errors.CodeConfigInvalid))
}

func TestRemoveCommand(t *testing.T) {
	ta := newTestApp(t)
	saved := ta.addProfile(t, "web", "web.example.com")

	out, _, err := ta.run(t, "", "rm", "web")
	require.NoError(t, err)
	assert.Equal(t, "Removed web\n", out)
	assert.False(t, ta.secrets.Has(saved.ID))

	_, _, err = ta.run(t, "", "remove", "web")
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))
	assert.Equal(t, 3, exitCode(err))
}

func TestExportImportCommands(t *testing.T) {
	src := newTestApp(t)
	src.addProfile(t, "web", "web.example.com")
	src.addProfile(t, "db", "db.example.com")

	file := filepath.Join(t.TempDir(), "profiles.json")
	_, stderr, err := src.run(t, "", "export", "-o", file)
	require.NoError(t, err)
	assert.Contains(t, stderr, "Exported to")

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "pw-web", "export carries no passwords")

	dst := newTestApp(t)
	_, err = dst.store.SaveProfile(config.ConnectionConfig{
		ID: "local", Name: "web", Host: "other.example.com", Port: 22, Username: "u",
		AuthMethod: config.AuthPrivateKey, PrivateKeyPath: "~/.ssh/id_rsa",
	})
	require.NoError(t, err)
	out, _, err := dst.run(t, "", "import", file)
	require.NoError(t, err)
	assert.Equal(t, "Imported 2 profile(s)\n", out)

	all, err := dst.store.ListProfiles()
	require.NoError(t, err)
	var names []string
	for _, p := range all {
		names = append(names, p.Name)
	}
	assert.ElementsMatch(t, []string{"web", "web(1)", "db"}, names)

	stdout, _, err := src.run(t, "", "export")
	require.NoError(t, err)
	out, _, err = newTestApp(t).run(t, stdout, "import", "-")
	require.NoError(t, err)
	assert.Equal(t, "Imported 2 profile(s)\n", out)

	_, _, err = dst.run(t, "{not json", "import", "-")
	assert.True(t, errors.IsCode(err, errors.CodeConfigInvalid))
}

func TestExecCommand(t *testing.T) {
	ta := newTestApp(t)
	saved := ta.addProfile(t, "web", "web.example.com")

	out, stderr, err := ta.run(t, "", "exec", "web", "echo", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out)
	assert.Empty(t, stderr)

	got := ta.connector.Configs()
	require.Len(t, got, 1)
	assert.Equal(t, saved.ID, got[0].ID)
	assert.Equal(t, "pw-web", got[0].Password)
	assert.Empty(t, ta.manager.List(), "exec disconnects afterwards")

	out, _, err = ta.run(t, "", "exec", "--raw", "web", "echo hello")
	require.NoError(t, err)
	assert.Equal(t, "echo hello\r\nhello\r\n"+faketransport.DefaultPrompt, out)
}

func TestExecCommand_ConfiguredConnectionUsesSecrets(t *testing.T) {
	ta := newTestApp(t)
	ta.cfg.Connections = []config.ConnectionConfig{{
		ID: "lab", Name: "lab", Host: "10.0.0.9", Username: "root",
	}}
	require.NoError(t, ta.secrets.Set("lab", "toor"))

	_, _, err := ta.run(t, "", "exec", "lab", "uptime")
	require.NoError(t, err)
	assert.Equal(t, "toor", ta.connector.Configs()[0].Password)
}

func TestExecCommand_Errors(t *testing.T) {
	ta := newTestApp(t)

	_, _, err := ta.run(t, "", "exec", "missing", "ls")
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))

	ta.addProfile(t, "web", "web.example.com")
	ta.connector.SetError(errors.New(errors.CodeAuthFailed, "permission denied"))
	_, _, err = ta.run(t, "", "exec", "web", "ls")
	assert.True(t, errors.IsCode(err, errors.CodeAuthFailed))
	assert.Equal(t, 4, exitCode(err))
}

func TestExecCommand_HelpNamesStopRules(t *testing.T) {
	ta := newTestApp(t)
	out, _, err := ta.run(t, "", "exec", "--help")
	require.NoError(t, err)

	assert.Contains(t, out, "after a second without new output")
	assert.Contains(t, out, "1s of silence")
	assert.NotContains(t, out, "pg_dump")
}

func TestCommandOutput(t *testing.T) {
	tests := []struct {
		name   string
		output string
		cmd    string
		prompt bool
		want   string
	}{
		{"echo and prompt", "echo hi\r\nhi\r\nu@h:~$ ", "echo hi", true, "hi\n"},
		{"multi line", "ls\r\na\r\nb\r\n$ ", "ls", true, "a\nb\n"},
		{"no prompt keeps last line", "tail -f x\r\nline1\r\nline2", "tail -f x", false, "line1\nline2\n"},
		{"no output", "true\r\n$ ", "true", true, ""},
		{"ansi stripped", "ls\r\n\x1b[32mgreen\x1b[0m\r\n$ ", "ls", true, "green\n"},
		{"echo missing", "hi\r\n$ ", "echo hi", true, "hi\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, commandOutput(tt.output, tt.cmd, tt.prompt))
		})
	}
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 1, exitCode(fmt.Errorf("plain")))
	assert.Equal(t, 5, exitCode(fmt.Errorf("wrapped: %w", errors.New(errors.CodeTransport, "refused"))))
	assert.Equal(t, 5, exitCode(errors.New(errors.CodeChannelUnavailable, "gone")))
	assert.Equal(t, 4, exitCode(errors.New(errors.CodeMissingCredential, "none")))
}
