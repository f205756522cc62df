package cli

import (
	"fmt"
	"log/slog"

	"github.com/acolita/shellconn/internal/config"
	"github.com/acolita/shellconn/internal/logging"
	"github.com/acolita/shellconn/internal/secrets"
	"github.com/acolita/shellconn/internal/session"
	"github.com/acolita/shellconn/internal/ssh"
	"github.com/acolita/shellconn/internal/store"
)

// app holds the dependencies shared by the commands. Each one is built on
// first use so that commands like version never touch the keyring or the
// database.
type app struct {
	configPath string
	debug      bool

	cfg     *config.Config
	logger  *slog.Logger
	secrets secrets.Store
	store   *store.Store
	manager *session.Manager
	closers []func() error
}

func (a *app) config() (*config.Config, error) {
	if a.cfg != nil {
		return a.cfg, nil
	}
	path := a.configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.LoadWithEnv(path)
	if err != nil {
		return nil, err
	}
	if a.debug {
		cfg.Logging.Level = "debug"
	}
	a.cfg = cfg
	return cfg, nil
}

func (a *app) log() *slog.Logger {
	if a.logger != nil {
		return a.logger
	}
	level, sanitize := "info", true
	if a.cfg != nil {
		level, sanitize = a.cfg.Logging.Level, a.cfg.Logging.Sanitize
	}
	if a.debug {
		level = "debug"
	}
	a.logger = logging.Setup(level, sanitize)
	return a.logger
}

func (a *app) secretStore() (secrets.Store, error) {
	if a.secrets != nil {
		return a.secrets, nil
	}
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}
	sec, err := secrets.Open(cfg.Secrets, a.log())
	if err != nil {
		return nil, fmt.Errorf("open secrets: %w", err)
	}
	a.secrets = sec
	return sec, nil
}

func (a *app) profiles() (*store.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}
	sec, err := a.secretStore()
	if err != nil {
		return nil, err
	}
	s, err := store.Open(cfg.Store.Path, sec, store.WithLogger(a.log()))
	if err != nil {
		return nil, err
	}
	a.store = s
	a.closers = append(a.closers, s.Close)
	return s, nil
}

func (a *app) sessions() (*session.Manager, error) {
	if a.manager != nil {
		return a.manager, nil
	}
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}
	logger := a.log()
	connector, err := ssh.NewConnectorFromConfig(cfg.Transport, ssh.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("build ssh connector: %w", err)
	}
	m := session.NewManager(
		session.WithConnector(connector),
		session.WithLogger(logger),
		session.WithBannerWait(cfg.Transport.BannerWait),
		session.WithDefaultPrompt(cfg.Defaults.Prompt),
		session.WithShellRequest(shellRequest(cfg.Transport)),
	)
	a.manager = m
	a.closers = append(a.closers, m.Close)
	return m, nil
}

// resolve finds a connection by id or name among the configured
// connections and then the saved profiles.
func (a *app) resolve(ref string) (config.ConnectionConfig, error) {
	cfg, err := a.config()
	if err != nil {
		return config.ConnectionConfig{}, err
	}
	if conn, ok := cfg.FindConnection(ref); ok {
		return conn.WithDefaults(cfg.Defaults), nil
	}
	profiles, err := a.profiles()
	if err != nil {
		return config.ConnectionConfig{}, err
	}
	conn, err := profiles.ResolveProfile(ref)
	if err != nil {
		return config.ConnectionConfig{}, err
	}
	return conn.WithDefaults(cfg.Defaults), nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log().Warn("shutdown", slog.String("error", err.Error()))
		}
	}
	a.closers = nil
}
