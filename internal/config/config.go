// Package config handles configuration parsing for shellconn.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath returns $XDG_CONFIG_HOME/shellconn/config.yaml or
// ~/.config/shellconn/config.yaml.
func DefaultConfigPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "shellconn", "config.yaml")
}

// DefaultDataDir returns the directory used for the profile database and
// the encrypted secrets file.
func DefaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "."
		}
		dir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dir, "shellconn")
}

// Config represents the top-level configuration.
type Config struct {
	Logging     LoggingConfig      `yaml:"logging"`
	Transport   TransportConfig    `yaml:"transport"`
	Defaults    DefaultsConfig     `yaml:"defaults"`
	Connections []ConnectionConfig `yaml:"connections"`
	Store       StoreConfig        `yaml:"store"`
	Secrets     SecretsConfig      `yaml:"secrets"`
	Telemetry   TelemetryConfig    `yaml:"telemetry"`
	Security    SecurityConfig     `yaml:"security"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level    string `yaml:"level"`    // "debug", "info", "warn", "error"
	Sanitize bool   `yaml:"sanitize"` // redact sensitive attributes
}

// TransportConfig controls how SSH connections are dialed and shells opened.
type TransportConfig struct {
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
	KnownHosts        string        `yaml:"known_hosts"`
	StrictHostKey     bool          `yaml:"strict_host_key"`
	SSHConfigPath     string        `yaml:"ssh_config"`
	UseAgent          bool          `yaml:"use_agent"` // add ssh-agent keys for key auth
	Term              string        `yaml:"term"`
	Rows              int           `yaml:"rows"`
	Cols              int           `yaml:"cols"`
	BannerWait        time.Duration `yaml:"banner_wait"`
}

// DefaultsConfig holds values applied to connections that leave them unset.
type DefaultsConfig struct {
	Port   int          `yaml:"port"`
	Prompt PromptConfig `yaml:"prompt"`
}

// StoreConfig locates the profile database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// SecretsConfig selects the credential backend.
type SecretsConfig struct {
	Backend  string `yaml:"backend"` // "auto", "keyring" or "file"
	FilePath string `yaml:"file_path"`
	KeyPath  string `yaml:"key_path"`
}

// TelemetryConfig controls the hardware poller.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"` // cron spec, e.g. "@every 30s"
}

// SecurityConfig limits repeated authentication failures per user@host.
type SecurityConfig struct {
	MaxAuthFailures int           `yaml:"max_auth_failures"`
	AuthLockout     time.Duration `yaml:"auth_lockout"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	dataDir := DefaultDataDir()
	return &Config{
		Logging: LoggingConfig{
			Level:    "info",
			Sanitize: true,
		},
		Transport: TransportConfig{
			ConnectTimeout:    30 * time.Second,
			KeepaliveInterval: 30 * time.Second,
			Term:              "xterm",
			Rows:              24,
			Cols:              120,
			BannerWait:        2 * time.Second,
		},
		Defaults: DefaultsConfig{
			Port:   22,
			Prompt: DefaultPromptConfig(),
		},
		Store: StoreConfig{
			Path: filepath.Join(dataDir, "profiles.db"),
		},
		Secrets: SecretsConfig{
			Backend:  "auto",
			FilePath: filepath.Join(dataDir, "secrets.json"),
			KeyPath:  filepath.Join(dataDir, "secrets.key"),
		},
		Telemetry: TelemetryConfig{
			Schedule: "@every 30s",
		},
		Security: SecurityConfig{
			MaxAuthFailures: 3,
			AuthLockout:     5 * time.Minute,
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return cfg, nil
}

// Validate fills zero values with defaults and checks the static
// connection list.
func (c *Config) Validate() error {
	def := DefaultConfig()

	if c.Transport.ConnectTimeout <= 0 {
		c.Transport.ConnectTimeout = def.Transport.ConnectTimeout
	}
	if c.Transport.KeepaliveInterval <= 0 {
		c.Transport.KeepaliveInterval = def.Transport.KeepaliveInterval
	}
	if c.Transport.Term == "" {
		c.Transport.Term = def.Transport.Term
	}
	if c.Transport.Rows <= 0 {
		c.Transport.Rows = def.Transport.Rows
	}
	if c.Transport.Cols <= 0 {
		c.Transport.Cols = def.Transport.Cols
	}
	if c.Transport.BannerWait < 0 {
		c.Transport.BannerWait = 0
	}
	if c.Defaults.Port <= 0 {
		c.Defaults.Port = def.Defaults.Port
	}
	if c.Defaults.Prompt.IsZero() {
		c.Defaults.Prompt = def.Defaults.Prompt
	}
	if c.Store.Path == "" {
		c.Store.Path = def.Store.Path
	}
	switch c.Secrets.Backend {
	case "":
		c.Secrets.Backend = "auto"
	case "auto", "keyring", "file":
	default:
		return fmt.Errorf("secrets.backend: unknown backend %q", c.Secrets.Backend)
	}
	if c.Secrets.FilePath == "" {
		c.Secrets.FilePath = def.Secrets.FilePath
	}
	if c.Secrets.KeyPath == "" {
		c.Secrets.KeyPath = def.Secrets.KeyPath
	}
	if c.Telemetry.Schedule == "" {
		c.Telemetry.Schedule = def.Telemetry.Schedule
	}
	if c.Security.MaxAuthFailures <= 0 {
		c.Security.MaxAuthFailures = def.Security.MaxAuthFailures
	}
	if c.Security.AuthLockout <= 0 {
		c.Security.AuthLockout = def.Security.AuthLockout
	}

	seen := make(map[string]bool, len(c.Connections))
	for i := range c.Connections {
		conn := c.Connections[i].WithDefaults(c.Defaults)
		if err := conn.ValidateTarget(); err != nil {
			return fmt.Errorf("connections[%d]: %w", i, err)
		}
		if conn.ID != "" {
			if seen[conn.ID] {
				return fmt.Errorf("connections[%d]: duplicate id %q", i, conn.ID)
			}
			seen[conn.ID] = true
		}
		c.Connections[i] = conn
	}

	return nil
}

// FindConnection returns the static connection with the given id or name.
func (c *Config) FindConnection(idOrName string) (ConnectionConfig, bool) {
	for _, conn := range c.Connections {
		if conn.ID == idOrName || conn.Name == idOrName {
			return conn, true
		}
	}
	return ConnectionConfig{}, false
}

// Save writes the configuration to a YAML file.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}
