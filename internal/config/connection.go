package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// AuthMethod selects which credential authenticates a connection.
type AuthMethod string

const (
	AuthPassword   AuthMethod = "password"
	AuthPrivateKey AuthMethod = "private_key"
	AuthBoth       AuthMethod = "both"
)

// ParseAuthMethod accepts the canonical names plus a few common spellings.
func ParseAuthMethod(s string) (AuthMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "password", "pass":
		return AuthPassword, nil
	case "private_key", "privatekey", "key":
		return AuthPrivateKey, nil
	case "both":
		return AuthBoth, nil
	}
	return "", fmt.Errorf("unknown auth method %q", s)
}

// ConnectionConfig identifies a remote host and the credentials used to
// reach it.
type ConnectionConfig struct {
	ID             string       `yaml:"id" json:"id"`
	Name           string       `yaml:"name" json:"name"`
	Host           string       `yaml:"host" json:"host"`
	Port           int          `yaml:"port" json:"port"`
	Username       string       `yaml:"username" json:"username"`
	Password       string       `yaml:"password,omitempty" json:"password,omitempty"`
	PrivateKeyPath string       `yaml:"private_key_path,omitempty" json:"private_key_path,omitempty"`
	Passphrase     string       `yaml:"passphrase,omitempty" json:"passphrase,omitempty"`
	AuthMethod     AuthMethod   `yaml:"auth_method" json:"auth_method"`
	Prompt         PromptConfig `yaml:"prompt" json:"prompt_config"`
}

// ValidationError names the field that made a ConnectionConfig invalid.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// ValidateTarget checks everything except credential material.
func (c ConnectionConfig) ValidateTarget() error {
	if strings.TrimSpace(c.Name) == "" {
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if strings.TrimSpace(c.Host) == "" {
		return &ValidationError{Field: "host", Reason: "must not be empty"}
	}
	if strings.TrimSpace(c.Username) == "" {
		return &ValidationError{Field: "username", Reason: "must not be empty"}
	}
	if c.Port <= 0 || c.Port > 65535 {
		return &ValidationError{Field: "port", Reason: fmt.Sprintf("%d out of range", c.Port)}
	}
	switch c.AuthMethod {
	case AuthPassword, AuthPrivateKey, AuthBoth:
	default:
		return &ValidationError{Field: "auth_method", Reason: fmt.Sprintf("unknown method %q", c.AuthMethod)}
	}
	return c.Prompt.Validate()
}

// Validate checks the whole config, including that the credential required
// by the auth method is present.
func (c ConnectionConfig) Validate() error {
	if err := c.ValidateTarget(); err != nil {
		return err
	}
	switch c.AuthMethod {
	case AuthPassword:
		if c.Password == "" {
			return &ValidationError{Field: "password", Reason: "required for password authentication"}
		}
	case AuthPrivateKey:
		if c.PrivateKeyPath == "" {
			return &ValidationError{Field: "private_key_path", Reason: "required for private key authentication"}
		}
	case AuthBoth:
		if c.Password == "" && c.PrivateKeyPath == "" {
			return &ValidationError{Field: "password", Reason: "password or private_key_path required"}
		}
	}
	return nil
}

// WithDefaults returns a copy with unset port, auth method and prompt
// settings filled from d.
func (c ConnectionConfig) WithDefaults(d DefaultsConfig) ConnectionConfig {
	if c.Port == 0 {
		c.Port = d.Port
	}
	if c.AuthMethod == "" {
		switch {
		case c.Password != "" && c.PrivateKeyPath != "":
			c.AuthMethod = AuthBoth
		case c.PrivateKeyPath != "":
			c.AuthMethod = AuthPrivateKey
		default:
			c.AuthMethod = AuthPassword
		}
	}
	if c.Prompt.IsZero() {
		c.Prompt = d.Prompt
		if c.Prompt.IsZero() {
			c.Prompt = DefaultPromptConfig()
		}
	}
	return c
}

// Address returns host:port suitable for dialing.
func (c ConnectionConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// KeyPath returns PrivateKeyPath with a leading ~ expanded.
func (c ConnectionConfig) KeyPath() string {
	return ExpandPath(c.PrivateKeyPath)
}

// Redacted returns a copy without secret material.
func (c ConnectionConfig) Redacted() ConnectionConfig {
	c.Password = ""
	c.Passphrase = ""
	return c
}

// PromptConfig controls how command completion is inferred.
type PromptConfig struct {
	Patterns       []string `yaml:"patterns" json:"patterns"`
	SmartDetection bool     `yaml:"smart_detection" json:"smart_detection"`
	MaxWaitTime    int64    `yaml:"max_wait_time" json:"max_wait_time"` // milliseconds
	MaxEmptyReads  int      `yaml:"max_empty_reads" json:"max_empty_reads"`
}

// DefaultPromptConfig returns the stock prompt suffixes of common shells.
func DefaultPromptConfig() PromptConfig {
	return PromptConfig{
		Patterns:       []string{"]# ", "$ ", "> ", "# ", "% "},
		SmartDetection: true,
		MaxWaitTime:    10_000,
		MaxEmptyReads:  10,
	}
}

// IsZero reports whether p was left entirely unset.
func (p PromptConfig) IsZero() bool {
	return len(p.Patterns) == 0 && !p.SmartDetection && p.MaxWaitTime == 0 && p.MaxEmptyReads == 0
}

// MaxWait returns MaxWaitTime as a duration.
func (p PromptConfig) MaxWait() time.Duration {
	return time.Duration(p.MaxWaitTime) * time.Millisecond
}

// Validate rejects negative limits.
func (p PromptConfig) Validate() error {
	if p.MaxWaitTime < 0 {
		return &ValidationError{Field: "prompt.max_wait_time", Reason: "must not be negative"}
	}
	if p.MaxEmptyReads < 0 {
		return &ValidationError{Field: "prompt.max_empty_reads", Reason: "must not be negative"}
	}
	return nil
}

// ExpandPath expands ~ to the home directory.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
