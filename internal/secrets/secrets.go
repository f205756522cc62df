// Package secrets stores connection passwords outside the profile database.
//
// The OS keyring is preferred. When it is unavailable (headless Linux,
// containers) secrets fall back to a fernet-encrypted file.
package secrets

import (
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/acolita/shellconn/internal/config"
	"github.com/acolita/shellconn/internal/errors"
)

// Backend names accepted in the secrets config section.
const (
	BackendAuto    = "auto"
	BackendKeyring = "keyring"
	BackendFile    = "file"
)

// ErrSecretNotFound is returned by Get when nothing is stored for an id.
var ErrSecretNotFound = stderrors.New("secret not found")

// Store persists one secret per connection id.
type Store interface {
	Set(id, secret string) error
	Get(id string) (string, error)
	Delete(id string) error
}

// Loader resolves the secret of a connection.
type Loader interface {
	LoadSecret(id string) (string, error)
}

// Open builds the store selected by cfg. With BackendAuto the keyring is
// tried first and the encrypted file is used when it is unavailable.
func Open(cfg config.SecretsConfig, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Backend {
	case BackendKeyring:
		ks := NewKeyringStore(logger)
		if !ks.IsEnabled() {
			return nil, fmt.Errorf("keyring backend requested but the OS keyring is unavailable")
		}
		return ks, nil
	case BackendFile:
		return NewFileStore(cfg.FilePath, cfg.KeyPath)
	case BackendAuto, "":
		if ks := NewKeyringStore(logger); ks.IsEnabled() {
			return ks, nil
		}
		logger.Info("falling back to encrypted secrets file", slog.String("path", cfg.FilePath))
		return NewFileStore(cfg.FilePath, cfg.KeyPath)
	default:
		return nil, fmt.Errorf("unknown secrets backend %q", cfg.Backend)
	}
}

// StoreLoader adapts a Store to Loader. A missing secret is reported as
// MissingCredential.
type StoreLoader struct {
	Store Store
}

// LoadSecret implements Loader.
func (l StoreLoader) LoadSecret(id string) (string, error) {
	secret, err := l.Store.Get(id)
	if err != nil {
		if stderrors.Is(err, ErrSecretNotFound) {
			return "", errors.New(errors.CodeMissingCredential, "no secret stored for %s", id)
		}
		return "", fmt.Errorf("load secret for %s: %w", id, err)
	}
	return secret, nil
}
