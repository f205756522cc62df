package secrets

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zalando/go-keyring"
)

// KeyringService is the service name of every keyring entry.
const KeyringService = "shellconn"

const checkKey = "__shellconn_check__"

// KeyringStore keeps secrets in the OS keyring (macOS Keychain, Linux
// Secret Service, Windows Credential Manager).
type KeyringStore struct {
	mu      sync.RWMutex
	enabled bool
	logger  *slog.Logger
}

// NewKeyringStore creates a keyring store. If a test write fails the store
// is created disabled and every operation returns an error.
func NewKeyringStore(logger *slog.Logger) *KeyringStore {
	if logger == nil {
		logger = slog.Default()
	}
	ks := &KeyringStore{enabled: true, logger: logger}

	if err := keyring.Set(KeyringService, checkKey, "check"); err != nil {
		logger.Debug("keyring not available", slog.String("error", err.Error()))
		ks.enabled = false
		return ks
	}
	_ = keyring.Delete(KeyringService, checkKey)

	logger.Debug("keyring storage enabled")
	return ks
}

// IsEnabled reports whether the keyring accepted the test write.
func (ks *KeyringStore) IsEnabled() bool {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.enabled
}

// SetEnabled turns keyring usage on or off.
func (ks *KeyringStore) SetEnabled(enabled bool) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.enabled = enabled
}

func entryKey(id string) string {
	return "connection:" + id
}

// Set stores secret for id.
func (ks *KeyringStore) Set(id, secret string) error {
	if !ks.IsEnabled() {
		return fmt.Errorf("keyring not available")
	}
	if err := keyring.Set(KeyringService, entryKey(id), secret); err != nil {
		return fmt.Errorf("store secret: %w", err)
	}
	ks.logger.Debug("stored secret in keyring", slog.String("id", id))
	return nil
}

// Get returns the secret for id or ErrSecretNotFound.
func (ks *KeyringStore) Get(id string) (string, error) {
	if !ks.IsEnabled() {
		return "", fmt.Errorf("keyring not available")
	}
	secret, err := keyring.Get(KeyringService, entryKey(id))
	if err != nil {
		if stderrors.Is(err, keyring.ErrNotFound) {
			return "", ErrSecretNotFound
		}
		return "", fmt.Errorf("get secret: %w", err)
	}
	return secret, nil
}

// Delete removes the secret for id. Deleting a missing entry is not an
// error.
func (ks *KeyringStore) Delete(id string) error {
	if !ks.IsEnabled() {
		return fmt.Errorf("keyring not available")
	}
	if err := keyring.Delete(KeyringService, entryKey(id)); err != nil {
		if stderrors.Is(err, keyring.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("delete secret: %w", err)
	}
	return nil
}

var _ Store = (*KeyringStore)(nil)
