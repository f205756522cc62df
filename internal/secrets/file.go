package secrets

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fernet/fernet-go"
)

// FileStore keeps fernet tokens in a JSON file, one per id. The key lives
// in a separate file and is generated on first use.
type FileStore struct {
	mu      sync.Mutex
	path    string
	key     *fernet.Key
	entries map[string]string
}

// NewFileStore opens (or creates) the store at path with the key at keyPath.
func NewFileStore(path, keyPath string) (*FileStore, error) {
	key, err := loadOrCreateKey(keyPath)
	if err != nil {
		return nil, err
	}

	fs := &FileStore{path: path, key: key, entries: make(map[string]string)}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("read secrets file: %w", err)
	default:
		if err := json.Unmarshal(data, &fs.entries); err != nil {
			return nil, fmt.Errorf("parse secrets file: %w", err)
		}
	}
	return fs, nil
}

func loadOrCreateKey(keyPath string) (*fernet.Key, error) {
	data, err := os.ReadFile(keyPath)
	if err == nil {
		key, err := fernet.DecodeKey(string(data))
		if err != nil {
			return nil, fmt.Errorf("decode fernet key: %w", err)
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read fernet key: %w", err)
	}

	var k fernet.Key
	if err := k.Generate(); err != nil {
		return nil, fmt.Errorf("generate fernet key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		return nil, fmt.Errorf("create key directory: %w", err)
	}
	if err := os.WriteFile(keyPath, []byte(k.Encode()), 0600); err != nil {
		return nil, fmt.Errorf("save fernet key: %w", err)
	}
	return &k, nil
}

// Set encrypts secret and persists it under id.
func (fs *FileStore) Set(id, secret string) error {
	tok, err := fernet.EncryptAndSign([]byte(secret), fs.key)
	if err != nil {
		return fmt.Errorf("encrypt: %w", err)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.entries[id] = string(tok)
	return fs.flush()
}

// Get decrypts the secret stored under id.
func (fs *FileStore) Get(id string) (string, error) {
	fs.mu.Lock()
	tok, ok := fs.entries[id]
	fs.mu.Unlock()
	if !ok {
		return "", ErrSecretNotFound
	}

	msg := fernet.VerifyAndDecrypt([]byte(tok), 0, []*fernet.Key{fs.key})
	if msg == nil {
		return "", fmt.Errorf("decrypt %s: invalid token", id)
	}
	return string(msg), nil
}

// Delete removes id. Deleting a missing entry is not an error.
func (fs *FileStore) Delete(id string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.entries[id]; !ok {
		return nil
	}
	delete(fs.entries, id)
	return fs.flush()
}

// flush writes the entries through a temp file and rename. Callers hold mu.
func (fs *FileStore) flush() error {
	data, err := json.MarshalIndent(fs.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal secrets: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(fs.path), 0700); err != nil {
		return fmt.Errorf("create secrets directory: %w", err)
	}
	tmp := fs.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write secrets file: %w", err)
	}
	if err := os.Rename(tmp, fs.path); err != nil {
		return fmt.Errorf("replace secrets file: %w", err)
	}
	return nil
}

var _ Store = (*FileStore)(nil)
