// Package fakesecrets provides an in-memory secrets.Store for tests.
package fakesecrets

import (
	"sync"

	"github.com/acolita/shellconn/internal/secrets"
)

// Store is an in-memory secrets.Store with error injection.
type Store struct {
	mu      sync.Mutex
	entries map[string]string
	setErr  error
	getErr  error
	delErr  error
	deletes []string
}

// New creates an empty store.
func New() *Store {
	return &Store{entries: make(map[string]string)}
}

// SetSetError makes Set fail with err.
func (s *Store) SetSetError(err error) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setErr = err
	return s
}

// SetGetError makes Get fail with err.
func (s *Store) SetGetError(err error) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getErr = err
	return s
}

// SetDeleteError makes Delete fail with err.
func (s *Store) SetDeleteError(err error) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delErr = err
	return s
}

// Set implements secrets.Store.
func (s *Store) Set(id, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setErr != nil {
		return s.setErr
	}
	s.entries[id] = secret
	return nil
}

// Get implements secrets.Store.
func (s *Store) Get(id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return "", s.getErr
	}
	v, ok := s.entries[id]
	if !ok {
		return "", secrets.ErrSecretNotFound
	}
	return v, nil
}

// Delete implements secrets.Store.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.delErr != nil {
		return s.delErr
	}
	s.deletes = append(s.deletes, id)
	delete(s.entries, id)
	return nil
}

// Has reports whether a secret is stored for id.
func (s *Store) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[id]
	return ok
}

// Deletes returns the ids passed to Delete.
func (s *Store) Deletes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deletes...)
}

// Len returns the number of stored secrets.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

var _ secrets.Store = (*Store)(nil)
