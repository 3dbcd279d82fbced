package securestore

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// SecretStore holds small named secrets (encoded key bundles, the
// persisted username). Implementations must be safe for concurrent
// use.
type SecretStore interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
}

// MemStore is a map-backed SecretStore for tests and ephemeral runs.
type MemStore struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemStore() *MemStore {
	return &MemStore{values: make(map[string]string)}
}

func (s *MemStore) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *MemStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *MemStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

// FileStore keeps all secrets in one passphrase-encrypted file. Every
// mutation rewrites the whole file; the store is meant for a handful
// of entries, not bulk data.
type FileStore struct {
	mu         sync.Mutex
	path       string
	passphrase string
	values     map[string]string
}

// NewFileStore opens or creates the encrypted store at path. A missing
// file yields an empty store; an unreadable one is an error so callers
// never silently shadow existing secrets.
func NewFileStore(path, passphrase string) (*FileStore, error) {
	s := &FileStore{path: path, passphrase: passphrase, values: make(map[string]string)}
	plaintext, err := ReadDecryptedFile(path, passphrase)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open secret store: %w", err)
	}
	if err := json.Unmarshal(plaintext, &s.values); err != nil {
		return nil, fmt.Errorf("open secret store: %w", ErrInvalid)
	}
	return s, nil
}

func (s *FileStore) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *FileStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return s.persistLocked()
}

func (s *FileStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; !ok {
		return nil
	}
	delete(s.values, key)
	return s.persistLocked()
}

func (s *FileStore) persistLocked() error {
	return WriteEncryptedJSON(s.path, s.passphrase, s.values)
}
