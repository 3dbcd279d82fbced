package syncqueue

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/yurug/maplume-sub000/internal/securestore"
)

// Store is the queue's durable backing: an ordered slice persisted as
// one JSON snapshot per mutation, optionally encrypted at rest. One
// process owns the file; there is no cross-process locking.
type Store struct {
	mu     sync.Mutex
	ops    []Operation
	path   string
	secret string
}

// NewStore returns a memory-only store.
func NewStore() *Store {
	return &Store{}
}

// NewPersistentStore loads or creates a plaintext snapshot at path.
func NewPersistentStore(path string) (*Store, error) {
	return NewEncryptedPersistentStore(path, "")
}

// NewEncryptedPersistentStore loads or creates a snapshot sealed with
// the securestore envelope when secret is non-empty.
func NewEncryptedPersistentStore(path, secret string) (*Store, error) {
	s := &Store{path: path, secret: secret}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Append(op Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := append(cloneOps(s.ops), op)
	if err := s.persistLocked(next); err != nil {
		return err
	}
	s.ops = next
	return nil
}

// Peek returns the head operation without removing it.
func (s *Store) Peek() (Operation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ops) == 0 {
		return Operation{}, false
	}
	return s.ops[0], true
}

// Remove drops the operation with the given ID wherever it sits.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return nil
	}
	next := append(cloneOps(s.ops[:idx]), s.ops[idx+1:]...)
	if err := s.persistLocked(next); err != nil {
		return err
	}
	s.ops = next
	return nil
}

// Update rewrites the stored copy of op, matched by ID.
func (s *Store) Update(op Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(op.ID)
	if idx < 0 {
		return nil
	}
	next := cloneOps(s.ops)
	next[idx] = op
	if err := s.persistLocked(next); err != nil {
		return err
	}
	s.ops = next
	return nil
}

// MoveToTail requeues the operation at the back with RetryCount reset,
// letting the rest of the queue make progress.
func (s *Store) MoveToTail(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return nil
	}
	op := s.ops[idx]
	op.RetryCount = 0
	next := append(cloneOps(s.ops[:idx]), s.ops[idx+1:]...)
	next = append(next, op)
	if err := s.persistLocked(next); err != nil {
		return err
	}
	s.ops = next
	return nil
}

func (s *Store) All() []Operation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneOps(s.ops)
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ops)
}

// Clear empties memory and the on-disk snapshot.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.persistLocked(nil); err != nil {
		return err
	}
	s.ops = nil
	return nil
}

func (s *Store) indexLocked(id string) int {
	for i, op := range s.ops {
		if op.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}
	decoded := data
	if s.secret != "" {
		decoded, err = securestore.Decrypt(s.secret, data)
		if err != nil {
			// A plaintext snapshot from before encryption was
			// configured is still readable.
			if errors.Is(err, securestore.ErrLegacyData) {
				decoded = data
			} else {
				return err
			}
		}
	}

	var snapshot struct {
		Operations []Operation `json:"operations"`
	}
	if err := json.Unmarshal(decoded, &snapshot); err != nil {
		return err
	}
	s.ops = snapshot.Operations
	return nil
}

func (s *Store) persistLocked(ops []Operation) error {
	if s.path == "" {
		return nil
	}
	snapshot := struct {
		Operations []Operation `json:"operations"`
	}{Operations: ops}
	if s.secret != "" {
		return securestore.WriteEncryptedJSON(s.path, s.secret, snapshot)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}

func cloneOps(in []Operation) []Operation {
	return append([]Operation(nil), in...)
}
