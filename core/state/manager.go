package state

import (
	"errors"
	"fmt"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"megaluck/storage"
)

// Manager stages reads and writes over a key-value database. Writes stay in
// memory until Commit flushes them as a single batch or Discard drops them.
type Manager struct {
	db storage.Database

	mu      sync.RWMutex
	dirty   map[string][]byte
	deleted map[string]struct{}
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{
		db:      db,
		dirty:   make(map[string][]byte),
		deleted: make(map[string]struct{}),
	}
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func (m *Manager) get(hashed []byte) ([]byte, error) {
	m.mu.RLock()
	if value, ok := m.dirty[string(hashed)]; ok {
		m.mu.RUnlock()
		return value, nil
	}
	if _, ok := m.deleted[string(hashed)]; ok {
		m.mu.RUnlock()
		return nil, nil
	}
	m.mu.RUnlock()

	value, err := m.db.Get(hashed)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return value, err
}

func (m *Manager) put(hashed, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.deleted, string(hashed))
	m.dirty[string(hashed)] = append([]byte(nil), value...)
}

func (m *Manager) remove(hashed []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.dirty, string(hashed))
	m.deleted[string(hashed)] = struct{}{}
}

// KVPut stores the provided value under the supplied key using RLP encoding.
// The key is hashed with keccak256 before it reaches the database.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.put(kvKey(key), encoded)
	return nil
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.get(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete stages removal of the supplied key.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	m.remove(kvKey(key))
	return nil
}

// Pending reports the number of staged writes and deletes.
func (m *Manager) Pending() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.dirty) + len(m.deleted)
}

// Commit writes every staged change in one batch. The staging area is only
// cleared once the batch has been written.
func (m *Manager) Commit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.dirty) == 0 && len(m.deleted) == 0 {
		return nil
	}
	batch := m.db.NewBatch()
	for key, value := range m.dirty {
		batch.Put([]byte(key), value)
	}
	for key := range m.deleted {
		batch.Delete([]byte(key))
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	m.dirty = make(map[string][]byte)
	m.deleted = make(map[string]struct{})
	return nil
}

// Discard drops every staged change.
func (m *Manager) Discard() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirty = make(map[string][]byte)
	m.deleted = make(map[string]struct{})
}
