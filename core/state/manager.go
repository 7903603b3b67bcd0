package state

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"cipherlend/storage"
)

var (
	// ErrTxActive is returned by Begin when a transaction is already open.
	ErrTxActive = errors.New("state: transaction already active")
	// ErrNoTx is returned by Commit when no transaction is open.
	ErrNoTx = errors.New("state: no active transaction")
)

var (
	kvPrefix  = []byte("kv/")
	logPrefix = []byte("log/")
	logSeqKey = []byte("meta/log-seq")
)

type pendingWrite struct {
	value   []byte
	deleted bool
}

// Manager reads and writes ledger state on top of a storage.Database. Writes
// made between Begin and Commit are held in an overlay that readers observe but
// that only reaches the database as one batch on Commit. Discard drops the
// overlay, so a failed transition leaves no trace.
//
// Manager is safe for concurrent readers; callers serialise transactions.
type Manager struct {
	db storage.Database

	mu      sync.RWMutex
	pending map[string]pendingWrite
	inTx    bool
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func kvKey(key []byte) []byte {
	hashed := ethcrypto.Keccak256(key)
	out := make([]byte, 0, len(kvPrefix)+len(hashed))
	out = append(out, kvPrefix...)
	return append(out, hashed...)
}

func logKey(seq uint64) []byte {
	out := make([]byte, len(logPrefix)+8)
	copy(out, logPrefix)
	binary.BigEndian.PutUint64(out[len(logPrefix):], seq)
	return out
}

// Begin opens a transaction overlay.
func (m *Manager) Begin() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inTx {
		return ErrTxActive
	}
	m.inTx = true
	m.pending = make(map[string]pendingWrite)
	return nil
}

// Commit flushes the overlay to the database in a single batch.
func (m *Manager) Commit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.inTx {
		return ErrNoTx
	}
	keys := make([]string, 0, len(m.pending))
	for k := range m.pending {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	batch := storage.NewBatch()
	for _, k := range keys {
		w := m.pending[k]
		if w.deleted {
			batch.Delete([]byte(k))
			continue
		}
		batch.Put([]byte(k), w.value)
	}
	if err := m.db.Write(batch); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	m.pending = nil
	m.inTx = false
	return nil
}

// Discard drops the overlay without touching the database.
func (m *Manager) Discard() {
	m.mu.Lock()
	m.pending = nil
	m.inTx = false
	m.mu.Unlock()
}

// InTx reports whether a transaction overlay is open.
func (m *Manager) InTx() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.inTx
}

func (m *Manager) rawGet(key []byte) ([]byte, bool, error) {
	m.mu.RLock()
	if m.inTx {
		if w, ok := m.pending[string(key)]; ok {
			m.mu.RUnlock()
			if w.deleted {
				return nil, false, nil
			}
			return w.value, true, nil
		}
	}
	m.mu.RUnlock()
	data, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (m *Manager) rawPut(key, value []byte) error {
	m.mu.Lock()
	if m.inTx {
		m.pending[string(key)] = pendingWrite{value: append([]byte(nil), value...)}
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()
	return m.db.Put(key, value)
}

func (m *Manager) rawDelete(key []byte) error {
	m.mu.Lock()
	if m.inTx {
		m.pending[string(key)] = pendingWrite{deleted: true}
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()
	return m.db.Delete(key)
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
	return m.rawPut(kvKey(key), encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, ok, err := m.rawGet(kvKey(key))
	if err != nil || !ok {
		return false, err
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes the value stored under key.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return m.rawDelete(kvKey(key))
}

// KVHas reports whether a value exists under key.
func (m *Manager) KVHas(key []byte) (bool, error) {
	return m.KVGet(key, nil)
}
