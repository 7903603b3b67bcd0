package storage

import (
	"bytes"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("storage: key not found")

// Database is a generic interface for a key-value store.
// This allows the ledger to use any database backend (in-memory or persistent).
type Database interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Delete(key []byte) error
	// Write applies every operation in the batch atomically.
	Write(batch *Batch) error
	// Iterate visits every key starting with prefix, from start (or the
	// beginning of the prefix when start is nil) in ascending key order until
	// fn returns false.
	Iterate(prefix, start []byte, fn func(key, value []byte) bool) error
	Close() // A way to gracefully shut down the database connection.
}

type batchOp struct {
	key    []byte
	value  []byte
	delete bool
}

// Batch collects writes that are applied together.
type Batch struct {
	ops []batchOp
}

// NewBatch returns an empty batch.
func NewBatch() *Batch { return &Batch{} }

// Put records a write of value under key.
func (b *Batch) Put(key, value []byte) {
	b.ops = append(b.ops, batchOp{key: cloneBytes(key), value: cloneBytes(value)})
}

// Delete records the removal of key.
func (b *Batch) Delete(key []byte) {
	b.ops = append(b.ops, batchOp{key: cloneBytes(key), delete: true})
}

// Len reports the number of queued operations.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.ops)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// --- In-Memory DB (for testing) ---

type MemDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemDB() *MemDB {
	return &MemDB{
		data: make(map[string][]byte),
	}
}

func (db *MemDB) Put(key []byte, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.data[string(key)] = cloneBytes(value)
	return nil
}

func (db *MemDB) Get(key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	value, ok := db.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneBytes(value), nil
}

func (db *MemDB) Has(key []byte) (bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	_, ok := db.data[string(key)]
	return ok, nil
}

func (db *MemDB) Delete(key []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.data, string(key))
	return nil
}

func (db *MemDB) Write(batch *Batch) error {
	if batch == nil {
		return nil
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, op := range batch.ops {
		if op.delete {
			delete(db.data, string(op.key))
			continue
		}
		db.data[string(op.key)] = op.value
	}
	return nil
}

func (db *MemDB) Iterate(prefix, start []byte, fn func(key, value []byte) bool) error {
	from := string(prefix)
	if string(start) > from {
		from = string(start)
	}
	db.mu.RLock()
	keys := make([]string, 0)
	for k := range db.data {
		if strings.HasPrefix(k, string(prefix)) && k >= from {
			keys = append(keys, k)
		}
	}
	snapshot := make(map[string][]byte, len(keys))
	for _, k := range keys {
		snapshot[k] = db.data[k]
	}
	db.mu.RUnlock()

	sort.Strings(keys)
	for _, k := range keys {
		if !fn([]byte(k), cloneBytes(snapshot[k])) {
			return nil
		}
	}
	return nil
}

// Close satisfies the Database interface for MemDB.
func (db *MemDB) Close() {
	// Nothing to close for an in-memory database.
}

// --- Persistent DB ---

// LevelDB is a persistent key-value store using LevelDB.
type LevelDB struct {
	db *leveldb.DB
}

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

// Put inserts or updates a key-value pair.
func (ldb *LevelDB) Put(key []byte, value []byte) error {
	return ldb.db.Put(key, value, nil)
}

// Get retrieves a value for a given key.
func (ldb *LevelDB) Get(key []byte) ([]byte, error) {
	value, err := ldb.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

// Has reports whether the key exists.
func (ldb *LevelDB) Has(key []byte) (bool, error) {
	return ldb.db.Has(key, nil)
}

// Delete removes the key.
func (ldb *LevelDB) Delete(key []byte) error {
	return ldb.db.Delete(key, nil)
}

// Write applies the batch through a single leveldb batch write.
func (ldb *LevelDB) Write(batch *Batch) error {
	if batch == nil || len(batch.ops) == 0 {
		return nil
	}
	lb := new(leveldb.Batch)
	for _, op := range batch.ops {
		if op.delete {
			lb.Delete(op.key)
			continue
		}
		lb.Put(op.key, op.value)
	}
	return ldb.db.Write(lb, nil)
}

// Iterate walks the keys under prefix, seeking to start first when given.
func (ldb *LevelDB) Iterate(prefix, start []byte, fn func(key, value []byte) bool) error {
	rng := util.BytesPrefix(prefix)
	if bytes.Compare(start, rng.Start) > 0 {
		rng.Start = start
	}
	iter := ldb.db.NewIterator(rng, nil)
	defer iter.Release()
	for iter.Next() {
		if !fn(cloneBytes(iter.Key()), cloneBytes(iter.Value())) {
			break
		}
	}
	return iter.Error()
}

// Close closes the database connection.
func (ldb *LevelDB) Close() {
	ldb.db.Close()
}
