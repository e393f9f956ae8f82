package store

import (
	"bytes"
	"slices"
	"sync"

	"github.com/google/btree"
)

const treeDegree = 32

type item struct {
	key   []byte
	value []byte
}

func itemLess(a, b item) bool { return bytes.Compare(a.key, b.key) < 0 }

var _ KV = (*MemDB)(nil)

// MemDB is an ordered in-memory KV. Values are copied on the way in
// and out.
type MemDB struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[item]
}

// NewMemDB returns an empty MemDB.
func NewMemDB() *MemDB {
	return &MemDB{tree: btree.NewG(treeDegree, itemLess)}
}

func (db *MemDB) Get(key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	it, ok := db.tree.Get(item{key: key})
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(it.value), nil
}

func (db *MemDB) Has(key []byte) (bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.tree.Has(item{key: key}), nil
}

func (db *MemDB) Put(key, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.tree.ReplaceOrInsert(item{key: slices.Clone(key), value: slices.Clone(value)})
	return nil
}

func (db *MemDB) Delete(key []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.tree.Delete(item{key: key})
	return nil
}

func (db *MemDB) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	db.mu.RLock()
	// Snapshot the range so fn may write back into the db.
	var items []item
	db.tree.AscendGreaterOrEqual(item{key: prefix}, func(it item) bool {
		if !bytes.HasPrefix(it.key, prefix) {
			return false
		}
		items = append(items, it)
		return true
	})
	db.mu.RUnlock()

	for _, it := range items {
		if !fn(slices.Clone(it.key), slices.Clone(it.value)) {
			return nil
		}
	}
	return nil
}

// Len returns the number of keys.
func (db *MemDB) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.tree.Len()
}

// WriteBatch applies changes in order.
func (db *MemDB) WriteBatch(changes []Change) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, c := range changes {
		if c.Deleted {
			db.tree.Delete(item{key: c.Key})
			continue
		}
		db.tree.ReplaceOrInsert(item{key: slices.Clone(c.Key), value: slices.Clone(c.Value)})
	}
	return nil
}

func (db *MemDB) Close() error { return nil }
