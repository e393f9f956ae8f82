package store

import (
	"bytes"
	"slices"
	"sync"

	"github.com/google/btree"
)

type pending struct {
	key     []byte
	value   []byte
	deleted bool
}

func pendingLess(a, b pending) bool { return bytes.Compare(a.key, b.key) < 0 }

var _ KV = (*Cache)(nil)

// Cache buffers writes over a parent KV. Nothing reaches the parent
// until Write; Discard drops the buffer.
type Cache struct {
	mu     sync.RWMutex
	parent KV
	writes *btree.BTreeG[pending]
}

// NewCache returns an empty write buffer over parent.
func NewCache(parent KV) *Cache {
	return &Cache{parent: parent, writes: btree.NewG(treeDegree, pendingLess)}
}

func (c *Cache) Get(key []byte) ([]byte, error) {
	c.mu.RLock()
	p, ok := c.writes.Get(pending{key: key})
	c.mu.RUnlock()
	if ok {
		if p.deleted {
			return nil, ErrNotFound
		}
		return slices.Clone(p.value), nil
	}
	return c.parent.Get(key)
}

func (c *Cache) Has(key []byte) (bool, error) {
	c.mu.RLock()
	p, ok := c.writes.Get(pending{key: key})
	c.mu.RUnlock()
	if ok {
		return !p.deleted, nil
	}
	return c.parent.Has(key)
}

func (c *Cache) Put(key, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes.ReplaceOrInsert(pending{key: slices.Clone(key), value: slices.Clone(value)})
	return nil
}

func (c *Cache) Delete(key []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes.ReplaceOrInsert(pending{key: slices.Clone(key), deleted: true})
	return nil
}

// Iterate merges the parent's keys with the buffered writes.
func (c *Cache) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	var base []item
	err := c.parent.Iterate(prefix, func(k, v []byte) bool {
		base = append(base, item{key: k, value: v})
		return true
	})
	if err != nil {
		return err
	}

	var overlay []pending
	c.mu.RLock()
	c.writes.AscendGreaterOrEqual(pending{key: prefix}, func(p pending) bool {
		if !bytes.HasPrefix(p.key, prefix) {
			return false
		}
		overlay = append(overlay, p)
		return true
	})
	c.mu.RUnlock()

	i, j := 0, 0
	for i < len(base) || j < len(overlay) {
		var cmp int
		switch {
		case i == len(base):
			cmp = 1
		case j == len(overlay):
			cmp = -1
		default:
			cmp = bytes.Compare(base[i].key, overlay[j].key)
		}
		switch {
		case cmp < 0:
			if !fn(base[i].key, base[i].value) {
				return nil
			}
			i++
		default:
			if cmp == 0 {
				i++
			}
			p := overlay[j]
			j++
			if p.deleted {
				continue
			}
			if !fn(slices.Clone(p.key), slices.Clone(p.value)) {
				return nil
			}
		}
	}
	return nil
}

// Changes returns the buffered writes in key order.
func (c *Cache) Changes() []Change {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Change, 0, c.writes.Len())
	c.writes.Ascend(func(p pending) bool {
		out = append(out, Change{Key: slices.Clone(p.key), Value: slices.Clone(p.value), Deleted: p.deleted})
		return true
	})
	return out
}

// Write flushes the buffer into the parent and empties it.
func (c *Cache) Write() error {
	changes := c.Changes()
	for _, ch := range changes {
		var err error
		if ch.Deleted {
			err = c.parent.Delete(ch.Key)
		} else {
			err = c.parent.Put(ch.Key, ch.Value)
		}
		if err != nil {
			return err
		}
	}
	c.Discard()
	return nil
}

// Discard drops all buffered writes.
func (c *Cache) Discard() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes.Clear(false)
}
