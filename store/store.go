// Package store provides the ordered key-value stores the relay keepers
// run on: an in-memory btree, a LevelDB backend, and a write-buffering
// cache that gives per-block, per-transaction and per-invocation
// rollback.
package store

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")
	ErrClosed   = errors.New("closed")
)

// KV is an ordered byte key-value store.
type KV interface {
	// Get returns ErrNotFound when key is absent.
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	// Iterate visits keys with the given prefix in ascending order
	// until fn returns false.
	Iterate(prefix []byte, fn func(key, value []byte) bool) error
}

// Change is one pending write. Deleted changes carry no value.
type Change struct {
	Key     []byte
	Value   []byte
	Deleted bool
}

// Lookup is Get with the absent case folded into ok.
func Lookup(kv KV, key []byte) (value []byte, ok bool, err error) {
	value, err = kv.Get(key)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, false, nil
	case err != nil:
		return nil, false, err
	}
	return value, true, nil
}

// GetUint64 reads a big-endian counter, returning 0 when absent.
func GetUint64(kv KV, key []byte) (uint64, error) {
	v, ok, err := Lookup(kv, key)
	if err != nil || !ok {
		return 0, err
	}
	if len(v) != 8 {
		return 0, fmt.Errorf("store: key %x holds %d bytes, want 8", key, len(v))
	}
	return binary.BigEndian.Uint64(v), nil
}

// PutUint64 writes a big-endian counter.
func PutUint64(kv KV, key []byte, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return kv.Put(key, buf[:])
}

// Key joins key segments.
func Key(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	k := make([]byte, 0, n)
	for _, p := range parts {
		k = append(k, p...)
	}
	return k
}

// Uint64Key encodes v so that keys sort numerically.
func Uint64Key(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}

// Uint64FromKey decodes a key segment written by Uint64Key.
func Uint64FromKey(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
