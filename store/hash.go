package store

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/crypto"
)

// HashChanges folds one block's changes into the previous state root:
//
//	root = keccak256(prev || height || for each change: len(k) k del len(v) v)
//
// changes must be in key order (Cache.Changes guarantees it), so every
// node executing the same block derives the same root.
func HashChanges(prev [32]byte, height uint64, changes []Change) [32]byte {
	h := crypto.NewKeccakState()
	var buf [8]byte
	h.Write(prev[:])
	binary.BigEndian.PutUint64(buf[:], height)
	h.Write(buf[:])
	for _, c := range changes {
		binary.BigEndian.PutUint64(buf[:], uint64(len(c.Key)))
		h.Write(buf[:])
		h.Write(c.Key)
		if c.Deleted {
			h.Write([]byte{1})
			continue
		}
		h.Write([]byte{0})
		binary.BigEndian.PutUint64(buf[:], uint64(len(c.Value)))
		h.Write(buf[:])
		h.Write(c.Value)
	}
	var out [32]byte
	h.Read(out[:])
	return out
}
