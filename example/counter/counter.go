// Package counter is a minimal callable endpoint.
//
// A call carries an 8-byte big-endian increment and returns the new
// count. A zero increment reverts, which turns the call into a fallback
// on its origin chain; when the counter receives that fallback it
// counts it separately.
package counter

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/blockberries/relay"
	"github.com/blockberries/relay/store"
	"github.com/blockberries/relay/types"
)

var _ relay.Endpoint = Counter{}

var (
	keyCount     = []byte("count")
	keyFallbacks = []byte("fallbacks")
)

var (
	ErrZeroIncrement = errors.New("counter: zero increment")
	ErrOverflow      = errors.New("counter: overflow")
)

// Counter keeps its counts in the store the relay scopes to it.
type Counter struct{}

// Payload encodes an increment.
func Payload(n uint64) []byte {
	return store.Uint64Key(n)
}

func (Counter) Invoke(_ context.Context, inv types.Invocation, kv store.KV) ([]byte, error) {
	if inv.Fallback {
		n, err := store.GetUint64(kv, keyFallbacks)
		if err != nil {
			return nil, err
		}
		return store.Uint64Key(n + 1), store.PutUint64(kv, keyFallbacks, n+1)
	}

	if len(inv.Payload) != 8 {
		return nil, fmt.Errorf("counter: payload is %d bytes, want 8", len(inv.Payload))
	}
	inc := binary.BigEndian.Uint64(inv.Payload)
	if inc == 0 {
		return nil, ErrZeroIncrement
	}
	n, err := store.GetUint64(kv, keyCount)
	if err != nil {
		return nil, err
	}
	if inc > math.MaxUint64-n {
		return nil, ErrOverflow
	}
	n += inc
	return store.Uint64Key(n), store.PutUint64(kv, keyCount, n)
}

// Count returns the current count.
func Count(kv store.KV) (uint64, error) { return store.GetUint64(kv, keyCount) }

// Fallbacks returns how many fallbacks the counter has received.
func Fallbacks(kv store.KV) (uint64, error) { return store.GetUint64(kv, keyFallbacks) }

// Result decodes the value returned by Invoke.
func Result(ret []byte) (uint64, error) {
	if len(ret) != 8 {
		return 0, fmt.Errorf("counter: result is %d bytes, want 8", len(ret))
	}
	return binary.BigEndian.Uint64(ret), nil
}
