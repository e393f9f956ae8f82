// Package relaytest provides test utilities for relay applications and
// endpoints: a recording mock endpoint, a block lifecycle harness with
// per-sender nonces, and a lifecycle compliance suite.
package relaytest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/blockberries/relay"
	"github.com/blockberries/relay/store"
	"github.com/blockberries/relay/types"
)

var _ relay.Endpoint = (*MockEndpoint)(nil)

// MockEndpoint is a configurable endpoint that records every
// invocation it receives. Unconfigured, it succeeds and echoes the
// payload.
type MockEndpoint struct {
	mu          sync.Mutex
	invocations []types.Invocation

	// InvokeFn replaces the default behavior when set.
	InvokeFn func(context.Context, types.Invocation, store.KV) ([]byte, error)

	Calls atomic.Int64
}

func (m *MockEndpoint) Invoke(ctx context.Context, inv types.Invocation, kv store.KV) ([]byte, error) {
	m.Calls.Add(1)
	m.mu.Lock()
	m.invocations = append(m.invocations, inv)
	m.mu.Unlock()
	if m.InvokeFn != nil {
		return m.InvokeFn(ctx, inv, kv)
	}
	return inv.Payload, nil
}

// Invocations returns a copy of the invocations seen so far, including
// ones whose writes were later discarded.
func (m *MockEndpoint) Invocations() []types.Invocation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Invocation, len(m.invocations))
	copy(out, m.invocations)
	return out
}

// Last returns the most recent invocation.
func (m *MockEndpoint) Last() (types.Invocation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.invocations) == 0 {
		return types.Invocation{}, false
	}
	return m.invocations[len(m.invocations)-1], true
}
