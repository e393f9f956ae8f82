// Package relay defines the boundaries of a cross-chain call relay.
//
// Each chain hosts one relay application driven through the block
// [Lifecycle]. Applications dispatch calls on the origin chain; an
// off-chain relayer carries the committed records to the destination,
// where an operator executes them against a callable [Endpoint]; failed
// executions travel back as fallbacks. Every call is executed at most
// once.
package relay

import (
	"context"

	"github.com/blockberries/relay/store"
	"github.com/blockberries/relay/types"
)

// Lifecycle is the interface the consensus engine drives.
//
// The engine guarantees the following call order:
//  1. Handshake is called exactly once, before anything else.
//  2. ExecuteBlock(h) is called exactly once per committed height h.
//  3. Commit is called exactly once after each ExecuteBlock.
//  4. CheckTx, Query may be called concurrently at any time after Handshake.
type Lifecycle interface {
	// Handshake is called once on every startup (cold start or restart).
	//
	// If LastCommitted is nil this is a fresh genesis and Genesis is
	// populated. The application returns its own view of its state so
	// the engine can detect divergence.
	Handshake(ctx context.Context, req types.HandshakeRequest) (types.HandshakeResponse, error)

	// CheckTx gate-checks a transaction before it enters the mempool.
	// This method MUST be safe for concurrent use.
	CheckTx(ctx context.Context, tx types.Tx, mctx types.MempoolContext) (types.GateVerdict, error)

	// ExecuteBlock deterministically executes a finalized block.
	//
	// It MUST NOT persist state; that happens in Commit. The AppHash and
	// the Records in the outcome must be identical on every node.
	ExecuteBlock(ctx context.Context, block types.FinalizedBlock) (types.BlockOutcome, error)

	// Commit atomically persists the state of the last ExecuteBlock.
	Commit(ctx context.Context) (types.CommitResult, error)

	// Query reads the last committed state. Safe for concurrent use.
	Query(ctx context.Context, req types.StateQuery) (types.StateQueryResult, error)
}

// Simulator dry-runs a transaction against committed state without
// persisting anything. Used to quote fees and pre-flight dispatches.
//
// Declared via: types.CapSimulation in HandshakeResponse.Capabilities
type Simulator interface {
	Simulate(ctx context.Context, tx types.Tx) (types.TxOutcome, error)
}

// RecordSource streams committed outbound records. The channel yields
// one batch per committed height starting at from, and is closed when
// ctx is done or the source shuts down.
type RecordSource interface {
	Records(ctx context.Context, from uint64) (<-chan types.RecordBatch, error)
}

// Connection is a transport-agnostic handle on a relay application.
// Both the gRPC client and the in-process adapter implement it.
type Connection interface {
	Lifecycle
	RecordSource

	// Capabilities returns the capabilities discovered at handshake.
	Capabilities() types.Capabilities

	// AsSimulator returns the Simulator interface if available.
	AsSimulator() Simulator

	Close() error
}

// Endpoint is a callable target on the executing chain.
//
// The relay hands it the call context and payload, plus a store scoped
// to the endpoint. Writes to kv are kept only when Invoke returns a nil
// error; an error or panic discards them and is reported as a failed
// call, never as a failed transaction.
type Endpoint interface {
	Invoke(ctx context.Context, inv types.Invocation, kv store.KV) ([]byte, error)
}

// EndpointFunc adapts a function to Endpoint.
type EndpointFunc func(ctx context.Context, inv types.Invocation, kv store.KV) ([]byte, error)

func (f EndpointFunc) Invoke(ctx context.Context, inv types.Invocation, kv store.KV) ([]byte, error) {
	return f(ctx, inv, kv)
}

// Resolver finds the endpoint deployed at an address.
type Resolver interface {
	Endpoint(addr types.Address) (Endpoint, bool)
}

// Endpoints is a fixed address → endpoint table.
type Endpoints map[types.Address]Endpoint

func (e Endpoints) Endpoint(addr types.Address) (Endpoint, bool) {
	ep, ok := e[addr]
	return ep, ok
}

// Authority decides privileged actions. governance.Governance is the
// on-chain implementation.
type Authority interface {
	// RequireGovernor returns ErrNotGovernor unless addr governs the
	// relay.
	RequireGovernor(addr types.Address) error
}
