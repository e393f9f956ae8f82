package relaygrpc

import "github.com/blockberries/relay/types"

// Request wrappers for RPCs whose interface signatures don't map to a
// single struct. Used only at the gRPC boundary.

// CheckTxRequest wraps the parameters for Lifecycle.CheckTx.
type CheckTxRequest struct {
	Tx      types.Tx             `cramberry:"1"`
	Context types.MempoolContext `cramberry:"2"`
}

// CommitRequest is the (empty) request for Lifecycle.Commit.
type CommitRequest struct{}

// SimulateRequest wraps the parameter for Simulator.Simulate.
type SimulateRequest struct {
	Tx types.Tx `cramberry:"1"`
}

// RecordsRequest opens a record stream at From.
type RecordsRequest struct {
	From uint64 `cramberry:"1"`
}

// haltHeightKey is the trailer carrying the height of a halt.
const haltHeightKey = "relay-halt-height"
