package types

import "fmt"

// CallState is the lifecycle position of one CallID on one chain.
//
//	Dispatched → ExecutedOk
//	           → ExecutedFail → FallbackPending → FallbackExecuted
//
// The origin chain holds the Dispatched record and later moves it to
// FallbackExecuted; the destination chain holds the Executed* and
// FallbackPending records.
type CallState uint8

const (
	CallUnknown CallState = iota
	CallDispatched
	CallExecutedOk
	CallExecutedFail
	CallFallbackPending
	CallFallbackExecuted
)

func (s CallState) String() string {
	switch s {
	case CallUnknown:
		return "Unknown"
	case CallDispatched:
		return "Dispatched"
	case CallExecutedOk:
		return "ExecutedOk"
	case CallExecutedFail:
		return "ExecutedFail"
	case CallFallbackPending:
		return "FallbackPending"
	case CallFallbackExecuted:
		return "FallbackExecuted"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s CallState) Terminal() bool {
	return s == CallExecutedOk || s == CallFallbackExecuted
}

// CallRecord is the per-chain bookkeeping for one CallID.
type CallRecord struct {
	ID     CallID    `cramberry:"1"`
	AppID  uint64    `cramberry:"2"`
	State  CallState `cramberry:"3"`
	Caller Address   `cramberry:"4"`
	// Target on the destination chain (string, chain specific) for
	// outbound records; hex endpoint address for inbound records.
	Target string `cramberry:"5"`
	// Destination chain for outbound records, origin chain for inbound.
	PeerChain ChainID `cramberry:"6"`
	TxRef     string  `cramberry:"7"`
	Payload   []byte  `cramberry:"8"`
	Height    uint64  `cramberry:"9"`
}

// Invocation is what a callable endpoint sees while the relay invokes
// it: the call context plus the payload.
type Invocation struct {
	AppID  uint64  `cramberry:"1"`
	CallID CallID  `cramberry:"2"`
	Caller Address `cramberry:"3"`
	// Chain the call originated on. For a fallback, the chain where
	// execution failed.
	OriginChain ChainID `cramberry:"4"`
	TxRef       string  `cramberry:"5"`
	Target      Address `cramberry:"6"`
	Payload     []byte  `cramberry:"7"`
	Fallback    bool    `cramberry:"8"`
	Reason      []byte  `cramberry:"9"`
}
