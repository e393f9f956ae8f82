package core

import (
	"fmt"

	"github.com/blockberries/cramberry/pkg/cramberry"

	"github.com/blockberries/relay/store"
	"github.com/blockberries/relay/types"
)

// CallsPrefix namespaces call records in the application store.
var CallsPrefix = []byte("call/")

// Side selects which of a chain's two call tables a record lives in.
type Side uint8

const (
	// Outbound records are calls dispatched from this chain.
	Outbound Side = iota + 1
	// Inbound records are calls executed on this chain.
	Inbound
)

func (s Side) String() string {
	switch s {
	case Outbound:
		return "out"
	case Inbound:
		return "in"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

func (s Side) prefix() []byte { return []byte(s.String() + "/") }

// transitions lists the legal state changes. A loopback call has both
// an outbound and an inbound record, so the two sides never share one.
//
//	outbound: Unknown → Dispatched → FallbackExecuted
//	inbound:  Unknown → ExecutedOk
//	          Unknown → ExecutedFail → FallbackPending
var transitions = map[types.CallState][]types.CallState{
	types.CallUnknown:         {types.CallDispatched, types.CallExecutedOk, types.CallExecutedFail},
	types.CallDispatched:      {types.CallExecutedOk, types.CallExecutedFail, types.CallFallbackExecuted},
	types.CallExecutedFail:    {types.CallFallbackPending},
	types.CallFallbackPending: {types.CallFallbackExecuted},
}

// CanTransition reports whether a call may move from one state to
// another.
func CanTransition(from, to types.CallState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Calls stores per-chain call records.
type Calls struct {
	kv store.KV
}

// NewCalls returns a Calls over kv.
func NewCalls(kv store.KV) *Calls { return &Calls{kv: kv} }

func callKey(side Side, id types.CallID) []byte {
	return store.Key(side.prefix(), id[:])
}

// Get returns the record of id on side. ok is false when none exists.
func (c *Calls) Get(side Side, id types.CallID) (rec types.CallRecord, ok bool, err error) {
	v, ok, err := store.Lookup(c.kv, callKey(side, id))
	if err != nil || !ok {
		return rec, false, err
	}
	if err := cramberry.Unmarshal(v, &rec); err != nil {
		return rec, false, fmt.Errorf("core: decode %s call %s: %w", side, id.Hex(), err)
	}
	return rec, true, nil
}

// State returns the state of id on side, CallUnknown if absent.
func (c *Calls) State(side Side, id types.CallID) (types.CallState, error) {
	rec, _, err := c.Get(side, id)
	return rec.State, err
}

// move stores rec after checking its state change from the stored one.
func (c *Calls) move(side Side, rec types.CallRecord) error {
	from, err := c.State(side, rec.ID)
	if err != nil {
		return err
	}
	if !CanTransition(from, rec.State) {
		return fmt.Errorf("core: illegal %s transition %s → %s for %s", side, from, rec.State, rec.ID.Hex())
	}
	v, err := cramberry.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("core: encode call %s: %w", rec.ID.Hex(), err)
	}
	return c.kv.Put(callKey(side, rec.ID), v)
}
