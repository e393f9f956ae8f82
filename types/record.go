package types

import (
	"encoding/hex"
	"fmt"
	"strconv"
)

// RecordKind tags the variant carried by a Record.
type RecordKind uint8

const (
	RecordDispatch RecordKind = iota + 1
	RecordExecution
	RecordFallbackPending
	RecordFallback
)

func (k RecordKind) String() string {
	switch k {
	case RecordDispatch:
		return "dispatch"
	case RecordExecution:
		return "execution"
	case RecordFallbackPending:
		return "fallback_pending"
	case RecordFallback:
		return "fallback"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// DispatchRecord is emitted on the origin chain for every accepted
// dispatch. It is the message the relayer carries to DestChain.
type DispatchRecord struct {
	AppID       uint64  `cramberry:"1"`
	CallID      CallID  `cramberry:"2"`
	Caller      Address `cramberry:"3"`
	OriginChain ChainID `cramberry:"4"`
	DestChain   ChainID `cramberry:"5"`
	Target      string  `cramberry:"6"`
	Payload     []byte  `cramberry:"7"`
	TxRef       string  `cramberry:"8"`
	Fee         Amount  `cramberry:"9"`
}

// ExecutionRecord reports the outcome of an execute on the
// destination chain.
type ExecutionRecord struct {
	AppID       uint64  `cramberry:"1"`
	Target      Address `cramberry:"2"`
	CallID      CallID  `cramberry:"3"`
	OriginChain ChainID `cramberry:"4"`
	OriginTxRef string  `cramberry:"5"`
	Payload     []byte  `cramberry:"6"`
	Success     bool    `cramberry:"7"`
	ReturnData  []byte  `cramberry:"8"`
}

// FallbackPendingRecord asks the relayer to deliver FallbackPayload
// back to OriginChain.
type FallbackPendingRecord struct {
	AppID  uint64  `cramberry:"1"`
	CallID CallID  `cramberry:"2"`
	Target Address `cramberry:"3"`
	// FallbackTo is the origin-side handler (the dispatching caller).
	FallbackTo      string  `cramberry:"4"`
	OriginChain     ChainID `cramberry:"5"`
	FailChain       ChainID `cramberry:"6"`
	FailTxRef       string  `cramberry:"7"`
	FallbackPayload []byte  `cramberry:"8"`
	Reason          []byte  `cramberry:"9"`
}

// FallbackRecord reports that the origin-side fallback handler ran.
type FallbackRecord struct {
	AppID           uint64  `cramberry:"1"`
	Target          Address `cramberry:"2"`
	CallID          CallID  `cramberry:"3"`
	OriginChain     ChainID `cramberry:"4"`
	FailTxRef       string  `cramberry:"5"`
	FallbackPayload []byte  `cramberry:"6"`
	Success         bool    `cramberry:"7"`
	Result          []byte  `cramberry:"8"`
}

// Record is an outbound relay message. Exactly one variant pointer is
// set, matching Kind.
type Record struct {
	Kind RecordKind `cramberry:"1"`
	// Height and Index locate the emitting transaction.
	Height          uint64                 `cramberry:"2"`
	Index           uint32                 `cramberry:"3"`
	Dispatch        *DispatchRecord        `cramberry:"4"`
	Execution       *ExecutionRecord       `cramberry:"5"`
	FallbackPending *FallbackPendingRecord `cramberry:"6"`
	Fallback        *FallbackRecord        `cramberry:"7"`
}

// CallID returns the call the record refers to.
func (r Record) CallID() CallID {
	switch {
	case r.Dispatch != nil:
		return r.Dispatch.CallID
	case r.Execution != nil:
		return r.Execution.CallID
	case r.FallbackPending != nil:
		return r.FallbackPending.CallID
	case r.Fallback != nil:
		return r.Fallback.CallID
	}
	return CallID{}
}

// AppID returns the app the record belongs to.
func (r Record) AppID() uint64 {
	switch {
	case r.Dispatch != nil:
		return r.Dispatch.AppID
	case r.Execution != nil:
		return r.Execution.AppID
	case r.FallbackPending != nil:
		return r.FallbackPending.AppID
	case r.Fallback != nil:
		return r.Fallback.AppID
	}
	return 0
}

// Event renders the record as an indexable block event.
func (r Record) Event() Event {
	ev := Event{Kind: "relay_" + r.Kind.String()}
	ev.Add("app_id", strconv.FormatUint(r.AppID(), 10), true)
	ev.Add("call_id", r.CallID().Hex(), true)

	switch {
	case r.Dispatch != nil:
		d := r.Dispatch
		ev.Add("caller", d.Caller.Hex(), true)
		ev.Add("dest_chain", string(d.DestChain), true)
		ev.Add("target", d.Target, false)
		ev.Add("payload", hex.EncodeToString(d.Payload), false)
		ev.Add("fee", d.Fee.String(), false)
	case r.Execution != nil:
		e := r.Execution
		ev.Add("target", e.Target.Hex(), true)
		ev.Add("origin_chain", string(e.OriginChain), true)
		ev.Add("origin_tx", e.OriginTxRef, false)
		ev.Add("success", strconv.FormatBool(e.Success), true)
		ev.Add("return_data", hex.EncodeToString(e.ReturnData), false)
	case r.FallbackPending != nil:
		f := r.FallbackPending
		ev.Add("target", f.Target.Hex(), false)
		ev.Add("fallback_to", f.FallbackTo, false)
		ev.Add("origin_chain", string(f.OriginChain), true)
		ev.Add("reason", string(f.Reason), false)
	case r.Fallback != nil:
		f := r.Fallback
		ev.Add("target", f.Target.Hex(), true)
		ev.Add("origin_chain", string(f.OriginChain), true)
		ev.Add("fail_tx", f.FailTxRef, false)
		ev.Add("success", strconv.FormatBool(f.Success), true)
	}
	return ev
}

// RecordBatch groups the committed records of one block.
type RecordBatch struct {
	Chain   ChainID  `cramberry:"1"`
	Height  uint64   `cramberry:"2"`
	Records []Record `cramberry:"3"`
}

// RecordPage is a run of committed batches in height order.
type RecordPage struct {
	Batches []RecordBatch `cramberry:"1"`
	// Next is the first height the page does not cover.
	Next uint64 `cramberry:"2"`
}
