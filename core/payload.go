package core

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/blockberries/relay"
	"github.com/blockberries/relay/types"
)

// FallbackSignature is the handler signature fallback payloads are
// addressed to.
const FallbackSignature = "relayFallback(uint256,bytes32,address,string,string,bytes,bytes)"

// FallbackSelector is the 4-byte prefix of every fallback payload.
var FallbackSelector = crypto.Keccak256([]byte(FallbackSignature))[:4]

var fallbackArgs = abi.Arguments{
	{Name: "appID", Type: mustType("uint256")},
	{Name: "callID", Type: mustType("bytes32")},
	{Name: "target", Type: mustType("address")},
	{Name: "originChain", Type: mustType("string")},
	{Name: "originTxRef", Type: mustType("string")},
	{Name: "payload", Type: mustType("bytes")},
	{Name: "reason", Type: mustType("bytes")},
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// Fallback is the decoded content of a fallback payload: the failed
// call and why it failed.
type Fallback struct {
	AppID       uint64
	CallID      types.CallID
	Target      types.Address
	OriginChain types.ChainID
	OriginTxRef string
	Payload     []byte
	Reason      []byte
}

// FallbackPayload encodes f as selector ‖ abi(f). Equal inputs give
// identical bytes.
func FallbackPayload(f Fallback) []byte {
	packed, err := fallbackArgs.Pack(
		new(big.Int).SetUint64(f.AppID),
		[32]byte(f.CallID),
		common.Address(f.Target),
		string(f.OriginChain),
		f.OriginTxRef,
		f.Payload,
		f.Reason,
	)
	if err != nil {
		// Every argument matches its declared type.
		panic(fmt.Sprintf("core: pack fallback: %v", err))
	}
	out := make([]byte, 0, len(FallbackSelector)+len(packed))
	out = append(out, FallbackSelector...)
	return append(out, packed...)
}

// DecodeFallback parses a payload built by FallbackPayload.
func DecodeFallback(b []byte) (Fallback, error) {
	if len(b) < len(FallbackSelector) || !bytes.Equal(b[:len(FallbackSelector)], FallbackSelector) {
		return Fallback{}, fmt.Errorf("%w: not a fallback payload", relay.ErrInvalidTx)
	}
	vals, err := fallbackArgs.Unpack(b[len(FallbackSelector):])
	if err != nil {
		return Fallback{}, fmt.Errorf("%w: fallback payload: %v", relay.ErrInvalidTx, err)
	}
	appID, ok := vals[0].(*big.Int)
	if !ok || !appID.IsUint64() {
		return Fallback{}, fmt.Errorf("%w: fallback app id", relay.ErrInvalidTx)
	}
	var f Fallback
	f.AppID = appID.Uint64()
	if f.CallID, ok = asCallID(vals[1]); !ok {
		return Fallback{}, fmt.Errorf("%w: fallback call id", relay.ErrInvalidTx)
	}
	target, ok := vals[2].(common.Address)
	if !ok {
		return Fallback{}, fmt.Errorf("%w: fallback target", relay.ErrInvalidTx)
	}
	f.Target = types.Address(target)
	origin, ok1 := vals[3].(string)
	ref, ok2 := vals[4].(string)
	payload, ok3 := vals[5].([]byte)
	reason, ok4 := vals[6].([]byte)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return Fallback{}, fmt.Errorf("%w: fallback fields", relay.ErrInvalidTx)
	}
	f.OriginChain = types.ChainID(origin)
	f.OriginTxRef = ref
	f.Payload = payload
	f.Reason = reason
	return f, nil
}

func asCallID(v any) (types.CallID, bool) {
	b, ok := v.([32]byte)
	return types.CallID(b), ok
}
