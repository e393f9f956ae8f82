// Package callid derives call identifiers and tracks which of them have
// been consumed, so that every call is executed at most once.
package callid

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/blockberries/relay"
	"github.com/blockberries/relay/store"
	"github.com/blockberries/relay/types"
)

// Prefix namespaces the keeper in the application store.
var Prefix = []byte("uuid/")

var (
	prefixNonce      = []byte("nonce/")
	prefixRegistered = []byte("reg/")
	prefixExecuted   = []byte("exec/")
	prefixFellBack   = []byte("fb/")
	prefixCaller     = []byte("caller/")
)

// Consumption names the slot a CallID is consumed in. Execute runs on
// the destination and fallback on the origin; each slot is taken at
// most once.
type Consumption uint8

const (
	ConsumeExecute Consumption = iota + 1
	ConsumeFallback
)

func (c Consumption) String() string {
	switch c {
	case ConsumeExecute:
		return "execute"
	case ConsumeFallback:
		return "fallback"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

func (c Consumption) prefix() []byte {
	if c == ConsumeFallback {
		return prefixFellBack
	}
	return prefixExecuted
}

// Request is the logical call an identifier is derived for.
type Request struct {
	AppID     uint64
	Caller    types.Address
	Target    string
	DestChain types.ChainID
	Payload   []byte
}

var derivation = abi.Arguments{
	{Type: mustType("address")}, // relay
	{Type: mustType("string")},  // origin chain
	{Type: mustType("uint256")}, // app
	{Type: mustType("address")}, // caller
	{Type: mustType("string")},  // target
	{Type: mustType("string")},  // destination chain
	{Type: mustType("uint256")}, // nonce
	{Type: mustType("bytes")},   // payload
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// Derive computes the identifier of req on chain for the relay at
// relayAddr with the given nonce: keccak256 of the ABI encoding of all
// inputs. Both chains can recompute it from a dispatch record.
func Derive(relayAddr types.Address, chain types.ChainID, req Request, nonce uint64) types.CallID {
	packed, err := derivation.Pack(
		common.Address(relayAddr),
		string(chain),
		new(big.Int).SetUint64(req.AppID),
		common.Address(req.Caller),
		req.Target,
		string(req.DestChain),
		new(big.Int).SetUint64(nonce),
		req.Payload,
	)
	if err != nil {
		// Every argument matches its declared type.
		panic(fmt.Sprintf("callid: pack: %v", err))
	}
	return types.CallID(crypto.Keccak256Hash(packed))
}

// Keeper is the on-chain identifier registry of one relay.
type Keeper struct {
	kv    store.KV
	auth  relay.Authority
	relay types.Address
	chain types.ChainID
}

// New returns a Keeper for the relay at relayAddr on chain.
func New(kv store.KV, auth relay.Authority, relayAddr types.Address, chain types.ChainID) *Keeper {
	return &Keeper{kv: kv, auth: auth, relay: relayAddr, chain: chain}
}

func nonceKey(req Request) []byte {
	return store.Key(prefixNonce, req.Caller[:], crypto.Keccak256(req.Payload))
}

// Nonce returns the last nonce used for (req.Caller, req.Payload).
func (k *Keeper) Nonce(req Request) (uint64, error) {
	return store.GetUint64(k.kv, nonceKey(req))
}

// Peek returns the identifier the next Next call would assign to req,
// without changing state.
func (k *Keeper) Peek(req Request) (types.CallID, error) {
	id, _, err := k.next(req)
	return id, err
}

func (k *Keeper) next(req Request) (types.CallID, uint64, error) {
	nonce, err := k.Nonce(req)
	if err != nil {
		return types.CallID{}, 0, err
	}
	for {
		nonce++
		id := Derive(k.relay, k.chain, req, nonce)
		taken, err := k.IsRegistered(id)
		if err != nil {
			return types.CallID{}, 0, err
		}
		if !taken {
			return id, nonce, nil
		}
	}
}

// Next assigns and registers a fresh identifier for req. Identical
// requests receive distinct identifiers.
func (k *Keeper) Next(caller types.Address, req Request) (types.CallID, error) {
	if err := k.requireSupported(caller); err != nil {
		return types.CallID{}, err
	}
	id, nonce, err := k.next(req)
	if err != nil {
		return types.CallID{}, err
	}
	if err := store.PutUint64(k.kv, nonceKey(req), nonce); err != nil {
		return types.CallID{}, err
	}
	if err := k.kv.Put(store.Key(prefixRegistered, id[:]), []byte{1}); err != nil {
		return types.CallID{}, err
	}
	return id, nil
}

// IsRegistered reports whether id was assigned by this keeper.
func (k *Keeper) IsRegistered(id types.CallID) (bool, error) {
	return k.kv.Has(store.Key(prefixRegistered, id[:]))
}

// MarkConsumed takes the kind slot of id. It fails with
// relay.ErrAlreadyConsumed if the slot is already taken.
func (k *Keeper) MarkConsumed(caller types.Address, id types.CallID, kind Consumption) error {
	if err := k.requireSupported(caller); err != nil {
		return err
	}
	key := store.Key(kind.prefix(), id[:])
	done, err := k.kv.Has(key)
	if err != nil {
		return err
	}
	if done {
		return fmt.Errorf("%w: %s %s", relay.ErrAlreadyConsumed, kind, id.Hex())
	}
	return k.kv.Put(key, []byte{1})
}

// IsConsumed reports whether the kind slot of id is taken.
func (k *Keeper) IsConsumed(id types.CallID, kind Consumption) (bool, error) {
	return k.kv.Has(store.Key(kind.prefix(), id[:]))
}

// InitSupportedCaller allows addr to mutate the keeper. Only used at
// genesis.
func (k *Keeper) InitSupportedCaller(addr types.Address) error {
	return k.kv.Put(store.Key(prefixCaller, addr[:]), []byte{1})
}

// AddSupportedCaller allows addr to assign and consume identifiers.
func (k *Keeper) AddSupportedCaller(gov, addr types.Address) error {
	if err := k.auth.RequireGovernor(gov); err != nil {
		return err
	}
	return k.InitSupportedCaller(addr)
}

// RevokeSupportedCaller removes addr from the allow-list.
func (k *Keeper) RevokeSupportedCaller(gov, addr types.Address) error {
	if err := k.auth.RequireGovernor(gov); err != nil {
		return err
	}
	return k.kv.Delete(store.Key(prefixCaller, addr[:]))
}

// IsSupportedCaller reports whether addr may mutate the keeper.
func (k *Keeper) IsSupportedCaller(addr types.Address) (bool, error) {
	return k.kv.Has(store.Key(prefixCaller, addr[:]))
}

func (k *Keeper) requireSupported(addr types.Address) error {
	ok, err := k.IsSupportedCaller(addr)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s is not a supported caller", relay.ErrNotAuthorized, addr.Hex())
	}
	return nil
}
