// Package bridge is a custodial token bridge built on relayed calls.
//
// Every chain runs a vault: an account that holds locked deposits in
// the in-state bank, and an endpoint at the same address that keeps a
// ledger of what the vault owes each holder. A swap out moves the
// depositor's tokens to the vault and has the vault dispatch a mint to
// its peer on the destination chain, which credits the recipient. If
// the mint reverts, the relay hands the call back as a fallback and the
// origin vault credits the depositor a refund instead.
package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/blockberries/cramberry/pkg/cramberry"
	"github.com/holiman/uint256"

	"github.com/blockberries/relay"
	"github.com/blockberries/relay/core"
	"github.com/blockberries/relay/store"
	"github.com/blockberries/relay/types"
)

var _ relay.Endpoint = (*Vault)(nil)

var (
	ErrUntrustedPeer  = errors.New("bridge: caller is not a trusted vault")
	ErrZeroAmount     = errors.New("bridge: zero amount")
	ErrOverLimit      = errors.New("bridge: amount over swap limit")
	ErrAlreadyHandled = errors.New("bridge: swap already handled")
	errOverflow       = errors.New("bridge: balance overflow")
)

var (
	prefixBalance = []byte("bal/")
	prefixSwap    = []byte("swap/")
)

// Swap is the payload a vault dispatches to its peer.
type Swap struct {
	Depositor types.Address `cramberry:"1"`
	Recipient types.Address `cramberry:"2"`
	Amount    types.Amount  `cramberry:"3"`
}

func EncodeSwap(s Swap) ([]byte, error) {
	return cramberry.Marshal(&s)
}

func DecodeSwap(b []byte) (Swap, error) {
	var s Swap
	if err := cramberry.Unmarshal(b, &s); err != nil {
		return Swap{}, fmt.Errorf("bridge: decode swap: %w", err)
	}
	return s, nil
}

// Vault is the endpoint and the dispatcher of one chain's side of the
// bridge.
type Vault struct {
	// Address is both the custody account and the endpoint address.
	Address types.Address
	// Asset is the bank asset locked by swaps out of this chain.
	Asset types.Address
	// AppID is the relay app the vault dispatches under.
	AppID uint64
	// Peers maps each chain to the vault trusted to mint from it.
	Peers map[types.ChainID]types.Address
	// Limit caps a single incoming swap. Zero is unlimited.
	Limit types.Amount
}

// SwapOut builds the two transactions of a swap to dest: the lock,
// signed by the depositor, and the dispatch, signed by the vault.
func (v *Vault) SwapOut(dest types.ChainID, depositor, recipient types.Address, amount types.Amount) (*types.MsgTransfer, *types.MsgDispatch, error) {
	peer, ok := v.Peers[dest]
	if !ok {
		return nil, nil, fmt.Errorf("bridge: no vault on %s", dest)
	}
	if amount.IsZero() {
		return nil, nil, ErrZeroAmount
	}
	payload, err := EncodeSwap(Swap{Depositor: depositor, Recipient: recipient, Amount: amount})
	if err != nil {
		return nil, nil, err
	}
	lock := &types.MsgTransfer{Asset: v.Asset, To: v.Address, Amount: amount}
	dispatch := &types.MsgDispatch{AppID: v.AppID, Target: peer.Hex(), DestChain: dest, Payload: payload}
	return lock, dispatch, nil
}

// Invoke mints on the destination and refunds on a fallback. Both
// return the credited holder's new balance.
func (v *Vault) Invoke(_ context.Context, inv types.Invocation, kv store.KV) ([]byte, error) {
	if peer, ok := v.Peers[inv.OriginChain]; !ok || peer != inv.Caller {
		return nil, fmt.Errorf("%w: %s on %s", ErrUntrustedPeer, inv.Caller, inv.OriginChain)
	}
	if inv.Fallback {
		return v.refund(inv, kv)
	}

	swap, err := DecodeSwap(inv.Payload)
	if err != nil {
		return nil, err
	}
	if swap.Amount.IsZero() {
		return nil, ErrZeroAmount
	}
	if !v.Limit.IsZero() && swap.Amount.Cmp(v.Limit) > 0 {
		return nil, fmt.Errorf("%w: %s > %s", ErrOverLimit, swap.Amount, v.Limit)
	}
	if err := markHandled(kv, inv.CallID); err != nil {
		return nil, err
	}
	return credit(kv, swap.Recipient, swap.Amount)
}

func (v *Vault) refund(inv types.Invocation, kv store.KV) ([]byte, error) {
	fb, err := core.DecodeFallback(inv.Payload)
	if err != nil {
		return nil, err
	}
	swap, err := DecodeSwap(fb.Payload)
	if err != nil {
		return nil, err
	}
	if err := markHandled(kv, fb.CallID); err != nil {
		return nil, err
	}
	return credit(kv, swap.Depositor, swap.Amount)
}

func markHandled(kv store.KV, id types.CallID) error {
	key := store.Key(prefixSwap, id[:])
	seen, err := kv.Has(key)
	if err != nil {
		return err
	}
	if seen {
		return fmt.Errorf("%w: %s", ErrAlreadyHandled, id.Hex())
	}
	return kv.Put(key, []byte{1})
}

func credit(kv store.KV, holder types.Address, amount types.Amount) ([]byte, error) {
	bal, err := Balance(kv, holder)
	if err != nil {
		return nil, err
	}
	sum, overflow := new(uint256.Int).AddOverflow(bal.Int(), amount.Int())
	if overflow {
		return nil, errOverflow
	}
	next := types.AmountFromInt(sum)
	if err := kv.Put(store.Key(prefixBalance, holder[:]), next[:]); err != nil {
		return nil, err
	}
	return next[:], nil
}

// Balance returns what the vault owes holder.
func Balance(kv store.KV, holder types.Address) (types.Amount, error) {
	var a types.Amount
	v, ok, err := store.Lookup(kv, store.Key(prefixBalance, holder[:]))
	if err != nil || !ok {
		return a, err
	}
	if len(v) != len(a) {
		return a, fmt.Errorf("bridge: balance of %s holds %d bytes", holder, len(v))
	}
	copy(a[:], v)
	return a, nil
}

// Result decodes the balance returned by Invoke.
func Result(ret []byte) (types.Amount, error) {
	var a types.Amount
	if len(ret) != len(a) {
		return a, fmt.Errorf("bridge: result is %d bytes, want %d", len(ret), len(a))
	}
	copy(a[:], ret)
	return a, nil
}
