package app

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/blockberries/relay/fees"
	"github.com/blockberries/relay/store"
	"github.com/blockberries/relay/types"
)

var bankPrefix = []byte("bank/")

var _ fees.Transferer = (*Bank)(nil)

// Bank is the in-state ledger of fee assets. Balances are keyed by
// (asset, holder).
type Bank struct {
	kv store.KV
}

// NewBank returns a Bank over the application state kv.
func NewBank(kv store.KV) *Bank {
	return &Bank{kv: store.Prefix(kv, bankPrefix)}
}

func balanceKey(asset, holder types.Address) []byte {
	return store.Key(asset[:], holder[:])
}

// Balance returns holder's balance of asset.
func (b *Bank) Balance(asset, holder types.Address) (types.Amount, error) {
	var a types.Amount
	v, ok, err := store.Lookup(b.kv, balanceKey(asset, holder))
	if err != nil || !ok {
		return a, err
	}
	copy(a[:], v)
	return a, nil
}

func (b *Bank) set(asset, holder types.Address, a types.Amount) error {
	if a.IsZero() {
		return b.kv.Delete(balanceKey(asset, holder))
	}
	return b.kv.Put(balanceKey(asset, holder), a[:])
}

// Mint credits amount of asset to holder. Only used at genesis.
func (b *Bank) Mint(asset, holder types.Address, amount types.Amount) error {
	bal, err := b.Balance(asset, holder)
	if err != nil {
		return err
	}
	sum, overflow := new(uint256.Int).AddOverflow(bal.Int(), amount.Int())
	if overflow {
		return fmt.Errorf("bank: mint overflows balance of %s", holder)
	}
	return b.set(asset, holder, types.AmountFromInt(sum))
}

// Transfer moves amount of asset from one holder to another.
func (b *Bank) Transfer(asset, from, to types.Address, amount types.Amount) error {
	if amount.IsZero() || from == to {
		return nil
	}
	src, err := b.Balance(asset, from)
	if err != nil {
		return err
	}
	if src.Cmp(amount) < 0 {
		return fmt.Errorf("bank: %s holds %s of %s, needs %s", from, src, asset, amount)
	}
	dst, err := b.Balance(asset, to)
	if err != nil {
		return err
	}
	sum, overflow := new(uint256.Int).AddOverflow(dst.Int(), amount.Int())
	if overflow {
		return fmt.Errorf("bank: transfer overflows balance of %s", to)
	}
	if err := b.set(asset, from, types.AmountFromInt(new(uint256.Int).Sub(src.Int(), amount.Int()))); err != nil {
		return err
	}
	return b.set(asset, to, types.AmountFromInt(sum))
}
