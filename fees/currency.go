package fees

import (
	"fmt"

	"github.com/blockberries/relay"
	"github.com/blockberries/relay/store"
	"github.com/blockberries/relay/types"
)

var prefixCurrency = []byte("currency/")

// Currency is an asset apps may pay fees in, with the reference price
// the governor set for it.
type Currency struct {
	Asset types.Address
	Price types.Amount
}

// Currencies is the allow-list of fee assets. An asset is enabled while
// it has a nonzero price.
type Currencies struct {
	kv   store.KV
	auth relay.Authority
}

// NewCurrencies returns the allow-list kept under kv, which must be the
// fee ledger's namespace.
func NewCurrencies(kv store.KV, auth relay.Authority) *Currencies {
	return &Currencies{kv: kv, auth: auth}
}

func currencyKey(asset types.Address) []byte {
	return store.Key(prefixCurrency, asset[:])
}

func (c *Currencies) put(asset types.Address, price types.Amount) error {
	if price.IsZero() {
		return fmt.Errorf("%w: zero price for fee currency %s", relay.ErrInvalidTx, asset)
	}
	return c.kv.Put(currencyKey(asset), price[:])
}

// InitFeeCurrency enables asset without an authority check. Only used
// at genesis.
func (c *Currencies) InitFeeCurrency(asset types.Address, price types.Amount) error {
	return c.put(asset, price)
}

// SetFeeCurrency enables asset, or reprices it if already enabled.
func (c *Currencies) SetFeeCurrency(caller, asset types.Address, price types.Amount) error {
	if err := c.auth.RequireGovernor(caller); err != nil {
		return err
	}
	return c.put(asset, price)
}

// DisableFeeCurrency removes asset from the allow-list. Apps already
// paying in it keep working; new registrations and config updates
// naming it are rejected.
func (c *Currencies) DisableFeeCurrency(caller, asset types.Address) error {
	if err := c.auth.RequireGovernor(caller); err != nil {
		return err
	}
	ok, err := c.kv.Has(currencyKey(asset))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: fee currency %s is not enabled", relay.ErrInvalidTx, asset)
	}
	return c.kv.Delete(currencyKey(asset))
}

// FeeCurrency returns the price of asset and whether it is enabled.
func (c *Currencies) FeeCurrency(asset types.Address) (types.Amount, bool, error) {
	var price types.Amount
	v, ok, err := store.Lookup(c.kv, currencyKey(asset))
	if err != nil || !ok {
		return price, false, err
	}
	if len(v) != len(price) {
		return price, false, fmt.Errorf("fees: currency %s holds %d bytes, want %d", asset, len(v), len(price))
	}
	copy(price[:], v)
	return price, true, nil
}

// RequireFeeCurrency fails with ErrInvalidTx unless asset is enabled.
func (c *Currencies) RequireFeeCurrency(asset types.Address) error {
	_, ok, err := c.FeeCurrency(asset)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: fee currency %s is not enabled", relay.ErrInvalidTx, asset)
	}
	return nil
}

// FeeCurrencies lists the enabled assets in address order.
func (c *Currencies) FeeCurrencies() ([]Currency, error) {
	var (
		out    []Currency
		decErr error
	)
	err := c.kv.Iterate(prefixCurrency, func(key, v []byte) bool {
		key = key[len(prefixCurrency):]
		var cur Currency
		if len(key) != len(cur.Asset) || len(v) != len(cur.Price) {
			decErr = fmt.Errorf("fees: malformed currency entry %x", key)
			return false
		}
		copy(cur.Asset[:], key)
		copy(cur.Price[:], v)
		out = append(out, cur)
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, decErr
}
