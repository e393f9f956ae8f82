// Package fees prices relay traffic and keeps the prepaid budgets of
// apps and the fees the relay has earned from them.
package fees

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/blockberries/relay"
	"github.com/blockberries/relay/dapp"
	"github.com/blockberries/relay/store"
	"github.com/blockberries/relay/types"
)

// Prefix namespaces the ledger in the application store.
var Prefix = []byte("fee/")

var (
	prefixRule    = []byte("rule/")
	prefixBudget  = []byte("budget/")
	prefixAccrued = []byte("accrued/")
)

// defaultRules is the app ID under which default rules are stored. App
// IDs start at 1.
const defaultRules uint64 = 0

// Transferer moves fee assets between accounts. The ledger holds
// deposited funds at its escrow address.
type Transferer interface {
	Transfer(asset, from, to types.Address, amount types.Amount) error
}

// Rule is a fee rule and the app it applies to. AppID zero marks a
// default rule.
type Rule struct {
	AppID uint64
	types.FeeRule
}

// Keeper is the fee and budget ledger.
type Keeper struct {
	*Currencies
	kv     store.KV
	auth   relay.Authority
	apps   *dapp.Keeper
	bank   Transferer
	escrow types.Address
}

// New returns a Keeper over kv. Deposits are moved to escrow through
// bank, and withdrawals are paid from it.
func New(kv store.KV, auth relay.Authority, apps *dapp.Keeper, bank Transferer, escrow types.Address) *Keeper {
	return &Keeper{Currencies: NewCurrencies(kv, auth), kv: kv, auth: auth, apps: apps, bank: bank, escrow: escrow}
}

func ruleKey(appID uint64, chain types.ChainID) []byte {
	return store.Key(prefixRule, store.Uint64Key(appID), []byte(chain))
}

func budgetKey(appID uint64) []byte {
	return store.Key(prefixBudget, store.Uint64Key(appID))
}

func accruedKey(asset types.Address) []byte {
	return store.Key(prefixAccrued, asset[:])
}

func (k *Keeper) amount(key []byte) (types.Amount, error) {
	var a types.Amount
	v, ok, err := store.Lookup(k.kv, key)
	if err != nil || !ok {
		return a, err
	}
	if len(v) != len(a) {
		return a, fmt.Errorf("fees: key %x holds %d bytes, want %d", key, len(v), len(a))
	}
	copy(a[:], v)
	return a, nil
}

func (k *Keeper) putAmount(key []byte, a types.Amount) error {
	if a.IsZero() {
		return k.kv.Delete(key)
	}
	return k.kv.Put(key, a[:])
}

// InitDefaultFee sets a default rule without an authority check. Only
// used at genesis.
func (k *Keeper) InitDefaultFee(rule types.FeeRule) error {
	return k.putRule(defaultRules, rule)
}

func (k *Keeper) putRule(appID uint64, rule types.FeeRule) error {
	if rule.Chain == "" {
		return fmt.Errorf("%w: empty chain", relay.ErrInvalidTx)
	}
	v := make([]byte, 0, 64)
	v = append(v, rule.Base[:]...)
	v = append(v, rule.PerByte[:]...)
	return k.kv.Put(ruleKey(appID, rule.Chain), v)
}

func decodeRule(chain types.ChainID, v []byte) (types.FeeRule, error) {
	r := types.FeeRule{Chain: chain}
	if len(v) != 64 {
		return r, fmt.Errorf("fees: rule for %q holds %d bytes, want 64", chain, len(v))
	}
	copy(r.Base[:], v[:32])
	copy(r.PerByte[:], v[32:])
	return r, nil
}

// SetDefaultFee sets the rule used for chain when an app has none.
func (k *Keeper) SetDefaultFee(caller types.Address, rule types.FeeRule) error {
	if err := k.auth.RequireGovernor(caller); err != nil {
		return err
	}
	return k.putRule(defaultRules, rule)
}

// SetAppFee sets an app-specific rule for chain.
func (k *Keeper) SetAppFee(caller types.Address, appID uint64, rule types.FeeRule) error {
	if err := k.auth.RequireGovernor(caller); err != nil {
		return err
	}
	if _, err := k.apps.Get(appID); err != nil {
		return err
	}
	return k.putRule(appID, rule)
}

// Rule returns the rule that prices traffic from appID to chain: the
// app's own rule if present, else the default one.
func (k *Keeper) Rule(appID uint64, chain types.ChainID) (types.FeeRule, error) {
	for _, id := range []uint64{appID, defaultRules} {
		v, ok, err := store.Lookup(k.kv, ruleKey(id, chain))
		if err != nil {
			return types.FeeRule{}, err
		}
		if ok {
			return decodeRule(chain, v)
		}
	}
	return types.FeeRule{}, fmt.Errorf("%w: %q", relay.ErrUnpricedChain, chain)
}

// Quote returns base + perByte*size under the rule for (appID, chain).
func (k *Keeper) Quote(appID uint64, chain types.ChainID, size uint64) (types.Amount, error) {
	rule, err := k.Rule(appID, chain)
	if err != nil {
		return types.Amount{}, err
	}
	return Price(rule, size)
}

// Price applies rule to a payload of size bytes.
func Price(rule types.FeeRule, size uint64) (types.Amount, error) {
	variable, overflow := new(uint256.Int).MulOverflow(rule.PerByte.Int(), uint256.NewInt(size))
	if overflow {
		return types.Amount{}, fmt.Errorf("%w: per-byte fee for %d bytes", relay.ErrOverflow, size)
	}
	fee, overflow := new(uint256.Int).AddOverflow(rule.Base.Int(), variable)
	if overflow {
		return types.Amount{}, fmt.Errorf("%w: fee for %d bytes", relay.ErrOverflow, size)
	}
	return types.AmountFromInt(fee), nil
}

// Rules lists every rule, defaults first, then by app and chain.
func (k *Keeper) Rules() ([]Rule, error) {
	var (
		rules  []Rule
		decErr error
	)
	err := k.kv.Iterate(prefixRule, func(key, v []byte) bool {
		key = key[len(prefixRule):]
		if len(key) < 8 {
			decErr = fmt.Errorf("fees: short rule key %x", key)
			return false
		}
		appID := store.Uint64FromKey(key[:8])
		r, err := decodeRule(types.ChainID(key[8:]), v)
		if err != nil {
			decErr = err
			return false
		}
		rules = append(rules, Rule{AppID: appID, FeeRule: r})
		return true
	})
	if err != nil {
		return nil, err
	}
	return rules, decErr
}

// Budget returns the prepaid balance of appID.
func (k *Keeper) Budget(appID uint64) (types.Amount, error) {
	return k.amount(budgetKey(appID))
}

// Accrued returns the fees earned in asset and not yet withdrawn.
func (k *Keeper) Accrued(asset types.Address) (types.Amount, error) {
	return k.amount(accruedKey(asset))
}

// Deposit pulls amount of the app's fee asset from from and credits the
// app's budget. A credit that would wrap fails with relay.ErrOverflow.
func (k *Keeper) Deposit(from types.Address, appID uint64, amount types.Amount) (types.Amount, error) {
	app, err := k.apps.Get(appID)
	if err != nil {
		return types.Amount{}, err
	}
	budget, err := k.Budget(appID)
	if err != nil {
		return types.Amount{}, err
	}
	sum, overflow := new(uint256.Int).AddOverflow(budget.Int(), amount.Int())
	if overflow {
		return types.Amount{}, fmt.Errorf("%w: budget of app %d", relay.ErrOverflow, appID)
	}
	if err := k.bank.Transfer(app.FeeAsset, from, k.escrow, amount); err != nil {
		return types.Amount{}, err
	}
	next := types.AmountFromInt(sum)
	return next, k.putAmount(budgetKey(appID), next)
}

// Debit moves amount from the app's budget to the accrued fees of its
// fee asset. A debit larger than the budget fails with
// relay.ErrInsufficientBudget and changes nothing.
func (k *Keeper) Debit(appID uint64, amount types.Amount) error {
	app, err := k.apps.Get(appID)
	if err != nil {
		return err
	}
	budget, err := k.Budget(appID)
	if err != nil {
		return err
	}
	if amount.Cmp(budget) > 0 {
		return fmt.Errorf("%w: app %d has %s, needs %s", relay.ErrInsufficientBudget, appID, budget, amount)
	}
	accrued, err := k.Accrued(app.FeeAsset)
	if err != nil {
		return err
	}
	total, overflow := new(uint256.Int).AddOverflow(accrued.Int(), amount.Int())
	if overflow {
		return fmt.Errorf("%w: accrued fees in %s", relay.ErrOverflow, app.FeeAsset)
	}
	left := new(uint256.Int).Sub(budget.Int(), amount.Int())
	if err := k.putAmount(budgetKey(appID), types.AmountFromInt(left)); err != nil {
		return err
	}
	return k.putAmount(accruedKey(app.FeeAsset), types.AmountFromInt(total))
}

// WithdrawBudget returns unspent budget to to. Only the app admin may
// withdraw.
func (k *Keeper) WithdrawBudget(caller types.Address, appID uint64, to types.Address, amount types.Amount) (types.Amount, error) {
	app, err := k.apps.RequireAdmin(caller, appID)
	if err != nil {
		return types.Amount{}, err
	}
	budget, err := k.Budget(appID)
	if err != nil {
		return types.Amount{}, err
	}
	if amount.Cmp(budget) > 0 {
		return types.Amount{}, fmt.Errorf("%w: app %d has %s, withdrawing %s", relay.ErrInsufficientBudget, appID, budget, amount)
	}
	left := types.AmountFromInt(new(uint256.Int).Sub(budget.Int(), amount.Int()))
	if err := k.putAmount(budgetKey(appID), left); err != nil {
		return types.Amount{}, err
	}
	return left, k.bank.Transfer(app.FeeAsset, k.escrow, to, amount)
}

// WithdrawFees pays accrued fees in asset out to to. Only the governor
// may withdraw, and never more than has accrued.
func (k *Keeper) WithdrawFees(caller, asset, to types.Address, amount types.Amount) error {
	if err := k.auth.RequireGovernor(caller); err != nil {
		return err
	}
	accrued, err := k.Accrued(asset)
	if err != nil {
		return err
	}
	left, underflow := new(uint256.Int).SubOverflow(accrued.Int(), amount.Int())
	if underflow {
		return fmt.Errorf("%w: withdrawing %s of %s accrued", relay.ErrOverflow, amount, accrued)
	}
	if err := k.putAmount(accruedKey(asset), types.AmountFromInt(left)); err != nil {
		return err
	}
	return k.bank.Transfer(asset, k.escrow, to, amount)
}
