// Package dapp stores the registration and access policy of the
// applications that relay calls.
package dapp

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/blockberries/cramberry/pkg/cramberry"

	"github.com/blockberries/relay"
	"github.com/blockberries/relay/store"
	"github.com/blockberries/relay/types"
)

// Prefix namespaces the app store in the application store.
var Prefix = []byte("dapp/")

var (
	keyNextID = []byte("next")
	prefixApp = []byte("cfg/")
)

// FeeAssets is the allow-list apps must pick their fee asset from.
type FeeAssets interface {
	RequireFeeCurrency(asset types.Address) error
}

// Keeper reads and writes app configurations. Budgets live in the fee
// ledger; App.Budget is always zero here.
type Keeper struct {
	kv     store.KV
	auth   relay.Authority
	assets FeeAssets
}

// New returns a Keeper over kv. auth completes admin resets.
func New(kv store.KV, auth relay.Authority, assets FeeAssets) *Keeper {
	return &Keeper{kv: kv, auth: auth, assets: assets}
}

func appKey(id uint64) []byte {
	return store.Key(prefixApp, store.Uint64Key(id))
}

// Register creates an app and returns it with its new ID. IDs start at
// 1 and increase by one. A zero admin defaults to caller.
func (k *Keeper) Register(caller, feeAsset, admin types.Address, mode types.ExecutionMode, whitelist []types.Address) (types.App, error) {
	if !mode.Valid() {
		return types.App{}, fmt.Errorf("%w: %d", relay.ErrInvalidMode, mode)
	}
	if err := k.assets.RequireFeeCurrency(feeAsset); err != nil {
		return types.App{}, err
	}
	if admin.IsZero() {
		admin = caller
	}
	last, err := store.GetUint64(k.kv, keyNextID)
	if err != nil {
		return types.App{}, err
	}
	app := types.App{
		ID:        last + 1,
		Admin:     admin,
		FeeAsset:  feeAsset,
		Mode:      mode,
		Whitelist: normalize(whitelist),
	}
	if err := store.PutUint64(k.kv, keyNextID, app.ID); err != nil {
		return types.App{}, err
	}
	return app, k.put(app)
}

// Get returns the app with the given ID, or relay.ErrUnknownApp.
func (k *Keeper) Get(id uint64) (types.App, error) {
	v, ok, err := store.Lookup(k.kv, appKey(id))
	if err != nil {
		return types.App{}, err
	}
	if !ok {
		return types.App{}, fmt.Errorf("%w: %d", relay.ErrUnknownApp, id)
	}
	var app types.App
	if err := cramberry.Unmarshal(v, &app); err != nil {
		return types.App{}, fmt.Errorf("dapp: decode app %d: %w", id, err)
	}
	return app, nil
}

// Count returns the number of registered apps.
func (k *Keeper) Count() (uint64, error) {
	return store.GetUint64(k.kv, keyNextID)
}

func (k *Keeper) put(app types.App) error {
	app.Budget = types.Amount{}
	v, err := cramberry.Marshal(&app)
	if err != nil {
		return fmt.Errorf("dapp: encode app %d: %w", app.ID, err)
	}
	return k.kv.Put(appKey(app.ID), v)
}

// RequireAdmin loads the app and checks caller is its admin.
func (k *Keeper) RequireAdmin(caller types.Address, id uint64) (types.App, error) {
	app, err := k.Get(id)
	if err != nil {
		return types.App{}, err
	}
	if app.Admin != caller {
		return types.App{}, relay.ErrNotAdmin
	}
	return app, nil
}

// UpdateConfig changes the fee asset and mode.
func (k *Keeper) UpdateConfig(caller types.Address, id uint64, feeAsset types.Address, mode types.ExecutionMode) (types.App, error) {
	if !mode.Valid() {
		return types.App{}, fmt.Errorf("%w: %d", relay.ErrInvalidMode, mode)
	}
	app, err := k.RequireAdmin(caller, id)
	if err != nil {
		return types.App{}, err
	}
	if err := k.assets.RequireFeeCurrency(feeAsset); err != nil {
		return types.App{}, err
	}
	app.FeeAsset = feeAsset
	app.Mode = mode
	return app, k.put(app)
}

// AddToWhitelist adds addrs. Present addresses are ignored.
func (k *Keeper) AddToWhitelist(caller types.Address, id uint64, addrs []types.Address) (types.App, error) {
	app, err := k.RequireAdmin(caller, id)
	if err != nil {
		return types.App{}, err
	}
	app.Whitelist = normalize(append(app.Whitelist, addrs...))
	return app, k.put(app)
}

// DelFromWhitelist removes addrs. Absent addresses are ignored.
func (k *Keeper) DelFromWhitelist(caller types.Address, id uint64, addrs []types.Address) (types.App, error) {
	app, err := k.RequireAdmin(caller, id)
	if err != nil {
		return types.App{}, err
	}
	app.Whitelist = slices.DeleteFunc(app.Whitelist, func(a types.Address) bool {
		return slices.Contains(addrs, a)
	})
	return app, k.put(app)
}

// DelegateAdmin is the first step of an admin reset: the current admin
// names its successor.
func (k *Keeper) DelegateAdmin(caller types.Address, id uint64, next types.Address) (types.App, error) {
	app, err := k.RequireAdmin(caller, id)
	if err != nil {
		return types.App{}, err
	}
	if next.IsZero() {
		return types.App{}, fmt.Errorf("%w: zero admin", relay.ErrInvalidTx)
	}
	app.PendingAdmin = next
	return app, k.put(app)
}

// ApplyAdmin completes a delegated reset. Only the governor may apply.
func (k *Keeper) ApplyAdmin(caller types.Address, id uint64) (types.App, error) {
	if err := k.auth.RequireGovernor(caller); err != nil {
		return types.App{}, err
	}
	app, err := k.Get(id)
	if err != nil {
		return types.App{}, err
	}
	if app.PendingAdmin.IsZero() {
		return types.App{}, fmt.Errorf("%w: app %d has no pending admin", relay.ErrInvalidTx, id)
	}
	app.Admin, app.PendingAdmin = app.PendingAdmin, types.Address{}
	return app, k.put(app)
}

// IsWhitelisted reports whether addr is on the app's whitelist.
func (k *Keeper) IsWhitelisted(id uint64, addr types.Address) (bool, error) {
	app, err := k.Get(id)
	if err != nil {
		return false, err
	}
	return whitelisted(app, addr), nil
}

func whitelisted(app types.App, addr types.Address) bool {
	_, ok := slices.BinarySearchFunc(app.Whitelist, addr, compare)
	return ok
}

// CanDispatch reports whether caller may dispatch on the app's budget.
func CanDispatch(app types.App, caller types.Address) bool {
	if app.Mode == types.ModeOpenCall {
		return true
	}
	return caller == app.Admin || whitelisted(app, caller)
}

// CanTarget reports whether target may be executed for the app.
func CanTarget(app types.App, target types.Address) bool {
	if app.Mode == types.ModeOpenCall {
		return true
	}
	return whitelisted(app, target)
}

func compare(a, b types.Address) int { return bytes.Compare(a[:], b[:]) }

func normalize(addrs []types.Address) []types.Address {
	out := slices.Clone(addrs)
	slices.SortFunc(out, compare)
	return slices.Compact(out)
}
