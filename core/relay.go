// Package core is the call relay: it dispatches calls on the origin
// chain, executes them on the destination chain and delivers fallbacks
// back to the origin when execution fails.
//
// Every entry point runs against a store.KV and is atomic: a returned
// error leaves kv untouched. Failures of the invoked endpoint are not
// errors; they are recorded and routed to the fallback path.
package core

import (
	"errors"

	"go.uber.org/zap"

	"github.com/blockberries/relay"
	"github.com/blockberries/relay/callid"
	"github.com/blockberries/relay/dapp"
	"github.com/blockberries/relay/fees"
	"github.com/blockberries/relay/governance"
	"github.com/blockberries/relay/operator"
	"github.com/blockberries/relay/store"
	"github.com/blockberries/relay/types"
)

// Config fixes the identity and collaborators of a relay.
type Config struct {
	// Chain is the chain this relay runs on.
	Chain types.ChainID
	// Address is the relay's own identity. It salts CallIDs, is the
	// supported caller of the identifier keeper, and holds escrowed fees.
	Address types.Address
	// RequireFee rejects dispatches to chains without a fee rule. When
	// false such dispatches are free.
	RequireFee bool
	// Endpoints resolves execution targets and fallback handlers.
	Endpoints relay.Resolver
	// Bank builds the asset mover used by the fee ledger over the same
	// store the relay writes to.
	Bank func(kv store.KV) fees.Transferer
	Logger *zap.Logger
}

// Relay executes relay entry points. It holds no state of its own.
type Relay struct {
	cfg    Config
	logger *zap.Logger
}

// New returns a Relay for cfg.
func New(cfg Config) *Relay {
	if cfg.Endpoints == nil {
		cfg.Endpoints = relay.Endpoints{}
	}
	if cfg.Bank == nil {
		cfg.Bank = func(store.KV) fees.Transferer { return noBank{} }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{cfg: cfg, logger: logger.With(zap.String("chain", string(cfg.Chain)))}
}

// Chain returns the chain the relay runs on.
func (r *Relay) Chain() types.ChainID { return r.cfg.Chain }

// Address returns the relay's identity.
func (r *Relay) Address() types.Address { return r.cfg.Address }

type noBank struct{}

func (noBank) Transfer(types.Address, types.Address, types.Address, types.Amount) error {
	return errors.New("no bank configured")
}

// Keepers are the relay's stores, namespaced inside one KV.
type Keepers struct {
	Gov       *governance.Governance
	Operators *operator.Registry
	IDs       *callid.Keeper
	Apps      *dapp.Keeper
	Fees      *fees.Keeper
	Calls     *Calls
}

// Keepers builds the keepers over kv.
func (r *Relay) Keepers(kv store.KV) *Keepers {
	gov := governance.New(store.Prefix(kv, governance.Prefix))
	feeKV := store.Prefix(kv, fees.Prefix)
	apps := dapp.New(store.Prefix(kv, dapp.Prefix), gov, fees.NewCurrencies(feeKV, gov))
	return &Keepers{
		Gov:       gov,
		Operators: operator.New(store.Prefix(kv, operator.Prefix), gov),
		IDs:       callid.New(store.Prefix(kv, callid.Prefix), gov, r.cfg.Address, r.cfg.Chain),
		Apps:      apps,
		Fees:      fees.New(feeKV, gov, apps, r.cfg.Bank(kv), r.cfg.Address),
		Calls:     NewCalls(store.Prefix(kv, CallsPrefix)),
	}
}

// atomic runs fn over a cache of kv and writes the cache back only if
// fn succeeds.
func (r *Relay) atomic(kv store.KV, fn func(kv store.KV, k *Keepers) error) error {
	cache := store.NewCache(kv)
	if err := fn(cache, r.Keepers(cache)); err != nil {
		cache.Discard()
		return err
	}
	return cache.Write()
}

// TxContext identifies the transaction an entry point runs in.
type TxContext struct {
	Height uint64
	Sender types.Address
	// Ref is the hex hash of the transaction.
	Ref string
}

var endpointPrefix = []byte("ep/")

// EndpointStore returns the store an endpoint at addr sees.
func EndpointStore(kv store.KV, addr types.Address) store.KV {
	return store.Prefix(kv, store.Key(endpointPrefix, addr[:], []byte("/")))
}
