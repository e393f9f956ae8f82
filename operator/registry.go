// Package operator tracks the accounts allowed to submit execution and
// fallback results.
package operator

import (
	"github.com/blockberries/relay"
	"github.com/blockberries/relay/store"
	"github.com/blockberries/relay/types"
)

// Prefix namespaces the registry in the application store.
var Prefix = []byte("op/")

// Registry is a set of operator addresses keyed by address, so
// membership is a single lookup and enumeration is in address order.
type Registry struct {
	kv   store.KV
	auth relay.Authority
}

// New returns a Registry over kv. auth guards Add and Revoke.
func New(kv store.KV, auth relay.Authority) *Registry {
	return &Registry{kv: kv, auth: auth}
}

// Init adds operators without an authority check. Only used at genesis.
func (r *Registry) Init(ops ...types.Address) error {
	for _, op := range ops {
		if err := r.kv.Put(op[:], []byte{1}); err != nil {
			return err
		}
	}
	return nil
}

// Add registers op. Adding an existing operator succeeds.
func (r *Registry) Add(caller, op types.Address) error {
	if err := r.auth.RequireGovernor(caller); err != nil {
		return err
	}
	return r.kv.Put(op[:], []byte{1})
}

// Revoke removes op. Revoking a non-member succeeds.
func (r *Registry) Revoke(caller, op types.Address) error {
	if err := r.auth.RequireGovernor(caller); err != nil {
		return err
	}
	return r.kv.Delete(op[:])
}

// IsOperator reports whether addr is registered.
func (r *Registry) IsOperator(addr types.Address) (bool, error) {
	return r.kv.Has(addr[:])
}

// RequireOperator returns relay.ErrNotOperator unless addr is
// registered.
func (r *Registry) RequireOperator(addr types.Address) error {
	ok, err := r.IsOperator(addr)
	if err != nil {
		return err
	}
	if !ok {
		return relay.ErrNotOperator
	}
	return nil
}

// All lists operators in address order.
func (r *Registry) All() ([]types.Address, error) {
	var ops []types.Address
	err := r.kv.Iterate(nil, func(k, _ []byte) bool {
		var a types.Address
		copy(a[:], k)
		ops = append(ops, a)
		return true
	})
	return ops, err
}
