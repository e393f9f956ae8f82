// Package governance holds the relay governor and the pause switch.
//
// Handing over governance takes two steps: the governor names a
// successor, and the successor applies. Until Apply, the old governor
// keeps every power.
package governance

import (
	"fmt"

	"github.com/blockberries/relay"
	"github.com/blockberries/relay/store"
	"github.com/blockberries/relay/types"
)

// Prefix namespaces governance state in the application store.
var Prefix = []byte("gov/")

var (
	keyGovernor = []byte("governor")
	keyPending  = []byte("pending")
	keyPaused   = []byte("paused")
)

var _ relay.Authority = (*Governance)(nil)

// Governance reads and writes governance state in kv.
type Governance struct {
	kv store.KV
}

// New returns a Governance over kv (already namespaced).
func New(kv store.KV) *Governance {
	return &Governance{kv: kv}
}

// Init sets the first governor. Only used at genesis.
func (g *Governance) Init(governor types.Address) error {
	if governor.IsZero() {
		return fmt.Errorf("governance: zero governor")
	}
	return g.kv.Put(keyGovernor, governor[:])
}

func (g *Governance) address(key []byte) (types.Address, error) {
	var a types.Address
	v, ok, err := store.Lookup(g.kv, key)
	if err != nil || !ok {
		return a, err
	}
	copy(a[:], v)
	return a, nil
}

// Governor returns the current governor.
func (g *Governance) Governor() (types.Address, error) { return g.address(keyGovernor) }

// Pending returns the proposed successor, or the zero address.
func (g *Governance) Pending() (types.Address, error) { return g.address(keyPending) }

// RequireGovernor returns relay.ErrNotGovernor unless addr is the
// governor.
func (g *Governance) RequireGovernor(addr types.Address) error {
	gov, err := g.Governor()
	if err != nil {
		return err
	}
	if gov.IsZero() || gov != addr {
		return relay.ErrNotGovernor
	}
	return nil
}

// Change proposes next as the successor.
func (g *Governance) Change(caller, next types.Address) error {
	if err := g.RequireGovernor(caller); err != nil {
		return err
	}
	if next.IsZero() {
		return fmt.Errorf("%w: zero governor", relay.ErrInvalidTx)
	}
	return g.kv.Put(keyPending, next[:])
}

// Apply completes a pending change. Only the successor may apply.
func (g *Governance) Apply(caller types.Address) error {
	pending, err := g.Pending()
	if err != nil {
		return err
	}
	if pending.IsZero() || pending != caller {
		return fmt.Errorf("%w: caller is not the pending governor", relay.ErrNotAuthorized)
	}
	if err := g.kv.Put(keyGovernor, pending[:]); err != nil {
		return err
	}
	return g.kv.Delete(keyPending)
}

// Paused reports whether relay entry points are halted.
func (g *Governance) Paused() (bool, error) {
	return g.kv.Has(keyPaused)
}

// Pause halts dispatch, execute and fallback.
func (g *Governance) Pause(caller types.Address) error {
	if err := g.RequireGovernor(caller); err != nil {
		return err
	}
	return g.kv.Put(keyPaused, []byte{1})
}

// Unpause resumes relay entry points.
func (g *Governance) Unpause(caller types.Address) error {
	if err := g.RequireGovernor(caller); err != nil {
		return err
	}
	return g.kv.Delete(keyPaused)
}

// RequireActive returns relay.ErrPaused while paused.
func (g *Governance) RequireActive() error {
	paused, err := g.Paused()
	if err != nil {
		return err
	}
	if paused {
		return relay.ErrPaused
	}
	return nil
}
