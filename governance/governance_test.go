package governance_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blockberries/relay"
	"github.com/blockberries/relay/governance"
	"github.com/blockberries/relay/store"
	"github.com/blockberries/relay/types"
)

var (
	gov      = types.Address{0x01}
	next     = types.Address{0x02}
	stranger = types.Address{0x03}
)

func newGov(t *testing.T) *governance.Governance {
	t.Helper()
	g := governance.New(store.NewMemDB())
	require.NoError(t, g.Init(gov))
	return g
}

func TestTwoStepChange(t *testing.T) {
	g := newGov(t)

	require.ErrorIs(t, g.Change(stranger, next), relay.ErrNotGovernor)
	require.NoError(t, g.Change(gov, next))

	// The old governor keeps power until the successor applies.
	require.NoError(t, g.RequireGovernor(gov))
	require.ErrorIs(t, g.Apply(stranger), relay.ErrNotAuthorized)

	require.NoError(t, g.Apply(next))
	require.NoError(t, g.RequireGovernor(next))
	require.ErrorIs(t, g.RequireGovernor(gov), relay.ErrNotAuthorized)

	pending, err := g.Pending()
	require.NoError(t, err)
	require.True(t, pending.IsZero())
}

func TestPause(t *testing.T) {
	g := newGov(t)
	require.NoError(t, g.RequireActive())

	require.ErrorIs(t, g.Pause(stranger), relay.ErrNotGovernor)
	require.NoError(t, g.Pause(gov))
	require.ErrorIs(t, g.RequireActive(), relay.ErrPaused)

	require.NoError(t, g.Unpause(gov))
	require.NoError(t, g.RequireActive())
}

func TestInitRejectsZero(t *testing.T) {
	g := governance.New(store.NewMemDB())
	require.Error(t, g.Init(types.Address{}))
	require.ErrorIs(t, g.RequireGovernor(types.Address{}), relay.ErrNotGovernor)
}
