package operator_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blockberries/relay"
	"github.com/blockberries/relay/governance"
	"github.com/blockberries/relay/operator"
	"github.com/blockberries/relay/store"
	"github.com/blockberries/relay/types"
)

var (
	gov = types.Address{0xee}
	op1 = types.Address{0x01}
	op2 = types.Address{0x02}
)

func newRegistry(t *testing.T) *operator.Registry {
	t.Helper()
	db := store.NewMemDB()
	g := governance.New(store.Prefix(db, governance.Prefix))
	require.NoError(t, g.Init(gov))
	return operator.New(store.Prefix(db, operator.Prefix), g)
}

func TestAddRevoke_Idempotent(t *testing.T) {
	r := newRegistry(t)

	require.NoError(t, r.Add(gov, op2))
	require.NoError(t, r.Add(gov, op1))
	require.NoError(t, r.Add(gov, op1))

	all, err := r.All()
	require.NoError(t, err)
	require.Equal(t, []types.Address{op1, op2}, all)

	require.NoError(t, r.Revoke(gov, op1))
	require.NoError(t, r.Revoke(gov, op1))

	ok, err := r.IsOperator(op1)
	require.NoError(t, err)
	require.False(t, ok)
	require.ErrorIs(t, r.RequireOperator(op1), relay.ErrNotOperator)
	require.NoError(t, r.RequireOperator(op2))
}

func TestAddRevoke_GovernorOnly(t *testing.T) {
	r := newRegistry(t)

	require.ErrorIs(t, r.Add(op1, op1), relay.ErrNotAuthorized)
	require.NoError(t, r.Init(op2))
	require.ErrorIs(t, r.Revoke(op2, op2), relay.ErrNotAuthorized)

	ok, err := r.IsOperator(op2)
	require.NoError(t, err)
	require.True(t, ok)
}
