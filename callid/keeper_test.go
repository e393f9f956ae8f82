package callid_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blockberries/relay"
	"github.com/blockberries/relay/callid"
	"github.com/blockberries/relay/governance"
	"github.com/blockberries/relay/store"
	"github.com/blockberries/relay/types"
)

var (
	gov       = types.Address{0xee}
	relayAddr = types.Address{0xaa}
	dapp      = types.Address{0x0d}
	stranger  = types.Address{0x05}
)

func newKeeper(t *testing.T) *callid.Keeper {
	t.Helper()
	db := store.NewMemDB()
	g := governance.New(store.Prefix(db, governance.Prefix))
	require.NoError(t, g.Init(gov))
	k := callid.New(store.Prefix(db, callid.Prefix), g, relayAddr, "chain-a")
	require.NoError(t, k.InitSupportedCaller(relayAddr))
	return k
}

func request(payload string) callid.Request {
	return callid.Request{
		AppID:     1,
		Caller:    dapp,
		Target:    "0x00000000000000000000000000000000000000b0",
		DestChain: "chain-b",
		Payload:   []byte(payload),
	}
}

func TestDerive_Deterministic(t *testing.T) {
	req := request("ping")
	a := callid.Derive(relayAddr, "chain-a", req, 1)
	b := callid.Derive(relayAddr, "chain-a", req, 1)
	require.Equal(t, a, b)
	require.False(t, a.IsZero())

	require.NotEqual(t, a, callid.Derive(relayAddr, "chain-a", req, 2))
	require.NotEqual(t, a, callid.Derive(relayAddr, "chain-c", req, 1))
	require.NotEqual(t, a, callid.Derive(types.Address{0xab}, "chain-a", req, 1))

	other := req
	other.DestChain = "chain-c"
	require.NotEqual(t, a, callid.Derive(relayAddr, "chain-a", other, 1))
}

func TestNext_IdenticalRequestsGetDistinctIDs(t *testing.T) {
	k := newKeeper(t)
	req := request("ping")

	peek, err := k.Peek(req)
	require.NoError(t, err)

	first, err := k.Next(relayAddr, req)
	require.NoError(t, err)
	require.Equal(t, peek, first)

	second, err := k.Next(relayAddr, req)
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	nonce, err := k.Nonce(req)
	require.NoError(t, err)
	require.Equal(t, uint64(2), nonce)

	// A different payload has its own nonce sequence.
	nonce, err = k.Nonce(request("pong"))
	require.NoError(t, err)
	require.Zero(t, nonce)

	for _, id := range []types.CallID{first, second} {
		ok, err := k.IsRegistered(id)
		require.NoError(t, err)
		require.True(t, ok)
	}
}

func TestNext_UnsupportedCaller(t *testing.T) {
	k := newKeeper(t)
	_, err := k.Next(stranger, request("ping"))
	require.ErrorIs(t, err, relay.ErrNotAuthorized)
}

func TestMarkConsumed_OncePerKind(t *testing.T) {
	k := newKeeper(t)
	id, err := k.Next(relayAddr, request("ping"))
	require.NoError(t, err)

	require.NoError(t, k.MarkConsumed(relayAddr, id, callid.ConsumeExecute))
	require.ErrorIs(t, k.MarkConsumed(relayAddr, id, callid.ConsumeExecute), relay.ErrAlreadyConsumed)

	ok, err := k.IsConsumed(id, callid.ConsumeFallback)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, k.MarkConsumed(relayAddr, id, callid.ConsumeFallback))
	require.ErrorIs(t, k.MarkConsumed(relayAddr, id, callid.ConsumeFallback), relay.ErrAlreadyConsumed)
}

func TestSupportedCallers_GovernorOnly(t *testing.T) {
	k := newKeeper(t)

	require.ErrorIs(t, k.AddSupportedCaller(stranger, stranger), relay.ErrNotGovernor)
	require.NoError(t, k.AddSupportedCaller(gov, stranger))
	require.NoError(t, k.MarkConsumed(stranger, types.CallID{1}, callid.ConsumeExecute))

	require.ErrorIs(t, k.RevokeSupportedCaller(stranger, stranger), relay.ErrNotGovernor)
	require.NoError(t, k.RevokeSupportedCaller(gov, stranger))
	require.ErrorIs(t, k.MarkConsumed(stranger, types.CallID{2}, callid.ConsumeExecute), relay.ErrNotAuthorized)
}
