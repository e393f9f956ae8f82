package bridge_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blockberries/relay"
	"github.com/blockberries/relay/app"
	"github.com/blockberries/relay/core"
	"github.com/blockberries/relay/example/bridge"
	"github.com/blockberries/relay/store"
	relaytest "github.com/blockberries/relay/testing"
	"github.com/blockberries/relay/types"
)

const (
	chainA types.ChainID = "chain-a"
	chainB types.ChainID = "chain-b"
)

var (
	relayAddr = relaytest.Addr(0xaa)
	governor  = relaytest.Addr(0x01)
	alice     = relaytest.Addr(0x02)
	bob       = relaytest.Addr(0x03)
	token     = relaytest.Addr(0xfe)
	vaultA    = relaytest.Addr(0x30)
	vaultB    = relaytest.Addr(0x31)
)

func vaults() (*bridge.Vault, *bridge.Vault) {
	a := &bridge.Vault{Address: vaultA, Asset: token, AppID: 1, Peers: map[types.ChainID]types.Address{chainB: vaultB}}
	b := &bridge.Vault{Address: vaultB, Asset: token, AppID: 1, Peers: map[types.ChainID]types.Address{chainA: vaultA}, Limit: types.NewAmount(500)}
	return a, b
}

func TestSwapOut(t *testing.T) {
	va, _ := vaults()
	lock, dispatch, err := va.SwapOut(chainB, alice, bob, types.NewAmount(70))
	require.NoError(t, err)
	require.Equal(t, &types.MsgTransfer{Asset: token, To: vaultA, Amount: types.NewAmount(70)}, lock)
	require.Equal(t, vaultB.Hex(), dispatch.Target)
	require.Equal(t, chainB, dispatch.DestChain)

	swap, err := bridge.DecodeSwap(dispatch.Payload)
	require.NoError(t, err)
	require.Equal(t, bridge.Swap{Depositor: alice, Recipient: bob, Amount: types.NewAmount(70)}, swap)

	_, _, err = va.SwapOut("chain-c", alice, bob, types.NewAmount(1))
	require.Error(t, err)
	_, _, err = va.SwapOut(chainB, alice, bob, types.Amount{})
	require.ErrorIs(t, err, bridge.ErrZeroAmount)
}

func TestInvoke_Mint(t *testing.T) {
	_, vb := vaults()
	kv := store.NewMemDB()
	payload, err := bridge.EncodeSwap(bridge.Swap{Depositor: alice, Recipient: bob, Amount: types.NewAmount(40)})
	require.NoError(t, err)
	inv := types.Invocation{CallID: types.CallID{1}, Caller: vaultA, OriginChain: chainA, Target: vaultB, Payload: payload}

	ret, err := vb.Invoke(context.Background(), inv, kv)
	require.NoError(t, err)
	bal, err := bridge.Result(ret)
	require.NoError(t, err)
	require.Equal(t, types.NewAmount(40), bal)

	_, err = vb.Invoke(context.Background(), inv, kv)
	require.ErrorIs(t, err, bridge.ErrAlreadyHandled)

	inv.CallID = types.CallID{2}
	inv.Caller = alice
	_, err = vb.Invoke(context.Background(), inv, kv)
	require.ErrorIs(t, err, bridge.ErrUntrustedPeer)

	big, err := bridge.EncodeSwap(bridge.Swap{Recipient: bob, Amount: types.NewAmount(501)})
	require.NoError(t, err)
	_, err = vb.Invoke(context.Background(), types.Invocation{CallID: types.CallID{3}, Caller: vaultA, OriginChain: chainA, Payload: big}, kv)
	require.ErrorIs(t, err, bridge.ErrOverLimit)

	got, err := bridge.Balance(kv, bob)
	require.NoError(t, err)
	require.Equal(t, types.NewAmount(40), got)
}

func TestInvoke_Refund(t *testing.T) {
	va, _ := vaults()
	kv := store.NewMemDB()
	payload, err := bridge.EncodeSwap(bridge.Swap{Depositor: alice, Recipient: bob, Amount: types.NewAmount(9)})
	require.NoError(t, err)
	fb := core.FallbackPayload(core.Fallback{
		AppID:       1,
		CallID:      types.CallID{7},
		Target:      vaultB,
		OriginChain: chainA,
		Payload:     payload,
		Reason:      []byte("no"),
	})
	inv := types.Invocation{CallID: types.CallID{7}, Caller: vaultB, OriginChain: chainB, Target: vaultA, Payload: fb, Fallback: true}

	_, err = va.Invoke(context.Background(), inv, kv)
	require.NoError(t, err)
	got, err := bridge.Balance(kv, alice)
	require.NoError(t, err)
	require.Equal(t, types.NewAmount(9), got)

	_, err = va.Invoke(context.Background(), inv, kv)
	require.ErrorIs(t, err, bridge.ErrAlreadyHandled)
}

type chain struct {
	*relaytest.Harness
}

func newChain(t *testing.T, id, peer types.ChainID, v *bridge.Vault) chain {
	t.Helper()
	a, err := app.New(store.NewMemDB(), app.WithEndpoints(relay.Endpoints{v.Address: v}))
	require.NoError(t, err)
	g := app.DefaultGenesis(relayAddr, governor, peer)
	g.Balances = []app.GenesisBalance{{Asset: token.Hex(), Holder: alice.Hex(), Amount: "1000"}}
	g.FeeCurrencies = append(g.FeeCurrencies, app.GenesisFeeCurrency{Asset: token.Hex(), Price: "1"})
	g.Apps = []app.GenesisApp{{Admin: v.Address.Hex(), FeeAsset: token.Hex(), Mode: "open"}}
	state, err := g.Marshal()
	require.NoError(t, err)
	h := relaytest.NewHarness(t, a)
	h.Genesis(relaytest.Genesis(id, state))
	return chain{h}
}

func (c chain) balance(t *testing.T, holder types.Address) types.Amount {
	t.Helper()
	var a types.Amount
	copy(a[:], c.MustQuery(app.PathBalance, app.BalanceData(token, holder)))
	return a
}

// swap runs a swap from a to b and returns the record that settled it:
// the execution on b, or the fallback back on a.
func swap(t *testing.T, a, b chain, va *bridge.Vault, amount uint64) types.Record {
	t.Helper()
	lock, dispatch, err := va.SwapOut(chainB, alice, bob, types.NewAmount(amount))
	require.NoError(t, err)
	a.MustDeliver(alice, lock)
	block := a.MustDeliver(va.Address, dispatch)
	d := relaytest.RecordsOf(block, types.RecordDispatch)[0].Dispatch
	require.Equal(t, vaultA, d.Caller)

	block = b.MustDeliver(governor, &types.MsgExecute{
		AppID:       d.AppID,
		CallID:      d.CallID,
		Target:      types.HexToAddress(d.Target),
		OriginChain: d.OriginChain,
		OriginTxRef: d.TxRef,
		FallbackTo:  d.Caller.Hex(),
		Payload:     d.Payload,
	})
	pending := relaytest.RecordsOf(block, types.RecordFallbackPending)
	if len(pending) == 0 {
		return relaytest.RecordsOf(block, types.RecordExecution)[0]
	}
	fp := pending[0].FallbackPending
	block = a.MustDeliver(governor, &types.MsgFallback{
		AppID:           fp.AppID,
		CallID:          fp.CallID,
		OriginChain:     fp.FailChain,
		FailTxRef:       fp.FailTxRef,
		FallbackPayload: fp.FallbackPayload,
	})
	return relaytest.RecordsOf(block, types.RecordFallback)[0]
}

func TestBridge_RoundTrip(t *testing.T) {
	va, vb := vaults()
	a := newChain(t, chainA, chainB, va)
	b := newChain(t, chainB, chainA, vb)

	rec := swap(t, a, b, va, 300)
	require.Equal(t, types.RecordExecution, rec.Kind)
	require.True(t, rec.Execution.Success)
	minted, err := bridge.Result(rec.Execution.ReturnData)
	require.NoError(t, err)
	require.Equal(t, types.NewAmount(300), minted)
	require.Equal(t, types.NewAmount(700), a.balance(t, alice))
	require.Equal(t, types.NewAmount(300), a.balance(t, vaultA))

	// Over chain-b's limit: the mint reverts and alice is refunded on
	// chain-a while her tokens stay locked in the vault.
	rec = swap(t, a, b, va, 600)
	require.Equal(t, types.RecordFallback, rec.Kind)
	require.True(t, rec.Fallback.Success)
	refund, err := bridge.Result(rec.Fallback.Result)
	require.NoError(t, err)
	require.Equal(t, types.NewAmount(600), refund)
	require.Equal(t, types.NewAmount(100), a.balance(t, alice))
	require.Equal(t, types.NewAmount(900), a.balance(t, vaultA))
}
