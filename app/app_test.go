package app_test

import (
	"context"
	"errors"
	"testing"

	"github.com/blockberries/cramberry/pkg/cramberry"
	"github.com/stretchr/testify/require"

	"github.com/blockberries/relay"
	"github.com/blockberries/relay/app"
	"github.com/blockberries/relay/callid"
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
	admin     = relaytest.Addr(0x02)
	user      = relaytest.Addr(0x03)
	feeAsset  = relaytest.Addr(0xfe)
	okTarget  = relaytest.Addr(0x10)
	badTarget = relaytest.Addr(0x11)
)

// genesisState registers app 1 (open, admin-owned) with a budget of
// 1000 and prices traffic to peer at 10 + 1/byte.
func genesisState(peer types.ChainID) app.GenesisState {
	g := app.DefaultGenesis(relayAddr, governor)
	g.FeeCurrencies = append(g.FeeCurrencies, app.GenesisFeeCurrency{Asset: feeAsset.Hex(), Price: "1"})
	g.Balances = []app.GenesisBalance{{Asset: feeAsset.Hex(), Holder: admin.Hex(), Amount: "5000"}}
	g.DefaultFees = []app.GenesisFee{{Chain: string(peer), Base: "10", PerByte: "1"}}
	g.Apps = []app.GenesisApp{{
		Admin:    admin.Hex(),
		FeeAsset: feeAsset.Hex(),
		Mode:     "open",
		Budget:   "1000",
	}}
	return g
}

func genesisDoc(t testing.TB, chain, peer types.ChainID) types.GenesisDoc {
	t.Helper()
	state, err := genesisState(peer).Marshal()
	require.NoError(t, err)
	return relaytest.Genesis(chain, state)
}

type chain struct {
	*relaytest.Harness
	app       *app.App
	endpoints relay.Endpoints
}

func newChain(t testing.TB, id, peer types.ChainID, db store.Backend) *chain {
	t.Helper()
	eps := relay.Endpoints{}
	a, err := app.New(db, app.WithEndpoints(eps))
	require.NoError(t, err)
	h := relaytest.NewHarness(t, a)
	h.Genesis(genesisDoc(t, id, peer))
	return &chain{Harness: h, app: a, endpoints: eps}
}

func (c *chain) amount(path types.QueryPath, data []byte) types.Amount {
	var a types.Amount
	copy(a[:], c.MustQuery(path, data))
	return a
}

func (c *chain) call(t *testing.T, path types.QueryPath, id types.CallID) types.CallRecord {
	t.Helper()
	var rec types.CallRecord
	require.NoError(t, cramberry.Unmarshal(c.MustQuery(path, id[:]), &rec))
	return rec
}

func executeMsg(d *types.DispatchRecord) *types.MsgExecute {
	return &types.MsgExecute{
		AppID:       d.AppID,
		CallID:      d.CallID,
		Target:      types.HexToAddress(d.Target),
		OriginChain: d.OriginChain,
		OriginTxRef: d.TxRef,
		FallbackTo:  d.Caller.Hex(),
		Payload:     d.Payload,
	}
}

func TestCompliance(t *testing.T) {
	relaytest.RunComplianceSuite(t, func() relay.Lifecycle {
		a, err := app.New(store.NewMemDB())
		if err != nil {
			t.Fatal(err)
		}
		return a
	}, genesisDoc(t, chainA, chainB))
}

func TestGenesis(t *testing.T) {
	a := newChain(t, chainA, chainB, store.NewMemDB())

	var got types.App
	require.NoError(t, cramberry.Unmarshal(a.MustQuery(app.PathApp, store.Uint64Key(1)), &got))
	require.Equal(t, admin, got.Admin)
	require.Equal(t, types.ModeOpenCall, got.Mode)
	require.Equal(t, types.NewAmount(1000), got.Budget)

	require.Equal(t, types.NewAmount(4000), a.amount(app.PathBalance, app.BalanceData(feeAsset, admin)))
	require.Equal(t, types.NewAmount(1000), a.amount(app.PathBalance, app.BalanceData(feeAsset, relayAddr)))
	require.Equal(t, governor[:], a.MustQuery(app.PathOperators, nil))
	require.Equal(t, types.ChainID(chainA), a.app.Chain())
}

func TestGenesis_Rejects(t *testing.T) {
	bad := genesisState(chainB)
	bad.Apps[0].Budget = "9000" // more than the admin holds
	state, err := bad.Marshal()
	require.NoError(t, err)

	a, err := app.New(store.NewMemDB())
	require.NoError(t, err)
	doc := relaytest.Genesis(chainA, state)
	_, err = a.Handshake(context.Background(), types.HandshakeRequest{Genesis: &doc})
	require.Error(t, err)

	// The app pays in an asset that is not a fee currency.
	unlisted := genesisState(chainB)
	unlisted.FeeCurrencies = unlisted.FeeCurrencies[:1]
	state, err = unlisted.Marshal()
	require.NoError(t, err)
	a, err = app.New(store.NewMemDB())
	require.NoError(t, err)
	doc = relaytest.Genesis(chainA, state)
	_, err = a.Handshake(context.Background(), types.HandshakeRequest{Genesis: &doc})
	require.ErrorIs(t, err, relay.ErrInvalidTx)

	_, err = app.ParseGenesis([]byte("relay: [unterminated"))
	require.Error(t, err)
}

func TestFeeCurrency(t *testing.T) {
	a := newChain(t, chainA, chainB, store.NewMemDB())
	other := relaytest.Addr(0xfd)
	require.Equal(t, types.NewAmount(1), a.amount(app.PathFeeCurrency, feeAsset[:]))
	require.Equal(t, types.Amount{}, a.amount(app.PathFeeCurrency, other[:]))

	out, _ := a.Deliver(user, &types.MsgSetFeeCurrency{Asset: other, Price: types.NewAmount(3)})
	relaytest.MustFail(t, out, relay.CodeNotAuthorized)
	out, _ = a.Deliver(user, &types.MsgRegisterApp{FeeAsset: other, Mode: types.ModeOpenCall})
	relaytest.MustFail(t, out, relay.CodeInvalidTx)

	a.MustDeliver(governor, &types.MsgSetFeeCurrency{Asset: other, Price: types.NewAmount(3)})
	require.Equal(t, types.NewAmount(3), a.amount(app.PathFeeCurrency, other[:]))
	a.MustDeliver(user, &types.MsgRegisterApp{FeeAsset: other, Mode: types.ModeOpenCall})

	a.MustDeliver(governor, &types.MsgDisableFeeCurrency{Asset: feeAsset})
	require.Equal(t, types.Amount{}, a.amount(app.PathFeeCurrency, feeAsset[:]))
	out, _ = a.Deliver(admin, &types.MsgUpdateApp{AppID: 1, FeeAsset: feeAsset, Mode: types.ModeWhitelistOnly})
	relaytest.MustFail(t, out, relay.CodeInvalidTx)
	out, _ = a.Deliver(user, &types.MsgRegisterApp{FeeAsset: feeAsset, Mode: types.ModeOpenCall})
	relaytest.MustFail(t, out, relay.CodeInvalidTx)

	// Apps already paying in a disabled asset keep dispatching.
	a.MustDeliver(user, &types.MsgDispatch{AppID: 1, Target: okTarget.Hex(), DestChain: chainB})

	tx := a.Tx(governor, &types.MsgSetFeeCurrency{Asset: other})
	require.Equal(t, relay.CodeInvalidTx, a.Check(tx, types.MempoolFirstSeen).Code)
}

func TestCrossChain_Execute(t *testing.T) {
	a := newChain(t, chainA, chainB, store.NewMemDB())
	b := newChain(t, chainB, chainA, store.NewMemDB())

	target := &relaytest.MockEndpoint{
		InvokeFn: func(_ context.Context, inv types.Invocation, kv store.KV) ([]byte, error) {
			return []byte("pong"), kv.Put([]byte("last"), inv.Payload)
		},
	}
	b.endpoints[okTarget] = target

	quote, err := cramberry.Marshal(&app.QuoteRequest{AppID: 1, Chain: chainB, Size: 4})
	require.NoError(t, err)
	require.Equal(t, types.NewAmount(14), a.amount(app.PathQuote, quote))

	block := a.MustDeliver(user, &types.MsgDispatch{AppID: 1, Target: okTarget.Hex(), DestChain: chainB, Payload: []byte("ping")})
	dispatches := relaytest.RecordsOf(block, types.RecordDispatch)
	require.Len(t, dispatches, 1)
	d := dispatches[0].Dispatch
	require.Equal(t, chainA, d.OriginChain)
	require.Equal(t, types.NewAmount(14), d.Fee)
	require.Equal(t, types.NewAmount(986), a.amount(app.PathBudget, store.Uint64Key(1)))
	require.Equal(t, types.NewAmount(14), a.amount(app.PathAccrued, feeAsset[:]))
	require.Equal(t, types.CallDispatched, a.call(t, app.PathCallOut, d.CallID).State)

	block = b.MustDeliver(governor, executeMsg(d))
	execs := relaytest.RecordsOf(block, types.RecordExecution)
	require.Len(t, execs, 1)
	require.True(t, execs[0].Execution.Success)
	require.Equal(t, []byte("pong"), execs[0].Execution.ReturnData)
	require.Empty(t, relaytest.RecordsOf(block, types.RecordFallbackPending))

	inv, ok := target.Last()
	require.True(t, ok)
	require.Equal(t, user, inv.Caller)
	require.Equal(t, chainA, inv.OriginChain)
	require.Equal(t, types.CallExecutedOk, b.call(t, app.PathCallIn, d.CallID).State)
	require.Equal(t, []byte{1}, b.MustQuery(app.PathConsumed, app.ConsumedData(d.CallID, callid.ConsumeExecute)))

	// Replays are rejected and never reach the endpoint.
	out, _ := b.Deliver(governor, executeMsg(d))
	relaytest.MustFail(t, out, relay.CodeAlreadyConsumed)
	require.Equal(t, int64(1), target.Calls.Load())

	// Only operators execute.
	fresh := *d
	fresh.CallID = types.CallID{0x42}
	out, _ = b.Deliver(user, executeMsg(&fresh))
	relaytest.MustFail(t, out, relay.CodeNotAuthorized)
}

func TestCrossChain_Fallback(t *testing.T) {
	a := newChain(t, chainA, chainB, store.NewMemDB())
	b := newChain(t, chainB, chainA, store.NewMemDB())

	b.endpoints[badTarget] = relay.EndpointFunc(func(_ context.Context, _ types.Invocation, kv store.KV) ([]byte, error) {
		_ = kv.Put([]byte("partial"), []byte{1})
		return nil, errors.New("out of stock")
	})
	handler := &relaytest.MockEndpoint{}
	a.endpoints[user] = handler

	block := a.MustDeliver(user, &types.MsgDispatch{AppID: 1, Target: badTarget.Hex(), DestChain: chainB, Payload: []byte("buy")})
	d := relaytest.RecordsOf(block, types.RecordDispatch)[0].Dispatch

	block = b.MustDeliver(governor, executeMsg(d))
	execs := relaytest.RecordsOf(block, types.RecordExecution)
	require.Len(t, execs, 1)
	require.False(t, execs[0].Execution.Success)
	pending := relaytest.RecordsOf(block, types.RecordFallbackPending)
	require.Len(t, pending, 1)
	fp := pending[0].FallbackPending
	require.Equal(t, chainB, fp.FailChain)
	require.Equal(t, []byte("out of stock"), fp.Reason)
	require.Equal(t, types.CallFallbackPending, b.call(t, app.PathCallIn, d.CallID).State)

	msg := &types.MsgFallback{
		AppID:           fp.AppID,
		CallID:          fp.CallID,
		OriginChain:     fp.FailChain,
		FailTxRef:       fp.FailTxRef,
		FallbackPayload: fp.FallbackPayload,
	}
	block = a.MustDeliver(governor, msg)
	fbs := relaytest.RecordsOf(block, types.RecordFallback)
	require.Len(t, fbs, 1)
	require.True(t, fbs[0].Fallback.Success)
	require.Equal(t, user, fbs[0].Fallback.Target)

	inv, ok := handler.Last()
	require.True(t, ok)
	require.True(t, inv.Fallback)
	require.Equal(t, badTarget, inv.Caller)
	require.Equal(t, []byte("out of stock"), inv.Reason)
	require.Equal(t, types.CallFallbackExecuted, a.call(t, app.PathCallOut, d.CallID).State)

	out, _ := a.Deliver(governor, msg)
	relaytest.MustFail(t, out, relay.CodeUnknownCall)
	require.Equal(t, int64(1), handler.Calls.Load())
}

func TestNonces(t *testing.T) {
	a := newChain(t, chainA, chainB, store.NewMemDB())

	skip, err := types.EncodeTx(user, 5, &types.MsgRegisterApp{Mode: types.ModeOpenCall})
	require.NoError(t, err)
	a.MustAcceptTx(skip)

	block := a.NextBlock(skip)
	relaytest.MustFail(t, block.TxOutcomes[0], relay.CodeBadNonce)

	tx := a.Tx(user, &types.MsgRegisterApp{Mode: types.ModeOpenCall})
	a.MustAcceptTx(tx)
	relaytest.MustOK(t, a.NextBlock(tx).TxOutcomes[0])
	a.MustRejectTx(tx)
	require.Equal(t, store.Uint64Key(1), a.MustQuery(app.PathNonce, user[:]))

	// Revalidation only re-checks the nonce.
	bad := a.Tx(user, &types.MsgDispatch{AppID: 1})
	require.Equal(t, relay.CodeInvalidTx, a.Check(bad, types.MempoolFirstSeen).Code)
	require.True(t, a.Check(bad, types.MempoolRevalidation).Accepted())
	relaytest.MustFail(t, a.NextBlock(bad).TxOutcomes[0], relay.CodeInvalidTx)

	// A failed tx still consumes its nonce.
	out, _ := a.Deliver(user, &types.MsgPause{})
	relaytest.MustFail(t, out, relay.CodeNotAuthorized)
	require.Equal(t, store.Uint64Key(3), a.MustQuery(app.PathNonce, user[:]))
}

func TestExecute_MalformedFallbackAddress(t *testing.T) {
	b := newChain(t, chainB, chainA, store.NewMemDB())
	msg := &types.MsgExecute{AppID: 1, CallID: types.CallID{1}, OriginChain: chainA, FallbackTo: "0xnot-an-address"}

	tx := b.Tx(governor, msg)
	require.Equal(t, relay.CodeInvalidTx, b.Check(tx, types.MempoolFirstSeen).Code)
	relaytest.MustFail(t, b.NextBlock(tx).TxOutcomes[0], relay.CodeInvalidTx)
	require.Equal(t, []byte{0}, b.MustQuery(app.PathConsumed, app.ConsumedData(msg.CallID, callid.ConsumeExecute)))
}

func TestSimulate_DoesNotPersist(t *testing.T) {
	a := newChain(t, chainA, chainB, store.NewMemDB())
	sim := a.Server().AsSimulator()
	require.NotNil(t, sim)

	tx, err := types.EncodeTx(user, 0, &types.MsgDispatch{AppID: 1, Target: okTarget.Hex(), DestChain: chainB, Payload: []byte("x")})
	require.NoError(t, err)
	out, err := sim.Simulate(context.Background(), tx)
	require.NoError(t, err)
	relaytest.MustOK(t, out)
	require.Len(t, out.Data, 32)

	require.Equal(t, types.NewAmount(1000), a.amount(app.PathBudget, store.Uint64Key(1)))
	require.Equal(t, store.Uint64Key(0), a.MustQuery(app.PathNonce, user[:]))
}

func TestAppHash_Deterministic(t *testing.T) {
	a1 := newChain(t, chainA, chainB, store.NewMemDB())
	a2 := newChain(t, chainA, chainB, store.NewMemDB())

	msgs := []types.Msg{
		&types.MsgDispatch{AppID: 1, Target: okTarget.Hex(), DestChain: chainB, Payload: []byte("a")},
		&types.MsgRegisterApp{Mode: types.ModeWhitelistOnly, Whitelist: []types.Address{okTarget}},
		&types.MsgDispatch{AppID: 2, Target: okTarget.Hex(), DestChain: chainB},
	}
	for _, m := range msgs {
		o1 := a1.NextBlock(a1.Tx(user, m))
		o2 := a2.NextBlock(a2.Tx(user, m))
		require.Equal(t, o1.AppHash, o2.AppHash)
		require.Equal(t, o1.TxOutcomes, o2.TxOutcomes)
	}
}

func TestRestart_LevelDB(t *testing.T) {
	dir := t.TempDir()
	db, err := store.OpenLevelDB(dir)
	require.NoError(t, err)

	a := newChain(t, chainA, chainB, db)
	block := a.MustDeliver(user, &types.MsgDispatch{AppID: 1, Target: okTarget.Hex(), DestChain: chainB, Payload: []byte("p")})
	id := relaytest.RecordsOf(block, types.RecordDispatch)[0].CallID()
	last := a.NextBlock()
	require.NoError(t, db.Close())

	db, err = store.OpenLevelDB(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	restarted, err := app.New(db)
	require.NoError(t, err)
	h := relaytest.NewHarness(t, restarted)

	resp := h.Restart(types.BlockID{Height: 2})
	require.NotNil(t, resp.LastBlock)
	require.Equal(t, uint64(2), resp.LastBlock.Height)
	require.Equal(t, last.AppHash, *resp.AppHash)

	var rec types.CallRecord
	require.NoError(t, cramberry.Unmarshal(h.MustQuery(app.PathCallOut, id[:]), &rec))
	require.Equal(t, types.CallDispatched, rec.State)

	v := h.MustQuery(types.PathRecords, nil)
	var page types.RecordPage
	require.NoError(t, cramberry.Unmarshal(v, &page))
	require.Len(t, page.Batches, 1)
	require.Equal(t, uint64(1), page.Batches[0].Height)
	require.Equal(t, uint64(3), page.Next)

	require.NotEqual(t, last.AppHash, h.NextBlock().AppHash)
	require.Equal(t, uint64(3), h.Height())
}

func TestRestart_HeightMismatchHalts(t *testing.T) {
	db := store.NewMemDB()
	a := newChain(t, chainA, chainB, db)
	a.NextBlock()

	restarted, err := app.New(db)
	require.NoError(t, err)
	_, err = restarted.Handshake(context.Background(), types.HandshakeRequest{LastCommitted: &types.BlockID{Height: 7}})
	_, ok := relay.IsHalt(err)
	require.True(t, ok)
}

func TestExecuteBlock_OutOfOrderHalts(t *testing.T) {
	a := newChain(t, chainA, chainB, store.NewMemDB())
	_, err := a.Server().ExecuteBlock(context.Background(), relaytest.MakeBlock(3))
	_, ok := relay.IsHalt(err)
	require.True(t, ok)
}
