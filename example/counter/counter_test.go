package counter_test

import (
	"context"
	"errors"
	"testing"

	"github.com/blockberries/relay"
	"github.com/blockberries/relay/app"
	"github.com/blockberries/relay/example/counter"
	"github.com/blockberries/relay/store"
	relaytest "github.com/blockberries/relay/testing"
	"github.com/blockberries/relay/types"
)

const (
	chainA types.ChainID = "chain-a"
	chainB types.ChainID = "chain-b"
)

var (
	relayAddr   = relaytest.Addr(0xaa)
	governor    = relaytest.Addr(0x01)
	user        = relaytest.Addr(0x02)
	counterAddr = relaytest.Addr(0x20)
)

func TestCounter_Increment(t *testing.T) {
	kv := store.NewMemDB()
	c := counter.Counter{}

	for _, inc := range []uint64{5, 3} {
		if _, err := c.Invoke(context.Background(), types.Invocation{Payload: counter.Payload(inc)}, kv); err != nil {
			t.Fatalf("increment %d: %v", inc, err)
		}
	}
	n, err := counter.Count(kv)
	if err != nil {
		t.Fatal(err)
	}
	if n != 8 {
		t.Errorf("expected count=8, got %d", n)
	}
}

func TestCounter_Rejects(t *testing.T) {
	kv := store.NewMemDB()
	c := counter.Counter{}
	ctx := context.Background()

	if _, err := c.Invoke(ctx, types.Invocation{Payload: counter.Payload(0)}, kv); !errors.Is(err, counter.ErrZeroIncrement) {
		t.Fatalf("expected ErrZeroIncrement, got %v", err)
	}
	if _, err := c.Invoke(ctx, types.Invocation{Payload: []byte{1}}, kv); err == nil {
		t.Fatal("expected short payload to fail")
	}
	if _, err := c.Invoke(ctx, types.Invocation{Payload: counter.Payload(^uint64(0))}, kv); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Invoke(ctx, types.Invocation{Payload: counter.Payload(1)}, kv); !errors.Is(err, counter.ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
}

func TestCounter_CountsFallbacks(t *testing.T) {
	kv := store.NewMemDB()
	ret, err := counter.Counter{}.Invoke(context.Background(), types.Invocation{Fallback: true, Payload: []byte("anything")}, kv)
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := counter.Result(ret); n != 1 {
		t.Errorf("expected 1 fallback, got %d", n)
	}
	if n, _ := counter.Count(kv); n != 0 {
		t.Errorf("fallback changed the count to %d", n)
	}
}

func newChain(t *testing.T, id, peer types.ChainID, eps relay.Endpoints) *relaytest.Harness {
	t.Helper()
	a, err := app.New(store.NewMemDB(), app.WithEndpoints(eps))
	if err != nil {
		t.Fatal(err)
	}
	g := app.DefaultGenesis(relayAddr, governor, peer)
	g.FeeCurrencies = append(g.FeeCurrencies, app.GenesisFeeCurrency{Asset: relaytest.Addr(0xfe).Hex(), Price: "1"})
	g.Apps = []app.GenesisApp{{Admin: user.Hex(), FeeAsset: relaytest.Addr(0xfe).Hex(), Mode: "open"}}
	state, err := g.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	h := relaytest.NewHarness(t, a)
	h.Genesis(relaytest.Genesis(id, state))
	return h
}

func TestCounter_AcrossChains(t *testing.T) {
	// The dispatcher on chain-a is itself a counter so that it can take
	// the fallback of the reverted call.
	a := newChain(t, chainA, chainB, relay.Endpoints{user: counter.Counter{}})
	b := newChain(t, chainB, chainA, relay.Endpoints{counterAddr: counter.Counter{}})

	deliver := func(inc uint64) types.Record {
		block := a.MustDeliver(user, &types.MsgDispatch{AppID: 1, Target: counterAddr.Hex(), DestChain: chainB, Payload: counter.Payload(inc)})
		d := relaytest.RecordsOf(block, types.RecordDispatch)[0].Dispatch
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

	rec := deliver(4)
	if !rec.Execution.Success {
		t.Fatalf("increment failed: %s", rec.Execution.ReturnData)
	}
	rec = deliver(2)
	if n, _ := counter.Result(rec.Execution.ReturnData); n != 6 {
		t.Errorf("expected count=6, got %d", n)
	}

	rec = deliver(0)
	if rec.Kind != types.RecordFallback {
		t.Fatalf("expected a fallback, got %s", rec.Kind)
	}
	if !rec.Fallback.Success {
		t.Fatalf("fallback handler failed: %s", rec.Fallback.Result)
	}
	if n, _ := counter.Result(rec.Fallback.Result); n != 1 {
		t.Errorf("expected 1 fallback on chain-a, got %d", n)
	}
}
