package relaygrpc_test

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/blockberries/relay"
	"github.com/blockberries/relay/app"
	relaygrpc "github.com/blockberries/relay/grpc"
	"github.com/blockberries/relay/store"
	relaytest "github.com/blockberries/relay/testing"
	"github.com/blockberries/relay/types"
)

var (
	relayAddr = relaytest.Addr(0xaa)
	governor  = relaytest.Addr(0x01)
	user      = relaytest.Addr(0x02)
)

// startServer serves a fresh in-memory relay app on a random port.
func startServer(t *testing.T) string {
	t.Helper()
	a, err := app.New(store.NewMemDB())
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	gs, err := relaygrpc.NewGRPCServer(a, nil)
	if err != nil {
		t.Fatalf("NewGRPCServer: %v", err)
	}
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	s := gs.NewServer()
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(func() {
		_ = gs.Server().Close()
		s.Stop()
	})
	return lis.Addr().String()
}

func dial(t *testing.T, addr string) *relaygrpc.Client {
	t.Helper()
	client, err := relaygrpc.Dial(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func handshake(t *testing.T, c *relaygrpc.Client) types.HandshakeResponse {
	t.Helper()
	state, err := app.DefaultGenesis(relayAddr, governor, "chain-b").Marshal()
	if err != nil {
		t.Fatalf("genesis: %v", err)
	}
	doc := relaytest.Genesis("chain-a", state)
	resp, err := c.Handshake(context.Background(), types.HandshakeRequest{Genesis: &doc})
	if err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	return resp
}

func encode(t *testing.T, sender types.Address, nonce uint64, msg types.Msg) types.Tx {
	t.Helper()
	tx, err := types.EncodeTx(sender, nonce, msg)
	if err != nil {
		t.Fatalf("EncodeTx: %v", err)
	}
	return tx
}

func TestGRPC_Lifecycle(t *testing.T) {
	client := dial(t, startServer(t))
	ctx := context.Background()

	resp := handshake(t, client)
	if resp.AppHash == nil {
		t.Fatal("expected AppHash from genesis")
	}
	if !client.Capabilities().Has(types.CapSimulation | types.CapRecords) {
		t.Fatalf("unexpected capabilities %v", client.Capabilities())
	}

	records, err := client.Records(ctx, 1)
	if err != nil {
		t.Fatalf("Records: %v", err)
	}

	block := relaytest.MakeBlock(1,
		encode(t, user, 0, &types.MsgRegisterApp{Mode: types.ModeOpenCall}),
		encode(t, user, 1, &types.MsgDispatch{
			AppID:     1,
			Target:    relaytest.Addr(0x10).Hex(),
			DestChain: "chain-b",
			Payload:   []byte("ping"),
		}),
	)
	outcome, err := client.ExecuteBlock(ctx, block)
	if err != nil {
		t.Fatalf("ExecuteBlock: %v", err)
	}
	for i, o := range outcome.TxOutcomes {
		if !o.OK() {
			t.Fatalf("tx %d failed: %+v", i, o)
		}
	}
	if len(outcome.Records) != 1 || outcome.Records[0].Kind != types.RecordDispatch {
		t.Fatalf("unexpected records: %+v", outcome.Records)
	}

	if _, err := client.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	select {
	case b, ok := <-records:
		if !ok {
			t.Fatal("record stream closed")
		}
		if b.Height != 1 || len(b.Records) != 1 {
			t.Fatalf("unexpected batch: %+v", b)
		}
		if string(b.Records[0].Dispatch.Payload) != "ping" {
			t.Fatalf("payload = %q", b.Records[0].Dispatch.Payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no record batch after commit")
	}

	qr, err := client.Query(ctx, types.StateQuery{Path: app.PathApp, Data: store.Uint64Key(1)})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if qr.Code != 0 || qr.Height != 1 {
		t.Fatalf("unexpected query result: %+v", qr)
	}
}

func TestGRPC_HaltCrossesTheWire(t *testing.T) {
	client := dial(t, startServer(t))
	handshake(t, client)

	_, err := client.ExecuteBlock(context.Background(), relaytest.MakeBlock(5))
	h, ok := relay.IsHalt(err)
	if !ok {
		t.Fatalf("expected HaltError, got %v", err)
	}
	if h.Height != 5 {
		t.Fatalf("halt height = %d, want 5", h.Height)
	}
}

func TestGRPC_Simulate(t *testing.T) {
	client := dial(t, startServer(t))
	handshake(t, client)

	sim := client.AsSimulator()
	if sim == nil {
		t.Fatal("expected simulator")
	}
	out, err := sim.Simulate(context.Background(), encode(t, user, 0, &types.MsgRegisterApp{Mode: types.ModeOpenCall}))
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if !out.OK() {
		t.Fatalf("simulated register failed: %+v", out)
	}

	// Nothing persisted: the same nonce is still valid.
	v, err := client.CheckTx(context.Background(), encode(t, user, 0, &types.MsgRegisterApp{Mode: types.ModeOpenCall}), types.MempoolFirstSeen)
	if err != nil {
		t.Fatalf("CheckTx: %v", err)
	}
	if !v.Accepted() {
		t.Fatalf("CheckTx rejected after simulate: %+v", v)
	}
}

func TestGRPC_CheckTxConcurrent(t *testing.T) {
	client := dial(t, startServer(t))
	handshake(t, client)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tx := encode(t, relaytest.Addr(byte(0x20+i)), 0, &types.MsgRegisterApp{Mode: types.ModeOpenCall})
			v, err := client.CheckTx(context.Background(), tx, types.MempoolFirstSeen)
			if err != nil || !v.Accepted() {
				t.Errorf("CheckTx %d: %+v %v", i, v, err)
			}
		}(i)
	}
	wg.Wait()

	_, err := client.CheckTx(context.Background(), nil, types.MempoolFirstSeen)
	if err != nil {
		t.Fatalf("CheckTx: %v", err)
	}
}

func TestGRPC_RecordsRequireHandshake(t *testing.T) {
	client := dial(t, startServer(t))
	if _, err := client.Records(context.Background(), 1); err == nil {
		t.Fatal("expected error before handshake")
	}
}
