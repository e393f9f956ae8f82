package relaytest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/blockberries/relay"
	"github.com/blockberries/relay/server"
	"github.com/blockberries/relay/types"
)

// Harness plays the engine for a relay application in tests: it
// handshakes, runs blocks at consecutive heights and signs
// transactions with each sender's next nonce. Any failing call fails
// the test.
type Harness struct {
	t   testing.TB
	srv *server.Server

	mu     sync.Mutex
	height uint64
	nonces map[types.Address]uint64
}

func NewHarness(t testing.TB, app relay.Lifecycle, opts ...server.Option) *Harness {
	t.Helper()
	srv, err := server.New(app, opts...)
	if err != nil {
		t.Fatalf("relaytest: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })
	return &Harness{t: t, srv: srv, nonces: make(map[types.Address]uint64)}
}

func must[T any](t testing.TB, what string, v T, err error) T {
	t.Helper()
	if err != nil {
		t.Fatalf("relaytest: %s: %v", what, err)
	}
	return v
}

func (h *Harness) Server() *server.Server { return h.srv }

// Height is the last height committed through the harness.
func (h *Harness) Height() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.height
}

func (h *Harness) setHeight(height uint64) {
	h.mu.Lock()
	h.height = height
	h.mu.Unlock()
}

func (h *Harness) Genesis(doc types.GenesisDoc) types.HandshakeResponse {
	h.t.Helper()
	resp, err := h.srv.Handshake(context.Background(), types.HandshakeRequest{Genesis: &doc})
	return must(h.t, "genesis handshake", resp, err)
}

// Restart handshakes as an engine that last committed block.
func (h *Harness) Restart(block types.BlockID) types.HandshakeResponse {
	h.t.Helper()
	resp, err := h.srv.Handshake(context.Background(), types.HandshakeRequest{LastCommitted: &block})
	resp = must(h.t, "restart handshake", resp, err)
	h.setHeight(block.Height)
	return resp
}

// ExecuteAndCommit runs block through execution and commit.
func (h *Harness) ExecuteAndCommit(block types.FinalizedBlock) types.BlockOutcome {
	h.t.Helper()
	ctx := context.Background()
	outcome, err := h.srv.ExecuteBlock(ctx, block)
	outcome = must(h.t, "execute", outcome, err)
	_, err = h.srv.Commit(ctx)
	must(h.t, "commit", struct{}{}, err)
	h.setHeight(block.Height)
	return outcome
}

// NextBlock commits txs at the next height.
func (h *Harness) NextBlock(txs ...types.Tx) types.BlockOutcome {
	h.t.Helper()
	return h.ExecuteAndCommit(MakeBlock(h.Height()+1, txs...))
}

// Tx signs msg for sender at the sender's next nonce.
func (h *Harness) Tx(sender types.Address, msg types.Msg) types.Tx {
	h.t.Helper()
	h.mu.Lock()
	nonce := h.nonces[sender]
	h.nonces[sender]++
	h.mu.Unlock()
	tx, err := types.EncodeTx(sender, nonce, msg)
	return must(h.t, "encode tx", tx, err)
}

// Deliver commits msg alone in a block.
func (h *Harness) Deliver(sender types.Address, msg types.Msg) (types.TxOutcome, types.BlockOutcome) {
	h.t.Helper()
	block := h.NextBlock(h.Tx(sender, msg))
	return block.TxOutcomes[0], block
}

func (h *Harness) MustDeliver(sender types.Address, msg types.Msg) types.BlockOutcome {
	h.t.Helper()
	out, block := h.Deliver(sender, msg)
	MustOK(h.t, out)
	return block
}

func (h *Harness) Check(tx types.Tx, mctx types.MempoolContext) types.GateVerdict {
	h.t.Helper()
	v, err := h.srv.CheckTx(context.Background(), tx, mctx)
	return must(h.t, "check tx", v, err)
}

func (h *Harness) MustAcceptTx(tx types.Tx) {
	h.t.Helper()
	if v := h.Check(tx, types.MempoolFirstSeen); !v.Accepted() {
		h.t.Fatalf("relaytest: tx rejected: code=%d info=%q", v.Code, v.Info)
	}
}

func (h *Harness) MustRejectTx(tx types.Tx) {
	h.t.Helper()
	if h.Check(tx, types.MempoolFirstSeen).Accepted() {
		h.t.Fatal("relaytest: tx accepted")
	}
}

// MustQuery returns the value at path and fails on a non-zero code.
func (h *Harness) MustQuery(path types.QueryPath, data []byte) []byte {
	h.t.Helper()
	res, err := h.srv.Query(context.Background(), types.StateQuery{Path: path, Data: data})
	res = must(h.t, "query", res, err)
	if !res.OK() {
		h.t.Fatalf("relaytest: query %s: code=%d info=%q", path, res.Code, res.Info)
	}
	return res.Value
}

func MustOK(t testing.TB, out types.TxOutcome) {
	t.Helper()
	if !out.OK() {
		t.Fatalf("relaytest: tx %d failed: code=%d info=%q", out.Index, out.Code, out.Info)
	}
}

func MustFail(t testing.TB, out types.TxOutcome, code uint32) {
	t.Helper()
	if out.Code != code {
		t.Fatalf("relaytest: tx %d: want code %d, got %d (%q)", out.Index, code, out.Code, out.Info)
	}
}

// RecordsOf filters the records of a block by kind.
func RecordsOf(outcome types.BlockOutcome, kind types.RecordKind) []types.Record {
	var out []types.Record
	for _, r := range outcome.Records {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Genesis builds a genesis document starting at height 1.
func Genesis(chain types.ChainID, appState []byte) types.GenesisDoc {
	return types.GenesisDoc{
		ChainID:       chain,
		GenesisTime:   types.TimeToTimestamp(epoch),
		InitialHeight: 1,
		AppState:      appState,
	}
}

// MakeBlock builds a block at height, five seconds after the previous
// one.
func MakeBlock(height uint64, txs ...types.Tx) types.FinalizedBlock {
	return types.FinalizedBlock{
		Height: height,
		Time:   types.TimeToTimestamp(epoch.Add(time.Duration(height) * 5 * time.Second)),
		Txs:    txs,
	}
}

// Addr returns the address whose only non-zero byte is the last, b.
func Addr(b byte) types.Address {
	var a types.Address
	a[len(a)-1] = b
	return a
}
