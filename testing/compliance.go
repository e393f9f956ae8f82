package relaytest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/blockberries/cramberry/pkg/cramberry"

	"github.com/blockberries/relay"
	"github.com/blockberries/relay/types"
)

// RunComplianceSuite checks that a relay application honors the block
// lifecycle: deterministic hashes, per-tx outcomes for garbage input,
// concurrent reads, and a records query that the server's record feed
// can replay from.
//
// The factory must return a fresh application for each subtest; genesis
// is handed to it at handshake.
func RunComplianceSuite(t *testing.T, factory func() relay.Lifecycle, genesis types.GenesisDoc) {
	t.Helper()

	t.Run("genesis_handshake", func(t *testing.T) {
		h := NewHarness(t, factory())
		resp := h.Genesis(genesis)
		if resp.LastBlock != nil {
			t.Error("genesis handshake should return nil LastBlock")
		}
		if resp.AppHash == nil {
			t.Error("genesis handshake should return a non-nil AppHash")
		}
		if !resp.Capabilities.Has(types.CapRecords) {
			t.Error("relay applications must declare CapRecords")
		}
	})

	t.Run("execute_commit_cycle", func(t *testing.T) {
		h := NewHarness(t, factory())
		h.Genesis(genesis)

		var prev types.AppHash
		for i := uint64(1); i <= 5; i++ {
			outcome := h.ExecuteAndCommit(MakeBlock(i))
			if outcome.AppHash == (types.AppHash{}) {
				t.Errorf("height %d: zero app hash", i)
			}
			if outcome.AppHash == prev {
				t.Errorf("height %d: app hash did not advance", i)
			}
			prev = outcome.AppHash
		}
	})

	t.Run("deterministic_with_garbage_txs", func(t *testing.T) {
		h1 := NewHarness(t, factory())
		h1.Genesis(genesis)
		h2 := NewHarness(t, factory())
		h2.Genesis(genesis)

		txs := []types.Tx{
			{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08},
			{},
			{0x03, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08},
		}
		for i := uint64(1); i <= 3; i++ {
			block := MakeBlock(i, txs...)
			o1 := h1.ExecuteAndCommit(block)
			o2 := h2.ExecuteAndCommit(block)

			if o1.AppHash != o2.AppHash {
				t.Errorf("height %d: non-deterministic: %x != %x", i, o1.AppHash, o2.AppHash)
			}
			if len(o1.TxOutcomes) != len(txs) {
				t.Fatalf("expected %d tx outcomes, got %d", len(txs), len(o1.TxOutcomes))
			}
			for j, o := range o1.TxOutcomes {
				if o.Index != uint32(j) {
					t.Errorf("tx %d: expected index %d, got %d", j, j, o.Index)
				}
				if len(txs[j]) == 0 && o.OK() {
					t.Errorf("tx %d: empty tx succeeded", j)
				}
			}
			if len(o1.Records) != 0 {
				t.Errorf("height %d: garbage produced %d records", i, len(o1.Records))
			}
		}
	})

	t.Run("concurrent_reads_after_handshake", func(t *testing.T) {
		h := NewHarness(t, factory())
		h.Genesis(genesis)

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				if _, err := h.Server().CheckTx(context.Background(), types.Tx{0x01}, types.MempoolFirstSeen); err != nil {
					t.Errorf("concurrent CheckTx failed: %v", err)
				}
			}()
			go func() {
				defer wg.Done()
				if _, err := h.Server().Query(context.Background(), types.StateQuery{Path: types.PathRecords}); err != nil {
					t.Errorf("concurrent Query failed: %v", err)
				}
			}()
		}
		wg.Wait()
	})

	t.Run("records_query_pages", func(t *testing.T) {
		h := NewHarness(t, factory())
		h.Genesis(genesis)
		h.ExecuteAndCommit(MakeBlock(1))
		h.ExecuteAndCommit(MakeBlock(2))

		v := h.MustQuery(types.PathRecords, nil)
		var page types.RecordPage
		if err := cramberry.Unmarshal(v, &page); err != nil {
			t.Fatalf("decode record page: %v", err)
		}
		if len(page.Batches) != 0 {
			t.Errorf("empty blocks produced %d batches", len(page.Batches))
		}
		if page.Next != 3 {
			t.Errorf("expected next height 3, got %d", page.Next)
		}
	})

	t.Run("records_stream_closes_with_context", func(t *testing.T) {
		h := NewHarness(t, factory())
		h.Genesis(genesis)

		ctx, cancel := context.WithCancel(context.Background())
		ch, err := h.Server().Records(ctx, 1)
		if err != nil {
			t.Fatalf("Records failed: %v", err)
		}
		cancel()
		select {
		case _, ok := <-ch:
			if ok {
				t.Error("expected no batches from an empty chain")
			}
		case <-time.After(2 * time.Second):
			t.Error("record stream did not close")
		}
	})
}
