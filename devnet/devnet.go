// Package devnet drives a relay application as a single-node chain.
//
// A Node plays the consensus engine: it admits transactions through
// CheckTx into a local mempool, cuts blocks from it, executes and
// commits them, and re-validates whatever is left after every block.
// It is meant for development networks and end-to-end tests, not for
// production consensus.
package devnet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/blockberries/cramberry/pkg/cramberry"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/blockberries/relay"
	"github.com/blockberries/relay/types"
)

// DefaultMaxBlockTxs bounds the transactions cut into one block.
const DefaultMaxBlockTxs = 256

var (
	ErrNotStarted = errors.New("devnet: node not started")
	ErrDuplicate  = errors.New("devnet: transaction already pending")
)

type pendingTx struct {
	tx       types.Tx
	hash     types.Hash
	sender   string
	priority int64
	seq      uint64
}

type config struct {
	log         *zap.Logger
	maxBlockTxs int
	proposer    types.Address
	now         func() time.Time
	namespace   string
	registerer  prometheus.Registerer
}

// Option configures a Node.
type Option func(*config)

func WithLogger(log *zap.Logger) Option {
	return func(c *config) { c.log = log }
}

func WithMaxBlockTxs(n int) Option {
	return func(c *config) { c.maxBlockTxs = n }
}

func WithProposer(addr types.Address) Option {
	return func(c *config) { c.proposer = addr }
}

// WithClock sets the source of block timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

// WithRegisterer exports the mempool gauges under namespace.
func WithRegisterer(namespace string, reg prometheus.Registerer) Option {
	return func(c *config) {
		c.namespace = namespace
		c.registerer = reg
	}
}

// Node is a single-node block producer for one relay application.
type Node struct {
	conn relay.Connection
	cfg  config
	log  *zap.Logger

	// produceMu serializes block production.
	produceMu sync.Mutex

	mu       sync.Mutex
	started  bool
	chain    types.ChainID
	height   uint64
	lastHash types.Hash
	pending  []pendingTx
	byHash   map[types.Hash]struct{}
	seq      uint64

	pendingGauge prometheus.Gauge
	blocks       prometheus.Counter
	dropped      prometheus.Counter
}

// New returns a node driving conn. The node owns the lifecycle of conn
// from Start on.
func New(conn relay.Connection, opts ...Option) (*Node, error) {
	cfg := config{
		log:         zap.NewNop(),
		maxBlockTxs: DefaultMaxBlockTxs,
		now:         time.Now,
		namespace:   "devnet",
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.maxBlockTxs <= 0 {
		return nil, fmt.Errorf("devnet: max block txs must be positive, got %d", cfg.maxBlockTxs)
	}

	n := &Node{
		conn:   conn,
		cfg:    cfg,
		log:    cfg.log.Named("devnet"),
		byHash: make(map[types.Hash]struct{}),
		pendingGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.namespace,
			Name:      "mempool_txs",
			Help:      "Number of transactions waiting in the mempool",
		}),
		blocks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "blocks_produced",
			Help:      "Number of blocks produced and committed",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "mempool_dropped",
			Help:      "Number of pending transactions dropped on revalidation",
		}),
	}
	if cfg.registerer != nil {
		err := errors.Join(
			cfg.registerer.Register(n.pendingGauge),
			cfg.registerer.Register(n.blocks),
			cfg.registerer.Register(n.dropped),
		)
		if err != nil {
			return nil, err
		}
	}
	return n, nil
}

// Start handshakes with the application. A genesis request starts the
// chain at the genesis document's initial height; a restart resumes
// after the application's last block.
func (n *Node) Start(ctx context.Context, req types.HandshakeRequest) (types.HandshakeResponse, error) {
	var chain types.ChainID
	if req.Genesis != nil {
		chain = req.Genesis.ChainID
	}
	return n.start(ctx, req, chain)
}

// Resume restarts the node on an application that already committed
// last. The engine block hash is not persisted, so the next block
// links to an empty hash.
func (n *Node) Resume(ctx context.Context, chain types.ChainID, last types.BlockID) (types.HandshakeResponse, error) {
	return n.start(ctx, types.HandshakeRequest{LastCommitted: &last}, chain)
}

func (n *Node) start(ctx context.Context, req types.HandshakeRequest, chain types.ChainID) (types.HandshakeResponse, error) {
	resp, err := n.conn.Handshake(ctx, req)
	if err != nil {
		return resp, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	switch {
	case resp.LastBlock != nil:
		n.height = resp.LastBlock.Height
		n.lastHash = resp.LastBlock.Hash
	case req.Genesis != nil && req.Genesis.InitialHeight > 0:
		n.height = req.Genesis.InitialHeight - 1
	}
	n.chain = chain
	n.started = true
	n.log.Info("started",
		zap.String("chain", string(n.chain)),
		zap.Uint64("height", n.height),
		zap.Stringer("capabilities", resp.Capabilities),
	)
	return resp, nil
}

// Conn returns the connection the node drives.
func (n *Node) Conn() relay.Connection { return n.conn }

// Chain returns the chain ID from the genesis handshake.
func (n *Node) Chain() types.ChainID {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.chain
}

// Height returns the last committed height.
func (n *Node) Height() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.height
}

// Pending returns the number of transactions waiting in the mempool.
func (n *Node) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.pending)
}

// Submit gate-checks tx and, when accepted, queues it for the next
// block. A rejection is reported through the verdict, not the error.
func (n *Node) Submit(ctx context.Context, tx types.Tx) (types.GateVerdict, error) {
	if !n.isStarted() {
		return types.GateVerdict{}, ErrNotStarted
	}
	hash := types.Hash(crypto.Keccak256Hash(tx))

	n.mu.Lock()
	_, dup := n.byHash[hash]
	n.mu.Unlock()
	if dup {
		return types.GateVerdict{}, ErrDuplicate
	}

	v, err := n.conn.CheckTx(ctx, tx, types.MempoolFirstSeen)
	if err != nil || !v.Accepted() {
		return v, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if _, dup := n.byHash[hash]; dup {
		return types.GateVerdict{}, ErrDuplicate
	}
	n.seq++
	n.pending = append(n.pending, pendingTx{
		tx:       tx,
		hash:     hash,
		sender:   v.Sender,
		priority: v.Priority,
		seq:      n.seq,
	})
	n.byHash[hash] = struct{}{}
	n.pendingGauge.Set(float64(len(n.pending)))
	return v, nil
}

// ProduceBlock cuts the next block from the mempool, executes and
// commits it. Empty blocks are produced when nothing is pending.
func (n *Node) ProduceBlock(ctx context.Context) (types.FinalizedBlock, types.BlockOutcome, error) {
	if !n.isStarted() {
		return types.FinalizedBlock{}, types.BlockOutcome{}, ErrNotStarted
	}
	n.produceMu.Lock()
	defer n.produceMu.Unlock()

	n.mu.Lock()
	picked := selectTxs(n.pending, n.cfg.maxBlockTxs)
	block := types.FinalizedBlock{
		Height:        n.height + 1,
		Time:          types.TimeToTimestamp(n.cfg.now()),
		Proposer:      n.cfg.proposer,
		LastBlockHash: n.lastHash,
	}
	for _, p := range picked {
		block.Txs = append(block.Txs, p.tx)
	}
	n.mu.Unlock()

	outcome, err := n.conn.ExecuteBlock(ctx, block)
	if err != nil {
		return block, outcome, fmt.Errorf("devnet: execute block %d: %w", block.Height, err)
	}
	if _, err := n.conn.Commit(ctx); err != nil {
		return block, outcome, fmt.Errorf("devnet: commit block %d: %w", block.Height, err)
	}

	hash, err := blockHash(block)
	if err != nil {
		return block, outcome, err
	}

	n.mu.Lock()
	n.height = block.Height
	n.lastHash = hash
	for _, p := range picked {
		delete(n.byHash, p.hash)
	}
	n.pending = without(n.pending, picked)
	remaining := append([]pendingTx(nil), n.pending...)
	n.mu.Unlock()

	n.blocks.Inc()
	n.log.Debug("block committed",
		zap.Uint64("height", block.Height),
		zap.Int("txs", len(block.Txs)),
		zap.Int("records", len(outcome.Records)),
	)

	n.revalidate(ctx, remaining)
	return block, outcome, nil
}

// Run produces a block every interval while transactions are pending.
// It returns when ctx is done.
func (n *Node) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if n.Pending() == 0 {
			continue
		}
		if _, _, err := n.ProduceBlock(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// revalidate re-checks the remaining transactions against the new
// state and drops the ones the application now rejects.
func (n *Node) revalidate(ctx context.Context, remaining []pendingTx) {
	var drop []pendingTx
	for _, p := range remaining {
		v, err := n.conn.CheckTx(ctx, p.tx, types.MempoolRevalidation)
		if err != nil {
			n.log.Warn("revalidation failed", zap.Error(err))
			continue
		}
		if !v.Accepted() {
			drop = append(drop, p)
		}
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if len(drop) > 0 {
		for _, p := range drop {
			delete(n.byHash, p.hash)
		}
		n.pending = without(n.pending, drop)
		n.dropped.Add(float64(len(drop)))
	}
	n.pendingGauge.Set(float64(len(n.pending)))
}

func (n *Node) isStarted() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.started
}

// selectTxs picks up to max transactions. Each sender's transactions
// keep their arrival order; across senders the head with the highest
// priority goes first, earliest arrival breaking ties.
func selectTxs(pending []pendingTx, max int) []pendingTx {
	queues := make(map[string][]pendingTx)
	var senders []string
	for _, p := range pending {
		if _, ok := queues[p.sender]; !ok {
			senders = append(senders, p.sender)
		}
		queues[p.sender] = append(queues[p.sender], p)
	}

	var out []pendingTx
	for len(out) < max {
		best := -1
		for i, s := range senders {
			q := queues[s]
			if len(q) == 0 {
				continue
			}
			if best < 0 {
				best = i
				continue
			}
			head, cur := q[0], queues[senders[best]][0]
			if head.priority > cur.priority || (head.priority == cur.priority && head.seq < cur.seq) {
				best = i
			}
		}
		if best < 0 {
			break
		}
		s := senders[best]
		out = append(out, queues[s][0])
		queues[s] = queues[s][1:]
	}
	return out
}

func without(pending, remove []pendingTx) []pendingTx {
	gone := make(map[uint64]struct{}, len(remove))
	for _, p := range remove {
		gone[p.seq] = struct{}{}
	}
	kept := pending[:0]
	for _, p := range pending {
		if _, ok := gone[p.seq]; !ok {
			kept = append(kept, p)
		}
	}
	return kept
}

func blockHash(block types.FinalizedBlock) (types.Hash, error) {
	raw, err := cramberry.Marshal(&block)
	if err != nil {
		return types.Hash{}, fmt.Errorf("devnet: encode block %d: %w", block.Height, err)
	}
	return types.Hash(crypto.Keccak256Hash(raw)), nil
}
