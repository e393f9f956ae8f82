package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/blockberries/cramberry/pkg/cramberry"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/blockberries/relay"
	"github.com/blockberries/relay/store"
	"github.com/blockberries/relay/types"
)

var (
	_ relay.Lifecycle    = (*Server)(nil)
	_ relay.Simulator    = (*Server)(nil)
	_ relay.RecordSource = (*Server)(nil)
)

// Server wraps a relay application with lifecycle enforcement,
// capability routing and the committed record feed. The consensus
// engine and relayers interact with the application exclusively
// through this server.
type Server struct {
	app     relay.Lifecycle
	guard   *LifecycleGuard
	caps    types.Capabilities
	chain   types.ChainID
	log     *zap.Logger
	metrics *metrics
	feed    *feed

	// Optional interfaces (nil if not supported).
	simulator relay.Simulator

	// Last block outcome (held between ExecuteBlock and Commit).
	mu             sync.Mutex
	lastOutcome    *types.BlockOutcome
	lastExecHeight uint64
}

// Option configures a Server.
type Option func(*config)

type config struct {
	log        *zap.Logger
	registerer prometheus.Registerer
	namespace  string
}

// WithLogger sets the server logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) { c.log = l }
}

// WithRegisterer registers the server metrics under namespace.
func WithRegisterer(namespace string, r prometheus.Registerer) Option {
	return func(c *config) {
		c.namespace = namespace
		c.registerer = r
	}
}

// New creates a new Server wrapping the given application.
func New(app relay.Lifecycle, opts ...Option) (*Server, error) {
	cfg := config{log: zap.NewNop(), namespace: "relay"}
	for _, o := range opts {
		o(&cfg)
	}
	m, err := newMetrics(cfg.namespace, cfg.registerer)
	if err != nil {
		return nil, fmt.Errorf("relay: register metrics: %w", err)
	}
	s := &Server{
		app:     app,
		guard:   NewLifecycleGuard(),
		log:     cfg.log,
		metrics: m,
		feed:    newFeed(),
	}
	// Pre-discover optional interfaces (validated after handshake).
	s.simulator, _ = app.(relay.Simulator)
	return s, nil
}

// Handshake performs the startup handshake, validates capability
// declarations, and transitions the state machine to Ready.
func (s *Server) Handshake(ctx context.Context, req types.HandshakeRequest) (types.HandshakeResponse, error) {
	if err := req.Validate(); err != nil {
		return types.HandshakeResponse{}, err
	}
	if err := s.guard.AcquireHandshake(); err != nil {
		return types.HandshakeResponse{}, err
	}

	resp, err := s.app.Handshake(ctx, req)
	if err != nil {
		s.guard.FailHandshake()
		return resp, err
	}

	if err := s.discoverCapabilities(resp.Capabilities); err != nil {
		s.guard.FailHandshake()
		return resp, err
	}

	s.caps = resp.Capabilities
	switch {
	case req.IsGenesis():
		s.chain = req.Genesis.ChainID
	default:
		if c, ok := s.app.(interface{ Chain() types.ChainID }); ok {
			s.chain = c.Chain()
		}
	}
	if resp.LastBlock != nil {
		s.metrics.height.Set(float64(resp.LastBlock.Height))
	}
	s.log.Info("handshake complete",
		zap.String("chain", string(s.chain)),
		zap.Stringer("capabilities", s.caps),
	)
	s.guard.CompleteHandshake()
	return resp, nil
}

// CheckTx gate-checks a transaction for mempool admission.
// Safe for concurrent use.
func (s *Server) CheckTx(ctx context.Context, tx types.Tx, mctx types.MempoolContext) (types.GateVerdict, error) {
	if err := s.guard.CheckConcurrent("CheckTx"); err != nil {
		return types.GateVerdict{}, err
	}
	v, err := s.app.CheckTx(ctx, tx, mctx)
	if err == nil && !v.Accepted() {
		s.metrics.checkRejects.WithLabelValues(mctx.String()).Inc()
	}
	return v, err
}

// ExecuteBlock deterministically executes a finalized block.
func (s *Server) ExecuteBlock(ctx context.Context, block types.FinalizedBlock) (types.BlockOutcome, error) {
	if err := s.guard.AcquireExecute(); err != nil {
		return types.BlockOutcome{}, err
	}

	outcome, err := s.app.ExecuteBlock(ctx, block)
	if err != nil {
		s.guard.FailExecute()
		if h, ok := relay.IsHalt(err); ok {
			s.log.Error("halting", zap.Uint64("height", h.Height), zap.String("reason", h.Reason))
		}
		return outcome, err
	}

	s.mu.Lock()
	s.lastOutcome = &outcome
	s.lastExecHeight = block.Height
	s.mu.Unlock()

	s.metrics.blockTxs.Observe(float64(len(block.Txs)))
	for _, o := range outcome.TxOutcomes {
		result := "ok"
		if !o.OK() {
			result = "failed"
		}
		s.metrics.txResults.WithLabelValues(result).Inc()
	}

	s.guard.CompleteExecute()
	return outcome, nil
}

// Commit persists state changes from the last ExecuteBlock and then
// publishes the block's records. A failed commit leaves the block
// staged so the engine can retry.
func (s *Server) Commit(ctx context.Context) (types.CommitResult, error) {
	if err := s.guard.AcquireCommit(); err != nil {
		return types.CommitResult{}, err
	}

	result, err := s.app.Commit(ctx)
	if err != nil {
		s.metrics.commitFails.Inc()
		s.log.Error("commit failed", zap.Uint64("height", s.lastExecHeight), zap.Error(err))
		s.guard.FailCommit()
		return result, err
	}

	s.mu.Lock()
	outcome, height := s.lastOutcome, s.lastExecHeight
	s.lastOutcome = nil
	s.mu.Unlock()

	s.metrics.height.Set(float64(height))
	if outcome != nil && len(outcome.Records) > 0 {
		for _, r := range outcome.Records {
			s.metrics.records.WithLabelValues(r.Kind.String()).Inc()
		}
		s.feed.publish(types.RecordBatch{Chain: s.chain, Height: height, Records: outcome.Records})
		s.log.Debug("published records",
			zap.Uint64("height", height),
			zap.Int("count", len(outcome.Records)),
		)
	}

	s.guard.CompleteCommit()
	return result, nil
}

// Query reads application state. Safe for concurrent use.
func (s *Server) Query(ctx context.Context, req types.StateQuery) (types.StateQueryResult, error) {
	if err := s.guard.CheckConcurrent("Query"); err != nil {
		return types.StateQueryResult{}, err
	}
	return s.app.Query(ctx, req)
}

// Capabilities returns the application's declared capabilities.
// Only valid after Handshake completes.
func (s *Server) Capabilities() types.Capabilities {
	return s.caps
}

// Chain returns the chain ID learned at handshake.
func (s *Server) Chain() types.ChainID {
	return s.chain
}

// Simulate delegates to Simulator if supported.
// Safe for concurrent use.
func (s *Server) Simulate(ctx context.Context, tx types.Tx) (types.TxOutcome, error) {
	if s.simulator == nil {
		return types.TxOutcome{}, fmt.Errorf("relay: Simulator not supported")
	}
	if err := s.guard.CheckConcurrent("Simulate"); err != nil {
		return types.TxOutcome{}, err
	}
	return s.simulator.Simulate(ctx, tx)
}

// AsSimulator returns the Simulator interface or nil.
func (s *Server) AsSimulator() relay.Simulator {
	if s.caps.Has(types.CapSimulation) {
		return s.simulator
	}
	return nil
}

// Records streams committed record batches at heights >= from. History
// is replayed from the application's record store before live batches
// follow; each height is delivered once, in order. Only blocks that
// produced records are delivered.
func (s *Server) Records(ctx context.Context, from uint64) (<-chan types.RecordBatch, error) {
	if err := s.guard.CheckConcurrent("Records"); err != nil {
		return nil, err
	}
	if !s.caps.Has(types.CapRecords) {
		return nil, fmt.Errorf("relay: Records not supported")
	}
	// Subscribe before replaying so nothing committed in between is lost.
	sub, ok := s.feed.subscribe()
	if !ok {
		return nil, fmt.Errorf("relay: server closed")
	}
	s.metrics.subscribers.Inc()

	out := make(chan types.RecordBatch)
	go func() {
		defer close(out)
		defer s.metrics.subscribers.Dec()
		defer s.feed.unsubscribe(sub)

		next := from
		send := func(b types.RecordBatch) bool {
			if b.Height < next {
				return true
			}
			select {
			case out <- b:
				next = b.Height + 1
				return true
			case <-ctx.Done():
				return false
			case <-s.feed.done:
				return false
			}
		}

		for {
			page, err := s.recordPage(ctx, next)
			if err != nil {
				s.log.Warn("record replay failed", zap.Uint64("from", next), zap.Error(err))
				return
			}
			if len(page.Batches) == 0 {
				break
			}
			for _, b := range page.Batches {
				if !send(b) {
					return
				}
			}
			if page.Next > next {
				next = page.Next
			}
		}

		for {
			for _, b := range sub.drain() {
				if !send(b) {
					return
				}
			}
			select {
			case <-sub.notify:
			case <-ctx.Done():
				return
			case <-s.feed.done:
				return
			}
		}
	}()
	return out, nil
}

func (s *Server) recordPage(ctx context.Context, from uint64) (types.RecordPage, error) {
	var page types.RecordPage
	res, err := s.app.Query(ctx, types.StateQuery{Path: types.PathRecords, Data: store.Uint64Key(from)})
	if err != nil {
		return page, err
	}
	if !res.OK() {
		return page, fmt.Errorf("relay: records query: code %d: %s", res.Code, res.Info)
	}
	if err := cramberry.Unmarshal(res.Value, &page); err != nil {
		return page, fmt.Errorf("relay: decode record page: %w", err)
	}
	return page, nil
}

// LastOutcome returns the most recent BlockOutcome (between
// ExecuteBlock and Commit). Returns nil if no outcome is pending.
func (s *Server) LastOutcome() *types.BlockOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastOutcome
}

// Close ends every open record stream.
func (s *Server) Close() error {
	s.feed.close()
	return nil
}

// discoverCapabilities checks which optional interfaces the app
// implements and verifies consistency with declared capabilities.
func (s *Server) discoverCapabilities(declared types.Capabilities) error {
	if u := declared.Unknown(); u != 0 {
		return fmt.Errorf("relay: app declared unknown capabilities %s", u)
	}
	_, hasSimulator := s.app.(relay.Simulator)

	if declared.Has(types.CapSimulation) && !hasSimulator {
		return fmt.Errorf("relay: app declared CapSimulation but does not implement Simulator")
	}

	if !declared.Has(types.CapSimulation) && hasSimulator {
		s.log.Warn("app implements Simulator but did not declare it; capability will not be used")
	}
	return nil
}
