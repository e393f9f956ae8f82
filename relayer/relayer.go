// Package relayer carries committed relay records between chains.
//
// For every chain it serves, the relayer follows the committed record
// stream. A dispatch becomes an execute on the destination chain; a
// pending fallback becomes a fallback on the origin chain; execution
// and fallback records acknowledge those deliveries. Deliveries are
// kept in a sqlite outbox and resubmitted until acknowledged, so
// delivery is at-least-once while the chains keep execution at most
// once.
package relayer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/blockberries/cramberry/pkg/cramberry"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/blockberries/relay"
	"github.com/blockberries/relay/app"
	"github.com/blockberries/relay/callid"
	"github.com/blockberries/relay/store"
	"github.com/blockberries/relay/types"
)

// Submitter admits a transaction to a chain's mempool.
type Submitter interface {
	Submit(ctx context.Context, tx types.Tx) (types.GateVerdict, error)
}

// Querier reads a chain's committed state.
type Querier interface {
	Query(ctx context.Context, req types.StateQuery) (types.StateQueryResult, error)
}

// Chain is one chain the relayer serves.
type Chain struct {
	ID      types.ChainID
	Records relay.RecordSource
	State   Querier
	Submit  Submitter
}

// Config tunes delivery.
type Config struct {
	// Operator is the sender of execute and fallback transactions. It
	// must be registered as an operator on every chain.
	Operator types.Address
	// PollInterval is how often each chain's due deliveries are sent.
	PollInterval time.Duration
	// RetryAfter is how long a submitted delivery may stay
	// unacknowledged before it is checked and resubmitted.
	RetryAfter time.Duration
	// MaxAttempts bounds the submissions of one delivery.
	MaxAttempts int
	// BatchSize bounds the deliveries sent per chain per poll.
	BatchSize int
	// ResubscribeDelay is the pause before reopening a closed record
	// stream.
	ResubscribeDelay time.Duration
}

// DefaultConfig returns the delivery defaults for operator.
func DefaultConfig(operator types.Address) Config {
	return Config{
		Operator:         operator,
		PollInterval:     200 * time.Millisecond,
		RetryAfter:       30 * time.Second,
		MaxAttempts:      10,
		BatchSize:        64,
		ResubscribeDelay: time.Second,
	}
}

func (c Config) validate() error {
	switch {
	case c.Operator.IsZero():
		return errors.New("relayer: operator address is required")
	case c.PollInterval <= 0, c.RetryAfter <= 0, c.ResubscribeDelay <= 0:
		return errors.New("relayer: intervals must be positive")
	case c.MaxAttempts <= 0, c.BatchSize <= 0:
		return errors.New("relayer: attempts and batch size must be positive")
	}
	return nil
}

type options struct {
	log        *zap.Logger
	now        func() time.Time
	namespace  string
	registerer prometheus.Registerer
}

// Option configures a Relayer.
type Option func(*options)

func WithLogger(log *zap.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithClock sets the time source for outbox timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithRegisterer(namespace string, reg prometheus.Registerer) Option {
	return func(o *options) {
		o.namespace = namespace
		o.registerer = reg
	}
}

// Relayer moves records between a fixed set of chains.
type Relayer struct {
	cfg     Config
	outbox  *Outbox
	chains  map[types.ChainID]Chain
	log     *zap.Logger
	now     func() time.Time
	metrics *metrics

	// wake nudges a chain's delivery loop after new work is enqueued.
	wake map[types.ChainID]chan struct{}
}

// New returns a relayer serving chains through outbox.
func New(cfg Config, outbox *Outbox, chains []Chain, opts ...Option) (*Relayer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	o := options{log: zap.NewNop(), now: time.Now, namespace: "relayer"}
	for _, opt := range opts {
		opt(&o)
	}
	m, err := newMetrics(o.namespace, o.registerer)
	if err != nil {
		return nil, err
	}

	r := &Relayer{
		cfg:     cfg,
		outbox:  outbox,
		chains:  make(map[types.ChainID]Chain, len(chains)),
		log:     o.log.Named("relayer"),
		now:     o.now,
		metrics: m,
		wake:    make(map[types.ChainID]chan struct{}, len(chains)),
	}
	for _, c := range chains {
		if c.ID == "" || c.Records == nil || c.State == nil || c.Submit == nil {
			return nil, fmt.Errorf("relayer: chain %q is incomplete", c.ID)
		}
		if _, dup := r.chains[c.ID]; dup {
			return nil, fmt.Errorf("relayer: chain %q listed twice", c.ID)
		}
		r.chains[c.ID] = c
		r.wake[c.ID] = make(chan struct{}, 1)
	}
	return r, nil
}

// Outbox returns the relayer's delivery store.
func (r *Relayer) Outbox() *Outbox { return r.outbox }

// Run follows every chain and delivers until ctx is done or a worker
// fails.
func (r *Relayer) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range r.chains {
		g.Go(func() error { return r.watch(gctx, c) })
		g.Go(func() error { return r.deliver(gctx, c) })
	}
	err := g.Wait()
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// watch follows the committed records of c from its cursor, reopening
// the stream whenever it ends.
func (r *Relayer) watch(ctx context.Context, c Chain) error {
	log := r.log.With(zap.String("chain", string(c.ID)))
	for {
		cursor, err := r.outbox.Cursor(ctx, c.ID)
		if err != nil {
			return fmt.Errorf("relayer: cursor of %s: %w", c.ID, err)
		}
		batches, err := c.Records.Records(ctx, cursor+1)
		if err != nil {
			log.Warn("record stream unavailable", zap.Error(err))
		} else {
			log.Debug("following records", zap.Uint64("from", cursor+1))
			for batch := range batches {
				if err := r.handleBatch(ctx, c, batch); err != nil {
					return err
				}
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.cfg.ResubscribeDelay):
		}
	}
}

func (r *Relayer) handleBatch(ctx context.Context, c Chain, batch types.RecordBatch) error {
	for _, rec := range batch.Records {
		r.metrics.records.WithLabelValues(rec.Kind.String()).Inc()
		if err := r.handleRecord(ctx, c, rec); err != nil {
			return fmt.Errorf("relayer: %s record at %s/%d: %w", rec.Kind, c.ID, batch.Height, err)
		}
	}
	return r.outbox.SetCursor(ctx, c.ID, batch.Height)
}

func (r *Relayer) handleRecord(ctx context.Context, c Chain, rec types.Record) error {
	now := r.now()
	switch {
	case rec.Dispatch != nil:
		d := rec.Dispatch
		return r.enqueue(ctx, c.ID, d.DestChain, KindExecute, d.CallID, &types.MsgExecute{
			AppID:       d.AppID,
			CallID:      d.CallID,
			Target:      types.HexToAddress(d.Target),
			OriginChain: d.OriginChain,
			OriginTxRef: d.TxRef,
			FallbackTo:  d.Caller.Hex(),
			Payload:     d.Payload,
		})

	case rec.FallbackPending != nil:
		f := rec.FallbackPending
		return r.enqueue(ctx, c.ID, f.OriginChain, KindFallback, f.CallID, &types.MsgFallback{
			AppID:           f.AppID,
			CallID:          f.CallID,
			OriginChain:     f.FailChain,
			FailTxRef:       f.FailTxRef,
			FallbackPayload: f.FallbackPayload,
		})

	case rec.Execution != nil:
		return r.acknowledge(ctx, rec.Execution.CallID, KindExecute, now)

	case rec.Fallback != nil:
		return r.acknowledge(ctx, rec.Fallback.CallID, KindFallback, now)
	}
	return nil
}

func (r *Relayer) enqueue(ctx context.Context, source, dest types.ChainID, kind Kind, id types.CallID, msg types.Msg) error {
	if _, ok := r.chains[dest]; !ok {
		r.metrics.unroutable.Inc()
		r.log.Warn("no route for record",
			zap.String("from", string(source)),
			zap.String("to", string(dest)),
			zap.Stringer("call", id),
		)
		return nil
	}
	body, err := cramberry.Marshal(msg)
	if err != nil {
		return err
	}
	added, err := r.outbox.Enqueue(ctx, Delivery{
		CallID: id,
		Kind:   kind,
		Source: source,
		Dest:   dest,
		Body:   body,
	}, r.now())
	if err != nil || !added {
		return err
	}
	r.metrics.enqueued.WithLabelValues(string(kind)).Inc()
	r.log.Debug("delivery queued", zap.String("kind", string(kind)), zap.Stringer("call", id), zap.String("to", string(dest)))

	select {
	case r.wake[dest] <- struct{}{}:
	default:
	}
	return nil
}

func (r *Relayer) acknowledge(ctx context.Context, id types.CallID, kind Kind, now time.Time) error {
	changed, err := r.outbox.MarkDelivered(ctx, id, kind, now)
	if err != nil {
		return err
	}
	if changed {
		r.metrics.delivered.WithLabelValues(string(kind)).Inc()
	}
	return nil
}

// sender tracks the operator nonce on one chain. Only the chain's
// delivery loop touches it.
type sender struct {
	chain Chain
	nonce uint64
	known bool
}

// deliver submits the due deliveries of c every poll interval, and
// right away when new work is queued.
func (r *Relayer) deliver(ctx context.Context, c Chain) error {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	s := &sender{chain: c}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-r.wake[c.ID]:
		}
		if err := r.deliverDue(ctx, s); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
}

func (r *Relayer) deliverDue(ctx context.Context, s *sender) error {
	log := r.log.With(zap.String("chain", string(s.chain.ID)))
	due, err := r.outbox.Due(ctx, s.chain.ID, r.now(), r.cfg.RetryAfter, r.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("relayer: due deliveries of %s: %w", s.chain.ID, err)
	}

	for _, d := range due {
		if d.Status == StatusSubmitted {
			// Unacknowledged for too long: the chain may have consumed
			// the call without us seeing the record, or the transaction
			// never landed and left a nonce gap.
			consumed, err := r.consumed(ctx, s.chain, d)
			if err != nil {
				log.Warn("consumption check failed", zap.Error(err))
				return nil
			}
			if consumed {
				if err := r.acknowledge(ctx, d.CallID, d.Kind, r.now()); err != nil {
					return err
				}
				continue
			}
			s.known = false
		}
		if d.Attempts >= r.cfg.MaxAttempts {
			r.metrics.failed.Inc()
			log.Error("delivery abandoned", zap.String("kind", string(d.Kind)), zap.Stringer("call", d.CallID), zap.String("last_error", d.LastError))
			if err := r.outbox.MarkFailed(ctx, d.ID, "too many attempts: "+d.LastError, r.now()); err != nil {
				return err
			}
			continue
		}
		if stop, err := r.submit(ctx, s, d); err != nil || stop {
			return err
		}
	}
	return nil
}

// submit sends one delivery. stop reports that the rest of the pass
// should wait for the next poll.
func (r *Relayer) submit(ctx context.Context, s *sender, d Delivery) (stop bool, err error) {
	log := r.log.With(zap.String("chain", string(s.chain.ID)), zap.String("kind", string(d.Kind)), zap.Stringer("call", d.CallID))

	if !s.known {
		n, err := r.operatorNonce(ctx, s.chain)
		if err != nil {
			log.Warn("nonce unavailable", zap.Error(err))
			return true, nil
		}
		s.nonce, s.known = n, true
	}

	msg, err := decodeBody(d)
	if err != nil {
		r.metrics.failed.Inc()
		return false, r.outbox.MarkFailed(ctx, d.ID, err.Error(), r.now())
	}
	tx, err := types.EncodeTx(r.cfg.Operator, s.nonce, msg)
	if err != nil {
		r.metrics.failed.Inc()
		return false, r.outbox.MarkFailed(ctx, d.ID, err.Error(), r.now())
	}

	v, err := s.chain.Submit.Submit(ctx, tx)
	if err != nil {
		r.metrics.submissions.WithLabelValues("error").Inc()
		log.Warn("submit failed", zap.Error(err))
		s.known = false
		return true, r.outbox.Retry(ctx, d.ID, err.Error(), r.now())
	}

	switch {
	case v.Accepted():
		r.metrics.submissions.WithLabelValues("accepted").Inc()
		s.nonce++
		log.Debug("delivery submitted", zap.Uint64("nonce", s.nonce-1))
		return false, r.outbox.MarkSubmitted(ctx, d.ID, r.now())

	case v.Code == relay.CodeAlreadyConsumed || v.Code == relay.CodeUnknownCall:
		r.metrics.submissions.WithLabelValues("settled").Inc()
		return false, r.acknowledge(ctx, d.CallID, d.Kind, r.now())

	case v.Code == relay.CodeBadNonce:
		r.metrics.submissions.WithLabelValues("bad_nonce").Inc()
		s.known = false
		return true, r.outbox.Retry(ctx, d.ID, v.Info, r.now())

	default:
		r.metrics.submissions.WithLabelValues("rejected").Inc()
		r.metrics.failed.Inc()
		log.Warn("delivery rejected", zap.Uint32("code", v.Code), zap.String("info", v.Info))
		return false, r.outbox.MarkFailed(ctx, d.ID, v.Info, r.now())
	}
}

func (r *Relayer) consumed(ctx context.Context, c Chain, d Delivery) (bool, error) {
	kind := callid.ConsumeExecute
	if d.Kind == KindFallback {
		kind = callid.ConsumeFallback
	}
	res, err := c.State.Query(ctx, types.StateQuery{Path: app.PathConsumed, Data: app.ConsumedData(d.CallID, kind)})
	if err != nil {
		return false, err
	}
	if !res.OK() {
		return false, fmt.Errorf("query consumed: code %d: %s", res.Code, res.Info)
	}
	return len(res.Value) == 1 && res.Value[0] == 1, nil
}

func (r *Relayer) operatorNonce(ctx context.Context, c Chain) (uint64, error) {
	res, err := c.State.Query(ctx, types.StateQuery{Path: app.PathNonce, Data: r.cfg.Operator[:]})
	if err != nil {
		return 0, err
	}
	if !res.OK() {
		return 0, fmt.Errorf("query nonce: code %d: %s", res.Code, res.Info)
	}
	if len(res.Value) != 8 {
		return 0, fmt.Errorf("query nonce: %d-byte value", len(res.Value))
	}
	return store.Uint64FromKey(res.Value), nil
}

func decodeBody(d Delivery) (types.Msg, error) {
	var msg types.Msg
	switch d.Kind {
	case KindExecute:
		msg = new(types.MsgExecute)
	case KindFallback:
		msg = new(types.MsgFallback)
	default:
		return nil, fmt.Errorf("unknown delivery kind %q", d.Kind)
	}
	if err := cramberry.Unmarshal(d.Body, msg); err != nil {
		return nil, fmt.Errorf("decode %s body: %w", d.Kind, err)
	}
	return msg, nil
}
