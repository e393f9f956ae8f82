// Package app hosts the relay on one chain as a block application.
//
// Transactions are cramberry-encoded envelopes (see types.EncodeTx).
// Each one runs in its own cache over the block's cache, so a failed
// transaction leaves no state change beyond its sender's nonce. State
// is persisted to a store.Backend in Commit together with the block's
// records, which are then served to relayers through the /records
// query and the server's record feed.
package app

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/blockberries/cramberry/pkg/cramberry"
	"go.uber.org/zap"

	"github.com/blockberries/relay"
	"github.com/blockberries/relay/core"
	"github.com/blockberries/relay/fees"
	"github.com/blockberries/relay/store"
	"github.com/blockberries/relay/types"
)

// Compile-time interface checks.
var (
	_ relay.Lifecycle = (*App)(nil)
	_ relay.Simulator = (*App)(nil)
)

// Capabilities declared at handshake.
const Capabilities = types.CapSimulation | types.CapRecords

var (
	statePrefix  = []byte("s/")
	recordPrefix = []byte("r/")
	keyHeight    = []byte("m/height")
	keyAppHash   = []byte("m/hash")
	keyConfig    = []byte("m/config")
)

// meta is the persisted identity of the relay.
type meta struct {
	Chain      types.ChainID `cramberry:"1"`
	Address    types.Address `cramberry:"2"`
	RequireFee bool          `cramberry:"3"`
}

// Option configures an App.
type Option func(*App)

// WithEndpoints sets the callable endpoints deployed on this chain.
func WithEndpoints(r relay.Resolver) Option {
	return func(a *App) { a.endpoints = r }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *App) { a.logger = l }
}

// RetainBlocks bounds the RetainHeight reported from Commit. Zero keeps
// everything.
func RetainBlocks(n uint64) Option {
	return func(a *App) { a.retain = n }
}

// App is the relay block application.
type App struct {
	mu        sync.RWMutex
	db        store.Backend
	endpoints relay.Resolver
	logger    *zap.Logger
	retain    uint64

	relay   *core.Relay
	height  uint64
	appHash types.AppHash

	// Staging area (between ExecuteBlock and Commit).
	staged *staged
}

type staged struct {
	height  uint64
	appHash types.AppHash
	cache   *store.Cache
	records []types.Record
}

// New returns an App persisting to db. If db holds committed state the
// App resumes from it.
func New(db store.Backend, opts ...Option) (*App, error) {
	app := &App{db: db, endpoints: relay.Endpoints{}, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(app)
	}
	app.logger = app.logger.Named("app")

	v, ok, err := store.Lookup(db, keyConfig)
	if err != nil || !ok {
		return app, err
	}
	var m meta
	if err := cramberry.Unmarshal(v, &m); err != nil {
		return nil, fmt.Errorf("app: decode config: %w", err)
	}
	if app.height, err = store.GetUint64(db, keyHeight); err != nil {
		return nil, err
	}
	h, _, err := store.Lookup(db, keyAppHash)
	if err != nil {
		return nil, err
	}
	copy(app.appHash[:], h)
	app.relay = app.newRelay(m)
	return app, nil
}

// Height returns the last committed height.
func (app *App) Height() uint64 {
	app.mu.RLock()
	defer app.mu.RUnlock()
	return app.height
}

func (app *App) newRelay(m meta) *core.Relay {
	return core.New(core.Config{
		Chain:      m.Chain,
		Address:    m.Address,
		RequireFee: m.RequireFee,
		Endpoints:  app.endpoints,
		Bank:       func(kv store.KV) fees.Transferer { return NewBank(kv) },
		Logger:     app.logger,
	})
}

// Chain returns the chain ID, empty before genesis.
func (app *App) Chain() types.ChainID {
	app.mu.RLock()
	defer app.mu.RUnlock()
	if app.relay == nil {
		return ""
	}
	return app.relay.Chain()
}

func stateKV(kv store.KV) store.KV { return store.Prefix(kv, statePrefix) }

func (app *App) Handshake(_ context.Context, req types.HandshakeRequest) (types.HandshakeResponse, error) {
	app.mu.Lock()
	defer app.mu.Unlock()

	if err := req.Validate(); err != nil {
		return types.HandshakeResponse{}, err
	}
	if req.IsGenesis() {
		if app.relay != nil {
			return types.HandshakeResponse{}, fmt.Errorf("app: genesis requested but state exists at height %d", app.height)
		}
		if err := app.initChain(req.Genesis); err != nil {
			return types.HandshakeResponse{}, err
		}
		h := app.appHash
		return types.HandshakeResponse{AppHash: &h, Capabilities: Capabilities}, nil
	}

	if app.relay == nil {
		return types.HandshakeResponse{}, relay.NewHaltError(req.LastCommitted.Height, "app has no state")
	}
	if req.LastCommitted.Height != app.height {
		return types.HandshakeResponse{}, relay.NewHaltError(req.LastCommitted.Height,
			fmt.Sprintf("engine committed height %d, app committed %d", req.LastCommitted.Height, app.height))
	}
	h := app.appHash
	return types.HandshakeResponse{
		LastBlock:    &types.BlockID{Height: app.height},
		AppHash:      &h,
		Capabilities: Capabilities,
	}, nil
}

func (app *App) initChain(doc *types.GenesisDoc) error {
	gen, err := ParseGenesis(doc.AppState)
	if err != nil {
		return err
	}
	cfg, err := gen.relayConfig(doc.ChainID)
	if err != nil {
		return err
	}
	m := meta{Chain: cfg.Chain, Address: cfg.Address, RequireFee: cfg.RequireFee}
	r := app.newRelay(m)

	cache := store.NewCache(app.db)
	state := stateKV(cache)
	if err := gen.apply(r.Keepers(state), NewBank(state), cfg.Address); err != nil {
		return err
	}
	height := uint64(0)
	if doc.InitialHeight > 0 {
		height = doc.InitialHeight - 1
	}
	hash := types.AppHash(store.HashChanges([32]byte{}, height, cache.Changes()))

	mv, err := cramberry.Marshal(&m)
	if err != nil {
		return fmt.Errorf("app: encode config: %w", err)
	}
	changes := append(cache.Changes(),
		store.Change{Key: keyConfig, Value: mv},
		store.Change{Key: keyHeight, Value: store.Uint64Key(height)},
		store.Change{Key: keyAppHash, Value: hash[:]},
	)
	if err := app.db.WriteBatch(changes); err != nil {
		return fmt.Errorf("app: write genesis: %w", err)
	}
	app.relay, app.height, app.appHash = r, height, hash
	app.logger.Info("genesis",
		zap.String("chain", string(cfg.Chain)),
		zap.Stringer("relay", cfg.Address),
		zap.Uint64("height", height),
	)
	return nil
}

func (app *App) CheckTx(_ context.Context, tx types.Tx, mctx types.MempoolContext) (types.GateVerdict, error) {
	env, msg, err := types.DecodeTx(tx)
	if err != nil {
		return types.Reject(relay.CodeInvalidTx, err.Error()), nil
	}

	app.mu.RLock()
	defer app.mu.RUnlock()
	if app.relay == nil {
		return types.Reject(relay.CodeInternal, "app not initialized"), nil
	}
	next, err := store.GetUint64(stateKV(app.db), nonceKey(env.Sender))
	if err != nil {
		return types.GateVerdict{}, err
	}
	if env.Nonce < next {
		return types.Reject(relay.CodeBadNonce, fmt.Sprintf("nonce %d already used (next %d)", env.Nonce, next)), nil
	}
	if mctx != types.MempoolRevalidation {
		if err := validate(msg); err != nil {
			return types.Reject(relay.Code(err), err.Error()), nil
		}
	}

	// Operator traffic settles calls already paid for; let it through
	// first.
	priority := int64(1)
	switch msg.(type) {
	case *types.MsgExecute, *types.MsgFallback:
		priority = 10
	}
	return types.GateVerdict{Priority: priority, Sender: env.Sender.Hex()}, nil
}

func (app *App) ExecuteBlock(ctx context.Context, block types.FinalizedBlock) (types.BlockOutcome, error) {
	app.mu.RLock()
	r, height, prev := app.relay, app.height, app.appHash
	app.mu.RUnlock()

	if r == nil {
		return types.BlockOutcome{}, fmt.Errorf("app: ExecuteBlock before genesis")
	}
	if block.Height != height+1 {
		return types.BlockOutcome{}, relay.NewHaltError(block.Height,
			fmt.Sprintf("expected block %d", height+1))
	}

	cache := store.NewCache(app.db)
	outcomes := make([]types.TxOutcome, len(block.Txs))
	var (
		records     []types.Record
		blockEvents []types.Event
	)
	for i, tx := range block.Txs {
		outcome, recs := app.executeTx(ctx, r, cache, block.Height, uint32(i), tx, true)
		outcomes[i] = outcome
		records = append(records, recs...)
	}
	if len(records) > 0 {
		blockEvents = append(blockEvents, types.NewEvent("relay_records", "count", strconv.Itoa(len(records))))
	}

	h := types.AppHash(store.HashChanges(prev, block.Height, cache.Changes()))
	app.mu.Lock()
	app.staged = &staged{height: block.Height, appHash: h, cache: cache, records: records}
	app.mu.Unlock()

	return types.BlockOutcome{
		TxOutcomes:  outcomes,
		BlockEvents: blockEvents,
		AppHash:     h,
		Records:     records,
	}, nil
}

func (app *App) Commit(_ context.Context) (types.CommitResult, error) {
	app.mu.Lock()
	defer app.mu.Unlock()

	s := app.staged
	if s == nil {
		return types.CommitResult{}, fmt.Errorf("app: Commit without ExecuteBlock")
	}
	changes := append(s.cache.Changes(),
		store.Change{Key: keyHeight, Value: store.Uint64Key(s.height)},
		store.Change{Key: keyAppHash, Value: s.appHash[:]},
	)
	if len(s.records) > 0 {
		batch := types.RecordBatch{Chain: app.relay.Chain(), Height: s.height, Records: s.records}
		v, err := cramberry.Marshal(&batch)
		if err != nil {
			return types.CommitResult{}, fmt.Errorf("app: encode records: %w", err)
		}
		changes = append(changes, store.Change{Key: recordKey(s.height), Value: v})
	}
	if err := app.db.WriteBatch(changes); err != nil {
		return types.CommitResult{}, fmt.Errorf("app: commit height %d: %w", s.height, err)
	}

	app.height, app.appHash, app.staged = s.height, s.appHash, nil

	retain := uint64(0)
	if app.retain > 0 && app.height > app.retain {
		retain = app.height - app.retain
	}
	return types.CommitResult{RetainHeight: retain, AppHash: app.appHash}, nil
}

// Simulate runs tx against committed state and discards the result.
// The sender's nonce is not checked.
func (app *App) Simulate(ctx context.Context, tx types.Tx) (types.TxOutcome, error) {
	app.mu.RLock()
	defer app.mu.RUnlock()
	if app.relay == nil {
		return types.TxOutcome{}, fmt.Errorf("app: Simulate before genesis")
	}
	cache := store.NewCache(app.db)
	defer cache.Discard()
	outcome, _ := app.executeTx(ctx, app.relay, cache, app.height+1, 0, tx, false)
	return outcome, nil
}

func recordKey(height uint64) []byte {
	return store.Key(recordPrefix, store.Uint64Key(height))
}
