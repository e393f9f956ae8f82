package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/blockberries/relay"
	"github.com/blockberries/relay/app"
	"github.com/blockberries/relay/config"
	"github.com/blockberries/relay/devnet"
	"github.com/blockberries/relay/example/bridge"
	"github.com/blockberries/relay/example/counter"
	"github.com/blockberries/relay/local"
	"github.com/blockberries/relay/relayer"
	"github.com/blockberries/relay/server"
	"github.com/blockberries/relay/store"
	"github.com/blockberries/relay/types"
)

// Every devnet chain deploys the example endpoints at the same
// addresses.
var (
	counterAddress = types.HexToAddress("0x00000000000000000000000000000000000000c0")
	vaultAddress   = types.HexToAddress("0x00000000000000000000000000000000000000b0")
	vaultAsset     = types.HexToAddress("0x00000000000000000000000000000000000000fe")
)

func devnetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "devnet",
		Short: "Run a local network of relay chains and a relayer",
		Long: `Devnet runs one single-node chain per --devnet-chains entry (or per
chains entry of the config file) and a relayer carrying calls between
them. The governor is the relayer's operator. Each chain hosts a counter
endpoint at ` + counterAddress.Hex() + ` and a bridge vault at ` + vaultAddress.Hex() + `.`,
		Args: cobra.NoArgs,
		RunE: runDevnet,
	}
}

// endpoints returns the example endpoints deployed on chain.
func endpoints(cfg config.Config, chain types.ChainID) relay.Endpoints {
	peers := make(map[types.ChainID]types.Address)
	for _, id := range cfg.ChainIDs() {
		if id != chain {
			peers[id] = vaultAddress
		}
	}
	return relay.Endpoints{
		counterAddress: counter.Counter{},
		vaultAddress:   &bridge.Vault{Address: vaultAddress, Asset: vaultAsset, AppID: 1, Peers: peers},
	}
}

type devnetChain struct {
	node *devnet.Node
	conn *local.Connection
	db   store.Backend
}

func (d *devnetChain) close() {
	_ = d.conn.Close()
	_ = d.db.Close()
}

func startChain(ctx context.Context, cfg config.Config, ch config.ChainConfig, reg prometheus.Registerer, log *zap.Logger) (*devnetChain, error) {
	id := types.ChainID(ch.ID)
	clog := log.With(zap.String("chain", ch.ID))
	creg := prometheus.WrapRegistererWith(prometheus.Labels{"chain": ch.ID}, reg)

	db, err := openStore(cfg, ch.ID)
	if err != nil {
		return nil, err
	}
	a, err := app.New(db, app.WithLogger(clog), app.WithEndpoints(endpoints(cfg, id)))
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	conn, err := local.NewConnection(a, server.WithLogger(clog), server.WithRegisterer("relay", creg))
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	d := &devnetChain{conn: conn, db: db}
	d.node, err = devnet.New(conn, devnet.WithLogger(clog), devnet.WithRegisterer("devnet", creg))
	if err != nil {
		d.close()
		return nil, err
	}

	if existing := a.Chain(); existing != "" {
		if existing != id {
			d.close()
			return nil, fmt.Errorf("state under %s belongs to %s, not %s", cfg.DataDir, existing, id)
		}
		_, err = d.node.Resume(ctx, id, types.BlockID{Height: a.Height()})
	} else {
		var doc types.GenesisDoc
		doc, err = genesisDoc(cfg, ch)
		if err == nil {
			_, err = d.node.Start(ctx, types.HandshakeRequest{Genesis: &doc})
		}
	}
	if err != nil {
		d.close()
		return nil, err
	}
	return d, nil
}

func genesisDoc(cfg config.Config, ch config.ChainConfig) (types.GenesisDoc, error) {
	g, err := cfg.Genesis(ch)
	if err != nil {
		return types.GenesisDoc{}, err
	}
	state, err := g.Marshal()
	if err != nil {
		return types.GenesisDoc{}, err
	}
	return types.GenesisDoc{
		ChainID:       types.ChainID(ch.ID),
		GenesisTime:   types.TimeToTimestamp(time.Now()),
		InitialHeight: 1,
		AppState:      state,
	}, nil
}

func openOutbox(ctx context.Context, cfg config.Config) (*relayer.Outbox, error) {
	if cfg.InMemory {
		return relayer.OpenOutbox(ctx, ":memory:")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Relayer.Outbox), 0o755); err != nil {
		return nil, err
	}
	return relayer.OpenOutbox(ctx, cfg.Relayer.Outbox)
}

func runDevnet(c *cobra.Command, _ []string) error {
	cfg, log, err := load(c)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	ctx := c.Context()
	reg := newRegistry()

	var (
		nodes  []*devnet.Node
		chains []relayer.Chain
	)
	for _, ch := range cfg.Chains {
		d, err := startChain(ctx, cfg, ch, reg, log)
		if err != nil {
			return fmt.Errorf("chain %s: %w", ch.ID, err)
		}
		defer d.close()
		nodes = append(nodes, d.node)
		chains = append(chains, relayer.Chain{
			ID:      types.ChainID(ch.ID),
			Records: d.conn,
			State:   d.conn,
			Submit:  d.node,
		})
	}

	outbox, err := openOutbox(ctx, cfg)
	if err != nil {
		return err
	}
	defer outbox.Close()

	rcfg := relayer.DefaultConfig(types.HexToAddress(cfg.Governor))
	rcfg.PollInterval = cfg.Relayer.PollInterval
	rcfg.RetryAfter = cfg.Relayer.RetryAfter
	rcfg.MaxAttempts = cfg.Relayer.MaxAttempts
	r, err := relayer.New(rcfg, outbox, chains,
		relayer.WithLogger(log),
		relayer.WithRegisterer("relayer", reg),
	)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, n := range nodes {
		g.Go(func() error { return n.Run(gctx, cfg.BlockInterval) })
	}
	g.Go(func() error { return r.Run(gctx) })
	if cfg.MetricsAddr != "" {
		g.Go(func() error { return serveMetrics(gctx, cfg.MetricsAddr, reg, log) })
	}
	log.Info("devnet running",
		zap.Strings("chains", chainNames(cfg)),
		zap.Duration("block_interval", cfg.BlockInterval),
		zap.String("outbox", cfg.Relayer.Outbox),
	)
	return g.Wait()
}

func chainNames(cfg config.Config) []string {
	names := make([]string, len(cfg.Chains))
	for i, ch := range cfg.Chains {
		names[i] = ch.ID
	}
	return names
}
