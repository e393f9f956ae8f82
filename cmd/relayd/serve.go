package main

import (
	"errors"
	"net"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/blockberries/relay/app"
	relaygrpc "github.com/blockberries/relay/grpc"
	"github.com/blockberries/relay/server"
)

var errServeOneChain = errors.New("serve hosts exactly one chain; set --chain-id")

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve one chain's relay application to an engine over gRPC",
		Long: `Serve hosts the relay application of the chain named by --chain-id.
The engine connects to --listen and drives the block lifecycle, starting
with a handshake that carries the genesis document on a fresh chain.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
}

func runServe(c *cobra.Command, _ []string) error {
	cfg, log, err := load(c)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	if len(cfg.Chains) != 1 {
		return errServeOneChain
	}
	chain := cfg.Chains[0]

	db, err := openStore(cfg, chain.ID)
	if err != nil {
		return err
	}
	defer db.Close()

	clog := log.With(zap.String("chain", chain.ID))
	a, err := app.New(db, app.WithLogger(clog))
	if err != nil {
		return err
	}
	reg := newRegistry()
	gsrv, err := relaygrpc.NewGRPCServer(a, clog, server.WithRegisterer("relay", reg))
	if err != nil {
		return err
	}
	defer gsrv.Server().Close()

	lis, err := net.Listen("tcp", chain.Listen)
	if err != nil {
		return err
	}
	gs := gsrv.NewServer()

	g, ctx := errgroup.WithContext(c.Context())
	g.Go(func() error { return gs.Serve(lis) })
	g.Go(func() error {
		<-ctx.Done()
		gs.GracefulStop()
		return nil
	})
	if cfg.MetricsAddr != "" {
		g.Go(func() error { return serveMetrics(ctx, cfg.MetricsAddr, reg, log) })
	}
	clog.Info("serving",
		zap.String("listen", lis.Addr().String()),
		zap.Uint64("height", a.Height()),
	)
	return g.Wait()
}
