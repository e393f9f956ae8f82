// relayd hosts relay applications. It serves a single chain to an
// external engine over gRPC, or runs a self-contained devnet of several
// chains joined by a relayer.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/blockberries/relay/config"
	"github.com/blockberries/relay/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "relayd",
		Short:         "Cross-chain call relay daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.AddFlags(root.PersistentFlags())
	root.AddCommand(
		serveCommand(),
		devnetCommand(),
		genesisCommand(),
		configCommand(),
	)
	return root
}

// load resolves the configuration of c and builds the logger it names.
func load(c *cobra.Command) (config.Config, *zap.Logger, error) {
	v, err := config.NewViper(c.Flags())
	if err != nil {
		return config.Config{}, nil, err
	}
	cfg, err := config.FromViper(v)
	if err != nil {
		return cfg, nil, err
	}
	log, err := logging.New(cfg.Logging())
	if err != nil {
		return cfg, nil, err
	}
	return cfg, log, nil
}
