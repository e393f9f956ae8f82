package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blockberries/relay/app"
	"github.com/blockberries/relay/config"
	"github.com/blockberries/relay/types"
)

func genesisCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "genesis [peer-chain...]",
		Short: "Print a default genesis state",
		Long: `Genesis prints the YAML application state of a fresh chain: the relay
address, the governor as sole operator, and a zero fee rule for every
peer chain given as an argument.`,
		RunE: func(c *cobra.Command, args []string) error {
			v, err := config.NewViper(c.Flags())
			if err != nil {
				return err
			}
			relayAddr, governor := v.GetString(config.RelayAddressKey), v.GetString(config.GovernorKey)
			for _, addr := range []string{relayAddr, governor} {
				if !types.IsHexAddress(addr) {
					return fmt.Errorf("%q is not an address", addr)
				}
			}
			peers := make([]types.ChainID, len(args))
			for i, p := range args {
				peers[i] = types.ChainID(p)
			}
			out, err := app.DefaultGenesis(types.HexToAddress(relayAddr), types.HexToAddress(governor), peers...).Marshal()
			if err != nil {
				return err
			}
			_, err = c.OutOrStdout().Write(out)
			return err
		},
	}
}

func configCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration as a config file",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			cfg, _, err := load(c)
			if err != nil {
				return err
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = c.OutOrStdout().Write(out)
			return err
		},
	}
}
