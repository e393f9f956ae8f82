// Package config loads the relay daemon configuration from flags,
// RELAYD_* environment variables and a YAML config file, in that order
// of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/blockberries/relay/app"
	"github.com/blockberries/relay/logging"
	"github.com/blockberries/relay/types"
)

const (
	ConfigFileKey     = "config-file"
	DataDirKey        = "data-dir"
	LogLevelKey       = "log-level"
	LogFormatKey      = "log-format"
	MetricsAddrKey    = "metrics-addr"
	ListenKey         = "listen"
	ChainIDKey        = "chain-id"
	GenesisKey        = "genesis"
	ChainsKey         = "devnet-chains"
	RelayAddressKey   = "relay-address"
	GovernorKey       = "governor"
	BlockIntervalKey  = "block-interval"
	OutboxKey         = "relayer.outbox"
	PollIntervalKey   = "relayer.poll-interval"
	RetryAfterKey     = "relayer.retry-after"
	MaxAttemptsKey    = "relayer.max-attempts"
	InMemoryKey       = "in-memory"
	envPrefix         = "RELAYD"
	defaultRelayAddr  = "0x00000000000000000000000000000000000000aa"
	defaultGovernor   = "0x0000000000000000000000000000000000000001"
	defaultOutboxName = "outbox.db"
)

var errNoChains = errors.New("config: at least one chain is required")

// ChainConfig describes one chain hosted by the daemon.
type ChainConfig struct {
	ID string `yaml:"id" mapstructure:"id"`
	// Genesis is a path to a YAML genesis state. Empty uses the default
	// genesis, with every other configured chain as a fee-free peer.
	Genesis string `yaml:"genesis,omitempty" mapstructure:"genesis"`
	// Listen is the gRPC address the chain's application is served on.
	Listen string `yaml:"listen,omitempty" mapstructure:"listen"`
}

// RelayerConfig tunes the relayer run by the devnet.
type RelayerConfig struct {
	Outbox       string        `yaml:"outbox" mapstructure:"outbox"`
	PollInterval time.Duration `yaml:"poll-interval" mapstructure:"poll-interval"`
	RetryAfter   time.Duration `yaml:"retry-after" mapstructure:"retry-after"`
	MaxAttempts  int           `yaml:"max-attempts" mapstructure:"max-attempts"`
}

// Config is the daemon configuration.
type Config struct {
	DataDir       string        `yaml:"data-dir" mapstructure:"data-dir"`
	InMemory      bool          `yaml:"in-memory" mapstructure:"in-memory"`
	LogLevel      string        `yaml:"log-level" mapstructure:"log-level"`
	LogFormat     string        `yaml:"log-format" mapstructure:"log-format"`
	MetricsAddr   string        `yaml:"metrics-addr,omitempty" mapstructure:"metrics-addr"`
	RelayAddress  string        `yaml:"relay-address" mapstructure:"relay-address"`
	Governor      string        `yaml:"governor" mapstructure:"governor"`
	BlockInterval time.Duration `yaml:"block-interval" mapstructure:"block-interval"`
	Chains        []ChainConfig `yaml:"chains" mapstructure:"chains"`
	Relayer       RelayerConfig `yaml:"relayer" mapstructure:"relayer"`
}

// AddFlags registers the daemon flags on fs.
func AddFlags(fs *pflag.FlagSet) {
	fs.String(ConfigFileKey, "", "Path to a YAML config file")
	fs.String(DataDirKey, "./data", "Directory holding chain state and the relayer outbox")
	fs.Bool(InMemoryKey, false, "Keep chain state in memory instead of LevelDB")
	fs.String(LogLevelKey, "info", "Log level (debug, info, warn, error)")
	fs.String(LogFormatKey, string(logging.Console), "Log encoding (console, json)")
	fs.String(MetricsAddrKey, "", "Address to expose prometheus metrics on; empty disables")
	fs.String(ListenKey, "127.0.0.1:26658", "gRPC listen address of a single served chain")
	fs.String(ChainIDKey, "", "Chain ID of a single served chain")
	fs.String(GenesisKey, "", "Genesis state file of a single served chain")
	fs.StringSlice(ChainsKey, nil, "Chain IDs of the devnet")
	fs.String(RelayAddressKey, defaultRelayAddr, "Relay address used by default genesis")
	fs.String(GovernorKey, defaultGovernor, "Governor and operator used by default genesis")
	fs.Duration(BlockIntervalKey, 500*time.Millisecond, "Devnet block interval")
	fs.String(OutboxKey, "", "Relayer outbox path (default <data-dir>/outbox.db)")
	fs.Duration(PollIntervalKey, 200*time.Millisecond, "Relayer delivery poll interval")
	fs.Duration(RetryAfterKey, 30*time.Second, "Relayer resubmission delay for unacknowledged deliveries")
	fs.Int(MaxAttemptsKey, 10, "Relayer submissions per delivery before giving up")
}

// NewViper binds fs, the environment and the config file named by
// --config-file.
func NewViper(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if path := v.GetString(ConfigFileKey); path != "" {
		v.SetConfigFile(os.ExpandEnv(path))
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	return v, nil
}

// FromViper builds and validates the configuration held by v. A chain
// named by --chain-id is served alongside the configured chain list.
func FromViper(v *viper.Viper) (Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("config: %w", err)
	}
	c.DataDir = os.ExpandEnv(c.DataDir)

	if len(c.Chains) == 0 {
		for _, id := range v.GetStringSlice(ChainsKey) {
			c.Chains = append(c.Chains, ChainConfig{ID: id})
		}
	}
	if id := v.GetString(ChainIDKey); id != "" {
		c.Chains = append([]ChainConfig{{
			ID:      id,
			Genesis: v.GetString(GenesisKey),
			Listen:  v.GetString(ListenKey),
		}}, c.Chains...)
	}
	if c.Relayer.Outbox == "" {
		c.Relayer.Outbox = filepath.Join(c.DataDir, defaultOutboxName)
	}
	return c, c.Validate()
}

// Validate checks the configuration for mistakes that would only show
// up once the daemon runs.
func (c Config) Validate() error {
	if len(c.Chains) == 0 {
		return errNoChains
	}
	seen := make(map[string]struct{}, len(c.Chains))
	for _, ch := range c.Chains {
		if ch.ID == "" {
			return errors.New("config: chain with empty id")
		}
		if _, dup := seen[ch.ID]; dup {
			return fmt.Errorf("config: chain %q listed twice", ch.ID)
		}
		seen[ch.ID] = struct{}{}
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch logging.Format(c.LogFormat) {
	case logging.Console, logging.JSON:
	default:
		return fmt.Errorf("config: unknown log format %q", c.LogFormat)
	}
	for name, addr := range map[string]string{RelayAddressKey: c.RelayAddress, GovernorKey: c.Governor} {
		if !types.IsHexAddress(addr) {
			return fmt.Errorf("config: %s %q is not an address", name, addr)
		}
	}
	if c.BlockInterval <= 0 || c.Relayer.PollInterval <= 0 || c.Relayer.RetryAfter <= 0 {
		return errors.New("config: intervals must be positive")
	}
	if c.Relayer.MaxAttempts <= 0 {
		return errors.New("config: relayer max attempts must be positive")
	}
	return nil
}

// Logging returns the logger configuration.
func (c Config) Logging() logging.Config {
	return logging.Config{Level: c.LogLevel, Format: logging.Format(c.LogFormat), Name: "relayd"}
}

// ChainIDs lists the configured chains in order.
func (c Config) ChainIDs() []types.ChainID {
	ids := make([]types.ChainID, len(c.Chains))
	for i, ch := range c.Chains {
		ids[i] = types.ChainID(ch.ID)
	}
	return ids
}

// Genesis loads the genesis state of chain. Without a genesis file the
// chain gets the default genesis peered with every other chain.
func (c Config) Genesis(chain ChainConfig) (app.GenesisState, error) {
	if chain.Genesis != "" {
		raw, err := os.ReadFile(chain.Genesis)
		if err != nil {
			return app.GenesisState{}, fmt.Errorf("config: genesis of %s: %w", chain.ID, err)
		}
		return app.ParseGenesis(raw)
	}
	var peers []types.ChainID
	for _, id := range c.ChainIDs() {
		if id != types.ChainID(chain.ID) {
			peers = append(peers, id)
		}
	}
	return app.DefaultGenesis(types.HexToAddress(c.RelayAddress), types.HexToAddress(c.Governor), peers...), nil
}

// YAML renders the configuration as a config file.
func (c Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
