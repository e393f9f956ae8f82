package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/blockberries/relay/types"
)

func load(t *testing.T, args ...string) (Config, error) {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	AddFlags(fs)
	require.NoError(t, fs.Parse(args))
	v, err := NewViper(fs)
	require.NoError(t, err)
	return FromViper(v)
}

func TestFromViper_Flags(t *testing.T) {
	c, err := load(t, "--devnet-chains=chain-a,chain-b", "--data-dir=/tmp/relay", "--block-interval=1s")
	require.NoError(t, err)
	require.Equal(t, []types.ChainID{"chain-a", "chain-b"}, c.ChainIDs())
	require.Equal(t, time.Second, c.BlockInterval)
	require.Equal(t, filepath.Join("/tmp/relay", "outbox.db"), c.Relayer.Outbox)
	require.Equal(t, 10, c.Relayer.MaxAttempts)
	require.Equal(t, 30*time.Second, c.Relayer.RetryAfter)
	require.Equal(t, "info", c.Logging().Level)
}

func TestFromViper_SingleChain(t *testing.T) {
	c, err := load(t, "--chain-id=chain-a", "--listen=127.0.0.1:9000", "--genesis=g.yaml")
	require.NoError(t, err)
	require.Equal(t, []ChainConfig{{ID: "chain-a", Genesis: "g.yaml", Listen: "127.0.0.1:9000"}}, c.Chains)
}

func TestFromViper_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relayd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data-dir: /var/relay
log-format: json
block-interval: 2s
chains:
  - id: chain-a
    listen: 127.0.0.1:9001
  - id: chain-b
relayer:
  retry-after: 1m
  max-attempts: 3
`), 0o600))

	c, err := load(t, "--config-file="+path, "--log-level=debug")
	require.NoError(t, err)
	require.Equal(t, "/var/relay", c.DataDir)
	require.Equal(t, "json", c.LogFormat)
	require.Equal(t, "debug", c.LogLevel)
	require.Equal(t, 2*time.Second, c.BlockInterval)
	require.Equal(t, []ChainConfig{{ID: "chain-a", Listen: "127.0.0.1:9001"}, {ID: "chain-b"}}, c.Chains)
	require.Equal(t, time.Minute, c.Relayer.RetryAfter)
	require.Equal(t, 3, c.Relayer.MaxAttempts)
	// Defaults still apply to keys the file leaves out.
	require.Equal(t, 200*time.Millisecond, c.Relayer.PollInterval)
}

func TestFromViper_Env(t *testing.T) {
	t.Setenv("RELAYD_LOG_LEVEL", "warn")
	c, err := load(t, "--devnet-chains=chain-a")
	require.NoError(t, err)
	require.Equal(t, "warn", c.LogLevel)
}

func TestValidate(t *testing.T) {
	tests := map[string][]string{
		"no chains":       nil,
		"duplicate chain": {"--devnet-chains=a,a"},
		"bad level":       {"--devnet-chains=a", "--log-level=loud"},
		"bad format":      {"--devnet-chains=a", "--log-format=xml"},
		"bad governor":    {"--devnet-chains=a", "--governor=alice"},
		"zero interval":   {"--devnet-chains=a", "--block-interval=0s"},
		"no attempts":     {"--devnet-chains=a", "--relayer.max-attempts=0"},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := load(t, args...)
			require.Error(t, err)
		})
	}
}

func TestGenesis_DefaultPeers(t *testing.T) {
	c, err := load(t, "--devnet-chains=chain-a,chain-b,chain-c")
	require.NoError(t, err)

	g, err := c.Genesis(c.Chains[1])
	require.NoError(t, err)
	require.Equal(t, types.HexToAddress(c.Governor).Hex(), g.Governor)
	require.Len(t, g.DefaultFees, 2)
	require.Equal(t, "chain-a", g.DefaultFees[0].Chain)
	require.Equal(t, "chain-c", g.DefaultFees[1].Chain)

	_, err = c.Genesis(ChainConfig{ID: "chain-a", Genesis: filepath.Join(t.TempDir(), "missing.yaml")})
	require.Error(t, err)
}

func TestYAML(t *testing.T) {
	c, err := load(t, "--devnet-chains=chain-a")
	require.NoError(t, err)
	out, err := c.YAML()
	require.NoError(t, err)
	require.Contains(t, string(out), "id: chain-a")
	require.Contains(t, string(out), "block-interval: 500ms")
}
