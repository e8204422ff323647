package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaultWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:8545", cfg.RPCAddress)
	require.Equal(t, "info", cfg.Log.Level)
	require.EqualValues(t, 4, cfg.Lending.Rounds)
	require.EqualValues(t, 500, cfg.Lending.InterestBps)
	require.EqualValues(t, 100, cfg.Donation.FeeBps)

	// The default file must be written alongside, and reloadable.
	_, err = os.Stat(path)
	require.NoError(t, err)
	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.RPCAddress, reloaded.RPCAddress)
}

func TestLoadParsesAndDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
RPCAddress = "0.0.0.0:9000"
RPCAuthToken = "sekrit"
GenesisFile = "genesis.yaml"

[log]
Level = "debug"
File = "node.log"

[donation]
FeeBps = 250
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:9000", cfg.RPCAddress)
	require.Equal(t, "sekrit", cfg.RPCAuthToken)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, 100, cfg.Log.MaxSizeMB)
	require.EqualValues(t, 250, cfg.Donation.FeeBps)
	require.Equal(t, filepath.Join(filepath.Dir(path), "data"), cfg.DataDir)
}

func TestValidateRejectsBadValues(t *testing.T) {
	writeAndLoad := func(body string) error {
		path := filepath.Join(t.TempDir(), "config.toml")
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
		_, err := Load(path)
		return err
	}
	require.Error(t, writeAndLoad("[log]\nLevel = \"loud\"\n"))
	require.Error(t, writeAndLoad("[donation]\nFeeBps = 2000\n"))
	require.Error(t, writeAndLoad("[lending]\nInterestBps = 20000\n"))
}
