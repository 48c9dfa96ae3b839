package faucet

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"
)

// testConfig returns a valid config that keeps all files below a temporary
// directory.
func testConfig(t *testing.T) Config {
	t.Helper()

	dir := t.TempDir()

	cfg := DefaultConfig()
	cfg.FaucetDir = dir
	cfg.Bitcoind.CookieFile = filepath.Join(dir, ".cookie")
	cfg.LogConfig.File.Disable = true

	return cfg
}

func testChangeAddress(t *testing.T, params *chaincfg.Params) string {
	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		make([]byte, 20), params,
	)
	require.NoError(t, err)

	return addr.EncodeAddress()
}

// TestValidateConfigPaths checks the directories follow the faucet directory
// and the lease database lands in the network's data directory.
func TestValidateConfigPaths(t *testing.T) {
	cfg := testConfig(t)
	dir := cfg.FaucetDir

	clean, err := ValidateConfig(cfg, "")
	require.NoError(t, err)

	require.Equal(t, &chaincfg.SigNetParams, clean.ActiveNetParams)
	require.Equal(t, filepath.Join(dir, "data", "signet"), clean.DataDir)
	require.Equal(t, filepath.Join(dir, "logs", "signet"), clean.LogDir)
	require.DirExists(t, clean.DataDir)
	require.Equal(t,
		filepath.Join(clean.DataDir, DefaultConfig().Lease.DBFile),
		clean.Lease.DBFile,
	)
	require.NotNil(t, clean.SubLogMgr)
	require.Contains(t, clean.SubLogMgr.SupportedSubsystems(), "LEAS")
}

// TestValidateConfigErrors checks inconsistent options are rejected.
func TestValidateConfigErrors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(cfg *Config)
	}{{
		name: "no bitcoind credentials",
		modify: func(cfg *Config) {
			cfg.Bitcoind.CookieFile = ""
		},
	}, {
		name: "change address for another network",
		modify: func(cfg *Config) {
			cfg.Bitcoind.SendMode = "manual"
			cfg.Bitcoind.ChangeAddress = testChangeAddress(
				t, &chaincfg.MainNetParams,
			)
		},
	}, {
		name: "min above max",
		modify: func(cfg *Config) {
			cfg.API.MinSendable = cfg.API.MaxSendable + 1
		},
	}, {
		name: "zero sweep interval",
		modify: func(cfg *Config) {
			cfg.Lease.SweepInterval = 0
		},
	}, {
		name: "lnd without credentials",
		modify: func(cfg *Config) {
			cfg.Lnd.Active = true
		},
	}, {
		name: "write timeout below activation timeout",
		modify: func(cfg *Config) {
			cfg.Lnd.Active = true
			cfg.Lnd.TLSCertPath = "tls.cert"
			cfg.Lnd.MacaroonPath = "admin.macaroon"
			cfg.API.WriteTimeout = time.Second
		},
	}, {
		name: "max capacity below channel value",
		modify: func(cfg *Config) {
			cfg.Lnd.Active = true
			cfg.Lnd.TLSCertPath = "tls.cert"
			cfg.Lnd.MacaroonPath = "admin.macaroon"
			cfg.Lease.MaxCapacity = cfg.Lnd.ChannelValue - 1
		},
	}, {
		name: "unknown network",
		modify: func(cfg *Config) {
			cfg.Network = "litecoin"
		},
	}, {
		name: "bad debug level",
		modify: func(cfg *Config) {
			cfg.DebugLevel = "loud"
		},
	}}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := testConfig(t)
			test.modify(&cfg)

			_, err := ValidateConfig(cfg, "")
			require.Error(t, err)
		})
	}
}

// TestValidateConfigLightning checks bitcoind is not required once lnd
// provides the wallet, and manual mode accepts an address of the network.
func TestValidateConfigLightning(t *testing.T) {
	cfg := testConfig(t)
	cfg.Bitcoind.CookieFile = ""
	cfg.Lnd.Active = true
	cfg.Lnd.TLSCertPath = "~/tls.cert"
	cfg.Lnd.MacaroonPath = "$HOME/admin.macaroon"

	clean, err := ValidateConfig(cfg, "")
	require.NoError(t, err)
	require.True(t, filepath.IsAbs(clean.Lnd.TLSCertPath))
	require.NotContains(t, clean.Lnd.MacaroonPath, "$HOME")

	cfg = testConfig(t)
	cfg.Bitcoind.SendMode = "manual"
	cfg.Bitcoind.ChangeAddress = testChangeAddress(
		t, &chaincfg.SigNetParams,
	)
	_, err = ValidateConfig(cfg, "")
	require.NoError(t, err)
}

// TestPingAll checks node failures are reported with the node's name.
func TestPingAll(t *testing.T) {
	t.Parallel()

	errDown := errors.New("connection refused")
	pingers := []pinger{
		{name: "bitcoind", ping: func(context.Context) error {
			return nil
		}},
	}
	require.NoError(t, pingAll(context.Background(), pingers))

	pingers = append(pingers, pinger{
		name: "lnd",
		ping: func(context.Context) error {
			return errDown
		},
	})
	err := pingAll(context.Background(), pingers)
	require.ErrorIs(t, err, errDown)
	require.Contains(t, err.Error(), "lnd")
}
