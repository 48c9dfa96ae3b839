// Package faucetcfg holds the option groups of the faucet daemon's
// configuration.
package faucetcfg

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const (
	// DefaultBitcoindURL points at a local signet bitcoind.
	DefaultBitcoindURL = "http://localhost:38332"

	// DefaultManualFee is the fee paid by payments built in manual send
	// mode.
	DefaultManualFee = 1_000
)

// Bitcoind holds the options of the connection to bitcoind.
//
//nolint:lll
type Bitcoind struct {
	URL           string `long:"url" env:"BITCOIND_URL" description:"URL of the bitcoind JSON-RPC interface."`
	User          string `long:"rpcuser" env:"BITCOIND_RPCUSER" description:"Username for RPC connections."`
	Pass          string `long:"rpcpass" env:"BITCOIND_RPCPASS" default-mask:"-" description:"Password for RPC connections."`
	CookieFile    string `long:"rpccookie" env:"BITCOIND_COOKIE_FILE" description:"Authentication cookie file for RPC connections. Takes precedence over rpcuser and rpcpass."`
	SendMode      string `long:"sendmode" choice:"wallet" choice:"manual" description:"How payments are built: 'wallet' lets bitcoind select coins, 'manual' selects coins with a fixed fee and sends the change to changeaddress."`
	ChangeAddress string `long:"changeaddress" env:"CHANGE_ADDRESS" description:"Address receiving the change in manual send mode."`
	Fee           int64  `long:"fee" description:"Fee in satoshis paid by payments built in manual send mode."`
}

// DefaultBitcoind returns the default bitcoind options.
func DefaultBitcoind() *Bitcoind {
	return &Bitcoind{
		URL:      DefaultBitcoindURL,
		SendMode: "wallet",
		Fee:      DefaultManualFee,
	}
}

// Validate checks the bitcoind options.
func (b *Bitcoind) Validate() error {
	if _, err := b.HostPort(); err != nil {
		return err
	}

	if b.CookieFile == "" && (b.User == "" || b.Pass == "") {
		return errors.New("bitcoind: either rpccookie or rpcuser " +
			"and rpcpass must be set")
	}

	if b.SendMode == "manual" {
		if b.ChangeAddress == "" {
			return errors.New("bitcoind: manual send mode " +
				"requires a change address")
		}
		if b.Fee <= 0 {
			return errors.New("bitcoind: fee must be positive")
		}
	}

	return nil
}

// HostPort returns the host:port the JSON-RPC client dials. The URL may be
// given with or without a scheme.
func (b *Bitcoind) HostPort() (string, error) {
	raw := b.URL
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("bitcoind: invalid url %q: %w", b.URL,
			err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("bitcoind: invalid url %q", b.URL)
	}

	return u.Host, nil
}
