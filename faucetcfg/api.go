package faucetcfg

import (
	"errors"
	"time"
)

const (
	// DefaultListen is the default address of the HTTP API.
	DefaultListen = "0.0.0.0:8080"

	// DefaultMaxSendable is the default largest on-chain payment.
	DefaultMaxSendable = 1_000_000

	// DefaultMinSendable is the default smallest on-chain payment.
	DefaultMinSendable = 420

	// DefaultFeeReserve is the default amount kept aside for fees when
	// checking the balance before a spend.
	DefaultFeeReserve = 1_000
)

// API holds the options of the HTTP API.
//
//nolint:lll
type API struct {
	Listen       string        `long:"listen" env:"LISTEN" description:"Address the HTTP API listens on."`
	MaxSendable  int64         `long:"maxsendable" env:"MAX_SENDABLE_AMOUNT" description:"Largest on-chain payment in satoshis."`
	MinSendable  int64         `long:"minsendable" env:"MIN_SENDABLE_AMOUNT" description:"Smallest on-chain payment in satoshis."`
	FeeReserve   int64         `long:"feereserve" description:"Satoshis kept aside for fees when checking the balance before a spend."`
	ReadTimeout  time.Duration `long:"readtimeout" description:"Read timeout of HTTP requests."`
	WriteTimeout time.Duration `long:"writetimeout" description:"Write timeout of HTTP responses. Must exceed lease.activationtimeout."`
}

// DefaultAPI returns the default API options.
func DefaultAPI() *API {
	return &API{
		Listen:       DefaultListen,
		MaxSendable:  DefaultMaxSendable,
		MinSendable:  DefaultMinSendable,
		FeeReserve:   DefaultFeeReserve,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2 * time.Minute,
	}
}

// Validate checks the API options.
func (a *API) Validate() error {
	switch {
	case a.Listen == "":
		return errors.New("api: listen must be set")

	case a.MinSendable <= 0:
		return errors.New("api: minsendable must be positive")

	case a.MinSendable > a.MaxSendable:
		return errors.New("api: minsendable must not exceed " +
			"maxsendable")

	case a.FeeReserve < 0:
		return errors.New("api: feereserve must not be negative")
	}

	return nil
}
