package faucetcfg

import (
	"errors"
)

const (
	// DefaultChannelValue is the default capacity of a leased channel.
	DefaultChannelValue = 1_000_000

	// DefaultPushMsat is the default amount pushed to the peer on every
	// leased channel.
	DefaultPushMsat = 1_000_000

	defaultLndHost = "localhost:10009"
)

// Lnd holds the options of the connection to lnd. Channel leasing is only
// offered when it is active.
//
//nolint:lll
type Lnd struct {
	Active       bool   `long:"active" description:"Enable channel leasing through lnd. lnd's wallet is then used for on-chain sends too."`
	Host         string `long:"rpchost" env:"LND_RPCHOST" description:"host:port of lnd's gRPC interface."`
	TLSCertPath  string `long:"tlscertpath" env:"LND_TLSCERTPATH" description:"Path to lnd's TLS certificate."`
	MacaroonPath string `long:"macaroonpath" env:"LND_MACAROONPATH" description:"Path to the macaroon used to authenticate with lnd."`
	ChannelValue int64  `long:"channelvalue" env:"CHANNEL_VALUE" description:"Default capacity in satoshis of a leased channel."`
	PushMsat     int64  `long:"pushmsat" env:"PUSH_VALUE" description:"Amount in millisatoshis pushed to the peer when a leased channel is opened."`
	MinConfs     int32  `long:"minconfs" description:"Confirmations required on outputs funding a channel. 0 allows unconfirmed outputs."`
	TargetConf   int32  `long:"targetconf" description:"Confirmation target for sends and channel funding. 0 leaves it to lnd."`
	Private      bool   `long:"private" description:"Open unannounced channels."`
}

// DefaultLnd returns the default lnd options.
func DefaultLnd() *Lnd {
	return &Lnd{
		Host:         defaultLndHost,
		ChannelValue: DefaultChannelValue,
		PushMsat:     DefaultPushMsat,
	}
}

// PushSat returns the push amount rounded down to whole satoshis.
func (l *Lnd) PushSat() int64 {
	return l.PushMsat / 1000
}

// Validate checks the lnd options.
func (l *Lnd) Validate() error {
	if !l.Active {
		return nil
	}

	switch {
	case l.Host == "":
		return errors.New("lnd: rpchost must be set")

	case l.TLSCertPath == "" || l.MacaroonPath == "":
		return errors.New("lnd: tlscertpath and macaroonpath must " +
			"be set")

	case l.ChannelValue <= 0:
		return errors.New("lnd: channelvalue must be positive")

	case l.PushMsat < 0 || l.PushSat() >= l.ChannelValue:
		return errors.New("lnd: push amount must be below the " +
			"channel value")

	case l.MinConfs < 0:
		return errors.New("lnd: minconfs must not be negative")
	}

	return nil
}
