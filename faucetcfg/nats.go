package faucetcfg

// Nats holds the options of the optional NATS event publisher.
//
//nolint:lll
type Nats struct {
	URL           string `long:"url" env:"NATS_URL" description:"URL of the NATS server events are published to. Empty disables publishing."`
	SubjectPrefix string `long:"subjectprefix" description:"Prefix of every published subject."`
}

// DefaultNats returns the default NATS options.
func DefaultNats() *Nats {
	return &Nats{
		SubjectPrefix: "faucet",
	}
}

// Enabled returns true if events are published.
func (n *Nats) Enabled() bool {
	return n.URL != ""
}
