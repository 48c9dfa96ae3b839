package faucetcfg

import (
	"errors"
	"time"
)

const (
	// DefaultSweepInterval is the default time between two lease sweeps.
	DefaultSweepInterval = 30 * time.Second

	// DefaultOpenTimeout is the default time a lease may stay opening.
	DefaultOpenTimeout = 30 * time.Minute

	// DefaultActivationTimeout is the default time a lease request waits
	// for the channel to become usable.
	DefaultActivationTimeout = time.Minute

	// DefaultLeaseDuration is the duration of a lease whose request does
	// not name one.
	DefaultLeaseDuration = 24 * time.Hour

	// DefaultMaxLeaseDuration is the default upper bound of a requested
	// lease duration.
	DefaultMaxLeaseDuration = 7 * 24 * time.Hour

	// DefaultHistorySize is the default number of finalized leases kept
	// for status queries.
	DefaultHistorySize = 1000

	defaultLeaseDBFilename = "leases.db"
)

// Lease holds the options of the lease lifecycle.
//
//nolint:lll
type Lease struct {
	SweepInterval     time.Duration `long:"sweepinterval" description:"Time between two sweeps over the in-flight leases."`
	OpenTimeout       time.Duration `long:"opentimeout" description:"Time after which a lease whose channel never became usable is given up."`
	ActivationTimeout time.Duration `long:"activationtimeout" description:"Time a lease request waits for its channel to become usable before it returns the lease as opening."`
	DefaultDuration   time.Duration `long:"defaultduration" description:"Duration of a lease whose request does not name one."`
	MinDuration       time.Duration `long:"minduration" description:"Shortest lease duration a request may ask for."`
	MaxDuration       time.Duration `long:"maxduration" description:"Longest lease duration a request may ask for."`
	MaxCapacity       int64         `long:"maxcapacity" description:"Largest channel capacity in satoshis a request may ask for. 0 limits requests to lnd.channelvalue."`
	HistorySize       int           `long:"historysize" description:"Number of finalized leases kept for status queries."`
	DBFile            string        `long:"dbfile" description:"File the in-flight leases are persisted to. Empty keeps them in memory only."`
}

// DefaultLease returns the default lease options.
func DefaultLease() *Lease {
	return &Lease{
		SweepInterval:     DefaultSweepInterval,
		OpenTimeout:       DefaultOpenTimeout,
		ActivationTimeout: DefaultActivationTimeout,
		DefaultDuration:   DefaultLeaseDuration,
		MinDuration:       time.Minute,
		MaxDuration:       DefaultMaxLeaseDuration,
		HistorySize:       DefaultHistorySize,
		DBFile:            defaultLeaseDBFilename,
	}
}

// Validate checks the lease options.
func (l *Lease) Validate() error {
	switch {
	case l.SweepInterval <= 0:
		return errors.New("lease: sweepinterval must be positive")

	case l.OpenTimeout <= 0:
		return errors.New("lease: opentimeout must be positive")

	case l.ActivationTimeout <= 0:
		return errors.New("lease: activationtimeout must be positive")

	case l.MinDuration <= 0 || l.MinDuration > l.MaxDuration:
		return errors.New("lease: minduration must be positive and " +
			"not above maxduration")

	case l.DefaultDuration < l.MinDuration ||
		l.DefaultDuration > l.MaxDuration:

		return errors.New("lease: defaultduration must be between " +
			"minduration and maxduration")

	case l.MaxCapacity < 0:
		return errors.New("lease: maxcapacity must not be negative")

	case l.HistorySize <= 0:
		return errors.New("lease: historysize must be positive")
	}

	return nil
}
