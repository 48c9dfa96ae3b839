package faucetcfg

import (
	"errors"
	"time"
)

// HealthCheck holds the options of the node health checks. A failing check
// shuts the daemon down once all attempts are used up.
//
//nolint:lll
type HealthCheck struct {
	Interval time.Duration `long:"interval" description:"How often the nodes are checked."`
	Timeout  time.Duration `long:"timeout" description:"Time a single check may take."`
	Backoff  time.Duration `long:"backoff" description:"Time between two attempts of a failing check."`
	Attempts int           `long:"attempts" description:"Attempts before the daemon shuts down. 0 disables the checks."`
}

// DefaultHealthCheck returns the default health check options.
func DefaultHealthCheck() *HealthCheck {
	return &HealthCheck{
		Interval: time.Minute,
		Timeout:  10 * time.Second,
		Backoff:  30 * time.Second,
		Attempts: 3,
	}
}

// Validate checks the health check options.
func (h *HealthCheck) Validate() error {
	if h.Attempts == 0 {
		return nil
	}

	if h.Interval <= 0 || h.Timeout <= 0 || h.Backoff <= 0 {
		return errors.New("healthcheck: interval, timeout and backoff " +
			"must be positive")
	}

	return nil
}
