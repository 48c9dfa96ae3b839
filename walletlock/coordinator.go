// Package walletlock serializes every operation that consumes the node's
// spendable balance. The balance check and the spend that follows it are two
// separate RPCs, so without a single owner two requests can both observe
// enough funds and then race for the same coins.
package walletlock

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"golang.org/x/sync/semaphore"
)

// Config holds the optional instrumentation hooks of the coordinator.
type Config struct {
	// Clock is used to measure how long callers wait for the handle. It
	// defaults to the system clock.
	Clock clock.Clock

	// ObserveWait, if set, is called with the time every successful
	// acquisition spent waiting.
	ObserveWait func(purpose string, wait time.Duration)

	// OnAcquire and OnRelease, if set, are called while the handle is
	// held, right after acquisition and right before release.
	OnAcquire func(purpose string)
	OnRelease func(purpose string)
}

// Coordinator hands out a single exclusive wallet handle at a time. Waiters
// are served in arrival order, so no caller can be starved.
type Coordinator struct {
	cfg Config

	// sem is a weighted semaphore of size one. Unlike sync.Mutex it
	// serves waiters in FIFO order and lets a waiter give up when its
	// context is cancelled.
	sem *semaphore.Weighted

	// holders is the number of live handles. It is only ever 0 or 1 and
	// exists so tests and the debug log can check that.
	holders atomic.Int32
}

// New creates a new wallet coordinator.
func New(cfg *Config) *Coordinator {
	c := &Coordinator{
		sem: semaphore.NewWeighted(1),
	}
	if cfg != nil {
		c.cfg = *cfg
	}
	if c.cfg.Clock == nil {
		c.cfg.Clock = clock.NewDefaultClock()
	}

	return c
}

// Handle is proof of exclusive wallet access. It must be released exactly
// once; further calls to Release are no-ops.
type Handle struct {
	c       *Coordinator
	purpose string
	once    sync.Once
}

// Release gives the wallet back to the coordinator.
func (h *Handle) Release() {
	h.once.Do(func() {
		if h.c.cfg.OnRelease != nil {
			h.c.cfg.OnRelease(h.purpose)
		}

		h.c.holders.Add(-1)
		h.c.sem.Release(1)

		log.Tracef("Released wallet handle for %v", h.purpose)
	})
}

// Acquire blocks until the caller holds the wallet or the context is done.
// The purpose is only used for logging and instrumentation.
func (c *Coordinator) Acquire(ctx context.Context,
	purpose string) (*Handle, error) {

	start := c.cfg.Clock.Now()
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for wallet access for %v: %w",
			purpose, err)
	}

	if n := c.holders.Add(1); n != 1 {
		// This can only happen if the semaphore is misused, which
		// would break every guarantee the faucet gives.
		panic(fmt.Sprintf("wallet handle held by %d callers", n))
	}

	wait := c.cfg.Clock.Now().Sub(start)
	log.Tracef("Acquired wallet handle for %v after %v", purpose, wait)

	if c.cfg.ObserveWait != nil {
		c.cfg.ObserveWait(purpose, wait)
	}
	if c.cfg.OnAcquire != nil {
		c.cfg.OnAcquire(purpose)
	}

	return &Handle{c: c, purpose: purpose}, nil
}

// With runs f while holding the wallet. The handle is released when f
// returns, whether it returned an error or panicked.
func (c *Coordinator) With(ctx context.Context, purpose string,
	f func(ctx context.Context) error) error {

	handle, err := c.Acquire(ctx, purpose)
	if err != nil {
		return err
	}
	defer handle.Release()

	return f(ctx)
}

// Held reports whether the wallet handle is currently out.
func (c *Coordinator) Held() bool {
	return c.holders.Load() > 0
}
