package lease

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lightningnetwork/faucet/node"
	"github.com/lightningnetwork/faucet/walletlock"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/lnutils"
	"github.com/lightningnetwork/lnd/subscribe"
	"github.com/lightningnetwork/lnd/ticker"
)

const (
	// DefaultSweepInterval is the default time between two sweeps.
	DefaultSweepInterval = 30 * time.Second

	// DefaultOpenTimeout is the default time a lease may stay in the
	// opening state before it is given up.
	DefaultOpenTimeout = 30 * time.Minute
)

// Config holds the dependencies of the lifecycle manager.
type Config struct {
	// Registry is the table of in-flight leases the manager drives.
	Registry *Registry

	// Node is used to query, and eventually close, leased channels.
	Node node.ChannelNode

	// WalletLock guards channel closes, which touch the wallet.
	WalletLock *walletlock.Coordinator

	// Clock is the source of the current time.
	Clock clock.Clock

	// Ticker triggers the periodic sweep.
	Ticker ticker.Ticker

	// OpenTimeout bounds how long a lease may stay in the opening state.
	OpenTimeout time.Duration

	// OnUpdate, if set, is called synchronously for every update before
	// it is sent to subscribers.
	OnUpdate func(Update)

	// OnCloseAttempt, if set, is called with the result of every channel
	// close the manager issues.
	OnCloseAttempt func(err error)
}

// Manager drives every lease from opening to closed or failed. It sweeps the
// registry on every tick of its ticker, independently of request handling.
type Manager struct {
	started sync.Once
	stopped sync.Once
	running atomic.Bool

	cfg *Config

	updates *subscribe.Server

	// sweepMtx makes sure only one sweep runs at a time, whether it was
	// triggered by the ticker or called directly.
	sweepMtx sync.Mutex

	gm *fn.GoroutineManager
}

// NewManager creates a new lifecycle manager.
func NewManager(cfg *Config) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	if cfg.Ticker == nil {
		cfg.Ticker = ticker.New(DefaultSweepInterval)
	}
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = DefaultOpenTimeout
	}

	return &Manager{
		cfg:     cfg,
		updates: subscribe.NewServer(),
		gm:      fn.NewGoroutineManager(),
	}
}

// Start launches the sweep loop.
func (m *Manager) Start() error {
	var startErr error
	m.started.Do(func() {
		log.Info("Lease manager starting")

		if err := m.updates.Start(); err != nil {
			startErr = err
			return
		}
		m.running.Store(true)

		m.cfg.Ticker.Resume()
		if !m.gm.Go(context.Background(), m.sweepLoop) {
			startErr = errors.New("lease manager shutting down")
		}
	})

	return startErr
}

// Stop halts the sweep loop and waits for an in-progress sweep to finish.
func (m *Manager) Stop() error {
	var stopErr error
	m.stopped.Do(func() {
		log.Info("Lease manager shutting down...")
		defer log.Debug("Lease manager shutdown complete")

		m.cfg.Ticker.Stop()
		m.gm.Stop()

		m.running.Store(false)
		stopErr = m.updates.Stop()
	})

	return stopErr
}

// SubscribeUpdates returns a client that receives an Update for every lease
// creation and state change.
func (m *Manager) SubscribeUpdates() (*subscribe.Client, error) {
	return m.updates.Subscribe()
}

// Track registers a lease that was just created for a submitted channel
// open. A lease that could not be persisted is still tracked.
func (m *Manager) Track(l *Lease) error {
	err := m.cfg.Registry.Insert(l)
	switch {
	case errors.Is(err, ErrNotPersisted):
		log.Errorf("Tracking %v in memory only: %v", l, err)

	case err != nil:
		return err
	}

	log.Infof("Tracking new %v, expires at %v", l, l.ExpiresAt)

	m.notify(Update{Lease: l.Copy(), Previous: l.State, Created: true})

	return nil
}

// sweepLoop runs a sweep on every tick until the context is cancelled.
//
// NOTE: MUST be run as a goroutine.
func (m *Manager) sweepLoop(ctx context.Context) {
	for {
		select {
		case <-m.cfg.Ticker.Ticks():
			m.Sweep(ctx)

		case <-ctx.Done():
			return
		}
	}
}

// Sweep examines every in-flight lease once and drives it forward.
func (m *Manager) Sweep(ctx context.Context) {
	m.sweepMtx.Lock()
	defer m.sweepMtx.Unlock()

	leases := m.cfg.Registry.List()
	log.Tracef("Sweeping %d lease(s)", len(leases))

	for _, l := range leases {
		if ctx.Err() != nil {
			return
		}

		switch l.State {
		case StateOpening:
			m.sweepOpening(ctx, l)

		case StateActive:
			m.sweepActive(ctx, l)

		case StateExpiring:
			m.closeLease(ctx, l)

		// A final lease only remains in the registry if we went
		// down between the transition and the removal.
		default:
			m.remove(l)
		}
	}
}

// sweepOpening checks whether the channel of an opening lease became usable,
// and gives the lease up once the open timeout has passed.
func (m *Manager) sweepOpening(ctx context.Context, l *Lease) {
	status, err := m.cfg.Node.ChannelStatus(ctx, l.ChannelPoint)
	switch {
	// The funding transaction may not have been indexed yet.
	case errors.Is(err, node.ErrUnknownChannel):

	case err != nil:
		log.Warnf("Unable to query channel of %v: %v", l, err)

	case status == node.ChannelActive:
		m.transition(l, StateActive, nil)
		return

	case status == node.ChannelClosed:
		m.finalize(l, StateFailed, node.ErrChannelOpenFailed)
		return
	}

	now := m.cfg.Clock.Now()
	if now.Sub(l.CreatedAt) >= m.cfg.OpenTimeout {
		log.Warnf("Giving up on %v, channel not usable after %v", l,
			m.cfg.OpenTimeout)

		m.finalize(l, StateFailed, node.ErrChannelOpenFailed)
	}
}

// sweepActive moves expired leases to expiring and starts closing them.
func (m *Manager) sweepActive(ctx context.Context, l *Lease) {
	if !l.Expired(m.cfg.Clock.Now()) {
		status, err := m.cfg.Node.ChannelStatus(ctx, l.ChannelPoint)
		if err == nil && status == node.ChannelClosed {
			log.Infof("Channel of %v was closed by the peer", l)
			m.finalize(l, StateClosed, nil)
		}

		return
	}

	updated, ok := m.transition(l, StateExpiring, nil)
	if !ok {
		return
	}

	m.closeLease(ctx, updated)
}

// closeLease drives the close of an expiring lease. The lease stays expiring
// until the node reports the close as confirmed. Failed closes are recorded
// and retried on the next sweep, unless the node does not know the channel
// at all, in which case it can never be closed.
func (m *Manager) closeLease(ctx context.Context, l *Lease) {
	status, err := m.cfg.Node.ChannelStatus(ctx, l.ChannelPoint)
	switch {
	case err == nil && status == node.ChannelClosed:
		log.Infof("Close of %v confirmed", l)
		m.finalize(l, StateClosed, nil)
		return

	case err == nil && status == node.ChannelClosing:
		log.Debugf("Waiting for close of %v to confirm", l)
		return
	}

	err = m.cfg.WalletLock.With(ctx, "close channel",
		func(ctx context.Context) error {
			return m.cfg.Node.CloseChannel(ctx, l.ChannelPoint)
		},
	)
	if m.cfg.OnCloseAttempt != nil {
		m.cfg.OnCloseAttempt(err)
	}

	switch {
	case err == nil:
		log.Infof("Closing channel of %v", l)

		// The node may report the close as confirmed right away.
		status, serr := m.cfg.Node.ChannelStatus(ctx, l.ChannelPoint)
		if serr == nil && status == node.ChannelClosed {
			m.finalize(l, StateClosed, nil)
		}

	case errors.Is(err, node.ErrUnknownChannel) && m.channelUnknown(ctx, l):
		log.Errorf("Unable to close %v: %v", l, err)
		m.finalize(l, StateFailed, err)

	default:
		log.Warnf("Close of %v failed (attempt %d), retrying next "+
			"sweep: %v", l, l.CloseAttempts+1, err)

		_, uerr := m.cfg.Registry.UpdateState(
			l.ID, StateExpiring, StateExpiring, func(l *Lease) {
				l.CloseAttempts++
				l.LastError = err.Error()
			},
		)
		if uerr != nil {
			log.Errorf("Unable to record close failure of %v: %v",
				l, uerr)
		}
	}
}

// channelUnknown asks the node again whether it knows the channel of l. Only
// a definite answer counts, a failed query is treated as known.
func (m *Manager) channelUnknown(ctx context.Context, l *Lease) bool {
	_, err := m.cfg.Node.ChannelStatus(ctx, l.ChannelPoint)

	return errors.Is(err, node.ErrUnknownChannel)
}

// transition moves a lease to next and notifies subscribers.
func (m *Manager) transition(l *Lease, next State,
	cause error) (*Lease, bool) {

	updated, err := m.cfg.Registry.UpdateState(
		l.ID, l.State, next, func(l *Lease) {
			if cause != nil {
				l.LastError = cause.Error()
			}
		},
	)
	if err != nil {
		log.Errorf("Unable to move %v to %v: %v", l, next, err)
		return nil, false
	}

	log.Debugf("Lease %v: %v -> %v", l.ID, l.State, next)
	log.Tracef("Updated lease: %v", lnutils.SpewLogClosure(updated))

	m.notify(Update{Lease: updated.Copy(), Previous: l.State})

	return updated, true
}

// finalize moves a lease to a final state and removes it from the registry.
func (m *Manager) finalize(l *Lease, final State, cause error) {
	updated, ok := m.transition(l, final, cause)
	if !ok {
		return
	}

	m.remove(updated)
}

// remove drops a final lease from the registry.
func (m *Manager) remove(l *Lease) {
	if _, err := m.cfg.Registry.Remove(l.ID); err != nil {
		log.Errorf("Unable to remove %v: %v", l, err)
		return
	}

	log.Infof("Lease %v finalized as %v", l.ID, l.State)
}

// notify hands an update to the hook and the subscribers.
func (m *Manager) notify(u Update) {
	if m.cfg.OnUpdate != nil {
		m.cfg.OnUpdate(u)
	}

	if !m.running.Load() {
		return
	}

	if err := m.updates.SendUpdate(u); err != nil {
		log.Debugf("Unable to send lease update: %v", err)
	}
}
