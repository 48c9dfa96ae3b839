// Package dispatch turns validated funds requests into node operations. Every
// operation that spends from the wallet runs under the wallet coordinator,
// with the balance checked right before the spend.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/faucet/lease"
	"github.com/lightningnetwork/faucet/node"
	"github.com/lightningnetwork/faucet/walletlock"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/subscribe"
)

// DefaultActivationTimeout is the default time a lease request waits for the
// channel to become usable.
const DefaultActivationTimeout = time.Minute

// SendRequest asks for an on-chain payment.
type SendRequest struct {
	Destination btcutil.Address
	Amount      btcutil.Amount
}

// SendResult is the outcome of a successful send.
type SendResult struct {
	Txid        chainhash.Hash
	Destination btcutil.Address
	Amount      btcutil.Amount
}

// LeaseRequest asks for an inbound channel for a limited time.
type LeaseRequest struct {
	PeerPubKey *btcec.PublicKey
	Capacity   btcutil.Amount
	Duration   time.Duration
}

// LeaseResult is the outcome of a lease request. Lease is in the active
// state, or still opening if the activation wait ended first.
type LeaseResult struct {
	Lease *lease.Lease
}

// ChannelPoint is the identifier of the leased channel.
func (r *LeaseResult) ChannelPoint() wire.OutPoint {
	return r.Lease.ChannelPoint
}

// Config holds the dependencies of the dispatcher.
type Config struct {
	// Node is the node the funds come from.
	Node *node.Facade

	// WalletLock serializes every spend.
	WalletLock *walletlock.Coordinator

	// Leases tracks the leases once their channel is submitted. It is
	// required when lightning is enabled and must be started.
	Leases *lease.Manager

	// Registry is queried for lease status.
	Registry *lease.Registry

	// Clock is the source of lease creation times.
	Clock clock.Clock

	// FeeReserve is added to every amount in the balance pre-check to
	// leave room for the on-chain fee.
	FeeReserve btcutil.Amount

	// PushAmount is pushed to the peer on every leased channel.
	PushAmount btcutil.Amount

	// ActivationTimeout bounds the wait for a leased channel to become
	// usable.
	ActivationTimeout time.Duration

	// OnSend, if set, is called for every successful send.
	OnSend func(*SendResult)

	// OnResult, if set, is called once per request with its final
	// error, nil on success.
	OnResult func(kind Kind, err error)
}

// Dispatcher is the single entry point for funds requests.
type Dispatcher struct {
	cfg *Config
}

// New creates a new dispatcher.
func New(cfg *Config) *Dispatcher {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	if cfg.ActivationTimeout == 0 {
		cfg.ActivationTimeout = DefaultActivationTimeout
	}

	return &Dispatcher{cfg: cfg}
}

// LightningEnabled returns true if lease requests can be served.
func (d *Dispatcher) LightningEnabled() bool {
	return d.cfg.Node.LightningEnabled() && d.cfg.Leases != nil
}

// Send pays req.Amount to req.Destination and returns the transaction id.
func (d *Dispatcher) Send(ctx context.Context,
	req *SendRequest) (*SendResult, error) {

	var txid *chainhash.Hash
	err := d.cfg.WalletLock.With(ctx, "send",
		func(ctx context.Context) error {
			err := d.checkBalance(ctx, req.Amount)
			if err != nil {
				return err
			}

			// A submitted send is not cancelled with the request.
			txid, err = d.cfg.Node.Wallet.SendToAddress(
				context.WithoutCancel(ctx), req.Destination,
				req.Amount,
			)
			if err != nil {
				return classify(err, ErrBroadcastFailed)
			}

			return nil
		},
	)
	if err != nil {
		log.Debugf("Send of %v to %v failed: %v", req.Amount,
			req.Destination, err)

		return nil, d.fail(KindSend, err)
	}

	res := &SendResult{
		Txid:        *txid,
		Destination: req.Destination,
		Amount:      req.Amount,
	}
	log.Infof("Sent %v to %v in tx %v", req.Amount, req.Destination,
		res.Txid)

	if d.cfg.OnSend != nil {
		d.cfg.OnSend(res)
	}
	d.report(KindSend, nil)

	return res, nil
}

// Lease opens a channel of req.Capacity to the requesting peer and tracks it
// as a lease expiring after req.Duration. Once the open is submitted the
// request is committed: it waits for the channel to become usable, but
// neither a timeout nor a cancelled context turn it into a failure.
func (d *Dispatcher) Lease(ctx context.Context,
	req *LeaseRequest) (*LeaseResult, error) {

	if !d.LightningEnabled() {
		return nil, d.fail(KindLease, ErrLightningDisabled)
	}

	switch {
	case req.PeerPubKey == nil:
		return nil, d.fail(KindLease, fmt.Errorf("%w: missing peer "+
			"key", ErrInvalidRequest))

	case req.Capacity <= d.cfg.PushAmount:
		return nil, d.fail(KindLease, fmt.Errorf("%w: capacity %v "+
			"must exceed push amount %v", ErrInvalidRequest,
			req.Capacity, d.cfg.PushAmount))

	case req.Duration <= 0:
		return nil, d.fail(KindLease, fmt.Errorf("%w: lease "+
			"duration must be positive", ErrInvalidRequest))
	}

	// Subscribe before opening so the activation can not be missed.
	client, err := d.cfg.Leases.SubscribeUpdates()
	if err != nil {
		return nil, d.fail(KindLease, err)
	}
	defer client.Cancel()

	var chanPoint wire.OutPoint
	err = d.cfg.WalletLock.With(ctx, "open channel",
		func(ctx context.Context) error {
			err := d.checkBalance(ctx, req.Capacity)
			if err != nil {
				return err
			}

			// A submitted open is not cancelled with the request,
			// its channel must get a lease.
			chanPoint, err = d.cfg.Node.Channel.OpenChannel(
				context.WithoutCancel(ctx),
				&node.OpenChannelRequest{
					Peer:       req.PeerPubKey,
					Capacity:   req.Capacity,
					PushAmount: d.cfg.PushAmount,
				},
			)
			if err != nil {
				return classify(err, ErrChannelOpenFailed)
			}

			return nil
		},
	)
	if err != nil {
		log.Debugf("Channel open of %v to %x failed: %v",
			req.Capacity, req.PeerPubKey.SerializeCompressed(),
			err)

		return nil, d.fail(KindLease, err)
	}

	l := lease.New(
		chanPoint, req.PeerPubKey, req.Capacity, d.cfg.PushAmount,
		d.cfg.Clock.Now(), req.Duration,
	)
	if err := d.cfg.Leases.Track(l); err != nil {
		// The channel exists at the node, only our bookkeeping
		// failed.
		log.Errorf("Unable to track lease for channel %v: %v",
			chanPoint, err)

		return nil, d.fail(KindLease, err)
	}

	current, err := d.waitActivation(ctx, client, l)
	if err != nil {
		return nil, d.fail(KindLease, err)
	}
	d.report(KindLease, nil)

	return &LeaseResult{Lease: current}, nil
}

// waitActivation waits until the lease becomes active or fails. If the
// activation timeout or the context end the wait first, the lease is
// returned as it is at that point.
func (d *Dispatcher) waitActivation(ctx context.Context,
	client *subscribe.Client, l *lease.Lease) (*lease.Lease, error) {

	timeout := d.cfg.Clock.TickAfter(d.cfg.ActivationTimeout)

	for {
		select {
		case u := <-client.Updates():
			update, ok := u.(lease.Update)
			if !ok || update.Lease.ID != l.ID {
				continue
			}

			switch update.Lease.State {
			case lease.StateActive:
				return update.Lease, nil

			case lease.StateFailed:
				return nil, fmt.Errorf("%w: %v",
					ErrChannelOpenFailed,
					update.Lease.LastError)
			}

		case <-timeout:
			log.Infof("Lease %v not active after %v", l.ID,
				d.cfg.ActivationTimeout)

			return d.current(l), nil

		case <-ctx.Done():
			return d.current(l), nil

		case <-client.Quit():
			return d.current(l), nil
		}
	}
}

// current returns the latest known version of a lease.
func (d *Dispatcher) current(l *lease.Lease) *lease.Lease {
	cur, err := d.cfg.Registry.Lookup(l.ID)
	if err != nil {
		return l
	}

	return cur
}

// LeaseStatus returns the lease with the given id. It does not touch the
// wallet.
func (d *Dispatcher) LeaseStatus(id lease.ID) (*lease.Lease, error) {
	if d.cfg.Registry == nil {
		return nil, ErrLightningDisabled
	}

	return d.cfg.Registry.Lookup(id)
}

// ListLeases returns every in-flight lease.
func (d *Dispatcher) ListLeases() []*lease.Lease {
	if d.cfg.Registry == nil {
		return nil
	}

	return d.cfg.Registry.List()
}

// checkBalance fails with ErrInsufficientFunds if the wallet can not cover
// amt plus the fee reserve. It must be called while holding the wallet.
func (d *Dispatcher) checkBalance(ctx context.Context,
	amt btcutil.Amount) error {

	balance, err := d.cfg.Node.Wallet.SpendableBalance(ctx)
	if err != nil {
		return classify(err, ErrNodeUnavailable)
	}

	if need := amt + d.cfg.FeeReserve; need > balance {
		return fmt.Errorf("%w: need %v, have %v",
			ErrInsufficientFunds, need, balance)
	}

	return nil
}

// fail wraps err into an *Error and reports it.
func (d *Dispatcher) fail(kind Kind, err error) error {
	d.report(kind, err)

	return &Error{Kind: kind, Err: err}
}

func (d *Dispatcher) report(kind Kind, err error) {
	if d.cfg.OnResult != nil {
		d.cfg.OnResult(kind, err)
	}
}
