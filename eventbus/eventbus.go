// Package eventbus publishes the faucet's sends and lease updates to NATS so
// other services can follow what the faucet gives out.
package eventbus

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lightningnetwork/faucet/dispatch"
	"github.com/lightningnetwork/faucet/lease"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/subscribe"
	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is the default prefix of every published subject.
const DefaultSubjectPrefix = "faucet"

// Publisher sends a message on a subject. It is satisfied by *nats.Conn.
type Publisher interface {
	Publish(subj string, data []byte) error
}

// LeaseSource provides the stream of lease updates.
type LeaseSource interface {
	SubscribeUpdates() (*subscribe.Client, error)
}

// Config holds the dependencies of the bus.
type Config struct {
	// Publisher delivers the events.
	Publisher Publisher

	// SubjectPrefix is prepended to every subject.
	SubjectPrefix string

	// Leases, if set, is followed for lease updates.
	Leases LeaseSource
}

// SendEvent is published on <prefix>.send for every successful send.
type SendEvent struct {
	Txid    string `json:"txid"`
	Address string `json:"address"`
	Amount  int64  `json:"amount_sat"`
}

// LeaseEvent is published on <prefix>.lease.<state> for every lease update.
type LeaseEvent struct {
	ID            string    `json:"id"`
	ChannelPoint  string    `json:"channel_point"`
	PeerPubKey    string    `json:"peer_pubkey,omitempty"`
	Capacity      int64     `json:"capacity_sat"`
	State         string    `json:"state"`
	Previous      string    `json:"previous_state,omitempty"`
	ExpiresAt     time.Time `json:"expires_at"`
	CloseAttempts uint32    `json:"close_attempts,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// Bus forwards faucet events to the publisher. Failures are logged and never
// reach the request that caused the event.
type Bus struct {
	started sync.Once
	stopped sync.Once

	cfg *Config

	client *subscribe.Client
	gm     *fn.GoroutineManager
}

// New creates a new bus.
func New(cfg *Config) *Bus {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = DefaultSubjectPrefix
	}

	return &Bus{
		cfg: cfg,
		gm:  fn.NewGoroutineManager(),
	}
}

// Connect dials the NATS server at url.
func Connect(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(
		url, nats.Name(name), nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to nats at %v: %w",
			url, err)
	}

	log.Infof("Publishing events to nats at %v", url)

	return nc, nil
}

// Start begins forwarding lease updates.
func (b *Bus) Start() error {
	var startErr error
	b.started.Do(func() {
		if b.cfg.Leases == nil {
			return
		}

		client, err := b.cfg.Leases.SubscribeUpdates()
		if err != nil {
			startErr = err
			return
		}
		b.client = client

		if !b.gm.Go(context.Background(), b.forwardLeases) {
			startErr = errors.New("event bus shutting down")
		}
	})

	return startErr
}

// Stop ends forwarding.
func (b *Bus) Stop() error {
	b.stopped.Do(func() {
		if b.client != nil {
			b.client.Cancel()
		}
		b.gm.Stop()
	})

	return nil
}

// PublishSend publishes a successful send.
func (b *Bus) PublishSend(res *dispatch.SendResult) {
	b.publish(b.cfg.SubjectPrefix+".send", &SendEvent{
		Txid:    res.Txid.String(),
		Address: res.Destination.String(),
		Amount:  int64(res.Amount),
	})
}

// PublishLease publishes a lease update.
func (b *Bus) PublishLease(u lease.Update) {
	l := u.Lease
	event := &LeaseEvent{
		ID:            l.ID.String(),
		ChannelPoint:  l.ChannelPoint.String(),
		Capacity:      int64(l.Capacity),
		State:         l.State.String(),
		ExpiresAt:     l.ExpiresAt.UTC(),
		CloseAttempts: l.CloseAttempts,
		Error:         l.LastError,
	}
	if l.PeerPubKey != nil {
		event.PeerPubKey = hex.EncodeToString(
			l.PeerPubKey.SerializeCompressed(),
		)
	}
	if !u.Created {
		event.Previous = u.Previous.String()
	}

	b.publish(
		fmt.Sprintf("%v.lease.%v", b.cfg.SubjectPrefix, l.State),
		event,
	)
}

func (b *Bus) publish(subject string, event interface{}) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Errorf("Unable to encode %v event: %v", subject, err)
		return
	}

	if err := b.cfg.Publisher.Publish(subject, data); err != nil {
		log.Warnf("Unable to publish %v event: %v", subject, err)
		return
	}

	log.Tracef("Published %v event", subject)
}

// forwardLeases publishes every lease update until the subscription ends.
//
// NOTE: MUST be run as a goroutine.
func (b *Bus) forwardLeases(ctx context.Context) {
	for {
		select {
		case u := <-b.client.Updates():
			update, ok := u.(lease.Update)
			if !ok {
				continue
			}
			b.PublishLease(update)

		case <-b.client.Quit():
			return

		case <-ctx.Done():
			return
		}
	}
}
