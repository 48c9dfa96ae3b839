// Package lease tracks the inbound channels the faucet leases out, from the
// moment the funding transaction is published until the channel is closed
// again and its capacity is back in the wallet.
package lease

import (
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/google/uuid"
)

var (
	// ErrLeaseNotFound is returned when a lease id is not known to the
	// registry.
	ErrLeaseNotFound = errors.New("lease not found")

	// ErrLeaseExists is returned when inserting a lease whose id is
	// already registered.
	ErrLeaseExists = errors.New("lease already exists")

	// ErrStateMismatch is returned by a compare-and-set update when the
	// lease is no longer in the expected state.
	ErrStateMismatch = errors.New("lease state mismatch")

	// ErrInvalidTransition is returned when a state change is not allowed
	// by the lease state machine.
	ErrInvalidTransition = errors.New("invalid lease state transition")

	// ErrNotPersisted is returned by Insert when the lease is tracked in
	// memory but could not be written to the store. The next successful
	// update of the lease writes it.
	ErrNotPersisted = errors.New("lease not persisted")
)

// ID uniquely identifies a lease.
type ID string

// NewID returns a fresh random lease id.
func NewID() ID {
	return ID(uuid.NewString())
}

// ParseID checks that s is a well formed lease id.
func ParseID(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid lease id %q: %w", s, err)
	}

	return ID(u.String()), nil
}

// String returns the id as a string.
func (i ID) String() string {
	return string(i)
}

// State is the lifecycle state of a lease.
type State uint8

const (
	// StateOpening means the channel open was submitted but the node has
	// not yet reported the channel as usable.
	StateOpening State = iota

	// StateActive means the channel is usable and the lease runs until
	// its expiry.
	StateActive

	// StateExpiring means the lease expired and the faucet is closing the
	// channel.
	StateExpiring

	// StateClosed means the channel was closed. This is final.
	StateClosed

	// StateFailed means the channel never became usable or could not be
	// closed. This is final.
	StateFailed
)

// String returns a human readable name of the state.
func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateActive:
		return "active"
	case StateExpiring:
		return "expiring"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown<%d>", uint8(s))
	}
}

// IsFinal returns true if no further transitions leave the state.
func (s State) IsFinal() bool {
	return s == StateClosed || s == StateFailed
}

// CanTransition returns true if a lease may move from s to next.
func (s State) CanTransition(next State) bool {
	switch s {
	case StateOpening:
		return next == StateActive || next == StateFailed

	case StateActive:
		// A peer can close the channel on its own, in which case we
		// never get to close it.
		return next == StateExpiring || next == StateClosed

	case StateExpiring:
		return next == StateClosed || next == StateFailed

	default:
		return false
	}
}

// Lease is a time bounded inbound channel granted to a peer.
type Lease struct {
	// ID is assigned at creation and never changes.
	ID ID

	// ChannelPoint identifies the leased channel on the node.
	ChannelPoint wire.OutPoint

	// PeerPubKey is the identity key of the node the channel was opened
	// to.
	PeerPubKey *btcec.PublicKey

	// Capacity is the amount the faucet committed to the channel.
	Capacity btcutil.Amount

	// PushAmount is the part of the capacity pushed to the peer on open.
	PushAmount btcutil.Amount

	// CreatedAt and ExpiresAt are fixed when the lease is created.
	CreatedAt time.Time
	ExpiresAt time.Time

	// State is the current lifecycle state.
	State State

	// CloseAttempts counts the failed channel close attempts.
	CloseAttempts uint32

	// LastError is the last error seen while driving the lease, if any.
	LastError string
}

// New creates a lease in the opening state for a channel that was just
// submitted to the node.
func New(chanPoint wire.OutPoint, peer *btcec.PublicKey, capacity,
	push btcutil.Amount, now time.Time, duration time.Duration) *Lease {

	return &Lease{
		ID:           NewID(),
		ChannelPoint: chanPoint,
		PeerPubKey:   peer,
		Capacity:     capacity,
		PushAmount:   push,
		CreatedAt:    now,
		ExpiresAt:    now.Add(duration),
		State:        StateOpening,
	}
}

// Copy returns a copy of the lease that can be handed out without exposing
// the registry's own record.
func (l *Lease) Copy() *Lease {
	c := *l
	return &c
}

// Expired returns true if the lease is due for closure at the given time.
func (l *Lease) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// String returns a short description used in log messages.
func (l *Lease) String() string {
	return fmt.Sprintf("lease(%v, chan_point=%v, capacity=%v, state=%v)",
		l.ID, l.ChannelPoint, l.Capacity, l.State)
}

// Update is sent to subscribers whenever a lease is created or changes
// state.
type Update struct {
	// Lease is a snapshot of the lease after the change.
	Lease *Lease

	// Previous is the state the lease left. It equals Lease.State for
	// newly created leases.
	Previous State

	// Created is set for the first update of a lease.
	Created bool
}
