// Package node defines the narrow boundary the faucet uses to talk to the
// chain and lightning nodes it fronts. Everything behind these interfaces
// (coin selection, signing, channel negotiation) is the node's business.
package node

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// ChannelStatus is the coarse state of a channel as reported by the
// lightning node.
type ChannelStatus uint8

const (
	// ChannelPending means the funding transaction has been broadcast but
	// the channel is not usable yet.
	ChannelPending ChannelStatus = iota

	// ChannelActive means the channel is confirmed and usable.
	ChannelActive

	// ChannelClosing means a closing transaction has been broadcast but
	// has not confirmed yet.
	ChannelClosing

	// ChannelClosed means the close of the channel confirmed, cooperative
	// or not.
	ChannelClosed
)

// String returns a human readable name of the channel status.
func (s ChannelStatus) String() string {
	switch s {
	case ChannelPending:
		return "pending"
	case ChannelActive:
		return "active"
	case ChannelClosing:
		return "closing"
	case ChannelClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown<%d>", uint8(s))
	}
}

// OpenChannelRequest describes a channel the faucet funds towards a peer.
type OpenChannelRequest struct {
	// Peer is the identity key of the node that receives the channel.
	Peer *btcec.PublicKey

	// Capacity is the amount the faucet commits to the channel.
	Capacity btcutil.Amount

	// PushAmount is pushed to the remote side on open so the peer can
	// spend right away.
	PushAmount btcutil.Amount
}

// WalletNode is the part of the node that owns the spendable balance.
type WalletNode interface {
	// SpendableBalance returns the node's current best-effort spendable
	// balance. It is never cached by the caller.
	SpendableBalance(ctx context.Context) (btcutil.Amount, error)

	// SendToAddress builds, signs and broadcasts a payment of amt to
	// addr and returns the id of the broadcast transaction.
	SendToAddress(ctx context.Context, addr btcutil.Address,
		amt btcutil.Amount) (*chainhash.Hash, error)
}

// ChannelNode is the lightning half of the node.
type ChannelNode interface {
	// OpenChannel submits a channel open and returns the channel point
	// once the funding transaction has been published.
	OpenChannel(ctx context.Context,
		req *OpenChannelRequest) (wire.OutPoint, error)

	// CloseChannel requests a cooperative close of the channel. A nil
	// error means the node accepted the close and broadcast the closing
	// transaction.
	CloseChannel(ctx context.Context, chanPoint wire.OutPoint) error

	// ChannelStatus reports the state of the channel. ErrUnknownChannel
	// is returned if the node has never heard of it.
	ChannelStatus(ctx context.Context,
		chanPoint wire.OutPoint) (ChannelStatus, error)
}

// Facade bundles both halves of the node. Channel may be nil when lightning
// support is disabled.
type Facade struct {
	Wallet  WalletNode
	Channel ChannelNode
}

// LightningEnabled returns true if the facade can open channels.
func (f *Facade) LightningEnabled() bool {
	return f.Channel != nil
}
