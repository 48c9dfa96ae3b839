package node

import "errors"

var (
	// ErrInsufficientFunds is returned when the wallet cannot cover the
	// requested amount.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrBroadcastFailed is returned when the node built a transaction but
	// could not relay it.
	ErrBroadcastFailed = errors.New("transaction broadcast failed")

	// ErrInvalidDestination is returned when the node rejects the
	// destination address.
	ErrInvalidDestination = errors.New("invalid destination")

	// ErrChannelOpenFailed is returned when the channel could not be
	// opened or never became usable.
	ErrChannelOpenFailed = errors.New("channel open failed")

	// ErrChannelCloseFailed is returned when the node refused or failed a
	// channel close.
	ErrChannelCloseFailed = errors.New("channel close failed")

	// ErrNodeUnavailable is returned on RPC transport failure.
	ErrNodeUnavailable = errors.New("node unavailable")

	// ErrUnknownChannel is returned when the node does not know the
	// channel point it was asked about.
	ErrUnknownChannel = errors.New("unknown channel")

	// ErrLightningDisabled is returned for channel operations when no
	// lightning node is configured.
	ErrLightningDisabled = errors.New("lightning support disabled")
)
