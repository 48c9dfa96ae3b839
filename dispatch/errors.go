package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/lightningnetwork/faucet/lease"
	"github.com/lightningnetwork/faucet/node"
)

// The error kinds a request can fail with. They are the node's error values,
// so errors.Is works across the whole stack.
var (
	ErrInsufficientFunds  = node.ErrInsufficientFunds
	ErrBroadcastFailed    = node.ErrBroadcastFailed
	ErrInvalidDestination = node.ErrInvalidDestination
	ErrChannelOpenFailed  = node.ErrChannelOpenFailed
	ErrNodeUnavailable    = node.ErrNodeUnavailable
	ErrLightningDisabled  = node.ErrLightningDisabled
	ErrLeaseNotFound      = lease.ErrLeaseNotFound

	// ErrInvalidRequest is returned for requests the dispatcher can not
	// act on, independent of the node's state.
	ErrInvalidRequest = errors.New("invalid request")
)

// Kind names the type of request that failed.
type Kind string

const (
	// KindSend is an on-chain payment.
	KindSend Kind = "send"

	// KindLease is a channel lease.
	KindLease Kind = "lease"
)

// Error is returned by the dispatcher for every failed request. It carries
// the request kind next to the underlying error kind.
type Error struct {
	Kind Kind
	Err  error
}

// Error returns a human readable description of the failure.
func (e *Error) Error() string {
	return fmt.Sprintf("%v request failed: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// knownErrs are the errors passed through to the caller unchanged.
var knownErrs = []error{
	ErrInsufficientFunds, ErrBroadcastFailed, ErrInvalidDestination,
	ErrChannelOpenFailed, ErrNodeUnavailable, ErrLightningDisabled,
	ErrInvalidRequest, context.Canceled, context.DeadlineExceeded,
}

// classify makes sure err matches one of the known error kinds. Unknown
// errors are attributed to fallback.
func classify(err, fallback error) error {
	for _, known := range knownErrs {
		if errors.Is(err, known) {
			return err
		}
	}

	return fmt.Errorf("%w: %v", fallback, err)
}
