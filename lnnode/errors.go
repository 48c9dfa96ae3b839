package lnnode

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lightningnetwork/faucet/node"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// mapRPCError translates an lnd gRPC failure into one of the node error
// kinds. fallback is used for failures that are not recognized.
func mapRPCError(op string, err error, fallback error) error {
	if err == nil {
		return nil
	}

	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%v: %w: %v", op, fallback, err)
	}

	msg := strings.ToLower(st.Message())

	var kind error
	switch {
	case st.Code() == codes.Unavailable,
		st.Code() == codes.DeadlineExceeded:

		kind = node.ErrNodeUnavailable

	case strings.Contains(msg, "insufficient"),
		strings.Contains(msg, "not enough witness outputs"):

		kind = node.ErrInsufficientFunds

	case strings.Contains(msg, "decode address"),
		strings.Contains(msg, "invalid address"),
		strings.Contains(msg, "not valid for this network"):

		kind = node.ErrInvalidDestination

	// lnd fails a cooperative close with an offline peer with "channel
	// link not found", which is retried like any other close failure.
	case strings.Contains(msg, "peer is offline"),
		strings.Contains(msg, "link not found"):

		kind = fallback

	case strings.Contains(msg, "unable to find channel"),
		strings.Contains(msg, "channel not found"):

		kind = node.ErrUnknownChannel

	default:
		kind = fallback
	}

	return fmt.Errorf("%v: %w: %v", op, kind, st.Message())
}

// errCloseStream is returned when lnd ends the close stream before reporting
// the close as pending.
var errCloseStream = errors.New("close stream ended early")
