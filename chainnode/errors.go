package chainnode

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/lightningnetwork/faucet/node"
)

const (
	// errRPCVerifyRejected is returned when the transaction was rejected
	// by network rules.
	errRPCVerifyRejected btcjson.RPCErrorCode = -26

	// errRPCVerifyAlreadyInChain is returned when the transaction is
	// already confirmed.
	errRPCVerifyAlreadyInChain btcjson.RPCErrorCode = -27
)

// mapRPCError translates a JSON-RPC failure into one of the node error
// kinds. Errors that are not JSON-RPC errors are transport failures.
func mapRPCError(op string, err error) error {
	if err == nil {
		return nil
	}

	var rpcErr *btcjson.RPCError
	if !errors.As(err, &rpcErr) {
		return fmt.Errorf("%v: %w: %v", op, node.ErrNodeUnavailable,
			err)
	}

	var kind error
	switch rpcErr.Code {
	case btcjson.ErrRPCWalletInsufficientFunds:
		kind = node.ErrInsufficientFunds

	case btcjson.ErrRPCInvalidAddressOrKey:
		kind = node.ErrInvalidDestination

	case btcjson.ErrRPCVerify, errRPCVerifyRejected,
		errRPCVerifyAlreadyInChain:

		kind = node.ErrBroadcastFailed

	case btcjson.ErrRPCInWarmup:
		kind = node.ErrNodeUnavailable

	default:
		return fmt.Errorf("%v: %w", op, err)
	}

	return fmt.Errorf("%v: %w: %v", op, kind, rpcErr.Message)
}
