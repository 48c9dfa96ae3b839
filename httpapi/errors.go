package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/lightningnetwork/faucet/dispatch"
)

var (
	errInvalidAddress = errors.New("the provided address is invalid")
	errAmountTooLarge = errors.New("the requested amount is too large")
	errDust           = errors.New("the requested amount is too little")
	errInvalidNodeID  = errors.New("the provided node id is invalid")
	errInvalidLeaseID = errors.New("the provided lease id is invalid")
)

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error string `json:"error"`
}

// httpError pairs a status code with the message shown to the caller.
type httpError struct {
	status int
	msg    string
}

// errorStatus maps the errors a request can fail with to a status code and a
// message. Messages of internal failures don't leak node details.
func errorStatus(err error) httpError {
	switch {
	case errors.Is(err, dispatch.ErrInvalidRequest),
		errors.Is(err, dispatch.ErrInvalidDestination):

		return httpError{http.StatusBadRequest, requestError(err)}

	case errors.Is(err, dispatch.ErrInsufficientFunds):
		return httpError{
			http.StatusServiceUnavailable,
			"we ran out of money, sorry :/",
		}

	case errors.Is(err, dispatch.ErrNodeUnavailable):
		return httpError{
			http.StatusBadGateway, "our bitcoin node isn't working",
		}

	case errors.Is(err, dispatch.ErrBroadcastFailed):
		return httpError{
			http.StatusBadGateway,
			"the transaction could not be broadcast",
		}

	case errors.Is(err, dispatch.ErrChannelOpenFailed):
		return httpError{
			http.StatusBadGateway, "the channel could not be opened",
		}

	case errors.Is(err, dispatch.ErrLightningDisabled):
		return httpError{
			http.StatusNotFound, "channel leasing is not enabled",
		}

	case errors.Is(err, dispatch.ErrLeaseNotFound):
		return httpError{http.StatusNotFound, "lease not found"}

	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):

		return httpError{
			http.StatusServiceUnavailable,
			"the faucet is busy, try again later",
		}

	case errors.Is(err, errInvalidAddress),
		errors.Is(err, errAmountTooLarge),
		errors.Is(err, errDust),
		errors.Is(err, errInvalidNodeID),
		errors.Is(err, errInvalidLeaseID):

		return httpError{http.StatusBadRequest, err.Error()}

	default:
		return httpError{
			http.StatusInternalServerError, "internal error",
		}
	}
}

// requestError returns the message of err without the request kind the
// dispatcher adds.
func requestError(err error) string {
	var dispatchErr *dispatch.Error
	if errors.As(err, &dispatchErr) {
		return dispatchErr.Err.Error()
	}

	return err.Error()
}

// writeError writes err as a JSON error response.
func writeError(w http.ResponseWriter, err error) {
	e := errorStatus(err)
	if e.status >= http.StatusInternalServerError {
		log.Warnf("Request failed: %v", err)
	}

	writeJSON(w, e.status, &errorResponse{Error: e.msg})
}
