package httpapi

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/go-chi/chi/v5"
	"github.com/lightningnetwork/faucet/dispatch"
	"github.com/lightningnetwork/faucet/lease"
)

// sendRequest is the body of POST /send/.
type sendRequest struct {
	Address string `json:"address"`
	Amount  int64  `json:"amount"`
}

// sendResponse is returned for a successful send.
type sendResponse struct {
	Txid    string `json:"txid"`
	Address string `json:"address"`
	Amount  int64  `json:"amount"`
}

// channelRequest is the body of POST /channel/. Capacity and Duration are
// optional. Duration uses Go duration syntax, e.g. "48h".
type channelRequest struct {
	NodeID   string `json:"node_id"`
	Capacity int64  `json:"capacity,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// leaseResponse describes a lease.
type leaseResponse struct {
	ID            string    `json:"id"`
	ChannelPoint  string    `json:"channel_point"`
	NodeID        string    `json:"node_id,omitempty"`
	Capacity      int64     `json:"capacity"`
	PushAmount    int64     `json:"push_amount"`
	State         string    `json:"state"`
	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	CloseAttempts uint32    `json:"close_attempts,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
}

// listLeasesResponse is returned by GET /leases.
type listLeasesResponse struct {
	Leases []*leaseResponse `json:"leases"`
}

func marshalLease(l *lease.Lease) *leaseResponse {
	resp := &leaseResponse{
		ID:            l.ID.String(),
		ChannelPoint:  l.ChannelPoint.String(),
		Capacity:      int64(l.Capacity),
		PushAmount:    int64(l.PushAmount),
		State:         l.State.String(),
		CreatedAt:     l.CreatedAt.UTC(),
		ExpiresAt:     l.ExpiresAt.UTC(),
		CloseAttempts: l.CloseAttempts,
		LastError:     l.LastError,
	}
	if l.PeerPubKey != nil {
		resp.NodeID = hex.EncodeToString(
			l.PeerPubKey.SerializeCompressed(),
		)
	}

	return resp
}

func (s *Server) send(w http.ResponseWriter, r *http.Request) {
	var body sendRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, err)
		return
	}

	req, err := s.parseSendRequest(&body)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := s.cfg.Dispatcher.Send(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, &sendResponse{
		Txid:    res.Txid.String(),
		Address: res.Destination.String(),
		Amount:  int64(res.Amount),
	})
}

// parseSendRequest checks the address belongs to our network and the amount
// is within the configured bounds.
func (s *Server) parseSendRequest(
	body *sendRequest) (*dispatch.SendRequest, error) {

	addr, err := btcutil.DecodeAddress(body.Address, s.cfg.Net)
	if err != nil {
		return nil, errInvalidAddress
	}
	if !addr.IsForNet(s.cfg.Net) {
		return nil, errInvalidAddress
	}

	amt := btcutil.Amount(body.Amount)
	switch {
	case amt > s.cfg.MaxSendable:
		return nil, errAmountTooLarge

	case amt < s.cfg.MinSendable:
		return nil, errDust
	}

	return &dispatch.SendRequest{
		Destination: addr,
		Amount:      amt,
	}, nil
}

func (s *Server) channel(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Dispatcher.LightningEnabled() {
		writeError(w, dispatch.ErrLightningDisabled)
		return
	}

	var body channelRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, err)
		return
	}

	req, err := s.parseChannelRequest(&body)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := s.cfg.Dispatcher.Lease(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	// A lease whose channel is not usable yet was accepted but is still
	// being worked on.
	status := http.StatusOK
	if res.Lease.State == lease.StateOpening {
		status = http.StatusAccepted
	}

	writeJSON(w, status, marshalLease(res.Lease))
}

// parseChannelRequest decodes the node id and applies the capacity and
// duration defaults and bounds.
func (s *Server) parseChannelRequest(
	body *channelRequest) (*dispatch.LeaseRequest, error) {

	keyBytes, err := hex.DecodeString(body.NodeID)
	if err != nil || len(keyBytes) != btcec.PubKeyBytesLenCompressed {
		return nil, errInvalidNodeID
	}
	peer, err := btcec.ParsePubKey(keyBytes)
	if err != nil {
		return nil, errInvalidNodeID
	}

	capacity := s.cfg.DefaultCapacity
	if body.Capacity != 0 {
		capacity = btcutil.Amount(body.Capacity)
	}
	switch {
	case capacity <= 0:
		return nil, fmt.Errorf("%w: capacity must be positive",
			dispatch.ErrInvalidRequest)

	case capacity > s.cfg.MaxCapacity:
		return nil, fmt.Errorf("%w: capacity must not exceed %v",
			dispatch.ErrInvalidRequest, s.cfg.MaxCapacity)
	}

	duration := s.cfg.DefaultDuration
	if body.Duration != "" {
		duration, err = time.ParseDuration(body.Duration)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid duration %q",
				dispatch.ErrInvalidRequest, body.Duration)
		}
	}
	if duration < s.cfg.MinDuration || duration > s.cfg.MaxDuration {
		return nil, fmt.Errorf("%w: duration must be between %v "+
			"and %v", dispatch.ErrInvalidRequest,
			s.cfg.MinDuration, s.cfg.MaxDuration)
	}

	return &dispatch.LeaseRequest{
		PeerPubKey: peer,
		Capacity:   capacity,
		Duration:   duration,
	}, nil
}

func (s *Server) leaseStatus(w http.ResponseWriter, r *http.Request) {
	id, err := lease.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, errInvalidLeaseID)
		return
	}

	l, err := s.cfg.Dispatcher.LeaseStatus(id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, marshalLease(l))
}

func (s *Server) listLeases(w http.ResponseWriter, _ *http.Request) {
	if !s.cfg.Dispatcher.LightningEnabled() {
		writeError(w, dispatch.ErrLightningDisabled)
		return
	}

	leases := s.cfg.Dispatcher.ListLeases()

	resp := &listLeasesResponse{
		Leases: make([]*leaseResponse, 0, len(leases)),
	}
	for _, l := range leases {
		resp.Leases = append(resp.Leases, marshalLease(l))
	}

	writeJSON(w, http.StatusOK, resp)
}
