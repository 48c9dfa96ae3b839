package lnnode

import (
	"context"
	"io"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/faucet/node"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// fakeLightning overrides the lnd calls the node makes. Calling any other
// method panics on the nil embedded interface.
type fakeLightning struct {
	lnrpc.LightningClient

	balance  *lnrpc.WalletBalanceResponse
	sendErr  error
	openReq  *lnrpc.OpenChannelRequest
	openResp *lnrpc.ChannelPoint

	closeUpdates []*lnrpc.CloseStatusUpdate
	closeErr     error

	open    []*lnrpc.Channel
	pending *lnrpc.PendingChannelsResponse
	closed  []*lnrpc.ChannelCloseSummary
}

func (f *fakeLightning) WalletBalance(context.Context,
	*lnrpc.WalletBalanceRequest,
	...grpc.CallOption) (*lnrpc.WalletBalanceResponse, error) {

	return f.balance, nil
}

func (f *fakeLightning) SendCoins(_ context.Context,
	req *lnrpc.SendCoinsRequest,
	_ ...grpc.CallOption) (*lnrpc.SendCoinsResponse, error) {

	if f.sendErr != nil {
		return nil, f.sendErr
	}

	return &lnrpc.SendCoinsResponse{
		Txid: chainhash.HashH([]byte(req.Addr)).String(),
	}, nil
}

func (f *fakeLightning) OpenChannelSync(_ context.Context,
	req *lnrpc.OpenChannelRequest,
	_ ...grpc.CallOption) (*lnrpc.ChannelPoint, error) {

	f.openReq = req

	return f.openResp, nil
}

func (f *fakeLightning) CloseChannel(context.Context,
	*lnrpc.CloseChannelRequest,
	...grpc.CallOption) (lnrpc.Lightning_CloseChannelClient, error) {

	if f.closeErr != nil {
		return nil, f.closeErr
	}

	return &fakeCloseStream{updates: f.closeUpdates}, nil
}

func (f *fakeLightning) ListChannels(context.Context,
	*lnrpc.ListChannelsRequest,
	...grpc.CallOption) (*lnrpc.ListChannelsResponse, error) {

	return &lnrpc.ListChannelsResponse{Channels: f.open}, nil
}

func (f *fakeLightning) PendingChannels(context.Context,
	*lnrpc.PendingChannelsRequest,
	...grpc.CallOption) (*lnrpc.PendingChannelsResponse, error) {

	if f.pending == nil {
		return &lnrpc.PendingChannelsResponse{}, nil
	}

	return f.pending, nil
}

func (f *fakeLightning) ClosedChannels(context.Context,
	*lnrpc.ClosedChannelsRequest,
	...grpc.CallOption) (*lnrpc.ClosedChannelsResponse, error) {

	return &lnrpc.ClosedChannelsResponse{Channels: f.closed}, nil
}

type fakeCloseStream struct {
	grpc.ClientStream

	updates []*lnrpc.CloseStatusUpdate
}

func (s *fakeCloseStream) Recv() (*lnrpc.CloseStatusUpdate, error) {
	if len(s.updates) == 0 {
		return nil, io.EOF
	}

	u := s.updates[0]
	s.updates = s.updates[1:]

	return u, nil
}

func testChanPoint() wire.OutPoint {
	return wire.OutPoint{Hash: chainhash.HashH([]byte("chan")), Index: 1}
}

// TestSpendableBalance checks the anchor reserve is not spendable.
func TestSpendableBalance(t *testing.T) {
	t.Parallel()

	f := &fakeLightning{
		balance: &lnrpc.WalletBalanceResponse{
			ConfirmedBalance:          100_000,
			ReservedBalanceAnchorChan: 10_000,
		},
	}
	n := New(&Config{Client: f})

	balance, err := n.SpendableBalance(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 90_000, balance)

	f.balance.ReservedBalanceAnchorChan = 200_000
	balance, err = n.SpendableBalance(context.Background())
	require.NoError(t, err)
	require.Zero(t, balance)
}

// TestSendErrors checks lnd's failures map to the node error kinds.
func TestSendErrors(t *testing.T) {
	t.Parallel()

	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		make([]byte, 20), &chaincfg.SigNetParams,
	)
	require.NoError(t, err)

	tests := []struct {
		name string
		err  error
		want error
	}{
		{
			name: "unavailable",
			err:  status.Error(codes.Unavailable, "conn refused"),
			want: node.ErrNodeUnavailable,
		},
		{
			name: "insufficient",
			err: status.Error(
				codes.Unknown, "insufficient funds available "+
					"to construct transaction",
			),
			want: node.ErrInsufficientFunds,
		},
		{
			name: "address",
			err: status.Error(
				codes.Unknown, "unable to decode address",
			),
			want: node.ErrInvalidDestination,
		},
		{
			name: "other",
			err:  status.Error(codes.Unknown, "mempool full"),
			want: node.ErrBroadcastFailed,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			n := New(&Config{
				Client: &fakeLightning{sendErr: test.err},
			})
			_, err := n.SendToAddress(
				context.Background(), addr, 1_000,
			)
			require.ErrorIs(t, err, test.want)
		})
	}

	n := New(&Config{Client: &fakeLightning{}})
	txid, err := n.SendToAddress(context.Background(), addr, 1_000)
	require.NoError(t, err)
	require.Equal(t, chainhash.HashH([]byte(addr.EncodeAddress())), *txid)
}

// TestOpenChannel checks the open request and the returned channel point.
func TestOpenChannel(t *testing.T) {
	t.Parallel()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	cp := testChanPoint()
	f := &fakeLightning{openResp: rpcChanPoint(cp)}
	n := New(&Config{Client: f})

	got, err := n.OpenChannel(context.Background(), &node.OpenChannelRequest{
		Peer:       priv.PubKey(),
		Capacity:   1_000_000,
		PushAmount: 10_000,
	})
	require.NoError(t, err)
	require.Equal(t, cp, got)

	require.Equal(t, priv.PubKey().SerializeCompressed(),
		f.openReq.NodePubkey)
	require.EqualValues(t, 1_000_000, f.openReq.LocalFundingAmount)
	require.EqualValues(t, 10_000, f.openReq.PushSat)
	require.True(t, f.openReq.SpendUnconfirmed)
	require.False(t, f.openReq.Private)
}

// TestCloseChannel checks the close returns on the pending update and maps
// failures.
func TestCloseChannel(t *testing.T) {
	t.Parallel()

	f := &fakeLightning{
		closeUpdates: []*lnrpc.CloseStatusUpdate{{
			Update: &lnrpc.CloseStatusUpdate_ClosePending{
				ClosePending: &lnrpc.PendingUpdate{
					Txid: make([]byte, 32),
				},
			},
		}},
	}
	n := New(&Config{Client: f})
	require.NoError(t, n.CloseChannel(context.Background(), testChanPoint()))

	f.closeUpdates = nil
	err := n.CloseChannel(context.Background(), testChanPoint())
	require.ErrorIs(t, err, node.ErrChannelCloseFailed)

	f.closeErr = status.Error(codes.Unknown, "unable to find channel")
	err = n.CloseChannel(context.Background(), testChanPoint())
	require.ErrorIs(t, err, node.ErrUnknownChannel)

	f.closeErr = status.Error(codes.Unknown, "channel not found")
	err = n.CloseChannel(context.Background(), testChanPoint())
	require.ErrorIs(t, err, node.ErrUnknownChannel)

	// A close towards an offline peer is a plain close failure.
	f.closeErr = status.Error(codes.Unknown, "unable to gracefully "+
		"close channel while peer is offline (try force closing it "+
		"instead): channel link not found")
	err = n.CloseChannel(context.Background(), testChanPoint())
	require.ErrorIs(t, err, node.ErrChannelCloseFailed)
	require.NotErrorIs(t, err, node.ErrUnknownChannel)

	f.closeErr = status.Error(codes.Unavailable, "offline")
	err = n.CloseChannel(context.Background(), testChanPoint())
	require.ErrorIs(t, err, node.ErrNodeUnavailable)
}

// TestChannelStatus checks the lookup across lnd's channel lists.
func TestChannelStatus(t *testing.T) {
	t.Parallel()

	cp := testChanPoint()
	pendingChan := &lnrpc.PendingChannelsResponse_PendingChannel{
		ChannelPoint: cp.String(),
	}

	tests := []struct {
		name string
		f    *fakeLightning
		want node.ChannelStatus
	}{
		{
			name: "open",
			f: &fakeLightning{open: []*lnrpc.Channel{
				{ChannelPoint: cp.String()},
			}},
			want: node.ChannelActive,
		},
		{
			name: "pending open",
			f: &fakeLightning{
				pending: &lnrpc.PendingChannelsResponse{
					PendingOpenChannels: []*lnrpc.PendingChannelsResponse_PendingOpenChannel{{
						Channel: pendingChan,
					}},
				},
			},
			want: node.ChannelPending,
		},
		{
			name: "waiting close",
			f: &fakeLightning{
				pending: &lnrpc.PendingChannelsResponse{
					WaitingCloseChannels: []*lnrpc.PendingChannelsResponse_WaitingCloseChannel{{
						Channel: pendingChan,
					}},
				},
			},
			want: node.ChannelClosing,
		},
		{
			name: "force closing",
			f: &fakeLightning{
				pending: &lnrpc.PendingChannelsResponse{
					PendingForceClosingChannels: []*lnrpc.PendingChannelsResponse_ForceClosedChannel{{
						Channel: pendingChan,
					}},
				},
			},
			want: node.ChannelClosing,
		},
		{
			name: "closed",
			f: &fakeLightning{closed: []*lnrpc.ChannelCloseSummary{
				{ChannelPoint: cp.String()},
			}},
			want: node.ChannelClosed,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			got, err := New(&Config{Client: test.f}).ChannelStatus(
				context.Background(), cp,
			)
			require.NoError(t, err)
			require.Equal(t, test.want, got)
		})
	}

	_, err := New(&Config{Client: &fakeLightning{}}).ChannelStatus(
		context.Background(), cp,
	)
	require.ErrorIs(t, err, node.ErrUnknownChannel)
}
