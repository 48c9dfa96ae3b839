// Package lnnode implements the node facade on top of an lnd node reached
// over gRPC. The same lnd wallet funds on-chain sends and channel opens.
package lnnode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/faucet/node"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/macaroons"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"gopkg.in/macaroon.v2"
)

// Config holds the settings of the lnd node.
type Config struct {
	// Client is the connected lnd client.
	Client lnrpc.LightningClient

	// TargetConf is the confirmation target used to estimate fees for
	// sends and channel funding. Zero leaves it to lnd.
	TargetConf int32

	// MinConfs is the number of confirmations the outputs funding a
	// channel need. Zero allows unconfirmed outputs.
	MinConfs int32

	// Private opens unannounced channels.
	Private bool
}

// LndNode is a node.WalletNode and node.ChannelNode backed by lnd.
type LndNode struct {
	cfg *Config
}

// A compile time check to ensure LndNode implements the node interfaces.
var (
	_ node.WalletNode  = (*LndNode)(nil)
	_ node.ChannelNode = (*LndNode)(nil)
)

// New creates a new lnd node.
func New(cfg *Config) *LndNode {
	return &LndNode{cfg: cfg}
}

// Dial connects to lnd using its TLS certificate and a macaroon.
func Dial(host, tlsCertPath, macaroonPath string) (*grpc.ClientConn, error) {
	tlsCreds, err := credentials.NewClientTLSFromFile(tlsCertPath, "")
	if err != nil {
		return nil, fmt.Errorf("unable to read TLS cert: %w", err)
	}

	macBytes, err := os.ReadFile(macaroonPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read macaroon: %w", err)
	}
	mac := &macaroon.Macaroon{}
	if err := mac.UnmarshalBinary(macBytes); err != nil {
		return nil, fmt.Errorf("unable to decode macaroon: %w", err)
	}
	macCred, err := macaroons.NewMacaroonCredential(mac)
	if err != nil {
		return nil, err
	}

	conn, err := grpc.NewClient(
		host,
		grpc.WithTransportCredentials(tlsCreds),
		grpc.WithPerRPCCredentials(macCred),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to lnd: %w", err)
	}

	log.Infof("Using lnd at %v", host)

	return conn, nil
}

// SpendableBalance returns lnd's confirmed wallet balance minus the amount
// it keeps in reserve for anchor channels.
func (n *LndNode) SpendableBalance(
	ctx context.Context) (btcutil.Amount, error) {

	resp, err := n.cfg.Client.WalletBalance(
		ctx, &lnrpc.WalletBalanceRequest{},
	)
	if err != nil {
		return 0, mapRPCError(
			"walletbalance", err, node.ErrNodeUnavailable,
		)
	}

	balance := resp.ConfirmedBalance - resp.ReservedBalanceAnchorChan
	if balance < 0 {
		balance = 0
	}

	return btcutil.Amount(balance), nil
}

// SendToAddress pays amt to addr from lnd's wallet.
func (n *LndNode) SendToAddress(ctx context.Context, addr btcutil.Address,
	amt btcutil.Amount) (*chainhash.Hash, error) {

	resp, err := n.cfg.Client.SendCoins(ctx, &lnrpc.SendCoinsRequest{
		Addr:       addr.EncodeAddress(),
		Amount:     int64(amt),
		TargetConf: n.cfg.TargetConf,
	})
	if err != nil {
		return nil, mapRPCError("sendcoins", err, node.ErrBroadcastFailed)
	}

	txid, err := chainhash.NewHashFromStr(resp.Txid)
	if err != nil {
		return nil, fmt.Errorf("invalid txid %q from lnd: %w",
			resp.Txid, err)
	}

	return txid, nil
}

// OpenChannel opens a channel and returns once the funding transaction is
// published.
func (n *LndNode) OpenChannel(ctx context.Context,
	req *node.OpenChannelRequest) (wire.OutPoint, error) {

	chanPoint, err := n.cfg.Client.OpenChannelSync(
		ctx, &lnrpc.OpenChannelRequest{
			NodePubkey:         req.Peer.SerializeCompressed(),
			LocalFundingAmount: int64(req.Capacity),
			PushSat:            int64(req.PushAmount),
			TargetConf:         n.cfg.TargetConf,
			Private:            n.cfg.Private,
			MinConfs:           n.cfg.MinConfs,
			SpendUnconfirmed:   n.cfg.MinConfs == 0,
		},
	)
	if err != nil {
		return wire.OutPoint{}, mapRPCError(
			"openchannel", err, node.ErrChannelOpenFailed,
		)
	}

	txid, err := lnrpc.GetChanPointFundingTxid(chanPoint)
	if err != nil {
		return wire.OutPoint{}, fmt.Errorf("invalid channel point "+
			"from lnd: %w", err)
	}

	op := wire.OutPoint{Hash: *txid, Index: chanPoint.OutputIndex}
	log.Infof("Opened channel %v with %x", op,
		req.Peer.SerializeCompressed())

	return op, nil
}

// CloseChannel requests a cooperative close and returns once lnd reports
// the closing transaction as broadcast.
func (n *LndNode) CloseChannel(ctx context.Context,
	chanPoint wire.OutPoint) error {

	// The stream lives until the close confirms, we only wait for the
	// pending update.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := n.cfg.Client.CloseChannel(
		ctx, &lnrpc.CloseChannelRequest{
			ChannelPoint: rpcChanPoint(chanPoint),
			TargetConf:   n.cfg.TargetConf,
		},
	)
	if err != nil {
		return mapRPCError(
			"closechannel", err, node.ErrChannelCloseFailed,
		)
	}

	for {
		update, err := stream.Recv()
		switch {
		case errors.Is(err, io.EOF):
			return fmt.Errorf("%w: %v", node.ErrChannelCloseFailed,
				errCloseStream)

		case err != nil:
			return mapRPCError(
				"closechannel", err, node.ErrChannelCloseFailed,
			)
		}

		if pending := update.GetClosePending(); pending != nil {
			txid, err := chainhash.NewHash(pending.Txid)
			if err == nil {
				log.Infof("Closing channel %v in tx %v",
					chanPoint, txid)
			}

			return nil
		}

		if update.GetChanClose() != nil {
			return nil
		}
	}
}

// ChannelStatus looks the channel up among lnd's open, pending and closed
// channels.
func (n *LndNode) ChannelStatus(ctx context.Context,
	chanPoint wire.OutPoint) (node.ChannelStatus, error) {

	target := chanPoint.String()

	open, err := n.cfg.Client.ListChannels(
		ctx, &lnrpc.ListChannelsRequest{},
	)
	if err != nil {
		return 0, mapRPCError(
			"listchannels", err, node.ErrNodeUnavailable,
		)
	}
	for _, c := range open.Channels {
		if c.ChannelPoint == target {
			return node.ChannelActive, nil
		}
	}

	pending, err := n.cfg.Client.PendingChannels(
		ctx, &lnrpc.PendingChannelsRequest{},
	)
	if err != nil {
		return 0, mapRPCError(
			"pendingchannels", err, node.ErrNodeUnavailable,
		)
	}
	for _, c := range pending.PendingOpenChannels {
		if c.Channel != nil && c.Channel.ChannelPoint == target {
			return node.ChannelPending, nil
		}
	}
	for _, c := range pending.WaitingCloseChannels {
		if c.Channel != nil && c.Channel.ChannelPoint == target {
			return node.ChannelClosing, nil
		}
	}
	for _, c := range pending.PendingForceClosingChannels {
		if c.Channel != nil && c.Channel.ChannelPoint == target {
			return node.ChannelClosing, nil
		}
	}

	closed, err := n.cfg.Client.ClosedChannels(
		ctx, &lnrpc.ClosedChannelsRequest{},
	)
	if err != nil {
		return 0, mapRPCError(
			"closedchannels", err, node.ErrNodeUnavailable,
		)
	}
	for _, c := range closed.Channels {
		if c.ChannelPoint == target {
			return node.ChannelClosed, nil
		}
	}

	return 0, fmt.Errorf("%w: %v", node.ErrUnknownChannel, chanPoint)
}

// Ping checks that lnd answers and is synced to the chain. It is used as a
// health check.
func (n *LndNode) Ping(ctx context.Context) error {
	info, err := n.cfg.Client.GetInfo(ctx, &lnrpc.GetInfoRequest{})
	if err != nil {
		return mapRPCError("getinfo", err, node.ErrNodeUnavailable)
	}

	if !info.SyncedToChain {
		return fmt.Errorf("%w: lnd not synced to chain",
			node.ErrNodeUnavailable)
	}

	return nil
}

// rpcChanPoint converts an outpoint into its lnrpc form.
func rpcChanPoint(op wire.OutPoint) *lnrpc.ChannelPoint {
	return &lnrpc.ChannelPoint{
		FundingTxid: &lnrpc.ChannelPoint_FundingTxidBytes{
			FundingTxidBytes: op.Hash[:],
		},
		OutputIndex: op.Index,
	}
}
