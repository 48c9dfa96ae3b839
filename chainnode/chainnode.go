// Package chainnode implements the wallet half of the node facade on top of
// a bitcoind wallet reached over JSON-RPC.
package chainnode

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/faucet/node"
)

const (
	// DefaultFee is the absolute fee paid by transactions built in manual
	// mode.
	DefaultFee btcutil.Amount = 1_000

	// dustLimit is the smallest change output that is worth creating.
	// Anything below goes to the fee.
	dustLimit btcutil.Amount = 546
)

// SendMode selects how payments are built.
type SendMode string

const (
	// SendModeWallet lets the wallet select coins and fees.
	SendModeWallet SendMode = "wallet"

	// SendModeManual selects coins itself and pays a fixed fee, with the
	// change going to a configured address.
	SendModeManual SendMode = "manual"
)

// RPCClient is the subset of the bitcoind JSON-RPC interface the chain node
// uses. It is satisfied by *rpcclient.Client.
type RPCClient interface {
	GetBalance(account string) (btcutil.Amount, error)
	SendToAddress(address btcutil.Address,
		amount btcutil.Amount) (*chainhash.Hash, error)
	ListUnspent() ([]btcjson.ListUnspentResult, error)
	CreateRawTransaction(inputs []btcjson.TransactionInput,
		amounts map[btcutil.Address]btcutil.Amount,
		lockTime *int64) (*wire.MsgTx, error)
	SignRawTransactionWithWallet(tx *wire.MsgTx) (*wire.MsgTx, bool,
		error)
	SendRawTransaction(tx *wire.MsgTx,
		allowHighFees bool) (*chainhash.Hash, error)
	GetBlockCount() (int64, error)
}

// A compile time check to ensure rpcclient.Client satisfies RPCClient.
var _ RPCClient = (*rpcclient.Client)(nil)

// Config holds the settings of the chain node.
type Config struct {
	// RPC is the connected bitcoind client.
	RPC RPCClient

	// Mode selects how payments are built.
	Mode SendMode

	// ChangeAddress receives the change in manual mode.
	ChangeAddress btcutil.Address

	// Fee is the absolute fee paid in manual mode.
	Fee btcutil.Amount
}

// ChainNode is a bitcoind wallet. It implements node.WalletNode and, since it
// has no lightning support, answers channel operations with
// node.ErrLightningDisabled.
type ChainNode struct {
	cfg *Config
}

// A compile time check to ensure ChainNode implements the node interfaces.
var (
	_ node.WalletNode  = (*ChainNode)(nil)
	_ node.ChannelNode = (*ChainNode)(nil)
)

// New creates a chain node from an existing RPC client.
func New(cfg *Config) (*ChainNode, error) {
	switch cfg.Mode {
	case "":
		cfg.Mode = SendModeWallet

	case SendModeWallet:

	case SendModeManual:
		if cfg.ChangeAddress == nil {
			return nil, errors.New("manual send mode requires a " +
				"change address")
		}
		if cfg.Fee == 0 {
			cfg.Fee = DefaultFee
		}

	default:
		return nil, fmt.Errorf("unknown send mode %q", cfg.Mode)
	}

	return &ChainNode{cfg: cfg}, nil
}

// ConnConfig returns the JSON-RPC connection settings for a bitcoind node.
// If cookiePath is set it takes precedence over user and pass.
func ConnConfig(host, user, pass, cookiePath string) *rpcclient.ConnConfig {
	return &rpcclient.ConnConfig{
		Host:                 host,
		User:                 user,
		Pass:                 pass,
		CookiePath:           cookiePath,
		DisableConnectOnNew:  true,
		DisableAutoReconnect: false,
		DisableTLS:           true,
		HTTPPostMode:         true,
	}
}

// Dial connects to bitcoind.
func Dial(connCfg *rpcclient.ConnConfig) (*rpcclient.Client, error) {
	client, err := rpcclient.New(connCfg, nil)
	if err != nil {
		return nil, fmt.Errorf("unable to create bitcoind client: %w",
			err)
	}

	log.Infof("Using bitcoind at %v", connCfg.Host)

	return client, nil
}

// SpendableBalance returns the wallet balance.
func (c *ChainNode) SpendableBalance(
	ctx context.Context) (btcutil.Amount, error) {

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	balance, err := c.cfg.RPC.GetBalance("*")
	if err != nil {
		return 0, mapRPCError("getbalance", err)
	}

	return balance, nil
}

// SendToAddress pays amt to addr.
func (c *ChainNode) SendToAddress(ctx context.Context, addr btcutil.Address,
	amt btcutil.Amount) (*chainhash.Hash, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if c.cfg.Mode == SendModeManual {
		return c.sendManual(addr, amt)
	}

	txid, err := c.cfg.RPC.SendToAddress(addr, amt)
	if err != nil {
		return nil, mapRPCError("sendtoaddress", err)
	}

	return txid, nil
}

// sendManual builds the payment from the wallet's unspent outputs, has the
// wallet sign it and broadcasts it.
func (c *ChainNode) sendManual(addr btcutil.Address,
	amt btcutil.Amount) (*chainhash.Hash, error) {

	unspent, err := c.cfg.RPC.ListUnspent()
	if err != nil {
		return nil, mapRPCError("listunspent", err)
	}

	inputs, change, err := selectCoins(unspent, amt+c.cfg.Fee)
	if err != nil {
		return nil, err
	}

	outputs := map[btcutil.Address]btcutil.Amount{
		addr: amt,
	}
	if change >= dustLimit {
		outputs[c.cfg.ChangeAddress] = change
	}

	tx, err := c.cfg.RPC.CreateRawTransaction(inputs, outputs, nil)
	if err != nil {
		return nil, mapRPCError("createrawtransaction", err)
	}

	signed, complete, err := c.cfg.RPC.SignRawTransactionWithWallet(tx)
	if err != nil {
		return nil, mapRPCError("signrawtransactionwithwallet", err)
	}
	if !complete {
		return nil, fmt.Errorf("%w: wallet could not sign all inputs",
			node.ErrBroadcastFailed)
	}

	txid, err := c.cfg.RPC.SendRawTransaction(signed, false)
	if err != nil {
		return nil, mapRPCError("sendrawtransaction", err)
	}

	log.Debugf("Broadcast manual tx %v spending %d input(s)", txid,
		len(inputs))

	return txid, nil
}

// selectCoins takes spendable outputs from the end of the list until target
// is covered and returns them with the change left over.
func selectCoins(unspent []btcjson.ListUnspentResult,
	target btcutil.Amount) ([]btcjson.TransactionInput, btcutil.Amount,
	error) {

	var (
		inputs   []btcjson.TransactionInput
		selected btcutil.Amount
	)
	for i := len(unspent) - 1; i >= 0 && selected < target; i-- {
		utxo := unspent[i]
		if !utxo.Spendable {
			continue
		}

		amt, err := btcutil.NewAmount(utxo.Amount)
		if err != nil {
			return nil, 0, fmt.Errorf("invalid utxo amount %v: %w",
				utxo.Amount, err)
		}

		inputs = append(inputs, btcjson.TransactionInput{
			Txid: utxo.TxID,
			Vout: utxo.Vout,
		})
		selected += amt
	}

	if selected < target {
		return nil, 0, fmt.Errorf("%w: unspent outputs cover %v of %v",
			node.ErrInsufficientFunds, selected, target)
	}

	return inputs, selected - target, nil
}

// OpenChannel is not supported by a chain only node.
func (c *ChainNode) OpenChannel(context.Context,
	*node.OpenChannelRequest) (wire.OutPoint, error) {

	return wire.OutPoint{}, node.ErrLightningDisabled
}

// CloseChannel is not supported by a chain only node.
func (c *ChainNode) CloseChannel(context.Context, wire.OutPoint) error {
	return node.ErrLightningDisabled
}

// ChannelStatus is not supported by a chain only node.
func (c *ChainNode) ChannelStatus(context.Context,
	wire.OutPoint) (node.ChannelStatus, error) {

	return 0, node.ErrLightningDisabled
}

// Ping checks that bitcoind answers. It is used as a health check.
func (c *ChainNode) Ping() error {
	if _, err := c.cfg.RPC.GetBlockCount(); err != nil {
		return mapRPCError("getblockcount", err)
	}

	return nil
}
