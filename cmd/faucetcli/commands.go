package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli"
)

func printJSON(resp interface{}) {
	b, err := json.MarshalIndent(resp, "", "    ")
	if err != nil {
		fatal(err)
	}

	_, _ = fmt.Fprintln(os.Stdout, string(b))
}

func getClient(ctx *cli.Context) *client {
	return newClient(
		ctx.GlobalString("server"), ctx.GlobalDuration("timeout"),
	)
}

var sendCommand = cli.Command{
	Name:      "send",
	Category:  "On-chain",
	Usage:     "Request an on-chain payment.",
	ArgsUsage: "addr amt",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "addr",
			Usage: "the address to send coins to",
		},
		cli.Int64Flag{
			Name:  "amt",
			Usage: "the number of satoshis to send",
		},
	},
	Action: send,
}

func send(ctx *cli.Context) error {
	args := ctx.Args()

	addr := ctx.String("addr")
	if addr == "" && args.Present() {
		addr = args.First()
		args = args.Tail()
	}

	amt := ctx.Int64("amt")
	if !ctx.IsSet("amt") && args.Present() {
		if _, err := fmt.Sscan(args.First(), &amt); err != nil {
			return fmt.Errorf("unable to decode amount: %w", err)
		}
	}

	if addr == "" || amt == 0 {
		return cli.ShowCommandHelp(ctx, "send")
	}

	var resp map[string]interface{}
	err := getClient(ctx).do(
		context.Background(), http.MethodPost, "/send/",
		map[string]interface{}{"address": addr, "amount": amt}, &resp,
	)
	if err != nil {
		return err
	}

	printJSON(resp)

	return nil
}

var leaseCommand = cli.Command{
	Name:      "lease",
	Category:  "Channels",
	Usage:     "Request an inbound channel for a limited time.",
	ArgsUsage: "node_key",
	Description: `
	Ask the faucet to open a channel to the given node. The channel is
	closed again once the lease expires. If the channel is not usable
	before the faucet stops waiting, the lease is returned in the opening
	state and can be followed with leasestatus.`,
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "node_key",
			Usage: "the identity public key of the node, hex encoded",
		},
		cli.Int64Flag{
			Name:  "capacity",
			Usage: "the channel capacity in satoshis, the faucet's default if unset",
		},
		cli.StringFlag{
			Name:  "duration",
			Usage: "the lease duration, e.g. 48h, the faucet's default if unset",
		},
	},
	Action: leaseChannel,
}

func leaseChannel(ctx *cli.Context) error {
	nodeKey := ctx.String("node_key")
	if nodeKey == "" && ctx.Args().Present() {
		nodeKey = ctx.Args().First()
	}
	if nodeKey == "" {
		return cli.ShowCommandHelp(ctx, "lease")
	}

	req := map[string]interface{}{"node_id": nodeKey}
	if ctx.IsSet("capacity") {
		req["capacity"] = ctx.Int64("capacity")
	}
	if ctx.IsSet("duration") {
		req["duration"] = ctx.String("duration")
	}

	var resp map[string]interface{}
	err := getClient(ctx).do(
		context.Background(), http.MethodPost, "/channel/", req, &resp,
	)
	if err != nil {
		return err
	}

	printJSON(resp)

	return nil
}

var leaseStatusCommand = cli.Command{
	Name:      "leasestatus",
	Category:  "Channels",
	Usage:     "Show the state of a lease.",
	ArgsUsage: "lease_id",
	Action:    leaseStatus,
}

func leaseStatus(ctx *cli.Context) error {
	if !ctx.Args().Present() {
		return cli.ShowCommandHelp(ctx, "leasestatus")
	}

	var resp map[string]interface{}
	err := getClient(ctx).do(
		context.Background(), http.MethodGet,
		"/lease/"+url.PathEscape(ctx.Args().First()), nil, &resp,
	)
	if err != nil {
		return err
	}

	printJSON(resp)

	return nil
}

var listLeasesCommand = cli.Command{
	Name:     "listleases",
	Category: "Channels",
	Usage:    "List the leases in flight.",
	Flags: []cli.Flag{
		cli.BoolFlag{
			Name:  "table",
			Usage: "print the leases as a table instead of JSON",
		},
	},
	Action: listLeases,
}

// leaseEntry holds the lease fields shown in table output.
type leaseEntry struct {
	ID           string `json:"id"`
	ChannelPoint string `json:"channel_point"`
	Capacity     int64  `json:"capacity"`
	State        string `json:"state"`
	ExpiresAt    string `json:"expires_at"`
	LastError    string `json:"last_error"`
}

func listLeases(ctx *cli.Context) error {
	if ctx.Bool("table") {
		var resp struct {
			Leases []leaseEntry `json:"leases"`
		}
		err := getClient(ctx).do(
			context.Background(), http.MethodGet, "/leases", nil,
			&resp,
		)
		if err != nil {
			return err
		}

		printLeaseTable(os.Stdout, resp.Leases)

		return nil
	}

	var resp map[string]interface{}
	err := getClient(ctx).do(
		context.Background(), http.MethodGet, "/leases", nil, &resp,
	)
	if err != nil {
		return err
	}

	printJSON(resp)

	return nil
}

func printLeaseTable(w io.Writer, leases []leaseEntry) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{
		"ID", "Channel Point", "Capacity", "State", "Expires At",
		"Last Error",
	})
	for _, l := range leases {
		t.AppendRow(table.Row{
			l.ID, l.ChannelPoint, l.Capacity, l.State, l.ExpiresAt,
			l.LastError,
		})
	}
	t.Render()
}
