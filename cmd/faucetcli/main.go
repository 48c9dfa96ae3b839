package main

import (
	"fmt"
	"os"

	"github.com/lightningnetwork/faucet/build"
	"github.com/urfave/cli"
)

const defaultServer = "http://localhost:8080"

func fatal(err error) {
	_, _ = fmt.Fprintf(os.Stderr, "[faucetcli] %v\n", err)
	os.Exit(1)
}

func main() {
	app := cli.NewApp()
	app.Name = "faucetcli"
	app.Version = build.Version() + " commit=" + build.Commit
	app.Usage = "control plane for the faucet daemon (faucetd)"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "server",
			Value:  defaultServer,
			EnvVar: "FAUCET_SERVER",
			Usage:  "The URL of the faucet's HTTP API.",
		},
		cli.DurationFlag{
			Name:  "timeout",
			Value: defaultTimeout,
			Usage: "How long to wait for the faucet to respond.",
		},
	}
	app.Commands = []cli.Command{
		sendCommand,
		leaseCommand,
		leaseStatusCommand,
		listLeasesCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}
