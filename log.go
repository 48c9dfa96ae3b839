package faucet

import (
	"github.com/btcsuite/btclog/v2"
	"github.com/lightningnetwork/faucet/build"
	"github.com/lightningnetwork/faucet/chainnode"
	"github.com/lightningnetwork/faucet/dispatch"
	"github.com/lightningnetwork/faucet/eventbus"
	"github.com/lightningnetwork/faucet/httpapi"
	"github.com/lightningnetwork/faucet/lease"
	"github.com/lightningnetwork/faucet/lnnode"
	"github.com/lightningnetwork/faucet/walletlock"
)

// Subsystem defines the logging code for the daemon itself.
const Subsystem = "FCET"

// log is the daemon's own logger. It is replaced by SetupLoggers.
var log = build.NewSubLogger(Subsystem, nil)

// SetupLoggers initializes all package-global logger variables.
func SetupLoggers(root *build.SubLoggerManager) {
	genLogger := root.GenSubLogger

	log = build.NewSubLogger(Subsystem, genLogger)

	AddSubLogger(root, walletlock.Subsystem, walletlock.UseLogger)
	AddSubLogger(root, lease.Subsystem, lease.UseLogger)
	AddSubLogger(root, dispatch.Subsystem, dispatch.UseLogger)
	AddSubLogger(root, chainnode.Subsystem, chainnode.UseLogger)
	AddSubLogger(root, lnnode.Subsystem, lnnode.UseLogger)
	AddSubLogger(root, httpapi.Subsystem, httpapi.UseLogger)
	AddSubLogger(root, eventbus.Subsystem, eventbus.UseLogger)
}

// AddSubLogger is a helper method to conveniently create and register the
// logger of one or more sub systems.
func AddSubLogger(root *build.SubLoggerManager, subsystem string,
	useLoggers ...func(btclog.Logger)) {

	// Create and register just a single logger to prevent them from
	// overwriting each other internally.
	logger := build.NewSubLogger(subsystem, root.GenSubLogger)
	for _, useLogger := range useLoggers {
		useLogger(logger)
	}
}
