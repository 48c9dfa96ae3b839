// Package faucet wires the faucet daemon together: the node connections, the
// wallet coordinator, the lease lifecycle and the HTTP API.
package faucet

import (
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/faucet/build"
	"github.com/lightningnetwork/faucet/chainnode"
	"github.com/lightningnetwork/faucet/dispatch"
	"github.com/lightningnetwork/faucet/eventbus"
	"github.com/lightningnetwork/faucet/httpapi"
	"github.com/lightningnetwork/faucet/lease"
	"github.com/lightningnetwork/faucet/lnnode"
	"github.com/lightningnetwork/faucet/metrics"
	"github.com/lightningnetwork/faucet/node"
	"github.com/lightningnetwork/faucet/walletlock"
	"github.com/lightningnetwork/lnd/healthcheck"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/signal"
	"github.com/lightningnetwork/lnd/ticker"
	"golang.org/x/sync/errgroup"
)

const (
	// boltOpenTimeout bounds the wait for the lease database's file lock.
	boltOpenTimeout = 10 * time.Second

	// shutdownTimeout bounds the wait for in-flight HTTP requests on
	// shutdown.
	shutdownTimeout = 30 * time.Second
)

// pinger checks that a node answers.
type pinger struct {
	name string
	ping func(ctx context.Context) error
}

// nodes is the node facade together with the health checks of the nodes
// behind it.
type nodes struct {
	facade  *node.Facade
	pingers []pinger
	cleanup func()
}

// Main is the true entry point of the faucet daemon. It blocks until a
// shutdown is requested through the interceptor.
func Main(cfg *Config, interceptor signal.Interceptor) error {
	defer func() {
		log.Info("Shutdown complete")
		if err := cfg.LogFile.Close(); err != nil {
			fmt.Printf("unable to close log file: %v\n", err)
		}
	}()

	log.Infof("Version: %s commit=%s, network=%v", build.Version(),
		build.Commit, cfg.ActiveNetParams.Name)

	m := metrics.New()

	n, err := connectNodes(cfg)
	if err != nil {
		log.Errorf("Unable to connect to nodes: %v", err)
		return err
	}
	defer n.cleanup()

	walletLock := walletlock.New(&walletlock.Config{
		ObserveWait: m.ObserveWalletWait,
	})

	// Leases only exist if channels can be opened.
	var (
		registry *lease.Registry
		leaseMgr *lease.Manager
	)
	if n.facade.LightningEnabled() {
		var store lease.Store
		if cfg.Lease.DBFile != "" {
			boltStore, err := lease.OpenBoltStore(
				cfg.Lease.DBFile, boltOpenTimeout,
			)
			if err != nil {
				return err
			}
			defer boltStore.Close()

			store = boltStore
		}

		registry, err = lease.NewRegistry(
			store, uint64(cfg.Lease.HistorySize),
		)
		if err != nil {
			return fmt.Errorf("unable to restore leases: %w", err)
		}

		// The gauges start at zero, so the restored leases are
		// counted as created.
		for _, l := range registry.List() {
			m.ObserveLeaseUpdate(lease.Update{Lease: l, Created: true})
		}

		leaseMgr = lease.NewManager(&lease.Config{
			Registry:       registry,
			Node:           n.facade.Channel,
			WalletLock:     walletLock,
			Ticker:         ticker.New(cfg.Lease.SweepInterval),
			OpenTimeout:    cfg.Lease.OpenTimeout,
			OnUpdate:       m.ObserveLeaseUpdate,
			OnCloseAttempt: m.ObserveCloseAttempt,
		})
		if err := leaseMgr.Start(); err != nil {
			return err
		}
		defer leaseMgr.Stop()
	}

	var onSend func(*dispatch.SendResult)
	if cfg.Nats.Enabled() {
		nc, err := eventbus.Connect(cfg.Nats.URL, "faucetd")
		if err != nil {
			return err
		}
		defer nc.Close()

		busCfg := &eventbus.Config{
			Publisher:     nc,
			SubjectPrefix: cfg.Nats.SubjectPrefix,
		}
		if leaseMgr != nil {
			busCfg.Leases = leaseMgr
		}

		bus := eventbus.New(busCfg)
		if err := bus.Start(); err != nil {
			return err
		}
		defer bus.Stop()

		onSend = bus.PublishSend
	}

	dispatcher := dispatch.New(&dispatch.Config{
		Node:              n.facade,
		WalletLock:        walletLock,
		Leases:            leaseMgr,
		Registry:          registry,
		FeeReserve:        btcutil.Amount(cfg.API.FeeReserve),
		PushAmount:        btcutil.Amount(cfg.Lnd.PushSat()),
		ActivationTimeout: cfg.Lease.ActivationTimeout,
		OnSend:            onSend,
		OnResult: func(kind dispatch.Kind, err error) {
			m.ObserveDispatch(string(kind), err)
		},
	})

	// A node that keeps failing its health check takes the daemon down,
	// since every request would fail anyway.
	if cfg.HealthCheck.Attempts > 0 {
		monitor := newHealthMonitor(cfg, n.pingers, interceptor)
		if err := monitor.Start(); err != nil {
			return err
		}
		defer func() {
			if err := monitor.Stop(); err != nil {
				log.Errorf("Unable to stop health monitor: %v",
					err)
			}
		}()
	}

	server := httpapi.New(&httpapi.Config{
		Listen:          cfg.API.Listen,
		Dispatcher:      dispatcher,
		Net:             cfg.ActiveNetParams,
		MinSendable:     btcutil.Amount(cfg.API.MinSendable),
		MaxSendable:     btcutil.Amount(cfg.API.MaxSendable),
		DefaultCapacity: btcutil.Amount(cfg.Lnd.ChannelValue),
		MaxCapacity:     btcutil.Amount(cfg.Lease.MaxCapacity),
		DefaultDuration: cfg.Lease.DefaultDuration,
		MinDuration:     cfg.Lease.MinDuration,
		MaxDuration:     cfg.Lease.MaxDuration,
		Metrics:         m.Handler(),
		Health: func(ctx context.Context) error {
			return pingAll(ctx, n.pingers)
		},
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
	})
	if err := server.Start(); err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := server.Stop(ctx); err != nil {
			log.Errorf("Unable to stop HTTP API: %v", err)
		}
	}()

	log.Infof("Faucet started, lightning enabled: %v",
		dispatcher.LightningEnabled())

	<-interceptor.ShutdownChannel()

	return nil
}

// connectNodes dials the nodes the configuration names. When lnd is active
// its wallet serves sends as well, so bitcoind is not needed.
func connectNodes(cfg *Config) (*nodes, error) {
	if cfg.Lnd.Active {
		conn, err := lnnode.Dial(
			cfg.Lnd.Host, cfg.Lnd.TLSCertPath,
			cfg.Lnd.MacaroonPath,
		)
		if err != nil {
			return nil, err
		}

		lnd := lnnode.New(&lnnode.Config{
			Client:     lnrpc.NewLightningClient(conn),
			TargetConf: cfg.Lnd.TargetConf,
			MinConfs:   cfg.Lnd.MinConfs,
			Private:    cfg.Lnd.Private,
		})

		return &nodes{
			facade: &node.Facade{Wallet: lnd, Channel: lnd},
			pingers: []pinger{
				{name: "lnd", ping: lnd.Ping},
			},
			cleanup: func() {
				if err := conn.Close(); err != nil {
					log.Errorf("Unable to close lnd "+
						"connection: %v", err)
				}
			},
		}, nil
	}

	host, err := cfg.Bitcoind.HostPort()
	if err != nil {
		return nil, err
	}

	client, err := chainnode.Dial(chainnode.ConnConfig(
		host, cfg.Bitcoind.User, cfg.Bitcoind.Pass,
		cfg.Bitcoind.CookieFile,
	))
	if err != nil {
		return nil, err
	}

	chainCfg := &chainnode.Config{
		RPC:  client,
		Mode: chainnode.SendMode(cfg.Bitcoind.SendMode),
		Fee:  btcutil.Amount(cfg.Bitcoind.Fee),
	}
	if chainCfg.Mode == chainnode.SendModeManual {
		chainCfg.ChangeAddress, err = decodeChangeAddress(
			cfg.Bitcoind.ChangeAddress, cfg.ActiveNetParams,
		)
		if err != nil {
			client.Shutdown()
			return nil, err
		}
	}

	chain, err := chainnode.New(chainCfg)
	if err != nil {
		client.Shutdown()
		return nil, err
	}

	return &nodes{
		facade: &node.Facade{Wallet: chain},
		pingers: []pinger{{
			name: "bitcoind",
			ping: func(context.Context) error {
				return chain.Ping()
			},
		}},
		cleanup: client.Shutdown,
	}, nil
}

// newHealthMonitor creates a monitor that checks every node and requests a
// shutdown once a node fails all its attempts.
func newHealthMonitor(cfg *Config, pingers []pinger,
	interceptor signal.Interceptor) *healthcheck.Monitor {

	hc := cfg.HealthCheck

	checks := make([]*healthcheck.Observation, 0, len(pingers))
	for _, p := range pingers {
		p := p
		checks = append(checks, healthcheck.NewObservation(
			p.name,
			func() error {
				ctx, cancel := context.WithTimeout(
					context.Background(), hc.Timeout,
				)
				defer cancel()

				return p.ping(ctx)
			},
			hc.Interval, hc.Timeout, hc.Backoff, hc.Attempts,
		))
	}

	return healthcheck.NewMonitor(&healthcheck.Config{
		Checks: checks,
		Shutdown: func(format string, params ...interface{}) {
			log.Criticalf("Health check: "+format, params...)
			interceptor.RequestShutdown()
		},
	})
}

// pingAll checks every node concurrently and returns the first failure.
func pingAll(ctx context.Context, pingers []pinger) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, p := range pingers {
		p := p
		g.Go(func() error {
			if err := p.ping(ctx); err != nil {
				return fmt.Errorf("%v: %w", p.name, err)
			}

			return nil
		})
	}

	return g.Wait()
}
