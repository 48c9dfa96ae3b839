package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/faucet/lease"
	"github.com/lightningnetwork/faucet/node"
	"github.com/lightningnetwork/faucet/walletlock"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var testTime = time.Unix(1_700_000_000, 0)

type testHarness struct {
	node   *node.Mock
	clock  *clock.TestClock
	ticker *ticker.Force
	reg    *lease.Registry
	mgr    *lease.Manager
	d      *Dispatcher

	mu      sync.Mutex
	results map[Kind][]error
}

func newTestHarness(t testing.TB, balance btcutil.Amount,
	lightning bool) *testHarness {

	h := &testHarness{
		node:    node.NewMock(balance),
		clock:   clock.NewTestClock(testTime),
		ticker:  ticker.NewForce(time.Hour),
		results: make(map[Kind][]error),
	}

	lock := walletlock.New(nil)
	facade := &node.Facade{Wallet: h.node}

	cfg := &Config{
		Node:       facade,
		WalletLock: lock,
		Clock:      h.clock,
		OnResult: func(kind Kind, err error) {
			h.mu.Lock()
			h.results[kind] = append(h.results[kind], err)
			h.mu.Unlock()
		},
	}

	if lightning {
		reg, err := lease.NewRegistry(nil, 0)
		require.NoError(t, err)

		h.reg = reg
		h.mgr = lease.NewManager(&lease.Config{
			Registry:    reg,
			Node:        h.node,
			WalletLock:  lock,
			Clock:       h.clock,
			Ticker:      h.ticker,
			OpenTimeout: time.Hour,
		})
		require.NoError(t, h.mgr.Start())
		t.Cleanup(func() {
			require.NoError(t, h.mgr.Stop())
		})

		facade.Channel = h.node
		cfg.Leases = h.mgr
		cfg.Registry = reg
	}

	h.d = New(cfg)

	return h
}

func testAddress(t testing.TB) btcutil.Address {
	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		make([]byte, 20), &chaincfg.SigNetParams,
	)
	require.NoError(t, err)

	return addr
}

func testPeer(t testing.TB) *btcec.PublicKey {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	return priv.PubKey()
}

// TestConcurrentSendsScenario sends 60 twice at the same time from a wallet
// holding 100. Exactly one of them can succeed.
func TestConcurrentSendsScenario(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, 100, false)
	h.node.Delay = 10 * time.Millisecond

	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, 2)
		res   = make([]*SendResult, 2)
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start

			res[i], errs[i] = h.d.Send(
				context.Background(), &SendRequest{
					Destination: testAddress(t),
					Amount:      60,
				},
			)
		}(i)
	}
	close(start)
	wg.Wait()

	var ok, insufficient int
	for i := 0; i < 2; i++ {
		switch {
		case errs[i] == nil:
			ok++
			require.NotNil(t, res[i])
			require.EqualValues(t, 60, res[i].Amount)

		case errors.Is(errs[i], ErrInsufficientFunds):
			insufficient++

			var dErr *Error
			require.ErrorAs(t, errs[i], &dErr)
			require.Equal(t, KindSend, dErr.Kind)
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 1, insufficient)
	require.EqualValues(t, 40, h.node.Balance())
	require.EqualValues(t, 1, h.node.MaxConcurrent())
}

// TestSendsNeverOverspend checks that for any batch of concurrent sends only
// an affordable subset succeeds.
func TestSendsNeverOverspend(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		balance := btcutil.Amount(
			rapid.Int64Range(0, 10_000).Draw(rt, "balance"),
		)
		fee := btcutil.Amount(
			rapid.Int64Range(0, 100).Draw(rt, "fee"),
		)
		amounts := rapid.SliceOfN(
			rapid.Int64Range(1, 5_000), 1, 16,
		).Draw(rt, "amounts")

		h := newTestHarness(t, balance, false)
		h.d.cfg.FeeReserve = fee

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			sent btcutil.Amount
			errs []error
		)
		for _, amt := range amounts {
			wg.Add(1)
			go func(amt btcutil.Amount) {
				defer wg.Done()

				_, err := h.d.Send(
					context.Background(), &SendRequest{
						Destination: testAddress(t),
						Amount:      amt,
					},
				)

				mu.Lock()
				defer mu.Unlock()

				if err == nil {
					sent += amt
					return
				}
				errs = append(errs, err)
			}(btcutil.Amount(amt))
		}
		wg.Wait()

		if sent > balance {
			rt.Fatalf("sent %v from a balance of %v", sent, balance)
		}
		if h.node.Balance() != balance-sent {
			rt.Fatalf("balance %v, want %v", h.node.Balance(),
				balance-sent)
		}
		for _, err := range errs {
			if !errors.Is(err, ErrInsufficientFunds) {
				rt.Fatalf("unexpected error: %v", err)
			}
		}
		if h.node.MaxConcurrent() > 1 {
			rt.Fatalf("%d concurrent wallet calls",
				h.node.MaxConcurrent())
		}
	})
}

// TestSendErrors checks the node's failures are surfaced with the right
// kind.
func TestSendErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		nodeErr error
		want    error
	}{
		{
			name:    "invalid destination",
			nodeErr: node.ErrInvalidDestination,
			want:    ErrInvalidDestination,
		},
		{
			name:    "node unavailable",
			nodeErr: node.ErrNodeUnavailable,
			want:    ErrNodeUnavailable,
		},
		{
			name:    "unknown failure",
			nodeErr: errors.New("mempool full"),
			want:    ErrBroadcastFailed,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			h := newTestHarness(t, 1_000, false)
			h.node.QueueSendErrors(test.nodeErr)

			_, err := h.d.Send(context.Background(), &SendRequest{
				Destination: testAddress(t),
				Amount:      100,
			})
			require.ErrorIs(t, err, test.want)
			require.EqualValues(t, 1_000, h.node.Balance())
			require.Len(t, h.results[KindSend], 1)
			require.ErrorIs(t, h.results[KindSend][0], test.want)
		})
	}
}

// TestSendFeeReserve checks the fee reserve is part of the pre-check and no
// spend is attempted when it does not fit.
func TestSendFeeReserve(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, 1_000, false)
	h.d.cfg.FeeReserve = 100

	_, err := h.d.Send(context.Background(), &SendRequest{
		Destination: testAddress(t),
		Amount:      901,
	})
	require.ErrorIs(t, err, ErrInsufficientFunds)
	require.Zero(t, h.node.Calls().Send)

	res, err := h.d.Send(context.Background(), &SendRequest{
		Destination: testAddress(t),
		Amount:      900,
	})
	require.NoError(t, err)
	require.EqualValues(t, 900, res.Amount)
	require.EqualValues(t, 100, h.node.Balance())
}

// TestSendCancelledWhileWaiting checks a request that never got the wallet
// fails without touching the node.
func TestSendCancelledWhileWaiting(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, 1_000, false)

	handle, err := h.d.cfg.WalletLock.Acquire(
		context.Background(), "test",
	)
	require.NoError(t, err)
	defer handle.Release()

	ctx, cancel := context.WithTimeout(
		context.Background(), 20*time.Millisecond,
	)
	defer cancel()

	_, err = h.d.Send(ctx, &SendRequest{
		Destination: testAddress(t),
		Amount:      10,
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Zero(t, h.node.Calls().Balance)
}

// TestLeaseDisabled checks lease requests fail without a lightning node.
func TestLeaseDisabled(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, 1_000, false)
	require.False(t, h.d.LightningEnabled())

	_, err := h.d.Lease(context.Background(), &LeaseRequest{
		PeerPubKey: testPeer(t),
		Capacity:   50,
		Duration:   time.Minute,
	})
	require.ErrorIs(t, err, ErrLightningDisabled)

	_, err = h.d.LeaseStatus(lease.NewID())
	require.ErrorIs(t, err, ErrLightningDisabled)
}

// TestLeaseScenario leases a channel at t=0, sees it become active and gets
// it closed by the first sweep after its expiry.
func TestLeaseScenario(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, 1_000, true)
	h.node.AutoActivate = true

	type result struct {
		res *LeaseResult
		err error
	}
	done := make(chan result, 1)
	go func() {
		res, err := h.d.Lease(context.Background(), &LeaseRequest{
			PeerPubKey: testPeer(t),
			Capacity:   50,
			Duration:   60 * time.Second,
		})
		done <- result{res, err}
	}()

	// Keep sweeping until the lease request returns.
	var res result
	timeout := time.After(10 * time.Second)
loop:
	for {
		select {
		case res = <-done:
			break loop

		case h.ticker.Force <- h.clock.Now():

		case <-timeout:
			t.Fatal("lease request did not return")
		}
	}
	require.NoError(t, res.err)

	l := res.res.Lease
	require.Equal(t, lease.StateActive, l.State)
	require.True(t, l.ExpiresAt.Equal(testTime.Add(60*time.Second)))
	require.EqualValues(t, 950, h.node.Balance())

	status, err := h.d.LeaseStatus(l.ID)
	require.NoError(t, err)
	require.Equal(t, lease.StateActive, status.State)
	require.Len(t, h.d.ListLeases(), 1)

	h.clock.SetTime(testTime.Add(61 * time.Second))
	h.mgr.Sweep(context.Background())

	status, err = h.d.LeaseStatus(l.ID)
	require.NoError(t, err)
	require.Equal(t, lease.StateClosed, status.State)
	require.Empty(t, h.d.ListLeases())
	require.Equal(t, 1, h.node.Calls().Close)
	require.EqualValues(t, 1_000, h.node.Balance())
}

// TestLeaseActivationWaitEnds checks that a lease whose channel is not usable
// yet is returned in the opening state when the caller stops waiting.
func TestLeaseActivationWaitEnds(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, 1_000, true)

	ctx, cancel := context.WithTimeout(
		context.Background(), 200*time.Millisecond,
	)
	defer cancel()

	res, err := h.d.Lease(ctx, &LeaseRequest{
		PeerPubKey: testPeer(t),
		Capacity:   500,
		Duration:   time.Hour,
	})
	require.NoError(t, err)
	require.Equal(t, lease.StateOpening, res.Lease.State)

	// The lease keeps being tracked and activates on a later sweep.
	h.node.SetChannelStatus(res.ChannelPoint(), node.ChannelActive)
	h.mgr.Sweep(context.Background())

	status, err := h.d.LeaseStatus(res.Lease.ID)
	require.NoError(t, err)
	require.Equal(t, lease.StateActive, status.State)
}

// TestLeaseErrors checks failures before and at the channel open.
func TestLeaseErrors(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, 1_000, true)
	h.d.cfg.PushAmount = 100

	req := func(capacity btcutil.Amount) *LeaseRequest {
		return &LeaseRequest{
			PeerPubKey: testPeer(t),
			Capacity:   capacity,
			Duration:   time.Hour,
		}
	}

	_, err := h.d.Lease(context.Background(), req(100))
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = h.d.Lease(context.Background(), req(1_001))
	require.ErrorIs(t, err, ErrInsufficientFunds)

	h.node.QueueOpenErrors(errors.New("peer refused"))
	_, err = h.d.Lease(context.Background(), req(500))
	require.ErrorIs(t, err, ErrChannelOpenFailed)

	var dErr *Error
	require.ErrorAs(t, err, &dErr)
	require.Equal(t, KindLease, dErr.Kind)

	require.Equal(t, 1, h.node.Calls().Open)
	require.Empty(t, h.d.ListLeases())
	require.EqualValues(t, 1_000, h.node.Balance())
}

// TestMixedRequestsSerialized runs sends and lease opens concurrently and
// checks the node never sees two wallet calls at once.
func TestMixedRequestsSerialized(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, 1_000_000, true)
	h.node.Delay = time.Millisecond
	h.node.AutoActivate = true

	ctx, cancel := context.WithTimeout(
		context.Background(), 500*time.Millisecond,
	)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()

			_, err := h.d.Send(ctx, &SendRequest{
				Destination: testAddress(t),
				Amount:      1_000,
			})
			require.NoError(t, err)
		}()
		go func() {
			defer wg.Done()

			_, err := h.d.Lease(ctx, &LeaseRequest{
				PeerPubKey: testPeer(t),
				Capacity:   10_000,
				Duration:   time.Hour,
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, h.node.MaxConcurrent())
	require.Len(t, h.d.ListLeases(), 20)
	require.EqualValues(
		t, 1_000_000-20*1_000-20*10_000, h.node.Balance(),
	)
}

// slowNode commits sends and opens at the mock node right away but only
// reports back after hold, or earlier with the context error if the context
// passed in ends first.
type slowNode struct {
	*node.Mock

	hold time.Duration
}

func (n *slowNode) wait(ctx context.Context) error {
	select {
	case <-time.After(n.hold):
		return nil

	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *slowNode) SendToAddress(ctx context.Context, addr btcutil.Address,
	amt btcutil.Amount) (*chainhash.Hash, error) {

	txid, err := n.Mock.SendToAddress(ctx, addr, amt)
	if err != nil {
		return nil, err
	}

	return txid, n.wait(ctx)
}

func (n *slowNode) OpenChannel(ctx context.Context,
	req *node.OpenChannelRequest) (wire.OutPoint, error) {

	chanPoint, err := n.Mock.OpenChannel(ctx, req)
	if err != nil {
		return wire.OutPoint{}, err
	}

	return chanPoint, n.wait(ctx)
}

// TestSubmittedRequestsSurviveCancellation checks that a request whose
// context ends after the node committed the spend still reports the txid, and
// that a committed channel open is still tracked as a lease.
func TestSubmittedRequestsSurviveCancellation(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t, 1_000_000, true)
	slow := &slowNode{Mock: h.node, hold: 200 * time.Millisecond}
	h.d.cfg.Node.Wallet = slow
	h.d.cfg.Node.Channel = slow

	ctx, cancel := context.WithTimeout(
		context.Background(), 20*time.Millisecond,
	)
	defer cancel()

	res, err := h.d.Send(ctx, &SendRequest{
		Destination: testAddress(t),
		Amount:      1_000,
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Equal(t, btcutil.Amount(999_000), h.node.Balance())

	ctx, cancel = context.WithTimeout(
		context.Background(), 20*time.Millisecond,
	)
	defer cancel()

	leaseRes, err := h.d.Lease(ctx, &LeaseRequest{
		PeerPubKey: testPeer(t),
		Capacity:   100_000,
		Duration:   time.Hour,
	})
	require.NoError(t, err)
	require.Equal(t, lease.StateOpening, leaseRes.Lease.State)

	require.Equal(t, 1, h.node.Calls().Open)
	require.Equal(t, 1, h.reg.Len())

	tracked, err := h.reg.Lookup(leaseRes.Lease.ID)
	require.NoError(t, err)
	require.Equal(t, leaseRes.ChannelPoint(), tracked.ChannelPoint)
}
