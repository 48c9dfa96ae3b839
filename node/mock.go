package node

import (
	"context"
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// MockCalls counts the calls made against a Mock node.
type MockCalls struct {
	Balance int
	Send    int
	Open    int
	Close   int
	Status  int
}

// Mock is an in-memory node used by tests. It keeps a spendable balance that
// sends and channel opens draw from, lets tests script failures per call, can
// delay wallet-mutating calls, and records the highest number of
// wallet-mutating calls that were ever in flight at once.
type Mock struct {
	// Delay is slept inside every wallet-mutating call.
	Delay time.Duration

	// AutoActivate makes newly opened channels report ChannelActive
	// straight away.
	AutoActivate bool

	// HoldClose makes closed channels report ChannelClosing until the
	// test confirms them with SetChannelStatus.
	HoldClose bool

	inflight    atomic.Int32
	maxInflight atomic.Int32

	mu         sync.Mutex
	balance    btcutil.Amount
	sendErrs   []error
	openErrs   []error
	closeErrs  []error
	channels   map[wire.OutPoint]ChannelStatus
	capacities map[wire.OutPoint]btcutil.Amount
	calls      MockCalls
	nonce      uint64
}

// A compile time check to ensure Mock implements both node interfaces.
var (
	_ WalletNode  = (*Mock)(nil)
	_ ChannelNode = (*Mock)(nil)
)

// NewMock returns a mock node holding the given spendable balance.
func NewMock(balance btcutil.Amount) *Mock {
	return &Mock{
		balance:    balance,
		channels:   make(map[wire.OutPoint]ChannelStatus),
		capacities: make(map[wire.OutPoint]btcutil.Amount),
	}
}

// QueueSendErrors makes the next len(errs) sends fail with the given errors in
// order. A nil entry lets that call proceed normally.
func (m *Mock) QueueSendErrors(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sendErrs = append(m.sendErrs, errs...)
}

// QueueOpenErrors scripts the next channel opens.
func (m *Mock) QueueOpenErrors(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.openErrs = append(m.openErrs, errs...)
}

// QueueCloseErrors scripts the next channel closes.
func (m *Mock) QueueCloseErrors(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closeErrs = append(m.closeErrs, errs...)
}

// SetChannelStatus overrides the status reported for a channel.
func (m *Mock) SetChannelStatus(chanPoint wire.OutPoint, status ChannelStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.channels[chanPoint] = status
}

// Balance returns the mock's current balance.
func (m *Mock) Balance() btcutil.Amount {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.balance
}

// Calls returns a snapshot of the call counters.
func (m *Mock) Calls() MockCalls {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.calls
}

// MaxConcurrent returns the highest number of wallet-mutating calls that
// were executing at the same time.
func (m *Mock) MaxConcurrent() int32 {
	return m.maxInflight.Load()
}

// enter marks the start of a wallet-mutating call and sleeps for the
// configured delay.
func (m *Mock) enter() {
	n := m.inflight.Add(1)
	for {
		cur := m.maxInflight.Load()
		if n <= cur || m.maxInflight.CompareAndSwap(cur, n) {
			break
		}
	}

	if m.Delay > 0 {
		time.Sleep(m.Delay)
	}
}

func (m *Mock) exit() {
	m.inflight.Add(-1)
}

// popErr removes and returns the first scripted error. The caller must hold
// the mutex.
func popErr(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}

	err := (*errs)[0]
	*errs = (*errs)[1:]

	return err
}

// nextHash returns a fresh fake transaction hash. The caller must hold the
// mutex.
func (m *Mock) nextHash() chainhash.Hash {
	m.nonce++

	var b [8]byte
	binary.BigEndian.PutUint64(b[:], m.nonce)

	return chainhash.HashH(b[:])
}

// SpendableBalance returns the mock's balance.
func (m *Mock) SpendableBalance(ctx context.Context) (btcutil.Amount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls.Balance++

	return m.balance, ctx.Err()
}

// SendToAddress deducts amt from the balance and returns a fake txid.
func (m *Mock) SendToAddress(_ context.Context, _ btcutil.Address,
	amt btcutil.Amount) (*chainhash.Hash, error) {

	m.enter()
	defer m.exit()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls.Send++
	if err := popErr(&m.sendErrs); err != nil {
		return nil, err
	}

	if amt > m.balance {
		return nil, ErrInsufficientFunds
	}
	m.balance -= amt

	txid := m.nextHash()

	return &txid, nil
}

// OpenChannel deducts the capacity from the balance and registers a pending
// channel.
func (m *Mock) OpenChannel(_ context.Context,
	req *OpenChannelRequest) (wire.OutPoint, error) {

	m.enter()
	defer m.exit()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls.Open++
	if err := popErr(&m.openErrs); err != nil {
		return wire.OutPoint{}, err
	}

	if req.Capacity > m.balance {
		return wire.OutPoint{}, ErrInsufficientFunds
	}
	m.balance -= req.Capacity

	chanPoint := wire.OutPoint{Hash: m.nextHash(), Index: 0}
	m.channels[chanPoint] = ChannelPending
	if m.AutoActivate {
		m.channels[chanPoint] = ChannelActive
	}
	m.capacities[chanPoint] = req.Capacity - req.PushAmount

	return chanPoint, nil
}

// CloseChannel marks the channel closed, or closing if HoldClose is set, and
// returns the local balance of the channel to the wallet.
func (m *Mock) CloseChannel(_ context.Context, chanPoint wire.OutPoint) error {
	m.enter()
	defer m.exit()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls.Close++
	if err := popErr(&m.closeErrs); err != nil {
		return err
	}

	status, ok := m.channels[chanPoint]
	if !ok {
		return ErrUnknownChannel
	}
	if status == ChannelClosing || status == ChannelClosed {
		return nil
	}
	m.balance += m.capacities[chanPoint]

	m.channels[chanPoint] = ChannelClosed
	if m.HoldClose {
		m.channels[chanPoint] = ChannelClosing
	}

	return nil
}

// ChannelStatus returns the recorded status of the channel.
func (m *Mock) ChannelStatus(_ context.Context,
	chanPoint wire.OutPoint) (ChannelStatus, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls.Status++

	status, ok := m.channels[chanPoint]
	if !ok {
		return 0, ErrUnknownChannel
	}

	return status, nil
}
