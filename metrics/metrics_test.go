package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lightningnetwork/faucet/lease"
	"github.com/lightningnetwork/faucet/node"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

// TestResultLabel checks wrapped errors are still recognized.
func TestResultLabel(t *testing.T) {
	t.Parallel()

	require.Equal(t, "ok", ResultLabel(nil))
	require.Equal(t, "insufficient_funds", ResultLabel(
		fmt.Errorf("send: %w", node.ErrInsufficientFunds),
	))
	require.Equal(t, "timeout", ResultLabel(context.DeadlineExceeded))
	require.Equal(t, "error", ResultLabel(errors.New("boom")))
}

// TestLeaseGauges follows a lease through its states.
func TestLeaseGauges(t *testing.T) {
	t.Parallel()

	m := New()
	l := &lease.Lease{State: lease.StateOpening}

	m.ObserveLeaseUpdate(lease.Update{Lease: l, Created: true})
	require.EqualValues(t, 1, testutil.ToFloat64(
		m.leases.WithLabelValues("opening"),
	))

	steps := []lease.State{
		lease.StateActive, lease.StateExpiring, lease.StateClosed,
	}
	prev := lease.StateOpening
	for _, s := range steps {
		m.ObserveLeaseUpdate(lease.Update{
			Lease:    &lease.Lease{State: s},
			Previous: prev,
		})
		prev = s
	}

	for _, s := range []string{"opening", "active", "expiring"} {
		require.Zero(t, testutil.ToFloat64(m.leases.WithLabelValues(s)))
	}
	require.EqualValues(t, 1, testutil.ToFloat64(
		m.finalized.WithLabelValues("closed"),
	))
}

// TestHandler checks the collectors are served.
func TestHandler(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObserveDispatch("send", nil)
	m.ObserveDispatch("send", node.ErrInsufficientFunds)
	m.ObserveWalletWait("send", time.Millisecond)
	m.ObserveCloseAttempt(nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	require.True(t, strings.Contains(body,
		`faucet_dispatch_total{kind="send",result="ok"} 1`))
	require.True(t, strings.Contains(body,
		`faucet_dispatch_total{kind="send",result="insufficient_funds"} 1`))
	require.True(t, strings.Contains(body,
		`faucet_lease_close_attempts_total{result="ok"} 1`))
	require.True(t, strings.Contains(body,
		"faucet_wallet_lock_wait_seconds_count"))

	// A nil collector set is a no-op.
	var nilMetrics *Metrics
	nilMetrics.ObserveDispatch("send", nil)
	nilMetrics.ObserveLeaseUpdate(lease.Update{})
}
