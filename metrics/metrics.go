// Package metrics exposes the faucet's prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/lightningnetwork/faucet/lease"
	"github.com/lightningnetwork/faucet/node"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the faucet's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	dispatch      *prometheus.CounterVec
	walletWait    *prometheus.HistogramVec
	leases        *prometheus.GaugeVec
	finalized     *prometheus.CounterVec
	closeAttempts *prometheus.CounterVec
}

// New creates the collectors and registers them with a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		gatherer: reg,
		dispatch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "faucet_dispatch_total",
			Help: "Count of funds requests by kind and result.",
		}, []string{"kind", "result"}),
		walletWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "faucet_wallet_lock_wait_seconds",
			Help:    "Time spent waiting for exclusive wallet access.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"purpose"}),
		leases: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "faucet_leases",
			Help: "Number of in-flight leases by state.",
		}, []string{"state"}),
		finalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "faucet_leases_finalized_total",
			Help: "Count of leases that ended, by final state.",
		}, []string{"state"}),
		closeAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "faucet_lease_close_attempts_total",
			Help: "Count of channel close attempts by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.dispatch, m.walletWait, m.leases, m.finalized,
		m.closeAttempts,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(
			prometheus.ProcessCollectorOpts{},
		),
	)

	return m
}

// Handler serves the metrics in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}

	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveDispatch counts a finished funds request.
func (m *Metrics) ObserveDispatch(kind string, err error) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.dispatch.WithLabelValues(kind, ResultLabel(err)).Inc()
}

// ObserveWalletWait records the time a caller waited for the wallet.
func (m *Metrics) ObserveWalletWait(purpose string, wait time.Duration) {
	if m == nil {
		return
	}
	m.walletWait.WithLabelValues(purpose).Observe(wait.Seconds())
}

// ObserveLeaseUpdate keeps the lease gauges in line with a lease update.
func (m *Metrics) ObserveLeaseUpdate(u lease.Update) {
	if m == nil {
		return
	}

	state := u.Lease.State
	if !u.Created {
		m.leases.WithLabelValues(u.Previous.String()).Dec()
	}

	if state.IsFinal() {
		m.finalized.WithLabelValues(state.String()).Inc()
		return
	}
	m.leases.WithLabelValues(state.String()).Inc()
}

// ObserveCloseAttempt counts a channel close issued for an expired lease.
func (m *Metrics) ObserveCloseAttempt(err error) {
	if m == nil {
		return
	}
	m.closeAttempts.WithLabelValues(ResultLabel(err)).Inc()
}

// resultLabels maps the known error kinds to label values.
var resultLabels = []struct {
	err   error
	label string
}{
	{node.ErrInsufficientFunds, "insufficient_funds"},
	{node.ErrBroadcastFailed, "broadcast_failed"},
	{node.ErrInvalidDestination, "invalid_destination"},
	{node.ErrChannelOpenFailed, "channel_open_failed"},
	{node.ErrChannelCloseFailed, "channel_close_failed"},
	{node.ErrNodeUnavailable, "node_unavailable"},
	{node.ErrUnknownChannel, "unknown_channel"},
	{node.ErrLightningDisabled, "lightning_disabled"},
	{context.Canceled, "canceled"},
	{context.DeadlineExceeded, "timeout"},
}

// ResultLabel returns the label value for the outcome of an operation.
func ResultLabel(err error) string {
	if err == nil {
		return "ok"
	}

	for _, r := range resultLabels {
		if errors.Is(err, r.err) {
			return r.label
		}
	}

	return "error"
}
