// metrics.go - Prometheus metrics for the wallet service and validators.
//
// Every Collector owns its registry, so several validators or wallets in one
// process (tests, the in-process cluster) never collide on registration.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "utt"

// Metric names as exposed on /metrics.
const (
	SignRequests       = "utt_sign_requests_total"
	SignRejected       = "utt_sign_rejected_total"
	SignLatency        = "utt_sign_latency_seconds"
	Registrations      = "utt_registrations_total"
	TransactionsBuilt  = "utt_transactions_built_total"
	ProofGenerationSec = "utt_proof_generation_seconds"
	CoinsClaimed       = "utt_coins_claimed_total"
	WalletBalance      = "utt_wallet_balance"
	Errors             = "utt_errors_total"
)

// Collector holds the series of one validator or wallet.
type Collector struct {
	registry *prometheus.Registry

	signRequests  *prometheus.CounterVec
	signRejected  *prometheus.CounterVec
	signLatency   *prometheus.HistogramVec
	registrations prometheus.Counter
	txBuilt       *prometheus.CounterVec
	proofSeconds  *prometheus.HistogramVec
	coinsClaimed  *prometheus.CounterVec
	balance       prometheus.Gauge
	errors        *prometheus.CounterVec
}

// NewCollector returns a collector with a fresh registry that also carries
// the Go runtime and process collectors.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c := &Collector{
		registry: reg,
		signRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sign_requests_total",
			Help: "Signing requests handled by the validator.",
		}, []string{"type"}),
		signRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sign_rejected_total",
			Help: "Signing requests the validator refused.",
		}, []string{"type"}),
		signLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "sign_latency_seconds",
			Help:    "Time to verify and sign a request.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"type"}),
		registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "registrations_total",
			Help: "Registrations co-signed.",
		}),
		txBuilt: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "transactions_built_total",
			Help: "Transactions built by the wallet.",
		}, []string{"type"}),
		proofSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "proof_generation_seconds",
			Help:    "Time to build and prove a transaction.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"type"}),
		coinsClaimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "coins_claimed_total",
			Help: "Coins claimed into the wallet.",
		}, []string{"type"}),
		balance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "wallet_balance",
			Help: "Spendable balance after the last claim.",
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "errors_total",
			Help: "Failures by error code.",
		}, []string{"code"}),
	}
	reg.MustRegister(c.signRequests, c.signRejected, c.signLatency, c.registrations,
		c.txBuilt, c.proofSeconds, c.coinsClaimed, c.balance, c.errors)
	return c
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordSign counts one signing request and its latency.
func (c *Collector) RecordSign(kind string, d time.Duration, err error) {
	if c == nil {
		return
	}
	c.signRequests.WithLabelValues(kind).Inc()
	c.signLatency.WithLabelValues(kind).Observe(d.Seconds())
	if err != nil {
		c.signRejected.WithLabelValues(kind).Inc()
	}
}

// RecordRegistration counts a co-signed registration.
func (c *Collector) RecordRegistration() {
	if c == nil {
		return
	}
	c.registrations.Inc()
}

// RecordTransaction counts a built transaction and its proving time.
func (c *Collector) RecordTransaction(kind string, d time.Duration) {
	if c == nil {
		return
	}
	c.txBuilt.WithLabelValues(kind).Inc()
	c.proofSeconds.WithLabelValues(kind).Observe(d.Seconds())
}

// RecordClaim counts coins claimed from a transaction of kind.
func (c *Collector) RecordClaim(kind string, coins int) {
	if c == nil {
		return
	}
	c.coinsClaimed.WithLabelValues(kind).Add(float64(coins))
}

// SetBalance publishes the wallet balance.
func (c *Collector) SetBalance(v uint64) {
	if c == nil {
		return
	}
	c.balance.Set(float64(v))
}

// RecordError counts an error by code.
func (c *Collector) RecordError(code string) {
	if c == nil {
		return
	}
	if code == "" {
		code = "unknown"
	}
	c.errors.WithLabelValues(code).Inc()
}

// Value returns the current value of the counter or gauge series name with
// exactly labels, or 0 if it has not been written.
func (c *Collector) Value(name string, labels map[string]string) float64 {
	if c == nil {
		return 0
	}
	families, err := c.registry.Gather()
	if err != nil {
		return 0
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	next:
		for _, m := range f.GetMetric() {
			if len(m.GetLabel()) != len(labels) {
				continue
			}
			for _, lp := range m.GetLabel() {
				if v, ok := labels[lp.GetName()]; !ok || v != lp.GetValue() {
					continue next
				}
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			}
		}
	}
	return 0
}
