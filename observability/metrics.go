package observability

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics tracks the aggregate state of the matrix ledger plus RPC
// activity. Counters are registered once on first use.
type LedgerMetrics struct {
	Members      prometheus.Gauge
	Transactions prometheus.Gauge
	TurnoverWei  prometheus.Gauge
	Payouts      *prometheus.CounterVec
	RPCRequests  *prometheus.CounterVec
	RPCLatency   *prometheus.HistogramVec
}

var (
	ledgerMetricsOnce sync.Once
	ledgerRegistry    *LedgerMetrics
)

// Metrics returns the lazily-initialised ledger metrics registry.
func Metrics() *LedgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			Members: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "matrix",
				Subsystem: "ledger",
				Name:      "members",
				Help:      "Registered participants, operator included.",
			}),
			Transactions: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "matrix",
				Subsystem: "ledger",
				Name:      "transactions_total",
				Help:      "Applied mutating transactions.",
			}),
			TurnoverWei: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "matrix",
				Subsystem: "ledger",
				Name:      "turnover_wei",
				Help:      "Cumulative activation payments in wei (float approximation).",
			}),
			Payouts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "matrix",
				Subsystem: "ledger",
				Name:      "payouts_total",
				Help:      "Settlement transfers segmented by payout kind.",
			}, []string{"kind"}),
			RPCRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "matrix",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			RPCLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "matrix",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
		}
		prometheus.MustRegister(
			ledgerRegistry.Members,
			ledgerRegistry.Transactions,
			ledgerRegistry.TurnoverWei,
			ledgerRegistry.Payouts,
			ledgerRegistry.RPCRequests,
			ledgerRegistry.RPCLatency,
		)
	})
	return ledgerRegistry
}

// SetLedgerTotals refreshes the aggregate gauges from the ledger counters.
func (m *LedgerMetrics) SetLedgerTotals(members, transactions uint64, turnover *big.Int) {
	if m == nil {
		return
	}
	m.Members.Set(float64(members))
	m.Transactions.Set(float64(transactions))
	if turnover != nil {
		approx, _ := new(big.Float).SetInt(turnover).Float64()
		m.TurnoverWei.Set(approx)
	}
}
