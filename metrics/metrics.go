// Package metrics exposes the Sumeragi handle's Prometheus collectors.
// update_metrics (sumeragi.Handle.UpdateMetrics) walks the block log and
// calls into these collectors under a mutex separate from the consensus
// thread's, so a metrics scrape never blocks the main loop.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "sumeragi"

// Metrics holds every collector the handle reports, registered against a
// private registry so a node embedding this module doesn't collide with
// the default global registry.
type Metrics struct {
	Registry *prometheus.Registry

	txs                *prometheus.CounterVec
	blockHeight        prometheus.Gauge
	domains            prometheus.Gauge
	accounts           *prometheus.GaugeVec
	viewChanges        prometheus.Counter
	queueSize          prometheus.Gauge
	connectedPeers     prometheus.Gauge
	uptimeSinceGenesis prometheus.Gauge
	txAmounts          prometheus.Histogram
	droppedMessages    prometheus.Counter
}

// New builds and registers every collector.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		txs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "txs",
			Help:      "Transactions observed, partitioned by outcome (accepted, rejected, total).",
		}, []string{"outcome"}),
		blockHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "block_height",
			Help:      "Height of the latest committed block.",
		}),
		domains: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "domains",
			Help:      "Number of domains in the current WSV snapshot.",
		}),
		accounts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "accounts",
			Help:      "Number of accounts per domain in the current WSV snapshot.",
		}, []string{"domain"}),
		viewChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "view_changes",
			Help:      "View changes observed across the block log.",
		}),
		queueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_size",
			Help:      "Pending transactions in the queue at last sample.",
		}),
		connectedPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_peers",
			Help:      "Peers with an open connection at last sample.",
		}),
		uptimeSinceGenesis: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_since_genesis_ms",
			Help:      "Milliseconds elapsed since the genesis block's timestamp.",
		}),
		txAmounts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tx_amounts",
			Help:      "Asset quantities moved by Mint/Burn/Transfer instructions.",
			Buckets:   prometheus.ExponentialBuckets(1, 10, 10),
		}),
		droppedMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_messages",
			Help:      "Incoming packets dropped because the ingress channel was full.",
		}),
	}

	reg.MustRegister(
		m.txs, m.blockHeight, m.domains, m.accounts, m.viewChanges,
		m.queueSize, m.connectedPeers, m.uptimeSinceGenesis, m.txAmounts,
		m.droppedMessages,
	)
	return m
}

// RecordTransactions adds accepted and rejected counts observed in a
// single block to the txs series, keeping the "total" outcome in sync.
func (m *Metrics) RecordTransactions(accepted, rejected int) {
	m.txs.WithLabelValues("accepted").Add(float64(accepted))
	m.txs.WithLabelValues("rejected").Add(float64(rejected))
	m.txs.WithLabelValues("total").Add(float64(accepted + rejected))
}

func (m *Metrics) SetBlockHeight(height uint64) {
	m.blockHeight.Set(float64(height))
}

func (m *Metrics) SetDomains(n int) {
	m.domains.Set(float64(n))
}

func (m *Metrics) SetAccounts(domain string, n int) {
	m.accounts.WithLabelValues(domain).Set(float64(n))
}

func (m *Metrics) IncViewChanges() {
	m.viewChanges.Inc()
}

func (m *Metrics) SetQueueSize(n int) {
	m.queueSize.Set(float64(n))
}

func (m *Metrics) SetConnectedPeers(n int) {
	m.connectedPeers.Set(float64(n))
}

func (m *Metrics) SetUptimeSinceGenesisMS(ms int64) {
	m.uptimeSinceGenesis.Set(float64(ms))
}

func (m *Metrics) ObserveTxAmount(amount uint64) {
	m.txAmounts.Observe(float64(amount))
}

func (m *Metrics) IncDroppedMessages() {
	m.droppedMessages.Inc()
}
