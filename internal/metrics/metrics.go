package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type IndexerMetrics struct {
	rounds         *prometheus.CounterVec
	windows        *prometheus.CounterVec
	enqueued       *prometheus.CounterVec
	skipped        *prometheus.CounterVec
	watermark      prometheus.Gauge
	rpcRequests    *prometheus.CounterVec
	queueItems     *prometheus.CounterVec
	queueLength    prometheus.Gauge
	ledgerEntries  *prometheus.CounterVec
	ledgerPoints   *prometheus.GaugeVec
	referralPayout *prometheus.CounterVec
}

var (
	indexerOnce     sync.Once
	indexerRegistry *IndexerMetrics
)

// Indexer returns the process-wide collectors, registering them on first use.
func Indexer() *IndexerMetrics {
	indexerOnce.Do(func() {
		indexerRegistry = &IndexerMetrics{
			rounds: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "indexer_rounds_total",
				Help: "Indexer rounds by outcome.",
			}, []string{"outcome"}),
			windows: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "indexer_windows_total",
				Help: "Block windows scanned by event family and outcome.",
			}, []string{"family", "outcome"}),
			enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "indexer_events_enqueued_total",
				Help: "Decoded events handed to the retry queue by kind.",
			}, []string{"kind"}),
			skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "indexer_events_skipped_total",
				Help: "Logs dropped while decoding by family and reason (parse, metadata).",
			}, []string{"family", "reason"}),
			watermark: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "indexer_last_indexed_block",
				Help: "Last block persisted as fully indexed.",
			}),
			rpcRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "chain_rpc_requests_total",
				Help: "Chain RPC attempts by method and outcome.",
			}, []string{"method", "outcome"}),
			queueItems: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "queue_items_total",
				Help: "Retry queue items by outcome (processed, retried, dropped).",
			}, []string{"outcome"}),
			queueLength: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "queue_length",
				Help: "Items waiting in the retry queue.",
			}),
			ledgerEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "ledger_entries_total",
				Help: "Point ledger entries appended by source.",
			}, []string{"source"}),
			ledgerPoints: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "ledger_points_sum",
				Help: "Net sum of appended point amounts by source. Can decrease.",
			}, []string{"source"}),
			referralPayout: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "referral_payouts_total",
				Help: "Referral tier payouts by tier and outcome.",
			}, []string{"tier", "outcome"}),
		}
		prometheus.MustRegister(
			indexerRegistry.rounds,
			indexerRegistry.windows,
			indexerRegistry.enqueued,
			indexerRegistry.skipped,
			indexerRegistry.watermark,
			indexerRegistry.rpcRequests,
			indexerRegistry.queueItems,
			indexerRegistry.queueLength,
			indexerRegistry.ledgerEntries,
			indexerRegistry.ledgerPoints,
			indexerRegistry.referralPayout,
		)
	})
	return indexerRegistry
}

func (m *IndexerMetrics) ObserveRound(outcome string) {
	if m == nil {
		return
	}
	m.rounds.WithLabelValues(outcome).Inc()
}

func (m *IndexerMetrics) ObserveWindow(family, outcome string) {
	if m == nil {
		return
	}
	m.windows.WithLabelValues(family, outcome).Inc()
}

func (m *IndexerMetrics) ObserveEnqueued(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.enqueued.WithLabelValues(kind).Add(float64(n))
}

func (m *IndexerMetrics) ObserveSkipped(family, reason string) {
	if m == nil {
		return
	}
	m.skipped.WithLabelValues(family, reason).Inc()
}

func (m *IndexerMetrics) SetWatermark(block uint64) {
	if m == nil {
		return
	}
	m.watermark.Set(float64(block))
}

func (m *IndexerMetrics) ObserveRPC(method string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.rpcRequests.WithLabelValues(method, outcome).Inc()
}

func (m *IndexerMetrics) ObserveQueueItem(outcome string) {
	if m == nil {
		return
	}
	m.queueItems.WithLabelValues(outcome).Inc()
}

func (m *IndexerMetrics) SetQueueLength(n int64) {
	if m == nil {
		return
	}
	m.queueLength.Set(float64(n))
}

func (m *IndexerMetrics) ObserveLedgerEntry(source string, amount float64) {
	if m == nil {
		return
	}
	m.ledgerEntries.WithLabelValues(source).Inc()
	m.ledgerPoints.WithLabelValues(source).Add(amount)
}

func (m *IndexerMetrics) ObserveReferralPayout(tier string, err error) {
	if m == nil {
		return
	}
	outcome := "paid"
	if err != nil {
		outcome = "failed"
	}
	m.referralPayout.WithLabelValues(tier, outcome).Inc()
}
