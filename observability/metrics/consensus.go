package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// ConsensusMetrics exposes the voting layer's operational counters.
type ConsensusMetrics struct {
	roundsDecided   *prometheus.CounterVec
	roundDuration   prometheus.Histogram
	votesRecorded   *prometheus.CounterVec
	votesDropped    prometheus.Counter
	blocksCommitted prometheus.Counter
	pendingTxs      prometheus.Gauge
}

var (
	consensusOnce     sync.Once
	consensusRegistry *ConsensusMetrics
)

// Consensus returns the process-wide consensus metrics, registering them on
// first use.
func Consensus() *ConsensusMetrics {
	consensusOnce.Do(func() {
		consensusRegistry = &ConsensusMetrics{
			roundsDecided: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "consensus_rounds_decided_total",
				Help: "Count of finished consensus rounds by terminal status.",
			}, []string{"status"}),
			roundDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "consensus_round_duration_seconds",
				Help:    "Wall time from proposal to terminal status.",
				Buckets: prometheus.DefBuckets,
			}),
			votesRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "consensus_votes_recorded_total",
				Help: "Count of accepted votes by choice.",
			}, []string{"choice"}),
			votesDropped: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "consensus_votes_dropped_total",
				Help: "Count of votes dropped as late, duplicate or mismatched.",
			}),
			blocksCommitted: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "ledger_blocks_committed_total",
				Help: "Count of blocks appended to the ledger.",
			}),
			pendingTxs: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "mempool_pending_transactions",
				Help: "Current number of transactions waiting in the pool.",
			}),
		}
		prometheus.MustRegister(
			consensusRegistry.roundsDecided,
			consensusRegistry.roundDuration,
			consensusRegistry.votesRecorded,
			consensusRegistry.votesDropped,
			consensusRegistry.blocksCommitted,
			consensusRegistry.pendingTxs,
		)
	})
	return consensusRegistry
}

func (m *ConsensusMetrics) ObserveRound(status string, seconds float64) {
	if m == nil {
		return
	}
	m.roundsDecided.WithLabelValues(status).Inc()
	m.roundDuration.Observe(seconds)
}

func (m *ConsensusMetrics) ObserveVote(choice string) {
	if m == nil {
		return
	}
	m.votesRecorded.WithLabelValues(choice).Inc()
}

func (m *ConsensusMetrics) ObserveDroppedVote() {
	if m == nil {
		return
	}
	m.votesDropped.Inc()
}

func (m *ConsensusMetrics) ObserveCommit() {
	if m == nil {
		return
	}
	m.blocksCommitted.Inc()
}

func (m *ConsensusMetrics) SetPendingTxs(n int) {
	if m == nil {
		return
	}
	m.pendingTxs.Set(float64(n))
}
