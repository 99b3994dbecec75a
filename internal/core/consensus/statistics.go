package consensus

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// StatisticsSnapshot is a point-in-time view of consensus counters.
type StatisticsSnapshot struct {
	Blocks      uint64 `json:"blocks"`
	Txs         uint64 `json:"txs"`
	FailedTxs   uint64 `json:"failed_txs"`
	PivotHeight uint64 `json:"pivot_height"`
	Reorgs      uint64 `json:"reorgs"`
}

// Statistics collects consensus counters and mirrors them to Prometheus.
type Statistics struct {
	blocks    atomic.Uint64
	txs       atomic.Uint64
	failedTxs atomic.Uint64
	height    atomic.Uint64
	reorgs    atomic.Uint64

	blocksTotal prometheus.Counter
	txsTotal    *prometheus.CounterVec
	pivotHeight prometheus.Gauge
	reorgsTotal prometheus.Counter
}

// NewStatistics creates the statistics sink and registers its metrics when
// registry is non-nil.
func NewStatistics(registry prometheus.Registerer) *Statistics {
	s := &Statistics{
		blocksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dagnode",
			Subsystem: "consensus",
			Name:      "blocks_total",
			Help:      "Blocks inserted into the consensus graph",
		}),
		txsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dagnode",
			Subsystem: "consensus",
			Name:      "transactions_total",
			Help:      "Transactions executed, by outcome",
		}, []string{"status"}),
		pivotHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dagnode",
			Subsystem: "consensus",
			Name:      "pivot_height",
			Help:      "Height of the best block on the pivot chain",
		}),
		reorgsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dagnode",
			Subsystem: "consensus",
			Name:      "pivot_reorgs_total",
			Help:      "Pivot chain switches to a non-descendant block",
		}),
	}
	if registry != nil {
		registry.MustRegister(s.blocksTotal, s.txsTotal, s.pivotHeight, s.reorgsTotal)
	}
	return s
}

func (s *Statistics) recordBlock() {
	s.blocks.Add(1)
	s.blocksTotal.Inc()
}

func (s *Statistics) recordTx(ok bool) {
	if ok {
		s.txs.Add(1)
		s.txsTotal.WithLabelValues("ok").Inc()
		return
	}
	s.failedTxs.Add(1)
	s.txsTotal.WithLabelValues("failed").Inc()
}

func (s *Statistics) recordPivot(height uint64, reorg bool) {
	s.height.Store(height)
	s.pivotHeight.Set(float64(height))
	if reorg {
		s.reorgs.Add(1)
		s.reorgsTotal.Inc()
	}
}

// Snapshot returns the current counters.
func (s *Statistics) Snapshot() StatisticsSnapshot {
	return StatisticsSnapshot{
		Blocks:      s.blocks.Load(),
		Txs:         s.txs.Load(),
		FailedTxs:   s.failedTxs.Load(),
		PivotHeight: s.height.Load(),
		Reorgs:      s.reorgs.Load(),
	}
}
