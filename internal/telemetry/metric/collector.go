package metric

import "github.com/prometheus/client_golang/prometheus"

// NodeStats is a point-in-time view of the running node.
type NodeStats struct {
	BestHeight  uint64
	Blocks      int
	PoolPending int
	Peers       int
}

// Collector reads node statistics at scrape time.
type Collector struct {
	source func() (NodeStats, bool)

	bestHeight  *prometheus.Desc
	blocks      *prometheus.Desc
	poolPending *prometheus.Desc
	peers       *prometheus.Desc
}

// NewCollector creates a collector over source. When source reports false
// the node is shutting down and nothing is collected.
func NewCollector(source func() (NodeStats, bool)) *Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(Namespace, "node", name), help, nil, nil)
	}
	return &Collector{
		source:      source,
		bestHeight:  desc("best_height", "Height of the best block"),
		blocks:      desc("blocks", "Blocks in the consensus graph"),
		poolPending: desc("txpool_pending", "Transactions waiting in the pool"),
		peers:       desc("peers", "Connected peers"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.bestHeight
	ch <- c.blocks
	ch <- c.poolPending
	ch <- c.peers
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s, ok := c.source()
	if !ok {
		return
	}
	ch <- prometheus.MustNewConstMetric(c.bestHeight, prometheus.GaugeValue, float64(s.BestHeight))
	ch <- prometheus.MustNewConstMetric(c.blocks, prometheus.GaugeValue, float64(s.Blocks))
	ch <- prometheus.MustNewConstMetric(c.poolPending, prometheus.GaugeValue, float64(s.PoolPending))
	ch <- prometheus.MustNewConstMetric(c.peers, prometheus.GaugeValue, float64(s.Peers))
}
