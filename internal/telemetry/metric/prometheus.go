package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every dagnode metric.
const Namespace = "dagnode"

// StorageUsage is one storage usage snapshot.
type StorageUsage struct {
	LSMBytes      int64
	ValueLogBytes int64
	Reads         uint64
	Writes        uint64
	CacheHits     uint64
}

// Registry holds all application metrics.
type Registry struct {
	reg *prometheus.Registry

	lsmBytes      prometheus.Gauge
	valueLogBytes prometheus.Gauge
	reads         prometheus.Gauge
	writes        prometheus.Gauge
	cacheHits     prometheus.Gauge
	usageReports  prometheus.Counter
}

// NewRegistry creates a registry with Go runtime, process and storage
// usage metrics.
func NewRegistry() *Registry {
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "storage_usage",
			Name:      name,
			Help:      help,
		})
	}

	r := &Registry{
		reg:           prometheus.NewRegistry(),
		lsmBytes:      gauge("lsm_bytes", "LSM tree size at the last usage report"),
		valueLogBytes: gauge("value_log_bytes", "Value log size at the last usage report"),
		reads:         gauge("reads", "Storage reads at the last usage report"),
		writes:        gauge("writes", "Storage writes at the last usage report"),
		cacheHits:     gauge("cache_hits", "Data manager cache hits at the last usage report"),
		usageReports: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "storage_usage",
			Name:      "reports_total",
			Help:      "Storage usage reports emitted",
		}),
	}

	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.lsmBytes, r.valueLogBytes, r.reads, r.writes, r.cacheHits, r.usageReports,
	)
	return r
}

// Registerer returns the registerer subsystems add their metrics to.
func (r *Registry) Registerer() prometheus.Registerer {
	return r.reg
}

// Gatherer returns the gatherer backing the handler and file reporter.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// ObserveUsage records a storage usage snapshot.
func (r *Registry) ObserveUsage(u StorageUsage) {
	r.lsmBytes.Set(float64(u.LSMBytes))
	r.valueLogBytes.Set(float64(u.ValueLogBytes))
	r.reads.Set(float64(u.Reads))
	r.writes.Set(float64(u.Writes))
	r.cacheHits.Set(float64(u.CacheHits))
	r.usageReports.Inc()
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}
