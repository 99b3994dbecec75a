// Package metric exposes dagnode metrics in Prometheus format.
//
//   - prometheus.go: the registry, storage usage gauges and HTTP handler
//   - collector.go: a collector reading live node statistics
//   - reporter.go: periodic text exposition to a file
//
// Subsystems that own counters (storage, consensus) register them on the
// same registry through Registerer.
package metric
