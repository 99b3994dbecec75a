package metric

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// FileReporter periodically writes the text exposition of a gatherer to a file.
type FileReporter struct {
	path     string
	interval time.Duration
	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

// NewFileReporter creates a reporter writing to path every interval.
func NewFileReporter(path string, interval time.Duration, g prometheus.Gatherer, logger *slog.Logger) *FileReporter {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &FileReporter{path: path, interval: interval, gatherer: g, logger: logger.With("component", "metrics_reporter")}
}

// Run writes until ctx ends. It makes one final write on exit.
func (r *FileReporter) Run(ctx context.Context) {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		r.logger.Warn("create metrics dir", "path", r.path, "error", err)
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.write()
		case <-ctx.Done():
			r.write()
			return
		}
	}
}

func (r *FileReporter) write() {
	if err := prometheus.WriteToTextfile(r.path, r.gatherer); err != nil {
		r.logger.Warn("write metrics file", "path", r.path, "error", err)
	}
}
