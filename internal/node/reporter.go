package node

import (
	"context"
	"log/slog"
	"time"

	"github.com/yndnr/dagnode/internal/core/ledger"
	"github.com/yndnr/dagnode/internal/infra/shutdown"
	"github.com/yndnr/dagnode/internal/telemetry/metric"
	"github.com/yndnr/dagnode/pkg/refcount"
)

// runUsageReporter emits one storage usage snapshot per interval until the
// exit signal fires, ctx ends, or the storage manager has no owner left.
// It never keeps the storage manager alive between snapshots.
// Returns the number of snapshots emitted.
func runUsageReporter(ctx context.Context, exit *shutdown.Signal, sm refcount.Weak[*ledger.StorageManager], interval time.Duration, reg *metric.Registry, logger *slog.Logger) int {
	timer := time.NewTimer(interval)
	defer timer.Stop()

	reports := 0
	for {
		select {
		case <-exit.Done():
			return reports
		case <-ctx.Done():
			return reports
		case <-timer.C:
		}

		ref, ok := sm.Upgrade()
		if !ok {
			logger.Debug("storage manager released, usage reporter exiting")
			return reports
		}
		u, err := ref.Value().LogUsage(ctx)
		ref.Release()

		if err != nil {
			logger.Warn("storage usage unavailable", "error", err)
		} else {
			reports++
			if reg != nil {
				reg.ObserveUsage(metric.StorageUsage{
					LSMBytes:      int64(u.LSMBytes),
					ValueLogBytes: int64(u.ValueLogBytes),
					Reads:         u.Reads,
					Writes:        u.Writes,
					CacheHits:     u.CacheHits,
				})
			}
		}
		timer.Reset(interval)
	}
}
