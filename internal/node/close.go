package node

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/yndnr/dagnode/internal/server/config"
)

// ReleaseOutcome reports how the storage release wait ended.
type ReleaseOutcome int

const (
	// ReleaseClean means every owner let go before the warning threshold.
	ReleaseClean ReleaseOutcome = iota
	// ReleaseSlow means the release arrived after the warning threshold.
	ReleaseSlow
	// ReleaseTimedOut means an owner still held storage at the deadline.
	ReleaseTimedOut
)

func (o ReleaseOutcome) String() string {
	switch o {
	case ReleaseClean:
		return "clean"
	case ReleaseSlow:
		return "slow"
	case ReleaseTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Close shuts the node down and waits, bounded, for the storage handle to
// be released by every owner. It never fails. A second call logs and
// returns ReleaseClean without doing anything.
func Close(h *Handle) ReleaseOutcome {
	if h == nil {
		return ReleaseClean
	}
	if !h.closed.CompareAndSwap(false, true) {
		h.logger.Warn("node already closed")
		return ReleaseClean
	}

	sd := h.cfg.Shutdown
	start := time.Now()
	h.logger.Info("closing node", "reason", h.exit.Reason())

	// Block production first so no new block reaches the storage layer.
	ctx, cancel := context.WithTimeout(context.Background(), sd.TaskJoinTimeout)
	if err := h.miner.Value().Stop(ctx); err != nil {
		h.logger.Warn("block generator did not stop in time", "error", err)
	}
	cancel()
	h.tasks.Join(taskMining, sd.TaskJoinTimeout)
	h.miner.Release()

	h.releaseBatch(sd.TaskJoinTimeout)

	outcome := waitForRelease(h.storage.Done(), sd, h.logger)
	h.logger.Info("node closed", "storage", outcome.String(), "elapsed", time.Since(start))
	return outcome
}

// releaseBatch drops every remaining owning reference held by the handle
// and stops the background tasks with bounded joins.
func (h *Handle) releaseBatch(joinTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), joinTimeout)
	defer cancel()
	for i := len(h.frontends) - 1; i >= 0; i-- {
		f := h.frontends[i]
		if err := f.srv.Shutdown(ctx); err != nil {
			h.logger.Warn("rpc endpoint shutdown failed", "endpoint", f.name, "error", err)
		}
	}
	h.api.Close()

	h.txgen.Value().Stop()
	h.tasks.Join(taskTxGen, joinTimeout)

	if h.propagation != nil {
		h.propagation.Stop()
	}

	h.consensus.Release()
	h.pool.Release()
	h.sync.Release()
	h.txgen.Release()
	h.keys.Release()

	if err := h.network.Close(); err != nil {
		h.logger.Warn("network close failed", "error", err)
	}

	h.tasks.Stop()
	h.cancelTasks()
	if err := h.tasks.Wait(joinTimeout); err != nil && !errors.Is(err, ErrDetached) {
		h.logger.Warn("background task ended with error", "error", err)
	}
}

// waitForRelease polls done every ReleasePollInterval. It warns once after
// ReleaseWarnAfter and gives up after ReleaseTimeout.
func waitForRelease(done <-chan struct{}, sd config.ShutdownSection, logger *slog.Logger) ReleaseOutcome {
	start := time.Now()
	ticker := time.NewTicker(sd.ReleasePollInterval)
	defer ticker.Stop()

	warned := false
	for {
		select {
		case <-done:
			if warned {
				logger.Info("storage released after delay", "elapsed", time.Since(start))
				return ReleaseSlow
			}
			logger.Debug("storage released", "elapsed", time.Since(start))
			return ReleaseClean
		case <-ticker.C:
		}

		elapsed := time.Since(start)
		if elapsed >= sd.ReleaseTimeout {
			logger.Warn("storage still held after timeout, giving up", "elapsed", elapsed)
			return ReleaseTimedOut
		}
		if !warned && elapsed >= sd.ReleaseWarnAfter {
			warned = true
			logger.Warn("storage still held by an owner, waiting", "elapsed", elapsed, "timeout", sd.ReleaseTimeout)
		}
	}
}
