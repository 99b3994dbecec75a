package chainsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/yndnr/dagnode/internal/core/consensus"
	"github.com/yndnr/dagnode/internal/core/domain"
	"github.com/yndnr/dagnode/pkg/refcount"
)

// VerificationConfig bounds what the sync graph accepts.
type VerificationConfig struct {
	// MaxFutureDrift rejects headers timestamped further ahead than this.
	MaxFutureDrift time.Duration

	// MaxBlockTxs bounds the transactions in one block.
	MaxBlockTxs int

	// MaxOrphans bounds blocks held while their ancestors are missing.
	MaxOrphans int
}

// DefaultVerificationConfig returns the default limits.
func DefaultVerificationConfig() VerificationConfig {
	return VerificationConfig{
		MaxFutureDrift: 30 * time.Second,
		MaxBlockTxs:    3000,
		MaxOrphans:     1024,
	}
}

// Graph verifies incoming blocks and feeds them to consensus in causal
// order, holding blocks whose ancestors are still missing.
type Graph struct {
	cons   *refcount.Ref[*consensus.Graph]
	verify VerificationConfig
	pow    consensus.PowConfig
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	orphans map[domain.Hash]*domain.Block // by hash
	waiting map[domain.Hash][]domain.Hash // missing dependency → orphan hashes
	closed  bool
}

// NewGraph takes ownership of cons.
func NewGraph(cons *refcount.Ref[*consensus.Graph], verify VerificationConfig, pow consensus.PowConfig, logger *slog.Logger) *Graph {
	if logger == nil {
		logger = slog.Default()
	}
	if verify.MaxOrphans <= 0 {
		verify.MaxOrphans = DefaultVerificationConfig().MaxOrphans
	}
	return &Graph{
		cons:    cons,
		verify:  verify,
		pow:     pow,
		logger:  logger.With("component", "sync_graph"),
		now:     time.Now,
		orphans: make(map[domain.Hash]*domain.Block),
		waiting: make(map[domain.Hash][]domain.Hash),
	}
}

// Consensus returns the consensus graph.
func (g *Graph) Consensus() *consensus.Graph {
	return g.cons.Value()
}

// VerifyHeader checks a header in isolation.
func (g *Graph) VerifyHeader(blk *domain.Block) error {
	if err := g.pow.Validate(&blk.Header); err != nil {
		return err
	}
	if g.verify.MaxFutureDrift > 0 {
		limit := g.now().Add(g.verify.MaxFutureDrift).Unix()
		if blk.Header.Timestamp > limit {
			return domain.ErrInvalidBlock.WithDetails("timestamp too far in the future")
		}
	}
	if g.verify.MaxBlockTxs > 0 && len(blk.Transactions) > g.verify.MaxBlockTxs {
		return domain.ErrInvalidBlock.WithDetails(fmt.Sprintf("%d transactions", len(blk.Transactions)))
	}
	return nil
}

// Contains reports whether the block is in consensus or held as an orphan.
func (g *Graph) Contains(hash domain.Hash) bool {
	if g.cons.Value().Contains(hash) {
		return true
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.orphans[hash]
	return ok
}

// OrphanCount returns the number of held blocks.
func (g *Graph) OrphanCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.orphans)
}

// Insert verifies blk and hands it, and every orphan it unblocks, to
// consensus. It returns the dependencies still missing when blk had to be
// held back.
func (g *Graph) Insert(ctx context.Context, blk *domain.Block) (missing []domain.Hash, err error) {
	if err := g.VerifyHeader(blk); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil, domain.ErrStopped
	}

	cons := g.cons.Value()
	hash := blk.Hash()
	if cons.Contains(hash) {
		return nil, nil
	}

	missing = g.missingDeps(cons, blk)
	if len(missing) > 0 {
		if _, held := g.orphans[hash]; !held {
			if len(g.orphans) >= g.verify.MaxOrphans {
				return missing, errors.New("orphan pool full")
			}
			g.orphans[hash] = blk
			for _, dep := range missing {
				g.waiting[dep] = append(g.waiting[dep], hash)
			}
		}
		return missing, nil
	}

	if err := cons.OnNewBlock(ctx, blk); err != nil {
		return nil, err
	}
	g.release(ctx, cons, hash)
	return nil, nil
}

func (g *Graph) missingDeps(cons *consensus.Graph, blk *domain.Block) []domain.Hash {
	var missing []domain.Hash
	if !cons.Contains(blk.Header.ParentHash) {
		missing = append(missing, blk.Header.ParentHash)
	}
	for _, r := range blk.Header.Referees {
		if !cons.Contains(r) {
			missing = append(missing, r)
		}
	}
	return missing
}

// release inserts orphans that were waiting on hash. Called with g.mu held.
func (g *Graph) release(ctx context.Context, cons *consensus.Graph, hash domain.Hash) {
	queue := []domain.Hash{hash}
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]

		waiters := g.waiting[h]
		delete(g.waiting, h)
		for _, oh := range waiters {
			blk, ok := g.orphans[oh]
			if !ok || len(g.missingDeps(cons, blk)) > 0 {
				continue
			}
			delete(g.orphans, oh)
			if err := cons.OnNewBlock(ctx, blk); err != nil {
				g.logger.Warn("dropping orphan", "hash", oh.Hex(), "error", err)
				continue
			}
			queue = append(queue, oh)
		}
	}
}

// Close releases the consensus graph.
func (g *Graph) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	g.orphans = nil
	g.waiting = nil
	g.mu.Unlock()

	g.cons.Release()
}
