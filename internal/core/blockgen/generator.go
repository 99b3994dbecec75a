// Package blockgen assembles and mines blocks.
package blockgen

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yndnr/dagnode/internal/core/chainsync"
	"github.com/yndnr/dagnode/internal/core/domain"
	"github.com/yndnr/dagnode/pkg/refcount"
)

// nonceBatch is how many nonces are tried between stop checks.
const nonceBatch = 1024

// Config configures block production.
type Config struct {
	// Author receives transaction fees.
	Author domain.Address

	// Interval is the pause between mined blocks.
	Interval time.Duration

	// MaxBlockTxs bounds the transactions packed per block.
	MaxBlockTxs int

	// GasLimit is stamped on every header.
	GasLimit uint64
}

// Generator mines blocks on top of the best block and submits them through
// the sync service.
type Generator struct {
	cfg    Config
	sync   *refcount.Ref[*chainsync.Service]
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	running bool
	stopped bool
	stop    chan struct{}
	done    chan struct{}

	mined atomic.Uint64
}

// New takes ownership of sync.
func New(cfg Config, sync *refcount.Ref[*chainsync.Service], logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBlockTxs <= 0 {
		cfg.MaxBlockTxs = 1000
	}
	return &Generator{
		cfg:    cfg,
		sync:   sync,
		logger: logger.With("component", "blockgen"),
		now:    time.Now,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Mined returns the number of blocks this generator produced.
func (g *Generator) Mined() uint64 {
	return g.mined.Load()
}

// StartMining runs the mining loop on the calling goroutine until Stop.
// Nonce search for each block starts at seed.
func (g *Generator) StartMining(seed uint64) {
	g.mu.Lock()
	if g.running || g.stopped {
		g.mu.Unlock()
		return
	}
	g.running = true
	g.mu.Unlock()
	defer close(g.done)

	g.logger.Info("mining started", "author", g.cfg.Author.Hex(), "interval", g.cfg.Interval)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-g.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	for ctx.Err() == nil {
		if _, err := g.mineOne(ctx, seed); err != nil {
			if ctx.Err() != nil {
				break
			}
			g.logger.Warn("mining round failed", "error", err)
		}

		if g.cfg.Interval > 0 {
			select {
			case <-time.After(g.cfg.Interval):
			case <-ctx.Done():
			}
		}
	}
	g.logger.Info("mining stopped", "mined", g.mined.Load())
}

// GenerateOnce mines and submits a single block.
func (g *Generator) GenerateOnce(ctx context.Context) (*domain.Block, error) {
	g.mu.Lock()
	stopped := g.stopped
	g.mu.Unlock()
	if stopped {
		return nil, domain.ErrStopped
	}
	return g.mineOne(ctx, 0)
}

func (g *Generator) mineOne(ctx context.Context, seed uint64) (*domain.Block, error) {
	blk := g.assemble(ctx)
	if err := g.solve(ctx, blk, seed); err != nil {
		return nil, err
	}
	if err := g.sync.Value().OnMinedBlock(ctx, blk); err != nil {
		return nil, err
	}
	g.mined.Add(1)
	g.logger.Debug("block mined",
		"hash", blk.Hash().Hex(),
		"height", blk.Header.Height,
		"txs", len(blk.Transactions))
	return blk, nil
}

func (g *Generator) assemble(ctx context.Context) *domain.Block {
	cons := g.sync.Value().Graph().Consensus()
	parent := cons.BestBlock()
	parentHash := parent.Hash()
	txs := cons.Pool().Pack(ctx, g.cfg.MaxBlockTxs)

	return &domain.Block{
		Header: domain.BlockHeader{
			ParentHash: parentHash,
			Height:     parent.Header.Height + 1,
			Timestamp:  g.now().Unix(),
			Author:     g.cfg.Author,
			Difficulty: cons.Pow().Difficulty,
			GasLimit:   g.cfg.GasLimit,
			TxRoot:     domain.ComputeTxRoot(txs),
			Referees:   cons.Referees(parentHash),
		},
		Transactions: txs,
	}
}

// solve searches nonces from seed until the header meets its difficulty.
func (g *Generator) solve(ctx context.Context, blk *domain.Block, seed uint64) error {
	h := &blk.Header
	for h.Nonce = seed; ; {
		for i := 0; i < nonceBatch; i++ {
			if domain.MeetsDifficulty(h.Hash(), h.Difficulty) {
				return nil
			}
			h.Nonce++
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// Stop ends the mining loop and waits for it to exit or ctx to end.
// A generator that never started stays stopped.
func (g *Generator) Stop(ctx context.Context) error {
	g.mu.Lock()
	if !g.stopped {
		g.stopped = true
		close(g.stop)
	}
	running := g.running
	g.mu.Unlock()

	if !running {
		return nil
	}
	select {
	case <-g.done:
		return nil
	case <-ctx.Done():
		return errors.New("mining loop did not exit in time")
	}
}

// Close stops mining and releases the sync service.
func (g *Generator) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := g.Stop(ctx); err != nil {
		g.logger.Warn("block generator close", "error", err)
	}
	g.sync.Release()
}
