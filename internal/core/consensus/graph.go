// Package consensus orders blocks into a DAG and executes the pivot chain.
//
// Every block names one parent and any number of referees. The pivot chain
// starts at genesis and repeatedly follows the child with the heaviest
// subtree (ties broken by the smaller hash). The best block is the tip of
// the pivot chain. Transactions execute when a block extends the current
// best block; state is not rewound when the pivot switches branches.
package consensus

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"

	"github.com/yndnr/dagnode/internal/core/domain"
	"github.com/yndnr/dagnode/internal/core/ledger"
	"github.com/yndnr/dagnode/internal/core/txpool"
	"github.com/yndnr/dagnode/pkg/refcount"
)

// Config configures the consensus graph.
type Config struct {
	// ChainID is stamped on accepted transactions.
	ChainID uint32

	// MaxReferees bounds the referee list of a block.
	MaxReferees int
}

// PowConfig fixes the proof-of-work parameters.
type PowConfig struct {
	// Difficulty every block header must carry.
	Difficulty uint64

	// Verify enables header hash checks. Test networks may disable it.
	Verify bool
}

// Validate checks the header against the PoW parameters.
func (c PowConfig) Validate(h *domain.BlockHeader) error {
	if h.Difficulty != c.Difficulty {
		return domain.ErrInvalidBlock.WithDetails(fmt.Sprintf("difficulty %d, want %d", h.Difficulty, c.Difficulty))
	}
	if c.Verify && !domain.MeetsDifficulty(h.Hash(), h.Difficulty) {
		return domain.ErrInvalidBlock.WithDetails("proof of work below target")
	}
	return nil
}

type node struct {
	block    *domain.Block
	hash     domain.Hash
	parent   *node
	children []*node
	weight   uint64 // size of the subtree rooted here
}

// Graph is the consensus DAG.
type Graph struct {
	cfg    Config
	pow    PowConfig
	vms    *VMFactory
	stats  *Statistics
	pool   *refcount.Ref[*txpool.Pool]
	dm     *refcount.Ref[*ledger.DataManager]
	logger *slog.Logger

	mu       sync.RWMutex
	nodes    map[domain.Hash]*node
	genesis  *node
	pivot    []*node
	tips     map[domain.Hash]*node
	closed   bool
	newBlock chan struct{}
}

// New builds a graph rooted at the data manager's genesis block.
// It takes ownership of pool and dm.
func New(cfg Config, vms *VMFactory, pool *refcount.Ref[*txpool.Pool], stats *Statistics, dm *refcount.Ref[*ledger.DataManager], pow PowConfig, logger *slog.Logger) *Graph {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxReferees <= 0 {
		cfg.MaxReferees = 8
	}

	genesis := dm.Value().Genesis()
	root := &node{block: genesis, hash: genesis.Hash(), weight: 1}

	return &Graph{
		cfg:      cfg,
		pow:      pow,
		vms:      vms,
		stats:    stats,
		pool:     pool,
		dm:       dm,
		logger:   logger.With("component", "consensus"),
		nodes:    map[domain.Hash]*node{root.hash: root},
		genesis:  root,
		pivot:    []*node{root},
		tips:     map[domain.Hash]*node{root.hash: root},
		newBlock: make(chan struct{}),
	}
}

// Pow returns the proof-of-work configuration.
func (g *Graph) Pow() PowConfig {
	return g.pow
}

// ChainID returns the configured chain id.
func (g *Graph) ChainID() uint32 {
	return g.cfg.ChainID
}

// Pool returns the transaction pool.
func (g *Graph) Pool() *txpool.Pool {
	return g.pool.Value()
}

// Data returns the data manager.
func (g *Graph) Data() *ledger.DataManager {
	return g.dm.Value()
}

// Statistics returns the statistics sink.
func (g *Graph) Statistics() *Statistics {
	return g.stats
}

// Contains reports whether hash is in the graph.
func (g *Graph) Contains(hash domain.Hash) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.nodes[hash]
	return ok
}

// BestBlock returns the tip of the pivot chain.
func (g *Graph) BestBlock() *domain.Block {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.pivot[len(g.pivot)-1].block
}

// BestBlockHash returns the hash of the best block.
func (g *Graph) BestBlockHash() domain.Hash {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.pivot[len(g.pivot)-1].hash
}

// BestHeight returns the height of the best block.
func (g *Graph) BestHeight() uint64 {
	return g.BestBlock().Header.Height
}

// Size returns the number of blocks in the graph.
func (g *Graph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Referees returns up to MaxReferees tips other than parent, in hash order.
func (g *Graph) Referees(parent domain.Hash) []domain.Hash {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]domain.Hash, 0, len(g.tips))
	for h := range g.tips {
		if h != parent {
			out = append(out, h)
		}
	}
	sortHashes(out)
	if len(out) > g.cfg.MaxReferees {
		out = out[:g.cfg.MaxReferees]
	}
	return out
}

// NewBlockNotify returns a channel closed at the next pivot change.
func (g *Graph) NewBlockNotify() <-chan struct{} {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.newBlock
}

// BlockByHash returns a known block.
func (g *Graph) BlockByHash(ctx context.Context, hash domain.Hash) (*domain.Block, error) {
	g.mu.RLock()
	n, ok := g.nodes[hash]
	g.mu.RUnlock()
	if ok {
		return n.block, nil
	}
	return g.dm.Value().Block(ctx, hash)
}

// BlockByHeight returns the pivot block at height.
func (g *Graph) BlockByHeight(ctx context.Context, height uint64) (*domain.Block, error) {
	g.mu.RLock()
	if height < uint64(len(g.pivot)) {
		b := g.pivot[height].block
		g.mu.RUnlock()
		return b, nil
	}
	g.mu.RUnlock()
	return nil, domain.ErrBlockNotFound.WithDetails(fmt.Sprintf("height %d", height))
}

// OnNewBlock inserts a block whose header has been verified. Known blocks
// are ignored. The parent and every referee must already be in the graph.
func (g *Graph) OnNewBlock(ctx context.Context, blk *domain.Block) error {
	hash := blk.Hash()

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return domain.ErrStopped
	}
	if _, ok := g.nodes[hash]; ok {
		return nil
	}

	parent, ok := g.nodes[blk.Header.ParentHash]
	if !ok {
		return domain.ErrInvalidBlock.WithDetails("unknown parent " + blk.Header.ParentHash.Hex())
	}
	if blk.Header.Height != parent.block.Header.Height+1 {
		return domain.ErrInvalidBlock.WithDetails(fmt.Sprintf("height %d after parent %d", blk.Header.Height, parent.block.Header.Height))
	}
	if len(blk.Header.Referees) > g.cfg.MaxReferees {
		return domain.ErrInvalidBlock.WithDetails("too many referees")
	}
	for _, r := range blk.Header.Referees {
		if _, ok := g.nodes[r]; !ok {
			return domain.ErrInvalidBlock.WithDetails("unknown referee " + r.Hex())
		}
	}
	if domain.ComputeTxRoot(blk.Transactions) != blk.Header.TxRoot {
		return domain.ErrInvalidBlock.WithDetails("tx root mismatch")
	}

	if err := g.dm.Value().InsertBlock(ctx, blk); err != nil {
		return err
	}

	n := &node{block: blk, hash: hash, parent: parent, weight: 1}
	parent.children = append(parent.children, n)
	g.nodes[hash] = n
	delete(g.tips, parent.hash)
	for _, r := range blk.Header.Referees {
		delete(g.tips, r)
	}
	g.tips[hash] = n
	for p := parent; p != nil; p = p.parent {
		p.weight++
	}
	g.stats.recordBlock()

	oldBest := g.pivot[len(g.pivot)-1]
	if oldBest == parent {
		g.execute(ctx, blk)
	}

	g.recomputePivot(ctx)
	return nil
}

// execute applies blk's transactions on top of current state. Called with g.mu held.
func (g *Graph) execute(ctx context.Context, blk *domain.Block) {
	if len(blk.Transactions) == 0 {
		return
	}
	vm := g.vms.NewVM(blk.Header.Author)
	done := make([]domain.Hash, 0, len(blk.Transactions))

	err := g.dm.Value().UpdateAccounts(ctx, func(get func(domain.Address) (*domain.Account, error)) ([]*domain.Account, error) {
		state := make(map[domain.Address]*domain.Account)
		for _, tx := range blk.Transactions {
			// Execute against a scratch copy so a failing tx leaves state untouched.
			scratch := make(map[domain.Address]*domain.Account, len(state))
			for a, acc := range state {
				cp := *acc
				cp.Balance = new(big.Int).Set(acc.Balance)
				scratch[a] = &cp
			}
			r := vm.Execute(scratch, get, tx)
			g.stats.recordTx(r.Err == nil)
			done = append(done, r.TxHash)
			if r.Err != nil {
				g.logger.Debug("transaction failed", "tx", r.TxHash.Hex(), "error", r.Err)
				continue
			}
			state = scratch
		}
		out := make([]*domain.Account, 0, len(state))
		for _, acc := range state {
			out = append(out, acc)
		}
		return out, nil
	})
	if err != nil {
		g.logger.Error("apply block state failed", "block", blk.Hash().Hex(), "error", err)
	}
	g.pool.Value().Remove(done...)
}

// recomputePivot walks from genesis along the heaviest children. Called with g.mu held.
func (g *Graph) recomputePivot(ctx context.Context) {
	old := g.pivot
	oldBest := old[len(old)-1]

	pivot := []*node{g.genesis}
	for n := g.genesis; len(n.children) > 0; {
		n = heaviest(n.children)
		pivot = append(pivot, n)
	}
	g.pivot = pivot

	best := pivot[len(pivot)-1]
	if best == oldBest {
		return
	}

	reorg := best.parent != oldBest
	fork := 0
	for fork < len(old) && fork < len(pivot) && old[fork] == pivot[fork] {
		fork++
	}
	for i := fork; i < len(pivot); i++ {
		n := pivot[i]
		if err := g.dm.Value().SetPivot(ctx, uint64(i), n.hash); err != nil {
			g.logger.Warn("persist pivot failed", "height", i, "error", err)
			break
		}
	}
	g.stats.recordPivot(best.block.Header.Height, reorg)
	if reorg {
		g.logger.Warn("pivot chain switched branch", "old", oldBest.hash.Hex(), "new", best.hash.Hex())
	}

	close(g.newBlock)
	g.newBlock = make(chan struct{})
}

func heaviest(children []*node) *node {
	best := children[0]
	for _, c := range children[1:] {
		if c.weight > best.weight || (c.weight == best.weight && bytes.Compare(c.hash[:], best.hash[:]) < 0) {
			best = c
		}
	}
	return best
}

func sortHashes(hs []domain.Hash) {
	sort.Slice(hs, func(i, j int) bool {
		return bytes.Compare(hs[i][:], hs[j][:]) < 0
	})
}

// Close releases the pool and data manager. Later inserts fail.
func (g *Graph) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	g.mu.Unlock()

	g.pool.Release()
	g.dm.Release()
	g.logger.Debug("consensus graph closed", "blocks", g.Size())
}
