// Package txpool holds verified transactions waiting to be packed.
package txpool

import (
	"bytes"
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/yndnr/dagnode/internal/core/domain"
	"github.com/yndnr/dagnode/internal/core/ledger"
	"github.com/yndnr/dagnode/pkg/cmap"
	"github.com/yndnr/dagnode/pkg/refcount"
)

// Status summarizes pool occupancy.
type Status struct {
	Pending  int    `json:"pending"`
	Capacity int    `json:"capacity"`
	Accepted uint64 `json:"accepted"`
	Rejected uint64 `json:"rejected"`
}

// Pool is a bounded transaction pool keyed by transaction hash.
type Pool struct {
	capacity int
	chainID  uint32
	dm       *refcount.Ref[*ledger.DataManager]
	pending  *cmap.Map[domain.Hash, *domain.Transaction]
	logger   *slog.Logger

	// admitMu makes the capacity check and insert one step.
	admitMu sync.Mutex

	accepted atomic.Uint64
	rejected atomic.Uint64
	closed   atomic.Bool
}

// WithCapacity builds a pool holding at most size transactions.
// It takes ownership of dm.
func WithCapacity(size int, chainID uint32, dm *refcount.Ref[*ledger.DataManager], logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		capacity: size,
		chainID:  chainID,
		dm:       dm,
		pending:  cmap.New[domain.Hash, *domain.Transaction](),
		logger:   logger.With("component", "txpool"),
	}
}

// Insert verifies tx against current state and admits it.
func (p *Pool) Insert(ctx context.Context, tx *domain.Transaction) (domain.Hash, error) {
	hash, err := p.insert(ctx, tx)
	if err != nil {
		p.rejected.Add(1)
		p.logger.Debug("transaction rejected", "hash", hash.Hex(), "error", err)
		return hash, err
	}
	p.accepted.Add(1)
	return hash, nil
}

func (p *Pool) insert(ctx context.Context, tx *domain.Transaction) (domain.Hash, error) {
	hash := tx.Hash()
	if p.closed.Load() {
		return hash, domain.ErrStopped
	}
	if tx.ChainID != p.chainID {
		return hash, domain.ErrInvalidTransaction.WithDetails("wrong chain id")
	}
	if err := tx.VerifySignature(); err != nil {
		return hash, domain.ErrInvalidTransaction.WithCause(err)
	}

	acc, err := p.dm.Value().Account(ctx, tx.Sender())
	if err != nil {
		return hash, err
	}
	if tx.Nonce < acc.Nonce {
		return hash, domain.ErrNonceMismatch.WithDetails("nonce too low")
	}
	if acc.Balance.Cmp(tx.Cost()) < 0 {
		return hash, domain.ErrInsufficientBalance
	}

	p.admitMu.Lock()
	defer p.admitMu.Unlock()

	if p.pending.Count() >= p.capacity {
		return hash, domain.ErrTxPoolFull
	}
	if !p.pending.SetIfAbsent(hash, tx) {
		return hash, domain.ErrDuplicateTransaction
	}
	return hash, nil
}

// Get returns a pending transaction.
func (p *Pool) Get(hash domain.Hash) (*domain.Transaction, bool) {
	return p.pending.Get(hash)
}

// Len returns the number of pending transactions.
func (p *Pool) Len() int {
	return p.pending.Count()
}

// Status returns an occupancy snapshot.
func (p *Pool) Status() Status {
	return Status{
		Pending:  p.pending.Count(),
		Capacity: p.capacity,
		Accepted: p.accepted.Load(),
		Rejected: p.rejected.Load(),
	}
}

// Pack selects up to max transactions whose nonces continue each sender's
// account nonce without gaps.
func (p *Pool) Pack(ctx context.Context, max int) []*domain.Transaction {
	bySender := make(map[domain.Address][]*domain.Transaction)
	p.pending.Range(func(_ domain.Hash, tx *domain.Transaction) bool {
		s := tx.Sender()
		bySender[s] = append(bySender[s], tx)
		return true
	})

	senders := make([]domain.Address, 0, len(bySender))
	for s := range bySender {
		senders = append(senders, s)
	}
	sort.Slice(senders, func(i, j int) bool {
		return bytes.Compare(senders[i][:], senders[j][:]) < 0
	})

	var out []*domain.Transaction
	for _, s := range senders {
		acc, err := p.dm.Value().Account(ctx, s)
		if err != nil {
			continue
		}
		txs := bySender[s]
		sort.Slice(txs, func(i, j int) bool { return txs[i].Nonce < txs[j].Nonce })

		next := acc.Nonce
		for _, tx := range txs {
			if len(out) >= max {
				return out
			}
			if tx.Nonce != next {
				break
			}
			out = append(out, tx)
			next++
		}
	}
	return out
}

// Remove drops transactions, typically after they were packed.
func (p *Pool) Remove(hashes ...domain.Hash) {
	for _, h := range hashes {
		p.pending.Delete(h)
	}
}

// Close drops pending transactions and releases the data manager.
func (p *Pool) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	dropped := p.pending.Count()
	p.pending.Clear()
	p.dm.Release()
	p.logger.Debug("txpool closed", "dropped", dropped)
}
