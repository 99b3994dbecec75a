package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/semaphore"

	"github.com/yndnr/dagnode/internal/core/domain"
	"github.com/yndnr/dagnode/pkg/refcount"
)

// CacheConfig bounds the in-memory caches of the data manager.
type CacheConfig struct {
	Blocks int `koanf:"blocks"`
	Txs    int `koanf:"txs"`
	States int `koanf:"states"`
}

// DefaultCacheConfig returns the default cache sizes.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{Blocks: 4096, Txs: 65536, States: 16384}
}

// DataManager caches chain objects in front of the storage manager and
// persists new blocks through a bounded worker pool.
type DataManager struct {
	sm      *refcount.Ref[*StorageManager]
	genesis *domain.Block
	id      ulid.ULID
	logger  *slog.Logger

	blocks *lru.Cache
	txs    *lru.Cache
	states *lru.Cache

	// stateMu serializes read-modify-write of account state.
	stateMu sync.Mutex

	workers *semaphore.Weighted

	// writeMu orders pending.Add against Close so no write starts once
	// Close has begun waiting.
	writeMu sync.Mutex
	pending sync.WaitGroup
	closed  bool
}

// NewDataManager takes ownership of sm.
func NewDataManager(sm *refcount.Ref[*StorageManager], genesis *domain.Block, cache CacheConfig, workers int, logger *slog.Logger) (*DataManager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = 1
	}

	blocks, err := lru.New(cache.Blocks)
	if err != nil {
		return nil, fmt.Errorf("block cache: %w", err)
	}
	txs, err := lru.New(cache.Txs)
	if err != nil {
		return nil, fmt.Errorf("tx cache: %w", err)
	}
	states, err := lru.New(cache.States)
	if err != nil {
		return nil, fmt.Errorf("state cache: %w", err)
	}

	dm := &DataManager{
		sm:      sm,
		genesis: genesis,
		id:      ulid.Make(),
		logger:  logger.With("component", "data_manager"),
		blocks:  blocks,
		txs:     txs,
		states:  states,
		workers: semaphore.NewWeighted(int64(workers)),
	}
	blocks.Add(genesis.Hash(), genesis)

	dm.logger.Info("data manager ready",
		"instance_id", dm.id.String(),
		"workers", workers,
		"block_cache", cache.Blocks)
	return dm, nil
}

// InstanceID identifies this data manager instance in logs and RPC output.
func (d *DataManager) InstanceID() string {
	return d.id.String()
}

// Genesis returns the genesis block.
func (d *DataManager) Genesis() *domain.Block {
	return d.genesis
}

// Storage returns the storage manager.
func (d *DataManager) Storage() *StorageManager {
	return d.sm.Value()
}

// InsertBlock caches blk and persists it on a pool worker. It blocks only
// while every worker is busy.
func (d *DataManager) InsertBlock(ctx context.Context, blk *domain.Block) error {
	if err := d.workers.Acquire(ctx, 1); err != nil {
		return err
	}

	d.writeMu.Lock()
	if d.closed {
		d.writeMu.Unlock()
		d.workers.Release(1)
		return domain.ErrStopped
	}
	d.pending.Add(1)
	d.writeMu.Unlock()

	hash := blk.Hash()
	d.blocks.Add(hash, blk)
	for _, tx := range blk.Transactions {
		d.txs.Add(tx.Hash(), hash)
	}

	go func() {
		defer d.pending.Done()
		defer d.workers.Release(1)
		if err := d.Storage().PutBlock(context.Background(), blk); err != nil {
			d.logger.Error("persist block failed", "hash", hash.Hex(), "error", err)
		}
	}()
	return nil
}

// Block returns a block from cache or storage.
func (d *DataManager) Block(ctx context.Context, hash domain.Hash) (*domain.Block, error) {
	if v, ok := d.blocks.Get(hash); ok {
		d.Storage().RecordCacheHit()
		return v.(*domain.Block), nil
	}
	blk, err := d.Storage().Block(ctx, hash)
	if err != nil {
		return nil, err
	}
	d.blocks.Add(hash, blk)
	return blk, nil
}

// HasBlock reports whether the block is known.
func (d *DataManager) HasBlock(ctx context.Context, hash domain.Hash) bool {
	_, err := d.Block(ctx, hash)
	return err == nil
}

// TransactionBlock returns the block packing tx.
func (d *DataManager) TransactionBlock(ctx context.Context, tx domain.Hash) (domain.Hash, bool) {
	if v, ok := d.txs.Get(tx); ok {
		return v.(domain.Hash), true
	}
	return d.Storage().TransactionBlock(ctx, tx)
}

// Account returns the latest state of addr.
func (d *DataManager) Account(ctx context.Context, addr domain.Address) (*domain.Account, error) {
	if v, ok := d.states.Get(addr); ok {
		d.Storage().RecordCacheHit()
		return copyAccount(v.(*domain.Account)), nil
	}
	acc, err := d.Storage().Account(ctx, addr)
	if err != nil {
		return nil, err
	}
	d.states.Add(addr, acc)
	return copyAccount(acc), nil
}

// UpdateAccounts applies fn to the current accounts under the state lock and
// writes back the accounts it returns.
func (d *DataManager) UpdateAccounts(ctx context.Context, fn func(get func(domain.Address) (*domain.Account, error)) ([]*domain.Account, error)) error {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()

	changed, err := fn(func(a domain.Address) (*domain.Account, error) {
		return d.Account(ctx, a)
	})
	if err != nil {
		return err
	}
	if len(changed) == 0 {
		return nil
	}
	if err := d.Storage().PutAccounts(ctx, changed); err != nil {
		return err
	}
	for _, acc := range changed {
		d.states.Add(acc.Address, copyAccount(acc))
	}
	return nil
}

// SetPivot records the pivot block at height.
func (d *DataManager) SetPivot(ctx context.Context, height uint64, hash domain.Hash) error {
	return d.Storage().SetPivot(ctx, height, hash)
}

// Pivot returns the pivot block hash at height.
func (d *DataManager) Pivot(ctx context.Context, height uint64) (domain.Hash, error) {
	return d.Storage().Pivot(ctx, height)
}

// Flush waits for in-flight block writes.
func (d *DataManager) Flush() {
	d.pending.Wait()
}

// Close flushes pending writes and releases the storage manager.
func (d *DataManager) Close() {
	d.writeMu.Lock()
	if d.closed {
		d.writeMu.Unlock()
		return
	}
	d.closed = true
	d.writeMu.Unlock()

	d.pending.Wait()
	d.blocks.Purge()
	d.txs.Purge()
	d.states.Purge()
	d.sm.Release()
	d.logger.Debug("data manager closed", "instance_id", d.id.String())
}

func copyAccount(a *domain.Account) *domain.Account {
	cp := *a
	if a.Balance != nil {
		cp.Balance = new(big.Int).Set(a.Balance)
	}
	return &cp
}
