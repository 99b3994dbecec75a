package ledger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync/atomic"

	"github.com/yndnr/dagnode/internal/core/domain"
	"github.com/yndnr/dagnode/internal/storage"
	"github.com/yndnr/dagnode/pkg/refcount"
)

// Key prefixes of the persisted layout.
var (
	prefixAccount = []byte("a/")
	prefixBlock   = []byte("b/")
	prefixPivot   = []byte("h/")
	prefixTxIndex = []byte("t/")
	keyGenesis    = []byte("m/genesis")
	keyChainID    = []byte("m/chain_id")
)

// Usage is a snapshot of storage activity.
type Usage struct {
	LSMBytes      uint64
	ValueLogBytes uint64
	Reads         uint64
	Writes        uint64
	CacheHits     uint64
}

// StorageManager owns one reference to the storage handle and maps chain
// objects onto keys.
type StorageManager struct {
	db     *refcount.Ref[*storage.BadgerEngine]
	logger *slog.Logger

	reads     atomic.Uint64
	writes    atomic.Uint64
	cacheHits atomic.Uint64
}

// NewStorageManager takes ownership of db. Close releases it.
func NewStorageManager(db *refcount.Ref[*storage.BadgerEngine], logger *slog.Logger) *StorageManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &StorageManager{
		db:     db,
		logger: logger.With("component", "storage_manager"),
	}
}

func (m *StorageManager) kv() *storage.BadgerEngine {
	return m.db.Value()
}

func (m *StorageManager) get(ctx context.Context, key []byte) ([]byte, error) {
	m.reads.Add(1)
	return m.kv().Get(ctx, key)
}

func (m *StorageManager) batch(ctx context.Context, pairs []storage.KV) error {
	m.writes.Add(uint64(len(pairs)))
	return m.kv().WriteBatch(ctx, pairs)
}

// Account loads the account at addr. Unknown accounts have zero balance and nonce.
func (m *StorageManager) Account(ctx context.Context, addr domain.Address) (*domain.Account, error) {
	raw, err := m.get(ctx, accountKey(addr))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return &domain.Account{Address: addr, Balance: new(big.Int)}, nil
	}
	if err != nil {
		return nil, err
	}
	return domain.DecodeAccount(addr, raw)
}

// PutAccounts writes accounts in one batch.
func (m *StorageManager) PutAccounts(ctx context.Context, accounts []*domain.Account) error {
	pairs := make([]storage.KV, 0, len(accounts))
	for _, acc := range accounts {
		pairs = append(pairs, storage.KV{Key: accountKey(acc.Address), Value: domain.EncodeAccount(acc)})
	}
	return m.batch(ctx, pairs)
}

// PutBlock persists a block body and its transaction index.
func (m *StorageManager) PutBlock(ctx context.Context, blk *domain.Block) error {
	hash := blk.Hash()
	pairs := make([]storage.KV, 0, 1+len(blk.Transactions))
	pairs = append(pairs, storage.KV{Key: blockKey(hash), Value: domain.EncodeBlock(blk)})
	for _, tx := range blk.Transactions {
		th := tx.Hash()
		pairs = append(pairs, storage.KV{Key: append(append([]byte{}, prefixTxIndex...), th[:]...), Value: hash[:]})
	}
	return m.batch(ctx, pairs)
}

// Block loads a persisted block.
func (m *StorageManager) Block(ctx context.Context, hash domain.Hash) (*domain.Block, error) {
	raw, err := m.get(ctx, blockKey(hash))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, domain.ErrBlockNotFound.WithDetails(hash.Hex())
	}
	if err != nil {
		return nil, err
	}
	return domain.DecodeBlock(raw)
}

// TransactionBlock returns the hash of the block that packed tx.
func (m *StorageManager) TransactionBlock(ctx context.Context, tx domain.Hash) (domain.Hash, bool) {
	raw, err := m.get(ctx, append(append([]byte{}, prefixTxIndex...), tx[:]...))
	if err != nil || len(raw) != domain.HashLength {
		return domain.Hash{}, false
	}
	var h domain.Hash
	copy(h[:], raw)
	return h, true
}

// SetPivot records hash as the pivot block at height.
func (m *StorageManager) SetPivot(ctx context.Context, height uint64, hash domain.Hash) error {
	m.writes.Add(1)
	return m.kv().Set(ctx, pivotKey(height), hash[:])
}

// Pivot returns the pivot block hash at height.
func (m *StorageManager) Pivot(ctx context.Context, height uint64) (domain.Hash, error) {
	raw, err := m.get(ctx, pivotKey(height))
	if errors.Is(err, storage.ErrKeyNotFound) || (err == nil && len(raw) != domain.HashLength) {
		return domain.Hash{}, domain.ErrBlockNotFound.WithDetails(fmt.Sprintf("height %d", height))
	}
	if err != nil {
		return domain.Hash{}, err
	}
	var h domain.Hash
	copy(h[:], raw)
	return h, nil
}

// RecordCacheHit counts a read served from a cache in front of this manager.
func (m *StorageManager) RecordCacheHit() {
	m.cacheHits.Add(1)
}

// Usage returns the current activity snapshot.
func (m *StorageManager) Usage(ctx context.Context) (Usage, error) {
	stats, err := m.kv().Stats(ctx)
	if err != nil {
		return Usage{}, err
	}
	return Usage{
		LSMBytes:      stats.LSMSize,
		ValueLogBytes: stats.ValueLogSize,
		Reads:         m.reads.Load(),
		Writes:        m.writes.Load(),
		CacheHits:     m.cacheHits.Load(),
	}, nil
}

// LogUsage emits one usage line.
func (m *StorageManager) LogUsage(ctx context.Context) (Usage, error) {
	u, err := m.Usage(ctx)
	if err != nil {
		return u, err
	}
	m.logger.Info("storage usage",
		"lsm_bytes", u.LSMBytes,
		"vlog_bytes", u.ValueLogBytes,
		"reads", u.Reads,
		"writes", u.Writes,
		"cache_hits", u.CacheHits)
	return u, nil
}

// Close releases the storage handle owned by this manager.
func (m *StorageManager) Close() {
	if m.db.Release() {
		m.logger.Debug("storage handle released by last owner")
	}
}

func accountKey(addr domain.Address) []byte {
	return append(append([]byte{}, prefixAccount...), addr[:]...)
}

func blockKey(hash domain.Hash) []byte {
	return append(append([]byte{}, prefixBlock...), hash[:]...)
}

func pivotKey(height uint64) []byte {
	k := append([]byte{}, prefixPivot...)
	return binary.BigEndian.AppendUint64(k, height)
}
