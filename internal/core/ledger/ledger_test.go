package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/yndnr/dagnode/internal/core/domain"
	"github.com/yndnr/dagnode/internal/storage"
	"github.com/yndnr/dagnode/pkg/refcount"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func openTestDB(t *testing.T) *refcount.Ref[*storage.BadgerEngine] {
	t.Helper()
	cfg := storage.DefaultBadgerConfig()
	cfg.GCInterval = "1h"
	cfg.SyncWrites = false

	engine, err := storage.Open(t.TempDir(), cfg, discard)
	if err != nil {
		t.Fatal(err)
	}
	ref := refcount.New(engine, func(e *storage.BadgerEngine) { e.Close() })
	t.Cleanup(func() { engine.Close() })
	return ref
}

func addr(b byte) domain.Address {
	var a domain.Address
	a[19] = b
	return a
}

func TestLoadGenesisFile(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "good.json")
	os.WriteFile(good, []byte(`{
		"0000000000000000000000000000000000000001": "1000",
		"0x0000000000000000000000000000000000000002": "0x10"
	}`), 0o644)

	accounts, err := LoadGenesisFile(good)
	if err != nil {
		t.Fatalf("LoadGenesisFile() error: %v", err)
	}
	if accounts[addr(1)].Int64() != 1000 || accounts[addr(2)].Int64() != 16 {
		t.Errorf("balances = %v", accounts)
	}

	tests := []struct {
		name    string
		content string
	}{
		{"not json", "{"},
		{"bad address", `{"xyz": "1"}`},
		{"bad balance", `{"0000000000000000000000000000000000000001": "lots"}`},
		{"negative", `{"0000000000000000000000000000000000000001": "-1"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := filepath.Join(dir, tt.name+".json")
			os.WriteFile(p, []byte(tt.content), 0o644)
			if _, err := LoadGenesisFile(p); err == nil {
				t.Error("expected error")
			}
		})
	}

	if _, err := LoadGenesisFile(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("missing file should fail")
	}
}

func TestInitializeGenesis(t *testing.T) {
	db := openTestDB(t)
	sm := NewStorageManager(db, discard)
	ctx := context.Background()

	accounts := DefaultGenesisAccounts([]domain.Address{addr(1), addr(2)}, big.NewInt(500))
	params := GenesisParams{GasLimit: 30_000_000, ChainID: 7, Difficulty: 4}

	genesis, err := sm.InitializeGenesis(ctx, accounts, params)
	if err != nil {
		t.Fatal(err)
	}
	if genesis.Header.Height != 0 || genesis.Header.Difficulty != 4 {
		t.Errorf("unexpected genesis header: %+v", genesis.Header)
	}

	acc, err := sm.Account(ctx, addr(2))
	if err != nil {
		t.Fatal(err)
	}
	if acc.Balance.Int64() != 500 {
		t.Errorf("balance = %s, want 500", acc.Balance)
	}

	pivot, err := sm.Pivot(ctx, 0)
	if err != nil || pivot != genesis.Hash() {
		t.Errorf("Pivot(0) = %s, %v", pivot.Hex(), err)
	}

	// Same genesis is accepted again.
	if _, err := sm.InitializeGenesis(ctx, accounts, params); err != nil {
		t.Errorf("re-initialize: %v", err)
	}

	// A different genesis is rejected.
	params.ChainID = 8
	params.Difficulty = 5
	if _, err := sm.InitializeGenesis(ctx, accounts, params); err == nil {
		t.Error("mismatched genesis should fail")
	}
}

func TestStorageManager_UnknownAccount(t *testing.T) {
	sm := NewStorageManager(openTestDB(t), discard)

	acc, err := sm.Account(context.Background(), addr(9))
	if err != nil {
		t.Fatal(err)
	}
	if acc.Balance.Sign() != 0 || acc.Nonce != 0 {
		t.Errorf("unknown account = %+v", acc)
	}

	if _, err := sm.Block(context.Background(), domain.Hash{1}); !errors.Is(err, domain.ErrBlockNotFound) {
		t.Errorf("Block() error = %v, want ErrBlockNotFound", err)
	}
}

func TestDataManager_BlocksAndState(t *testing.T) {
	db := openTestDB(t)
	sm := NewStorageManager(db, discard)
	ctx := context.Background()

	genesis, err := sm.InitializeGenesis(ctx, DefaultGenesisAccounts([]domain.Address{addr(1)}, big.NewInt(10)), GenesisParams{})
	if err != nil {
		t.Fatal(err)
	}

	smRef := refcount.New(sm, (*StorageManager).Close)
	dm, err := NewDataManager(smRef, genesis, DefaultCacheConfig(), 2, discard)
	if err != nil {
		t.Fatal(err)
	}
	if dm.InstanceID() == "" {
		t.Error("InstanceID() is empty")
	}

	blk := &domain.Block{Header: domain.BlockHeader{ParentHash: genesis.Hash(), Height: 1}}
	if err := dm.InsertBlock(ctx, blk); err != nil {
		t.Fatal(err)
	}
	dm.Flush()

	// Read straight from storage to prove the worker persisted it.
	if _, err := sm.Block(ctx, blk.Hash()); err != nil {
		t.Errorf("block not persisted: %v", err)
	}

	err = dm.UpdateAccounts(ctx, func(get func(domain.Address) (*domain.Account, error)) ([]*domain.Account, error) {
		acc, err := get(addr(1))
		if err != nil {
			return nil, err
		}
		acc.Balance.Add(acc.Balance, big.NewInt(5))
		acc.Nonce++
		return []*domain.Account{acc}, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	acc, _ := dm.Account(ctx, addr(1))
	if acc.Balance.Int64() != 15 || acc.Nonce != 1 {
		t.Errorf("account after update = %s/%d", acc.Balance, acc.Nonce)
	}

	// Callers cannot mutate the cached copy.
	acc.Balance.SetInt64(0)
	again, _ := dm.Account(ctx, addr(1))
	if again.Balance.Int64() != 15 {
		t.Error("cached account was mutated through a returned copy")
	}
}

func TestDataManager_CloseCascadesToStorage(t *testing.T) {
	db := openTestDB(t)
	handle := db.Downgrade()

	sm := NewStorageManager(db, discard)
	smRef := refcount.New(sm, (*StorageManager).Close)
	dm, err := NewDataManager(smRef, GenesisBlock(nil, GenesisParams{}), DefaultCacheConfig(), 1, discard)
	if err != nil {
		t.Fatal(err)
	}

	if !handle.Alive() {
		t.Fatal("storage handle released too early")
	}

	dm.Close()
	dm.Close() // idempotent

	select {
	case <-handle.Done():
	default:
		t.Fatal("storage handle still held after data manager close")
	}
	if err := dm.InsertBlock(context.Background(), &domain.Block{}); !errors.Is(err, domain.ErrStopped) {
		t.Errorf("InsertBlock after Close = %v, want ErrStopped", err)
	}
}

func TestDataManager_InsertRacingClose(t *testing.T) {
	db := openTestDB(t)
	reader := NewStorageManager(db.Clone(), discard)
	defer reader.Close()

	sm := NewStorageManager(db, discard)
	dm, err := NewDataManager(refcount.New(sm, (*StorageManager).Close), GenesisBlock(nil, GenesisParams{}), DefaultCacheConfig(), 2, discard)
	if err != nil {
		t.Fatal(err)
	}

	const writers = 32
	ctx := context.Background()
	results := make(chan *domain.Block, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(height uint64) {
			defer wg.Done()
			blk := &domain.Block{Header: domain.BlockHeader{Height: height}}
			switch err := dm.InsertBlock(ctx, blk); {
			case err == nil:
				results <- blk
			case !errors.Is(err, domain.ErrStopped):
				t.Errorf("InsertBlock(%d) = %v", height, err)
			}
		}(uint64(i + 1))
	}
	dm.Close()
	wg.Wait()
	close(results)

	// Close waits for every admitted write, so each one is readable.
	for blk := range results {
		if _, err := reader.Block(ctx, blk.Hash()); err != nil {
			t.Errorf("admitted block %d not persisted before close: %v", blk.Header.Height, err)
		}
	}
}
