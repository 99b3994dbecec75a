// Package ledgertest builds throwaway ledgers for tests.
package ledgertest

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/yndnr/dagnode/internal/core/domain"
	"github.com/yndnr/dagnode/internal/core/ledger"
	"github.com/yndnr/dagnode/internal/storage"
	"github.com/yndnr/dagnode/pkg/refcount"
)

// Logger discards output.
var Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

// Ledger is a data manager over a temporary Badger store.
type Ledger struct {
	DM      *refcount.Ref[*ledger.DataManager]
	Storage refcount.Weak[*storage.BadgerEngine]
	Genesis *domain.Block
}

// New opens a store in t.TempDir, writes genesis and returns the data
// manager. The caller owns DM; the test cleanup releases it.
func New(t testing.TB, accounts ledger.GenesisAccounts, params ledger.GenesisParams) *Ledger {
	t.Helper()

	cfg := storage.DefaultBadgerConfig()
	cfg.GCInterval = "1h"
	cfg.SyncWrites = false
	engine, err := storage.Open(t.TempDir(), cfg, Logger)
	if err != nil {
		t.Fatal(err)
	}
	db := refcount.New(engine, func(e *storage.BadgerEngine) { e.Close() })
	weak := db.Downgrade()

	sm := ledger.NewStorageManager(db, Logger)
	genesis, err := sm.InitializeGenesis(context.Background(), accounts, params)
	if err != nil {
		sm.Close()
		t.Fatal(err)
	}

	dm, err := ledger.NewDataManager(refcount.New(sm, (*ledger.StorageManager).Close), genesis, ledger.DefaultCacheConfig(), 2, Logger)
	if err != nil {
		sm.Close()
		t.Fatal(err)
	}
	ref := refcount.New(dm, (*ledger.DataManager).Close)
	t.Cleanup(func() {
		ref.Release()
		engine.Close()
	})

	return &Ledger{DM: ref, Storage: weak, Genesis: genesis}
}

// Funded returns accounts giving each address balance.
func Funded(balance int64, addrs ...domain.Address) ledger.GenesisAccounts {
	return ledger.DefaultGenesisAccounts(addrs, big.NewInt(balance))
}
