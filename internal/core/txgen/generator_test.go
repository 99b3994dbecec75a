package txgen

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/yndnr/dagnode/internal/core/consensus"
	"github.com/yndnr/dagnode/internal/core/ledger"
	"github.com/yndnr/dagnode/internal/core/ledger/ledgertest"
	"github.com/yndnr/dagnode/internal/core/secretstore"
	"github.com/yndnr/dagnode/internal/core/txpool"
	"github.com/yndnr/dagnode/pkg/refcount"
)

const chainID = 7

func newGenerator(t *testing.T, cfg Config, poolSize int) (*Generator, *txpool.Pool) {
	t.Helper()
	store, err := secretstore.New(secretstore.Config{Accounts: 3}, ledgertest.Logger)
	if err != nil {
		t.Fatal(err)
	}
	l := ledgertest.New(t, ledgertest.Funded(1_000_000_000, store.Addresses()...), ledger.GenesisParams{ChainID: chainID, Difficulty: 1})

	pool := txpool.WithCapacity(poolSize, chainID, l.DM.Clone(), ledgertest.Logger)
	cons := consensus.New(consensus.Config{ChainID: chainID}, consensus.NewVMFactory(0),
		refcount.New(pool, (*txpool.Pool).Close), consensus.NewStatistics(nil), l.DM.Clone(),
		consensus.PowConfig{Difficulty: 1}, ledgertest.Logger)

	g := New(cfg, refcount.New(cons, (*consensus.Graph).Close), refcount.New(store, (*secretstore.Store).Close), ledgertest.Logger)
	t.Cleanup(g.Close)
	return g, pool
}

func TestGenerateTransactions_Count(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Rate = 1000
	cfg.Count = 7
	g, pool := newGenerator(t, cfg, 100)

	if err := g.GenerateTransactions(context.Background()); err != nil {
		t.Fatalf("GenerateTransactions() error: %v", err)
	}
	if g.Generated() != 7 {
		t.Errorf("Generated() = %d, want 7", g.Generated())
	}
	if pool.Len() != 7 {
		t.Errorf("pool.Len() = %d, want 7", pool.Len())
	}
	// Three senders with contiguous nonces: all seven are packable.
	if got := len(pool.Pack(context.Background(), 100)); got != 7 {
		t.Errorf("Pack() = %d transactions, want 7", got)
	}
}

func TestGenerateTransactions_PoolFull(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Rate = 1000
	g, pool := newGenerator(t, cfg, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := g.GenerateTransactions(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("GenerateTransactions() error = %v, want deadline exceeded", err)
	}
	if pool.Len() != 2 {
		t.Errorf("pool.Len() = %d, want 2", pool.Len())
	}
	if g.Rejected() == 0 {
		t.Error("expected rejections once the pool was full")
	}
}

func TestStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Rate = 1
	g, _ := newGenerator(t, cfg, 100)

	errc := make(chan error, 1)
	go func() { errc <- g.GenerateTransactions(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	g.Stop()
	g.Stop()

	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("GenerateTransactions() after Stop error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("GenerateTransactions did not return after Stop")
	}
}

func TestGenerateTransactions_ClosedStore(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Rate = 1000
	g, _ := newGenerator(t, cfg, 100)
	g.keys.Value().Close()

	if err := g.GenerateTransactions(context.Background()); !errors.Is(err, secretstore.ErrClosed) {
		t.Errorf("GenerateTransactions() error = %v, want ErrClosed", err)
	}
}
