package chainsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/dagnode/internal/core/consensus"
	"github.com/yndnr/dagnode/internal/core/domain"
	"github.com/yndnr/dagnode/internal/core/ledger"
	"github.com/yndnr/dagnode/internal/core/ledger/ledgertest"
	"github.com/yndnr/dagnode/internal/core/txpool"
	"github.com/yndnr/dagnode/internal/network"
	"github.com/yndnr/dagnode/pkg/refcount"
)

var pow = consensus.PowConfig{Difficulty: 1}

func newSyncGraph(t *testing.T) *Graph {
	t.Helper()
	l := ledgertest.New(t, nil, ledger.GenesisParams{ChainID: 1, Difficulty: 1})
	pool := refcount.New(txpool.WithCapacity(10, 1, l.DM.Clone(), ledgertest.Logger), (*txpool.Pool).Close)
	cons := consensus.New(consensus.Config{ChainID: 1}, consensus.NewVMFactory(0), pool,
		consensus.NewStatistics(prometheus.NewRegistry()), l.DM.Clone(), pow, ledgertest.Logger)
	g := NewGraph(refcount.New(cons, (*consensus.Graph).Close), DefaultVerificationConfig(), pow, ledgertest.Logger)
	t.Cleanup(g.Close)
	return g
}

func child(parent *domain.Block, nonce uint64) *domain.Block {
	b := &domain.Block{Header: domain.BlockHeader{
		ParentHash: parent.Hash(),
		Height:     parent.Header.Height + 1,
		Difficulty: 1,
		Nonce:      nonce,
		Timestamp:  time.Now().Unix(),
	}}
	b.Header.TxRoot = domain.ComputeTxRoot(nil)
	return b
}

func TestGraph_OrphansReleasedInOrder(t *testing.T) {
	g := newSyncGraph(t)
	ctx := context.Background()
	genesis := g.Consensus().BestBlock()

	b1 := child(genesis, 0)
	b2 := child(b1, 0)
	b3 := child(b2, 0)

	// Arrive newest first.
	for _, b := range []*domain.Block{b3, b2} {
		missing, err := g.Insert(ctx, b)
		if err != nil {
			t.Fatal(err)
		}
		if len(missing) != 1 {
			t.Errorf("missing = %d, want 1", len(missing))
		}
	}
	if g.OrphanCount() != 2 {
		t.Errorf("OrphanCount() = %d, want 2", g.OrphanCount())
	}
	if !g.Contains(b3.Hash()) {
		t.Error("orphan not reported by Contains")
	}

	if missing, err := g.Insert(ctx, b1); err != nil || len(missing) != 0 {
		t.Fatalf("Insert(b1) = %v, %v", missing, err)
	}
	if g.OrphanCount() != 0 {
		t.Errorf("OrphanCount() after release = %d", g.OrphanCount())
	}
	if g.Consensus().BestBlockHash() != b3.Hash() {
		t.Error("released orphans did not reach consensus")
	}
}

func TestGraph_VerifyHeader(t *testing.T) {
	g := newSyncGraph(t)
	genesis := g.Consensus().BestBlock()

	wrongDifficulty := child(genesis, 0)
	wrongDifficulty.Header.Difficulty = 7

	future := child(genesis, 0)
	future.Header.Timestamp = time.Now().Add(time.Hour).Unix()

	for name, b := range map[string]*domain.Block{"difficulty": wrongDifficulty, "future": future} {
		t.Run(name, func(t *testing.T) {
			if _, err := g.Insert(context.Background(), b); !errors.Is(err, domain.ErrInvalidBlock) {
				t.Errorf("Insert() error = %v, want ErrInvalidBlock", err)
			}
		})
	}
}

func TestGraph_OrphanLimit(t *testing.T) {
	l := ledgertest.New(t, nil, ledger.GenesisParams{Difficulty: 1})
	pool := refcount.New(txpool.WithCapacity(10, 0, l.DM.Clone(), ledgertest.Logger), (*txpool.Pool).Close)
	cons := consensus.New(consensus.Config{}, consensus.NewVMFactory(0), pool, consensus.NewStatistics(nil), l.DM.Clone(), pow, ledgertest.Logger)
	g := NewGraph(refcount.New(cons, (*consensus.Graph).Close), VerificationConfig{MaxOrphans: 1}, pow, ledgertest.Logger)
	defer g.Close()

	ctx := context.Background()
	fake := &domain.Block{Header: domain.BlockHeader{Height: 5, Difficulty: 1}}
	a := child(fake, 1)
	b := child(fake, 2)
	if _, err := g.Insert(ctx, a); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Insert(ctx, b); err == nil {
		t.Error("orphan beyond limit accepted")
	}
}

func TestService_OnMinedBlockOffline(t *testing.T) {
	g := newSyncGraph(t)
	net, err := network.New(network.Config{Logger: ledgertest.Logger})
	if err != nil {
		t.Fatal(err)
	}
	defer net.Close()

	s := NewService(true, net, refcount.New(g, nil), DefaultProtocolConfig(), ledgertest.Logger)
	if err := s.Register(); err != nil {
		t.Fatal(err)
	}
	if err := s.Register(); err == nil {
		t.Error("second Register() should fail")
	}

	b := child(g.Consensus().BestBlock(), 0)
	if err := s.OnMinedBlock(context.Background(), b); err != nil {
		t.Fatalf("OnMinedBlock() error: %v", err)
	}
	if g.Consensus().BestBlockHash() != b.Hash() {
		t.Error("mined block not inserted")
	}

	s.Close()
	if err := s.OnMinedBlock(context.Background(), child(b, 0)); !errors.Is(err, domain.ErrStopped) {
		t.Errorf("OnMinedBlock after Close error = %v", err)
	}
}

func TestService_TwoPeersSync(t *testing.T) {
	startNet := func(name string, seeds ...string) *network.Network {
		n, err := network.New(network.Config{
			NodeName: name, BindAddr: "127.0.0.1", Seeds: seeds,
			JoinRetries: 2, JoinBackoff: 50 * time.Millisecond, Logger: ledgertest.Logger,
		})
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { n.Close() })
		return n
	}

	netA := startNet("sync-a")
	gA := newSyncGraph(t)
	sA := NewService(true, netA, refcount.New(gA, nil), DefaultProtocolConfig(), ledgertest.Logger)
	if err := sA.Register(); err != nil {
		t.Fatal(err)
	}
	if err := netA.Start(); err != nil {
		t.Fatal(err)
	}

	// A mines two blocks before B exists; B must catch up through status + requests.
	b1 := child(gA.Consensus().BestBlock(), 0)
	b2 := child(b1, 0)
	for _, b := range []*domain.Block{b1, b2} {
		if err := sA.OnMinedBlock(context.Background(), b); err != nil {
			t.Fatal(err)
		}
	}

	netB := startNet("sync-b", netA.LocalAddr())
	gB := newSyncGraph(t)
	sB := NewService(true, netB, refcount.New(gB, nil), DefaultProtocolConfig(), ledgertest.Logger)
	if err := sB.Register(); err != nil {
		t.Fatal(err)
	}
	if err := netB.Start(); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for gB.Consensus().BestBlockHash() != b2.Hash() {
		if time.Now().After(deadline) {
			t.Fatalf("peer B best height = %d, want 2", gB.Consensus().BestHeight())
		}
		time.Sleep(50 * time.Millisecond)
	}
	if sB.Stats().BlocksReceived < 2 {
		t.Errorf("BlocksReceived = %d", sB.Stats().BlocksReceived)
	}
}
