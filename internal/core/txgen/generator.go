// Package txgen produces a steady stream of signed transfers between the
// secret store's accounts. It is used to load test networks.
package txgen

import (
	"context"
	"crypto/ed25519"
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/yndnr/dagnode/internal/core/consensus"
	"github.com/yndnr/dagnode/internal/core/domain"
	"github.com/yndnr/dagnode/internal/core/secretstore"
	"github.com/yndnr/dagnode/pkg/refcount"
)

// Config configures transaction generation.
type Config struct {
	// Rate is the number of transactions per second.
	Rate float64 `koanf:"rate"`

	// Count stops generation after this many accepted transactions. Zero means unlimited.
	Count int `koanf:"count"`

	// Value is transferred by every transaction.
	Value int64 `koanf:"value"`

	GasPrice uint64 `koanf:"gas_price"`
	Gas      uint64 `koanf:"gas"`
}

// DefaultConfig returns ten transfers of one unit per second.
func DefaultConfig() Config {
	return Config{Rate: 10, Value: 1, GasPrice: 1, Gas: 21000}
}

// Generator signs transfers and inserts them into the pool.
type Generator struct {
	cfg    Config
	cons   *refcount.Ref[*consensus.Graph]
	keys   *refcount.Ref[*secretstore.Store]
	logger *slog.Logger

	stopOnce sync.Once
	stop     chan struct{}

	// nonces caches the next nonce per sender.
	nonces map[domain.Address]uint64

	generated atomic.Uint64
	rejected  atomic.Uint64
}

// New takes ownership of cons and keys.
func New(cfg Config, cons *refcount.Ref[*consensus.Graph], keys *refcount.Ref[*secretstore.Store], logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Rate <= 0 {
		cfg.Rate = DefaultConfig().Rate
	}
	return &Generator{
		cfg:    cfg,
		cons:   cons,
		keys:   keys,
		logger: logger.With("component", "txgen"),
		stop:   make(chan struct{}),
		nonces: make(map[domain.Address]uint64),
	}
}

// Generated returns the number of transactions the pool accepted.
func (g *Generator) Generated() uint64 {
	return g.generated.Load()
}

// Rejected returns the number of transactions the pool refused.
func (g *Generator) Rejected() uint64 {
	return g.rejected.Load()
}

// GenerateTransactions runs until Stop, ctx ends or Count transactions were
// accepted. Stop and Count end it with a nil error. It must not be called
// concurrently.
func (g *Generator) GenerateTransactions(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-g.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	store := g.keys.Value()
	n := store.Count()
	if n == 0 {
		return errors.New("txgen: secret store holds no accounts")
	}
	addrs := store.Addresses()
	limiter := rate.NewLimiter(rate.Limit(g.cfg.Rate), 1)

	g.logger.Info("transaction generation started", "rate", g.cfg.Rate, "accounts", n, "count", g.cfg.Count)
	defer func() {
		g.logger.Info("transaction generation stopped", "generated", g.generated.Load(), "rejected", g.rejected.Load())
	}()

	for i := 0; ; i++ {
		if g.cfg.Count > 0 && g.generated.Load() >= uint64(g.cfg.Count) {
			return nil
		}
		if err := limiter.Wait(ctx); err != nil {
			if g.stopped() {
				return nil
			}
			return ctx.Err()
		}

		from := i % n
		to := addrs[(from+1)%n]
		if err := g.send(ctx, from, to); err != nil {
			return err
		}
	}
}

func (g *Generator) send(ctx context.Context, from int, to domain.Address) error {
	key, err := g.keys.Value().Key(from)
	if err != nil {
		return err
	}
	cons := g.cons.Value()

	tx := &domain.Transaction{
		GasPrice: g.cfg.GasPrice,
		Gas:      g.cfg.Gas,
		To:       to,
		Value:    big.NewInt(g.cfg.Value),
		ChainID:  cons.ChainID(),
	}
	sender := domain.PubkeyToAddress(key.Public().(ed25519.PublicKey))

	nonce, ok := g.nonces[sender]
	if !ok {
		acc, err := cons.Data().Account(ctx, sender)
		if err != nil {
			return err
		}
		nonce = acc.Nonce
	}
	tx.Nonce = nonce
	tx.Sign(key)

	_, err = cons.Pool().Insert(ctx, tx)
	switch {
	case err == nil:
		g.nonces[sender] = nonce + 1
		g.generated.Add(1)
	case errors.Is(err, domain.ErrStopped):
		return err
	case errors.Is(err, domain.ErrNonceMismatch):
		// Chain state moved past the cached nonce.
		delete(g.nonces, sender)
		g.rejected.Add(1)
	default:
		g.rejected.Add(1)
		g.logger.Debug("generated transaction rejected", "sender", sender.Hex(), "error", err)
	}
	return nil
}

func (g *Generator) stopped() bool {
	select {
	case <-g.stop:
		return true
	default:
		return false
	}
}

// Stop ends GenerateTransactions. It is safe to call more than once.
func (g *Generator) Stop() {
	g.stopOnce.Do(func() { close(g.stop) })
}

// Close stops generation and releases the consensus graph and secret store.
func (g *Generator) Close() {
	g.Stop()
	g.cons.Release()
	g.keys.Release()
}
