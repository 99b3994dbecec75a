package rpcserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/yndnr/dagnode/internal/core/blockgen"
	"github.com/yndnr/dagnode/internal/core/chainsync"
	"github.com/yndnr/dagnode/internal/core/consensus"
	"github.com/yndnr/dagnode/internal/core/domain"
	"github.com/yndnr/dagnode/internal/core/txpool"
	"github.com/yndnr/dagnode/internal/infra/shutdown"
	"github.com/yndnr/dagnode/internal/network"
	"github.com/yndnr/dagnode/pkg/refcount"
)

// Deps are the collaborators an API serves. The API takes ownership of
// every reference.
type Deps struct {
	Consensus *refcount.Ref[*consensus.Graph]
	Sync      *refcount.Ref[*chainsync.Service]

	// Miner backs debug_generateBlock. Nil disables the method.
	Miner *refcount.Ref[*blockgen.Generator]

	// Network is not owned.
	Network *network.Network

	// Exit is triggered by debug_stop.
	Exit *shutdown.Signal

	Logger *slog.Logger
}

// ChainStats is the result of debug_chainStats.
type ChainStats struct {
	Consensus consensus.StatisticsSnapshot `json:"consensus"`
	Sync      chainsync.Stats              `json:"sync"`
	Blocks    int                          `json:"blocks"`
	Orphans   int                          `json:"orphans"`
	BestHash  string                       `json:"best_hash"`
	Instance  string                       `json:"instance_id"`
}

// API implements the public and debug method sets.
type API struct {
	deps      Deps
	logger    *slog.Logger
	closeOnce sync.Once
}

// NewAPI takes ownership of the references in deps.
func NewAPI(deps Deps) *API {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &API{deps: deps, logger: logger.With("component", "rpc")}
}

// Public returns a dispatcher with the public method set.
func (a *API) Public() *Dispatcher {
	d := NewDispatcher(a.logger)
	a.registerPublic(d)
	return d
}

// Debug returns a dispatcher with the public and debug method sets.
func (a *API) Debug() *Dispatcher {
	d := NewDispatcher(a.logger)
	a.registerPublic(d)
	d.Register("debug_txpoolStatus", a.txpoolStatus)
	d.Register("debug_netPeers", a.netPeers)
	d.Register("debug_chainStats", a.chainStats)
	d.Register("debug_stop", a.stop)
	if a.deps.Miner != nil {
		d.Register("debug_generateBlock", a.generateBlock)
	}
	return d
}

func (a *API) registerPublic(d *Dispatcher) {
	d.Register("chain_blockNumber", a.blockNumber)
	d.Register("chain_bestBlockHash", a.bestBlockHash)
	d.Register("chain_getBlockByHash", a.getBlockByHash)
	d.Register("chain_getBlockByHeight", a.getBlockByHeight)
	d.Register("chain_getBalance", a.getBalance)
	d.Register("chain_getNonce", a.getNonce)
	d.Register("chain_sendTransaction", a.sendTransaction)
	d.Register("net_peerCount", a.peerCount)
}

func (a *API) consensus() *consensus.Graph {
	return a.deps.Consensus.Value()
}

func (a *API) pool() *txpool.Pool {
	return a.consensus().Pool()
}

func (a *API) blockNumber(_ context.Context, _ json.RawMessage) (any, error) {
	return a.consensus().BestHeight(), nil
}

func (a *API) bestBlockHash(_ context.Context, _ json.RawMessage) (any, error) {
	return a.consensus().BestBlockHash().Hex(), nil
}

func (a *API) getBlockByHash(ctx context.Context, params json.RawMessage) (any, error) {
	var s string
	if err := parseParams(params, &s); err != nil {
		return nil, err
	}
	hash, err := domain.ParseHash(s)
	if err != nil {
		return nil, InvalidParams("%v", err)
	}
	blk, err := a.consensus().BlockByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	return NewBlock(blk), nil
}

func (a *API) getBlockByHeight(ctx context.Context, params json.RawMessage) (any, error) {
	var height uint64
	if err := parseParams(params, &height); err != nil {
		return nil, err
	}
	blk, err := a.consensus().BlockByHeight(ctx, height)
	if err != nil {
		return nil, err
	}
	return NewBlock(blk), nil
}

func (a *API) account(ctx context.Context, params json.RawMessage) (*domain.Account, error) {
	var s string
	if err := parseParams(params, &s); err != nil {
		return nil, err
	}
	addr, err := domain.ParseAddress(s)
	if err != nil {
		return nil, InvalidParams("%v", err)
	}
	return a.consensus().Data().Account(ctx, addr)
}

func (a *API) getBalance(ctx context.Context, params json.RawMessage) (any, error) {
	acc, err := a.account(ctx, params)
	if err != nil {
		return nil, err
	}
	return acc.Balance.String(), nil
}

func (a *API) getNonce(ctx context.Context, params json.RawMessage) (any, error) {
	acc, err := a.account(ctx, params)
	if err != nil {
		return nil, err
	}
	return acc.Nonce, nil
}

func (a *API) sendTransaction(ctx context.Context, params json.RawMessage) (any, error) {
	var t Transaction
	if err := parseParams(params, &t); err != nil {
		return nil, err
	}
	tx, err := t.ToDomain()
	if err != nil {
		return nil, InvalidParams("%v", err)
	}
	hash, err := a.pool().Insert(ctx, tx)
	if err != nil {
		return nil, err
	}
	return hash.Hex(), nil
}

func (a *API) peerCount(_ context.Context, _ json.RawMessage) (any, error) {
	return a.deps.Network.PeerCount(), nil
}

func (a *API) txpoolStatus(_ context.Context, _ json.RawMessage) (any, error) {
	return a.pool().Status(), nil
}

func (a *API) netPeers(_ context.Context, _ json.RawMessage) (any, error) {
	peers := a.deps.Network.Peers()
	if peers == nil {
		peers = []network.PeerInfo{}
	}
	return peers, nil
}

func (a *API) chainStats(_ context.Context, _ json.RawMessage) (any, error) {
	cons := a.consensus()
	svc := a.deps.Sync.Value()
	return ChainStats{
		Consensus: cons.Statistics().Snapshot(),
		Sync:      svc.Stats(),
		Blocks:    cons.Size(),
		Orphans:   svc.Graph().OrphanCount(),
		BestHash:  cons.BestBlockHash().Hex(),
		Instance:  cons.Data().InstanceID(),
	}, nil
}

func (a *API) generateBlock(ctx context.Context, _ json.RawMessage) (any, error) {
	blk, err := a.deps.Miner.Value().GenerateOnce(ctx)
	if err != nil {
		return nil, err
	}
	return NewBlock(blk), nil
}

func (a *API) stop(_ context.Context, _ json.RawMessage) (any, error) {
	if a.deps.Exit.Trigger("rpc: debug_stop") {
		a.logger.Info("shutdown requested over rpc")
	}
	return true, nil
}

// Close releases every owned reference.
func (a *API) Close() {
	a.closeOnce.Do(func() {
		a.deps.Consensus.Release()
		a.deps.Sync.Release()
		if a.deps.Miner != nil {
			a.deps.Miner.Release()
		}
	})
}
