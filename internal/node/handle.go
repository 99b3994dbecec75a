package node

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/yndnr/dagnode/internal/core/blockgen"
	"github.com/yndnr/dagnode/internal/core/chainsync"
	"github.com/yndnr/dagnode/internal/core/consensus"
	"github.com/yndnr/dagnode/internal/core/secretstore"
	"github.com/yndnr/dagnode/internal/core/txgen"
	"github.com/yndnr/dagnode/internal/core/txpool"
	"github.com/yndnr/dagnode/internal/infra/shutdown"
	"github.com/yndnr/dagnode/internal/network"
	"github.com/yndnr/dagnode/internal/server/config"
	"github.com/yndnr/dagnode/internal/server/rpcserver"
	"github.com/yndnr/dagnode/internal/storage"
	"github.com/yndnr/dagnode/internal/telemetry/metric"
	"github.com/yndnr/dagnode/pkg/refcount"
)

// Front end names.
const (
	EndpointDebugHTTP = "debug_http"
	EndpointTCP       = "tcp"
	EndpointHTTP      = "http"
	EndpointIPC       = "ipc"
)

// frontend is a started RPC listener.
type frontend interface {
	Addr() string
	Shutdown(ctx context.Context) error
}

type namedFrontend struct {
	name string
	srv  frontend
}

// Handle owns a running node. It is produced by Start and consumed by Close.
type Handle struct {
	cfg    *config.NodeConfig
	exit   *shutdown.Signal
	logger *slog.Logger

	// storage is non-owning; its Done channel is the release acknowledgment.
	storage refcount.Weak[*storage.BadgerEngine]

	consensus *refcount.Ref[*consensus.Graph]
	pool      *refcount.Ref[*txpool.Pool]
	sync      *refcount.Ref[*chainsync.Service]
	miner     *refcount.Ref[*blockgen.Generator]
	txgen     *refcount.Ref[*txgen.Generator]
	keys      *refcount.Ref[*secretstore.Store]

	api         *rpcserver.API
	frontends   []namedFrontend
	network     *network.Network
	propagation *network.Propagation
	metrics     *metric.Registry
	tasks       *Supervisor
	cancelTasks context.CancelFunc

	closed atomic.Bool
}

// Exit returns the exit signal the node watches.
func (h *Handle) Exit() *shutdown.Signal {
	return h.exit
}

// Consensus returns the consensus graph.
func (h *Handle) Consensus() *consensus.Graph {
	return h.consensus.Value()
}

// Sync returns the sync service.
func (h *Handle) Sync() *chainsync.Service {
	return h.sync.Value()
}

// Miner returns the block generator.
func (h *Handle) Miner() *blockgen.Generator {
	return h.miner.Value()
}

// Network returns the network layer.
func (h *Handle) Network() *network.Network {
	return h.network
}

// Metrics returns the node's metric registry.
func (h *Handle) Metrics() *metric.Registry {
	return h.metrics
}

// Tasks returns the background task supervisor.
func (h *Handle) Tasks() *Supervisor {
	return h.tasks
}

// Endpoint returns the bound address of a front end, or "" when it is not running.
func (h *Handle) Endpoint(name string) string {
	for _, f := range h.frontends {
		if f.name == name {
			return f.srv.Addr()
		}
	}
	return ""
}

// StorageReleased is closed once every owner released the storage handle.
func (h *Handle) StorageReleased() <-chan struct{} {
	return h.storage.Done()
}
