package node

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/yndnr/dagnode/internal/core/blockgen"
	"github.com/yndnr/dagnode/internal/core/chainsync"
	"github.com/yndnr/dagnode/internal/core/consensus"
	"github.com/yndnr/dagnode/internal/core/domain"
	"github.com/yndnr/dagnode/internal/core/ledger"
	"github.com/yndnr/dagnode/internal/core/secretstore"
	"github.com/yndnr/dagnode/internal/core/txgen"
	"github.com/yndnr/dagnode/internal/core/txpool"
	"github.com/yndnr/dagnode/internal/infra/shutdown"
	"github.com/yndnr/dagnode/internal/network"
	"github.com/yndnr/dagnode/internal/server/config"
	"github.com/yndnr/dagnode/internal/server/httpserver"
	"github.com/yndnr/dagnode/internal/server/localserver"
	"github.com/yndnr/dagnode/internal/server/rpcserver"
	"github.com/yndnr/dagnode/internal/server/tcpserver"
	"github.com/yndnr/dagnode/internal/storage"
	"github.com/yndnr/dagnode/internal/telemetry/metric"
	"github.com/yndnr/dagnode/pkg/refcount"
)

// Option configures Start.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	metrics *metric.Registry
}

// WithLogger sets the logger handed to every subsystem.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics sets the metric registry. By default each node gets its own.
func WithMetrics(reg *metric.Registry) Option {
	return func(o *options) {
		o.metrics = reg
	}
}

// Start builds the node's subsystems in dependency order and starts them.
//
// Every started component registers a teardown guard. When a stage fails the
// guards run in reverse order and the stage-tagged error is returned; the
// caller must not Close a failed start. On success ownership passes to the
// returned Handle.
func Start(cfg *config.NodeConfig, exit *shutdown.Signal, opts ...Option) (_ *Handle, err error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger

	// Stage 0: configuration. Nothing has been opened yet.
	if err := config.Verify(cfg); err != nil {
		return nil, err
	}
	if err := config.VerifyMining(cfg); err != nil {
		return nil, err
	}
	var author domain.Address
	if cfg.Mining.Author != "" {
		if author, err = config.MiningAuthor(cfg); err != nil {
			return nil, err
		}
	}

	if wd, werr := os.Getwd(); werr == nil {
		logger.Info("starting node", "working_dir", wd, "test_mode", cfg.Node.TestMode)
	}

	reg := o.metrics
	if reg == nil {
		reg = metric.NewRegistry()
	}

	guards := shutdown.NewStack(logger)
	defer func() {
		if err == nil {
			guards.Disarm()
			return
		}
		logger.Error("node start failed, tearing down", "stage", domain.StageOf(err), "error", err)
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Shutdown.ReleaseTimeout)
		defer cancel()
		guards.Unwind(ctx)
	}()

	ctx, cancel := exit.Context(context.Background())
	defer cancel()

	taskCtx, cancelTasks := exit.Context(context.Background())
	tasks := NewSupervisor(taskCtx, logger)
	guards.Push("tasks", func(context.Context) error {
		tasks.Stop()
		cancelTasks()
		return tasks.Wait(cfg.Shutdown.TaskJoinTimeout)
	})

	// Stage 1: durable storage.
	db, err := storage.Open(cfg.Storage.DataDir, cfg.Storage.Badger, logger)
	if err != nil {
		return nil, domain.ErrStorageOpen.Wrap(err, "open %s", cfg.Storage.DataDir)
	}
	db.RegisterMetrics(reg.Registerer())
	dbRef := refcount.New(db, func(e *storage.BadgerEngine) {
		if err := e.Close(); err != nil {
			logger.Error("close database failed", "error", err)
			return
		}
		logger.Info("database closed", "dir", e.Dir())
	})
	guards.Push("database", releaseGuard(dbRef))
	dbWeak := dbRef.Downgrade()

	// Stage 2: storage manager and its usage reporter.
	smRef := refcount.New(ledger.NewStorageManager(dbRef, logger), (*ledger.StorageManager).Close)
	guards.Push("storage manager", releaseGuard(smRef))
	smWeak := smRef.Downgrade()
	tasks.Go(taskUsageReporter, func(ctx context.Context) error {
		n := runUsageReporter(ctx, exit, smWeak, cfg.Storage.UsageReportInterval, reg, logger)
		logger.Debug("usage reporter stopped", "reports", n)
		return nil
	})

	// Stage 3: genesis.
	keys, err := secretstore.New(secretstore.Config{
		KeyFile:    cfg.SecretStore.KeyFile,
		Passphrase: cfg.SecretStore.Passphrase,
		Accounts:   cfg.SecretStore.Accounts,
	}, logger)
	if err != nil {
		return nil, domain.ErrGenesisLoad.Wrap(err, "open secret store")
	}
	keysRef := refcount.New(keys, (*secretstore.Store).Close)
	guards.Push("secret store", releaseGuard(keysRef))

	accounts, err := genesisAccounts(cfg, keys)
	if err != nil {
		return nil, err
	}
	genesis, err := smRef.Value().InitializeGenesis(ctx, accounts, ledger.GenesisParams{
		GasLimit:   cfg.Genesis.GasLimit,
		ChainID:    cfg.Genesis.ChainID,
		Difficulty: cfg.Genesis.InitialDifficulty,
	})
	if err != nil {
		return nil, domain.ErrGenesisLoad.Wrap(err, "initialize genesis")
	}
	logger.Debug("genesis block",
		"hash", genesis.Hash().Hex(),
		"accounts", len(accounts),
		"chain_id", cfg.Genesis.ChainID,
		"difficulty", genesis.Header.Difficulty)

	// Stage 4: data manager. It owns the storage manager from here on.
	dm, err := ledger.NewDataManager(smRef, genesis, cfg.Cache, cfg.DataManager.WorkerParallelism, logger)
	if err != nil {
		return nil, domain.ErrConfiguration.Wrap(err, "data manager")
	}
	dmRef := refcount.New(dm, (*ledger.DataManager).Close)
	guards.Push("data manager", releaseGuard(dmRef))

	// Stage 5: transaction pool.
	pool := txpool.WithCapacity(cfg.TxPool.Size, cfg.Genesis.ChainID, dmRef.Clone(), logger)
	poolRef := refcount.New(pool, (*txpool.Pool).Close)
	guards.Push("txpool", releaseGuard(poolRef))

	// Stage 6: consensus. It takes over the data manager reference.
	pow := consensus.PowConfig{Difficulty: cfg.Pow.Difficulty, Verify: cfg.Pow.Verify}
	cons := consensus.New(
		consensus.Config{ChainID: cfg.Genesis.ChainID, MaxReferees: cfg.Consensus.MaxReferees},
		consensus.NewVMFactory(cfg.Consensus.VMStackLimit),
		poolRef.Clone(),
		consensus.NewStatistics(reg.Registerer()),
		dmRef,
		pow,
		logger,
	)
	consRef := refcount.New(cons, (*consensus.Graph).Close)
	guards.Push("consensus", releaseGuard(consRef))

	// Stage 7: network.
	net, err := network.New(network.Config{
		NodeName:    cfg.Node.Name,
		BindAddr:    cfg.Network.BindAddr,
		BindPort:    cfg.Network.BindPort,
		Seeds:       cfg.Network.Seeds,
		JoinRetries: cfg.Network.JoinRetries,
		JoinBackoff: cfg.Network.JoinBackoff,
		Fanout:      cfg.Network.Fanout,
		Logger:      logger,
	})
	if err != nil {
		return nil, domain.ErrNetworkStart.WithCause(err)
	}
	if err := net.Start(); err != nil {
		return nil, domain.ErrNetworkStart.WithCause(err)
	}
	guards.Push("network", func(context.Context) error { return net.Close() })
	reg.Registerer().MustRegister(metric.NewCollector(nodeStats(consRef.Downgrade(), net)))

	// Stage 8: sync.
	graph := chainsync.NewGraph(consRef.Clone(), chainsync.VerificationConfig{
		MaxFutureDrift: cfg.Sync.MaxFutureDrift,
		MaxBlockTxs:    cfg.Sync.MaxBlockTxs,
		MaxOrphans:     cfg.Sync.MaxOrphans,
	}, pow, logger)
	svc := chainsync.NewService(cfg.Network.Testnet, net,
		refcount.New(graph, (*chainsync.Graph).Close),
		chainsync.ProtocolConfig{RequestTimeout: cfg.Sync.RequestTimeout},
		logger)
	syncRef := refcount.New(svc, (*chainsync.Service).Close)
	guards.Push("sync", releaseGuard(syncRef))
	if err := svc.Register(); err != nil {
		return nil, domain.ErrSyncRegistration.WithCause(err)
	}

	// Stage 9: test-mode data propagation.
	var prop *network.Propagation
	if cfg.Node.TestMode && cfg.Propagation.Enabled {
		prop = network.NewPropagation(net, network.PropagationConfig{
			Interval: cfg.Propagation.Interval,
			Size:     cfg.Propagation.Size,
		})
		guards.Push("propagation", func(context.Context) error {
			prop.Stop()
			return nil
		})
		if err := prop.Register(); err != nil {
			return nil, domain.ErrSyncRegistration.Wrap(err, "propagation protocol")
		}
	}

	// Stage 10: generators.
	gen := txgen.New(cfg.TxGen.Config, consRef.Clone(), keysRef.Clone(), logger)
	txgenRef := refcount.New(gen, (*txgen.Generator).Close)
	guards.Push("txgen", func(context.Context) error {
		gen.Stop()
		txgenRef.Release()
		return nil
	})

	miner := blockgen.New(blockgen.Config{
		Author:      author,
		Interval:    cfg.Mining.Interval,
		MaxBlockTxs: cfg.Mining.MaxBlockTxs,
		GasLimit:    cfg.Genesis.GasLimit,
	}, syncRef.Clone(), logger)
	minerRef := refcount.New(miner, (*blockgen.Generator).Close)
	guards.Push("block generator", func(ctx context.Context) error {
		err := miner.Stop(ctx)
		minerRef.Release()
		return err
	})

	// Stage 11: replay of a recorded chain.
	if path := cfg.Chain.TestChainPath; path != "" {
		if _, err := replayChain(ctx, path, svc, genesis.Hash(), logger); err != nil {
			return nil, err
		}
	}

	// Stages 12 and 13: foreground tasks hold their own references.
	if cfg.Mining.Enabled {
		mining := minerRef.Clone()
		tasks.Go(taskMining, func(context.Context) error {
			defer mining.Release()
			mining.Value().StartMining(0)
			return nil
		})
	}
	if cfg.TxGen.Enabled {
		generating := txgenRef.Clone()
		tasks.Go(taskTxGen, func(ctx context.Context) error {
			defer generating.Release()
			return generating.Value().GenerateTransactions(ctx)
		})
	}
	if cfg.Metrics.Enabled {
		fr := metric.NewFileReporter(cfg.Metrics.OutputFile, cfg.Metrics.ReportInterval, reg.Gatherer(), logger)
		tasks.Go(taskMetricsFile, func(ctx context.Context) error {
			fr.Run(ctx)
			return nil
		})
	}

	// Stage 14: RPC front ends.
	api := rpcserver.NewAPI(rpcserver.Deps{
		Consensus: consRef.Clone(),
		Sync:      syncRef.Clone(),
		Miner:     minerRef.Clone(),
		Network:   net,
		Exit:      exit,
		Logger:    logger,
	})
	guards.Push("rpc api", func(context.Context) error {
		api.Close()
		return nil
	})
	frontends, err := startFrontends(cfg, api, reg, guards, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("node started",
		"genesis", genesis.Hash().Hex(),
		"network", net.LocalAddr(),
		"mining", cfg.Mining.Enabled,
		"txgen", cfg.TxGen.Enabled,
		"rpc_endpoints", len(frontends))

	return &Handle{
		cfg:         cfg,
		exit:        exit,
		logger:      logger,
		storage:     dbWeak,
		consensus:   consRef,
		pool:        poolRef,
		sync:        syncRef,
		miner:       minerRef,
		txgen:       txgenRef,
		keys:        keysRef,
		api:         api,
		frontends:   frontends,
		network:     net,
		propagation: prop,
		metrics:     reg,
		tasks:       tasks,
		cancelTasks: cancelTasks,
	}, nil
}

func releaseGuard[T any](r *refcount.Ref[T]) func(context.Context) error {
	return func(context.Context) error {
		r.Release()
		return nil
	}
}

// genesisAccounts reads the accounts file in test mode and otherwise funds
// the first secret store accounts.
func genesisAccounts(cfg *config.NodeConfig, keys *secretstore.Store) (ledger.GenesisAccounts, error) {
	if cfg.Node.TestMode && cfg.Genesis.AccountsFile != "" {
		accounts, err := ledger.LoadGenesisFile(cfg.Genesis.AccountsFile)
		if err != nil {
			return nil, domain.ErrGenesisLoad.Wrap(err, "accounts file %s", cfg.Genesis.AccountsFile)
		}
		return accounts, nil
	}
	addrs := keys.Addresses()
	if n := cfg.Genesis.DefaultAccounts; n > 0 && n < len(addrs) {
		addrs = addrs[:n]
	}
	return ledger.DefaultGenesisAccounts(addrs, ledger.DefaultGenesisBalance), nil
}

// nodeStats reads scrape-time statistics without keeping consensus alive.
func nodeStats(cons refcount.Weak[*consensus.Graph], net *network.Network) func() (metric.NodeStats, bool) {
	return func() (metric.NodeStats, bool) {
		ref, ok := cons.Upgrade()
		if !ok {
			return metric.NodeStats{}, false
		}
		defer ref.Release()
		g := ref.Value()
		return metric.NodeStats{
			BestHeight:  g.BestHeight(),
			Blocks:      g.Size(),
			PoolPending: g.Pool().Len(),
			Peers:       net.PeerCount(),
		}, true
	}
}

type startable interface {
	frontend
	Start() error
}

// startFrontends binds the configured RPC endpoints. The debug endpoint and
// the IPC socket always serve the debug API; the public endpoints serve it
// only in test mode.
func startFrontends(cfg *config.NodeConfig, api *rpcserver.API, reg *metric.Registry, guards *shutdown.Stack, logger *slog.Logger) ([]namedFrontend, error) {
	rpc := cfg.RPC
	debug := api.Debug()
	public := debug
	if !cfg.Node.TestMode {
		public = api.Public()
	}

	router := func(d *rpcserver.Dispatcher, metrics http.Handler) http.Handler {
		return httpserver.NewRouter(&httpserver.RouterConfig{
			Dispatcher:         d,
			Metrics:            metrics,
			Logger:             logger,
			CORSAllowedOrigins: rpc.CORSAllowedOrigins,
			RateLimit:          rpc.RateLimit,
		})
	}
	httpConfig := func(addr string) httpserver.Config {
		return httpserver.Config{
			Addr:         addr,
			KeepAlive:    rpc.KeepAlive,
			ReadTimeout:  rpc.ReadTimeout,
			WriteTimeout: rpc.WriteTimeout,
		}
	}

	var started []namedFrontend
	start := func(name string, srv startable) error {
		if err := srv.Start(); err != nil {
			return domain.ErrRPCBind.Wrap(err, "%s endpoint", name)
		}
		guards.Push(name+" endpoint", srv.Shutdown)
		started = append(started, namedFrontend{name: name, srv: srv})
		logger.Info("rpc endpoint listening", "endpoint", name, "addr", srv.Addr())
		return nil
	}

	if rpc.DebugHTTP.Enabled {
		srv := httpserver.New(httpConfig(rpc.DebugHTTP.Addr), router(debug, reg.Handler()), logger)
		if err := start(EndpointDebugHTTP, srv); err != nil {
			return nil, err
		}
	}
	if rpc.TCP.Enabled {
		tcfg := tcpserver.DefaultConfig()
		tcfg.Addr = rpc.TCP.Addr
		tcfg.ReadTimeout = rpc.ReadTimeout
		tcfg.WriteTimeout = rpc.WriteTimeout
		if err := start(EndpointTCP, tcpserver.New(tcfg, public, logger)); err != nil {
			return nil, err
		}
	}
	if rpc.HTTP.Enabled {
		srv := httpserver.New(httpConfig(rpc.HTTP.Addr), router(public, nil), logger)
		if err := start(EndpointHTTP, srv); err != nil {
			return nil, err
		}
	}
	if rpc.IPCPath != "" {
		if err := start(EndpointIPC, localserver.New(rpc.IPCPath, debug, logger)); err != nil {
			return nil, err
		}
	}
	return started, nil
}
