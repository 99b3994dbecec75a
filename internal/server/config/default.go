package config

import (
	"time"

	"github.com/yndnr/dagnode/internal/core/chainsync"
	"github.com/yndnr/dagnode/internal/core/ledger"
	"github.com/yndnr/dagnode/internal/core/secretstore"
	"github.com/yndnr/dagnode/internal/core/txgen"
	"github.com/yndnr/dagnode/internal/storage"
)

// Default configuration values.
const (
	DefaultDataDir             = "./data"
	DefaultUsageReportInterval = 5 * time.Second

	DefaultChainID           = 1
	DefaultGasLimit          = 30_000_000
	DefaultDifficulty        = 4
	DefaultTxPoolSize        = 50_000
	DefaultWorkerParallelism = 4

	DefaultBindAddr = "0.0.0.0"
	DefaultBindPort = 32323

	DefaultDebugHTTPAddr = "127.0.0.1:8547"
	DefaultTCPAddr       = "127.0.0.1:8546"
	DefaultHTTPAddr      = "127.0.0.1:8545"
	DefaultRateLimit     = 1000

	DefaultMiningInterval     = time.Second
	DefaultMetricsInterval    = 10 * time.Second
	DefaultReleasePoll        = time.Second
	DefaultReleaseWarnAfter   = 10 * time.Second
	DefaultReleaseTimeout     = 60 * time.Second
	DefaultTaskJoinTimeout    = 5 * time.Second
	DefaultPropagationPayload = 1024

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns the default node configuration.
func Default() *NodeConfig {
	verify := chainsync.DefaultVerificationConfig()

	return &NodeConfig{
		Storage: StorageSection{
			DataDir:             DefaultDataDir,
			Badger:              storage.DefaultBadgerConfig(),
			UsageReportInterval: DefaultUsageReportInterval,
		},
		Cache: ledger.DefaultCacheConfig(),
		DataManager: DataManagerSection{
			WorkerParallelism: DefaultWorkerParallelism,
		},
		Genesis: GenesisSection{
			GasLimit:          DefaultGasLimit,
			ChainID:           DefaultChainID,
			InitialDifficulty: DefaultDifficulty,
			DefaultAccounts:   secretstore.DefaultAccounts,
		},
		SecretStore: SecretStoreSection{
			Accounts: secretstore.DefaultAccounts,
		},
		TxPool: TxPoolSection{
			Size: DefaultTxPoolSize,
		},
		Consensus: ConsensusSection{
			MaxReferees: 8,
		},
		Pow: PowSection{
			Difficulty: DefaultDifficulty,
			Verify:     true,
		},
		Network: NetworkSection{
			BindAddr:    DefaultBindAddr,
			BindPort:    DefaultBindPort,
			JoinRetries: 5,
			JoinBackoff: 500 * time.Millisecond,
			Fanout:      4,
		},
		Sync: SyncSection{
			RequestTimeout: chainsync.DefaultProtocolConfig().RequestTimeout,
			MaxFutureDrift: verify.MaxFutureDrift,
			MaxBlockTxs:    verify.MaxBlockTxs,
			MaxOrphans:     verify.MaxOrphans,
		},
		Propagation: PropagationSection{
			Interval: time.Second,
			Size:     DefaultPropagationPayload,
		},
		Mining: MiningSection{
			Interval:    DefaultMiningInterval,
			MaxBlockTxs: 1000,
		},
		TxGen: TxGenSection{
			Config: txgen.DefaultConfig(),
		},
		RPC: RPCSection{
			DebugHTTP:    EndpointConfig{Addr: DefaultDebugHTTPAddr},
			TCP:          EndpointConfig{Addr: DefaultTCPAddr},
			HTTP:         EndpointConfig{Addr: DefaultHTTPAddr},
			KeepAlive:    true,
			RateLimit:    DefaultRateLimit,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Metrics: MetricsSection{
			ReportInterval: DefaultMetricsInterval,
		},
		Shutdown: ShutdownSection{
			ReleasePollInterval: DefaultReleasePoll,
			ReleaseWarnAfter:    DefaultReleaseWarnAfter,
			ReleaseTimeout:      DefaultReleaseTimeout,
			TaskJoinTimeout:     DefaultTaskJoinTimeout,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
