package config

import (
	"time"

	"github.com/yndnr/dagnode/internal/core/ledger"
	"github.com/yndnr/dagnode/internal/core/txgen"
	"github.com/yndnr/dagnode/internal/storage"
)

// NodeConfig is the root configuration for dagnode.
type NodeConfig struct {
	Node        NodeSection        `koanf:"node"`
	Storage     StorageSection     `koanf:"storage"`
	Cache       ledger.CacheConfig `koanf:"cache"`
	DataManager DataManagerSection `koanf:"data_manager"`
	Genesis     GenesisSection     `koanf:"genesis"`
	SecretStore SecretStoreSection `koanf:"secret_store"`
	TxPool      TxPoolSection      `koanf:"txpool"`
	Consensus   ConsensusSection   `koanf:"consensus"`
	Pow         PowSection         `koanf:"pow"`
	Network     NetworkSection     `koanf:"network"`
	Sync        SyncSection        `koanf:"sync"`
	Propagation PropagationSection `koanf:"propagation"`
	Mining      MiningSection      `koanf:"mining"`
	TxGen       TxGenSection       `koanf:"txgen"`
	Chain       ChainSection       `koanf:"chain"`
	RPC         RPCSection         `koanf:"rpc"`
	Metrics     MetricsSection     `koanf:"metrics"`
	Shutdown    ShutdownSection    `koanf:"shutdown"`
	Log         LogSection         `koanf:"log"`
}

// NodeSection holds node-wide switches.
type NodeSection struct {
	// TestMode enables test-only behavior: genesis accounts files, the
	// propagation protocol and the debug API on every endpoint.
	TestMode bool `koanf:"test_mode"`

	// Name is the network member name. Empty generates one.
	Name string `koanf:"name"`
}

// StorageSection configures the durable store.
type StorageSection struct {
	DataDir string              `koanf:"data_dir"`
	Badger  storage.BadgerConfig `koanf:"badger"`

	// UsageReportInterval is the pause between storage usage snapshots.
	UsageReportInterval time.Duration `koanf:"usage_report_interval"`
}

// DataManagerSection configures the data manager.
type DataManagerSection struct {
	// WorkerParallelism bounds concurrent block writes.
	WorkerParallelism int `koanf:"worker_parallelism"`
}

// GenesisSection fixes the chain parameters written at first start.
type GenesisSection struct {
	// AccountsFile is a JSON object of address to balance. Only read in test mode.
	AccountsFile string `koanf:"accounts_file"`

	GasLimit          uint64 `koanf:"gas_limit"`
	ChainID           uint32 `koanf:"chain_id"`
	InitialDifficulty uint64 `koanf:"initial_difficulty"`

	// DefaultAccounts is how many secret store accounts the default genesis funds.
	DefaultAccounts int `koanf:"default_accounts"`
}

// SecretStoreSection configures the account key store.
type SecretStoreSection struct {
	KeyFile    string `koanf:"key_file"`
	Passphrase string `koanf:"passphrase"`
	Accounts   int    `koanf:"accounts"`
}

// TxPoolSection configures the transaction pool.
type TxPoolSection struct {
	Size int `koanf:"size"`
}

// ConsensusSection configures the consensus graph.
type ConsensusSection struct {
	VMStackLimit int `koanf:"vm_stack_limit"`
	MaxReferees  int `koanf:"max_referees"`
}

// PowSection configures proof of work.
type PowSection struct {
	Difficulty uint64 `koanf:"difficulty"`
	Verify     bool   `koanf:"verify"`
}

// NetworkSection configures the gossip network.
type NetworkSection struct {
	BindAddr    string        `koanf:"bind_addr"`
	BindPort    int           `koanf:"bind_port"`
	Seeds       []string      `koanf:"seeds"`
	JoinRetries int           `koanf:"join_retries"`
	JoinBackoff time.Duration `koanf:"join_backoff"`
	Fanout      int           `koanf:"fanout"`

	// Testnet relaxes sync checks for test networks.
	Testnet bool `koanf:"testnet"`
}

// SyncSection configures block sync.
type SyncSection struct {
	RequestTimeout time.Duration `koanf:"request_timeout"`
	MaxFutureDrift time.Duration `koanf:"max_future_drift"`
	MaxBlockTxs    int           `koanf:"max_block_txs"`
	MaxOrphans     int           `koanf:"max_orphans"`
}

// PropagationSection configures the test-mode data propagation protocol.
type PropagationSection struct {
	Enabled  bool          `koanf:"enabled"`
	Interval time.Duration `koanf:"interval"`
	Size     int           `koanf:"size"`
}

// MiningSection configures block production.
type MiningSection struct {
	Enabled bool `koanf:"enabled"`

	// Author is the fee recipient as 40 hex digits without a 0x prefix.
	Author string `koanf:"author"`

	Interval    time.Duration `koanf:"interval"`
	MaxBlockTxs int           `koanf:"max_block_txs"`
}

// TxGenSection configures the transaction generator.
type TxGenSection struct {
	Enabled      bool `koanf:"enabled"`
	txgen.Config `koanf:",squash"`
}

// ChainSection configures chain replay.
type ChainSection struct {
	// TestChainPath is a JSON array of recorded blocks replayed at start.
	TestChainPath string `koanf:"test_chain_path"`
}

// EndpointConfig configures one RPC listener.
type EndpointConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

// RPCSection configures the RPC front ends.
type RPCSection struct {
	// DebugHTTP always serves the debug API and must bind a loopback address.
	DebugHTTP EndpointConfig `koanf:"debug_http"`
	TCP       EndpointConfig `koanf:"tcp"`
	HTTP      EndpointConfig `koanf:"http"`

	// IPCPath is the unix socket path. Empty disables IPC.
	IPCPath string `koanf:"ipc_path"`

	CORSAllowedOrigins []string      `koanf:"cors_allowed_origins"`
	KeepAlive          bool          `koanf:"keep_alive"`
	RateLimit          int           `koanf:"rate_limit"`
	ReadTimeout        time.Duration `koanf:"read_timeout"`
	WriteTimeout       time.Duration `koanf:"write_timeout"`
}

// MetricsSection configures metrics export.
type MetricsSection struct {
	Enabled        bool          `koanf:"enabled"`
	OutputFile     string        `koanf:"output_file"`
	ReportInterval time.Duration `koanf:"report_interval"`
}

// ShutdownSection bounds the shutdown protocol.
type ShutdownSection struct {
	// ReleasePollInterval is how often the storage release is checked.
	ReleasePollInterval time.Duration `koanf:"release_poll_interval"`

	// ReleaseWarnAfter logs one warning when storage is still held.
	ReleaseWarnAfter time.Duration `koanf:"release_warn_after"`

	// ReleaseTimeout gives up waiting for storage release.
	ReleaseTimeout time.Duration `koanf:"release_timeout"`

	// TaskJoinTimeout bounds the join of each background task.
	TaskJoinTimeout time.Duration `koanf:"task_join_timeout"`
}

// LogSection configures logging.
type LogSection struct {
	Level     string `koanf:"level"`
	Format    string `koanf:"format"`
	AddSource bool   `koanf:"add_source"`
}
