package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/yndnr/dagnode/internal/core/domain"
	"github.com/yndnr/dagnode/internal/telemetry/logger"
)

// Verify validates the configuration. Failures wrap domain.ErrConfiguration.
// A missing mining author is left to VerifyMining.
func Verify(cfg *NodeConfig) error {
	checks := []func(*NodeConfig) error{
		verifyStorage,
		verifyChain,
		verifyNetwork,
		verifyMiningAuthor,
		verifyTxGen,
		verifyRPC,
		verifyMetrics,
		verifyShutdown,
		verifyLog,
	}
	for _, check := range checks {
		if err := check(cfg); err != nil {
			return err
		}
	}
	return nil
}

// VerifyMining rejects mining without an author.
func VerifyMining(cfg *NodeConfig) error {
	if cfg.Mining.Enabled && cfg.Mining.Author == "" {
		return domain.ErrMiningConfig
	}
	return nil
}

// MiningAuthor parses mining.author. It must be exactly 40 hex digits.
func MiningAuthor(cfg *NodeConfig) (domain.Address, error) {
	s := cfg.Mining.Author
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return domain.Address{}, invalid("mining.author must not carry a 0x prefix")
	}
	addr, err := domain.ParseAddress(s)
	if err != nil {
		return domain.Address{}, domain.ErrConfiguration.Wrap(err, "mining.author %q", s)
	}
	return addr, nil
}

func invalid(format string, args ...any) error {
	return domain.ErrConfiguration.WithDetails(fmt.Sprintf(format, args...))
}

func verifyStorage(cfg *NodeConfig) error {
	if cfg.Storage.DataDir == "" {
		return invalid("storage.data_dir is required")
	}
	if cfg.Storage.UsageReportInterval <= 0 {
		return invalid("storage.usage_report_interval must be positive")
	}
	if cfg.DataManager.WorkerParallelism <= 0 {
		return invalid("data_manager.worker_parallelism must be positive")
	}
	if cfg.Cache.Blocks <= 0 || cfg.Cache.Txs <= 0 || cfg.Cache.States <= 0 {
		return invalid("cache sizes must be positive")
	}
	return nil
}

func verifyChain(cfg *NodeConfig) error {
	if cfg.TxPool.Size <= 0 {
		return invalid("txpool.size must be positive")
	}
	if cfg.Genesis.GasLimit == 0 {
		return invalid("genesis.gas_limit must be positive")
	}
	if cfg.Genesis.DefaultAccounts > cfg.SecretStore.Accounts && cfg.SecretStore.Accounts > 0 {
		return invalid("genesis.default_accounts (%d) exceeds secret_store.accounts (%d)",
			cfg.Genesis.DefaultAccounts, cfg.SecretStore.Accounts)
	}
	if cfg.Pow.Difficulty == 0 {
		return invalid("pow.difficulty must be positive")
	}
	if cfg.Propagation.Enabled && (cfg.Propagation.Interval <= 0 || cfg.Propagation.Size <= 0) {
		return invalid("propagation.interval and propagation.size must be positive")
	}
	return nil
}

func verifyNetwork(cfg *NodeConfig) error {
	if cfg.Network.BindPort < 0 || cfg.Network.BindPort > 65535 {
		return invalid("network.bind_port %d out of range", cfg.Network.BindPort)
	}
	for _, seed := range cfg.Network.Seeds {
		if _, _, err := net.SplitHostPort(seed); err != nil {
			return domain.ErrConfiguration.Wrap(err, "network.seeds entry %q", seed)
		}
	}
	return nil
}

func verifyMiningAuthor(cfg *NodeConfig) error {
	if cfg.Mining.Author == "" {
		return nil
	}
	_, err := MiningAuthor(cfg)
	return err
}

func verifyTxGen(cfg *NodeConfig) error {
	if cfg.TxGen.Enabled && cfg.TxGen.Rate <= 0 {
		return invalid("txgen.rate must be positive")
	}
	if cfg.TxGen.Count < 0 {
		return invalid("txgen.count must not be negative")
	}
	return nil
}

func verifyRPC(cfg *NodeConfig) error {
	seen := make(map[string]string)
	endpoints := []struct {
		name string
		ep   EndpointConfig
	}{
		{"rpc.debug_http", cfg.RPC.DebugHTTP},
		{"rpc.tcp", cfg.RPC.TCP},
		{"rpc.http", cfg.RPC.HTTP},
	}
	for _, e := range endpoints {
		if !e.ep.Enabled {
			continue
		}
		host, port, err := net.SplitHostPort(e.ep.Addr)
		if err != nil {
			return domain.ErrConfiguration.Wrap(err, "%s.addr %q", e.name, e.ep.Addr)
		}
		// Port 0 asks the kernel for a free port and never conflicts.
		if port != "0" {
			if prev, ok := seen[e.ep.Addr]; ok {
				return invalid("%s.addr %q already used by %s", e.name, e.ep.Addr, prev)
			}
			seen[e.ep.Addr] = e.name
		}
		if e.name == "rpc.debug_http" && !isLoopback(host) {
			return invalid("rpc.debug_http.addr %q must be a loopback address", e.ep.Addr)
		}
	}
	if cfg.RPC.RateLimit < 0 {
		return invalid("rpc.rate_limit must not be negative")
	}
	return nil
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func verifyMetrics(cfg *NodeConfig) error {
	if !cfg.Metrics.Enabled {
		return nil
	}
	if cfg.Metrics.OutputFile == "" {
		return invalid("metrics.output_file is required when metrics are enabled")
	}
	if cfg.Metrics.ReportInterval <= 0 {
		return invalid("metrics.report_interval must be positive")
	}
	return nil
}

func verifyShutdown(cfg *NodeConfig) error {
	s := cfg.Shutdown
	if s.ReleasePollInterval <= 0 || s.ReleaseTimeout <= 0 || s.TaskJoinTimeout <= 0 {
		return invalid("shutdown intervals must be positive")
	}
	if s.ReleaseWarnAfter > s.ReleaseTimeout {
		return invalid("shutdown.release_warn_after (%s) exceeds shutdown.release_timeout (%s)",
			s.ReleaseWarnAfter, s.ReleaseTimeout)
	}
	return nil
}

func verifyLog(cfg *NodeConfig) error {
	if _, err := logger.ParseLevel(cfg.Log.Level); err != nil {
		return domain.ErrConfiguration.WithCause(err)
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "json", "text":
		return nil
	default:
		return invalid("log.format %q must be json or text", cfg.Log.Format)
	}
}
