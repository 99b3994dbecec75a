package node

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/yndnr/dagnode/internal/core/domain"
	"github.com/yndnr/dagnode/internal/infra/shutdown"
	"github.com/yndnr/dagnode/internal/server/config"
	"github.com/yndnr/dagnode/internal/storage"
)

var testAuthor = strings.Repeat("ab", domain.AddressLength)

func testConfig(t *testing.T) *config.NodeConfig {
	t.Helper()
	cfg := config.Default()
	cfg.Node.TestMode = true
	cfg.Node.Name = "node-test"
	cfg.Storage.DataDir = filepath.Join(t.TempDir(), "data")
	cfg.Storage.Badger.GCInterval = "1h"
	cfg.Storage.Badger.SyncWrites = false
	cfg.Storage.UsageReportInterval = 20 * time.Millisecond
	cfg.Genesis.InitialDifficulty = 1
	cfg.Pow.Difficulty = 1
	cfg.Network.BindAddr = "127.0.0.1"
	cfg.Network.BindPort = 0
	cfg.Shutdown = config.ShutdownSection{
		ReleasePollInterval: 10 * time.Millisecond,
		ReleaseWarnAfter:    time.Second,
		ReleaseTimeout:      3 * time.Second,
		TaskJoinTimeout:     2 * time.Second,
	}
	return cfg
}

func startNode(t *testing.T, cfg *config.NodeConfig) (*Handle, *shutdown.Signal) {
	t.Helper()
	exit := shutdown.NewSignal()
	h, err := Start(cfg, exit, WithLogger(discard))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return h, exit
}

// assertReopens fails unless the data directory's lock was released.
func assertReopens(t *testing.T, dir string) {
	t.Helper()
	cfg := storage.DefaultBadgerConfig()
	cfg.GCInterval = "1h"
	db, err := storage.Open(dir, cfg, discard)
	if err != nil {
		t.Fatalf("reopen %s: %v", dir, err)
	}
	db.Close()
}

type rpcReply struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func callHTTP(t *testing.T, addr, method string) rpcReply {
	t.Helper()
	body := `{"jsonrpc":"2.0","id":1,"method":"` + method + `"}`
	resp, err := http.Post("http://"+addr+"/", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var reply rpcReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		t.Fatal(err)
	}
	if reply.Error != nil {
		t.Fatalf("%s: rpc error %d %s", method, reply.Error.Code, reply.Error.Message)
	}
	return reply
}

func TestStartClose(t *testing.T) {
	cfg := testConfig(t)
	cfg.RPC.DebugHTTP = config.EndpointConfig{Enabled: true, Addr: "127.0.0.1:0"}
	cfg.RPC.TCP = config.EndpointConfig{Enabled: true, Addr: "127.0.0.1:0"}

	h, _ := startNode(t, cfg)

	debugAddr := h.Endpoint(EndpointDebugHTTP)
	if debugAddr == "" {
		t.Fatal("debug endpoint not running")
	}
	if h.Endpoint(EndpointHTTP) != "" {
		t.Error("disabled endpoint reported as running")
	}

	reply := callHTTP(t, debugAddr, "chain_blockNumber")
	if string(reply.Result) != "0" {
		t.Errorf("chain_blockNumber = %s, want 0", reply.Result)
	}

	resp, err := http.Get("http://" + debugAddr + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/metrics status = %d", resp.StatusCode)
	}

	conn, err := net.Dial("tcp", h.Endpoint(EndpointTCP))
	if err != nil {
		t.Fatal(err)
	}
	conn.Write([]byte(`{"jsonrpc":"2.0","id":1,"method":"net_peerCount"}` + "\n"))
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	conn.Close()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(line, []byte(`"result":0`)) {
		t.Errorf("net_peerCount reply = %s", line)
	}

	if got := Close(h); got != ReleaseClean {
		t.Errorf("Close() = %v, want clean", got)
	}
	select {
	case <-h.StorageReleased():
	default:
		t.Fatal("storage still held after a clean close")
	}
	if got := Close(h); got != ReleaseClean {
		t.Errorf("second Close() = %v", got)
	}
	assertReopens(t, cfg.Storage.DataDir)
}

func TestStart_MiningAndTxGen(t *testing.T) {
	cfg := testConfig(t)
	cfg.Mining.Enabled = true
	cfg.Mining.Author = testAuthor
	cfg.Mining.Interval = 5 * time.Millisecond
	cfg.TxGen.Enabled = true
	cfg.TxGen.Rate = 200
	cfg.Metrics.Enabled = true
	cfg.Metrics.OutputFile = filepath.Join(t.TempDir(), "metrics.prom")
	cfg.Metrics.ReportInterval = 10 * time.Millisecond

	h, _ := startNode(t, cfg)

	deadline := time.Now().Add(5 * time.Second)
	for h.Consensus().BestHeight() < 3 {
		if time.Now().After(deadline) {
			Close(h)
			t.Fatal("node did not mine three blocks")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if running := h.Tasks().Running(); len(running) == 0 {
		t.Error("no background tasks running")
	}

	if got := Close(h); got != ReleaseClean {
		t.Errorf("Close() = %v, want clean", got)
	}
	if running := h.Tasks().Running(); len(running) != 0 {
		t.Errorf("tasks still running after close: %v", running)
	}
	if _, err := os.Stat(cfg.Metrics.OutputFile); err != nil {
		t.Errorf("metrics file not written: %v", err)
	}
	assertReopens(t, cfg.Storage.DataDir)
}

func TestClose_StopsMiningBeforeStorageWait(t *testing.T) {
	cfg := testConfig(t)
	cfg.Mining.Enabled = true
	cfg.Mining.Author = testAuthor
	cfg.Mining.Interval = 5 * time.Millisecond

	seq := &sequence{}
	h, err := Start(cfg, shutdown.NewSignal(), WithLogger(slog.New(seq)))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for h.Consensus().BestHeight() < 1 {
		if time.Now().After(deadline) {
			Close(h)
			t.Fatal("node did not mine a block")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if got := Close(h); got != ReleaseClean {
		t.Fatalf("Close() = %v, want clean", got)
	}

	stopped := seq.index("mining stopped")
	released := seq.index("storage released")
	dbClosed := seq.index("database closed")
	if stopped < 0 || released < 0 || dbClosed < 0 {
		t.Fatalf("missing log lines: mining stopped=%d storage released=%d database closed=%d", stopped, released, dbClosed)
	}
	if stopped > released || stopped > dbClosed {
		t.Errorf("mining stopped at %d, after storage release at %d and database close at %d", stopped, released, dbClosed)
	}
	assertReopens(t, cfg.Storage.DataDir)
}

func TestStart_RestartKeepsChain(t *testing.T) {
	cfg := testConfig(t)
	cfg.Mining.Author = testAuthor

	h, _ := startNode(t, cfg)
	if _, err := h.Miner().GenerateOnce(t.Context()); err != nil {
		t.Fatal(err)
	}
	genesis := h.Consensus().Data().Genesis().Hash()
	Close(h)

	h, _ = startNode(t, cfg)
	defer Close(h)
	if got := h.Consensus().Data().Genesis().Hash(); got != genesis {
		t.Errorf("genesis changed across restart: %s != %s", got.Hex(), genesis.Hex())
	}
}

func TestStart_ConfigErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.NodeConfig)
		want   error
	}{
		{
			name:   "mining without author",
			mutate: func(c *config.NodeConfig) { c.Mining.Enabled = true },
			want:   domain.ErrMiningConfig,
		},
		{
			name:   "prefixed author",
			mutate: func(c *config.NodeConfig) { c.Mining.Author = "0x" + testAuthor },
			want:   domain.ErrConfiguration,
		},
		{
			name:   "empty data dir",
			mutate: func(c *config.NodeConfig) { c.Storage.DataDir = "" },
			want:   domain.ErrConfiguration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			dir := cfg.Storage.DataDir
			tt.mutate(cfg)

			h, err := Start(cfg, shutdown.NewSignal(), WithLogger(discard))
			if !errors.Is(err, tt.want) {
				t.Fatalf("Start() error = %v, want %v", err, tt.want)
			}
			if h != nil {
				t.Error("failed start returned a handle")
			}
			if _, err := os.Stat(dir); !os.IsNotExist(err) {
				t.Error("data directory created before configuration was accepted")
			}
		})
	}
}

func TestStart_RPCBindFailureUnwinds(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer busy.Close()

	cfg := testConfig(t)
	cfg.RPC.DebugHTTP = config.EndpointConfig{Enabled: true, Addr: "127.0.0.1:0"}
	cfg.RPC.TCP = config.EndpointConfig{Enabled: true, Addr: busy.Addr().String()}

	_, err = Start(cfg, shutdown.NewSignal(), WithLogger(discard))
	if !errors.Is(err, domain.ErrRPCBind) {
		t.Fatalf("Start() error = %v, want ErrRPCBind", err)
	}
	if got := domain.StageOf(err); got == "" {
		t.Error("bind failure carries no stage")
	}
	assertReopens(t, cfg.Storage.DataDir)
}

func TestStart_ReplayFailureUnwinds(t *testing.T) {
	cfg := testConfig(t)
	cfg.Chain.TestChainPath = filepath.Join(t.TempDir(), "missing.json")

	_, err := Start(cfg, shutdown.NewSignal(), WithLogger(discard))
	if !errors.Is(err, domain.ErrReplay) {
		t.Fatalf("Start() error = %v, want ErrReplay", err)
	}
	assertReopens(t, cfg.Storage.DataDir)
}

func TestStart_GenesisFileFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.Genesis.AccountsFile = filepath.Join(t.TempDir(), "absent.json")

	_, err := Start(cfg, shutdown.NewSignal(), WithLogger(discard))
	if !errors.Is(err, domain.ErrGenesisLoad) {
		t.Fatalf("Start() error = %v, want ErrGenesisLoad", err)
	}
	assertReopens(t, cfg.Storage.DataDir)
}

func TestRunUntilClosed_DebugStop(t *testing.T) {
	cfg := testConfig(t)
	cfg.RPC.DebugHTTP = config.EndpointConfig{Enabled: true, Addr: "127.0.0.1:0"}

	h, exit := startNode(t, cfg)
	outcome := make(chan ReleaseOutcome, 1)
	go func() { outcome <- RunUntilClosed(exit, h) }()

	callHTTP(t, h.Endpoint(EndpointDebugHTTP), "debug_stop")

	select {
	case got := <-outcome:
		if got != ReleaseClean {
			t.Errorf("RunUntilClosed() = %v, want clean", got)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("node did not stop after debug_stop")
	}
	if !strings.HasPrefix(exit.Reason(), "rpc") {
		t.Errorf("exit reason = %q", exit.Reason())
	}
	assertReopens(t, cfg.Storage.DataDir)
}

func TestClose_LingeringOwnerTimesOut(t *testing.T) {
	cfg := testConfig(t)
	cfg.Shutdown.ReleaseWarnAfter = 30 * time.Millisecond
	cfg.Shutdown.ReleaseTimeout = 100 * time.Millisecond

	h, _ := startNode(t, cfg)
	lingering := h.consensus.Clone()

	if got := Close(h); got != ReleaseTimedOut {
		t.Errorf("Close() = %v, want timed out", got)
	}

	lingering.Release()
	select {
	case <-h.StorageReleased():
	case <-time.After(2 * time.Second):
		t.Fatal("storage not released after the last owner let go")
	}
	assertReopens(t, cfg.Storage.DataDir)
}
