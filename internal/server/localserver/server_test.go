package localserver

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/yndnr/dagnode/internal/server/rpcserver"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newDispatcher() *rpcserver.Dispatcher {
	d := rpcserver.NewDispatcher(testLogger)
	d.Register("ping", func(context.Context, json.RawMessage) (any, error) { return "pong", nil })
	return d
}

func TestServer_Lifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "dagnode.ipc")
	s := New(path, newDispatcher(), testLogger)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("socket mode = %o, want 600", perm)
	}

	conn, err := net.Dial("unix", path)
	if err != nil {
		t.Fatal(err)
	}
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	io.WriteString(conn, `{"jsonrpc":"2.0","id":1,"method":"ping"}`+"\n")
	line, err := bufio.NewReader(conn).ReadString('\n')
	conn.Close()
	if err != nil || !strings.Contains(line, "pong") {
		t.Fatalf("reply = %q, %v", line, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("socket file left behind")
	}
}

func TestServer_RemovesStaleSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stale.ipc")
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatal(err)
	}
	// Closing a unix listener unlinks the file; keep it by disabling that.
	ln.(*net.UnixListener).SetUnlinkOnClose(false)
	ln.Close()

	s := New(path, newDispatcher(), testLogger)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() over stale socket: %v", err)
	}
	s.Shutdown(context.Background())
}

func TestServer_RefusesLiveSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "live.ipc")
	first := New(path, newDispatcher(), testLogger)
	if err := first.Start(); err != nil {
		t.Fatal(err)
	}
	defer first.Shutdown(context.Background())

	if err := New(path, newDispatcher(), testLogger).Start(); err == nil {
		t.Fatal("second server bound a live socket")
	}
}

func TestServer_RefusesRegularFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file.ipc")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := New(path, newDispatcher(), testLogger).Start(); err == nil {
		t.Fatal("server replaced a regular file")
	}
}
