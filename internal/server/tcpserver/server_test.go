package tcpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/yndnr/dagnode/internal/server/rpcserver"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func startServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	d := rpcserver.NewDispatcher(testLogger)
	d.Register("ping", func(context.Context, json.RawMessage) (any, error) {
		return "pong", nil
	})
	s := New(cfg, d, testLogger)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Shutdown(ctx)
	})
	return s
}

func roundTrip(t *testing.T, conn net.Conn, r *bufio.Reader, req string) string {
	t.Helper()
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	if _, err := io.WriteString(conn, req+"\n"); err != nil {
		t.Fatal(err)
	}
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	return line
}

func TestServer_TCP(t *testing.T) {
	s := startServer(t, Config{Addr: "127.0.0.1:0"})

	conn, err := net.Dial("tcp", s.Addr())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	r := bufio.NewReader(conn)

	if got := roundTrip(t, conn, r, `{"jsonrpc":"2.0","id":1,"method":"ping"}`); !strings.Contains(got, `"pong"`) {
		t.Errorf("reply = %q", got)
	}

	// A notification produces no line, so the next reply answers the next call.
	io.WriteString(conn, `{"jsonrpc":"2.0","method":"ping"}`+"\n")
	if got := roundTrip(t, conn, r, `{"jsonrpc":"2.0","id":2,"method":"missing"}`); !strings.Contains(got, `"id":2`) {
		t.Errorf("reply = %q", got)
	}
}

func TestServer_Unix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rpc.sock")
	s := startServer(t, Config{Network: "unix", Addr: path})
	if s.Addr() != path {
		t.Errorf("Addr() = %s, want %s", s.Addr(), path)
	}

	conn, err := net.Dial("unix", path)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if got := roundTrip(t, conn, bufio.NewReader(conn), `{"jsonrpc":"2.0","id":1,"method":"ping"}`); !strings.Contains(got, `"pong"`) {
		t.Errorf("reply = %q", got)
	}
}

func TestServer_LineTooLong(t *testing.T) {
	s := startServer(t, Config{Addr: "127.0.0.1:0", MaxLineBytes: 16})

	conn, err := net.Dial("tcp", s.Addr())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	io.WriteString(conn, strings.Repeat("x", 64)+"\n")

	if _, err := bufio.NewReader(conn).ReadString('\n'); err == nil {
		t.Error("server answered an oversized request")
	}
}

func TestServer_ShutdownClosesIdleConnections(t *testing.T) {
	d := rpcserver.NewDispatcher(testLogger)
	s := New(Config{Addr: "127.0.0.1:0", IdleTimeout: time.Hour}, d, testLogger)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	conn, err := net.Dial("tcp", s.Addr())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	// Make sure the connection has been accepted.
	io.WriteString(conn, "\n")
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
}

func TestServer_BindError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	s := New(Config{Addr: ln.Addr().String()}, rpcserver.NewDispatcher(testLogger), testLogger)
	if err := s.Start(); err == nil {
		t.Fatal("Start() on a taken port succeeded")
	}
}

func TestReadLine(t *testing.T) {
	br := bufio.NewReaderSize(strings.NewReader("abc\n"+strings.Repeat("y", 40)+"\ntail"), 16)

	line, err := readLine(br, 100)
	if err != nil || string(line) != "abc" {
		t.Fatalf("first line = %q, %v", line, err)
	}
	line, err = readLine(br, 100)
	if err != nil || len(line) != 40 {
		t.Fatalf("long line = %d bytes, %v", len(line), err)
	}
	line, err = readLine(br, 100)
	if err != nil || string(line) != "tail" {
		t.Fatalf("tail = %q, %v", line, err)
	}
	if _, err := readLine(br, 100); err != io.EOF {
		t.Errorf("after tail err = %v, want EOF", err)
	}
}
