package localserver

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/yndnr/dagnode/internal/server/rpcserver"
	"github.com/yndnr/dagnode/internal/server/tcpserver"
)

// Server represents the local IPC server.
type Server struct {
	path   string
	inner  *tcpserver.Server
	logger *slog.Logger
}

// New creates a new IPC server listening on socketPath.
func New(socketPath string, dispatcher *rpcserver.Dispatcher, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := tcpserver.DefaultConfig()
	cfg.Network = "unix"
	cfg.Addr = socketPath
	return &Server{
		path:   socketPath,
		inner:  tcpserver.New(cfg, dispatcher, logger),
		logger: logger,
	}
}

// Start removes a stale socket, binds and serves in the background.
func (s *Server) Start() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}
	if err := removeStale(s.path); err != nil {
		return err
	}
	if err := s.inner.Start(); err != nil {
		return err
	}
	if err := os.Chmod(s.path, 0o600); err != nil {
		s.inner.Shutdown(context.Background())
		return fmt.Errorf("chmod socket: %w", err)
	}
	return nil
}

// Addr returns the socket path.
func (s *Server) Addr() string {
	return s.path
}

// Shutdown stops serving and removes the socket file.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.inner.Shutdown(ctx)
	if rmErr := os.Remove(s.path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
		s.logger.Warn("remove ipc socket", "path", s.path, "error", rmErr)
	}
	return err
}

// removeStale deletes path if it is a socket nobody is listening on.
func removeStale(path string) error {
	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Mode()&fs.ModeSocket == 0 {
		return fmt.Errorf("%s exists and is not a socket", path)
	}

	conn, err := net.DialTimeout("unix", path, time.Second)
	if err == nil {
		conn.Close()
		return fmt.Errorf("%s is in use by another process", path)
	}
	return os.Remove(path)
}
