package tcpserver

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yndnr/dagnode/internal/server/rpcserver"
)

// Config holds the stream server configuration.
type Config struct {
	// Network is "tcp" (default) or "unix".
	Network string

	// Addr is the listen address or socket path.
	Addr string

	// ReadTimeout bounds reading the rest of a request once it started (default: 30s).
	ReadTimeout time.Duration

	// WriteTimeout bounds writing a reply (default: 30s).
	WriteTimeout time.Duration

	// IdleTimeout closes connections idle between requests (default: 5m).
	IdleTimeout time.Duration

	// MaxLineBytes bounds one request line (default: 5 MiB).
	MaxLineBytes int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Network:      "tcp",
		Addr:         "127.0.0.1:8546",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  5 * time.Minute,
		MaxLineBytes: 5 << 20,
	}
}

// Server answers line-delimited JSON-RPC.
type Server struct {
	cfg        Config
	dispatcher *rpcserver.Dispatcher
	logger     *slog.Logger

	listener net.Listener
	running  atomic.Bool
	wg       sync.WaitGroup

	connMu sync.Mutex
	conns  map[net.Conn]struct{}
}

// New creates a new stream server.
func New(cfg Config, dispatcher *rpcserver.Dispatcher, logger *slog.Logger) *Server {
	def := DefaultConfig()
	if cfg.Network == "" {
		cfg.Network = def.Network
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.MaxLineBytes == 0 {
		cfg.MaxLineBytes = def.MaxLineBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:        cfg,
		dispatcher: dispatcher,
		logger:     logger,
		conns:      make(map[net.Conn]struct{}),
	}
}

// Start binds the address and accepts in the background. A bind failure
// is returned synchronously.
func (s *Server) Start() error {
	ln, err := net.Listen(s.cfg.Network, s.cfg.Addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.running.Store(true)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.acceptLoop(ln); err != nil {
			s.logger.Error("rpc listener stopped", "network", s.cfg.Network, "addr", s.Addr(), "error", err)
		}
	}()
	s.logger.Info("rpc endpoint listening", "network", s.cfg.Network, "addr", s.Addr())
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}

// Shutdown closes the listener and every open connection, then waits for
// connection goroutines or ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.running.Store(false)

	var closeErr error
	if s.listener != nil {
		closeErr = s.listener.Close()
	}

	s.connMu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.connMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if errors.Is(closeErr, net.ErrClosed) {
			return nil
		}
		return closeErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) acceptLoop(ln net.Listener) error {
	for {
		c, err := ln.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		s.connMu.Lock()
		if !s.running.Load() {
			s.connMu.Unlock()
			c.Close()
			return nil
		}
		s.conns[c] = struct{}{}
		s.wg.Add(1)
		s.connMu.Unlock()

		go func() {
			defer s.wg.Done()
			s.serveConn(c)
		}()
	}
}

func (s *Server) serveConn(c net.Conn) {
	defer func() {
		s.connMu.Lock()
		delete(s.conns, c)
		s.connMu.Unlock()
		c.Close()
	}()

	br := bufio.NewReaderSize(c, 64<<10)
	bw := bufio.NewWriter(c)
	ctx := context.Background()

	for {
		// Idle timeout until the first byte of a request arrives.
		if err := c.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout)); err != nil {
			return
		}
		if _, err := br.Peek(1); err != nil {
			s.logReadError(c, err)
			return
		}

		if err := c.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
			return
		}
		line, err := readLine(br, s.cfg.MaxLineBytes)
		if err != nil {
			if errors.Is(err, errLineTooLong) {
				s.logger.Warn("rpc request too long", "remote", c.RemoteAddr())
			} else {
				s.logReadError(c, err)
			}
			return
		}
		if len(line) == 0 {
			continue
		}

		reply := s.dispatcher.Handle(ctx, line)
		if reply == nil {
			continue
		}
		if err := c.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
			return
		}
		bw.Write(reply)
		bw.WriteByte('\n')
		if err := bw.Flush(); err != nil {
			return
		}
	}
}

func (s *Server) logReadError(c net.Conn, err error) {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		s.logger.Debug("connection timed out", "remote", c.RemoteAddr())
		return
	}
	s.logger.Debug("connection read error", "remote", c.RemoteAddr(), "error", err)
}

var errLineTooLong = errors.New("tcpserver: request line too long")

// readLine reads up to the next newline, without it. A final line without
// a newline is returned as is.
func readLine(br *bufio.Reader, max int) ([]byte, error) {
	var line []byte
	for {
		chunk, err := br.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > max {
			return nil, errLineTooLong
		}
		switch {
		case err == nil:
			return line[:len(line)-1], nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && len(line) > 0:
			return line, nil
		default:
			return nil, err
		}
	}
}
