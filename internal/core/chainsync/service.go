package chainsync

import (
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/yndnr/dagnode/internal/core/domain"
	"github.com/yndnr/dagnode/internal/network"
	"github.com/yndnr/dagnode/pkg/refcount"
)

// Protocol is the network protocol id of block synchronization.
const Protocol network.ProtocolID = "sync"

const (
	msgNewBlock byte = iota + 1
	msgGetBlock
	msgStatus
)

// ProtocolConfig configures the sync service.
type ProtocolConfig struct {
	// RequestTimeout bounds handling of one inbound message.
	RequestTimeout time.Duration
}

// DefaultProtocolConfig returns the default protocol settings.
func DefaultProtocolConfig() ProtocolConfig {
	return ProtocolConfig{RequestTimeout: 10 * time.Second}
}

// Stats counts sync traffic.
type Stats struct {
	BlocksReceived uint64 `json:"blocks_received"`
	BlocksSent     uint64 `json:"blocks_sent"`
	Requests       uint64 `json:"requests"`
}

// Service exchanges blocks with peers and submits locally mined blocks.
type Service struct {
	testnet bool
	net     *network.Network
	graph   *refcount.Ref[*Graph]
	cfg     ProtocolConfig
	logger  *slog.Logger

	received atomic.Uint64
	sent     atomic.Uint64
	requests atomic.Uint64
	closed   atomic.Bool
}

// NewService takes ownership of graph.
func NewService(testnet bool, net *network.Network, graph *refcount.Ref[*Graph], cfg ProtocolConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultProtocolConfig().RequestTimeout
	}
	return &Service{
		testnet: testnet,
		net:     net,
		graph:   graph,
		cfg:     cfg,
		logger:  logger.With("component", "sync"),
	}
}

// Register installs the sync protocol on the network.
func (s *Service) Register() error {
	if err := s.net.RegisterProtocol(Protocol, s); err != nil {
		return err
	}
	s.logger.Debug("sync protocol registered", "testnet", s.testnet)
	return nil
}

// Graph returns the sync graph.
func (s *Service) Graph() *Graph {
	return s.graph.Value()
}

// Stats returns traffic counters.
func (s *Service) Stats() Stats {
	return Stats{
		BlocksReceived: s.received.Load(),
		BlocksSent:     s.sent.Load(),
		Requests:       s.requests.Load(),
	}
}

// OnMinedBlock inserts a locally produced or replayed block and announces it.
func (s *Service) OnMinedBlock(ctx context.Context, blk *domain.Block) error {
	if s.closed.Load() {
		return domain.ErrStopped
	}
	missing, err := s.Graph().Insert(ctx, blk)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		s.logger.Debug("mined block waits for ancestors", "hash", blk.Hash().Hex(), "missing", len(missing))
	}

	if _, err := s.net.Broadcast(Protocol, append([]byte{msgNewBlock}, domain.EncodeBlock(blk)...)); err != nil &&
		!errors.Is(err, network.ErrNotStarted) {
		s.logger.Debug("block announcement incomplete", "error", err)
	}
	return nil
}

// OnMessage implements network.Handler.
func (s *Service) OnMessage(peer string, payload []byte) {
	if s.closed.Load() || len(payload) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RequestTimeout)
	defer cancel()

	body := payload[1:]
	switch payload[0] {
	case msgNewBlock:
		s.onNewBlock(ctx, peer, body)
	case msgGetBlock:
		s.onGetBlock(ctx, peer, body)
	case msgStatus:
		s.onStatus(peer, body)
	default:
		s.logger.Debug("unknown sync message", "peer", peer, "type", payload[0])
	}
}

func (s *Service) onNewBlock(ctx context.Context, peer string, body []byte) {
	blk, err := domain.DecodeBlock(body)
	if err != nil {
		s.logger.Debug("undecodable block", "peer", peer, "error", err)
		return
	}
	s.received.Add(1)

	missing, err := s.Graph().Insert(ctx, blk)
	if err != nil {
		s.logger.Debug("block rejected", "peer", peer, "hash", blk.Hash().Hex(), "error", err)
		return
	}
	for _, h := range missing {
		s.request(peer, h)
	}
}

func (s *Service) onGetBlock(ctx context.Context, peer string, body []byte) {
	if len(body) != domain.HashLength {
		return
	}
	s.requests.Add(1)

	var h domain.Hash
	copy(h[:], body)
	blk, err := s.Graph().Consensus().BlockByHash(ctx, h)
	if err != nil {
		return
	}
	if err := s.net.Send(peer, Protocol, append([]byte{msgNewBlock}, domain.EncodeBlock(blk)...)); err == nil {
		s.sent.Add(1)
	}
}

func (s *Service) onStatus(peer string, body []byte) {
	if len(body) != 8+domain.HashLength {
		return
	}
	height := binary.BigEndian.Uint64(body[:8])
	var best domain.Hash
	copy(best[:], body[8:])

	if height > s.Graph().Consensus().BestHeight() && !s.Graph().Contains(best) {
		s.request(peer, best)
	}
}

func (s *Service) request(peer string, h domain.Hash) {
	if err := s.net.Send(peer, Protocol, append([]byte{msgGetBlock}, h[:]...)); err != nil {
		s.logger.Debug("block request failed", "peer", peer, "error", err)
	}
}

// OnPeerConnected sends our best block so the peer can catch up.
func (s *Service) OnPeerConnected(peer string) {
	if s.closed.Load() {
		return
	}
	cons := s.Graph().Consensus()
	best := cons.BestBlockHash()
	msg := binary.BigEndian.AppendUint64([]byte{msgStatus}, cons.BestHeight())
	msg = append(msg, best[:]...)

	// memberlist delivers join events on its own goroutine; send off it.
	go func() {
		if err := s.net.Send(peer, Protocol, msg); err != nil {
			s.logger.Debug("status send failed", "peer", peer, "error", err)
		}
	}()
}

// OnPeerDisconnected implements network.Handler.
func (s *Service) OnPeerDisconnected(peer string) {}

// Close releases the sync graph.
func (s *Service) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.graph.Release()
}
