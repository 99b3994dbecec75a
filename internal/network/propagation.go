package network

import (
	"crypto/rand"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// PropagationProtocol is the protocol id of the data propagation test.
const PropagationProtocol ProtocolID = "dprop"

// PropagationConfig configures the data propagation test protocol.
type PropagationConfig struct {
	// Interval between random payload broadcasts.
	Interval time.Duration

	// Size of each payload in bytes.
	Size int
}

// PropagationStats counts propagation traffic.
type PropagationStats struct {
	Sent     uint64 `json:"sent"`
	Received uint64 `json:"received"`
	Bytes    uint64 `json:"bytes"`
}

// Propagation periodically broadcasts random payloads so test networks can
// measure dissemination. It is only registered in test mode.
type Propagation struct {
	net    *Network
	cfg    PropagationConfig
	logger *slog.Logger

	sent     atomic.Uint64
	received atomic.Uint64
	bytes    atomic.Uint64

	started atomic.Bool
	once    sync.Once
	stop    chan struct{}
	done    chan struct{}
}

// NewPropagation creates the protocol. Register installs and starts it.
func NewPropagation(net *Network, cfg PropagationConfig) *Propagation {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Size <= 0 {
		cfg.Size = 1024
	}
	return &Propagation{
		net:    net,
		cfg:    cfg,
		logger: net.logger.With("protocol", string(PropagationProtocol)),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Register installs the protocol and starts the broadcast loop.
func (p *Propagation) Register() error {
	if err := p.net.RegisterProtocol(PropagationProtocol, p); err != nil {
		return err
	}
	p.started.Store(true)
	go p.loop()
	return nil
}

func (p *Propagation) loop() {
	defer close(p.done)
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			payload := make([]byte, p.cfg.Size)
			if _, err := rand.Read(payload); err != nil {
				continue
			}
			n, err := p.net.Broadcast(PropagationProtocol, payload)
			if err != nil {
				p.logger.Debug("propagation broadcast incomplete", "error", err)
			}
			p.sent.Add(uint64(n))
		case <-p.stop:
			return
		}
	}
}

// OnMessage counts received payloads.
func (p *Propagation) OnMessage(peer string, payload []byte) {
	p.received.Add(1)
	p.bytes.Add(uint64(len(payload)))
}

func (p *Propagation) OnPeerConnected(peer string) {}

func (p *Propagation) OnPeerDisconnected(peer string) {}

// Stats returns the traffic counters.
func (p *Propagation) Stats() PropagationStats {
	return PropagationStats{
		Sent:     p.sent.Load(),
		Received: p.received.Load(),
		Bytes:    p.bytes.Load(),
	}
}

// Stop ends the broadcast loop. Safe to call when Register was never called.
func (p *Propagation) Stop() {
	p.once.Do(func() {
		close(p.stop)
		if p.started.Load() {
			<-p.done
		}
	})
}
