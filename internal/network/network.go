// Package network provides the peer-to-peer layer of dagnode.
//
// Membership and failure detection use hashicorp/memberlist. Subsystems
// register named protocols; each message carries the protocol id and the
// sender name in a small protobuf-wire frame, and is delivered to the
// protocol handler on the memberlist receive path.
package network

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/memberlist"
	"github.com/oklog/ulid/v2"
	"github.com/spaolacci/murmur3"
)

var (
	ErrNotStarted        = errors.New("network: not started")
	ErrClosed            = errors.New("network: closed")
	ErrProtocolExists    = errors.New("network: protocol already registered")
	ErrPeerNotFound      = errors.New("network: peer not found")
	ErrInvalidProtocolID = errors.New("network: invalid protocol id")
)

// ProtocolID names a registered protocol. At most 8 bytes.
type ProtocolID string

// Handler receives protocol traffic.
type Handler interface {
	OnMessage(peer string, payload []byte)
	OnPeerConnected(peer string)
	OnPeerDisconnected(peer string)
}

// Config configures the network layer.
type Config struct {
	// NodeName is the unique member name. Empty generates one.
	NodeName string

	// BindAddr and BindPort are the gossip listen address. Port 0 picks a free port.
	BindAddr string
	BindPort int

	// Seeds are host:port addresses joined at start.
	Seeds []string

	// JoinRetries bounds seed join attempts.
	JoinRetries int

	// JoinBackoff is the initial delay between join attempts.
	JoinBackoff time.Duration

	// Fanout is the number of peers a Broadcast reaches directly.
	Fanout int

	// Logger for logging.
	Logger *slog.Logger
}

// PeerInfo describes a connected peer.
type PeerInfo struct {
	Name   string `json:"name"`
	Addr   string `json:"addr"`
	NodeID string `json:"node_id"`
}

// Network is the peer-to-peer service.
type Network struct {
	cfg    Config
	logger *slog.Logger
	key    ed25519.PrivateKey

	mu        sync.RWMutex
	ml        *memberlist.Memberlist
	protocols map[ProtocolID]Handler
	starting  bool
	closed    bool
}

// New prepares a network service. Start binds it.
func New(cfg Config) (*Network, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.NodeName == "" {
		cfg.NodeName = "dagnode-" + ulid.Make().String()
	}
	if cfg.BindAddr == "" {
		cfg.BindAddr = "0.0.0.0"
	}
	if cfg.Fanout <= 0 {
		cfg.Fanout = 4
	}
	if cfg.JoinBackoff <= 0 {
		cfg.JoinBackoff = 500 * time.Millisecond
	}

	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate node key: %w", err)
	}

	return &Network{
		cfg:       cfg,
		logger:    cfg.Logger.With("component", "network"),
		key:       key,
		protocols: make(map[ProtocolID]Handler),
	}, nil
}

// Start creates the memberlist and joins the configured seeds.
func (n *Network) Start() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return ErrClosed
	}
	if n.ml != nil || n.starting {
		n.mu.Unlock()
		return nil
	}
	n.starting = true
	n.mu.Unlock()

	mlConfig := memberlist.DefaultLANConfig()
	mlConfig.Name = n.cfg.NodeName
	mlConfig.BindAddr = n.cfg.BindAddr
	mlConfig.BindPort = n.cfg.BindPort
	mlConfig.AdvertisePort = n.cfg.BindPort
	mlConfig.Delegate = &delegate{net: n}
	mlConfig.Events = &eventDelegate{net: n}
	mlConfig.LogOutput = &slogWriter{logger: n.logger}

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		n.mu.Lock()
		n.starting = false
		n.mu.Unlock()
		return fmt.Errorf("create memberlist: %w", err)
	}

	// Join callbacks reach handlers, which may send; publish ml first.
	n.mu.Lock()
	n.ml = ml
	n.starting = false
	n.mu.Unlock()

	if len(n.cfg.Seeds) == 0 {
		n.logger.Info("network started (bootstrap mode)", "node", n.cfg.NodeName, "addr", ml.LocalNode().Address())
		return nil
	}
	if err := n.joinSeeds(ml); err != nil {
		n.mu.Lock()
		n.ml = nil
		n.mu.Unlock()
		ml.Shutdown()
		return err
	}
	return nil
}

func (n *Network) joinSeeds(ml *memberlist.Memberlist) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = n.cfg.JoinBackoff
	b.MaxInterval = 10 * n.cfg.JoinBackoff

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		joined, err := ml.Join(n.cfg.Seeds)
		if err != nil {
			n.logger.Warn("join seeds failed", "attempt", attempt, "error", err)
			return err
		}
		n.logger.Info("joined network",
			"node", n.cfg.NodeName,
			"seeds", n.cfg.Seeds,
			"joined_count", joined)
		return nil
	}, backoff.WithMaxRetries(b, uint64(n.cfg.JoinRetries)))
	if err != nil {
		return fmt.Errorf("join seed nodes: %w", err)
	}
	return nil
}

// NodeName returns the local member name.
func (n *Network) NodeName() string {
	return n.cfg.NodeName
}

// NetKeyPair returns the node identity public key.
func (n *Network) NetKeyPair() ed25519.PublicKey {
	return n.key.Public().(ed25519.PublicKey)
}

// NodeID is the hex node identity key.
func (n *Network) NodeID() string {
	return hex.EncodeToString(n.NetKeyPair())
}

// LocalAddr returns the gossip address after Start.
func (n *Network) LocalAddr() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.ml == nil {
		return ""
	}
	return n.ml.LocalNode().Address()
}

// RegisterProtocol installs h for id.
func (n *Network) RegisterProtocol(id ProtocolID, h Handler) error {
	if len(id) == 0 || len(id) > 8 {
		return fmt.Errorf("%w: %q", ErrInvalidProtocolID, id)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrClosed
	}
	if _, ok := n.protocols[id]; ok {
		return fmt.Errorf("%w: %s", ErrProtocolExists, id)
	}
	n.protocols[id] = h
	n.logger.Debug("protocol registered", "protocol", string(id))
	return nil
}

func (n *Network) handler(id ProtocolID) (Handler, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	h, ok := n.protocols[id]
	return h, ok
}

func (n *Network) handlers() []Handler {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]Handler, 0, len(n.protocols))
	for _, h := range n.protocols {
		out = append(out, h)
	}
	return out
}

func (n *Network) memberlist() (*memberlist.Memberlist, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return nil, ErrClosed
	}
	if n.ml == nil {
		return nil, ErrNotStarted
	}
	return n.ml, nil
}

func (n *Network) remoteNodes(ml *memberlist.Memberlist) []*memberlist.Node {
	var out []*memberlist.Node
	for _, m := range ml.Members() {
		if m.Name != n.cfg.NodeName {
			out = append(out, m)
		}
	}
	return out
}

// Peers returns the remote members, sorted by name.
func (n *Network) Peers() []PeerInfo {
	ml, err := n.memberlist()
	if err != nil {
		return nil
	}
	nodes := n.remoteNodes(ml)
	out := make([]PeerInfo, 0, len(nodes))
	for _, m := range nodes {
		out = append(out, PeerInfo{Name: m.Name, Addr: m.Address(), NodeID: hex.EncodeToString(m.Meta)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// PeerCount returns the number of remote members.
func (n *Network) PeerCount() int {
	ml, err := n.memberlist()
	if err != nil {
		return 0
	}
	return ml.NumMembers() - 1
}

// Send delivers payload to one peer.
func (n *Network) Send(peer string, id ProtocolID, payload []byte) error {
	ml, err := n.memberlist()
	if err != nil {
		return err
	}
	for _, m := range ml.Members() {
		if m.Name == peer {
			return ml.SendReliable(m, encodeFrame(id, n.cfg.NodeName, payload))
		}
	}
	return fmt.Errorf("%w: %s", ErrPeerNotFound, peer)
}

// Broadcast sends payload to up to Fanout peers chosen by rendezvous
// hashing on the payload, so a given message takes a stable route.
// Returns the number of peers reached.
func (n *Network) Broadcast(id ProtocolID, payload []byte) (int, error) {
	ml, err := n.memberlist()
	if err != nil {
		return 0, err
	}

	targets := SelectPeers(n.remoteNodes(ml), payload, n.cfg.Fanout)
	frame := encodeFrame(id, n.cfg.NodeName, payload)

	sent := 0
	var errs []error
	for _, m := range targets {
		if err := ml.SendReliable(m, frame); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", m.Name, err))
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}

// SelectPeers picks up to k nodes with the highest murmur3 score for key.
func SelectPeers(nodes []*memberlist.Node, key []byte, k int) []*memberlist.Node {
	if len(nodes) <= k {
		return nodes
	}
	type scored struct {
		node  *memberlist.Node
		score uint64
	}
	keyHash := murmur3.Sum64(key)
	s := make([]scored, len(nodes))
	for i, m := range nodes {
		s[i] = scored{node: m, score: murmur3.Sum64([]byte(m.Name + strconv.FormatUint(keyHash, 16)))}
	}
	sort.Slice(s, func(i, j int) bool { return s[i].score > s[j].score })

	out := make([]*memberlist.Node, k)
	for i := range out {
		out[i] = s[i].node
	}
	return out
}

// Close leaves the cluster and stops the memberlist.
func (n *Network) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	ml := n.ml
	n.mu.Unlock()

	if ml == nil {
		return nil
	}
	if err := ml.Leave(time.Second); err != nil {
		n.logger.Warn("failed to leave network", "error", err)
	}
	if err := ml.Shutdown(); err != nil {
		return fmt.Errorf("shutdown memberlist: %w", err)
	}
	n.logger.Info("network shutdown complete")
	return nil
}

// delegate implements memberlist.Delegate.
type delegate struct {
	net *Network
}

// NodeMeta publishes the node identity key.
func (d *delegate) NodeMeta(limit int) []byte {
	pub := d.net.NetKeyPair()
	if len(pub) > limit {
		return nil
	}
	return pub
}

func (d *delegate) NotifyMsg(b []byte) {
	id, from, payload, err := decodeFrame(b)
	if err != nil {
		d.net.logger.Debug("dropping malformed frame", "error", err)
		return
	}
	h, ok := d.net.handler(id)
	if !ok {
		d.net.logger.Debug("no handler for protocol", "protocol", string(id), "peer", from)
		return
	}
	h.OnMessage(from, payload)
}

func (d *delegate) GetBroadcasts(overhead, limit int) [][]byte { return nil }

func (d *delegate) LocalState(join bool) []byte { return nil }

func (d *delegate) MergeRemoteState(buf []byte, join bool) {}

// eventDelegate implements memberlist.EventDelegate.
type eventDelegate struct {
	net *Network
}

func (e *eventDelegate) NotifyJoin(node *memberlist.Node) {
	if node.Name == e.net.cfg.NodeName {
		return
	}
	e.net.logger.Info("peer joined",
		"peer", node.Name,
		"addr", net.JoinHostPort(node.Addr.String(), strconv.Itoa(int(node.Port))))
	for _, h := range e.net.handlers() {
		h.OnPeerConnected(node.Name)
	}
}

func (e *eventDelegate) NotifyLeave(node *memberlist.Node) {
	if node.Name == e.net.cfg.NodeName {
		return
	}
	e.net.logger.Info("peer left", "peer", node.Name, "addr", node.Addr.String())
	for _, h := range e.net.handlers() {
		h.OnPeerDisconnected(node.Name)
	}
}

func (e *eventDelegate) NotifyUpdate(node *memberlist.Node) {
	e.net.logger.Debug("peer updated", "peer", node.Name)
}

// slogWriter adapts slog.Logger to io.Writer for memberlist.
type slogWriter struct {
	logger *slog.Logger
}

func (w *slogWriter) Write(p []byte) (int, error) {
	w.logger.Debug(string(p))
	return len(p), nil
}
