package network

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/memberlist"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type recorder struct {
	mu        sync.Mutex
	msgs      []string
	connected []string
	got       chan struct{}
}

func newRecorder() *recorder {
	return &recorder{got: make(chan struct{}, 16)}
}

func (r *recorder) OnMessage(peer string, payload []byte) {
	r.mu.Lock()
	r.msgs = append(r.msgs, peer+":"+string(payload))
	r.mu.Unlock()
	r.got <- struct{}{}
}

func (r *recorder) OnPeerConnected(peer string) {
	r.mu.Lock()
	r.connected = append(r.connected, peer)
	r.mu.Unlock()
}

func (r *recorder) OnPeerDisconnected(string) {}

func startNode(t *testing.T, name string, seeds ...string) *Network {
	t.Helper()
	n, err := New(Config{
		NodeName:    name,
		BindAddr:    "127.0.0.1",
		BindPort:    0,
		Seeds:       seeds,
		JoinRetries: 2,
		JoinBackoff: 50 * time.Millisecond,
		Logger:      discard,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := n.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() { n.Close() })
	return n
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	id, from, payload, err := decodeFrame(encodeFrame("sync", "node-a", []byte("hello")))
	if err != nil {
		t.Fatal(err)
	}
	if id != "sync" || from != "node-a" || string(payload) != "hello" {
		t.Errorf("decoded %q %q %q", id, from, payload)
	}

	if _, _, _, err := decodeFrame([]byte{0xff}); err == nil {
		t.Error("garbage frame accepted")
	}
	if _, _, _, err := decodeFrame(nil); err == nil {
		t.Error("empty frame accepted")
	}
}

func TestRegisterProtocol(t *testing.T) {
	n, err := New(Config{Logger: discard})
	if err != nil {
		t.Fatal(err)
	}

	if err := n.RegisterProtocol("sync", newRecorder()); err != nil {
		t.Fatal(err)
	}
	if err := n.RegisterProtocol("sync", newRecorder()); !errors.Is(err, ErrProtocolExists) {
		t.Errorf("duplicate register error = %v", err)
	}
	if err := n.RegisterProtocol("waytoolongid", newRecorder()); !errors.Is(err, ErrInvalidProtocolID) {
		t.Errorf("long id error = %v", err)
	}

	if _, err := n.Broadcast("sync", nil); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Broadcast before Start error = %v", err)
	}

	n.Close()
	if err := n.RegisterProtocol("other", newRecorder()); !errors.Is(err, ErrClosed) {
		t.Errorf("register after close error = %v", err)
	}
	if err := n.Start(); !errors.Is(err, ErrClosed) {
		t.Errorf("Start after close error = %v", err)
	}
}

func TestTwoNodes_SendAndBroadcast(t *testing.T) {
	a := startNode(t, "node-a")
	recA := newRecorder()
	if err := a.RegisterProtocol("test", recA); err != nil {
		t.Fatal(err)
	}

	b := startNode(t, "node-b", a.LocalAddr())
	recB := newRecorder()
	if err := b.RegisterProtocol("test", recB); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return a.PeerCount() == 1 && b.PeerCount() == 1 })

	if peers := a.Peers(); len(peers) != 1 || peers[0].Name != "node-b" || peers[0].NodeID != b.NodeID() {
		t.Errorf("a.Peers() = %+v", peers)
	}

	if err := b.Send("node-a", "test", []byte("direct")); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	select {
	case <-recA.got:
	case <-time.After(5 * time.Second):
		t.Fatal("message not delivered")
	}

	sent, err := a.Broadcast("test", []byte("fanout"))
	if err != nil || sent != 1 {
		t.Fatalf("Broadcast() = %d, %v", sent, err)
	}
	select {
	case <-recB.got:
	case <-time.After(5 * time.Second):
		t.Fatal("broadcast not delivered")
	}

	recA.mu.Lock()
	defer recA.mu.Unlock()
	if len(recA.msgs) != 1 || recA.msgs[0] != "node-b:direct" {
		t.Errorf("a received %v", recA.msgs)
	}

	if err := a.Send("nobody", "test", nil); !errors.Is(err, ErrPeerNotFound) {
		t.Errorf("Send to unknown peer error = %v", err)
	}
}

func TestStart_UnreachableSeed(t *testing.T) {
	n, err := New(Config{
		BindAddr:    "127.0.0.1",
		Seeds:       []string{"127.0.0.1:1"},
		JoinRetries: 1,
		JoinBackoff: 10 * time.Millisecond,
		Logger:      discard,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer n.Close()

	if err := n.Start(); err == nil {
		t.Error("Start() with unreachable seed should fail")
	}
}

func TestSelectPeers(t *testing.T) {
	var nodes []*memberlist.Node
	for i := 0; i < 10; i++ {
		nodes = append(nodes, &memberlist.Node{Name: fmt.Sprintf("n%d", i)})
	}

	first := SelectPeers(nodes, []byte("key"), 3)
	second := SelectPeers(nodes, []byte("key"), 3)
	if len(first) != 3 {
		t.Fatalf("SelectPeers() returned %d", len(first))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Error("SelectPeers() is not stable for the same key")
		}
	}

	if got := SelectPeers(nodes[:2], []byte("key"), 3); len(got) != 2 {
		t.Errorf("SelectPeers() with few nodes = %d", len(got))
	}
}

func TestPropagation(t *testing.T) {
	a := startNode(t, "prop-a")
	b := startNode(t, "prop-b", a.LocalAddr())

	pa := NewPropagation(a, PropagationConfig{Interval: 20 * time.Millisecond, Size: 16})
	pb := NewPropagation(b, PropagationConfig{Interval: time.Hour})
	if err := pa.Register(); err != nil {
		t.Fatal(err)
	}
	if err := pb.Register(); err != nil {
		t.Fatal(err)
	}
	defer pa.Stop()
	defer pb.Stop()

	waitFor(t, func() bool { return pb.Stats().Received > 0 })
	if pb.Stats().Bytes%16 != 0 {
		t.Errorf("received bytes = %d, want multiple of 16", pb.Stats().Bytes)
	}

	unregistered := NewPropagation(a, PropagationConfig{})
	unregistered.Stop() // must not block
}
