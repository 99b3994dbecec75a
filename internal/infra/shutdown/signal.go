package shutdown

import (
	"context"
	"sync"
	"time"
)

// Signal is a one-shot, broadcastable shutdown flag.
//
// The flag moves from false to true at most once. Every waiter is woken by
// closing a channel, so there is no missed wake-up regardless of when a
// waiter starts waiting.
type Signal struct {
	mu        sync.Mutex
	triggered bool
	reason    string
	ch        chan struct{}
}

// NewSignal creates an untriggered signal.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{})}
}

// Trigger sets the flag and wakes every waiter.
// Returns false if the signal had already been triggered.
func (s *Signal) Trigger(reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.triggered {
		return false
	}
	s.triggered = true
	s.reason = reason
	close(s.ch)
	return true
}

// Triggered reports the current flag value.
func (s *Signal) Triggered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.triggered
}

// Reason returns the reason passed to the first Trigger call.
func (s *Signal) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Done returns a channel closed when the signal fires.
func (s *Signal) Done() <-chan struct{} {
	return s.ch
}

// Wait blocks until the signal fires.
func (s *Signal) Wait() {
	<-s.ch
}

// WaitTimeout blocks until the signal fires or d elapses.
// Returns true if the signal fired.
func (s *Signal) WaitTimeout(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-s.ch:
		return true
	case <-timer.C:
		return false
	}
}

// Context returns a context cancelled when the signal fires or parent is done.
func (s *Signal) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-s.ch:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
