// Package shutdown provides graceful shutdown handling.
package shutdown

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// InterruptSignals are the process signals that trigger shutdown.
var InterruptSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}

// Interrupt routes process interrupts to a Signal.
type Interrupt struct {
	once   sync.Once
	stop   sync.Once
	sigCh  chan os.Signal
	quit   chan struct{}
	logger *slog.Logger
}

// Install starts forwarding SIGINT/SIGTERM to exit.
//
// The first interrupt triggers exit; later interrupts are no-ops.
// Calling Install more than once on the same Interrupt has no further effect.
func (i *Interrupt) Install(exit *Signal, logger *slog.Logger) {
	i.once.Do(func() {
		if logger == nil {
			logger = slog.Default()
		}
		i.logger = logger
		i.sigCh = make(chan os.Signal, 1)
		i.quit = make(chan struct{})
		signal.Notify(i.sigCh, InterruptSignals...)

		go i.loop(exit)
	})
}

func (i *Interrupt) loop(exit *Signal) {
	for {
		select {
		case sig := <-i.sigCh:
			if exit.Trigger("signal: " + sig.String()) {
				i.logger.Info("shutdown requested", "signal", sig.String())
			} else {
				i.logger.Debug("shutdown already in progress", "signal", sig.String())
			}
		case <-i.quit:
			return
		}
	}
}

// Uninstall stops forwarding signals.
func (i *Interrupt) Uninstall() {
	i.stop.Do(func() {
		if i.sigCh == nil {
			return
		}
		signal.Stop(i.sigCh)
		close(i.quit)
	})
}

// Stack holds teardown guards for components started so far.
//
// Guards run in reverse order of registration when the stack unwinds. A
// disarmed stack never runs its guards; ownership has moved elsewhere.
type Stack struct {
	mu       sync.Mutex
	guards   []guard
	disarmed bool
	logger   *slog.Logger
}

type guard struct {
	name string
	fn   func(context.Context) error
}

// NewStack creates an empty guard stack.
func NewStack(logger *slog.Logger) *Stack {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stack{logger: logger}
}

// Push registers a teardown guard.
func (s *Stack) Push(name string, fn func(context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guards = append(s.guards, guard{name: name, fn: fn})
}

// Len returns the number of registered guards.
func (s *Stack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.guards)
}

// Disarm drops every guard without running it.
func (s *Stack) Disarm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disarmed = true
	s.guards = nil
}

// Unwind runs all guards in reverse order of registration.
// Every guard runs even if an earlier one fails; errors are joined.
func (s *Stack) Unwind(ctx context.Context) error {
	s.mu.Lock()
	if s.disarmed {
		s.mu.Unlock()
		return nil
	}
	guards := s.guards
	s.guards = nil
	s.disarmed = true
	s.mu.Unlock()

	var errs []error
	for i := len(guards) - 1; i >= 0; i-- {
		g := guards[i]
		s.logger.Debug("unwinding", "component", g.name)
		if err := g.fn(ctx); err != nil {
			s.logger.Warn("teardown failed", "component", g.name, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
