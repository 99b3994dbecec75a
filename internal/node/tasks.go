package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Task names used by the node.
const (
	taskUsageReporter = "usage-reporter"
	taskMetricsFile   = "metrics-file"
	taskMining        = "mining"
	taskTxGen         = "txgen"
)

// ErrDetached is returned by Wait when tasks were still running at the deadline.
var ErrDetached = errors.New("tasks detached")

// Task is one supervised goroutine.
type Task struct {
	name string
	done chan struct{}
	err  error
}

// Name returns the task name.
func (t *Task) Name() string { return t.name }

// Done is closed when the task function returned.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the task's result. Only meaningful after Done is closed.
func (t *Task) Err() error { return t.err }

// Supervisor runs named background tasks. A failing task ends alone; the
// others keep running. Joins are bounded and a task that outlives its bound
// is detached with a warning.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	group  errgroup.Group
	logger *slog.Logger

	mu    sync.Mutex
	tasks map[string]*Task
}

// NewSupervisor creates a supervisor whose tasks see a context derived from parent.
func NewSupervisor(parent context.Context, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With("component", "supervisor"),
		tasks:  make(map[string]*Task),
	}
}

// Go starts fn as task name. A name may be reused once its previous task finished.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) *Task {
	t := &Task{name: name, done: make(chan struct{})}

	s.mu.Lock()
	if prev, ok := s.tasks[name]; ok {
		select {
		case <-prev.done:
		default:
			s.mu.Unlock()
			panic(fmt.Sprintf("node: task %q already running", name))
		}
	}
	s.tasks[name] = t
	s.mu.Unlock()

	s.group.Go(func() (err error) {
		defer close(t.done)
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task %s panicked: %v", name, r)
			}
			t.err = err
			switch {
			case err == nil, errors.Is(err, context.Canceled):
				s.logger.Debug("task finished", "task", name)
				err = nil
			default:
				s.logger.Error("task failed", "task", name, "error", err)
			}
		}()
		s.logger.Debug("task started", "task", name)
		return fn(s.ctx)
	})
	return t
}

// Join waits up to timeout for task name. It reports false and logs a
// warning when the task is still running; the task is then detached.
// Unknown tasks join immediately.
func (s *Supervisor) Join(name string, timeout time.Duration) bool {
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-t.done:
		return true
	case <-timer.C:
		s.logger.Warn("task did not stop in time, detaching", "task", name, "timeout", timeout)
		return false
	}
}

// Stop cancels the context every task sees.
func (s *Supervisor) Stop() {
	s.cancel()
}

// Wait joins every task within timeout. It returns the first task failure,
// or ErrDetached naming the tasks still running at the deadline.
func (s *Supervisor) Wait(timeout time.Duration) error {
	done := make(chan error, 1)
	go func() { done <- s.group.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		running := s.Running()
		s.logger.Warn("tasks did not stop in time, detaching", "tasks", running, "timeout", timeout)
		return fmt.Errorf("%w: %v", ErrDetached, running)
	}
}

// Running returns the names of unfinished tasks in sorted order.
func (s *Supervisor) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for name, t := range s.tasks {
		select {
		case <-t.done:
		default:
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
