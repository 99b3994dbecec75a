// Package refcount provides explicit shared ownership of long-lived values.
//
// A Ref is one owner of a value. Owners are added with Clone and dropped with
// Release; when the last owner releases, the value's release function runs and
// the Done channel closes. A Weak reference never keeps the value alive but can
// be upgraded to a new owner while at least one owner remains.
//
// Done is the shutdown acknowledgment: code that must not proceed until every
// owner has let go of a value (for example, before exiting while a database is
// still open) waits on it instead of relying on garbage collection timing.
package refcount

import (
	"sync"
	"sync/atomic"
)

type control[T any] struct {
	mu      sync.Mutex
	owners  int
	value   T
	release func(T)
	done    chan struct{}
}

// Ref is an owning reference. The zero value is not usable; use New.
type Ref[T any] struct {
	c        *control[T]
	released atomic.Bool
}

// New wraps value with a single owner. release may be nil.
func New[T any](value T, release func(T)) *Ref[T] {
	c := &control[T]{
		owners:  1,
		value:   value,
		release: release,
		done:    make(chan struct{}),
	}
	return &Ref[T]{c: c}
}

// Value returns the referenced value.
//
// Calling Value on a released reference is allowed but the value may already
// be closed by its release function.
func (r *Ref[T]) Value() T {
	return r.c.value
}

// Clone adds an owner and returns its reference.
// Cloning a released reference panics.
func (r *Ref[T]) Clone() *Ref[T] {
	if r.released.Load() {
		panic("refcount: clone of released reference")
	}
	r.c.mu.Lock()
	r.c.owners++
	r.c.mu.Unlock()
	return &Ref[T]{c: r.c}
}

// Release drops this owner. It is idempotent per reference.
// Returns true if this call released the last owner.
func (r *Ref[T]) Release() bool {
	if r == nil || !r.released.CompareAndSwap(false, true) {
		return false
	}

	r.c.mu.Lock()
	r.c.owners--
	last := r.c.owners == 0
	r.c.mu.Unlock()

	if !last {
		return false
	}

	if r.c.release != nil {
		r.c.release(r.c.value)
	}
	close(r.c.done)
	return true
}

// Downgrade returns a non-owning reference to the same value.
func (r *Ref[T]) Downgrade() Weak[T] {
	return Weak[T]{c: r.c}
}

// Done is closed after the last owner released and the release function returned.
func (r *Ref[T]) Done() <-chan struct{} {
	return r.c.done
}

// Owners returns the current owner count.
func (r *Ref[T]) Owners() int {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()
	return r.c.owners
}

// Weak is a non-owning reference.
type Weak[T any] struct {
	c *control[T]
}

// Upgrade returns a new owner if any owner remains.
func (w Weak[T]) Upgrade() (*Ref[T], bool) {
	if w.c == nil {
		return nil, false
	}
	w.c.mu.Lock()
	defer w.c.mu.Unlock()
	if w.c.owners == 0 {
		return nil, false
	}
	w.c.owners++
	return &Ref[T]{c: w.c}, true
}

// Alive reports whether any owner remains.
func (w Weak[T]) Alive() bool {
	if w.c == nil {
		return false
	}
	w.c.mu.Lock()
	defer w.c.mu.Unlock()
	return w.c.owners > 0
}

// Done mirrors Ref.Done. A zero Weak reports an already-closed channel.
func (w Weak[T]) Done() <-chan struct{} {
	if w.c == nil {
		return closedCh
	}
	return w.c.done
}

var closedCh = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()
