// Package keepalive implements the guest's process-keepalive ref-counting,
// grounded on the teacher server's in-flight request tracking
// (sync.WaitGroup Add/Done in server.Shutdown) but generalized from
// "wait for zero" to "notify on every 0↔>0 transition" so a caller-supplied
// handle (e.g. a Node-style unref'd timer, or here a simple process guard)
// can be acquired only while there is outstanding work.
package keepalive

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrDoubleAcquire is returned if a Ref's Acquire is invoked while already
// held, which the tracker itself never does — it is exported so a custom
// Ref implementation can reuse it to enforce the same invariant.
var ErrDoubleAcquire = errors.New("levelrpc: keepalive ref double-acquired")

// Ref is an external keepalive handle. Acquire is called exactly once when
// in-flight work transitions 0→>0; Release is called exactly once when it
// transitions back to 0.
type Ref interface {
	Acquire()
	Release()
}

// Tracker counts outstanding work (pending requests plus live iterators)
// and drives an optional Ref across the 0↔>0 boundary.
type Tracker struct {
	mu    sync.Mutex
	count int
	ref   Ref
}

// NewTracker creates a tracker around ref. ref may be nil, in which case
// the tracker still counts but never calls anything.
func NewTracker(ref Ref) *Tracker {
	return &Tracker{ref: ref}
}

// Inc records one more piece of outstanding work.
func (t *Tracker) Inc() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count++
	if t.count == 1 && t.ref != nil {
		t.ref.Acquire()
	}
}

// Dec records that one piece of outstanding work completed.
func (t *Tracker) Dec() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.count == 0 {
		return
	}
	t.count--
	if t.count == 0 && t.ref != nil {
		t.ref.Release()
	}
}

// Count returns the current outstanding-work count.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}
