package host

import (
	"levelrpc/store"
	"levelrpc/wire"
)

// fieldsPerEntry returns how many flat wire elements one iterator entry
// contributes. An entry with neither key nor value requested still
// contributes one (empty) marker element so the guest can recover how many
// entries a batch held — see DESIGN.md's resolution of the
// "count-only advance" wire ambiguity.
func fieldsPerEntry(opts wire.IteratorOptions) int {
	n := 0
	if opts.Keys {
		n++
	}
	if opts.Values {
		n++
	}
	if n == 0 {
		return 1
	}
	return n
}

type seekRequest struct {
	target []byte
	seq    uint32
}

// cursor is a live host-side iterator entry: a store.Iterator plus the
// per-iterator seq and the channels the connection's dispatcher uses to
// drive it without touching the store.Iterator from more than one
// goroutine at a time.
type cursor struct {
	id     uint32
	iter   store.Iterator
	opts   wire.IteratorOptions
	seq    uint32
	wake   chan struct{}
	seekCh chan seekRequest
	done   chan struct{}
}

func newCursor(id uint32, iter store.Iterator, opts wire.IteratorOptions, seq uint32) *cursor {
	return &cursor{
		id:     id,
		iter:   iter,
		opts:   opts,
		seq:    seq,
		wake:   make(chan struct{}, 1),
		seekCh: make(chan seekRequest, 1),
		done:   make(chan struct{}),
	}
}

// signalWake requests another batch (the credit granted by an ack, or the
// implicit credit at iterator open).
func (c *cursor) signalWake() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// signalSeek requests a reposition. A pending, not-yet-applied seek is
// replaced by the newest one, matching "only the current seq matters".
func (c *cursor) signalSeek(target []byte, seq uint32) {
	select {
	case <-c.seekCh:
	default:
	}
	c.seekCh <- seekRequest{target: target, seq: seq}
}

// close tears the cursor down; safe to call more than once.
func (c *cursor) close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}
