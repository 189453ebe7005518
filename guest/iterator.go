package guest

import (
	"context"
	"sync"

	"levelrpc/lverr"
	"levelrpc/store"
	"levelrpc/wire"
)

// iterFieldsPerEntry mirrors the host's stride so a flat iteratorData
// payload can be split back into entries: an entry with neither key nor
// value requested still contributes one placeholder element.
func iterFieldsPerEntry(opts wire.IteratorOptions) int {
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

func splitEntries(data [][]byte, opts wire.IteratorOptions) []iterEntry {
	stride := iterFieldsPerEntry(opts)
	if stride == 0 {
		return nil
	}
	n := len(data) / stride
	out := make([]iterEntry, 0, n)
	for i := 0; i < n; i++ {
		chunk := data[i*stride : i*stride+stride]
		var e iterEntry
		idx := 0
		if opts.Keys {
			e.key = chunk[idx]
			idx++
		}
		if opts.Values {
			e.value = chunk[idx]
			idx++
		}
		out = append(out, e)
	}
	return out
}

type iterEntry struct {
	key   []byte
	value []byte
}

// Iterator is a guest-held cursor: over the wire it buffers delivered
// batches and acks only once fully drained (the credit-flow-control send
// policy), tracking the bookmark needed to resume after a reconnect and
// discarding frames tagged with a stale seq after a seek. In forwarding
// mode it simply wraps the local store.Iterator.
type Iterator struct {
	localIter store.Iterator

	db   *DB
	id   uint32
	opts wire.IteratorOptions

	mu          sync.Mutex
	seq         uint32
	buf         []iterEntry
	bufSeq      uint32
	consumed    uint32
	limit       int32 // < 0 means unbounded
	ended       bool
	err         error
	bookmark    []byte
	pendingSeek []byte
	notify      chan struct{}
	closed      bool
}

// NewIterator opens a ranged iterator, either locally (Forward mode) or
// against the attached host.
func (db *DB) NewIterator(ctx context.Context, opts store.IteratorOptions) (*Iterator, error) {
	db.mu.Lock()
	local := db.local
	closed := db.closed
	db.mu.Unlock()
	if closed {
		return nil, lverr.ErrDatabaseNotOpen
	}
	if local != nil {
		return &Iterator{localIter: local.NewIterator(opts)}, nil
	}

	wireOpts := wire.IteratorOptions{
		RangeOptions: wire.RangeOptions{
			Gt: opts.Gt, Gte: opts.Gte, Lt: opts.Lt, Lte: opts.Lte,
			Reverse: opts.Reverse, Limit: opts.Limit,
		},
		Keys:   opts.Keys,
		Values: opts.Values,
	}
	id := db.nextID()
	it := &Iterator{db: db, id: id, opts: wireOpts, seq: 1, limit: wireOpts.Limit, notify: make(chan struct{}, 1)}

	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil, lverr.ErrDatabaseNotOpen
	}
	db.iterators[id] = it
	db.mu.Unlock()
	db.keepalive.Inc()

	db.writeFrame(wire.TagIterator, (&wire.IteratorMsg{ID: id, Options: wireOpts, Seq: 1}).Encode())
	return it, nil
}

// Next advances the iterator. ok is false once the range is exhausted.
func (it *Iterator) Next(ctx context.Context) (key, value []byte, ok bool, err error) {
	if it.localIter != nil {
		return it.localIter.Next()
	}
	for {
		it.mu.Lock()
		if it.err != nil {
			err := it.err
			it.mu.Unlock()
			return nil, nil, false, err
		}
		if it.limit >= 0 && it.consumed >= uint32(it.limit) {
			// Limit reached: stop pulling from buf and stop acking, so any
			// data frames the host still has in flight are simply ignored.
			it.mu.Unlock()
			return nil, nil, false, nil
		}
		if len(it.buf) > 0 {
			e := it.buf[0]
			it.buf = it.buf[1:]
			it.consumed++
			if e.key != nil {
				it.bookmark = e.key
			}
			it.pendingSeek = nil
			atLimit := it.limit >= 0 && it.consumed >= uint32(it.limit)
			drained := len(it.buf) == 0 && !it.ended
			bufSeq, consumed := it.bufSeq, it.consumed
			it.mu.Unlock()
			if drained && !atLimit {
				it.db.writeFrame(wire.TagIteratorAck, (&wire.IteratorAckMsg{ID: it.id, Seq: bufSeq, Consumed: consumed}).Encode())
			}
			return e.key, e.value, true, nil
		}
		if it.ended {
			it.mu.Unlock()
			return nil, nil, false, nil
		}
		notify := it.notify
		it.mu.Unlock()
		select {
		case <-notify:
		case <-ctx.Done():
			return nil, nil, false, ctx.Err()
		}
	}
}

// Seek repositions the iterator. Any frames already in flight for the
// prior position are tagged with the old seq and are discarded on
// arrival, so Seek can never surface data from before the reposition.
func (it *Iterator) Seek(ctx context.Context, target []byte) error {
	if it.localIter != nil {
		return it.localIter.Seek(target)
	}
	it.mu.Lock()
	it.seq++
	newSeq := it.seq
	it.buf = nil
	it.ended = false
	it.err = nil
	it.consumed = 0
	it.pendingSeek = target
	it.bookmark = nil
	it.mu.Unlock()
	it.db.writeFrame(wire.TagIteratorSeek, (&wire.IteratorSeekMsg{ID: it.id, Seq: newSeq, Target: target}).Encode())
	return nil
}

// Close releases the iterator. Safe to call more than once.
func (it *Iterator) Close() error {
	if it.localIter != nil {
		return it.localIter.Close()
	}
	it.mu.Lock()
	if it.closed {
		it.mu.Unlock()
		return nil
	}
	it.closed = true
	it.mu.Unlock()

	it.db.mu.Lock()
	delete(it.db.iterators, it.id)
	it.db.mu.Unlock()
	it.db.keepalive.Dec()
	it.db.writeFrame(wire.TagIteratorClose, (&wire.IteratorCloseMsg{ID: it.id}).Encode())
	return nil
}

func (it *Iterator) handleData(msg *wire.IteratorDataMsg) {
	it.mu.Lock()
	if msg.Seq != it.seq {
		it.mu.Unlock()
		return
	}
	it.buf = append(it.buf, splitEntries(msg.Data, it.opts)...)
	it.bufSeq = msg.Seq
	it.mu.Unlock()
	it.wake()
}

func (it *Iterator) handleEnd(msg *wire.IteratorEndMsg) {
	it.mu.Lock()
	if msg.Seq != it.seq {
		it.mu.Unlock()
		return
	}
	it.ended = true
	it.mu.Unlock()
	it.wake()
}

func (it *Iterator) handleError(msg *wire.IteratorErrorMsg) {
	it.mu.Lock()
	if msg.Seq != it.seq {
		it.mu.Unlock()
		return
	}
	it.err = lverr.FromCode(msg.Error)
	it.mu.Unlock()
	it.wake()
}

// abort is invoked on disconnect (Retry disabled) or Close: it fails the
// iterator in place so a blocked Next wakes with an error instead of
// hanging forever.
func (it *Iterator) abort(err error) {
	it.mu.Lock()
	if it.err == nil && !it.ended {
		it.err = err
	}
	it.mu.Unlock()
	it.wake()
}

// resend re-opens the iterator after a reconnect. A pending-seek not yet
// consumed takes priority over the last delivered bookmark — the guest
// asked to reposition before the disconnect, so the host must still
// reposition on resume, not resume from the pre-seek bookmark — otherwise
// it falls back to the protocol's strictly-greater-than bookmark resume.
func (it *Iterator) resend() {
	it.mu.Lock()
	bookmark := it.bookmark
	pendingSeek := it.pendingSeek
	seq := it.seq
	opts := it.opts
	id := it.id
	it.buf = nil
	it.ended = false
	it.err = nil
	it.mu.Unlock()
	msg := &wire.IteratorMsg{ID: id, Options: opts, Seq: seq}
	if pendingSeek != nil {
		msg.Seek = pendingSeek
	} else {
		msg.Bookmark = bookmark
	}
	it.db.writeFrame(wire.TagIterator, msg.Encode())
}

func (it *Iterator) wake() {
	select {
	case it.notify <- struct{}{}:
	default:
	}
}
