// Package guest implements the guest side of the levelrpc protocol: a
// store.KV-shaped façade (DB) that either forwards to a local store.KV
// directly or drives one over the wire through a multiplexed duplex byte
// stream, tracking in-flight requests and live iterators so a reconnect can
// resume them.
//
// Grounded on the teacher's transport.ClientTransport (one recvLoop
// goroutine demultiplexing responses to per-request channels via a pending
// map, and a sending mutex serializing frame writes) and client.Client (the
// public call surface built on top of it).
package guest

import (
	"context"
	"io"
	"sync"

	"go.uber.org/zap"

	"levelrpc/idalloc"
	"levelrpc/keepalive"
	"levelrpc/lverr"
	"levelrpc/store"
	"levelrpc/wire"
)

// Config tunes a DB.
type Config struct {
	// Retry selects the disconnect policy: true preserves in-flight
	// requests and iterators across a reconnect (AttachRPC replays them);
	// false aborts everything in flight with lverr.ErrConnectionLost and
	// fires OnDisconnect exactly once.
	Retry bool
	// OnDisconnect is invoked once per 0→disconnected transition when
	// Retry is false, after in-flight work has been aborted (the "flush
	// event" a caller can use to know outstanding calls were discarded).
	OnDisconnect func(err error)
	// KeepaliveRef, if set, is Acquire()d while any request or iterator is
	// outstanding and Release()d when none are, letting an embedder keep a
	// reconnect supervisor or process alive only while there is live work.
	KeepaliveRef keepalive.Ref
	Logger       *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

type pendingReq struct {
	tag  wire.Tag
	body []byte
	ch   chan replyMsg
}

type replyMsg struct {
	errStr string
	value  []byte
	values [][]byte
}

// DB is the guest-side façade: Get/Put/Delete/Batch/Clear/NewIterator/Close
// over either a local store.KV (Forward) or a remote host (AttachRPC).
type DB struct {
	cfg Config

	mu        sync.Mutex
	closed    bool
	local     store.KV
	rw        io.ReadWriter
	enc       *wire.Encoder
	attached  bool
	ids       idalloc.Allocator
	pending   map[uint32]*pendingReq
	iterators map[uint32]*Iterator
	readDone  chan struct{}

	// writeMu serializes frame writes to the attached transport.
	writeMu sync.Mutex

	keepalive *keepalive.Tracker
}

// New creates an unattached DB. Call Forward or AttachRPC before issuing
// operations.
func New(cfg Config) *DB {
	cfg = cfg.withDefaults()
	return &DB{
		cfg:       cfg,
		pending:   make(map[uint32]*pendingReq),
		iterators: make(map[uint32]*Iterator),
		keepalive: keepalive.NewTracker(cfg.KeepaliveRef),
	}
}

// Forward puts the DB into local-forwarding mode: every operation issued
// afterwards runs directly against kv instead of over the wire. Requests
// already in flight over an attached transport still complete through it.
func (db *DB) Forward(kv store.KV) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.local = kv
}

// AttachRPC attaches (or reattaches, on reconnect) the duplex transport to
// drive. Only one transport may be attached at a time; a second concurrent
// AttachRPC call without an intervening disconnect is rejected. Reattaching
// after an explicit Close is rejected with lverr.ErrNotSupported.
//
// AttachRPC itself has no notion of a host address: it only knows how to
// drive an already-open transport. A caller that wants to pick which host
// to dial from a discovered, load-balanced set uses a Redialer, which
// resolves an address via hostset.Registry/hostset.Balancer and calls
// AttachRPC with the dialed result on every disconnect.
func (db *DB) AttachRPC(ctx context.Context, rw io.ReadWriter) error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return lverr.ErrNotSupported
	}
	if db.attached {
		db.mu.Unlock()
		return lverr.NewOpError("LEVEL_ALREADY_ATTACHED")
	}
	db.attached = true
	db.rw = rw
	db.enc = wire.NewEncoder(rw)
	db.readDone = make(chan struct{})
	replay := db.cfg.Retry
	db.mu.Unlock()

	if replay {
		db.replayOutstanding()
	}

	go db.readLoop(db.readDone)
	return nil
}

// Disconnected returns a channel closed when the currently attached
// transport's read loop exits (cleanly or on error). A caller driving
// reconnection waits on this before dialing again and calling AttachRPC.
func (db *DB) Disconnected() <-chan struct{} {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.readDone
}

func (db *DB) replayOutstanding() {
	db.mu.Lock()
	reqs := make([]*pendingReq, 0, len(db.pending))
	for _, p := range db.pending {
		reqs = append(reqs, p)
	}
	iters := make([]*Iterator, 0, len(db.iterators))
	for _, it := range db.iterators {
		iters = append(iters, it)
	}
	db.mu.Unlock()

	for _, p := range reqs {
		db.writeFrame(p.tag, p.body)
	}
	for _, it := range iters {
		it.resend()
	}
}

func (db *DB) writeFrame(tag wire.Tag, body []byte) {
	db.mu.Lock()
	enc := db.enc
	db.mu.Unlock()
	if enc == nil {
		return
	}
	db.writeMu.Lock()
	defer db.writeMu.Unlock()
	_ = enc.Write(tag, body)
}

// readLoop is the single reader goroutine for the attached transport; it
// demultiplexes every inbound frame to the pending request or iterator it
// belongs to, mirroring the teacher transport's recvLoop.
func (db *DB) readLoop(done chan struct{}) {
	defer close(done)
	db.mu.Lock()
	rw := db.rw
	db.mu.Unlock()
	dec := wire.NewDecoder(rw, 0)

	for {
		tag, payload, err := dec.Read()
		if err != nil {
			db.onDisconnect(err)
			return
		}
		switch tag {
		case wire.TagCallback:
			msg, err := wire.DecodeCallback(payload)
			if err != nil {
				continue
			}
			db.deliver(msg.ID, replyMsg{errStr: msg.Error, value: msg.Value})
		case wire.TagGetManyCallback:
			msg, err := wire.DecodeGetManyCallback(payload)
			if err != nil {
				continue
			}
			db.deliver(msg.ID, replyMsg{errStr: msg.Error, values: msg.Values})
		case wire.TagIteratorData:
			msg, err := wire.DecodeIteratorData(payload)
			if err != nil {
				continue
			}
			if it := db.iterator(msg.ID); it != nil {
				it.handleData(msg)
			}
		case wire.TagIteratorEnd:
			msg, err := wire.DecodeIteratorEnd(payload)
			if err != nil {
				continue
			}
			if it := db.iterator(msg.ID); it != nil {
				it.handleEnd(msg)
			}
		case wire.TagIteratorError:
			msg, err := wire.DecodeIteratorError(payload)
			if err != nil {
				continue
			}
			if it := db.iterator(msg.ID); it != nil {
				it.handleError(msg)
			}
		}
	}
}

func (db *DB) iterator(id uint32) *Iterator {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.iterators[id]
}

func (db *DB) deliver(id uint32, r replyMsg) {
	db.mu.Lock()
	p, ok := db.pending[id]
	if ok {
		delete(db.pending, id)
	}
	db.mu.Unlock()
	if !ok {
		// A reply for an id nobody is waiting on is a no-op.
		return
	}
	p.ch <- r
	db.keepalive.Dec()
}

// onDisconnect runs once when the read loop observes a transport error. On
// Retry it leaves pending requests and iterators in place for replay by
// the next AttachRPC; otherwise it aborts everything outstanding.
func (db *DB) onDisconnect(err error) {
	db.mu.Lock()
	db.attached = false
	db.enc = nil
	retry := db.cfg.Retry
	var reqs []*pendingReq
	var iters []*Iterator
	if !retry {
		for id, p := range db.pending {
			reqs = append(reqs, p)
			delete(db.pending, id)
		}
		for id, it := range db.iterators {
			iters = append(iters, it)
			delete(db.iterators, id)
		}
	}
	db.mu.Unlock()

	for _, p := range reqs {
		p.ch <- replyMsg{errStr: lverr.ErrConnectionLost.Error()}
		db.keepalive.Dec()
	}
	for _, it := range iters {
		it.abort(lverr.ErrConnectionLost)
		db.keepalive.Dec()
	}
	if !retry && db.cfg.OnDisconnect != nil {
		db.cfg.OnDisconnect(err)
	}
}

func (db *DB) nextID() uint32 {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.ids.Next(func(id uint32) bool {
		if _, ok := db.pending[id]; ok {
			return true
		}
		_, ok := db.iterators[id]
		return ok
	})
}

// call sends a request frame and blocks until its reply arrives, ctx is
// done, or the database is closed.
func (db *DB) call(ctx context.Context, tag wire.Tag, body []byte, id uint32) (replyMsg, error) {
	ch := make(chan replyMsg, 1)
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return replyMsg{}, lverr.ErrDatabaseNotOpen
	}
	db.pending[id] = &pendingReq{tag: tag, body: body, ch: ch}
	db.mu.Unlock()
	db.keepalive.Inc()

	db.writeFrame(tag, body)

	select {
	case r := <-ch:
		return r, nil
	case <-ctx.Done():
		db.mu.Lock()
		delete(db.pending, id)
		db.mu.Unlock()
		db.keepalive.Dec()
		return replyMsg{}, ctx.Err()
	}
}

// Get returns the value for key, or found=false if it is absent.
func (db *DB) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	db.mu.Lock()
	local := db.local
	db.mu.Unlock()
	if local != nil {
		return local.Get(key)
	}
	id := db.nextID()
	r, err := db.call(ctx, wire.TagGet, (&wire.GetMsg{ID: id, Key: key}).Encode(), id)
	if err != nil {
		return nil, false, err
	}
	if r.errStr != "" {
		return nil, false, lverr.FromCode(r.errStr)
	}
	return r.value, r.value != nil, nil
}

// GetMany returns a value (or nil) for each of keys, in order.
func (db *DB) GetMany(ctx context.Context, keys [][]byte) ([][]byte, error) {
	db.mu.Lock()
	local := db.local
	db.mu.Unlock()
	if local != nil {
		out := make([][]byte, len(keys))
		for i, k := range keys {
			v, ok, err := local.Get(k)
			if err != nil {
				return nil, err
			}
			if ok {
				out[i] = v
			}
		}
		return out, nil
	}
	id := db.nextID()
	r, err := db.call(ctx, wire.TagGetMany, (&wire.GetManyMsg{ID: id, Keys: keys}).Encode(), id)
	if err != nil {
		return nil, err
	}
	if r.errStr != "" {
		return nil, lverr.FromCode(r.errStr)
	}
	return r.values, nil
}

// Put writes key=value.
func (db *DB) Put(ctx context.Context, key, value []byte) error {
	db.mu.Lock()
	local := db.local
	db.mu.Unlock()
	if local != nil {
		return local.Put(key, value)
	}
	id := db.nextID()
	r, err := db.call(ctx, wire.TagPut, (&wire.PutMsg{ID: id, Key: key, Value: value}).Encode(), id)
	if err != nil {
		return err
	}
	return lverr.FromCode(r.errStr)
}

// Delete removes key.
func (db *DB) Delete(ctx context.Context, key []byte) error {
	db.mu.Lock()
	local := db.local
	db.mu.Unlock()
	if local != nil {
		return local.Delete(key)
	}
	id := db.nextID()
	r, err := db.call(ctx, wire.TagDel, (&wire.DelMsg{ID: id, Key: key}).Encode(), id)
	if err != nil {
		return err
	}
	return lverr.FromCode(r.errStr)
}

// Batch applies ops atomically.
func (db *DB) Batch(ctx context.Context, ops []store.BatchOp) error {
	db.mu.Lock()
	local := db.local
	db.mu.Unlock()
	if local != nil {
		return local.Batch(ops)
	}
	wireOps := make([]wire.BatchOp, len(ops))
	for i, op := range ops {
		wireOps[i] = wire.BatchOp{Type: wire.BatchOpType(op.Type), Key: op.Key, Value: op.Value}
	}
	id := db.nextID()
	r, err := db.call(ctx, wire.TagBatch, (&wire.BatchMsg{ID: id, Ops: wireOps}).Encode(), id)
	if err != nil {
		return err
	}
	return lverr.FromCode(r.errStr)
}

// Clear deletes every key in the given range.
func (db *DB) Clear(ctx context.Context, opts store.RangeOptions) error {
	db.mu.Lock()
	local := db.local
	db.mu.Unlock()
	if local != nil {
		return local.Clear(opts)
	}
	wireOpts := wire.RangeOptions{Gt: opts.Gt, Gte: opts.Gte, Lt: opts.Lt, Lte: opts.Lte, Reverse: opts.Reverse, Limit: opts.Limit}
	id := db.nextID()
	r, err := db.call(ctx, wire.TagClear, (&wire.ClearMsg{ID: id, Options: wireOpts}).Encode(), id)
	if err != nil {
		return err
	}
	return lverr.FromCode(r.errStr)
}

// Close releases the database: both the pending-RPC path (outstanding
// requests and iterators are aborted with lverr.ErrDatabaseNotOpen) and,
// in forwarding mode, the forwarded store itself. A second Close is a
// no-op. A closed DB rejects a later AttachRPC with lverr.ErrNotSupported
// — reopening after an explicit close is not supported.
func (db *DB) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	local := db.local
	reqs := make([]*pendingReq, 0, len(db.pending))
	for id, p := range db.pending {
		reqs = append(reqs, p)
		delete(db.pending, id)
	}
	iters := make([]*Iterator, 0, len(db.iterators))
	for id, it := range db.iterators {
		iters = append(iters, it)
		delete(db.iterators, id)
	}
	db.mu.Unlock()

	for _, p := range reqs {
		p.ch <- replyMsg{errStr: lverr.ErrDatabaseNotOpen.Error()}
		db.keepalive.Dec()
	}
	for _, it := range iters {
		it.abort(lverr.ErrDatabaseNotOpen)
		db.keepalive.Dec()
	}
	if local != nil {
		return local.Close()
	}
	return nil
}
