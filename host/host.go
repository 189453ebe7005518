// Package host implements the host side of the levelrpc protocol: it reads
// request frames, executes them against a backing store.KV, and emits
// reply frames, including the credit-flow-controlled iterator batches.
// Grounded on the teacher server's handleConn/handleRequest split (a
// single-goroutine frame reader dispatching each request to its own
// goroutine, with a shared write-mutex so responses never interleave).
package host

import (
	"bytes"
	"context"
	"io"
	"sync"

	"go.uber.org/zap"

	"levelrpc/opmw"
	"levelrpc/store"
	"levelrpc/wire"
)

// Config tunes a Host.
type Config struct {
	// BatchSize is both the maximum entries per iteratorData frame and the
	// credit granted by each iteratorAck (the send policy's batch_budget).
	BatchSize int
	// MaxFrameSize bounds an inbound frame; <=0 selects wire.DefaultMaxFrameSize.
	MaxFrameSize int
	// Middleware wraps every store.KV call (onion model, outermost first).
	Middleware []opmw.Middleware
	// Logger receives an opmw.Logging entry for every store.KV call; that
	// logging layer sits outside Middleware.
	Logger *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 64
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Host executes store operations for a single connection. One Host per
// connection: it is stateful only in the live cursors it holds.
type Host struct {
	db      store.KV
	cfg     Config
	handler opmw.HandlerFunc

	writeMu sync.Mutex
	enc     *wire.Encoder

	cursorsMu sync.Mutex
	cursors   map[uint32]*cursor
	cursorWG  sync.WaitGroup
}

// New creates a Host bound to db.
func New(db store.KV, cfg Config) *Host {
	cfg = cfg.withDefaults()
	return &Host{
		db:      db,
		cfg:     cfg,
		handler: opmw.Chain(append([]opmw.Middleware{opmw.Logging(cfg.Logger)}, cfg.Middleware...)...)(opmw.Exec),
		cursors: make(map[uint32]*cursor),
	}
}

// Serve reads frames from rw until it errors (typically io.EOF on
// disconnect) or ctx is cancelled, dispatching each to the backing store.
// ctx is checked before each frame is read, so a cancellation while Serve
// is blocked in a read takes effect only once that read returns.
// It blocks until the connection ends, then tears down every live cursor.
func (h *Host) Serve(ctx context.Context, rw io.ReadWriter) error {
	h.enc = wire.NewEncoder(rw)
	dec := wire.NewDecoder(rw, h.cfg.MaxFrameSize)
	defer h.closeAllCursors()

	var reqWG sync.WaitGroup
	defer reqWG.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		tag, payload, err := dec.Read()
		if err != nil {
			return err
		}
		h.dispatch(ctx, tag, payload, &reqWG)
	}
}

func (h *Host) dispatch(ctx context.Context, tag wire.Tag, payload []byte, reqWG *sync.WaitGroup) {
	switch tag {
	case wire.TagGet:
		msg, err := wire.DecodeGet(payload)
		if err != nil {
			return
		}
		reqWG.Add(1)
		go func() { defer reqWG.Done(); h.handleGet(ctx, msg) }()

	case wire.TagGetMany:
		msg, err := wire.DecodeGetMany(payload)
		if err != nil {
			return
		}
		reqWG.Add(1)
		go func() { defer reqWG.Done(); h.handleGetMany(ctx, msg) }()

	case wire.TagPut:
		msg, err := wire.DecodePut(payload)
		if err != nil {
			return
		}
		reqWG.Add(1)
		go func() { defer reqWG.Done(); h.handlePut(ctx, msg) }()

	case wire.TagDel:
		msg, err := wire.DecodeDel(payload)
		if err != nil {
			return
		}
		reqWG.Add(1)
		go func() { defer reqWG.Done(); h.handleDel(ctx, msg) }()

	case wire.TagBatch:
		msg, err := wire.DecodeBatch(payload)
		if err != nil {
			return
		}
		reqWG.Add(1)
		go func() { defer reqWG.Done(); h.handleBatch(ctx, msg) }()

	case wire.TagClear:
		msg, err := wire.DecodeClear(payload)
		if err != nil {
			return
		}
		reqWG.Add(1)
		go func() { defer reqWG.Done(); h.handleClear(ctx, msg) }()

	case wire.TagIterator:
		msg, err := wire.DecodeIterator(payload)
		if err != nil {
			return
		}
		h.handleIteratorOpen(msg)

	case wire.TagIteratorSeek:
		msg, err := wire.DecodeIteratorSeek(payload)
		if err != nil {
			return
		}
		h.handleIteratorSeek(msg)

	case wire.TagIteratorAck:
		msg, err := wire.DecodeIteratorAck(payload)
		if err != nil {
			return
		}
		h.handleIteratorAck(msg)

	case wire.TagIteratorClose:
		msg, err := wire.DecodeIteratorClose(payload)
		if err != nil {
			return
		}
		h.handleIteratorClose(msg)

	default:
		// Unknown tag: dropped silently, per the message codec's
		// forward-compatibility policy.
	}
}

func (h *Host) writeFrame(tag wire.Tag, body []byte) {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	// Write errors mean the transport is going down; the read loop will
	// observe that on its next Read and tear everything down.
	_ = h.enc.Write(tag, body)
}

func errCode(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (h *Host) runOp(ctx context.Context, name string, run func() error) error {
	op := &opmw.Operation{Name: name, Run: run}
	return h.handler(ctx, op).Err
}

func (h *Host) handleGet(ctx context.Context, msg *wire.GetMsg) {
	var value []byte
	var found bool
	err := h.runOp(ctx, "get", func() error {
		v, ok, err := h.db.Get(msg.Key)
		value, found = v, ok
		return err
	})
	cb := &wire.CallbackMsg{ID: msg.ID}
	if err != nil {
		cb.Error = errCode(err)
	} else if found {
		cb.Value = value
	}
	h.writeFrame(wire.TagCallback, cb.Encode())
}

func (h *Host) handleGetMany(ctx context.Context, msg *wire.GetManyMsg) {
	values := make([][]byte, len(msg.Keys))
	err := h.runOp(ctx, "getMany", func() error {
		for i, k := range msg.Keys {
			v, ok, err := h.db.Get(k)
			if err != nil {
				return err
			}
			if ok {
				values[i] = v
			}
		}
		return nil
	})
	cb := &wire.GetManyCallbackMsg{ID: msg.ID, Values: values}
	if err != nil {
		cb.Error = errCode(err)
	}
	h.writeFrame(wire.TagGetManyCallback, cb.Encode())
}

func (h *Host) handlePut(ctx context.Context, msg *wire.PutMsg) {
	err := h.runOp(ctx, "put", func() error { return h.db.Put(msg.Key, msg.Value) })
	h.writeFrame(wire.TagCallback, (&wire.CallbackMsg{ID: msg.ID, Error: errCode(err)}).Encode())
}

func (h *Host) handleDel(ctx context.Context, msg *wire.DelMsg) {
	err := h.runOp(ctx, "del", func() error { return h.db.Delete(msg.Key) })
	h.writeFrame(wire.TagCallback, (&wire.CallbackMsg{ID: msg.ID, Error: errCode(err)}).Encode())
}

func (h *Host) handleBatch(ctx context.Context, msg *wire.BatchMsg) {
	ops := make([]store.BatchOp, len(msg.Ops))
	for i, op := range msg.Ops {
		ops[i] = store.BatchOp{Type: store.BatchOpType(op.Type), Key: op.Key, Value: op.Value}
	}
	err := h.runOp(ctx, "batch", func() error { return h.db.Batch(ops) })
	h.writeFrame(wire.TagCallback, (&wire.CallbackMsg{ID: msg.ID, Error: errCode(err)}).Encode())
}

func (h *Host) handleClear(ctx context.Context, msg *wire.ClearMsg) {
	opts := store.RangeOptions{
		Gt: msg.Options.Gt, Gte: msg.Options.Gte,
		Lt: msg.Options.Lt, Lte: msg.Options.Lte,
		Reverse: msg.Options.Reverse, Limit: msg.Options.Limit,
	}
	err := h.runOp(ctx, "clear", func() error { return h.db.Clear(opts) })
	h.writeFrame(wire.TagCallback, (&wire.CallbackMsg{ID: msg.ID, Error: errCode(err)}).Encode())
}

// handleIteratorOpen creates a new cursor at msg.ID, discarding any cursor
// already living there (how resume-after-reconnect works: the guest
// replays its iterator record under the same id).
func (h *Host) handleIteratorOpen(msg *wire.IteratorMsg) {
	storeOpts := store.IteratorOptions{
		RangeOptions: store.RangeOptions{
			Gt: msg.Options.Gt, Gte: msg.Options.Gte,
			Lt: msg.Options.Lt, Lte: msg.Options.Lte,
			Reverse: msg.Options.Reverse, Limit: msg.Options.Limit,
		},
		// Key comparison is needed internally to implement bookmark
		// dedupe regardless of what the guest projected.
		Keys:   true,
		Values: msg.Options.Values,
	}

	h.cursorsMu.Lock()
	if old, ok := h.cursors[msg.ID]; ok {
		delete(h.cursors, msg.ID)
		old.close()
	}
	h.cursorsMu.Unlock()

	iter := h.db.NewIterator(storeOpts)

	seek := msg.Seek
	skipBookmark := false
	if seek == nil && msg.Bookmark != nil {
		seek = msg.Bookmark
		skipBookmark = true
	}
	if seek != nil {
		if err := iter.Seek(seek); err != nil {
			iter.Close()
			h.writeFrame(wire.TagIteratorError, (&wire.IteratorErrorMsg{ID: msg.ID, Seq: msg.Seq, Error: errCode(err)}).Encode())
			return
		}
	}

	c := newCursor(msg.ID, iter, msg.Options, msg.Seq)
	h.cursorsMu.Lock()
	h.cursors[msg.ID] = c
	h.cursorsMu.Unlock()

	h.cursorWG.Add(1)
	go h.runCursor(c, skipBookmark, msg.Bookmark)
}

func (h *Host) handleIteratorSeek(msg *wire.IteratorSeekMsg) {
	h.cursorsMu.Lock()
	c, ok := h.cursors[msg.ID]
	h.cursorsMu.Unlock()
	if !ok {
		return
	}
	c.signalSeek(msg.Target, msg.Seq)
}

func (h *Host) handleIteratorAck(msg *wire.IteratorAckMsg) {
	h.cursorsMu.Lock()
	c, ok := h.cursors[msg.ID]
	h.cursorsMu.Unlock()
	if !ok || c.seq != msg.Seq {
		return
	}
	c.signalWake()
}

func (h *Host) handleIteratorClose(msg *wire.IteratorCloseMsg) {
	h.cursorsMu.Lock()
	c, ok := h.cursors[msg.ID]
	if ok {
		delete(h.cursors, msg.ID)
	}
	h.cursorsMu.Unlock()
	if ok {
		c.close()
	}
}

func (h *Host) closeAllCursors() {
	h.cursorsMu.Lock()
	cursors := make([]*cursor, 0, len(h.cursors))
	for id, c := range h.cursors {
		cursors = append(cursors, c)
		delete(h.cursors, id)
	}
	h.cursorsMu.Unlock()
	for _, c := range cursors {
		c.close()
	}
	h.cursorWG.Wait()
}

// runCursor drives one cursor's credit-based send loop: it sends an
// initial batch immediately (the implicit credit at open), then waits for
// either an ack (send the next batch) or a seek (reposition and send a
// fresh batch), until the range ends, errors, or the cursor is closed.
func (h *Host) runCursor(c *cursor, skipBookmark bool, bookmark []byte) {
	defer h.cursorWG.Done()
	defer c.iter.Close()

	if skipBookmark {
		key, value, ok, err := c.iter.Next()
		if err != nil {
			h.writeFrame(wire.TagIteratorError, (&wire.IteratorErrorMsg{ID: c.id, Seq: c.seq, Error: errCode(err)}).Encode())
			return
		}
		if ok && !bytes.Equal(key, bookmark) {
			// The seeked position landed after the bookmark already (no
			// exact match to dedupe) — this entry is real and must not be
			// dropped, so feed it back through as the start of the first
			// batch.
			if h.produceBatch(c, &prefetched{key: key, value: value}) {
				return
			}
			h.waitForCredit(c)
			return
		}
		if !ok {
			h.writeFrame(wire.TagIteratorEnd, (&wire.IteratorEndMsg{ID: c.id, Seq: c.seq}).Encode())
			return
		}
	}

	if h.produceBatch(c, nil) {
		return
	}
	h.waitForCredit(c)
}

func (h *Host) waitForCredit(c *cursor) {
	for {
		select {
		case <-c.done:
			return
		case sk := <-c.seekCh:
			if err := c.iter.Seek(sk.target); err != nil {
				h.writeFrame(wire.TagIteratorError, (&wire.IteratorErrorMsg{ID: c.id, Seq: sk.seq, Error: errCode(err)}).Encode())
				return
			}
			c.seq = sk.seq
			if h.produceBatch(c, nil) {
				return
			}
		case <-c.wake:
			if h.produceBatch(c, nil) {
				return
			}
		}
	}
}

// prefetched carries one entry already pulled from the store (during
// bookmark dedupe) that must be the first element of the next batch.
type prefetched struct {
	key   []byte
	value []byte
}

// produceBatch pulls up to cfg.BatchSize entries and sends one iteratorData
// frame, or an iteratorEnd/iteratorError frame if the range finished or
// failed. It returns true once the cursor has terminated (end or error),
// at which point the caller must stop driving it.
func (h *Host) produceBatch(c *cursor, pre *prefetched) bool {
	var data [][]byte
	count := 0

	emit := func(key, value []byte) {
		if c.opts.Keys && c.opts.Values {
			data = append(data, key, value)
		} else if c.opts.Keys {
			data = append(data, key)
		} else if c.opts.Values {
			data = append(data, value)
		} else {
			data = append(data, []byte{})
		}
		count++
	}

	if pre != nil {
		emit(pre.key, pre.value)
	}

	for count < h.cfg.BatchSize {
		key, value, ok, err := c.iter.Next()
		if err != nil {
			h.writeFrame(wire.TagIteratorError, (&wire.IteratorErrorMsg{ID: c.id, Seq: c.seq, Error: errCode(err)}).Encode())
			return true
		}
		if !ok {
			if count > 0 {
				h.writeFrame(wire.TagIteratorData, (&wire.IteratorDataMsg{ID: c.id, Seq: c.seq, Data: data}).Encode())
			}
			h.writeFrame(wire.TagIteratorEnd, (&wire.IteratorEndMsg{ID: c.id, Seq: c.seq}).Encode())
			return true
		}
		emit(key, value)
	}
	h.writeFrame(wire.TagIteratorData, (&wire.IteratorDataMsg{ID: c.id, Seq: c.seq, Data: data}).Encode())
	return false
}
