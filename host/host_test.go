package host

import (
	"context"
	"net"
	"testing"
	"time"

	"levelrpc/store"
	"levelrpc/wire"
)

// driver wraps the guest end of a net.Pipe with the wire codec so tests can
// write requests and read replies without a full guest implementation.
type driver struct {
	t   *testing.T
	enc *wire.Encoder
	dec *wire.Decoder
}

func newDriver(t *testing.T, conn net.Conn) *driver {
	return &driver{t: t, enc: wire.NewEncoder(conn), dec: wire.NewDecoder(conn, 0)}
}

func (d *driver) send(tag wire.Tag, body []byte) {
	d.t.Helper()
	if err := d.enc.Write(tag, body); err != nil {
		d.t.Fatalf("write: %v", err)
	}
}

func (d *driver) recv() (wire.Tag, []byte) {
	d.t.Helper()
	tag, payload, err := d.dec.Read()
	if err != nil {
		d.t.Fatalf("read: %v", err)
	}
	return tag, payload
}

func startHost(t *testing.T, db store.KV) (*driver, func()) {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	h := New(db, Config{BatchSize: 2})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Serve(ctx, serverConn)
		close(done)
	}()
	d := newDriver(t, clientConn)
	return d, func() {
		cancel()
		clientConn.Close()
		serverConn.Close()
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	}
}

func TestHostPutGetDelRoundTrip(t *testing.T) {
	d, stop := startHost(t, store.NewMemDB())
	defer stop()

	d.send(wire.TagPut, (&wire.PutMsg{ID: 1, Key: []byte("k"), Value: []byte("v")}).Encode())
	tag, payload := d.recv()
	if tag != wire.TagCallback {
		t.Fatalf("expected callback, got tag %d", tag)
	}
	cb, err := wire.DecodeCallback(payload)
	if err != nil || cb.Error != "" {
		t.Fatalf("put failed: err=%v cb=%+v", err, cb)
	}

	d.send(wire.TagGet, (&wire.GetMsg{ID: 2, Key: []byte("k")}).Encode())
	_, payload = d.recv()
	cb, err = wire.DecodeCallback(payload)
	if err != nil || cb.Error != "" || string(cb.Value) != "v" {
		t.Fatalf("get mismatch: err=%v cb=%+v", err, cb)
	}

	d.send(wire.TagDel, (&wire.DelMsg{ID: 3, Key: []byte("k")}).Encode())
	_, payload = d.recv()
	if cb, err = wire.DecodeCallback(payload); err != nil || cb.Error != "" {
		t.Fatalf("del failed: err=%v cb=%+v", err, cb)
	}

	d.send(wire.TagGet, (&wire.GetMsg{ID: 4, Key: []byte("k")}).Encode())
	_, payload = d.recv()
	cb, _ = wire.DecodeCallback(payload)
	if cb.Value != nil {
		t.Fatalf("expected absent value after delete, got %q", cb.Value)
	}
}

func TestHostBatchAndGetMany(t *testing.T) {
	d, stop := startHost(t, store.NewMemDB())
	defer stop()

	batch := &wire.BatchMsg{ID: 1, Ops: []wire.BatchOp{
		{Type: wire.BatchOpPut, Key: []byte("a"), Value: []byte("1")},
		{Type: wire.BatchOpPut, Key: []byte("b"), Value: []byte("2")},
	}}
	d.send(wire.TagBatch, batch.Encode())
	_, payload := d.recv()
	if cb, err := wire.DecodeCallback(payload); err != nil || cb.Error != "" {
		t.Fatalf("batch failed: err=%v cb=%+v", err, cb)
	}

	d.send(wire.TagGetMany, (&wire.GetManyMsg{ID: 2, Keys: [][]byte{[]byte("a"), []byte("missing"), []byte("b")}}).Encode())
	_, payload = d.recv()
	gm, err := wire.DecodeGetManyCallback(payload)
	if err != nil || gm.Error != "" {
		t.Fatalf("getMany failed: err=%v gm=%+v", err, gm)
	}
	if string(gm.Values[0]) != "1" || gm.Values[1] != nil || string(gm.Values[2]) != "2" {
		t.Fatalf("unexpected values: %v", gm.Values)
	}
}

func seedDB(t *testing.T, keys ...string) *store.MemDB {
	t.Helper()
	db := store.NewMemDB()
	for _, k := range keys {
		if err := db.Put([]byte(k), []byte(k)); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	return db
}

func TestHostIteratorRangeWithCredit(t *testing.T) {
	db := seedDB(t, "a", "b", "c", "d", "e")
	d, stop := startHost(t, db)
	defer stop()

	d.send(wire.TagIterator, (&wire.IteratorMsg{
		ID:      1,
		Options: wire.IteratorOptions{RangeOptions: wire.RangeOptions{Limit: -1}, Keys: true, Values: true},
		Seq:     1,
	}).Encode())

	tag, payload := d.recv()
	if tag != wire.TagIteratorData {
		t.Fatalf("expected iteratorData, got tag %d", tag)
	}
	data, err := wire.DecodeIteratorData(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(data.Data) != 4 || string(data.Data[0]) != "a" || string(data.Data[1]) != "a" {
		t.Fatalf("unexpected first batch: %v", data.Data)
	}

	d.send(wire.TagIteratorAck, (&wire.IteratorAckMsg{ID: 1, Seq: 1, Consumed: 2}).Encode())
	tag, payload = d.recv()
	if tag != wire.TagIteratorData {
		t.Fatalf("expected second iteratorData, got tag %d", tag)
	}
	data, _ = wire.DecodeIteratorData(payload)
	if len(data.Data) != 4 || string(data.Data[0]) != "c" {
		t.Fatalf("unexpected second batch: %v", data.Data)
	}

	// Only one key (e) remains: the batch holding it and the end-of-range
	// signal arrive back to back from the same credit grant.
	d.send(wire.TagIteratorAck, (&wire.IteratorAckMsg{ID: 1, Seq: 1, Consumed: 2}).Encode())
	tag, payload = d.recv()
	if tag != wire.TagIteratorData {
		t.Fatalf("expected third iteratorData, got tag %d", tag)
	}
	data, _ = wire.DecodeIteratorData(payload)
	if len(data.Data) != 2 || string(data.Data[0]) != "e" {
		t.Fatalf("unexpected third batch: %v", data.Data)
	}

	tag, payload = d.recv()
	if tag != wire.TagIteratorEnd {
		t.Fatalf("expected iteratorEnd, got tag %d", tag)
	}
	end, _ := wire.DecodeIteratorEnd(payload)
	if end.Seq != 1 {
		t.Fatalf("unexpected end seq: %d", end.Seq)
	}
}

func TestHostIteratorBookmarkSkipsDeliveredKey(t *testing.T) {
	db := seedDB(t, "a", "b", "c")
	d, stop := startHost(t, db)
	defer stop()

	d.send(wire.TagIterator, (&wire.IteratorMsg{
		ID:       1,
		Options:  wire.IteratorOptions{RangeOptions: wire.RangeOptions{Limit: -1}, Keys: true},
		Bookmark: []byte("a"),
		Seq:      7,
	}).Encode())

	tag, payload := d.recv()
	if tag != wire.TagIteratorData {
		t.Fatalf("expected iteratorData, got tag %d", tag)
	}
	data, err := wire.DecodeIteratorData(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(data.Data) != 2 || string(data.Data[0]) != "b" || string(data.Data[1]) != "c" {
		t.Fatalf("bookmark resume should start strictly after the bookmark, got %v", data.Data)
	}
}

func TestHostIteratorCountOnlyAdvance(t *testing.T) {
	db := seedDB(t, "a", "b")
	d, stop := startHost(t, db)
	defer stop()

	d.send(wire.TagIterator, (&wire.IteratorMsg{
		ID:      1,
		Options: wire.IteratorOptions{RangeOptions: wire.RangeOptions{Limit: -1}},
		Seq:     1,
	}).Encode())

	_, payload := d.recv()
	data, err := wire.DecodeIteratorData(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(data.Data) != 2 {
		t.Fatalf("expected 2 count-only placeholder entries, got %d", len(data.Data))
	}
}

func TestHostIteratorSeekThenNextNeverReturnsPreSeekData(t *testing.T) {
	db := seedDB(t, "a", "b", "c", "d")
	d, stop := startHost(t, db)
	defer stop()

	d.send(wire.TagIterator, (&wire.IteratorMsg{
		ID:      1,
		Options: wire.IteratorOptions{RangeOptions: wire.RangeOptions{Limit: -1}, Keys: true},
		Seq:     1,
	}).Encode())
	d.recv() // first batch, discarded; we reposition before consuming it

	d.send(wire.TagIteratorSeek, (&wire.IteratorSeekMsg{ID: 1, Seq: 2, Target: []byte("c")}).Encode())
	tag, payload := d.recv()
	if tag != wire.TagIteratorData {
		t.Fatalf("expected iteratorData after seek, got tag %d", tag)
	}
	data, err := wire.DecodeIteratorData(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(data.Data) == 0 || string(data.Data[0]) != "c" {
		t.Fatalf("expected batch to start at seek target, got %v", data.Data)
	}
	for _, k := range data.Data {
		if string(k) == "a" || string(k) == "b" {
			t.Fatalf("seek must never surface pre-seek data, got %v", data.Data)
		}
	}
}

func TestHostIteratorCloseIsIdempotentNoOp(t *testing.T) {
	db := seedDB(t, "a")
	d, stop := startHost(t, db)
	defer stop()

	d.send(wire.TagIterator, (&wire.IteratorMsg{
		ID:      1,
		Options: wire.IteratorOptions{RangeOptions: wire.RangeOptions{Limit: -1}, Keys: true},
		Seq:     1,
	}).Encode())
	d.recv()

	d.send(wire.TagIteratorClose, (&wire.IteratorCloseMsg{ID: 1}).Encode())
	d.send(wire.TagIteratorClose, (&wire.IteratorCloseMsg{ID: 1}).Encode())

	// A subsequent, unrelated request must still be served: closing twice
	// must not have wedged the connection.
	d.send(wire.TagGet, (&wire.GetMsg{ID: 2, Key: []byte("a")}).Encode())
	_, payload := d.recv()
	cb, err := wire.DecodeCallback(payload)
	if err != nil || string(cb.Value) != "a" {
		t.Fatalf("connection did not survive double close: err=%v cb=%+v", err, cb)
	}
}

func TestHostReplyToUnknownIteratorIDIsNoOp(t *testing.T) {
	db := seedDB(t, "a")
	d, stop := startHost(t, db)
	defer stop()

	d.send(wire.TagIteratorAck, (&wire.IteratorAckMsg{ID: 99, Seq: 1, Consumed: 1}).Encode())

	// The connection must still be usable afterward.
	d.send(wire.TagGet, (&wire.GetMsg{ID: 1, Key: []byte("a")}).Encode())
	_, payload := d.recv()
	cb, err := wire.DecodeCallback(payload)
	if err != nil || string(cb.Value) != "a" {
		t.Fatalf("unknown-id ack should be a no-op, got err=%v cb=%+v", err, cb)
	}
}
