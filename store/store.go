// Package store defines the store-facing contract levelrpc's host plugs
// into: a minimal ordered key/value interface over raw bytes, with batch,
// clear, and a seekable range iterator. The real backing engine (a
// LevelDB/Badger/Pebble-class store) is explicitly out of scope per the
// protocol's purpose and scope — this package only declares the interface
// the host demultiplexer calls through, plus an in-memory stand-in used by
// tests and the example command.
package store

// RangeOptions bounds a Clear call or an iterator's range. A nil bound
// means unset. Limit < 0 means unbounded.
type RangeOptions struct {
	Gt      []byte
	Gte     []byte
	Lt      []byte
	Lte     []byte
	Reverse bool
	Limit   int32
}

// IteratorOptions extends RangeOptions with the key/value projection used
// by the wire protocol's iteratorData entries.
type IteratorOptions struct {
	RangeOptions
	Keys   bool
	Values bool
}

// BatchOpType distinguishes a put from a delete within a Batch call.
type BatchOpType byte

const (
	BatchOpPut BatchOpType = 0
	BatchOpDel BatchOpType = 1
)

// BatchOp is one write in a Batch call.
type BatchOp struct {
	Type  BatchOpType
	Key   []byte
	Value []byte
}

// KV is the ordered key/value store a levelrpc host executes operations
// against. Implementations must be safe for concurrent use: the host may
// run operations for different request ids concurrently.
type KV interface {
	Get(key []byte) (value []byte, found bool, err error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Batch(ops []BatchOp) error
	Clear(opts RangeOptions) error
	NewIterator(opts IteratorOptions) Iterator
	// Close releases any resources the store holds. A guest in forwarding
	// mode calls this when it is itself closed.
	Close() error
}

// Iterator is a live cursor over a KV's keys in sorted order (or reverse
// sorted order, per IteratorOptions.Reverse). It is not safe for concurrent
// use by multiple goroutines.
type Iterator interface {
	// Next advances to the next entry. ok is false once the range is
	// exhausted; err is non-nil only on a genuine store failure.
	Next() (key, value []byte, ok bool, err error)
	// Seek repositions the cursor so the next Next() call returns the
	// first remaining entry at or after target (or at or before, in
	// reverse mode).
	Seek(target []byte) error
	Close() error
}
