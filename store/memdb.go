package store

import (
	"bytes"
	"sort"
	"sync"
)

// MemDB is a minimal in-memory ordered KV, intentionally built on nothing
// but the standard library: it stands in for the real storage engine that
// the protocol places out of scope, so there is no pack dependency to
// ground a storage-engine choice against. Safe for concurrent use.
type MemDB struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

// NewMemDB creates an empty store.
func NewMemDB() *MemDB {
	return &MemDB{data: make(map[string][]byte)}
}

// Close releases the backing map. Safe to call more than once.
func (d *MemDB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.data = nil
	return nil
}

func (d *MemDB) Get(key []byte) ([]byte, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.data[string(key)]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (d *MemDB) Put(key, value []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	d.data[string(key)] = v
	return nil
}

func (d *MemDB) Delete(key []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.data, string(key))
	return nil
}

func (d *MemDB) Batch(ops []BatchOp) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, op := range ops {
		switch op.Type {
		case BatchOpPut:
			v := make([]byte, len(op.Value))
			copy(v, op.Value)
			d.data[string(op.Key)] = v
		case BatchOpDel:
			delete(d.data, string(op.Key))
		}
	}
	return nil
}

func (d *MemDB) Clear(opts RangeOptions) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	keys := d.sortedKeysLocked()
	keys = filterRange(keys, opts)
	if opts.Limit >= 0 && int(opts.Limit) < len(keys) {
		keys = keys[:opts.Limit]
	}
	for _, k := range keys {
		delete(d.data, k)
	}
	return nil
}

func (d *MemDB) NewIterator(opts IteratorOptions) Iterator {
	d.mu.RLock()
	defer d.mu.RUnlock()
	keys := d.sortedKeysLocked()
	keys = filterRange(keys, opts.RangeOptions)
	if opts.Reverse {
		for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
			keys[i], keys[j] = keys[j], keys[i]
		}
	}
	values := make([][]byte, len(keys))
	for i, k := range keys {
		values[i] = append([]byte(nil), d.data[k]...)
	}
	return &memIterator{
		keys:    keys,
		values:  values,
		opts:    opts,
		limit:   opts.Limit,
		reverse: opts.Reverse,
	}
}

func (d *MemDB) sortedKeysLocked() []string {
	keys := make([]string, 0, len(d.data))
	for k := range d.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func filterRange(keys []string, opts RangeOptions) []string {
	out := keys[:0:0]
	for _, k := range keys {
		kb := []byte(k)
		if opts.Gt != nil && bytes.Compare(kb, opts.Gt) <= 0 {
			continue
		}
		if opts.Gte != nil && bytes.Compare(kb, opts.Gte) < 0 {
			continue
		}
		if opts.Lt != nil && bytes.Compare(kb, opts.Lt) >= 0 {
			continue
		}
		if opts.Lte != nil && bytes.Compare(kb, opts.Lte) > 0 {
			continue
		}
		out = append(out, k)
	}
	return out
}

type memIterator struct {
	keys    []string
	values  [][]byte
	opts    IteratorOptions
	pos     int
	emitted int32
	limit   int32
	reverse bool
	closed  bool
}

func (it *memIterator) Next() ([]byte, []byte, bool, error) {
	if it.closed {
		return nil, nil, false, nil
	}
	if it.limit >= 0 && it.emitted >= it.limit {
		return nil, nil, false, nil
	}
	if it.pos >= len(it.keys) {
		return nil, nil, false, nil
	}
	k, v := it.keys[it.pos], it.values[it.pos]
	it.pos++
	it.emitted++
	var key, value []byte
	if it.opts.Keys {
		key = []byte(k)
	}
	if it.opts.Values {
		value = v
	}
	return key, value, true, nil
}

func (it *memIterator) Seek(target []byte) error {
	idx := sort.Search(len(it.keys), func(i int) bool {
		if it.reverse {
			// keys are stored high-to-low in reverse mode; search for the
			// first one that is <= target.
			return bytes.Compare([]byte(it.keys[i]), target) <= 0
		}
		return bytes.Compare([]byte(it.keys[i]), target) >= 0
	})
	it.pos = idx
	it.emitted = 0
	return nil
}

func (it *memIterator) Close() error {
	it.closed = true
	return nil
}
