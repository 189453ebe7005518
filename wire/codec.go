package wire

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// ErrMalformed is returned by every decode failure. Callers (the guest
// dispatcher, the host demultiplexer) silently drop a frame whose decode
// fails instead of tearing down the connection, per the message codec's
// forward-compatibility policy.
var ErrMalformed = errors.New("levelrpc: malformed payload")

// writer accumulates a tag payload using the same manual length-prefixed
// layout throughout the protocol: fixed-width integers big-endian, byte
// strings as a 4-byte length prefix followed by the bytes, optional byte
// strings as a presence byte ahead of that.
type writer struct {
	buf []byte
}

func (w *writer) uint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) int32(v int32) { w.uint32(uint32(v)) }

func (w *writer) boolean(v bool) {
	if v {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

func (w *writer) bytes(v []byte) {
	w.uint32(uint32(len(v)))
	w.buf = append(w.buf, v...)
}

func (w *writer) optBytes(v []byte) {
	if v == nil {
		w.buf = append(w.buf, 0)
		return
	}
	w.buf = append(w.buf, 1)
	w.bytes(v)
}

func (w *writer) str(v string) { w.bytes([]byte(v)) }

func (w *writer) count(n int) { w.uint32(uint32(n)) }

// reader walks a decoded payload with bounds checking; any out-of-range
// access yields ErrMalformed instead of panicking, since a malformed frame
// must be dropped, never crash the process.
type reader struct {
	buf []byte
	off int
}

func (r *reader) uint32() (uint32, error) {
	if r.off+4 > len(r.buf) {
		return 0, ErrMalformed
	}
	v := binary.BigEndian.Uint32(r.buf[r.off : r.off+4])
	r.off += 4
	return v, nil
}

func (r *reader) int32() (int32, error) {
	v, err := r.uint32()
	return int32(v), err
}

func (r *reader) boolean() (bool, error) {
	if r.off+1 > len(r.buf) {
		return false, ErrMalformed
	}
	v := r.buf[r.off] != 0
	r.off++
	return v, nil
}

func (r *reader) byteVal() (byte, error) {
	if r.off+1 > len(r.buf) {
		return 0, ErrMalformed
	}
	v := r.buf[r.off]
	r.off++
	return v, nil
}

func (r *reader) bytes() ([]byte, error) {
	n, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if r.off+int(n) > len(r.buf) {
		return nil, ErrMalformed
	}
	v := make([]byte, n)
	copy(v, r.buf[r.off:r.off+int(n)])
	r.off += int(n)
	return v, nil
}

func (r *reader) optBytes() ([]byte, error) {
	present, err := r.byteVal()
	if err != nil {
		return nil, err
	}
	if present == 0 {
		return nil, nil
	}
	return r.bytes()
}

func (r *reader) str() (string, error) {
	b, err := r.bytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *reader) count() (int, error) {
	n, err := r.uint32()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (r *reader) done() bool { return r.off == len(r.buf) }
