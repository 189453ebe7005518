package wire

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// DefaultMaxFrameSize bounds a single frame's payload (tag + body) so a
// corrupt or hostile length prefix can't make the decoder allocate without
// limit. Callers may override it via NewDecoder.
const DefaultMaxFrameSize = 64 << 20

// ErrFrameTooLarge is returned by the decoder when a frame's declared length
// exceeds the configured maximum.
var ErrFrameTooLarge = errors.New("levelrpc: frame exceeds max frame size")

// Encoder writes whole messages to a stream as length-prefixed frames.
// It does not synchronize concurrent writes; callers sharing one Encoder
// across goroutines must serialize calls to Write themselves (as the guest
// dispatcher and host demultiplexer do).
type Encoder struct {
	w   io.Writer
	buf []byte
}

// NewEncoder wraps w to emit length-prefixed frames.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w, buf: make([]byte, binary.MaxVarintLen64)}
}

// Write emits one frame whose payload is tag followed by body.
func (e *Encoder) Write(tag Tag, body []byte) error {
	n := binary.PutUvarint(e.buf, uint64(len(body)+1))
	if _, err := e.w.Write(e.buf[:n]); err != nil {
		return err
	}
	if _, err := e.w.Write([]byte{byte(tag)}); err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	_, err := e.w.Write(body)
	return err
}

// Decoder reads a byte stream and yields one complete (tag, payload) frame
// per Read call, regardless of how the underlying reads chunk the stream.
type Decoder struct {
	r       *bufio.Reader
	maxSize int
}

// NewDecoder wraps r. maxSize <= 0 selects DefaultMaxFrameSize.
func NewDecoder(r io.Reader, maxSize int) *Decoder {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}
	return &Decoder{r: bufio.NewReader(r), maxSize: maxSize}
}

// Read blocks until one full frame is available, then returns its tag and
// payload (the bytes after the tag byte). io.EOF (or another read error) is
// returned once the stream ends.
func (d *Decoder) Read() (Tag, []byte, error) {
	length, err := binary.ReadUvarint(d.r)
	if err != nil {
		return 0, nil, err
	}
	if length == 0 {
		return 0, nil, errors.New("levelrpc: empty frame (missing tag byte)")
	}
	if int(length) > d.maxSize {
		return 0, nil, ErrFrameTooLarge
	}
	tagByte, err := d.r.ReadByte()
	if err != nil {
		return 0, nil, err
	}
	payload := make([]byte, length-1)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		return 0, nil, err
	}
	return Tag(tagByte), payload, nil
}
