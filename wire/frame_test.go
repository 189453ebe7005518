package wire

import (
	"bytes"
	"io"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	if err := enc.Write(TagGet, []byte("hello world")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := enc.Write(TagIteratorClose, nil); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	dec := NewDecoder(&buf, 0)

	tag, body, err := dec.Read()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if tag != TagGet {
		t.Errorf("tag mismatch: got %d, want %d", tag, TagGet)
	}
	if !bytes.Equal(body, []byte("hello world")) {
		t.Errorf("body mismatch: got %q", body)
	}

	tag, body, err = dec.Read()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if tag != TagIteratorClose {
		t.Errorf("tag mismatch: got %d, want %d", tag, TagIteratorClose)
	}
	if len(body) != 0 {
		t.Errorf("expected empty body, got %q", body)
	}

	if _, _, err := dec.Read(); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

// TestDecoderToleratesArbitraryChunking feeds the same frame one byte at a
// time to make sure the decoder only yields once the frame is complete,
// regardless of how the transport happens to chunk reads.
func TestDecoderToleratesArbitraryChunking(t *testing.T) {
	var buf bytes.Buffer
	if err := NewEncoder(&buf).Write(TagPut, []byte("a payload long enough to span chunks")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	full := buf.Bytes()

	pr, pw := io.Pipe()
	go func() {
		for _, b := range full {
			pw.Write([]byte{b})
		}
		pw.Close()
	}()

	dec := NewDecoder(pr, 0)
	tag, body, err := dec.Read()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if tag != TagPut {
		t.Errorf("tag mismatch: got %d", tag)
	}
	if string(body) != "a payload long enough to span chunks" {
		t.Errorf("body mismatch: got %q", body)
	}
}

func TestOversizeFrameRejected(t *testing.T) {
	var buf bytes.Buffer
	if err := NewEncoder(&buf).Write(TagGet, make([]byte, 100)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	dec := NewDecoder(&buf, 10)
	if _, _, err := dec.Read(); err != ErrFrameTooLarge {
		t.Errorf("expected ErrFrameTooLarge, got %v", err)
	}
}
