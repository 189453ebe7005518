// Package wire implements the length-prefixed framing and per-tag message
// codec that carries requests, replies, and streaming iterator data between
// a levelrpc guest and host over a single duplex byte stream.
//
// Frame format: <uvarint length><tag byte><payload>. Length covers the tag
// byte plus the payload. The numeric tag values below are part of the wire
// protocol and must never be renumbered.
package wire

// Tag names a message kind. Input tags (guest→host) and output tags
// (host→guest) are disjoint namespaces but share the same byte range
// since each side only ever decodes its own direction.
type Tag byte

// Input tags: guest → host.
const (
	TagGet           Tag = 1
	TagPut           Tag = 2
	TagDel           Tag = 3
	TagBatch         Tag = 4
	TagIterator      Tag = 5
	TagIteratorClose Tag = 6
	TagIteratorAck   Tag = 7
	TagIteratorSeek  Tag = 8
	TagClear         Tag = 9
	TagGetMany       Tag = 10
)

// Output tags: host → guest.
const (
	TagCallback        Tag = 1
	TagIteratorData    Tag = 2
	TagIteratorEnd     Tag = 3
	TagIteratorError   Tag = 4
	TagGetManyCallback Tag = 5
)

// BatchOpType distinguishes the two operations a batch entry may carry.
type BatchOpType byte

const (
	BatchOpPut BatchOpType = 0
	BatchOpDel BatchOpType = 1
)
