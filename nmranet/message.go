package nmranet

import (
	"github.com/kennethlong/openmrn/buf"
	"github.com/kennethlong/openmrn/dispatch"
)

// NodeHandle is a (node-id, alias) pair. At least one field is non-zero
// when the handle is valid; the two are mutually translated through
// local/remote alias registries (assumed external collaborators, §1).
type NodeHandle struct {
	ID    uint64 // 48-bit node id, high bits unused
	Alias uint16 // 12-bit CAN alias, high bits unused
}

// HasID reports whether the handle's node-id is known.
func (h NodeHandle) HasID() bool { return h.ID != 0 }

// HasAlias reports whether the handle's alias is known.
func (h NodeHandle) HasAlias() bool { return h.Alias != 0 }

// LocalNode represents a node hosted locally, the destination of inbound
// datagrams this core can deliver upward.
type LocalNode struct {
	Handle NodeHandle
}

// Message is a protocol message (§3): an MTI, source/destination handles,
// an optional pointer to a locally hosted destination node, and a
// payload.
type Message struct {
	MTI     MTI
	Src     NodeHandle
	Dst     NodeHandle
	DstNode *LocalNode
	Payload []byte
}

// MaxDatagramPayload is the largest payload the parser's reassembly
// buffers tolerate (§4.8 step 5, §8 boundary behaviours 11).
const MaxDatagramPayload = 72

// MsgDispatcher is the message dispatcher (C5), keyed by MTI, dispatching
// refcounted Message buffers: the dispatcher bumps the buffer's refcount
// once per matching handler (§4.5), and every handler it invokes owns one
// reference it must eventually Unref.
type MsgDispatcher = dispatch.Dispatcher[*buf.Buffer[Message]]

func msgKey(b *buf.Buffer[Message]) uint32 { return uint32(b.Data.MTI) }

// NewMsgDispatcher constructs a MsgDispatcher.
func NewMsgDispatcher() *MsgDispatcher {
	return dispatch.New(msgKey, dispatch.WithRefOnDeliver(func(b *buf.Buffer[Message]) { b.Ref() }))
}

// encodeNodeID writes id as a 6-byte big-endian node-id payload, the wire
// format of MTI_INITIALIZATION_COMPLETE (§6).
func encodeNodeID(id uint64) []byte {
	return []byte{
		byte(id >> 40), byte(id >> 32), byte(id >> 24),
		byte(id >> 16), byte(id >> 8), byte(id),
	}
}

// decodeNodeID reads a 6-byte big-endian node-id payload. ok is false if
// payload isn't exactly 6 bytes (§4.7: "a 6-byte payload whose decoded
// node-id equals our dst.id").
func decodeNodeID(payload []byte) (id uint64, ok bool) {
	if len(payload) != 6 {
		return 0, false
	}
	for _, b := range payload {
		id = id<<8 | uint64(b)
	}
	return id, true
}

// encodeErrorCode writes code as a 2-byte big-endian payload, the wire
// format of a MTI_DATAGRAM_REJECTED response (§6).
func encodeErrorCode(code uint16) []byte {
	return []byte{byte(code >> 8), byte(code)}
}
