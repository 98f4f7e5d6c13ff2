// Package can implements the CAN frame wire format (§6), the driver
// contract consumed from the (out of scope) character-device driver, and
// the write/read flows that move Buffer[Frame] values between the inbox
// and the driver (C6).
package can

// Frame is a single CAN frame: up to 8 bytes of payload tagged with a
// 29-bit extended identifier (11-bit standard frames are representable
// but unused by this protocol).
type Frame struct {
	ID       uint32
	Extended bool
	DLC      uint8
	Data     [8]byte
}

// Bit layout of the 29-bit extended identifier used by every frame this
// protocol emits (§6, high to low):
//
//	bits 28-27: priority field
//	bits 26-24: frame-type field (also the datagram CAN-frame-subtype)
//	bits 23-12: destination alias (12 bits)
//	bits 11-0:  source alias (12 bits)
const (
	PriorityShift = 27
	PriorityBits  = 2
	PriorityMask  = uint32(1<<PriorityBits-1) << PriorityShift

	FrameTypeShift = 24
	FrameTypeBits  = 3
	FrameTypeMask  = uint32(1<<FrameTypeBits-1) << FrameTypeShift

	DstShift = 12
	DstBits  = 12
	DstMask  = uint32(1<<DstBits-1) << DstShift

	SrcShift = 0
	SrcBits  = 12
	SrcMask  = uint32(1<<SrcBits-1) << SrcShift
)

// NormalPriority is the only priority value this protocol uses.
const NormalPriority = 3

// Datagram CAN-frame subtypes, carried in the frame-type field (§4.7).
const (
	DatagramOneFrame    = 2
	DatagramFirstFrame  = 3
	DatagramMiddleFrame = 4
	DatagramFinalFrame  = 5
)

// DatagramPrefix is the fixed prefix of outbound datagram CAN-IDs with
// priority=NormalPriority and frame-type=DatagramOneFrame already set; it
// equals NormalPriority<<PriorityShift | DatagramOneFrame<<FrameTypeShift.
const DatagramPrefix = uint32(NormalPriority)<<PriorityShift | uint32(DatagramOneFrame)<<FrameTypeShift

// BuildID composes a 29-bit extended CAN-ID from its fields.
func BuildID(priority, frameType uint32, dstAlias, srcAlias uint16) uint32 {
	id := (priority << PriorityShift) & PriorityMask
	id |= (frameType << FrameTypeShift) & FrameTypeMask
	id |= (uint32(dstAlias) << DstShift) & DstMask
	id |= uint32(srcAlias) & SrcMask
	return id
}

// Priority extracts the priority field from a CAN-ID.
func Priority(id uint32) uint32 { return (id & PriorityMask) >> PriorityShift }

// FrameType extracts the frame-type / datagram-subtype field from a
// CAN-ID.
func FrameType(id uint32) uint32 { return (id & FrameTypeMask) >> FrameTypeShift }

// DstAlias extracts the destination alias from a CAN-ID.
func DstAlias(id uint32) uint16 { return uint16((id & DstMask) >> DstShift) }

// SrcAlias extracts the source alias from a CAN-ID.
func SrcAlias(id uint32) uint16 { return uint16(id & SrcMask) }

// RoutingKey returns the (dst, src) bits of id, used as the parser's
// pending-map key (§4.8: "buffer key = id & (DST_MASK | SRC_MASK)").
func RoutingKey(id uint32) uint32 { return id & (DstMask | SrcMask) }
