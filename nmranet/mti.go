// Package nmranet implements the node-to-node protocol layer that rides
// on top of the CAN frame engine: message and node-handle types, the
// datagram client flow (C7) that renders and tracks an outbound datagram,
// and the datagram parser flow (C8) that reassembles inbound frames and
// delivers completed datagrams to the local message dispatcher (C5).
package nmranet

// MTI is a 16-bit protocol opcode (§6).
type MTI uint16

// MTIs consumed or produced by the datagram engine. Numeric values follow
// the real protocol's general numbering scheme but are not claimed to be
// bit-exact with any particular revision; what matters for this engine is
// the relationship between pairs used together in §9's masking trick,
// which is verified explicitly in mti_test.go rather than assumed.
const (
	MTIInitializationComplete      MTI = 0x0100
	MTITerminateDueToError         MTI = 0x00A8
	MTIOptionalInteractionRejected MTI = 0x0068
	MTIDatagram                    MTI = 0x1C48
	MTIDatagramOK                  MTI = 0x0A28
	MTIDatagramRejected            MTI = 0x0A68
)

// singleBitXOR reports whether a and b differ in exactly one bit, the
// precondition for registering them together under a single (mti, mask)
// entry using mask = ~(a^b) (§9: "Implementers must verify that this is
// true for the MTI constants they use, and otherwise register two
// separate (mti, exact-mask) entries").
func singleBitXOR(a, b MTI) bool {
	d := uint16(a) ^ uint16(b)
	return d != 0 && d&(d-1) == 0
}
