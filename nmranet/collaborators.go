package nmranet

import "time"

// The collaborators below are the external interfaces spec.md §1 calls
// out as out-of-scope ("Alias allocation, node discovery, addressed-message
// write flow internals — only their interfaces are assumed"). The client
// and parser flows in this package depend only on these narrow contracts;
// a full node/event/configuration layer implements them.

// AliasResolver resolves a destination node handle to its current CAN
// alias, asynchronously. ResolveAsync must invoke done exactly once,
// either synchronously (if already known) or later from any context —
// the same allocate-then-notify shape as buf.Pool.AllocAsync. ok is false
// if dst could not be resolved before timeout elapses (§4.7 step 1: "may
// block on alias lookup; on timeout, result = PERMANENT_ERROR |
// DST_NOT_FOUND").
type AliasResolver interface {
	ResolveAsync(dst NodeHandle, timeout time.Duration, done func(alias uint16, ok bool))
}

// AddressedSender transmits a short, single-frame addressed protocol
// message — used by the parser to emit a DATAGRAM_REJECTED response
// (§4.8 step 6). Per §7 ("Allocation and send primitives never fail from
// the core's perspective"), Send never reports failure to its caller.
type AddressedSender interface {
	Send(msg Message, priority uint)
}

// LocalNodeRegistry answers whether an alias names a node hosted on this
// core, and if so which one (§4.8 step 3: "Resolve destination node: look
// up dst-alias -> node-id in the local-alias registry; if not present, or
// node-id not a local node, drop").
type LocalNodeRegistry interface {
	LookupLocal(alias uint16) (node *LocalNode, id uint64, ok bool)
}

// AliasRegistry translates an alias to a node-id for the src-id fallback
// resolution of an assembled inbound datagram (§4.8 step 7: "src.id
// filled by remote-alias lookup with fallback to local-alias lookup").
// Lookup returns 0 if alias is unknown.
type AliasRegistry interface {
	Lookup(alias uint16) uint64
}

// RemoteThenLocal composes a remote and a local AliasRegistry, trying
// Remote first and falling back to Local, exactly matching the fallback
// order in DatagramCan.cxx's datagram_complete.
type RemoteThenLocal struct {
	Remote AliasRegistry
	Local  AliasRegistry
}

// Lookup implements AliasRegistry.
func (r RemoteThenLocal) Lookup(alias uint16) uint64 {
	if alias == 0 {
		return 0
	}
	if r.Remote != nil {
		if id := r.Remote.Lookup(alias); id != 0 {
			return id
		}
	}
	if r.Local != nil {
		return r.Local.Lookup(alias)
	}
	return 0
}
