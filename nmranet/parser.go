package nmranet

import (
	"time"

	"github.com/kennethlong/openmrn/buf"
	"github.com/kennethlong/openmrn/can"
	"github.com/kennethlong/openmrn/executor"
)

// pendingEntry is one in-flight reassembly: the bytes accumulated so far
// and when the FIRST_FRAME that opened it arrived, used by reapOlderThan
// to evict an abandoned sequence (§3 supplemented feature, reaper.go).
type pendingEntry struct {
	payload []byte
	created time.Time
}

// Parser is the datagram parser flow (C8): reassembles inbound datagram
// fragments addressed to a locally hosted node and dispatches the
// completed message, or rejects a malformed sequence.
//
// Grounded on CanDatagramParser::entry() in DatagramCan.cxx. It implements
// dispatch.Handler so a ReadFlow's CAN-ID dispatcher can deliver frames to
// it directly; Handle re-enqueues onto the flow's own inbox (QueueFlowBase,
// safe from any context per §5) rather than running inline on the read
// flow's call stack, preserving the original's separate-service-flow
// structure.
type Parser struct {
	executor.QueueFlowBase[*buf.Buffer[can.Frame]]

	cfg        Config
	local      LocalNodeRegistry
	sender     AddressedSender
	msgPool    *buf.Pool[Message]
	dispatcher *MsgDispatcher
	srcIDs     AliasRegistry

	pending map[uint32]*pendingEntry

	// Fields carrying a completed sequence from classify to
	// datagramComplete, across the AllocateAndCall suspension point.
	assembled []byte
	dstAlias  uint16
	srcAlias  uint16
	dstID     uint64
	dstNode   *LocalNode
}

// NewParser constructs a Parser. local resolves a destination alias to a
// locally hosted node (§4.8 step 3); sender emits DATAGRAM_REJECTED
// responses (step 6); srcIDs resolves the completed message's source alias
// to a node-id, trying a remote registry before falling back to a local
// one (step 7) — typically a RemoteThenLocal.
func NewParser(ex *executor.Executor, cfg Config, local LocalNodeRegistry, sender AddressedSender, msgPool *buf.Pool[Message], dispatcher *MsgDispatcher, srcIDs AliasRegistry, numBands int) *Parser {
	p := &Parser{
		cfg:        cfg.withDefaults(),
		local:      local,
		sender:     sender,
		msgPool:    msgPool,
		dispatcher: dispatcher,
		srcIDs:     srcIDs,
		pending:    make(map[uint32]*pendingEntry),
	}
	p.Entry = p.classify
	p.InitQueue(ex, numBands)
	return p
}

// Handle implements dispatch.Handler[*buf.Buffer[can.Frame]], the entry
// point a CAN-ID-keyed dispatcher (§4.6) calls frames in on.
func (p *Parser) Handle(b *buf.Buffer[can.Frame]) { p.Send(b, can.NormalPriority) }

// FilterKeyMask returns the (key, mask) to register Parser.Handle under on
// a CAN-ID dispatcher (§4.8 "Input filter"): priority=NormalPriority, any
// frame-type/dst/src. The frame-type field doubles as the datagram
// CAN-frame-subtype (§6), so the 2-5 range check that actually selects
// datagram frames happens inside classify, not at the dispatcher.
func FilterKeyMask() (key, mask uint32) {
	return can.BuildID(can.NormalPriority, 0, 0, 0), can.PriorityMask
}

// classify implements the per-frame reassembly algorithm of §4.8 steps
// 1-5: validate the CAN-frame-subtype, resolve the destination to a local
// node, accumulate or reject, and on a completed sequence move on to
// datagramComplete.
func (p *Parser) classify() executor.Action {
	fb := p.Message()
	id := fb.Data.ID
	subtype := can.FrameType(id)
	if subtype < can.DatagramOneFrame || subtype > can.DatagramFinalFrame {
		if p.cfg.Log != nil {
			p.cfg.Log.Debug().Int("subtype", int(subtype)).Log("dropped frame: not a datagram subtype")
		}
		return p.ReleaseAndExit()
	}

	dstAlias := can.DstAlias(id)
	srcAlias := can.SrcAlias(id)
	key := can.RoutingKey(id)

	node, nodeID, ok := p.local.LookupLocal(dstAlias)
	if !ok {
		if p.cfg.Log != nil {
			p.cfg.Log.Debug().Int("dst_alias", int(dstAlias)).Log("dropped frame: destination not local")
		}
		return p.ReleaseAndExit()
	}

	var target *[]byte
	var last bool
	var errCode uint16

	switch subtype {
	case can.DatagramOneFrame:
		p.assembled = p.assembled[:0]
		target = &p.assembled
		last = true

	case can.DatagramFirstFrame:
		if _, exists := p.pending[key]; exists {
			delete(p.pending, key)
			errCode = OutOfOrder
			break
		}
		e := &pendingEntry{created: time.Now()}
		p.pending[key] = e
		target = &e.payload

	case can.DatagramMiddleFrame:
		e, exists := p.pending[key]
		if !exists {
			errCode = OutOfOrder
			break
		}
		target = &e.payload

	case can.DatagramFinalFrame:
		e, exists := p.pending[key]
		if !exists {
			errCode = OutOfOrder
			break
		}
		delete(p.pending, key)
		p.assembled = e.payload
		target = &p.assembled
		last = true
	}

	dlc := int(fb.Data.DLC)
	if errCode == 0 && len(*target)+dlc > MaxDatagramPayload {
		errCode = PermanentErrorCode
		delete(p.pending, key)
	}

	if errCode != 0 {
		p.reject(nodeID, dstAlias, srcAlias, errCode)
		fb.Unref()
		return p.Exit()
	}

	*target = append(*target, fb.Data.Data[:dlc]...)
	fb.Unref()

	if !last {
		return p.Exit()
	}

	p.dstAlias = dstAlias
	p.srcAlias = srcAlias
	p.dstID = nodeID
	p.dstNode = node
	return executor.AllocateAndCall(&p.StateFlowBase, p.msgPool, p.datagramComplete)
}

// reject sends a DATAGRAM_REJECTED response carrying code (§4.8 step 6).
func (p *Parser) reject(dstID uint64, dstAlias, srcAlias uint16, code uint16) {
	if p.sender != nil {
		p.sender.Send(Message{
			MTI:     MTIDatagramRejected,
			Src:     NodeHandle{ID: dstID, Alias: dstAlias},
			Dst:     NodeHandle{Alias: srcAlias},
			Payload: encodeErrorCode(code),
		}, p.MessagePriority())
	}
	if p.cfg.Log != nil {
		p.cfg.Log.Warning().
			Uint64("dst_id", dstID).
			Int("src_alias", int(srcAlias)).
			Int("error_code", int(code)).
			Log("rejected inbound datagram")
	}
}

// datagramComplete fills the buffer allocated for the reassembled message,
// dispatches it (§4.8 step 7), and returns to wait_for_message.
func (p *Parser) datagramComplete() executor.Action {
	mb := executor.GetAllocationResult[Message](&p.StateFlowBase)
	mb.Data = Message{
		MTI:     MTIDatagram,
		Src:     NodeHandle{ID: p.srcIDLookup(), Alias: p.srcAlias},
		Dst:     NodeHandle{ID: p.dstID, Alias: p.dstAlias},
		DstNode: p.dstNode,
		Payload: p.assembled,
	}
	p.assembled = nil
	p.dstNode = nil
	p.dispatcher.Dispatch(mb)
	mb.Unref()
	return p.Exit()
}

func (p *Parser) srcIDLookup() uint64 {
	if p.srcIDs == nil {
		return 0
	}
	return p.srcIDs.Lookup(p.srcAlias)
}

// reapOlderThan evicts pending entries whose FIRST_FRAME arrived more than
// maxAge ago (§3 supplemented feature). Safe to call from another flow on
// the same executor: the cooperative run-to-completion guarantee (§5)
// means it never runs interleaved with classify.
func (p *Parser) reapOlderThan(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)
	for key, e := range p.pending {
		if e.created.Before(cutoff) {
			delete(p.pending, key)
			if p.cfg.Log != nil {
				p.cfg.Log.Warning().Uint64("key", uint64(key)).Log("reaped abandoned datagram fragment")
			}
		}
	}
}
