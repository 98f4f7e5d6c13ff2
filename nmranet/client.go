package nmranet

import (
	"sync"

	"github.com/kennethlong/openmrn/buf"
	"github.com/kennethlong/openmrn/can"
	"github.com/kennethlong/openmrn/dispatch"
	"github.com/kennethlong/openmrn/executor"
)

// Client is the datagram client flow (C7): renders write_datagram's
// payload into a sequence of CAN frames, awaits a matching ack/nack (or
// reboot, or timeout), and reports the outcome via Result once the
// caller's buffer fires its done-notification.
//
// Grounded on CanDatagramClient in DatagramCan.cxx. Unlike the original,
// which derives from AddressedCanMessageWriteFlow and so inherits that
// base's own inbox, this Client is never queue-driven (§4.7's public
// contract is a direct method call, matching the original's comment that
// it "does not use the incoming queue... We skip the wait state"): it
// embeds executor.StateFlowBase directly and is started via WriteDatagram,
// not Send.
type Client struct {
	executor.StateFlowBase

	cfg        Config
	self       NodeHandle
	framePool  *buf.Pool[can.Frame]
	msgPool    *buf.Pool[Message]
	writeFlow  *can.WriteFlow
	dispatcher *MsgDispatcher
	resolver   AliasResolver
	local      LocalNodeRegistry
	owner      *ClientPool

	timer *executor.Timer

	msg      *buf.Buffer[Message]
	offset   int
	dstAlias uint16
	result   Result
	regs     []dispatch.Registration

	loopbackNode *LocalNode
	loopbackID   uint64
}

// NewClient constructs a Client transmitting as self, using framePool to
// render outbound CAN frames onto writeFlow, and registering response
// listeners on dispatcher. resolver and local are the out-of-scope
// node-discovery collaborators (§1); either may be nil (nil resolver
// means "only handles whose destination already carries an alias can be
// resolved"; nil local disables the loopback fast path, §3 supplemented
// features).
func NewClient(ex *executor.Executor, cfg Config, self NodeHandle, framePool *buf.Pool[can.Frame], msgPool *buf.Pool[Message], writeFlow *can.WriteFlow, dispatcher *MsgDispatcher, resolver AliasResolver, local LocalNodeRegistry) *Client {
	c := &Client{
		cfg:        cfg.withDefaults(),
		self:       self,
		framePool:  framePool,
		msgPool:    msgPool,
		writeFlow:  writeFlow,
		dispatcher: dispatcher,
		resolver:   resolver,
		local:      local,
	}
	c.timer = executor.NewTimer(c)
	c.Init(ex, c.idle)
	return c
}

// Result returns the outcome bit-set (§7). Valid once the caller's
// done-notification, armed via msg.SetDone before WriteDatagram, has
// fired.
func (c *Client) Result() Result { return c.result }

// WriteDatagram is the public contract (§4.7): b's MTI defaults to
// MTIDatagram if unset, b.Data.Dst must be set, and b.Data.Payload is
// 0..~72 bytes. On completion, Result() reports the outcome and b's
// done-notification (set via b.SetDone before calling WriteDatagram)
// fires exactly once.
func (c *Client) WriteDatagram(b *buf.Buffer[Message], priority uint) {
	if b.Data.MTI == 0 {
		b.Data.MTI = MTIDatagram
	}
	c.msg = b
	c.offset = 0
	c.dstAlias = 0
	c.result = ResultOperationPending
	c.SetPriority(priority)
	c.registerListener()
	c.StartFlow(c.resolveDst)
}

func (c *Client) idle() executor.Action { return executor.Wait() }

func (c *Client) resolveDst() executor.Action {
	dst := c.msg.Data.Dst
	if dst.HasAlias() {
		c.dstAlias = dst.Alias
		return executor.CallImmediately(c.afterResolve)
	}
	if c.resolver == nil {
		return executor.CallImmediately(c.afterResolve)
	}
	c.resolver.ResolveAsync(dst, c.cfg.ResponseTimeout, func(alias uint16, ok bool) {
		if ok {
			c.dstAlias = alias
		}
		c.Notify()
	})
	return c.WaitAndCall(c.afterResolve)
}

func (c *Client) afterResolve() executor.Action {
	if c.dstAlias == 0 {
		return executor.CallImmediately(c.dstNotFound)
	}
	if c.local != nil {
		if node, id, ok := c.local.LookupLocal(c.dstAlias); ok {
			c.loopbackNode = node
			c.loopbackID = id
			return executor.AllocateAndCall(&c.StateFlowBase, c.msgPool, c.sendToLocalNode)
		}
	}
	return executor.CallImmediately(c.getFrameBuffer)
}

func (c *Client) dstNotFound() executor.Action {
	c.result |= ResultPermanentError | ResultDstNotFound
	return executor.CallImmediately(c.finalise)
}

// sendToLocalNode is the loopback fast path (§3 supplemented feature,
// grounded on send_to_local_node/local_copy_allocated in DatagramCan.cxx):
// when the destination resolves to a node hosted on this core, the
// message is handed straight to the dispatcher instead of being framed
// onto the bus, then the flow still proceeds to sendFinished to await a
// DATAGRAM_OK/REJECTED response the same way a remote exchange would.
func (c *Client) sendToLocalNode() executor.Action {
	mb := executor.GetAllocationResult[Message](&c.StateFlowBase)
	mb.Data = c.msg.Data
	mb.Data.DstNode = c.loopbackNode
	if c.loopbackID != 0 {
		mb.Data.Dst.ID = c.loopbackID
	}
	mb.Data.Src = c.self
	c.dispatcher.Dispatch(mb)
	mb.Unref()
	return executor.CallImmediately(c.sendFinished)
}

func (c *Client) getFrameBuffer() executor.Action {
	return executor.AllocateAndCall(&c.StateFlowBase, c.framePool, c.fillAndSend)
}

// fillAndSend implements the frame-tagging encoding rule of §4.7.
func (c *Client) fillAndSend() executor.Action {
	fb := executor.GetAllocationResult[can.Frame](&c.StateFlowBase)

	payload := c.msg.Data.Payload
	remaining := len(payload) - c.offset
	var frameType uint32
	var dlc int
	switch {
	case remaining <= 8 && c.offset == 0:
		frameType, dlc = can.DatagramOneFrame, remaining
	case remaining <= 8:
		frameType, dlc = can.DatagramFinalFrame, remaining
	case c.offset == 0:
		frameType, dlc = can.DatagramFirstFrame, 8
	default:
		frameType, dlc = can.DatagramMiddleFrame, 8
	}

	fb.Data.ID = can.BuildID(can.NormalPriority, frameType, c.dstAlias, c.self.Alias)
	fb.Data.Extended = true
	fb.Data.DLC = uint8(dlc)
	copy(fb.Data.Data[:], payload[c.offset:c.offset+dlc])
	c.offset += dlc

	c.writeFlow.Send(fb, c.Priority())

	if c.offset < len(payload) {
		return executor.CallImmediately(c.getFrameBuffer)
	}
	return executor.CallImmediately(c.sendFinished)
}

func (c *Client) sendFinished() executor.Action {
	return c.SleepAndCall(c.timer, c.cfg.ResponseTimeout, c.timeoutWaitingForResponse)
}

// timeoutWaitingForResponse is re-entered either on true timer expiry or
// on the response listener's timer.Trigger(). §9 open question: only set
// PERMANENT_ERROR|TIMEOUT when no response bit is already present, since
// the listener may have fired at the same tick the timer expired.
func (c *Client) timeoutWaitingForResponse() executor.Action {
	const responseBits = ResultOperationSuccess | ResultPermanentError | ResultResendOK | ResultDstReboot
	if c.result&responseBits == 0 {
		c.result |= ResultPermanentError | ResultTimeout
	}
	return executor.CallImmediately(c.finalise)
}

func (c *Client) finalise() executor.Action {
	for _, r := range c.regs {
		c.dispatcher.Unregister(r)
	}
	c.regs = nil
	c.result &^= ResultOperationPending

	msg := c.msg
	c.msg = nil
	msg.FireDone()
	msg.Unref()

	if c.owner != nil {
		c.owner.Release(c)
	}
	return executor.CallImmediately(c.idle)
}

// registerListener registers the response listener under three (MTI,
// mask) filters (§4.7 step 2). Per §9's masking-trick caveat, a pair is
// registered under one combined mask only if the two MTIs differ in
// exactly one bit; otherwise each gets its own exact-match entry.
func (c *Client) registerListener() {
	h := dispatch.HandlerFunc[*buf.Buffer[Message]](func(b *buf.Buffer[Message]) {
		c.handleResponse(b.Data)
		b.Unref()
	})
	c.regs = c.regs[:0]
	regPair := func(a, b MTI) {
		if singleBitXOR(a, b) {
			mask := uint32(^(uint16(a) ^ uint16(b)))
			c.regs = append(c.regs, c.dispatcher.Register(h, uint32(a), mask))
			return
		}
		c.regs = append(c.regs,
			c.dispatcher.Register(h, uint32(a), 0xFFFF),
			c.dispatcher.Register(h, uint32(b), 0xFFFF),
		)
	}
	regPair(MTITerminateDueToError, MTIOptionalInteractionRejected)
	regPair(MTIDatagramOK, MTIDatagramRejected)
	c.regs = append(c.regs, c.dispatcher.Register(h, uint32(MTIInitializationComplete), 0xFFFF))
}

// handleResponse matches an inbound message against the outstanding
// datagram (§4.7 "Response matching") and, if it matches, updates result
// and wakes the main flow via timer.Trigger(). It runs under the
// dispatcher's call — i.e. on the executor thread, inside Dispatch — and
// per §4.7's concurrency note must never re-enter the main flow's state
// function directly.
func (c *Client) handleResponse(m Message) {
	if m.MTI == MTIInitializationComplete {
		id, ok := decodeNodeID(m.Payload)
		if !ok {
			return
		}
		if id == c.msg.Data.Dst.ID {
			c.result |= ResultDstReboot
			c.timer.Trigger()
		}
		return
	}

	if !c.responseMatchesDst(m) {
		if c.cfg.Log != nil {
			c.cfg.Log.Debug().Uint64("dst_id", m.Dst.ID).Log("response: wrong dst")
		}
		return
	}
	if !c.responseMatchesSrc(m) {
		if c.cfg.Log != nil {
			c.cfg.Log.Debug().Uint64("src_id", m.Src.ID).Log("response: wrong src")
		}
		return
	}

	switch m.MTI {
	case MTITerminateDueToError, MTIOptionalInteractionRejected:
		if len(m.Payload) >= 4 {
			rejectedMTI := MTI(uint16(m.Payload[2])<<8 | uint16(m.Payload[3]))
			if rejectedMTI != MTIDatagram {
				return
			}
		}
		fallthrough
	case MTIDatagramRejected:
		var code uint16
		if len(m.Payload) >= 2 {
			code = uint16(m.Payload[0])<<8 | uint16(m.Payload[1])
		}
		c.result = c.result&^ErrorCodeMask | Result(code)
		if code == OutOfOrder {
			c.result |= ResultResendOK
		}
		if !c.result.Has(ResultPermanentError) && !c.result.Has(ResultResendOK) {
			c.result |= ResultPermanentError
		}
	case MTIDatagramOK:
		if len(m.Payload) > 0 {
			c.result = c.result.WithResponseFlags(m.Payload[0])
		}
		c.result |= ResultOperationSuccess
	default:
		return
	}
	c.timer.Trigger()
}

func (c *Client) responseMatchesDst(m Message) bool {
	if m.Dst.HasID() {
		return m.Dst.ID == c.self.ID
	}
	return m.Dst.Alias == c.self.Alias
}

func (c *Client) responseMatchesSrc(m Message) bool {
	if m.Src.HasID() && c.msg.Data.Dst.HasID() {
		return m.Src.ID == c.msg.Data.Dst.ID
	}
	if m.Src.HasAlias() {
		return m.Src.Alias == c.dstAlias
	}
	return false
}

// ClientPool hands out a fixed set of preallocated Clients (mirroring
// CanDatagramService's client_allocator(), which preallocates num_clients
// CanDatagramClient flows rather than constructing one per datagram).
type ClientPool struct {
	mu      sync.Mutex
	free    []*Client
	waiters []func(*Client)
}

// NewClientPool preallocates n Clients via newClient.
func NewClientPool(n int, newClient func() *Client) *ClientPool {
	p := &ClientPool{}
	for i := 0; i < n; i++ {
		c := newClient()
		c.owner = p
		p.free = append(p.free, c)
	}
	return p
}

// AllocAsync hands a free Client to cb, synchronously if one is idle,
// otherwise once one is Released.
func (p *ClientPool) AllocAsync(cb func(*Client)) {
	p.mu.Lock()
	if n := len(p.free); n > 0 {
		c := p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
		p.mu.Unlock()
		cb(c)
		return
	}
	p.waiters = append(p.waiters, cb)
	p.mu.Unlock()
}

// Release returns c to the pool, or hands it directly to the oldest
// waiter. Called automatically once c finalises a write_datagram it
// started via this pool.
func (p *ClientPool) Release(c *Client) {
	p.mu.Lock()
	if n := len(p.waiters); n > 0 {
		cb := p.waiters[0]
		p.waiters[0] = nil
		p.waiters = p.waiters[1:]
		p.mu.Unlock()
		cb(c)
		return
	}
	p.free = append(p.free, c)
	p.mu.Unlock()
}
