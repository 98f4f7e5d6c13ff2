package executor

import (
	"sync"

	"github.com/kennethlong/openmrn/pqueue"
)

// Releasable is satisfied by anything a QueueFlowBase can hold as its
// current message and later release: buf.Buffer[T] for any T.
type Releasable interface {
	Unref()
}

// QueueFlowBase adds an inbox to StateFlowBase (C2 integrated with C4):
// wait_for_message is the implicit initial state, popping the next
// message under lock and transitioning to Entry; send() inserts under the
// same lock and wakes the flow if it was idle.
type QueueFlowBase[M Releasable] struct {
	StateFlowBase

	mu              sync.Mutex
	inbox           *pqueue.Queue[M]
	waiting         bool
	hasMessage      bool
	currentMessage  M
	currentPriority uint

	// Entry is the concrete flow's first real state once a message has
	// been dequeued; set once by the concrete flow's constructor.
	Entry State
}

// InitQueue binds the flow to ex, allocates numBands inbox priority bands,
// and sets the flow's initial state to its own wait-for-message loop. The
// flow starts idle with an empty inbox rather than scheduled, so waiting
// starts true: a Send arriving before the flow has ever run must still
// wake it (invariant 2, on_executor_queue(F) iff not waiting).
func (f *QueueFlowBase[M]) InitQueue(ex *Executor, numBands int) {
	f.inbox = pqueue.New[M](numBands)
	f.waiting = true
	f.StateFlowBase.Init(ex, f.waitForMessage)
}

func (f *QueueFlowBase[M]) waitForMessage() Action {
	f.mu.Lock()
	item, pri, ok := f.inbox.Next()
	if !ok {
		f.waiting = true
		f.mu.Unlock()
		return Wait()
	}
	f.mu.Unlock()

	f.currentMessage = item
	f.hasMessage = true
	f.currentPriority = pri
	f.SetPriority(pri)
	return CallImmediately(f.Entry)
}

// Send inserts item into the inbox at priority, waking the flow if it was
// idle. Safe to call from any context, including a driver's interrupt
// handler, matching §5's "send() acquires this lock; interrupt handlers
// that call send() do so under the driver's critical section".
func (f *QueueFlowBase[M]) Send(item M, priority uint) {
	f.mu.Lock()
	f.inbox.Insert(item, priority)
	wake := f.waiting
	if wake {
		f.waiting = false
	}
	f.mu.Unlock()
	if wake {
		f.Notify()
	}
}

// IsWaiting reports whether the flow is idle with an empty inbox —
// on_executor_queue(F) ⇒ ¬isWaiting and vice versa (invariant 2) holds as
// long as every caller goes through Send/Notify rather than mutating these
// fields directly.
func (f *QueueFlowBase[M]) IsWaiting() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.waiting
}

// Message returns the flow's current message, owned exclusively by the
// flow between wait_for_message and release.
func (f *QueueFlowBase[M]) Message() M { return f.currentMessage }

// MessagePriority returns the priority the current message was sent at.
func (f *QueueFlowBase[M]) MessagePriority() uint { return f.currentPriority }

// Exit returns to the inbox-wait state.
func (f *QueueFlowBase[M]) Exit() Action {
	return CallImmediately(f.waitForMessage)
}

// Release unrefs the current message, if any, without changing state.
func (f *QueueFlowBase[M]) Release() {
	if f.hasMessage {
		f.currentMessage.Unref()
		f.hasMessage = false
		var zero M
		f.currentMessage = zero
	}
}

// ReleaseAndExit unrefs the current message then returns to
// wait_for_message.
func (f *QueueFlowBase[M]) ReleaseAndExit() Action {
	f.Release()
	return f.Exit()
}
