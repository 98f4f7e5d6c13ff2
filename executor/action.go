// Package executor implements the cooperative state-flow runtime (C3/C4):
// a single-threaded run loop that pumps runnable flows, a timer facility
// flows arm themselves with, and the StateFlowBase/QueueFlowBase types
// every protocol handler in this repository embeds.
//
// This is grounded on src/executor/StateFlow.hxx from the original
// implementation for the action vocabulary and run-to-wait semantics, and
// on the teacher's eventloop package (state.go for an atomic run-state,
// loop.go for the single run-loop-blocks-on-a-condition-variable shape)
// for the Go-idiomatic executor loop itself.
package executor

import (
	"time"

	"github.com/kennethlong/openmrn/buf"
)

// State is a flow's current state: a bound method value standing in for
// the original's member-function pointer. Go method values close over
// their receiver, so a State already carries "which flow instance" the way
// a this-adjusted member pointer would in C++.
type State func() Action

// kind tags the handful of run-loop-visible outcomes. Every action that
// also performs a state transition (WaitAndCall, YieldAndCall,
// SleepAndCall, AllocateAndCall, Exit, ReleaseAndExit) applies that
// transition eagerly when constructed and surfaces to Run as either
// kindCallImmediately or kindWait; Run itself only ever needs to
// distinguish four things.
type kind uint8

const (
	kindAgain kind = iota
	kindCallImmediately
	kindWait
	kindDelete
)

// Action is the control-flow token a state function returns.
type Action struct {
	kind  kind
	state State
}

// Again re-enters the current state on the next run.
func Again() Action { return Action{kind: kindAgain} }

// CallImmediately sets the next state and runs it in the same executor
// slot, without yielding to the scheduler.
func CallImmediately(next State) Action {
	return Action{kind: kindCallImmediately, state: next}
}

// Wait suspends the flow; only a future Notify resumes it.
func Wait() Action { return Action{kind: kindWait} }

// Delete terminates the flow. The runtime must not touch the flow object
// after Run returns following a Delete action.
func Delete() Action { return Action{kind: kindDelete} }

// WaitAndCall sets the flow's state to next, then waits.
func (f *StateFlowBase) WaitAndCall(next State) Action {
	f.state = next
	return Wait()
}

// YieldAndCall sets the flow's state to next, re-schedules the flow at its
// current priority, and returns control to the executor.
func (f *StateFlowBase) YieldAndCall(next State) Action {
	f.state = next
	f.Notify()
	return Wait()
}

// SleepAndCall arms timer for d, sets the flow's state to next, and waits;
// when the timer fires it notifies the flow, resuming it in next.
func (f *StateFlowBase) SleepAndCall(timer *Timer, d time.Duration, next State) Action {
	f.state = next
	timer.Start(d)
	return Wait()
}

// AllocateAndCall starts an asynchronous allocation from pool, sets the
// flow's state to next, and waits; on allocation the buffer is available
// via GetAllocationResult(f) when next runs.
//
// Go methods cannot introduce their own type parameters, so unlike the
// other Action constructors this one is a free function parameterised by
// the buffer's payload type.
func AllocateAndCall[T any](f *StateFlowBase, pool *buf.Pool[T], next State) Action {
	pool.AllocAsync(func(b *buf.Buffer[T]) {
		f.allocResult = b
		f.Notify()
	})
	return f.WaitAndCall(next)
}

// GetAllocationResult retrieves the buffer delivered by a prior
// AllocateAndCall. It panics if no allocation of type T is pending, which
// indicates a programming error (calling it from the wrong state).
func GetAllocationResult[T any](f *StateFlowBase) *buf.Buffer[T] {
	b, ok := f.allocResult.(*buf.Buffer[T])
	if !ok {
		panic("executor: GetAllocationResult called with no matching pending allocation")
	}
	f.allocResult = nil
	return b
}
