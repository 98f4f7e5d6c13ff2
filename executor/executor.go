package executor

import (
	"context"
	"sync"

	"github.com/kennethlong/openmrn/pqueue"
)

// DefaultPriority is used for flows that don't otherwise track a
// message-derived priority (e.g. the CAN read flow, which isn't fed by a
// message queue of its own).
const DefaultPriority = 3

// Runnable is anything the executor can run: every StateFlowBase
// (embedded in every flow type in this repository) satisfies it. The
// executor keys its scheduled set on the Runnable value, so its dynamic
// type must be comparable (a pointer, as *StateFlowBase is); scheduling a
// func-typed Runnable panics.
type Runnable interface {
	Run()
}

// Executor is the single-threaded cooperative run loop (C3). It owns a
// priority queue of runnable flows and blocks on a condition variable,
// signalled by Notify from any flow or from another goroutine standing in
// for an interrupt handler, when nothing is runnable.
//
// Invariants enforced here: at most one flow's Run executes at a time (Run
// never invokes two flows' Run methods concurrently); a flow is on the
// run queue at most once at any time (the scheduled set below); Schedule
// is idempotent.
type Executor struct {
	mu        sync.Mutex
	cond      *sync.Cond
	runQueue  *pqueue.Queue[Runnable]
	scheduled map[Runnable]bool
	stopping  bool
}

// New constructs an Executor with numBands priority bands for its run
// queue.
func New(numBands int) *Executor {
	e := &Executor{
		runQueue:  pqueue.New[Runnable](numBands),
		scheduled: make(map[Runnable]bool),
	}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// Schedule enqueues r to run at priority if it isn't already scheduled.
func (e *Executor) Schedule(r Runnable, priority uint) {
	e.mu.Lock()
	if e.scheduled[r] {
		e.mu.Unlock()
		return
	}
	e.scheduled[r] = true
	e.runQueue.Insert(r, priority)
	e.mu.Unlock()
	e.cond.Signal()
}

// Run pumps the executor loop until ctx is cancelled or Stop is called.
// It is not reentrant: only one goroutine may call Run on a given
// Executor.
func (e *Executor) Run(ctx context.Context) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			e.Stop()
		case <-done:
		}
	}()

	for {
		e.mu.Lock()
		for e.runQueue.Empty() && !e.stopping {
			e.cond.Wait()
		}
		if e.stopping && e.runQueue.Empty() {
			e.mu.Unlock()
			return
		}
		r, _, _ := e.runQueue.Next()
		delete(e.scheduled, r)
		e.mu.Unlock()

		r.Run()
	}
}

// Stop asks Run to return once the run queue drains. Already-running or
// already-scheduled flows still execute.
func (e *Executor) Stop() {
	e.mu.Lock()
	e.stopping = true
	e.mu.Unlock()
	e.cond.Broadcast()
}

// PendingCount reports how many flows are currently scheduled to run, for
// tests and diagnostics.
func (e *Executor) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runQueue.Len()
}
