package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kennethlong/openmrn/buf"
)

// countingFlow runs a fixed number of CallImmediately steps, then waits for
// an external Notify, recording every step it took.
type countingFlow struct {
	StateFlowBase

	mu    sync.Mutex
	steps []string
	done  chan struct{}
}

func newCountingFlow(ex *Executor) *countingFlow {
	f := &countingFlow{done: make(chan struct{})}
	f.Init(ex, f.first)
	return f
}

func (f *countingFlow) record(s string) {
	f.mu.Lock()
	f.steps = append(f.steps, s)
	f.mu.Unlock()
}

func (f *countingFlow) first() Action {
	f.record("first")
	return CallImmediately(f.second)
}

func (f *countingFlow) second() Action {
	f.record("second")
	return f.WaitAndCall(f.third)
}

func (f *countingFlow) third() Action {
	f.record("third")
	close(f.done)
	return Delete()
}

func TestStateFlow_CallImmediatelyChainsWithoutRescheduling(t *testing.T) {
	ex := New(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ex.Run(ctx)

	f := newCountingFlow(ex)
	f.StartFlow(f.first)

	// second waits; the external Notify below is what lets the flow reach third.
	deadline := time.Now().Add(time.Second)
	for {
		f.mu.Lock()
		n := len(f.steps)
		f.mu.Unlock()
		if n >= 2 || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}
	f.Notify()

	select {
	case <-f.done:
	case <-time.After(time.Second):
		t.Fatal("flow never reached its terminal state")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, []string{"first", "second", "third"}, f.steps)
}

// yieldingFlow exercises YieldAndCall: it must actually pass back through
// the executor's scheduler rather than looping inline.
type yieldingFlow struct {
	StateFlowBase
	calls int
	done  chan struct{}
}

func newYieldingFlow(ex *Executor) *yieldingFlow {
	f := &yieldingFlow{done: make(chan struct{})}
	f.Init(ex, f.loop)
	return f
}

func (f *yieldingFlow) loop() Action {
	f.calls++
	if f.calls < 3 {
		return f.YieldAndCall(f.loop)
	}
	close(f.done)
	return Delete()
}

func TestStateFlow_YieldAndCallReschedules(t *testing.T) {
	ex := New(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ex.Run(ctx)

	f := newYieldingFlow(ex)
	f.StartFlow(f.loop)

	select {
	case <-f.done:
	case <-time.After(time.Second):
		t.Fatal("yielding flow never completed")
	}
	assert.Equal(t, 3, f.calls)
}

// sleeperFlow exercises SleepAndCall/Timer end to end.
type sleeperFlow struct {
	StateFlowBase
	timer   *Timer
	woke    time.Time
	started time.Time
	done    chan struct{}
}

func newSleeperFlow(ex *Executor) *sleeperFlow {
	f := &sleeperFlow{done: make(chan struct{})}
	f.timer = NewTimer(f)
	f.Init(ex, f.sleep)
	return f
}

func (f *sleeperFlow) sleep() Action {
	f.started = time.Now()
	return f.SleepAndCall(f.timer, 20*time.Millisecond, f.awake)
}

func (f *sleeperFlow) awake() Action {
	f.woke = time.Now()
	close(f.done)
	return Delete()
}

func TestStateFlow_SleepAndCallWaitsTheTimerDuration(t *testing.T) {
	ex := New(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ex.Run(ctx)

	f := newSleeperFlow(ex)
	f.StartFlow(f.sleep)

	select {
	case <-f.done:
	case <-time.After(time.Second):
		t.Fatal("sleeper flow never woke up")
	}
	assert.GreaterOrEqual(t, f.woke.Sub(f.started), 15*time.Millisecond)
}

// allocFlow exercises AllocateAndCall/GetAllocationResult end to end.
type allocFlow struct {
	StateFlowBase
	pool *buf.Pool[int]
	got  int
	done chan struct{}
}

func newAllocFlow(ex *Executor, pool *buf.Pool[int]) *allocFlow {
	f := &allocFlow{pool: pool, done: make(chan struct{})}
	f.Init(ex, f.alloc)
	return f
}

func (f *allocFlow) alloc() Action {
	return AllocateAndCall(&f.StateFlowBase, f.pool, f.onAlloc)
}

func (f *allocFlow) onAlloc() Action {
	b := GetAllocationResult[int](&f.StateFlowBase)
	f.got = b.Data
	b.Unref()
	close(f.done)
	return Delete()
}

func TestStateFlow_AllocateAndCallDeliversABuffer(t *testing.T) {
	ex := New(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ex.Run(ctx)

	pool := buf.NewPool[int](nil)
	f := newAllocFlow(ex, pool)
	f.StartFlow(f.alloc)

	select {
	case <-f.done:
	case <-time.After(time.Second):
		t.Fatal("alloc flow never completed")
	}
	assert.Equal(t, 0, f.got)
}

func TestExecutor_ScheduleIsIdempotentWhileAlreadyQueued(t *testing.T) {
	ex := New(4)

	blocker := make(chan struct{})
	r := RunnableFunc(func() { <-blocker })
	ex.Schedule(&r, 1)
	ex.Schedule(&r, 1)
	assert.Equal(t, 1, ex.PendingCount())
	close(blocker)
}

// RunnableFunc adapts a plain function to Runnable for scheduler-level tests
// that don't need a full StateFlowBase. Run has a pointer receiver so that
// *RunnableFunc, unlike a bare func value, is comparable and can key the
// executor's scheduled set.
type RunnableFunc func()

func (f *RunnableFunc) Run() { (*f)() }

func TestExecutor_StopDrainsRunQueueBeforeReturning(t *testing.T) {
	ex := New(4)
	ranCh := make(chan struct{})
	ran := RunnableFunc(func() { close(ranCh) })
	ex.Schedule(&ran, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan struct{})
	go func() {
		ex.Run(ctx)
		close(runDone)
	}()

	select {
	case <-ranCh:
	case <-time.After(time.Second):
		t.Fatal("scheduled runnable never ran")
	}

	ex.Stop()
	select {
	case <-runDone:
	case <-time.After(time.Second):
		t.Fatal("Run never returned after Stop")
	}
}

func TestQueueFlow_SendWakesAFlowThatHasNeverRun(t *testing.T) {
	ex := New(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ex.Run(ctx)

	qf := &testQueueFlow{received: make(chan *buf.Buffer[int], 1)}
	qf.Entry = qf.handle
	qf.InitQueue(ex, 4)

	// No StartFlow call: every concrete queue flow in this repository (e.g.
	// can.WriteFlow, nmranet.Parser) relies on InitQueue alone making the
	// flow responsive to Send, never scheduling itself up front.
	pool := buf.NewPool[int](nil)
	b := pool.Alloc()
	b.Data = 7
	qf.Send(b, 2)

	select {
	case got := <-qf.received:
		assert.Equal(t, 7, got.Data)
		got.Unref()
	case <-time.After(time.Second):
		t.Fatal("queue flow never handled the sent message")
	}
}

func TestQueueFlow_SendBeforeFirstRunIsNotLost(t *testing.T) {
	ex := New(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ex.Run(ctx)

	qf := &testQueueFlow{received: make(chan *buf.Buffer[int], 2)}
	qf.Entry = qf.handle
	qf.InitQueue(ex, 4)

	pool := buf.NewPool[int](nil)
	a := pool.Alloc()
	a.Data = 1
	b := pool.Alloc()
	b.Data = 2
	qf.Send(a, 2)
	qf.Send(b, 2)

	for _, want := range []int{1, 2} {
		select {
		case got := <-qf.received:
			assert.Equal(t, want, got.Data)
			got.Unref()
		case <-time.After(time.Second):
			t.Fatal("queue flow never handled both sent messages")
		}
	}
}

type testQueueFlow struct {
	QueueFlowBase[*buf.Buffer[int]]
	received chan *buf.Buffer[int]
}

func (f *testQueueFlow) handle() Action {
	f.received <- f.Message()
	return f.Exit()
}
