package can

import (
	"errors"

	"github.com/kennethlong/openmrn/buf"
	"github.com/kennethlong/openmrn/dispatch"
	"github.com/kennethlong/openmrn/executor"
)

// ReadFlow reads frames from the driver and dispatches them through a
// CAN-ID-keyed dispatcher, the symmetric counterpart to WriteFlow (§4.6:
// "the read flow performs the symmetric operation on the rx side and
// dispatches through a CAN-ID-keyed dispatcher").
type ReadFlow struct {
	executor.StateFlowBase
	driver       Driver
	pool         *buf.Pool[Frame]
	dispatcher   *dispatch.Dispatcher[*buf.Buffer[Frame]]
	pendingFrame Frame
}

// FrameKey extracts the full 29-bit CAN-ID as the dispatcher key.
func FrameKey(b *buf.Buffer[Frame]) uint32 { return b.Data.ID }

// NewReadFlow constructs a ReadFlow bound to ex, reading from driver,
// allocating delivered buffers from pool, and dispatching them via
// dispatcher. Call Start to begin reading.
func NewReadFlow(ex *executor.Executor, driver Driver, pool *buf.Pool[Frame], dispatcher *dispatch.Dispatcher[*buf.Buffer[Frame]]) *ReadFlow {
	f := &ReadFlow{driver: driver, pool: pool, dispatcher: dispatcher}
	f.Init(ex, f.read)
	return f
}

// Start schedules the flow's first read, arming the driver's readable
// notification if nothing is pending yet.
func (f *ReadFlow) Start() {
	f.StartFlow(f.read)
}

func (f *ReadFlow) read() executor.Action {
	frame, err := f.driver.ReadFrame()
	if err != nil {
		if !errors.Is(err, ErrWouldBlock) {
			// Bus-level noise is expected; retry after the next readable
			// notification rather than treating it as fatal (§7).
		}
		f.driver.RegisterReadableNotify(f)
		return f.WaitAndCall(f.read)
	}
	f.pendingFrame = frame
	return executor.AllocateAndCall(&f.StateFlowBase, f.pool, f.dispatchFrame)
}

func (f *ReadFlow) dispatchFrame() executor.Action {
	b := executor.GetAllocationResult[Frame](&f.StateFlowBase)
	b.Data = f.pendingFrame
	f.dispatcher.Dispatch(b)
	b.Unref()
	return executor.CallImmediately(f.read)
}
