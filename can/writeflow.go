package can

import (
	"errors"

	"github.com/kennethlong/openmrn/buf"
	"github.com/kennethlong/openmrn/executor"
)

// WriteFlow consumes Buffer[Frame] from its inbox and issues them to the
// driver with non-blocking writes; on ErrWouldBlock it arms a writable
// notification and waits for the driver to call back (§4.6).
type WriteFlow struct {
	executor.QueueFlowBase[*buf.Buffer[Frame]]
	driver Driver
}

// NewWriteFlow constructs a WriteFlow bound to ex and driver, with
// numBands inbox priority bands.
func NewWriteFlow(ex *executor.Executor, driver Driver, numBands int) *WriteFlow {
	f := &WriteFlow{driver: driver}
	f.Entry = f.write
	f.InitQueue(ex, numBands)
	return f
}

func (f *WriteFlow) write() executor.Action {
	msg := f.Message()
	err := f.driver.WriteFrame(msg.Data)
	if err == nil {
		return f.ReleaseAndExit()
	}
	if errors.Is(err, ErrWouldBlock) {
		f.driver.RegisterWriteableNotify(f)
		return f.WaitAndCall(f.write)
	}
	// An unexpected driver error has no retry path at this layer; drop the
	// frame rather than wedge the write flow.
	return f.ReleaseAndExit()
}
