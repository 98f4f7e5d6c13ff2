package can

import (
	"sync"

	"github.com/kennethlong/openmrn/notify"
)

// MemDriver is an in-memory Driver: a bounded outbound FIFO and an
// unbounded inbound FIFO, with InjectFrame/TakeWritten standing in for the
// bus. It is the Driver used by this repository's tests (the flow and
// datagram client tests drive a MemDriver rather than real hardware; the
// parser tests hand frames to the Parser directly) and is
// a reasonable default on platforms with no native CAN character device.
type MemDriver struct {
	mu         sync.Mutex
	rx         []Frame
	tx         []Frame
	txCapacity int
	readNotif  notify.Notifiable
	writeNotif notify.Notifiable
}

// NewMemDriver constructs a MemDriver. txCapacity <= 0 means unbounded.
func NewMemDriver(txCapacity int) *MemDriver {
	return &MemDriver{txCapacity: txCapacity}
}

// ReadFrame implements Driver.
func (d *MemDriver) ReadFrame() (Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.rx) == 0 {
		return Frame{}, ErrWouldBlock
	}
	f := d.rx[0]
	d.rx = d.rx[1:]
	return f, nil
}

// WriteFrame implements Driver.
func (d *MemDriver) WriteFrame(f Frame) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.txCapacity > 0 && len(d.tx) >= d.txCapacity {
		return ErrWouldBlock
	}
	d.tx = append(d.tx, f)
	return nil
}

// RegisterReadableNotify implements Driver.
func (d *MemDriver) RegisterReadableNotify(n notify.Notifiable) {
	d.mu.Lock()
	if len(d.rx) > 0 {
		d.mu.Unlock()
		n.Notify()
		return
	}
	d.readNotif = n
	d.mu.Unlock()
}

// RegisterWriteableNotify implements Driver.
func (d *MemDriver) RegisterWriteableNotify(n notify.Notifiable) {
	d.mu.Lock()
	if d.txCapacity <= 0 || len(d.tx) < d.txCapacity {
		d.mu.Unlock()
		n.Notify()
		return
	}
	d.writeNotif = n
	d.mu.Unlock()
}

// InjectFrame simulates a frame arriving from the bus, firing the armed
// readable notification, if any.
func (d *MemDriver) InjectFrame(f Frame) {
	d.mu.Lock()
	d.rx = append(d.rx, f)
	n := d.readNotif
	d.readNotif = nil
	d.mu.Unlock()
	if n != nil {
		n.Notify()
	}
}

// TakeWritten drains and returns the frames written so far, in order, and
// fires the armed writable notification, if freeing capacity unblocked it.
func (d *MemDriver) TakeWritten() []Frame {
	d.mu.Lock()
	out := d.tx
	d.tx = nil
	n := d.writeNotif
	d.writeNotif = nil
	d.mu.Unlock()
	if n != nil {
		n.Notify()
	}
	return out
}
