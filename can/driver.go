package can

import (
	"errors"

	"github.com/kennethlong/openmrn/notify"
)

// ErrWouldBlock is returned by a non-blocking Driver when no frame is
// available to read, or no room is available to write, mirroring EAGAIN
// on the original's character device.
var ErrWouldBlock = errors.New("can: would block")

// Driver is the contract consumed from the (out of scope, per §1) CAN
// character-device driver: non-blocking read/write of whole frames, plus
// the ioctl-style one-shot readiness notifications described in §6.
//
// ReadFrame and WriteFrame never block; they return ErrWouldBlock when
// their direction isn't ready. RegisterReadableNotify and
// RegisterWriteableNotify arm a Notifiable that fires exactly once, the
// next time the respective direction becomes ready — mirroring
// CAN_IOC_READ_ACTIVE/CAN_IOC_WRITE_ACTIVE, which swap a single
// Notifiable* under a critical section and fire it once. At most one
// Notifiable is armed per direction at a time; arming a new one replaces
// any still pending.
type Driver interface {
	ReadFrame() (Frame, error)
	WriteFrame(Frame) error
	RegisterReadableNotify(n notify.Notifiable)
	RegisterWriteableNotify(n notify.Notifiable)
}
