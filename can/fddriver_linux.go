//go:build linux

package can

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/kennethlong/openmrn/notify"
)

// wireFrameSize is the size of the on-the-wire layout of a Linux SocketCAN
// struct can_frame: a 4-byte little-endian ID, a 1-byte DLC, 3 pad bytes, then 8
// data bytes — 16 bytes total. FDDriver reads/writes whole records of
// this size, matching Can.cxx's "read/write in multiples of can_frame"
// contract.
const wireFrameSize = 16

// FDDriver is a reference Driver implementation over a non-blocking Linux
// file descriptor (a SocketCAN raw socket, bound by the caller, or any fd
// that speaks the same 16-byte can_frame records), using epoll for
// one-shot readiness notification.
//
// Grounded on poller_linux.go's FastPoller for epoll usage; adapted from
// its persistent per-FD callback registration to the driver's one-shot
// semantics (CAN_IOC_READ_ACTIVE/CAN_IOC_WRITE_ACTIVE each arm exactly one
// Notifiable, consumed on the next readiness event). Opening and binding
// the fd itself is the out-of-scope "board bring-up" concern (§1); this
// type only consumes an already-open, already-bound, non-blocking fd.
type FDDriver struct {
	fd   int
	epfd int

	mu         sync.Mutex
	readNotif  notify.Notifiable
	writeNotif notify.Notifiable
	closed     bool

	stop chan struct{}
	done chan struct{}
}

// NewFDDriver wraps fd (which must already be set non-blocking via
// unix.SetNonblock) as a Driver, and starts a background goroutine
// epoll_wait-ing on it to fire armed notifications.
func NewFDDriver(fd int) (*FDDriver, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLOUT, Fd: int32(fd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		_ = unix.Close(epfd)
		return nil, err
	}
	d := &FDDriver{
		fd:   fd,
		epfd: epfd,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go d.loop()
	return d, nil
}

func (d *FDDriver) loop() {
	defer close(d.done)
	var events [4]unix.EpollEvent
	for {
		select {
		case <-d.stop:
			return
		default:
		}
		n, err := unix.EpollWait(d.epfd, events[:], 250)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}
		for i := 0; i < n; i++ {
			d.fire(events[i].Events)
		}
	}
}

func (d *FDDriver) fire(mask uint32) {
	d.mu.Lock()
	var r, w notify.Notifiable
	if mask&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0 && d.readNotif != nil {
		r, d.readNotif = d.readNotif, nil
	}
	if mask&(unix.EPOLLOUT|unix.EPOLLHUP|unix.EPOLLERR) != 0 && d.writeNotif != nil {
		w, d.writeNotif = d.writeNotif, nil
	}
	d.mu.Unlock()
	if r != nil {
		r.Notify()
	}
	if w != nil {
		w.Notify()
	}
}

// ReadFrame implements Driver.
func (d *FDDriver) ReadFrame() (Frame, error) {
	var raw [wireFrameSize]byte
	n, err := unix.Read(d.fd, raw[:])
	if err != nil {
		if err == unix.EAGAIN {
			return Frame{}, ErrWouldBlock
		}
		return Frame{}, err
	}
	if n != wireFrameSize {
		return Frame{}, ErrWouldBlock
	}
	return unmarshalFrame(raw), nil
}

// WriteFrame implements Driver.
func (d *FDDriver) WriteFrame(f Frame) error {
	raw := marshalFrame(f)
	_, err := unix.Write(d.fd, raw[:])
	if err == unix.EAGAIN {
		return ErrWouldBlock
	}
	return err
}

// RegisterReadableNotify implements Driver.
func (d *FDDriver) RegisterReadableNotify(n notify.Notifiable) {
	d.mu.Lock()
	d.readNotif = n
	d.mu.Unlock()
}

// RegisterWriteableNotify implements Driver.
func (d *FDDriver) RegisterWriteableNotify(n notify.Notifiable) {
	d.mu.Lock()
	d.writeNotif = n
	d.mu.Unlock()
}

// Close stops the polling goroutine and closes the epoll fd. It does not
// close the underlying frame fd, which the caller owns.
func (d *FDDriver) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()
	close(d.stop)
	<-d.done
	return unix.Close(d.epfd)
}

func marshalFrame(f Frame) [wireFrameSize]byte {
	var raw [wireFrameSize]byte
	id := f.ID
	if f.Extended {
		id |= 1 << 31 // CAN_EFF_FLAG
	}
	raw[0] = byte(id)
	raw[1] = byte(id >> 8)
	raw[2] = byte(id >> 16)
	raw[3] = byte(id >> 24)
	raw[4] = f.DLC
	copy(raw[8:], f.Data[:])
	return raw
}

func unmarshalFrame(raw [wireFrameSize]byte) Frame {
	id := uint32(raw[0]) | uint32(raw[1])<<8 | uint32(raw[2])<<16 | uint32(raw[3])<<24
	ext := id&(1<<31) != 0
	id &^= 1 << 31
	var f Frame
	f.ID = id
	f.Extended = ext
	f.DLC = raw[4]
	copy(f.Data[:], raw[8:])
	return f
}
