// Package notify defines the single wakeup abstraction shared by every
// layer of the core: pools, queues, timers, and the CAN driver contract all
// signal readiness through it. A Notifiable is armed for exactly one future
// event and fires at most once; implementations must be safe to call from
// an interrupt handler or any other goroutine, since the executor is the
// only context permitted to run flow code but not the only context
// permitted to wake it.
package notify

// Notifiable is a single-shot wakeup callback.
type Notifiable interface {
	Notify()
}

// Func adapts a plain function to Notifiable.
type Func func()

// Notify implements Notifiable.
func (f Func) Notify() {
	if f != nil {
		f()
	}
}
