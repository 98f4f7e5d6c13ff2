package executor

import (
	"sync"
	"time"

	"github.com/kennethlong/openmrn/notify"
)

// Timer is the executor's notion of an "active timer" (§4.3): armed for a
// duration, it fires owner.Notify() once, either on expiry or when
// Trigger is called early. This mirrors StateFlowTimer from the original,
// whose timeout() calls parent_->notify(); here each Timer is simply
// backed by the runtime's own timer (time.AfterFunc), which is itself a
// production-grade timer wheel, rather than StateFlow.hxx's reinvented
// one. The teacher's eventloop package rolls its own container/heap timer
// wheel because its single goroutine must never let a timer callback run
// concurrently with loop code; that constraint doesn't apply here, since
// Notify is required to be safe from any context (including interrupt
// handlers) by §5, so letting the standard timer fire it from its own
// goroutine is a legitimate simplification, documented in DESIGN.md.
type Timer struct {
	mu      sync.Mutex
	owner   notify.Notifiable
	t       *time.Timer
	pending bool
}

// NewTimer constructs a Timer that notifies owner when it fires.
func NewTimer(owner notify.Notifiable) *Timer {
	return &Timer{owner: owner}
}

// Start arms (or re-arms) the timer for d.
func (tm *Timer) Start(d time.Duration) {
	tm.mu.Lock()
	if tm.t != nil {
		tm.t.Stop()
	}
	tm.pending = true
	tm.t = time.AfterFunc(d, tm.fire)
	tm.mu.Unlock()
}

func (tm *Timer) fire() {
	tm.mu.Lock()
	if !tm.pending {
		tm.mu.Unlock()
		return
	}
	tm.pending = false
	tm.mu.Unlock()
	tm.owner.Notify()
}

// Trigger fires the timer immediately, as the response listener does to
// wake a datagram client early on a matching reply (§4.7, §5). It is a
// no-op if the timer isn't currently armed.
func (tm *Timer) Trigger() {
	tm.mu.Lock()
	if tm.t != nil {
		tm.t.Stop()
	}
	wasPending := tm.pending
	tm.pending = false
	tm.mu.Unlock()
	if wasPending {
		tm.owner.Notify()
	}
}

// Stop disarms the timer without notifying.
func (tm *Timer) Stop() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.t != nil {
		tm.t.Stop()
	}
	tm.pending = false
}

// Pending reports whether the timer is currently armed.
func (tm *Timer) Pending() bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.pending
}
