package executor

// StateFlowBase is the shared machinery every flow in this repository
// embeds: a current state, an allocation-result slot for
// AllocateAndCall/GetAllocationResult, a back-pointer to its executor, and
// a priority it is scheduled at. It corresponds to StateFlowBase in
// StateFlow.hxx, minus the message-queue fields (those live in
// QueueFlowBase, since not every flow owns an inbox — the CAN read flow,
// for instance, is driven by driver readiness rather than by messages).
type StateFlowBase struct {
	executor    *Executor
	state       State
	priority    uint
	allocResult any
	deleted     bool
}

// Init binds the flow to ex and sets its initial state. Every concrete
// flow constructor calls this once before starting the flow.
func (f *StateFlowBase) Init(ex *Executor, initial State) {
	f.executor = ex
	f.state = initial
	f.priority = DefaultPriority
}

// Executor returns the executor this flow runs on.
func (f *StateFlowBase) Executor() *Executor { return f.executor }

// SetPriority sets the priority this flow is scheduled at on its next
// Notify. Queue-bearing flows update this from the priority of the
// message they just dequeued.
func (f *StateFlowBase) SetPriority(p uint) { f.priority = p }

// Priority returns the flow's current scheduling priority.
func (f *StateFlowBase) Priority() uint { return f.priority }

// Notify schedules the flow to run on its executor. It is idempotent and
// safe to call from any context, including a driver's interrupt handler,
// matching the original's notify() contract.
func (f *StateFlowBase) Notify() {
	f.executor.Schedule(f, f.priority)
}

// StartFlow begins running the flow in state next by scheduling it on the
// executor, rather than running it inline on the caller's goroutine.
func (f *StateFlowBase) StartFlow(next State) {
	f.state = next
	f.Notify()
}

// Run pumps actions starting from the flow's current state until a Wait
// or Delete is reached. It is the method the executor invokes on a
// scheduled Runnable.
func (f *StateFlowBase) Run() {
	for {
		if f.deleted {
			return
		}
		a := f.state()
		switch a.kind {
		case kindAgain:
			continue
		case kindCallImmediately:
			f.state = a.state
			continue
		case kindWait:
			return
		case kindDelete:
			f.deleted = true
			return
		}
	}
}
