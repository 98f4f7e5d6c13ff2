package nmranet

import (
	"time"

	"github.com/kennethlong/openmrn/executor"
)

// Reaper periodically evicts abandoned entries from a Parser's pending
// reassembly map (§9's open question on the original's unbounded
// pendingBuffers_: "a malicious or buggy peer can send a FIRST_FRAME and
// never follow up, leaking an entry forever"; this is the supplemented
// fix, §3). It runs as its own flow on the same executor as the Parser it
// watches, so its sweep never interleaves with Parser.classify (§5).
type Reaper struct {
	executor.StateFlowBase

	parser   *Parser
	interval time.Duration
	maxAge   time.Duration
	timer    *executor.Timer
}

// NewReaper constructs a Reaper for parser, sweeping every interval and
// evicting entries older than maxAge. It does not start until Start is
// called.
func NewReaper(ex *executor.Executor, parser *Parser, interval, maxAge time.Duration) *Reaper {
	r := &Reaper{parser: parser, interval: interval, maxAge: maxAge}
	r.timer = executor.NewTimer(r)
	r.Init(ex, r.sweep)
	return r
}

// Start begins the sweep loop. A no-op if interval <= 0 (§9: zero
// ReaperInterval disables the reaper).
func (r *Reaper) Start() {
	if r.interval <= 0 {
		return
	}
	r.StartFlow(r.sweep)
}

func (r *Reaper) sweep() executor.Action {
	r.parser.reapOlderThan(r.maxAge)
	return r.SleepAndCall(r.timer, r.interval, r.sweep)
}
