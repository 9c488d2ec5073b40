package tracking

import "time"

// IdleTimeout is how long a page stays active without user input.
const IdleTimeout = 30 * time.Second

// ActivityState is the state of an ActivityTracker.
type ActivityState int

const (
	StateIdle ActivityState = iota
	StateActive
)

func (s ActivityState) String() string {
	if s == StateActive {
		return "active"
	}
	return "idle"
}

// ActivityTracker measures how long a visitor actively used one page load.
// It mirrors the collector script: user input or showing the page makes it
// active, hiding the page or a periodic check after IdleTimeout without input
// makes it idle. Times are Unix milliseconds. Not safe for concurrent use.
type ActivityTracker struct {
	idleTimeout int64
	state       ActivityState
	activeSince int64
	lastInput   int64
	total       int64
}

// NewActivityTracker starts a tracker in the active state at startMs.
func NewActivityTracker(startMs int64, idleTimeout time.Duration) *ActivityTracker {
	if idleTimeout <= 0 {
		idleTimeout = IdleTimeout
	}
	return &ActivityTracker{
		idleTimeout: idleTimeout.Milliseconds(),
		state:       StateActive,
		activeSince: startMs,
		lastInput:   startMs,
	}
}

func (a *ActivityTracker) State() ActivityState {
	return a.state
}

// Input records mouse, keyboard, scroll or touch activity.
func (a *ActivityTracker) Input(nowMs int64) {
	a.lastInput = nowMs
	a.activate(nowMs)
}

// Tick is the periodic idle check, run only while the page is visible.
func (a *ActivityTracker) Tick(nowMs int64) {
	if nowMs-a.lastInput > a.idleTimeout {
		a.deactivate(nowMs)
		return
	}
	a.activate(nowMs)
}

// Hide is called when the page becomes hidden.
func (a *ActivityTracker) Hide(nowMs int64) {
	a.deactivate(nowMs)
}

// Show is called when the page becomes visible again.
func (a *ActivityTracker) Show(nowMs int64) {
	a.lastInput = nowMs
	a.activate(nowMs)
}

// Total returns the accumulated active milliseconds up to nowMs.
func (a *ActivityTracker) Total(nowMs int64) int64 {
	if a.state == StateActive && nowMs > a.activeSince {
		return a.total + nowMs - a.activeSince
	}
	return a.total
}

// Exit stops tracking and returns the value sent as totalActiveTime.
func (a *ActivityTracker) Exit(nowMs int64) int64 {
	a.deactivate(nowMs)
	return a.total
}

func (a *ActivityTracker) activate(nowMs int64) {
	if a.state == StateActive {
		return
	}
	a.state = StateActive
	a.activeSince = nowMs
}

func (a *ActivityTracker) deactivate(nowMs int64) {
	if a.state != StateActive {
		return
	}
	if nowMs > a.activeSince {
		a.total += nowMs - a.activeSince
	}
	a.state = StateIdle
}
